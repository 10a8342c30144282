package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	"github.com/ludo-technologies/connscan/domain"
)

// Event is a raw, undebounced change notification for one path
type Event struct {
	Path string
	Kind domain.ChangeKind
	Time time.Time
}

// Watcher observes a set of directory trees and reports file events that
// pass its Filter. Directories created while running are registered too.
type Watcher struct {
	filter *Filter
	logger logr.Logger
	now    func() time.Time

	mu   sync.Mutex
	fsw  *fsnotify.Watcher
	dirs map[string]struct{}
}

// New creates a watcher over the filter's roots
func New(filter *Filter, logger logr.Logger) *Watcher {
	return &Watcher{
		filter: filter,
		logger: logger.WithName("watcher"),
		now:    time.Now,
		dirs:   make(map[string]struct{}),
	}
}

// Run registers every root and delivers events to sink until ctx is done.
// sink is called from the Run goroutine and must not block for long.
func (w *Watcher) Run(ctx context.Context, sink func(Event)) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	w.mu.Lock()
	w.fsw = fsw
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.fsw = nil
		w.dirs = make(map[string]struct{})
		w.mu.Unlock()
	}()

	for _, root := range w.filter.Roots() {
		if err := w.addTree(root, nil); err != nil {
			return err
		}
	}
	w.logger.V(1).Info("watching", "roots", w.filter.Roots(), "directories", w.WatchedDirs())

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev, sink)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error(err, "watch error")
		}
	}
}

// WatchedDirs returns the number of registered directories
func (w *Watcher) WatchedDirs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// Directories returns the registered directories, sorted
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.dirs))
	for d := range w.dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) handle(ev fsnotify.Event, sink func(Event)) {
	path := filepath.Clean(ev.Name)

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			// files written before the directory was registered would be missed
			if err := w.addTree(path, sink); err != nil {
				w.logger.V(1).Info("cannot watch directory", "path", path, "error", err.Error())
			}
			return
		}
	}

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		if w.forgetDir(path) {
			return
		}
	}

	kind, ok := changeKind(ev.Op)
	if !ok || !w.filter.Match(path) {
		return
	}
	w.logger.V(2).Info("event", "path", path, "kind", kind)
	sink(Event{Path: path, Kind: kind, Time: w.now()})
}

func changeKind(op fsnotify.Op) (domain.ChangeKind, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return domain.ChangeCreated, true
	case op.Has(fsnotify.Write):
		return domain.ChangeModified, true
	case op.Has(fsnotify.Remove):
		return domain.ChangeDeleted, true
	case op.Has(fsnotify.Rename):
		return domain.ChangeMoved, true
	default:
		return "", false
	}
}

// addTree registers root and every non-excluded directory below it. When
// sink is set, existing matching files are reported as created.
func (w *Watcher) addTree(root string, sink func(Event)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != root && w.filter.SkipDir(path) {
				return filepath.SkipDir
			}
			return w.addDir(path)
		}
		if sink != nil && w.filter.Match(path) {
			sink(Event{Path: path, Kind: domain.ChangeCreated, Time: w.now()})
		}
		return nil
	})
}

func (w *Watcher) addDir(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return nil
	}
	if _, ok := w.dirs[path]; ok {
		return nil
	}
	if err := w.fsw.Add(path); err != nil {
		return err
	}
	w.dirs[path] = struct{}{}
	return nil
}

func (w *Watcher) forgetDir(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.dirs[path]; !ok {
		return false
	}
	delete(w.dirs, path)
	prefix := path + string(filepath.Separator)
	for d := range w.dirs {
		if len(d) > len(prefix) && d[:len(prefix)] == prefix {
			delete(w.dirs, d)
		}
	}
	return true
}
