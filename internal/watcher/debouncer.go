package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	gocache "github.com/patrickmn/go-cache"

	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/internal/cache"
)

const (
	// DefaultDebounceWindow is the quiet period a path must see before it is flushed
	DefaultDebounceWindow = 500 * time.Millisecond

	// DefaultHashMemory is how long the last emitted hash of a path is remembered
	DefaultHashMemory = time.Hour

	minTick = 10 * time.Millisecond
	maxTick = 100 * time.Millisecond
)

// Stats counts what the debouncer has seen
type Stats struct {
	EventsReceived     int64
	EventsCoalesced    int64
	UnchangedDropped   int64
	ReadFailures       int64
	BatchesEmitted     int64
	WatchedDirectories int
}

type pending struct {
	kind     domain.ChangeKind
	first    time.Time
	deadline time.Time
}

// Debouncer coalesces raw events per path into one FileChange per quiet
// window. All pending paths live in one deadline map drained by a single
// ticker.
type Debouncer struct {
	window time.Duration
	now    func() time.Time
	read   func(string) ([]byte, error)
	logger logr.Logger
	hashes *gocache.Cache

	mu      sync.Mutex
	pending map[string]*pending

	received  atomic.Int64
	coalesced atomic.Int64
	unchanged atomic.Int64
	failures  atomic.Int64
	batches   atomic.Int64
}

// DebounceOption configures a Debouncer
type DebounceOption func(*Debouncer)

// WithDebounceClock overrides the time source
func WithDebounceClock(now func() time.Time) DebounceOption {
	return func(d *Debouncer) { d.now = now }
}

// WithDebounceReader overrides how file content is read at flush time
func WithDebounceReader(read func(string) ([]byte, error)) DebounceOption {
	return func(d *Debouncer) { d.read = read }
}

// WithDebounceLogger sets the logger
func WithDebounceLogger(logger logr.Logger) DebounceOption {
	return func(d *Debouncer) { d.logger = logger.WithName("debouncer") }
}

// WithHashMemory sets how long last-emitted hashes are kept
func WithHashMemory(ttl time.Duration) DebounceOption {
	return func(d *Debouncer) { d.hashes = gocache.New(ttl, ttl) }
}

// NewDebouncer creates a debouncer. A negative window is treated as zero.
func NewDebouncer(window time.Duration, opts ...DebounceOption) *Debouncer {
	if window < 0 {
		window = 0
	}
	d := &Debouncer{
		window:  window,
		now:     time.Now,
		read:    os.ReadFile,
		logger:  logr.Discard(),
		hashes:  gocache.New(DefaultHashMemory, DefaultHashMemory),
		pending: make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Window returns the quiet period
func (d *Debouncer) Window() time.Duration { return d.window }

// Add records a raw event. Repeated events for a path push its deadline out.
func (d *Debouncer) Add(ev Event) {
	d.received.Add(1)
	at := ev.Time
	if at.IsZero() {
		at = d.now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[ev.Path]
	if !ok {
		d.pending[ev.Path] = &pending{kind: ev.Kind, first: at, deadline: at.Add(d.window)}
		return
	}
	d.coalesced.Add(1)
	p.kind = mergeKind(p.kind, ev.Kind)
	p.deadline = at.Add(d.window)
}

// mergeKind folds a newer event kind into a pending one
func mergeKind(prev, next domain.ChangeKind) domain.ChangeKind {
	switch {
	case prev == domain.ChangeCreated && next == domain.ChangeModified:
		return domain.ChangeCreated
	case prev == domain.ChangeDeleted && next == domain.ChangeCreated:
		return domain.ChangeModified
	default:
		return next
	}
}

// Remember records hash as the last known content of path, so an identical
// modification is dropped. Used to seed the debouncer after a full scan.
func (d *Debouncer) Remember(path, hash string) {
	if hash == "" {
		d.hashes.Delete(path)
		return
	}
	d.hashes.Set(path, hash, gocache.DefaultExpiration)
}

// Pending returns the number of paths waiting for their quiet period
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush pops every path whose deadline is at or before now and turns it
// into a FileChange. Files are read and hashed outside the lock.
func (d *Debouncer) Flush(now time.Time) []domain.FileChange {
	d.mu.Lock()
	due := make(map[string]*pending)
	for path, p := range d.pending {
		if !p.deadline.After(now) {
			due[path] = p
			delete(d.pending, path)
		}
	}
	d.mu.Unlock()

	if len(due) == 0 {
		return nil
	}

	paths := make([]string, 0, len(due))
	for path := range due {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	changes := make([]domain.FileChange, 0, len(paths))
	for _, path := range paths {
		if change, ok := d.resolve(path, due[path].kind, now); ok {
			changes = append(changes, change)
		}
	}
	return changes
}

func (d *Debouncer) resolve(path string, kind domain.ChangeKind, now time.Time) (domain.FileChange, bool) {
	previous := d.lastHash(path)

	content, err := d.read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.failures.Add(1)
			d.logger.V(1).Info("cannot read changed file", "path", path, "error", err.Error())
			return domain.FileChange{}, false
		}
		d.hashes.Delete(path)
		return domain.FileChange{
			Path:         path,
			Kind:         domain.ChangeDeleted,
			Timestamp:    now,
			PreviousHash: previous,
		}, true
	}

	hash := cache.HashContent(content)
	if kind == domain.ChangeDeleted {
		// deleted then recreated inside one window
		kind = domain.ChangeModified
	}
	if previous != "" && previous == hash {
		d.unchanged.Add(1)
		d.logger.V(2).Info("unchanged content dropped", "path", path)
		return domain.FileChange{}, false
	}
	d.hashes.Set(path, hash, gocache.DefaultExpiration)

	return domain.FileChange{
		Path:         path,
		Kind:         kind,
		Timestamp:    now,
		ContentHash:  hash,
		PreviousHash: previous,
		Size:         int64(len(content)),
	}, true
}

func (d *Debouncer) lastHash(path string) string {
	v, ok := d.hashes.Get(path)
	if !ok {
		return ""
	}
	h, _ := v.(string)
	return h
}

// Run flushes due paths on a ticker and hands each non-empty batch to emit
// until ctx is done.
func (d *Debouncer) Run(ctx context.Context, emit func([]domain.FileChange)) error {
	ticker := time.NewTicker(tickInterval(d.window))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			batch := d.Flush(d.now())
			if len(batch) == 0 {
				continue
			}
			d.batches.Add(1)
			d.logger.V(1).Info("flush", "changes", len(batch))
			emit(batch)
		}
	}
}

func tickInterval(window time.Duration) time.Duration {
	tick := window / 5
	if tick < minTick {
		return minTick
	}
	if tick > maxTick {
		return maxTick
	}
	return tick
}

// Stats returns the debouncer counters
func (d *Debouncer) Stats() Stats {
	return Stats{
		EventsReceived:   d.received.Load(),
		EventsCoalesced:  d.coalesced.Load(),
		UnchangedDropped: d.unchanged.Load(),
		ReadFailures:     d.failures.Load(),
		BatchesEmitted:   d.batches.Load(),
	}
}
