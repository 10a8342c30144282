package watcher

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ludo-technologies/connscan/domain"
)

// Source couples a Watcher with a Debouncer and produces debounced batches
type Source struct {
	watcher   *Watcher
	debouncer *Debouncer
}

// NewSource creates a change source
func NewSource(w *Watcher, d *Debouncer) *Source {
	return &Source{watcher: w, debouncer: d}
}

// Run watches and debounces until ctx is done or the watcher fails
func (s *Source) Run(ctx context.Context, emit func([]domain.FileChange)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.watcher.Run(gctx, s.debouncer.Add)
	})
	g.Go(func() error {
		return s.debouncer.Run(gctx, emit)
	})
	return g.Wait()
}

// Debouncer returns the source's debouncer
func (s *Source) Debouncer() *Debouncer { return s.debouncer }

// Stats merges debouncer counters with the watched directory count
func (s *Source) Stats() Stats {
	st := s.debouncer.Stats()
	st.WatchedDirectories = s.watcher.WatchedDirs()
	return st
}
