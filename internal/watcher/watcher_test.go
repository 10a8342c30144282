package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"

	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/internal/cache"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestFilter_Match(t *testing.T) {
	root := t.TempDir()
	f, err := NewFilter([]string{root}, nil, []string{".git/", "__pycache__/", "venv/", "*_test.py"})
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"top level python", "app.py", true},
		{"nested python", "pkg/sub/mod.py", true},
		{"non python", "README.md", false},
		{"excluded dir", "venv/lib/site.py", false},
		{"excluded cache", "pkg/__pycache__/mod.py", false},
		{"excluded pattern", "pkg/thing_test.py", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Match(filepath.Join(root, tt.path)); got != tt.want {
				t.Errorf("Match(%s) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}

	if f.Match(filepath.Join(filepath.Dir(root), "outside.py")) {
		t.Error("Expected paths outside every root to be rejected")
	}
}

func TestFilter_SkipDir(t *testing.T) {
	root := t.TempDir()
	f, err := NewFilter([]string{root}, nil, []string{"node_modules/", ".git/"})
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}

	if f.SkipDir(root) {
		t.Error("root must never be skipped")
	}
	if !f.SkipDir(filepath.Join(root, "node_modules")) {
		t.Error("Expected node_modules to be skipped")
	}
	if !f.SkipDir(filepath.Join(root, "web", "node_modules")) {
		t.Error("Expected nested node_modules to be skipped")
	}
	if f.SkipDir(filepath.Join(root, "src")) {
		t.Error("Expected src to be descended into")
	}
}

func TestFilter_Gitignore(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, ".gitignore"), "generated/\nscratch.py\n")

	f, err := NewFilter([]string{root}, []string{"*.py"}, nil)
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	if err := f.LoadGitignores(); err != nil {
		t.Fatalf("LoadGitignores: %v", err)
	}

	if f.Match(filepath.Join(root, "scratch.py")) {
		t.Error("Expected gitignored file to be rejected")
	}
	if !f.SkipDir(filepath.Join(root, "generated")) {
		t.Error("Expected gitignored directory to be skipped")
	}
	if !f.Match(filepath.Join(root, "main.py")) {
		t.Error("Expected main.py to match")
	}
}

func TestMergeKind(t *testing.T) {
	tests := []struct {
		prev, next, want domain.ChangeKind
	}{
		{domain.ChangeCreated, domain.ChangeModified, domain.ChangeCreated},
		{domain.ChangeDeleted, domain.ChangeCreated, domain.ChangeModified},
		{domain.ChangeModified, domain.ChangeDeleted, domain.ChangeDeleted},
		{domain.ChangeModified, domain.ChangeModified, domain.ChangeModified},
		{domain.ChangeCreated, domain.ChangeMoved, domain.ChangeMoved},
	}
	for _, tt := range tests {
		if got := mergeKind(tt.prev, tt.next); got != tt.want {
			t.Errorf("mergeKind(%s, %s) = %s, want %s", tt.prev, tt.next, got, tt.want)
		}
	}
}

func TestDebouncer_ThreeEditsCollapseToFinalHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.py")
	clock := &manualClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	d := NewDebouncer(500*time.Millisecond, WithDebounceClock(clock.Now))

	for i, content := range []string{"a = 1\n", "a = 2\n", "a = 3\n"} {
		if i > 0 {
			clock.Advance(100 * time.Millisecond)
		}
		mustWrite(t, path, content)
		d.Add(Event{Path: path, Kind: domain.ChangeModified, Time: clock.Now()})
	}

	clock.Advance(300 * time.Millisecond)
	if got := d.Flush(clock.Now()); len(got) != 0 {
		t.Fatalf("Expected nothing before the quiet period ends, got %v", got)
	}

	clock.Advance(300 * time.Millisecond)
	got := d.Flush(clock.Now())
	if len(got) != 1 {
		t.Fatalf("Expected exactly one change, got %d", len(got))
	}
	if got[0].Path != path || got[0].Kind != domain.ChangeModified {
		t.Errorf("Unexpected change %+v", got[0])
	}
	if want := cache.HashContent([]byte("a = 3\n")); got[0].ContentHash != want {
		t.Errorf("ContentHash = %s, want hash of final content %s", got[0].ContentHash, want)
	}

	stats := d.Stats()
	if stats.EventsReceived != 3 || stats.EventsCoalesced != 2 {
		t.Errorf("Expected 3 received / 2 coalesced, got %+v", stats)
	}
	if d.Pending() != 0 {
		t.Errorf("Expected no pending paths, got %d", d.Pending())
	}
}

func TestDebouncer_DropsUnchangedModification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "same.py")
	mustWrite(t, path, "x = 1\n")

	clock := &manualClock{now: time.Unix(1000, 0)}
	d := NewDebouncer(0, WithDebounceClock(clock.Now))
	d.Remember(path, cache.HashContent([]byte("x = 1\n")))

	d.Add(Event{Path: path, Kind: domain.ChangeModified, Time: clock.Now()})
	if got := d.Flush(clock.Now()); len(got) != 0 {
		t.Fatalf("Expected no-op save to be dropped, got %v", got)
	}
	if d.Stats().UnchangedDropped != 1 {
		t.Errorf("Expected 1 unchanged drop, got %d", d.Stats().UnchangedDropped)
	}

	mustWrite(t, path, "x = 2\n")
	d.Add(Event{Path: path, Kind: domain.ChangeModified, Time: clock.Now()})
	got := d.Flush(clock.Now())
	if len(got) != 1 {
		t.Fatalf("Expected the real edit to be emitted, got %v", got)
	}
	if got[0].PreviousHash != cache.HashContent([]byte("x = 1\n")) {
		t.Errorf("Expected PreviousHash of the remembered content, got %s", got[0].PreviousHash)
	}
}

func TestDebouncer_MissingFileBecomesDeleted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.py")
	clock := &manualClock{now: time.Unix(1000, 0)}
	d := NewDebouncer(0, WithDebounceClock(clock.Now))
	d.Remember(path, "abc")

	d.Add(Event{Path: path, Kind: domain.ChangeModified, Time: clock.Now()})
	got := d.Flush(clock.Now())
	if len(got) != 1 || got[0].Kind != domain.ChangeDeleted {
		t.Fatalf("Expected one deleted change, got %v", got)
	}
	if got[0].PreviousHash != "abc" || got[0].ContentHash != "" {
		t.Errorf("Unexpected hashes on deletion: %+v", got[0])
	}
}

func TestDebouncer_ReadFailureIsSkipped(t *testing.T) {
	clock := &manualClock{now: time.Unix(1000, 0)}
	d := NewDebouncer(0,
		WithDebounceClock(clock.Now),
		WithDebounceReader(func(string) ([]byte, error) { return nil, errors.New("permission denied") }),
	)

	d.Add(Event{Path: "/locked.py", Kind: domain.ChangeModified, Time: clock.Now()})
	if got := d.Flush(clock.Now()); len(got) != 0 {
		t.Fatalf("Expected unreadable file to be skipped, got %v", got)
	}
	if d.Stats().ReadFailures != 1 {
		t.Errorf("Expected 1 read failure, got %d", d.Stats().ReadFailures)
	}
}

func TestDebouncer_RunEmitsOneBatchInRealTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.py")
	d := NewDebouncer(500 * time.Millisecond)

	batches := make(chan []domain.FileChange, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, func(b []domain.FileChange) { batches <- b }) }()

	for _, content := range []string{"v = 1\n", "v = 2\n", "v = 3\n"} {
		mustWrite(t, path, content)
		d.Add(Event{Path: path, Kind: domain.ChangeModified})
		time.Sleep(100 * time.Millisecond)
	}

	var got []domain.FileChange
	select {
	case got = <-batches:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the debounced batch")
	}
	if len(got) != 1 || got[0].ContentHash != cache.HashContent([]byte("v = 3\n")) {
		t.Fatalf("Expected one change with the final hash, got %v", got)
	}

	select {
	case extra := <-batches:
		t.Fatalf("Expected exactly one batch, got another: %v", extra)
	case <-time.After(700 * time.Millisecond):
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestTickInterval(t *testing.T) {
	tests := []struct {
		window time.Duration
		want   time.Duration
	}{
		{0, minTick},
		{20 * time.Millisecond, minTick},
		{250 * time.Millisecond, 50 * time.Millisecond},
		{5 * time.Second, maxTick},
	}
	for _, tt := range tests {
		if got := tickInterval(tt.window); got != tt.want {
			t.Errorf("tickInterval(%v) = %v, want %v", tt.window, got, tt.want)
		}
	}
}

func TestSource_WatchesFilesystem(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "pkg", "x.py")
	mustWrite(t, target, "x = 0\n")
	mustWrite(t, filepath.Join(root, "notes.txt"), "ignored\n")

	filter, err := NewFilter([]string{root}, nil, nil)
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	w := New(filter, testr.New(t))
	src := NewSource(w, NewDebouncer(200*time.Millisecond))

	var mu sync.Mutex
	var changes []domain.FileChange
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- src.Run(ctx, func(b []domain.FileChange) {
			mu.Lock()
			changes = append(changes, b...)
			mu.Unlock()
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for w.WatchedDirs() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("watcher never registered the tree")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mustWrite(t, target, "x = 1\n")
	mustWrite(t, filepath.Join(root, "notes.txt"), "still ignored\n")

	deadline = time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(changes)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for a change")
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	got := append([]domain.FileChange(nil), changes...)
	mu.Unlock()
	for _, c := range got {
		if c.Path != target {
			t.Errorf("Unexpected change for %s", c.Path)
		}
	}
	if last := got[len(got)-1]; last.ContentHash != cache.HashContent([]byte("x = 1\n")) {
		t.Errorf("Expected the final content hash, got %s", last.ContentHash)
	}
	if src.Stats().WatchedDirectories != 2 {
		t.Errorf("Expected 2 watched directories, got %d", src.Stats().WatchedDirectories)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}
