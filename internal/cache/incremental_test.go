package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/ludo-technologies/connscan/domain"
	"github.com/ludo-technologies/connscan/internal/testutil"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestIncrementalCache(t *testing.T, mutate func(*IncrementalConfig), opts ...IncrementalOption) *IncrementalCache {
	t.Helper()
	cfg := DefaultIncrementalConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewIncrementalCache(cfg, opts...)
	testutil.AssertNoError(t, err)
	return c
}

func TestIncrementalConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*IncrementalConfig)
		wantErr bool
	}{
		{"defaults", func(c *IncrementalConfig) {}, false},
		{"partial results too small", func(c *IncrementalConfig) { c.MaxPartialResults = 99 }, true},
		{"partial results too large", func(c *IncrementalConfig) { c.MaxPartialResults = 100001 }, true},
		{"dependency nodes too small", func(c *IncrementalConfig) { c.MaxDependencyNodes = 10 }, true},
		{"retention too short", func(c *IncrementalConfig) { c.RetentionHours = 0.05 }, true},
		{"retention too long", func(c *IncrementalConfig) { c.RetentionHours = 169 }, true},
		{"retention lower bound", func(c *IncrementalConfig) { c.RetentionHours = 0.1 }, false},
		{"history too small", func(c *IncrementalConfig) { c.MaxDeltaHistory = 5 }, true},
		{"history upper bound", func(c *IncrementalConfig) { c.MaxDeltaHistory = 10000 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultIncrementalConfig()
			tt.mutate(&cfg)
			_, err := NewIncrementalCache(cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !domain.IsErrorCode(err, domain.ErrCodeConfigError) {
				t.Errorf("Expected CONFIG_ERROR, got %v", err)
			}
		})
	}
}

func TestTrackChange_IdempotentForIdenticalContent(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "mod.py", "x = 1\n")

	c := newTestIncrementalCache(t, nil)

	first := c.TrackChange(path, nil)
	if first == nil {
		t.Fatal("Expected a delta on first sighting")
	}
	testutil.AssertEqual(t, domain.DeltaCreated, first.Kind)
	testutil.AssertEqual(t, 1, first.LinesAdded)

	if second := c.TrackChange(path, nil); second != nil {
		t.Errorf("Expected no delta for unchanged content, got %+v", second)
	}
	if c.Stats().UnchangedTransition != 1 {
		t.Errorf("Expected 1 unchanged transition, got %d", c.Stats().UnchangedTransition)
	}
}

func TestTrackChangeTrusted_Transitions(t *testing.T) {
	c := newTestIncrementalCache(t, nil)
	v1 := []byte("a = 1\nb = 2\n")
	v2 := []byte("a = 1\nb = 3\nc = 4\n")

	created := c.TrackChangeTrusted("m.py", nil, v1)
	if created == nil || created.Kind != domain.DeltaCreated {
		t.Fatalf("Expected created delta, got %+v", created)
	}
	if created.OldHash != "" || created.NewHash != HashContent(v1) {
		t.Errorf("Unexpected hashes on create: %+v", created)
	}

	if d := c.TrackChangeTrusted("m.py", nil, v1); d != nil {
		t.Errorf("Expected nil for identical content, got %+v", d)
	}

	modified := c.TrackChangeTrusted("m.py", v1, v2)
	if modified == nil || modified.Kind != domain.DeltaModified {
		t.Fatalf("Expected modified delta, got %+v", modified)
	}
	if modified.OldHash != HashContent(v1) || modified.NewHash != HashContent(v2) {
		t.Errorf("Unexpected hashes on modify: %+v", modified)
	}
	if modified.LinesAdded != 2 || modified.LinesRemoved != 1 {
		t.Errorf("Expected +2/-1 lines, got +%d/-%d", modified.LinesAdded, modified.LinesRemoved)
	}
	if modified.SizeBefore != int64(len(v1)) || modified.SizeAfter != int64(len(v2)) {
		t.Errorf("Unexpected sizes: %d -> %d", modified.SizeBefore, modified.SizeAfter)
	}

	deleted := c.TrackChangeTrusted("m.py", v2, nil)
	if deleted == nil || deleted.Kind != domain.DeltaDeleted {
		t.Fatalf("Expected deleted delta, got %+v", deleted)
	}
	if deleted.NewHash != "" {
		t.Errorf("Deleted delta should have no new hash, got %s", deleted.NewHash)
	}
	if deleted.LinesRemoved != 3 {
		t.Errorf("Expected 3 lines removed, got %d", deleted.LinesRemoved)
	}
	if _, ok := c.CurrentHash("m.py"); ok {
		t.Error("Hash should be forgotten after delete")
	}

	if d := c.TrackChangeTrusted("never-seen.py", nil, nil); d != nil {
		t.Errorf("Deleting an unknown file should yield no delta, got %+v", d)
	}
	if d := c.TrackChangeTrusted("", nil, v1); d != nil {
		t.Error("Empty path should yield no delta")
	}
}

func TestTrackChange_MissingFileIsDeletion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.py")
	if err := os.WriteFile(path, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := newTestIncrementalCache(t, nil)
	if d := c.TrackChange(path, nil); d == nil {
		t.Fatal("Expected created delta")
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	d := c.TrackChange(path, nil)
	if d == nil || d.Kind != domain.DeltaDeleted {
		t.Fatalf("Expected deleted delta, got %+v", d)
	}
}

func TestTrackChange_DiskTruthIgnoresStaleCaller(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "truth.py")
	if err := os.WriteFile(path, []byte("v = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := newTestIncrementalCache(t, nil)
	c.TrackChangeTrusted(path, nil, []byte("v = 0\n"))

	d := c.TrackChange(path, nil)
	if d == nil || d.Kind != domain.DeltaModified {
		t.Fatalf("Expected disk content to register as modified, got %+v", d)
	}
	if d.NewHash != HashContent([]byte("v = 1\n")) {
		t.Errorf("Expected the on-disk hash, got %s", d.NewHash)
	}
}

func TestTrackChange_ReadFailureIsNoResult(t *testing.T) {
	c := newTestIncrementalCache(t, nil, WithFileReader(func(string) ([]byte, error) {
		return nil, os.ErrPermission
	}))

	if d := c.TrackChange("locked.py", nil); d != nil {
		t.Errorf("Expected no delta, got %+v", d)
	}
	if c.Stats().ReadFailures != 1 {
		t.Errorf("Expected 1 read failure, got %d", c.Stats().ReadFailures)
	}
}

func TestInvalidateCascade_Diamond(t *testing.T) {
	c := newTestIncrementalCache(t, nil)

	// B and C depend on A; D depends on B and C; E is unrelated.
	c.StorePartialResult("A", KindViolations, 0, "ha", nil, nil)
	c.StorePartialResult("B", KindViolations, 0, "hb", []string{"A"}, nil)
	c.StorePartialResult("C", KindViolations, 0, "hc", []string{"A"}, nil)
	c.StorePartialResult("D", KindViolations, 0, "hd", []string{"B", "C"}, nil)
	c.StorePartialResult("E", KindViolations, 0, "he", nil, nil)
	c.StorePartialResult("D", "metrics", 0, "hd", []string{"B", "C"}, nil)

	visited := c.InvalidateCascade("A")
	sort.Strings(visited)
	want := []string{"A", "B", "C", "D"}
	if fmt.Sprint(visited) != fmt.Sprint(want) {
		t.Fatalf("Expected %v invalidated, got %v", want, visited)
	}

	for _, p := range want {
		if _, ok := c.GetPartialResult(p, KindViolations, ""); ok {
			t.Errorf("%s should have been invalidated", p)
		}
	}
	if _, ok := c.GetPartialResult("D", "metrics", ""); ok {
		t.Error("All kinds of D should have been invalidated")
	}
	if _, ok := c.GetPartialResult("E", KindViolations, "he"); !ok {
		t.Error("E should be untouched")
	}
	if got := c.Stats().Invalidations; got != 5 {
		t.Errorf("Expected 5 invalidated results, got %d", got)
	}
}

func TestInvalidateCascade_CycleTerminates(t *testing.T) {
	c := newTestIncrementalCache(t, nil)
	c.UpdateDependencies("A", []string{"C"})
	c.UpdateDependencies("B", []string{"A"})
	c.UpdateDependencies("C", []string{"B"})

	visited := c.InvalidateCascade("A")
	if len(visited) != 3 {
		t.Errorf("Expected each node once, got %v", visited)
	}
}

func TestTrackChange_CascadesAndNotifiesHook(t *testing.T) {
	var gotOrigin string
	var gotPaths []string
	c := newTestIncrementalCache(t, nil, WithInvalidationHook(func(origin string, paths []string) {
		gotOrigin = origin
		gotPaths = paths
	}))

	c.TrackChangeTrusted("lib.py", nil, []byte("v = 1\n"))
	c.StorePartialResult("lib.py", KindViolations, 0, HashContent([]byte("v = 1\n")), nil, nil)
	c.StorePartialResult("app.py", KindViolations, 0, "happ", []string{"lib.py"}, nil)

	c.TrackChangeTrusted("lib.py", nil, []byte("v = 2\n"))

	if gotOrigin != "lib.py" {
		t.Errorf("Expected origin lib.py, got %q", gotOrigin)
	}
	if fmt.Sprint(gotPaths) != "[lib.py app.py]" {
		t.Errorf("Expected [lib.py app.py], got %v", gotPaths)
	}
	if _, ok := c.GetPartialResult("app.py", KindViolations, ""); ok {
		t.Error("Dependent result should be invalidated by the change")
	}
}

func TestDependencyGraph_SymmetricUpdates(t *testing.T) {
	c := newTestIncrementalCache(t, nil)

	c.UpdateDependencies("app", []string{"lib", "util"})
	if fmt.Sprint(c.Dependents("lib")) != "[app]" || fmt.Sprint(c.Dependents("util")) != "[app]" {
		t.Fatalf("Expected app as dependent of lib and util")
	}

	c.UpdateDependencies("app", []string{"util", "app"})
	if deps := c.Dependents("lib"); len(deps) != 0 {
		t.Errorf("Undeclared edge should be removed from lib, got %v", deps)
	}
	if fmt.Sprint(c.Dependencies("app")) != "[util]" {
		t.Errorf("Expected [util] without self edge, got %v", c.Dependencies("app"))
	}

	c.RemoveFile("util")
	if deps := c.Dependencies("app"); len(deps) != 0 {
		t.Errorf("Removing util should drop the edge from app, got %v", deps)
	}
	if _, ok := c.Node("util"); ok {
		t.Error("util node should be removed")
	}
}

func TestGetPartialResult_HashMismatchAndExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := newTestIncrementalCache(t, func(cfg *IncrementalConfig) { cfg.RetentionHours = 1 },
		WithIncrementalClock(clock.Now))

	c.StorePartialResult("f.py", KindViolations, []string{"v"}, "h1", nil, map[string]string{"k": "v"})

	p, ok := c.GetPartialResult("f.py", KindViolations, "h1")
	if !ok {
		t.Fatal("Expected hit for matching hash")
	}
	if p.Metadata["k"] != "v" {
		t.Errorf("Expected metadata to be kept, got %v", p.Metadata)
	}
	if _, ok := c.GetPartialResult("f.py", KindViolations, ""); !ok {
		t.Error("Empty hash should skip the comparison")
	}

	if _, ok := c.GetPartialResult("f.py", KindViolations, "h2"); ok {
		t.Error("Expected miss for mismatched hash")
	}
	if _, ok := c.GetPartialResult("f.py", KindViolations, "h1"); ok {
		t.Error("Mismatched entry should have been evicted")
	}

	c.StorePartialResult("g.py", KindViolations, nil, "hg", nil, nil)
	clock.Advance(61 * time.Minute)
	if _, ok := c.GetPartialResult("g.py", KindViolations, "hg"); ok {
		t.Error("Expected miss past the retention window")
	}
	if c.Stats().PartialResults != 0 {
		t.Errorf("Expected the expired entry to be evicted, got %d", c.Stats().PartialResults)
	}
}

func TestStorePartialResult_EvictsOldestFifth(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := newTestIncrementalCache(t, func(cfg *IncrementalConfig) { cfg.MaxPartialResults = 100 },
		WithIncrementalClock(clock.Now))

	for i := 0; i < 100; i++ {
		clock.Advance(time.Second)
		c.StorePartialResult(fmt.Sprintf("f%03d", i), KindViolations, i, "h", nil, nil)
	}
	clock.Advance(time.Second)
	c.StorePartialResult("new", KindViolations, 0, "h", nil, nil)

	stats := c.Stats()
	if stats.PartialResults != 81 {
		t.Errorf("Expected 81 results after evicting 20, got %d", stats.PartialResults)
	}
	if stats.CapacityEvictions != 20 {
		t.Errorf("Expected 20 capacity evictions, got %d", stats.CapacityEvictions)
	}
	if _, ok := c.GetPartialResult("f019", KindViolations, ""); ok {
		t.Error("f019 should be among the oldest evicted")
	}
	if _, ok := c.GetPartialResult("f020", KindViolations, ""); !ok {
		t.Error("f020 should remain")
	}

	// replacing an existing result never evicts
	c.StorePartialResult("new", KindViolations, 1, "h2", nil, nil)
	if c.Stats().PartialResults != 81 {
		t.Errorf("Replacement changed the count to %d", c.Stats().PartialResults)
	}
}

func TestGetFilesNeedingAnalysis(t *testing.T) {
	c := newTestIncrementalCache(t, nil)
	fresh := []byte("fresh = 1\n")
	stale := []byte("stale = 1\n")

	c.TrackChangeTrusted("fresh.py", nil, fresh)
	c.StorePartialResult("fresh.py", KindViolations, nil, HashContent(fresh), nil, nil)

	c.TrackChangeTrusted("stale.py", nil, stale)
	c.StorePartialResult("stale.py", KindViolations, nil, HashContent(stale), nil, nil)
	c.TrackChangeTrusted("stale.py", stale, []byte("stale = 2\n"))

	c.TrackChangeTrusted("new.py", nil, []byte("n = 1\n"))

	got := c.GetFilesNeedingAnalysis([]string{"fresh.py", "stale.py", "new.py"}, KindViolations)
	if fmt.Sprint(got) != "[stale.py new.py]" {
		t.Errorf("Expected [stale.py new.py], got %v", got)
	}
	if got := c.GetFilesNeedingAnalysis([]string{"fresh.py"}, "other-kind"); len(got) != 1 {
		t.Errorf("A different kind should need analysis, got %v", got)
	}
}

func TestCleanupExpired(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := newTestIncrementalCache(t, func(cfg *IncrementalConfig) { cfg.RetentionHours = 1 },
		WithIncrementalClock(clock.Now))

	c.StorePartialResult("old.py", KindViolations, nil, "h", nil, nil)
	clock.Advance(2 * time.Hour)
	c.StorePartialResult("young.py", KindViolations, nil, "h", nil, nil)

	if n := c.CleanupExpired(); n != 1 {
		t.Errorf("Expected 1 expired result removed, got %d", n)
	}
	if c.Stats().PartialResults != 1 || c.Stats().ExpiredRemoved != 1 {
		t.Errorf("Unexpected stats after cleanup: %+v", c.Stats())
	}
}

func TestHistory_Bounded(t *testing.T) {
	c := newTestIncrementalCache(t, func(cfg *IncrementalConfig) { cfg.MaxDeltaHistory = 100 })

	for i := 0; i < 150; i++ {
		c.TrackChangeTrusted("h.py", nil, []byte(fmt.Sprintf("v = %d\n", i)))
	}

	history := c.History(0)
	if len(history) != 100 {
		t.Fatalf("Expected 100 deltas, got %d", len(history))
	}
	if last := history[len(history)-1]; last.NewHash != HashContent([]byte("v = 149\n")) {
		t.Error("Expected the newest delta last")
	}
	if got := c.History(5); len(got) != 5 || got[4].NewHash != history[99].NewHash {
		t.Errorf("History(5) should return the 5 newest deltas")
	}
}

func TestDependencyNodeCapacity(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := newTestIncrementalCache(t, func(cfg *IncrementalConfig) { cfg.MaxDependencyNodes = 100 },
		WithIncrementalClock(clock.Now))

	c.StorePartialResult("keep.py", KindViolations, nil, "h", nil, nil)
	for i := 0; i < 150; i++ {
		clock.Advance(time.Second)
		c.UpdateDependencies(fmt.Sprintf("n%03d", i), nil)
	}

	stats := c.Stats()
	if stats.DependencyNodes > 100 {
		t.Errorf("Expected at most 100 nodes, got %d", stats.DependencyNodes)
	}
	if _, ok := c.Node("keep.py"); !ok {
		t.Error("Nodes with partial results should be kept")
	}
}

func TestLineDiff(t *testing.T) {
	tests := []struct {
		name             string
		old, new         string
		added, removed int
	}{
		{"identical", "a\nb\n", "a\nb\n", 0, 0},
		{"append", "a\n", "a\nb\n", 1, 0},
		{"delete", "a\nb\nc\n", "a\nc\n", 0, 1},
		{"replace", "a\nb\n", "a\nx\n", 1, 1},
		{"from empty", "", "a\nb\n", 2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			added, removed := LineDiff([]byte(tt.old), []byte(tt.new))
			if added != tt.added || removed != tt.removed {
				t.Errorf("LineDiff = +%d/-%d, want +%d/-%d", added, removed, tt.added, tt.removed)
			}
		})
	}
}

func TestHashContent(t *testing.T) {
	h := HashContent([]byte("hello"))
	if len(h) != 16 {
		t.Errorf("Expected a 16 character digest, got %q", h)
	}
	if h != HashContent([]byte("hello")) {
		t.Error("Hash should be deterministic")
	}
	if h == HashContent([]byte("hello!")) {
		t.Error("Different content should hash differently")
	}
}
