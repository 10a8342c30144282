package cache

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ludo-technologies/connscan/domain"
)

type fakeTree struct {
	lang string
}

func (f *fakeTree) Language() string { return f.lang }

func writeFile(t *testing.T, path string, content []byte, modTime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func newTestContentCache(t *testing.T, max int64, opts ...ContentOption) *ContentCache {
	t.Helper()
	c, err := NewContentCache(max, opts...)
	if err != nil {
		t.Fatalf("NewContentCache: %v", err)
	}
	return c
}

func TestNewContentCache_InvalidBound(t *testing.T) {
	for _, max := range []int64{0, -1} {
		_, err := NewContentCache(max)
		if !domain.IsErrorCode(err, domain.ErrCodeConfigError) {
			t.Errorf("NewContentCache(%d) error = %v, want CONFIG_ERROR", max, err)
		}
	}
}

func TestContentCache_LatestWriteWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.py")
	c := newTestContentCache(t, 1<<20)

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 20; i++ {
		content := []byte(fmt.Sprintf("value = %d\n", i))
		writeFile(t, path, content, base.Add(time.Duration(i)*time.Second))

		got, ok := c.Get(path)
		if !ok {
			t.Fatalf("write %d: Get returned no result", i)
		}
		if !bytes.Equal(got, content) {
			t.Fatalf("write %d: got %q, want %q", i, got, content)
		}
	}

	stats := c.Stats()
	if stats.Entries != 1 {
		t.Errorf("Expected 1 entry, got %d", stats.Entries)
	}
	if stats.MemoryUsage != int64(len("value = 19\n")) {
		t.Errorf("Expected usage of the latest content, got %d", stats.MemoryUsage)
	}
}

func TestContentCache_HitRefreshesWithoutRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.py")
	writeFile(t, path, []byte("a = 1\n"), time.Now().Add(-time.Minute))

	c := newTestContentCache(t, 1<<20)
	if _, ok := c.Get(path); !ok {
		t.Fatal("first Get failed")
	}
	if _, ok := c.Get(path); !ok {
		t.Fatal("second Get failed")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %d hits %d misses", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("Expected hit rate 0.5, got %f", stats.HitRate)
	}
}

func TestContentCache_MemoryNeverExceedsMax(t *testing.T) {
	const max = 10000
	c := newTestContentCache(t, max)
	rng := rand.New(rand.NewSource(42))
	mtime := time.Unix(1700000000, 0)

	for i := 0; i < 2000; i++ {
		size := 1 + rng.Intn(4000)
		path := fmt.Sprintf("/virtual/f%d.py", rng.Intn(60))
		c.Put(path, bytes.Repeat([]byte{'x'}, size), mtime)

		stats := c.Stats()
		if stats.MemoryUsage > max {
			t.Fatalf("insert %d: usage %d exceeds max %d", i, stats.MemoryUsage, max)
		}
		if stats.MemoryUsage < 0 {
			t.Fatalf("insert %d: negative usage %d", i, stats.MemoryUsage)
		}

		var sum int64
		c.mu.Lock()
		for _, e := range c.entries.Values() {
			sum += e.Size()
		}
		c.mu.Unlock()
		if sum != stats.MemoryUsage {
			t.Fatalf("insert %d: usage %d != sum of entries %d", i, stats.MemoryUsage, sum)
		}
	}
}

func TestContentCache_EvictsLeastRecentlyInsertedFirst(t *testing.T) {
	c := newTestContentCache(t, 1000)
	mtime := time.Unix(1700000000, 0)

	var inserted []string
	for i := 0; i < 30; i++ {
		path := fmt.Sprintf("/virtual/f%02d.py", i)
		c.Put(path, bytes.Repeat([]byte{'y'}, 70+i%5*10), mtime)
		inserted = append(inserted, path)

		keys := c.Keys()
		suffix := inserted[len(inserted)-len(keys):]
		for j := range keys {
			if keys[j] != suffix[j] {
				t.Fatalf("after %d inserts: cached %v is not the most recent suffix %v", i+1, keys, suffix)
			}
		}
	}
}

func TestContentCache_ThreeEntryScenario(t *testing.T) {
	c := newTestContentCache(t, 1000)
	mtime := time.Unix(1700000000, 0)

	for _, name := range []string{"f1", "f2", "f3"} {
		c.Put(name, bytes.Repeat([]byte{'z'}, 400), mtime)
	}

	if c.Contains("f1") {
		t.Error("f1 should have been evicted")
	}
	if !c.Contains("f2") || !c.Contains("f3") {
		t.Error("f2 and f3 should remain")
	}
	stats := c.Stats()
	if stats.MemoryUsage != 800 {
		t.Errorf("Expected usage 800, got %d", stats.MemoryUsage)
	}
	if stats.Evictions != 1 {
		t.Errorf("Expected 1 eviction, got %d", stats.Evictions)
	}
}

func TestContentCache_AggressivePressureEvictsQuarter(t *testing.T) {
	c := newTestContentCache(t, 1000)
	mtime := time.Unix(1700000000, 0)

	for i := 0; i < 8; i++ {
		c.Put(fmt.Sprintf("e%d", i), bytes.Repeat([]byte{'a'}, 100), mtime)
	}
	// 800 bytes in 8 entries; one 150 byte insert crosses 90%
	c.Put("big", bytes.Repeat([]byte{'b'}, 150), mtime)

	// 9 entries / 4 = 2 evicted in one pass, leaving 750
	if got := c.Stats().MemoryUsage; got != 750 {
		t.Errorf("Expected usage 750, got %d", got)
	}
	if c.Contains("e0") || c.Contains("e1") {
		t.Error("Expected the two oldest entries to be evicted")
	}
	if !c.Contains("e2") {
		t.Error("e2 should remain")
	}
}

func TestContentCache_UnreadablePath(t *testing.T) {
	c := newTestContentCache(t, 1000)

	got, ok := c.Get(filepath.Join(t.TempDir(), "missing.py"))
	if ok || got != nil {
		t.Errorf("Expected no result, got %q", got)
	}
	if c.Stats().ReadFailures != 1 {
		t.Errorf("Expected 1 read failure, got %d", c.Stats().ReadFailures)
	}

	if _, ok := c.Get(""); ok {
		t.Error("Empty path should yield no result")
	}
	if _, ok := c.Get(t.TempDir()); ok {
		t.Error("Directory should yield no result")
	}
}

func TestContentCache_DeletedFileInvalidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.py")
	writeFile(t, path, []byte("x = 1\n"), time.Now())

	c := newTestContentCache(t, 1000)
	if _, ok := c.Get(path); !ok {
		t.Fatal("Get failed")
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(path); ok {
		t.Error("Expected no result after delete")
	}
	if c.Stats().MemoryUsage != 0 {
		t.Errorf("Expected usage 0, got %d", c.Stats().MemoryUsage)
	}
}

func TestContentCache_GetParsedSharesIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.py")
	b := filepath.Join(dir, "b.py")
	mtime := time.Now().Add(-time.Minute)
	writeFile(t, a, []byte("x = 1\n"), mtime)
	writeFile(t, b, []byte("x = 1\n"), mtime)

	var calls atomic.Int32
	parse := func(path string, content []byte) (domain.ParsedFile, error) {
		calls.Add(1)
		return &fakeTree{lang: "python"}, nil
	}
	c := newTestContentCache(t, 1<<20, WithParseFunc(parse))

	ta, ok := c.GetParsed(a)
	if !ok {
		t.Fatal("GetParsed(a) failed")
	}
	tb, ok := c.GetParsed(b)
	if !ok {
		t.Fatal("GetParsed(b) failed")
	}
	if ta != tb {
		t.Error("Identical content should share one parse tree")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 parse, got %d", calls.Load())
	}

	stats := c.Stats()
	if stats.ParseHits != 1 || stats.ParseMisses != 1 {
		t.Errorf("Expected 1 parse hit and 1 miss, got %d/%d", stats.ParseHits, stats.ParseMisses)
	}
}

func TestContentCache_ParseFailureDoesNotPoison(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.py")
	writeFile(t, path, []byte("def f(:\n"), time.Now().Add(-time.Minute))

	var fail atomic.Bool
	fail.Store(true)
	var calls atomic.Int32
	parse := func(path string, content []byte) (domain.ParsedFile, error) {
		calls.Add(1)
		if fail.Load() {
			return nil, errors.New("syntax error")
		}
		return &fakeTree{lang: "python"}, nil
	}
	c := newTestContentCache(t, 1<<20, WithParseFunc(parse))

	if tree, ok := c.GetParsed(path); ok || tree != nil {
		t.Fatal("Expected no result for a failing parse")
	}
	if c.Stats().ParseFailures != 1 {
		t.Errorf("Expected 1 parse failure, got %d", c.Stats().ParseFailures)
	}
	if c.Stats().ParsedEntries != 0 {
		t.Errorf("A failed parse must not be stored, got %d entries", c.Stats().ParsedEntries)
	}

	fail.Store(false)
	if _, ok := c.GetParsed(path); !ok {
		t.Fatal("Expected the same hash to parse once the parser succeeds")
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 parse attempts, got %d", calls.Load())
	}
}

func TestContentCache_ConcurrentGetParsedParsesOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.py")
	writeFile(t, path, []byte("y = 2\n"), time.Now().Add(-time.Minute))

	var calls atomic.Int32
	parse := func(path string, content []byte) (domain.ParsedFile, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &fakeTree{lang: "python"}, nil
	}
	c := newTestContentCache(t, 1<<20, WithParseFunc(parse))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := c.GetParsed(path); !ok {
				t.Error("GetParsed failed")
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("Expected 1 parse for concurrent callers, got %d", calls.Load())
	}
}

func TestContentCache_DefaultParser(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "real.py")
	writeFile(t, path, []byte("def f(a, b):\n    return a + b\n"), time.Now().Add(-time.Minute))

	c := newTestContentCache(t, 1<<20)
	tree, ok := c.GetParsed(path)
	if !ok {
		t.Fatal("Expected the default parser to parse valid Python")
	}
	if tree.Language() != "python" {
		t.Errorf("Expected python, got %s", tree.Language())
	}

	entry, ok := c.GetEntry(path)
	if !ok || entry.Parsed == nil {
		t.Error("Expected the entry to reference its parse tree")
	}
}

func TestContentCache_InvalidateAndClear(t *testing.T) {
	c := newTestContentCache(t, 1000)
	mtime := time.Unix(1700000000, 0)
	c.Put("a", []byte("aaaa"), mtime)
	c.Put("b", []byte("bb"), mtime)

	if !c.Invalidate("a") {
		t.Error("Invalidate(a) should report removal")
	}
	if c.Invalidate("a") {
		t.Error("Second Invalidate(a) should be a no-op")
	}
	if got := c.Stats().MemoryUsage; got != 2 {
		t.Errorf("Expected usage 2, got %d", got)
	}

	c.Clear()
	if c.Len() != 0 || c.Stats().MemoryUsage != 0 {
		t.Errorf("Expected empty cache after Clear, got %d entries", c.Len())
	}
}
