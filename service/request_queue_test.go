package service

import (
	"context"
	"testing"
	"time"

	"github.com/ludo-technologies/connscan/domain"
)

func TestRequestQueue_PriorityThenFIFO(t *testing.T) {
	q := newRequestQueue(10)
	pushes := []struct {
		id       string
		priority int
	}{
		{"low-1", domain.PriorityLow},
		{"high-1", domain.PriorityHigh},
		{"medium-1", domain.PriorityMedium},
		{"high-2", domain.PriorityHigh},
		{"low-2", domain.PriorityLow},
	}
	for _, p := range pushes {
		if !q.TryPush(domain.AnalysisRequest{ID: p.id, Priority: p.priority}) {
			t.Fatalf("push %s rejected", p.id)
		}
	}

	want := []string{"high-1", "high-2", "medium-1", "low-1", "low-2"}
	for _, id := range want {
		req, ok := q.Pop(context.Background(), 10*time.Millisecond)
		if !ok {
			t.Fatalf("Expected %s, queue was empty", id)
		}
		if req.ID != id {
			t.Errorf("Pop() = %s, want %s", req.ID, id)
		}
	}
}

func TestRequestQueue_RejectsWhenFull(t *testing.T) {
	q := newRequestQueue(2)
	accepted := 0
	for i := 0; i < 5; i++ {
		if q.TryPush(domain.AnalysisRequest{ID: "r"}) {
			accepted++
		}
	}
	if accepted != 2 {
		t.Errorf("Expected 2 accepted pushes, got %d", accepted)
	}
	if q.Len() != 2 || q.Cap() != 2 {
		t.Errorf("Len/Cap = %d/%d, want 2/2", q.Len(), q.Cap())
	}
}

func TestRequestQueue_PopTimesOutAndHonorsContext(t *testing.T) {
	q := newRequestQueue(1)

	start := time.Now()
	if _, ok := q.Pop(context.Background(), 20*time.Millisecond); ok {
		t.Fatal("Expected timeout on empty queue")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Pop returned before its timeout")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := q.Pop(ctx, time.Hour); ok {
		t.Error("Expected canceled context to end Pop")
	}
}

func TestRequestQueue_WakesBlockedPop(t *testing.T) {
	q := newRequestQueue(1)
	got := make(chan string, 1)
	go func() {
		req, _ := q.Pop(context.Background(), time.Second)
		got <- req.ID
	}()

	time.Sleep(10 * time.Millisecond)
	q.TryPush(domain.AnalysisRequest{ID: "wake"})

	select {
	case id := <-got:
		if id != "wake" {
			t.Errorf("Pop() = %q, want wake", id)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("blocked Pop was not woken by a push")
	}
}
