package session

import (
	"testing"
	"time"
)

func TestBuffer_EvictsBeyondCap(t *testing.T) {
	t.Parallel()

	b := NewBuffer[int](3)
	for i := 1; i <= 5; i++ {
		b.Add(i)
	}

	if b.Len() != 3 {
		t.Fatalf("expected len 3, got %d", b.Len())
	}
	got := b.All()
	want := []int{3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: want %d, got %d", i, want[i], got[i])
		}
	}
}

func TestBuffer_RecentWindow(t *testing.T) {
	t.Parallel()

	now := time.Now()
	b := NewBuffer[string](10)
	b.AddAt("stale", now.Add(-45*time.Second))
	b.AddAt("edge", now.Add(-30*time.Second))
	b.AddAt("fresh", now.Add(-5*time.Second))

	got := b.RecentAt(now, 30*time.Second)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries within window, got %d: %v", len(got), got)
	}
	if got[0] != "edge" || got[1] != "fresh" {
		t.Errorf("unexpected window contents: %v", got)
	}
}

func TestBuffer_RecentEmptyWhenAllStale(t *testing.T) {
	t.Parallel()

	now := time.Now()
	b := NewBuffer[int](4)
	b.AddAt(1, now.Add(-2*time.Minute))
	b.AddAt(2, now.Add(-90*time.Second))

	if got := b.RecentAt(now, 60*time.Second); len(got) != 0 {
		t.Errorf("expected no entries within window, got %v", got)
	}
}

func TestBuffer_Latest(t *testing.T) {
	t.Parallel()

	b := NewBuffer[string](2)
	if _, ok := b.Latest(); ok {
		t.Fatal("expected ok=false on empty buffer")
	}

	b.Add("first")
	b.Add("second")
	v, ok := b.Latest()
	if !ok || v != "second" {
		t.Errorf("expected latest %q, got %q (ok=%v)", "second", v, ok)
	}
}

func TestBuffer_ChronologicalOrder(t *testing.T) {
	t.Parallel()

	b := NewBuffer[int](5)
	for i := 0; i < 5; i++ {
		b.Add(i)
	}
	got := b.All()
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Fatalf("entries not in chronological order: %v", got)
		}
	}
}

func TestBuffer_CapOneKeepsNewest(t *testing.T) {
	t.Parallel()

	b := NewBuffer[string](1)
	b.Add("a")
	b.Add("b")
	v, ok := b.Latest()
	if !ok || v != "b" {
		t.Errorf("expected %q, got %q", "b", v)
	}
	if b.Len() != 1 {
		t.Errorf("expected len 1, got %d", b.Len())
	}
}
