package ringbuf

import (
	"sync"
	"testing"
)

func TestRing_BasicPushNewest(t *testing.T) {
	r := New[string](4)

	r.Push("A")
	r.Push("B")

	if r.Len() != 2 {
		t.Fatalf("expected len=2, got %d", r.Len())
	}

	got := r.Newest(0)
	if len(got) != 2 || got[0] != "B" || got[1] != "A" {
		t.Fatalf("expected [B A], got %v", got)
	}

	items := r.Items()
	if items[0] != "A" || items[1] != "B" {
		t.Fatalf("expected [A B], got %v", items)
	}
}

func TestRing_EvictsOldest(t *testing.T) {
	r := New[int](5)

	// Push 8 entries, first 3 evicted
	for i := 1; i <= 8; i++ {
		evicted := r.Push(i)
		if want := i > 5; evicted != want {
			t.Errorf("push %d: evicted=%v, want %v", i, evicted, want)
		}
	}

	if r.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", r.Len())
	}
	if r.Evicted() != 3 {
		t.Fatalf("Evicted() = %d, want 3", r.Evicted())
	}

	items := r.Items()
	if items[0] != 4 || items[4] != 8 {
		t.Errorf("expected oldest=4 newest=8, got %v", items)
	}
}

func TestRing_NewestLimit(t *testing.T) {
	r := New[int](10)
	for i := 0; i < 10; i++ {
		r.Push(i)
	}
	got := r.Newest(3)
	want := []int{9, 8, 7}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Newest(3) = %v, want %v", got, want)
		}
	}
}

func TestRing_NeverExceedsCapacity(t *testing.T) {
	r := New[int](0) // default capacity
	if r.Cap() != DefaultCapacity {
		t.Fatalf("Cap() = %d, want %d", r.Cap(), DefaultCapacity)
	}
	for i := 0; i < 10_000; i++ {
		r.Push(i)
		if r.Len() > r.Cap() {
			t.Fatalf("len %d exceeded cap %d at push %d", r.Len(), r.Cap(), i)
		}
	}
	if got := r.Newest(1)[0]; got != 9_999 {
		t.Errorf("newest = %d, want 9999", got)
	}
}

func TestRing_Reset(t *testing.T) {
	r := New[int](3)
	for i := 0; i < 5; i++ {
		r.Push(i)
	}
	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("expected empty ring after Reset, got %d", r.Len())
	}
	r.Push(42)
	if got := r.Items(); len(got) != 1 || got[0] != 42 {
		t.Fatalf("expected [42], got %v", got)
	}
}

func TestRing_ConcurrentPush(t *testing.T) {
	r := New[int](64)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.Push(base + i)
			}
		}(g * 1000)
	}
	wg.Wait()

	if r.Len() != 64 {
		t.Fatalf("expected len=64, got %d", r.Len())
	}
	if r.Evicted() != 8000-64 {
		t.Fatalf("expected %d evictions, got %d", 8000-64, r.Evicted())
	}
}
