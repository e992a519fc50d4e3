package idgen

import (
	"sync"
	"testing"
	"time"
)

func TestNextStrictlyIncreasing(t *testing.T) {
	g := New(10)
	if got := g.NextID(); got != 11 {
		t.Fatalf("first id = %d, want 11", got)
	}
	if got := g.Next(); got != "12" {
		t.Fatalf("Next = %q, want 12", got)
	}
	if g.Current() != 12 {
		t.Fatalf("Current = %d", g.Current())
	}
}

func TestConcurrentUnique(t *testing.T) {
	g := New(0)
	const workers, per = 16, 1000

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, per)
			prev := int64(-1)
			for i := 0; i < per; i++ {
				id := g.NextID()
				if id <= prev {
					t.Errorf("id %d not greater than %d within one goroutine", id, prev)
				}
				prev = id
				local = append(local, id)
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != workers*per {
		t.Fatalf("unique ids = %d, want %d", len(seen), workers*per)
	}
	if g.Current() != workers*per {
		t.Fatalf("Current = %d", g.Current())
	}
}

func TestAdvance(t *testing.T) {
	g := New(5)
	g.Advance(100)
	if got := g.NextID(); got != 101 {
		t.Fatalf("after Advance(100) = %d", got)
	}
	g.Advance(50)
	if got := g.NextID(); got != 102 {
		t.Fatalf("Advance must never move backwards, got %d", got)
	}
}

func TestSeed(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a, err := Seed(t0, 7)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	b, _ := Seed(t0.Add(time.Millisecond), 7)
	if b <= a {
		t.Fatalf("later seed %d <= %d", b, a)
	}
	if !Time(a).Equal(t0) {
		t.Fatalf("Time(seed) = %v, want %v", Time(a), t0)
	}
	if _, err := Seed(t0, 1024); err != ErrInvalidWorkerID {
		t.Fatalf("err = %v", err)
	}
}
