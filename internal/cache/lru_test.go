// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package cache

import (
	"strconv"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestLRU_BasicOperations(t *testing.T) {
	c := NewLRU[string](3, time.Minute)
	c.Add("a", "1")
	c.Add("b", "2")

	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Errorf("Get(a) = %q, %v", v, ok)
	}
	c.Add("a", "3")
	if v, _ := c.Get("a"); v != "3" {
		t.Errorf("Get(a) after replace = %q, want 3", v)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if !c.Remove("b") || c.Remove("b") {
		t.Error("Remove(b) should succeed exactly once")
	}
}

func TestLRU_Eviction(t *testing.T) {
	c := NewLRU[int](3, time.Minute)
	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)

	// a becomes most recently used, so b is evicted next.
	c.Get("a")
	c.Add("d", 4)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should be present", k)
		}
	}
}

func TestLRU_TTLExpiration(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewLRU[int](10, time.Minute, WithClock(clock.Now))
	c.Add("a", 1)
	c.Add("b", 2)

	clock.Advance(30 * time.Second)
	c.Add("b", 2)
	clock.Advance(31 * time.Second)

	if _, ok := c.Get("a"); ok {
		t.Error("a should have expired")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("b was refreshed and should still be present")
	}

	clock.Advance(time.Minute)
	if n := c.CleanupExpired(); n != 1 {
		t.Errorf("CleanupExpired() = %d, want 1", n)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestLRU_ClearAndStats(t *testing.T) {
	c := NewLRU[int](0, 0)
	c.Add("a", 1)
	c.Get("a")
	c.Get("missing")

	hits, misses, size := c.Stats()
	if hits != 1 || misses != 1 || size != 1 {
		t.Errorf("Stats() = %d, %d, %d", hits, misses, size)
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
	c.Add("b", 2)
	if _, ok := c.Get("b"); !ok {
		t.Error("cache unusable after Clear")
	}
}

func TestLRU_Concurrent(t *testing.T) {
	c := NewLRU[int](100, time.Minute)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := strconv.Itoa(g*1000 + i%150)
				c.Add(key, i)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 100 {
		t.Errorf("Len() = %d exceeds capacity", c.Len())
	}
}
