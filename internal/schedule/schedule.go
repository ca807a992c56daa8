// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

// Package schedule runs periodic tasks against a clock that is either real
// or advanced by hand. Sessions use it for autosave and snapshots so that
// tests can drive time deterministically.
package schedule

import (
	"sort"
	"sync"
	"time"
)

// Scheduler runs fn every interval until the returned stop func is called.
// Stop is idempotent and waits for no running task. A non-positive
// interval schedules nothing and returns a no-op stop.
type Scheduler interface {
	Now() time.Time
	Every(interval time.Duration, fn func()) (stop func())
}

// Real schedules on the wall clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time {
	return time.Now()
}

// Every runs fn on its own goroutine each interval.
func (Real) Every(interval time.Duration, fn func()) func() {
	if interval <= 0 {
		return func() {}
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

type task struct {
	id       uint64
	interval time.Duration
	next     time.Time
	fn       func()
}

// Virtual is a manually advanced clock. Tasks run synchronously inside
// Advance, in due-time order, on the caller's goroutine.
type Virtual struct {
	mu     sync.Mutex
	now    time.Time
	nextID uint64
	tasks  map[uint64]*task
}

// NewVirtual returns a virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start, tasks: make(map[uint64]*task)}
}

// Now returns the virtual time.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Every registers fn to run each interval of virtual time.
func (v *Virtual) Every(interval time.Duration, fn func()) func() {
	if interval <= 0 {
		return func() {}
	}
	v.mu.Lock()
	v.nextID++
	id := v.nextID
	v.tasks[id] = &task{id: id, interval: interval, next: v.now.Add(interval), fn: fn}
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		delete(v.tasks, id)
		v.mu.Unlock()
	}
}

// Advance moves the clock forward by d, running every task that falls due
// on the way. A task due several times runs once per period.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.mu.Unlock()

	for {
		v.mu.Lock()
		t := v.dueLocked(target)
		if t == nil {
			v.now = target
			v.mu.Unlock()
			return
		}
		v.now = t.next
		t.next = t.next.Add(t.interval)
		fn := t.fn
		v.mu.Unlock()

		fn()
	}
}

// Pending returns the number of registered tasks.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.tasks)
}

func (v *Virtual) dueLocked(target time.Time) *task {
	var due []*task
	for _, t := range v.tasks {
		if !t.next.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].next.Equal(due[j].next) {
			return due[i].next.Before(due[j].next)
		}
		return due[i].id < due[j].id
	})
	return due[0]
}
