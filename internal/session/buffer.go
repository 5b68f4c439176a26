package session

import (
	"sync"
	"time"
)

// timed pairs a buffered value with its arrival time.
type timed[T any] struct {
	value T
	at    time.Time
}

// Buffer is a bounded rolling buffer of timestamped values. Adding beyond the
// cap evicts the oldest entries. Reads can be windowed by age, which is how
// the synthesizer limits itself to recent observations.
//
// All methods are safe for concurrent use.
type Buffer[T any] struct {
	mu      sync.RWMutex
	entries []timed[T]
	maxSize int
}

// NewBuffer creates a buffer retaining at most maxSize entries.
func NewBuffer[T any](maxSize int) *Buffer[T] {
	return &Buffer[T]{
		entries: make([]timed[T], 0, maxSize),
		maxSize: maxSize,
	}
}

// Add appends a value stamped with the current time.
func (b *Buffer[T]) Add(v T) {
	b.AddAt(v, time.Now())
}

// AddAt appends a value with an explicit timestamp and evicts entries beyond
// the cap.
func (b *Buffer[T]) AddAt(v T, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, timed[T]{value: v, at: at})
	if len(b.entries) > b.maxSize {
		keep := b.entries[len(b.entries)-b.maxSize:]
		// Copy to a fresh slice so evicted entries can be garbage collected.
		fresh := make([]timed[T], len(keep), b.maxSize)
		copy(fresh, keep)
		b.entries = fresh
	}
}

// Recent returns the values not older than window, in chronological order.
func (b *Buffer[T]) Recent(window time.Duration) []T {
	return b.RecentAt(time.Now(), window)
}

// RecentAt is Recent evaluated against an explicit reference time.
func (b *Buffer[T]) RecentAt(now time.Time, window time.Duration) []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cutoff := now.Add(-window)
	var out []T
	for _, e := range b.entries {
		if e.at.Before(cutoff) {
			continue
		}
		out = append(out, e.value)
	}
	return out
}

// Latest returns the most recently added value. ok is false when the buffer
// is empty.
func (b *Buffer[T]) Latest() (v T, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.entries) == 0 {
		return v, false
	}
	return b.entries[len(b.entries)-1].value, true
}

// All returns every buffered value in chronological order.
func (b *Buffer[T]) All() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.value
	}
	return out
}

// Len returns the number of buffered values.
func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
