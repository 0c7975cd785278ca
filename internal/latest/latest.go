// Package latest implements the one fan-out primitive the whole peripheral
// layer is built on: a single cell holding the most recent value of a type,
// with change notification for any number of subscribers. Slow subscribers
// coalesce to the newest value rather than queueing every intermediate one —
// the same semantics as Rust's tokio::sync::watch, for which Go has no
// off-the-shelf ecosystem equivalent in this codebase's dependency set.
package latest

import "sync"

// Value is a single-writer, multi-reader "latest value + notify" cell.
type Value[T any] struct {
	mu      sync.Mutex
	val     T
	version uint64
	closed  bool
	wake    chan struct{}
}

// NewValue creates a cell seeded with initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{val: initial, wake: make(chan struct{})}
}

// Set overwrites the current value and wakes every subscriber.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.val = val
	v.version++
	wake := v.wake
	v.wake = make(chan struct{})
	v.mu.Unlock()
	close(wake)
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.val
}

// Close marks the cell closed: further Set calls are no-ops and every
// blocked and future Subscription.Next returns (zero, false).
func (v *Value[T]) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	wake := v.wake
	v.mu.Unlock()
	close(wake)
}

// Subscription observes a Value, always seeing the latest value after its
// creation — never a stale intermediate one.
type Subscription[T any] struct {
	src     *Value[T]
	version uint64
}

// Subscribe creates a subscription seeded with the current value, so the
// first Next() call returns immediately with that value.
func (v *Value[T]) Subscribe() *Subscription[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	// version-1 so the very first Next() call reports the seeded value.
	return &Subscription[T]{src: v, version: v.version - 1}
}

// Next blocks until a value newer than the last one observed by this
// subscription is available, or stop is closed, or the Value is closed.
// The returned bool is false only on closure.
func (s *Subscription[T]) Next(stop <-chan struct{}) (T, bool) {
	for {
		s.src.mu.Lock()
		if s.src.version != s.version {
			val := s.src.val
			s.version = s.src.version
			s.src.mu.Unlock()
			return val, true
		}
		if s.src.closed {
			var zero T
			s.src.mu.Unlock()
			return zero, false
		}
		wake := s.src.wake
		s.src.mu.Unlock()

		select {
		case <-wake:
		case <-stop:
			var zero T
			return zero, false
		}
	}
}
