// Package ring implements the fixed-capacity FIFO that holds queued
// message descriptors.
//
// Every method takes the buffer's single mutex, so each operation is
// atomic with respect to every other. The buffer never grows.
package ring

import "sync"

// RingBuffer is a mutex-protected circular buffer of fixed capacity.
//
// head is the index of the oldest element. next is the index of the first
// free slot, or -1 when the buffer is empty. When the buffer is full,
// next == head.
type RingBuffer[T any] struct {
	mu   sync.Mutex
	data []T
	head int
	next int
}

// New allocates a ring buffer holding up to capacity elements.
// It panics if capacity is not positive.
func New[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &RingBuffer[T]{
		data: make([]T, capacity),
		next: -1,
	}
}

// Enqueue appends item at the tail. It returns false if the buffer is full.
func (r *RingBuffer[T]) Enqueue(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fullLocked() {
		return false
	}
	if r.next == -1 {
		r.next = r.head
	}
	r.data[r.next] = item
	r.next = (r.next + 1) % len(r.data)
	return true
}

// Dequeue removes and returns the oldest element.
func (r *RingBuffer[T]) Dequeue() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.next == -1 {
		return zero, false
	}
	item := r.data[r.head]
	r.advanceLocked()
	return item, true
}

// Peek returns the element index positions behind the head without
// removing it.
func (r *RingBuffer[T]) Peek(index int) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if index < 0 || index >= r.lenLocked() {
		return zero, false
	}
	return r.data[(r.head+index)%len(r.data)], true
}

// RemoveFront drops the oldest element.
func (r *RingBuffer[T]) RemoveFront() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next == -1 {
		return false
	}
	r.advanceLocked()
	return true
}

// RemoveFrontFunc drops the oldest element only if match reports true for it.
// match runs with the buffer locked and must not call back into r.
func (r *RingBuffer[T]) RemoveFrontFunc(match func(T) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next == -1 || !match(r.data[r.head]) {
		return false
	}
	r.advanceLocked()
	return true
}

// RemoveFrontValue drops the oldest element of r only if it equals v.
func RemoveFrontValue[T comparable](r *RingBuffer[T], v T) bool {
	return r.RemoveFrontFunc(func(item T) bool { return item == v })
}

// Len returns the number of stored elements.
func (r *RingBuffer[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lenLocked()
}

// Cap returns the fixed capacity.
func (r *RingBuffer[T]) Cap() int {
	return len(r.data)
}

// IsEmpty reports whether the buffer holds no elements.
func (r *RingBuffer[T]) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next == -1
}

// IsFull reports whether Enqueue would fail.
func (r *RingBuffer[T]) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fullLocked()
}

func (r *RingBuffer[T]) fullLocked() bool {
	return r.next != -1 && r.next == r.head
}

func (r *RingBuffer[T]) lenLocked() int {
	switch {
	case r.next == -1:
		return 0
	case r.next > r.head:
		return r.next - r.head
	default:
		return len(r.data) - r.head + r.next
	}
}

// advanceLocked clears the head slot and moves head forward.
func (r *RingBuffer[T]) advanceLocked() {
	var zero T
	r.data[r.head] = zero
	r.head = (r.head + 1) % len(r.data)
	if r.head == r.next {
		r.next = -1
	}
}
