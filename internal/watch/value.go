// Package watch provides a current-value cell that many goroutines can observe.
//
// Writers replace the value as a whole. Readers get the newest value together with a
// channel that is closed on the next write, so a slow reader skips intermediate values
// instead of queueing them.
package watch

import "sync"

type Value[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
	changed chan struct{}
}

func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		value:   initial,
		changed: make(chan struct{}),
	}
}

// Load returns the current value and a channel closed on the next Store.
func (v *Value[T]) Load() (T, <-chan struct{}) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value, v.changed
}

func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

func (v *Value[T]) Version() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.version
}

func (v *Value[T]) Store(value T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.storeLocked(value)
}

// Update applies fn to the current value under the lock. Nothing is stored when fn
// reports false.
func (v *Value[T]) Update(fn func(old T) (T, bool)) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	next, ok := fn(v.value)
	if !ok {
		return false
	}
	v.storeLocked(next)
	return true
}

func (v *Value[T]) storeLocked(value T) {
	v.value = value
	v.version++
	close(v.changed)
	v.changed = make(chan struct{})
}
