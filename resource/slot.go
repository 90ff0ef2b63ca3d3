// Package resource tracks single-owner resources and tears them down.
package resource

import "sync"

// Releaser is a resource that can be given back.
type Releaser interface {
	Release() error
}

// Slot holds at most one active resource. Installing a new one releases the
// previous owner first.
type Slot[T interface {
	comparable
	Releaser
}] struct {
	mu     sync.Mutex
	active T
	has    bool
}

// Acquire installs next as the active resource, releasing the previous one.
// The previous owner's release error is returned; next is installed anyway.
func (s *Slot[T]) Acquire(next T) error {
	s.mu.Lock()
	prev, had := s.active, s.has
	s.active, s.has = next, true
	s.mu.Unlock()

	if had && prev != next {
		return prev.Release()
	}
	return nil
}

// Release gives back the active resource, if any.
func (s *Slot[T]) Release() error {
	s.mu.Lock()
	prev, had := s.active, s.has
	var zero T
	s.active, s.has = zero, false
	s.mu.Unlock()

	if !had {
		return nil
	}
	return prev.Release()
}

// Forget clears the slot if it still holds r, without releasing it.
// It reports whether r was the active resource.
func (s *Slot[T]) Forget(r T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.has || s.active != r {
		return false
	}
	var zero T
	s.active, s.has = zero, false
	return true
}

// Current returns the active resource.
func (s *Slot[T]) Current() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.has
}
