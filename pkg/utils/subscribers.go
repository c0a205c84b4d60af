package utils

import "sync"

// Subscribers is a set of callbacks notified synchronously, outside the lock,
// in registration order. The zero value is ready to use.
type Subscribers[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []subscription[T]
}

type subscription[T any] struct {
	id int
	fn func(T)
}

// Subscribe registers fn and returns a function removing it. Calling the
// returned function more than once is harmless.
func (s *Subscribers[T]) Subscribe(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription[T]{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish calls every subscriber with v
func (s *Subscribers[T]) Publish(v T) {
	s.mu.Lock()
	fns := make([]func(T), len(s.subs))
	for i, sub := range s.subs {
		fns[i] = sub.fn
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of active subscribers
func (s *Subscribers[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Clear removes every subscriber
func (s *Subscribers[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = nil
}
