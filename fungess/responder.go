package fungess

import (
	"context"
	"errors"
	"sync"
)

var ErrAlreadyResponded = errors.New("responder: already responded")

// Responder is a single use slot used to hand a value from the control loop
// to the goroutine which made a request.
// Respond never blocks, and only the first value is ever delivered.
type Responder[T any] struct {
	mu   sync.Mutex
	done bool
	ch   chan T
}

func NewResponder[T any]() *Responder[T] {
	return &Responder[T]{ch: make(chan T, 1)}
}

// Respond delivers x to the waiter.
// It returns ErrAlreadyResponded if a value was already delivered, and x is discarded.
func (r *Responder[T]) Respond(x T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return ErrAlreadyResponded
	}
	r.done = true
	r.ch <- x
	return nil
}

// Responded returns true if Respond has been called successfully.
func (r *Responder[T]) Responded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Await blocks until a value is delivered or the context is cancelled.
// Await must only be called by a single goroutine.
func (r *Responder[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-ctx.Done():
		select {
		case x := <-r.ch:
			return x, nil
		default:
		}
		var zero T
		return zero, ctx.Err()
	case x := <-r.ch:
		return x, nil
	}
}
