// Package output holds values that become known only after the resources
// they depend on have been provisioned.
//
// An Output starts Pending and settles exactly once, either Resolved with a
// value or Rejected with an error. Combinators never poll: they park a
// goroutine on the inputs' completion channels and run their continuation a
// single time after every input resolved.
package output

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Status is the lifecycle phase of an Output.
type Status int

const (
	Pending Status = iota
	Resolved
	Rejected
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ErrUnknown is returned by Value for an Output that has not settled yet.
var ErrUnknown = errors.New("output value is not known yet")

type state[T any] struct {
	mu     sync.Mutex
	done   chan struct{}
	status Status
	value  T
	err    error
}

// Output is a deferred value of type T. The zero Output is not usable; build
// one with New, Of or Failed.
type Output[T any] struct {
	s *state[T]
}

// New returns a pending Output together with the functions that settle it.
// Only the first call to either function has an effect.
func New[T any]() (Output[T], func(T), func(error)) {
	s := &state[T]{done: make(chan struct{})}
	resolve := func(v T) { s.settle(Resolved, v, nil) }
	reject := func(err error) {
		var zero T
		if err == nil {
			err = errors.New("output rejected without a cause")
		}
		s.settle(Rejected, zero, err)
	}
	return Output[T]{s: s}, resolve, reject
}

// Of returns an Output that is already resolved with v.
func Of[T any](v T) Output[T] {
	o, resolve, _ := New[T]()
	resolve(v)
	return o
}

// Failed returns an Output that is already rejected with err.
func Failed[T any](err error) Output[T] {
	o, _, reject := New[T]()
	reject(err)
	return o
}

func (s *state[T]) settle(status Status, v T, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != Pending {
		return
	}
	s.status = status
	s.value = v
	s.err = err
	close(s.done)
}

// Status reports the current phase.
func (o Output[T]) Status() Status {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	return o.s.status
}

// Done is closed once the Output settled.
func (o Output[T]) Done() <-chan struct{} {
	return o.s.done
}

// Value returns the settled value without blocking. A pending Output
// yields ErrUnknown.
func (o Output[T]) Value() (T, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if o.s.status == Pending {
		var zero T
		return zero, ErrUnknown
	}
	return o.s.value, o.s.err
}

// Await blocks until the Output settles or ctx is done.
func (o Output[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-o.s.done:
		return o.Value()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Apply maps a resolved value through f. f runs at most once and never
// before o resolved; a rejected input rejects the result without calling f.
func Apply[T, U any](ctx context.Context, o Output[T], f func(context.Context, T) (U, error)) Output[U] {
	out, resolve, reject := New[U]()
	go func() {
		v, err := o.Await(ctx)
		if err != nil {
			reject(err)
			return
		}
		settleWith(ctx, resolve, reject, func(ctx context.Context) (U, error) { return f(ctx, v) })
	}()
	return out
}

// JoinThen waits for both a and b to resolve and then computes the result
// with f. f runs exactly once when both inputs resolve and not at all when
// either is rejected or ctx ends first.
func JoinThen[A, B, U any](ctx context.Context, a Output[A], b Output[B], f func(context.Context, A, B) (U, error)) Output[U] {
	out, resolve, reject := New[U]()
	go func() {
		av, err := a.Await(ctx)
		if err != nil {
			reject(err)
			return
		}
		bv, err := b.Await(ctx)
		if err != nil {
			reject(err)
			return
		}
		settleWith(ctx, resolve, reject, func(ctx context.Context) (U, error) { return f(ctx, av, bv) })
	}()
	return out
}

// All resolves with the values of every input, in order, once all of them
// resolved. The first rejection wins.
func All[T any](ctx context.Context, outs ...Output[T]) Output[[]T] {
	out, resolve, reject := New[[]T]()
	go func() {
		values := make([]T, len(outs))
		for i, o := range outs {
			v, err := o.Await(ctx)
			if err != nil {
				reject(err)
				return
			}
			values[i] = v
		}
		resolve(values)
	}()
	return out
}

func settleWith[U any](ctx context.Context, resolve func(U), reject func(error), f func(context.Context) (U, error)) {
	if err := ctx.Err(); err != nil {
		reject(err)
		return
	}
	v, err := f(ctx)
	if err != nil {
		reject(err)
		return
	}
	resolve(v)
}
