// Package deferred models values that are absent, already known, or still
// waiting on a computation. A record made of such values is joined into a
// plain struct by resolving every field concurrently with All.
package deferred

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

type state uint8

const (
	absent state = iota
	resolved
	pending
)

// Value is a field that may be absent, resolved, or pending. The zero Value
// is absent. Copies of a pending Value share the computation, so it runs at
// most once no matter how many stages read it.
type Value[T any] struct {
	state state
	val   T
	fut   *future[T]
}

type future[T any] struct {
	once sync.Once
	fn   func(ctx context.Context) (T, error)
	val  T
	err  error
}

// Of returns a resolved value.
func Of[T any](v T) Value[T] {
	return Value[T]{state: resolved, val: v}
}

// Func returns a pending value computed by fn on first resolution.
func Func[T any](fn func(ctx context.Context) (T, error)) Value[T] {
	if fn == nil {
		return Value[T]{}
	}
	return Value[T]{state: pending, fut: &future[T]{fn: fn}}
}

// Absent returns an unset value.
func Absent[T any]() Value[T] {
	return Value[T]{}
}

// Optional returns Of(v) when ok is true and Absent otherwise.
func Optional[T any](v T, ok bool) Value[T] {
	if !ok {
		return Value[T]{}
	}
	return Of(v)
}

// IsSet reports whether the value is resolved or pending.
func (v Value[T]) IsSet() bool { return v.state != absent }

// IsPending reports whether the value still needs to be computed.
func (v Value[T]) IsPending() bool { return v.state == pending }

// Resolve returns the value, whether it was set, and any error raised by the
// pending computation.
func (v Value[T]) Resolve(ctx context.Context) (T, bool, error) {
	switch v.state {
	case resolved:
		return v.val, true, nil
	case pending:
		f := v.fut
		f.once.Do(func() {
			f.val, f.err = f.fn(ctx)
		})
		if f.err != nil {
			var zero T
			return zero, false, f.err
		}
		return f.val, true, nil
	}
	var zero T
	return zero, false, nil
}

// Map derives a pending value from v. fn sees v's resolved value and whether
// it was set.
func Map[T, U any](v Value[T], fn func(ctx context.Context, val T, ok bool) (U, error)) Value[U] {
	return Func(func(ctx context.Context) (U, error) {
		val, ok, err := v.Resolve(ctx)
		if err != nil {
			var zero U
			return zero, err
		}
		return fn(ctx, val, ok)
	})
}

// Into returns a task that resolves v and stores the outcome in dst and ok.
// ok may be nil.
func Into[T any](v Value[T], dst *T, ok *bool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		val, set, err := v.Resolve(ctx)
		if err != nil {
			return err
		}
		*dst = val
		if ok != nil {
			*ok = set
		}
		return nil
	}
}

// All runs every task concurrently and returns the first error.
func All(ctx context.Context, tasks ...func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			return task(gctx)
		})
	}
	return g.Wait()
}
