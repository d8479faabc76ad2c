package util

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group is a typed singleflight group: concurrent calls with the same key
// share one execution and its result.
type Group[T any] struct {
	g singleflight.Group
}

// Do runs fn once per in-flight key. shared reports whether the result was
// handed to more than one caller.
func (g *Group[T]) Do(key string, fn func() (T, error)) (v T, err error, shared bool) {
	res, err, shared := g.g.Do(key, func() (any, error) {
		return fn()
	})
	if res != nil {
		v = res.(T)
	}
	return v, err, shared
}

// DoContext is like Do but stops waiting when ctx is done. The shared call
// keeps running for the other waiters.
func (g *Group[T]) DoContext(ctx context.Context, key string, fn func() (T, error)) (T, error) {
	ch := g.g.DoChan(key, func() (any, error) {
		return fn()
	})
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		var v T
		if r.Val != nil {
			v = r.Val.(T)
		}
		return v, r.Err
	}
}

// Forget drops key so the next call executes fn again.
func (g *Group[T]) Forget(key string) {
	g.g.Forget(key)
}
