// Package workerpool runs a bounded number of calls concurrently and
// returns their results in input order.
package workerpool

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

const DefaultSize = 10

type Options struct {
	// Size bounds concurrent calls. Zero means DefaultSize.
	Size int
	// Timeout bounds each call. Zero means no per-call deadline.
	Timeout time.Duration
}

// Map calls fn for every item with at most opts.Size calls in flight.
// Result i always belongs to items[i]. A call that fails or exceeds its
// timeout yields fallback(item, err) in its slot; it never stops the
// remaining calls. Map returns early only when ctx is cancelled, in which
// case unstarted items receive fallback with ctx's error.
func Map[T, R any](ctx context.Context, items []T, opts Options, fn func(context.Context, T) (R, error), fallback func(T, error) R) []R {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results
	}
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}

	var g errgroup.Group
	g.SetLimit(size)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			results[i] = fallback(item, err)
			continue
		}
		g.Go(func() error {
			results[i] = call(ctx, item, opts.Timeout, fn, fallback)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func call[T, R any](ctx context.Context, item T, timeout time.Duration, fn func(context.Context, T) (R, error), fallback func(T, error) R) R {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	r, err := fn(ctx, item)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return fallback(item, err)
	}
	return r
}
