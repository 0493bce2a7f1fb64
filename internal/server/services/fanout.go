package services

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// fanOut runs fn for indices 0..n-1 with at most limit in flight. The first
// error cancels the context passed to the remaining calls and is returned.
// Callers that must tolerate individual failures record them and return nil.
func fanOut(ctx context.Context, n, limit int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, 1))
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
