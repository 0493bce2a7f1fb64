package services

import (
	"context"

	"github.com/dmitrijs2005/chunkvault/internal/server/chunkstore"
	"github.com/dmitrijs2005/chunkvault/internal/server/metrics"
)

// chunkIO applies the retry policy and per-call timeouts to every chunk
// store call made by the orchestrators.
type chunkIO struct {
	store   chunkstore.Store
	opts    Options
	metrics *metrics.Metrics
}

func newChunkIO(store chunkstore.Store, opts Options, m *metrics.Metrics) *chunkIO {
	return &chunkIO{store: store, opts: opts, metrics: m}
}

func (c *chunkIO) policy(op string) Options {
	o := c.opts
	prev := o.Retry.OnRetry
	o.Retry.OnRetry = func(attempt int, err error) {
		c.metrics.IncRetry(op)
		if prev != nil {
			prev(attempt, err)
		}
	}
	return o
}

func (c *chunkIO) put(ctx context.Context, key string, data []byte, contentType string) error {
	return c.policy("put").call(ctx, c.opts.TransferTimeout, func(ctx context.Context) error {
		return c.store.Put(ctx, key, data, chunkstore.Meta{ContentType: contentType})
	})
}

func (c *chunkIO) get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := c.policy("get").call(ctx, c.opts.TransferTimeout, func(ctx context.Context) error {
		var err error
		data, _, err = c.store.Get(ctx, key)
		return err
	})
	return data, err
}

func (c *chunkIO) exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := c.policy("exists").call(ctx, c.opts.VerifyTimeout, func(ctx context.Context) error {
		var err error
		ok, err = c.store.Exists(ctx, key)
		return err
	})
	return ok, err
}

func (c *chunkIO) delete(ctx context.Context, key string) error {
	return c.policy("delete").call(ctx, c.opts.TransferTimeout, func(ctx context.Context) error {
		return c.store.Delete(ctx, key)
	})
}
