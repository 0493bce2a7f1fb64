// Package services contains the server-side orchestration logic: the
// manifest service, the upload and download orchestrators and the sync
// processor.
package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/retry"
	"github.com/dmitrijs2005/chunkvault/internal/server/chunker"
	"github.com/dmitrijs2005/chunkvault/internal/server/config"
)

// Concurrency bounds chunk-level fan-out. Workloads of at most
// FullParallelThreshold chunks run fully parallel; larger ones use Max.
type Concurrency struct {
	Max                   int
	FullParallelThreshold int
}

// Limit is the number of concurrent chunk operations for n chunks.
// n <= 0 means the count is not known yet.
func (c Concurrency) Limit(n int) int {
	maxN := max(c.Max, 1)
	if n <= 0 {
		return maxN
	}
	if n <= c.FullParallelThreshold {
		return n
	}
	return min(n, maxN)
}

// Options configure the orchestrators. They are built once from Config and
// injected at construction.
type Options struct {
	ChunkSize   int
	Concurrency Concurrency
	Retry       retry.Policy

	// VerifyTimeout bounds a single existence check, TransferTimeout a single
	// chunk put or get, ManifestTimeout a single manifest call.
	VerifyTimeout   time.Duration
	TransferTimeout time.Duration
	ManifestTimeout time.Duration

	SyncWorkers        int
	SyncQueueSize      int
	RecheckInterval    time.Duration
	RecheckMaxAttempts int
	// PendingGrace and ProcessingTimeout drive the sweep that recovers events
	// the in-memory queue lost.
	PendingGrace      time.Duration
	ProcessingTimeout time.Duration

	NotifyTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:          chunker.DefaultSize,
		Concurrency:        Concurrency{Max: 4, FullParallelThreshold: 3},
		Retry:              retry.Default(),
		VerifyTimeout:      3 * time.Second,
		TransferTimeout:    30 * time.Second,
		ManifestTimeout:    10 * time.Second,
		SyncWorkers:        2,
		SyncQueueSize:      128,
		RecheckInterval:    time.Minute,
		RecheckMaxAttempts: 5,
		PendingGrace:       30 * time.Second,
		ProcessingTimeout:  10 * time.Minute,
		NotifyTimeout:      5 * time.Second,
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ChunkSize: cfg.ChunkSize,
		Concurrency: Concurrency{
			Max:                   cfg.MaxConcurrency,
			FullParallelThreshold: cfg.FullParallelThreshold,
		},
		Retry: retry.Policy{
			MaxAttempts:   cfg.RetryMaxAttempts,
			BaseDelay:     cfg.RetryBaseDelay,
			MaxDelay:      cfg.RetryMaxDelay,
			JitterPercent: 10,
		},
		VerifyTimeout:      cfg.VerifyTimeout,
		TransferTimeout:    cfg.TransferTimeout,
		ManifestTimeout:    cfg.ManifestTimeout,
		SyncWorkers:        cfg.SyncWorkers,
		SyncQueueSize:      cfg.SyncQueueSize,
		RecheckInterval:    cfg.RecheckInterval,
		RecheckMaxAttempts: cfg.RecheckMaxAttempts,
		PendingGrace:       cfg.SyncPendingGrace,
		ProcessingTimeout:  cfg.SyncProcessingTimeout,
		NotifyTimeout:      cfg.NotifyTimeout,
	}
}

// call runs fn under the retry policy with a fresh timeout per attempt.
func (o Options) call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	return o.Retry.Do(ctx, func(ctx context.Context) error {
		if timeout <= 0 {
			return fn(ctx)
		}
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(cctx)
	})
}

func (o Options) manifest(ctx context.Context, fn func(ctx context.Context) error) error {
	return o.call(ctx, o.ManifestTimeout, fn)
}

// manifestOnce applies the manifest timeout without retrying. It is for
// conditional writes, where a retry after a lost acknowledgement would report
// a stale status instead of success.
func (o Options) manifestOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	if o.ManifestTimeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, o.ManifestTimeout)
	defer cancel()
	return fn(cctx)
}
