package chunkstore

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/server/config"
	"github.com/dmitrijs2005/chunkvault/internal/server/metrics"
)

// New builds the store selected by cfg.StoreDriver, optionally wrapped with
// compression, and always instrumented with m.
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Store, error) {
	var (
		base Store
		err  error
	)

	switch cfg.StoreDriver {
	case config.DriverS3:
		base, err = NewS3Store(ctx, S3Config{
			AccessKey:    cfg.S3RootUser,
			SecretKey:    cfg.S3RootPassword,
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
		})
	case config.DriverMinio:
		base, err = NewMinioStore(ctx, MinioConfig{
			Endpoint:  cfg.S3BaseEndpoint,
			AccessKey: cfg.S3RootUser,
			SecretKey: cfg.S3RootPassword,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
		})
	case config.DriverLocal:
		base, err = NewLocalStore(cfg.LocalStoreDir)
	case config.DriverMemory:
		base = NewMemory()
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", common.ErrValidation, cfg.StoreDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chunk store: %w", cfg.StoreDriver, err)
	}

	if cfg.CompressChunks {
		if base, err = NewCompressed(base); err != nil {
			return nil, err
		}
	}
	return NewInstrumented(base, m), nil
}
