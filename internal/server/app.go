// Package server initializes and runs the chunkvault server: the manifest
// store, the chunk store, the orchestrators, the sync processor, the gRPC
// edge and the metrics endpoint.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/logging"
	"github.com/dmitrijs2005/chunkvault/internal/server/chunkstore"
	"github.com/dmitrijs2005/chunkvault/internal/server/config"
	"github.com/dmitrijs2005/chunkvault/internal/server/metrics"
	"github.com/dmitrijs2005/chunkvault/internal/server/notify"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chunkvault/internal/server/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gs "github.com/dmitrijs2005/chunkvault/internal/server/grpc"
)

// shutdownTimeout bounds draining uploads and stopping the metrics server.
const shutdownTimeout = 30 * time.Second

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	metrics *metrics.Metrics

	uploads   *services.UploadService
	downloads *services.DownloadService
	manifest  *services.ManifestService
	sync      *services.SyncProcessor
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout, c.LogLevel)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	db, err := repomanager.Open(ctx, c.DatabaseDSN, c.ManifestTimeout)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	m := metrics.Default()
	store, err := chunkstore.New(ctx, c, m)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	opts := services.OptionsFromConfig(c)
	sp := services.NewSyncProcessor(db, rm, store, opts, logger, m)
	ms := services.NewManifestService(db, rm, sp, opts, logger)
	us := services.NewUploadService(db, rm, store, sp, notify.New(c.NotifyWebhookURL, c.NotifyTimeout), opts, logger, m)
	ds := services.NewDownloadService(ms, store, opts, logger, m)

	return &App{
		config:    c,
		logger:    logger,
		db:        db,
		metrics:   m,
		uploads:   us,
		downloads: ds,
		manifest:  ms,
		sync:      sp,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(gs.Options{
		Address:        app.config.EndpointAddrGRPC,
		SecretKey:      app.config.SecretKey,
		ClaimNamespace: app.config.ClaimNamespace,
		MaxMessageSize: app.config.MaxGRPCMessageSize,
	}, app.logger, gs.Services{
		Uploads:   app.uploads,
		Downloads: app.downloads,
		Manifest:  app.manifest,
		Sync:      app.sync,
	})

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startMetricsServer(ctx context.Context) {
	if app.config.MetricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: app.config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "metrics server started", "addr", app.config.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, "metrics server failed", "error", err)
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	// The sync workers outlive the edge: uploads finishing during the drain
	// still submit their events.
	syncCtx, stopSync := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSync()
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		_ = app.sync.Run(syncCtx)
	}()

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startMetricsServer(ctx)
	}()

	wg.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.uploads.Drain(drainCtx); err != nil {
		app.logger.Warn(drainCtx, "uploads still running at shutdown", "error", err)
	}

	stopSync()
	<-syncDone

	if err := app.db.Close(); err != nil {
		app.logger.Error(drainCtx, "close db", "error", err)
	}
	app.logger.Info(drainCtx, "app stopped")
}
