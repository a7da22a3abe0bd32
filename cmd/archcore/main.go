// Command archcore serves the model versioning engine over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"archcore/internal/adapters/httpapi"
	"archcore/internal/blob"
	"archcore/internal/config"
	"archcore/internal/core"
	"archcore/internal/infra/blob/s3"
	"archcore/internal/snapshot"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "archcore:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := core.NewZapLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.close(); err != nil {
			logger.Error("close store", "error", err.Error())
		}
	}()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      app.handler,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "storage", cfg.StorageDriver, "blob", cfg.BlobDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server exiting")
	return nil
}

type application struct {
	handler http.Handler
	close   func() error
}

// build wires the store, snapshot codec and service from cfg.
func build(ctx context.Context, cfg config.Config, logger core.Logger) (*application, error) {
	store, closeStore, err := core.OpenPersistentStore(core.StorageOptions{
		Driver:      core.StorageDriver(cfg.StorageDriver),
		SQLitePath:  cfg.SQLitePath,
		PostgresDSN: cfg.PostgresDSN,
	}, core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StorageDriver, err)
	}

	blobs, err := blob.Open(ctx, blob.Config{
		Driver: cfg.BlobDriver,
		FSRoot: cfg.BlobFSRoot,
		S3: s3.Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			SessionToken:    cfg.S3.SessionToken,
			PathStyle:       cfg.S3.PathStyle,
		},
	})
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	schemas, err := cfg.PropertySchemas()
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	codecOpts := []snapshot.Option{snapshot.WithSchemas(schemas...)}
	if cfg.SnapshotGit {
		codecOpts = append(codecOpts, snapshot.WithCommitter(
			snapshot.NewGitCommitter(cfg.SnapshotRoot, cfg.GitAuthorName, cfg.GitAuthorEmail)))
	}
	if blobs != nil {
		codecOpts = append(codecOpts, snapshot.WithPublisher(snapshot.NewPublisher(blobs, cfg.BlobPrefix)))
	}
	codec := snapshot.NewCodec(store, nil, cfg.SnapshotRoot, codecOpts...)

	metrics := core.NewPrometheusRecorder()
	svc := core.NewService(store,
		core.WithLogger(logger),
		core.WithMetricsRecorder(metrics),
		core.WithTracer(core.NewLogTracer(logger)),
		core.WithSnapshotCodec(codec),
		core.WithPropertySchemas(schemas...),
	)
	gin.SetMode(gin.ReleaseMode)
	return &application{handler: httpapi.NewRouter(svc, metrics.Registry()), close: closeStore}, nil
}
