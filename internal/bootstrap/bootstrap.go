// Package bootstrap provides dependency initialization for the ClipFuse API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/clipfuse/internal/audio"
	"github.com/maauso/clipfuse/internal/config"
	"github.com/maauso/clipfuse/internal/media"
	"github.com/maauso/clipfuse/internal/run"
	"github.com/maauso/clipfuse/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	ComposeService *run.ComposeService
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize media tooling
	prober := media.NewFFprobe(cfg.FFprobePath)
	encoder := media.NewFFmpegEncoder(cfg.FFmpegPath, cfg.EncodeSettings())
	normalizer := audio.NewFFmpegNormalizer(cfg.FFmpegPath, logger)

	// Initialize run repository
	repo := run.NewMemoryRepository()

	svc := run.NewComposeService(
		repo,
		prober,
		encoder,
		normalizer,
		store,
		run.WithMaxConcurrentRuns(cfg.MaxConcurrentRuns),
		run.WithLogger(logger),
	)

	return &Dependencies{
		ComposeService: svc,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.WorkDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("work_dir", cfg.WorkDir),
	)
	return localStore, nil
}
