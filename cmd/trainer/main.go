// Command trainer fits the approval-duration anomaly model and saves it.
//
// The model is an isolation forest trained on a fixed set of normal request
// approval durations. The artifact is written to the configured store,
// replacing any previous artifact with the same name, and is loaded by the
// detector at startup.
//
// Usage:
//
//	trainer -artifact-dir=/models
//	trainer -storage=redis -redis-addr=redis:6379
//
// Environment variables:
//
//	ARTIFACT      - Model artifact name (default: anomaly_detection_model.json)
//	STORAGE       - Artifact storage backend: file, redis, s3 (default: file)
//	ARTIFACT_DIR  - Artifact directory for file storage (default: .)
//	CONTAMINATION - Expected anomaly fraction (default: 0.1)
//	TREES         - Number of isolation trees (default: 100)
//	SEED          - Random seed (default: 42)
//	LOG_LEVEL     - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT    - Logging format: text, json (default: text)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/HatiCode/latencyguard/cmd/trainer/config"
	"github.com/HatiCode/latencyguard/pkg/logger"
	"github.com/HatiCode/latencyguard/pkg/storage"
	"github.com/HatiCode/latencyguard/pkg/training"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	log := logger.New(logger.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	location, err := run(ctx, cfg, log)
	if err != nil {
		log.Error("training failed", "error", err)
		stop()
		os.Exit(1)
	}

	fmt.Printf("model trained and saved to %s\n", location)
}

// run trains the model and returns where the artifact was written.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) (string, error) {
	log.Info("starting latencyguard trainer",
		"version", version,
		"artifact", cfg.Artifact,
		"storage", cfg.Storage.Backend,
	)

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return "", err
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				log.Warn("failed to close artifact store", "error", err)
			}
		}()
	}

	if _, err := training.Train(ctx, store, cfg.Artifact, cfg.Model, log); err != nil {
		return "", err
	}
	return storage.Describe(store, cfg.Artifact), nil
}
