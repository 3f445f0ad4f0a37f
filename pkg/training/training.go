// Package training fits the approval-duration anomaly model and persists it
// as an artifact for the detector.
package training

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/latencyguard/pkg/models"
	"github.com/HatiCode/latencyguard/pkg/storage"
)

// DefaultArtifact is the artifact name shared by the trainer and the detector.
const DefaultArtifact = "anomaly_detection_model.json"

// TrainingTimes are the request approval durations, in seconds, that define
// normal behaviour.
var TrainingTimes = []float64{60, 120, 180, 240, 300}

// Fit trains an isolation forest on samples.
func Fit(ctx context.Context, samples []float64, params models.Params) (*models.IsolationForest, error) {
	forest := models.NewIsolationForest(params)
	if err := forest.Fit(ctx, models.Column(samples)); err != nil {
		return nil, fmt.Errorf("fit %s: %w", forest.Name(), err)
	}
	return forest, nil
}

// Train fits a model on TrainingTimes and writes it to store under name,
// replacing any previous artifact with that name.
func Train(ctx context.Context, store storage.Store, name string, params models.Params, logger *slog.Logger) (*models.IsolationForest, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}

	start := time.Now()
	forest, err := Fit(ctx, TrainingTimes, params)
	if err != nil {
		return nil, err
	}

	data, err := forest.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}

	if err := store.Put(ctx, name, data); err != nil {
		return nil, fmt.Errorf("save artifact to %s: %w", storage.Describe(store, name), err)
	}

	logger.Info("model trained",
		"model", forest.Name(),
		"samples", len(TrainingTimes),
		"trees", forest.Params().Trees,
		"contamination", models.FormatContamination(forest.Params().Contamination),
		"offset", forest.Offset(),
		"artifact_bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return forest, nil
}
