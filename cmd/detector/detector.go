// Package main implements the detector's model holder.
//
// This file contains the Detector type which owns the loaded isolation forest
// and answers detect-anomaly requests:
//
//	load artifact → Ready → Detect (cache lookup → predict misses → merge)
//
// The model is loaded once at startup and never replaced while serving, so
// Detect needs no locking around it. Per-sample results are memoised in an
// LRU cache keyed by the sample's bit pattern.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/HatiCode/latencyguard/cmd/detector/metrics"
	"github.com/HatiCode/latencyguard/pkg/models"
	"github.com/HatiCode/latencyguard/pkg/storage"
)

// ErrModelNotLoaded is returned by Ready and Detect before a model is loaded.
var ErrModelNotLoaded = errors.New("model not loaded")

type scored struct {
	label int
	score float64
}

// Detector serves predictions from a single immutable model.
type Detector struct {
	model   atomic.Pointer[models.IsolationForest]
	cache   *lru.Cache[uint64, scored]
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Detector with no model. cacheSize 0 disables the score cache.
func New(cacheSize int, logger *slog.Logger, m *metrics.Metrics) (*Detector, error) {
	if logger == nil {
		logger = slog.Default()
	}

	d := &Detector{logger: logger, metrics: m}
	if cacheSize > 0 {
		cache, err := lru.New[uint64, scored](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create score cache: %w", err)
		}
		d.cache = cache
	}
	return d, nil
}

// Load reads the named artifact from store and makes it the serving model.
func (d *Detector) Load(ctx context.Context, store storage.Store, name string) error {
	location := storage.Describe(store, name)

	data, found, err := store.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("read artifact from %s: %w", location, err)
	}
	if !found {
		return fmt.Errorf("artifact not found at %s", location)
	}

	forest := &models.IsolationForest{}
	if err := forest.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("decode artifact from %s: %w", location, err)
	}

	if err := d.SetModel(forest); err != nil {
		return err
	}

	d.logger.Info("model loaded",
		"location", location,
		"model", forest.Name(),
		"trees", forest.Params().Trees,
		"contamination", models.FormatContamination(forest.Params().Contamination),
		"trained_at", forest.TrainedAt().Format(time.RFC3339),
	)
	return nil
}

// SetModel installs a fitted model. It may only be called once.
func (d *Detector) SetModel(forest *models.IsolationForest) error {
	if forest == nil || !forest.Fitted() {
		return models.ErrNotFitted
	}
	if !d.model.CompareAndSwap(nil, forest) {
		return errors.New("model already loaded")
	}
	if d.metrics != nil {
		d.metrics.SetModelLoaded(true)
	}
	return nil
}

// Ready reports whether a model is loaded.
func (d *Detector) Ready() error {
	if d.model.Load() == nil {
		return ErrModelNotLoaded
	}
	return nil
}

// Detect labels and scores samples. Results are index-aligned with samples.
func (d *Detector) Detect(ctx context.Context, samples []float64) (models.Detection, error) {
	forest := d.model.Load()
	if forest == nil {
		return models.Detection{}, ErrModelNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return models.Detection{}, err
	}

	start := time.Now()

	out := models.Detection{
		Predictions: make([]int, len(samples)),
		Scores:      make([]float64, len(samples)),
	}

	// Indexes of samples not found in the cache.
	var missing []int
	var misses []float64
	for i, x := range samples {
		if d.cache != nil {
			if hit, ok := d.cache.Get(math.Float64bits(x)); ok {
				out.Predictions[i] = hit.label
				out.Scores[i] = hit.score
				continue
			}
		}
		missing = append(missing, i)
		misses = append(misses, x)
	}

	if len(misses) > 0 {
		computed, err := models.Detect(forest, misses)
		if err != nil {
			return models.Detection{}, err
		}
		for j, i := range missing {
			out.Predictions[i] = computed.Predictions[j]
			out.Scores[i] = computed.Scores[j]
			if d.cache != nil {
				d.cache.Add(math.Float64bits(misses[j]), scored{
					label: computed.Predictions[j],
					score: computed.Scores[j],
				})
			}
		}
	}

	if d.metrics != nil {
		anomalies := 0
		for _, p := range out.Predictions {
			if p == models.LabelAnomaly {
				anomalies++
			}
		}
		d.metrics.RecordPredict(time.Since(start).Seconds(), len(samples), anomalies)
		if d.cache != nil {
			d.metrics.RecordCache(len(samples)-len(misses), len(misses))
		}
	}

	return out, nil
}
