// Package models provides the anomaly detection models used by latencyguard.
//
// A model is fit once on a set of single-feature rows and then used read-only
// to label and score new observations. The only implementation today is
// IsolationForest, which follows the classic isolation forest algorithm:
// anomalies are isolated by fewer random partitions than normal points.
//
// Labels follow the usual convention:
//   - LabelNormal (+1)
//   - LabelAnomaly (-1)
//
// Scores come from DecisionFunction: negative values mark anomalies and the
// more negative the score, the more isolated the observation.
package models

import (
	"context"
	"errors"
	"fmt"
)

// Label values returned by Predict.
const (
	LabelNormal  = 1
	LabelAnomaly = -1
)

var (
	// ErrNotFitted is returned when a model is used before Fit or UnmarshalBinary.
	ErrNotFitted = errors.New("model is not fitted")

	// ErrEmptyTrainingSet is returned by Fit when no rows are provided.
	ErrEmptyTrainingSet = errors.New("training set is empty")

	// ErrDimensionMismatch is returned when rows do not have the width the model was fit on.
	ErrDimensionMismatch = errors.New("feature dimension mismatch")
)

// Detector is the interface implemented by anomaly detection models.
//
// Fit is the only mutating call. Once fit, Predict and DecisionFunction must be
// safe for concurrent use.
type Detector interface {
	// Name returns the model identifier, e.g. "isolation_forest".
	Name() string

	// Fit trains the model on rows of features.
	Fit(ctx context.Context, rows [][]float64) error

	// Predict returns LabelNormal or LabelAnomaly for each row.
	Predict(rows [][]float64) ([]int, error)

	// DecisionFunction returns the anomaly score for each row.
	DecisionFunction(rows [][]float64) ([]float64, error)
}

// Detection is the labelled and scored result for a batch of samples.
// Predictions[i] and Scores[i] correspond to the i-th input sample.
type Detection struct {
	Predictions []int     `json:"predictions"`
	Scores      []float64 `json:"scores"`
}

// Column reshapes scalar samples into single-feature rows.
func Column(values []float64) [][]float64 {
	rows := make([][]float64, len(values))
	for i, v := range values {
		rows[i] = []float64{v}
	}
	return rows
}

// Detect labels and scores scalar samples with d.
// An empty input yields an empty, non-nil Detection.
func Detect(d Detector, samples []float64) (Detection, error) {
	if len(samples) == 0 {
		return Detection{Predictions: []int{}, Scores: []float64{}}, nil
	}

	rows := Column(samples)

	predictions, err := d.Predict(rows)
	if err != nil {
		return Detection{}, fmt.Errorf("%s: predict: %w", d.Name(), err)
	}

	scores, err := d.DecisionFunction(rows)
	if err != nil {
		return Detection{}, fmt.Errorf("%s: decision function: %w", d.Name(), err)
	}

	if len(predictions) != len(samples) || len(scores) != len(samples) {
		return Detection{}, fmt.Errorf("%s: expected %d results, got %d predictions and %d scores",
			d.Name(), len(samples), len(predictions), len(scores))
	}

	return Detection{Predictions: predictions, Scores: scores}, nil
}
