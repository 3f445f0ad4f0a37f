// Package router configures HTTP routes for the detector's HTTP API.
//
// Routes configured:
//   - POST /detect-anomaly - Label and score a batch of durations
//   - GET /healthz - Liveness check (returns 200 OK)
//   - GET /readyz - Readiness check (503 until the model is loaded)
//   - GET /metrics - Prometheus metrics endpoint
//
// The /detect-anomaly endpoint accepts {"times": [number, ...]} and answers
// {"predictions": [int, ...], "scores": [number, ...]}, index-aligned with
// the input. Malformed requests are rejected with a 400 and a JSON error body
// before the model is consulted.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"

	"github.com/HatiCode/latencyguard/cmd/detector/metrics"
	"github.com/HatiCode/latencyguard/pkg/httpx"
	"github.com/HatiCode/latencyguard/pkg/models"
)

// DefaultMaxBodyBytes is used when Options.MaxBodyBytes is not positive.
const DefaultMaxBodyBytes = 1 << 20

// Detector labels and scores samples for the /detect-anomaly route.
type Detector interface {
	Detect(ctx context.Context, samples []float64) (models.Detection, error)
	Ready() error
}

// Options configures the HTTP routes.
type Options struct {
	MaxBodyBytes int64
	CORSOrigins  []string
	// Gatherer backs /metrics. Nil means the default Prometheus registry.
	Gatherer prometheus.Gatherer
}

// ValidationError is a client error in the request body. Its message is
// returned verbatim in the 400 response.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// SetupRoutes configures HTTP endpoints for the detector and wraps them with
// logging, panic recovery and CORS.
func SetupRoutes(d Detector, opts Options, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	mux := http.NewServeMux()

	mux.Handle("/healthz", httpx.HealthHandler())
	mux.Handle("/readyz", httpx.HealthHandlerWithCheck(d.Ready))
	mux.HandleFunc("/detect-anomaly", handleDetect(d, opts.MaxBodyBytes, m, logger))

	if opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	return httpx.Chain(mux,
		httpx.LoggingMiddleware(logger),
		httpx.RecoveryMiddleware(logger),
		httpx.CORSMiddleware(opts.CORSOrigins),
	)
}

// handleDetect returns a handler for POST /detect-anomaly.
func handleDetect(d Detector, maxBodyBytes int64, m *metrics.Metrics, logger *slog.Logger) http.HandlerFunc {
	fail := func(w http.ResponseWriter, status int, message string) {
		m.RecordRequest(status)
		httpx.WriteErrorMessage(w, status, message)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
		case http.MethodOptions:
			w.Header().Set("Allow", "POST, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		default:
			w.Header().Set("Allow", "POST, OPTIONS")
			fail(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				m.RecordError("router", "body_too_large")
				fail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
				return
			}
			logger.Warn("failed to read request body", "error", err)
			m.RecordError("router", "read_body")
			fail(w, http.StatusBadRequest, "failed to read request body")
			return
		}

		times, err := ParseTimes(body)
		if err != nil {
			m.RecordError("router", "validation")
			fail(w, http.StatusBadRequest, err.Error())
			return
		}

		logger.Info("detect-anomaly request received", "samples", len(times))
		logger.Debug("detect-anomaly payload", "times", times)

		detection, err := d.Detect(r.Context(), times)
		if err != nil {
			logger.Error("anomaly detection failed", "samples", len(times), "error", err)
			m.RecordError("detector", "predict")
			fail(w, http.StatusInternalServerError, "internal server error")
			return
		}

		m.RecordRequest(http.StatusOK)
		if err := httpx.WriteJSON(w, http.StatusOK, detection); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// ParseTimes validates a detect-anomaly request body and extracts the
// "times" array. Failures are returned as *ValidationError.
func ParseTimes(body []byte) ([]float64, error) {
	if !gjson.ValidBytes(body) {
		return nil, invalid("request body is not valid JSON")
	}

	field := gjson.GetBytes(body, "times")
	if !field.Exists() || field.Type == gjson.Null {
		return nil, invalid("times is required")
	}
	if !field.IsArray() {
		return nil, invalid("times must be an array of numbers")
	}

	elems := field.Array()
	times := make([]float64, len(elems))
	for i, elem := range elems {
		if elem.Type != gjson.Number {
			return nil, invalid("times[%d] must be a number", i)
		}
		times[i] = elem.Float()
	}
	return times, nil
}
