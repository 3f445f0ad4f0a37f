package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/HatiCode/latencyguard/cmd/detector/metrics"
	"github.com/HatiCode/latencyguard/pkg/models"
)

// thresholdDetector labels samples above limit as anomalies and scores each
// sample as limit - x.
type thresholdDetector struct {
	limit    float64
	err      error
	panicMsg string
	notReady bool
	calls    [][]float64
}

func (d *thresholdDetector) Detect(_ context.Context, samples []float64) (models.Detection, error) {
	if d.panicMsg != "" {
		panic(d.panicMsg)
	}
	d.calls = append(d.calls, samples)
	if d.err != nil {
		return models.Detection{}, d.err
	}
	out := models.Detection{Predictions: make([]int, len(samples)), Scores: make([]float64, len(samples))}
	for i, x := range samples {
		out.Scores[i] = d.limit - x
		out.Predictions[i] = models.LabelNormal
		if x > d.limit {
			out.Predictions[i] = models.LabelAnomaly
		}
	}
	return out, nil
}

func (d *thresholdDetector) Ready() error {
	if d.notReady {
		return errors.New("model not loaded")
	}
	return nil
}

func setup(t *testing.T, d Detector, opts Options) (http.Handler, *metrics.Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "test")
	opts.Gatherer = reg
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return SetupRoutes(d, opts, m, logger), m
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/detect-anomaly", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v (%q)", err, w.Body.String())
	}
	return body.Error
}

func TestDetect_Success(t *testing.T) {
	d := &thresholdDetector{limit: 300}
	h, m := setup(t, d, Options{})

	w := post(h, `{"times": [60, 120, 500]}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d (%s)", w.Code, http.StatusOK, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var got models.Detection
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if want := []int{1, 1, -1}; !reflect.DeepEqual(got.Predictions, want) {
		t.Errorf("predictions = %v, want %v", got.Predictions, want)
	}
	if want := []float64{240, 180, -200}; !reflect.DeepEqual(got.Scores, want) {
		t.Errorf("scores = %v, want %v", got.Scores, want)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("200")); got != 1 {
		t.Errorf("requests{code=200} = %v, want 1", got)
	}
}

func TestDetect_EmptyTimes(t *testing.T) {
	h, _ := setup(t, &thresholdDetector{limit: 300}, Options{})

	w := post(h, `{"times": []}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(w.Body.String()); body != `{"predictions":[],"scores":[]}` {
		t.Errorf("body = %s", body)
	}
}

func TestDetect_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "empty body", body: "", want: "request body is not valid JSON"},
		{name: "truncated", body: `{"times": [1, 2`, want: "request body is not valid JSON"},
		{name: "missing times", body: `{"durations": [1]}`, want: "times is required"},
		{name: "null times", body: `{"times": null}`, want: "times is required"},
		{name: "top-level array", body: `[1, 2]`, want: "times is required"},
		{name: "times is number", body: `{"times": 5}`, want: "times must be an array of numbers"},
		{name: "times is object", body: `{"times": {"a": 1}}`, want: "times must be an array of numbers"},
		{name: "string element", body: `{"times": [1, "2"]}`, want: "times[1] must be a number"},
		{name: "null element", body: `{"times": [null]}`, want: "times[0] must be a number"},
		{name: "nested array", body: `{"times": [1, 2, [3]]}`, want: "times[2] must be a number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &thresholdDetector{limit: 300}
			h, _ := setup(t, d, Options{})

			w := post(h, tt.body)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status code = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if got := decodeError(t, w); got != tt.want {
				t.Errorf("error = %q, want %q", got, tt.want)
			}
			if len(d.calls) != 0 {
				t.Error("detector should not be called for invalid requests")
			}
		})
	}
}

func TestDetect_BodyTooLarge(t *testing.T) {
	h, _ := setup(t, &thresholdDetector{limit: 300}, Options{MaxBodyBytes: 16})

	w := post(h, `{"times": [60, 120, 180, 240, 300]}`)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestDetect_MethodNotAllowed(t *testing.T) {
	h, _ := setup(t, &thresholdDetector{limit: 300}, Options{})

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/detect-anomaly", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s status code = %d, want %d", method, w.Code, http.StatusMethodNotAllowed)
		}
	}
}

func TestDetect_Preflight(t *testing.T) {
	h, _ := setup(t, &thresholdDetector{limit: 300}, Options{CORSOrigins: []string{"*"}})

	req := httptest.NewRequest(http.MethodOptions, "/detect-anomaly", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestDetect_CORSOnPost(t *testing.T) {
	h, _ := setup(t, &thresholdDetector{limit: 300}, Options{CORSOrigins: []string{"*"}})

	req := httptest.NewRequest(http.MethodPost, "/detect-anomaly", strings.NewReader(`{"times":[1]}`))
	req.Header.Set("Origin", "https://dashboard.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestDetect_InternalError(t *testing.T) {
	d := &thresholdDetector{limit: 300, err: errors.New("boom")}
	h, m := setup(t, d, Options{})

	w := post(h, `{"times": [60]}`)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if got := decodeError(t, w); got != "internal server error" {
		t.Errorf("error = %q, want %q", got, "internal server error")
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("detector", "predict")); got != 1 {
		t.Errorf("errors{detector,predict} = %v, want 1", got)
	}
}

func TestDetect_PanicRecovered(t *testing.T) {
	d := &thresholdDetector{limit: 300, panicMsg: "corrupt tree"}
	h, _ := setup(t, d, Options{})

	w := post(h, `{"times": [60]}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	// The handler keeps serving after a panic.
	d.panicMsg = ""
	if w := post(h, `{"times": [60]}`); w.Code != http.StatusOK {
		t.Errorf("status code after panic = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := setup(t, &thresholdDetector{notReady: true}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if body := w.Body.String(); body != "OK" {
		t.Errorf("body = %q, want %q", body, "OK")
	}
}

func TestReadyEndpoint(t *testing.T) {
	d := &thresholdDetector{notReady: true}
	h, _ := setup(t, d, Options{})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	d.notReady = false
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := setup(t, &thresholdDetector{limit: 300}, Options{})
	post(h, `{"times": [60]}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "latencyguard_requests_total") {
		t.Error("metrics output should include latencyguard_requests_total")
	}
}

func TestParseTimes(t *testing.T) {
	got, err := ParseTimes([]byte(`{"times": [60, 1.5e2, -3, 0]}`))
	if err != nil {
		t.Fatalf("ParseTimes() error = %v", err)
	}
	if want := []float64{60, 150, -3, 0}; !reflect.DeepEqual(got, want) {
		t.Errorf("ParseTimes() = %v, want %v", got, want)
	}

	_, err = ParseTimes([]byte(`{}`))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("ParseTimes() error = %T, want *ValidationError", err)
	}
}
