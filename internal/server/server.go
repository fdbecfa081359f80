// Package server exposes hush over HTTP.
//
// Routes:
//
//   - POST /v1/analyze: analyse a WAV request body and return the JSON result.
//   - GET /v1/describe: output and parameter descriptors plus the classifiers.
//   - GET /v1/stream: WebSocket streaming sessions (see package stream).
//   - GET /healthz, GET /readyz: liveness and readiness.
//   - GET /metrics: Prometheus scrape endpoint.
//
// Every route is wrapped in [observe.Middleware].
package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/hush/internal/analyze"
	"github.com/MrWong99/hush/internal/config"
	"github.com/MrWong99/hush/internal/health"
	"github.com/MrWong99/hush/internal/observe"
	"github.com/MrWong99/hush/pkg/audio"
	"github.com/MrWong99/hush/pkg/silence"
)

// DefaultMaxBodyBytes caps an analyze request body.
const DefaultMaxBodyBytes = 64 << 20

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics used by the middleware and the analyzer. The
// default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithStream mounts h on GET /v1/stream.
func WithStream(h http.Handler) Option {
	return func(s *Server) { s.stream = h }
}

// WithHealth registers the health endpoints of h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler replaces the /metrics handler. The default serves the
// global Prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMaxBodyBytes caps analyze request bodies at n bytes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// Server routes HTTP requests. It is safe for concurrent use.
type Server struct {
	registry       *config.Registry
	logger         *slog.Logger
	metrics        *observe.Metrics
	stream         http.Handler
	health         *health.Handler
	metricsHandler http.Handler
	maxBody        int64

	mu       sync.RWMutex
	detector config.DetectorConfig
}

// New returns a server analysing with the detector settings of cfg and the
// classifiers in reg.
func New(cfg *config.Config, reg *config.Registry, opts ...Option) *Server {
	s := &Server{
		registry:       reg,
		logger:         slog.Default(),
		metrics:        observe.DefaultMetrics(),
		metricsHandler: promhttp.Handler(),
		maxBody:        DefaultMaxBodyBytes,
		detector:       cfg.Detector,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply replaces the detector defaults for subsequent requests.
func (s *Server) Apply(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detector = cfg.Detector
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /v1/describe", s.handleDescribe)
	if s.stream != nil {
		mux.Handle("GET /v1/stream", s.stream)
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", s.metricsHandler)
	return observe.Middleware(s.metrics)(mux)
}

func (s *Server) defaults() config.DetectorConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detector
}

// handleAnalyze runs batch analysis over the request body. Query parameters
// threshold_db, step_size, classifier and refine_first_block override the
// configured detector settings; name sets the reported source.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	det, err := detectorFromQuery(s.defaults(), r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c, err := s.registry.CreateClassifier(det)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = "request"
	}
	a := analyze.New(det, c,
		analyze.WithLogger(s.logger),
		analyze.WithMetrics(s.metrics),
	)
	res, err := a.Reader(r.Context(), name, bytes.NewReader(body))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, audio.ErrInvalidWAV):
			status = http.StatusUnsupportedMediaType
		case errors.Is(err, silence.ErrStepTooSmall), errors.Is(err, silence.ErrStepTooLarge),
			errors.Is(err, silence.ErrTooManyChannels), errors.Is(err, silence.ErrThresholdOutOfRange):
			status = http.StatusBadRequest
		}
		if status == http.StatusInternalServerError {
			observe.Logger(r.Context()).Error("analyze request failed", "err", err)
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// detectorFromQuery applies the query overrides of r to base.
func detectorFromQuery(base config.DetectorConfig, r *http.Request) (config.DetectorConfig, error) {
	q := r.URL.Query()
	var errs []error
	if v := q.Get("threshold_db"); v != "" {
		db, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("threshold_db %q is not a number", v))
		}
		base.ThresholdDB = db
	}
	if v := q.Get("step_size"); v != "" {
		n, err := strconv.Atoi(v)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("step_size %q is not an integer", v))
		case n < silence.MinStepSize || n > silence.MaxStepSize:
			errs = append(errs, fmt.Errorf("step_size %d is out of range [%d, %d]", n, silence.MinStepSize, silence.MaxStepSize))
		}
		base.StepSize = n
		base.BlockSize = 0
	}
	if v := q.Get("classifier"); v != "" {
		base.Classifier = v
	}
	if v := q.Get("refine_first_block"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("refine_first_block %q is not a boolean", v))
		}
		base.RefineFirstBlock = b
	}
	return base, errors.Join(errs...)
}

// Description is the body of GET /v1/describe.
type Description struct {
	Outputs     []silence.OutputDescriptor    `json:"outputs"`
	Parameters  []silence.ParameterDescriptor `json:"parameters"`
	Classifiers []string                      `json:"classifiers"`
	Defaults    DetectorDefaults              `json:"defaults"`
}

// DetectorDefaults are the settings applied when a request overrides none.
type DetectorDefaults struct {
	Classifier       string  `json:"classifier"`
	ThresholdDB      float64 `json:"threshold_db"`
	StepSize         int     `json:"step_size"`
	BlockSize        int     `json:"block_size"`
	Increment        int     `json:"increment"`
	RefineFirstBlock bool    `json:"refine_first_block"`
}

func (s *Server) handleDescribe(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Describe(s.defaults(), s.registry))
}

// Describe returns the descriptor document served by GET /v1/describe.
func Describe(det config.DetectorConfig, reg *config.Registry) Description {
	return Description{
		Outputs:     silence.Outputs(),
		Parameters:  silence.Parameters(),
		Classifiers: reg.Classifiers(),
		Defaults: DetectorDefaults{
			Classifier:       det.Classifier,
			ThresholdDB:      det.ThresholdDB,
			StepSize:         det.StepSize,
			BlockSize:        det.BlockSize,
			Increment:        silence.Increment(det.StepSize),
			RefineFirstBlock: det.RefineFirstBlock,
		},
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
