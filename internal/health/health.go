// Package health serves the liveness and readiness probes of the hush
// server.
//
// GET /healthz answers 200 while the process can serve HTTP. GET /readyz
// answers 200 only while the server is not draining and every [Checker]
// passes; otherwise 503. Both return {"status": "ok"|"fail", "checks": {...}}.
package health

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// ErrDraining is reported by [Handler.Ready] once shutdown has begun.
var ErrDraining = errors.New("shutting down")

// Checker is one named readiness condition, such as free streaming
// capacity. Check returns nil when the condition holds.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler evaluates a fixed set of checkers. It is safe for concurrent use.
type Handler struct {
	checkers []Checker
	draining atomic.Bool
}

// New returns a Handler for checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// SetDraining flips readiness off (or back on). Liveness is unaffected.
func (h *Handler) SetDraining(draining bool) {
	h.draining.Store(draining)
}

// Ready runs all checkers concurrently and returns their errors by name,
// joined into one error when any failed. Draining is reported under the
// name "draining".
func (h *Handler) Ready(ctx context.Context) (map[string]error, error) {
	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			errs[i] = c.Check(cctx)
			return nil
		})
	}
	_ = g.Wait()

	byName := make(map[string]error, len(h.checkers)+1)
	for i, c := range h.checkers {
		byName[c.Name] = errs[i]
	}
	if h.draining.Load() {
		byName["draining"] = ErrDraining
		errs = append(errs, ErrDraining)
	}
	return byName, errors.Join(errs...)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	byName, err := h.Ready(r.Context())

	res := result{Status: "ok", Checks: make(map[string]string, len(byName))}
	for name, cerr := range byName {
		if cerr != nil {
			res.Checks[name] = "fail: " + cerr.Error()
			continue
		}
		res.Checks[name] = "ok"
	}
	status := http.StatusOK
	if err != nil {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"fail"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
