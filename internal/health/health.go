// Package health serves the ops liveness and readiness probes.
//
//   - /healthz answers 200 whenever the process can serve HTTP.
//   - /readyz answers 200 only while every registered [Checker] passes,
//     503 otherwise.
//
// Both respond with a JSON body of the form {"status": ..., "checks": {...}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// checkTimeout bounds each individual readiness check.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil while the dependency is
// usable and must respect context cancellation.
type Checker struct {
	// Name keys the check's result in the JSON response.
	Name string

	Check func(ctx context.Context) error
}

// Pinger is the health probe surface the speech and language providers
// share.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProviderChecker wraps a provider's Ping as a readiness checker, so the
// same probes used at startup preflight back /readyz at runtime.
func ProviderChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// GatewayChecker reports readiness of the Discord gateway connection.
// connected should return true while the websocket session is up.
func GatewayChecker(connected func() bool) Checker {
	return Checker{Name: "discord", Check: func(context.Context) error {
		if !connected() {
			return errGatewayDown
		}
		return nil
	}}
}

var errGatewayDown = errors.New("gateway session not connected")

// Handler answers the probe routes. The checker set is fixed at
// construction, making the handler safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a [Handler] evaluating the given checkers, in order, on every
// /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts the probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe; it always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeResult{Status: "ok"})
}

// Readyz runs every checker under a [checkTimeout] deadline and answers 503
// when any of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := probeResult{
		Status: "ok",
		Checks: make(map[string]string, len(h.checkers)),
	}
	status := http.StatusOK

	for _, c := range h.checkers {
		res.Checks[c.Name] = h.runCheck(r.Context(), c)
		if res.Checks[c.Name] != "ok" {
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, res)
}

func (h *Handler) runCheck(ctx context.Context, c Checker) string {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := c.Check(ctx); err != nil {
		return "fail: " + err.Error()
	}
	return "ok"
}

// probeResult is the JSON body of both probe responses.
type probeResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
