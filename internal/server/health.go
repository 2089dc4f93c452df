package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/paperless-rag/ragserver-go/internal/logging"
)

// probeTimeout is the maximum time allowed for each individual dependency
// probe during a health or readiness check. Kept short so these endpoints
// respond quickly even when a dependency is slow rather than unreachable.
const probeTimeout = 5 * time.Second

// Pinger is the interface implemented by any dependency that can report its
// own reachability. Each implementation must return nil when the dependency
// is healthy and a descriptive error otherwise.
// Implementations must be safe to call from multiple goroutines.
type Pinger interface {
	// Ping checks whether the dependency is reachable within the given context.
	// Returns nil on success, a descriptive error on failure.
	Ping(ctx context.Context) error

	// Name returns a short human-readable label used in health/readiness
	// responses (e.g. "dms", "qdrant", "llm").
	Name() string
}

// MultiPinger aggregates one or more Pinger implementations and reports the
// combined readiness of all dependencies.
type MultiPinger struct {
	pingers []Pinger
}

// NewMultiPinger constructs a MultiPinger from the provided list of Pingers.
func NewMultiPinger(pingers ...Pinger) *MultiPinger {
	return &MultiPinger{pingers: pingers}
}

// Ping runs all registered probes sequentially and returns the first error
// encountered, or nil if all probes succeed.
func (m *MultiPinger) Ping(ctx context.Context) error {
	for _, p := range m.pingers {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return nil
}

// Name returns a combined label for logging purposes.
func (m *MultiPinger) Name() string { return "multi" }

// readyCheck holds the per-dependency result of a readiness probe.
type readyCheck struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// readyResponse is the JSON body returned by GET /ready.
type readyResponse struct {
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
}

// handleReady handles GET /ready. It probes each registered Pinger with a
// short timeout and returns 200 when all dependencies are reachable, or 503
// when any probe fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	resp := readyResponse{Ready: true}
	allOK := true

	for _, p := range s.pingers {
		probeCtx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Ping(probeCtx)
		cancel()

		check := readyCheck{Name: p.Name(), OK: err == nil}
		if err != nil {
			check.Error = err.Error()
			allOK = false
			log.Warn("readiness probe failed", slog.String("dependency", p.Name()), slog.Any("error", err))
		}
		resp.Checks = append(resp.Checks, check)
	}

	resp.Ready = allOK

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("ready encode error", slog.Any("error", err))
	}
}

// healthResponse is the JSON body returned by GET /health: an overall status
// plus a per-dependency status string, each either "healthy" or
// "error: <detail>".
type healthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// handleHealth handles GET /health. Unlike /ready, it always returns 200 —
// it is a liveness/diagnostic endpoint, not a traffic gate — and reports
// each dependency's status as a human-readable string.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	resp := healthResponse{Status: "healthy"}
	if len(s.pingers) > 0 {
		resp.Dependencies = make(map[string]string, len(s.pingers))
	}

	for _, p := range s.pingers {
		probeCtx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Ping(probeCtx)
		cancel()

		if err != nil {
			resp.Dependencies[p.Name()] = "error: " + err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Dependencies[p.Name()] = "healthy"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("health encode error", slog.Any("error", err))
	}
}
