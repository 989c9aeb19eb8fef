// Package rest serves the non-GraphQL HTTP endpoints: health probes.
package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// pinger is the minimal reachability check a dependency exposes.
type pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness probes. Readiness covers
// the database; the full health check also probes the BPM engine.
type HealthHandler struct {
	db      pinger
	engine  pinger
	version string
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(db, engine pinger, version string) *HealthHandler {
	return &HealthHandler{db: db, engine: engine, version: version}
}

// HealthResponse is the JSON response for the probes.
type HealthResponse struct {
	Status     string                `json:"status"`
	Version    string                `json:"version,omitempty"`
	Components map[string]CompStatus `json:"components,omitempty"`
	Timestamp  time.Time             `json:"timestamp"`
}

// CompStatus is the status of an individual component.
type CompStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
}

// Live is the liveness probe. Always returns 200.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
	})
}

// Ready is the readiness probe: 200 when the database answers, 503 otherwise.
// Engine unavailability does not fail readiness — reads keep working while
// the engine is down.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:    "down",
			Timestamp: time.Now(),
		})
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
	})
}

// Health is the full health check: database and BPM engine with latency,
// plus the build version.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	components := map[string]CompStatus{
		"database": probe(ctx, h.db),
		"engine":   probe(ctx, h.engine),
	}

	overall := "ok"
	status := http.StatusOK
	if components["database"].Status != "ok" {
		overall = "down"
		status = http.StatusServiceUnavailable
	} else if components["engine"].Status != "ok" {
		overall = "degraded"
	}

	writeJSON(w, status, HealthResponse{
		Status:     overall,
		Version:    h.version,
		Components: components,
		Timestamp:  time.Now(),
	})
}

func probe(ctx context.Context, p pinger) CompStatus {
	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return CompStatus{Status: "down"}
	}
	return CompStatus{Status: "ok", Latency: time.Since(start).String()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
