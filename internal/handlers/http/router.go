// Package http exposes the process health, scan statistics, stored
// snapshots and Prometheus metrics over HTTP.
package http

import (
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"

	"github.com/gabapcia/addresswatch/internal/addrstate"
	"github.com/gabapcia/addresswatch/internal/pkg/logger"
	"github.com/gabapcia/addresswatch/internal/scheduler"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scheduler is the part of scheduler.Service the handlers read.
type Scheduler interface {
	IsHealthy() bool
	Stats() scheduler.Stats
}

// FlagSource lists addresses whose checks fail permanently.
type FlagSource interface {
	Flagged() []string
}

// SnapshotReader loads the last stored snapshot of an address.
type SnapshotReader interface {
	Snapshot(ctx context.Context, address string) (addrstate.Snapshot, error)
}

type config struct {
	flagged   FlagSource
	snapshots SnapshotReader
	gatherer  prometheus.Gatherer
}

// Option customizes the router.
type Option func(*config)

// WithFlagSource adds flagged addresses to /status.
func WithFlagSource(f FlagSource) Option {
	return func(c *config) {
		c.flagged = f
	}
}

// WithSnapshots enables GET /addresses/{address}.
func WithSnapshots(r SnapshotReader) Option {
	return func(c *config) {
		c.snapshots = r
	}
}

// WithGatherer sets the registry served at /metrics. Defaults to
// prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(c *config) {
		c.gatherer = g
	}
}

type handlers struct {
	scheduler Scheduler
	config
}

// NewRouter returns the HTTP handler of the service.
func NewRouter(s Scheduler, opts ...Option) *mux.Router {
	cfg := config{gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(&cfg)
	}
	h := &handlers{scheduler: s, config: cfg}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(nethttp.MethodGet)
	r.HandleFunc("/status", h.status).Methods(nethttp.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{})).Methods(nethttp.MethodGet)
	if cfg.snapshots != nil {
		r.HandleFunc("/addresses/{address}", h.snapshot).Methods(nethttp.MethodGet)
	}
	return r
}

type healthResponse struct {
	Status string `json:"status"`
}

func (h *handlers) health(w nethttp.ResponseWriter, r *nethttp.Request) {
	if !h.scheduler.IsHealthy() {
		writeJSON(r.Context(), w, nethttp.StatusServiceUnavailable, healthResponse{Status: "unhealthy"})
		return
	}
	writeJSON(r.Context(), w, nethttp.StatusOK, healthResponse{Status: "ok"})
}

type statusResponse struct {
	scheduler.Stats
	Flagged []string `json:"flagged_addresses"`
}

func (h *handlers) status(w nethttp.ResponseWriter, r *nethttp.Request) {
	res := statusResponse{Stats: h.scheduler.Stats(), Flagged: []string{}}
	if h.flagged != nil {
		res.Flagged = append(res.Flagged, h.flagged.Flagged()...)
	}
	writeJSON(r.Context(), w, nethttp.StatusOK, res)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handlers) snapshot(w nethttp.ResponseWriter, r *nethttp.Request) {
	address := mux.Vars(r)["address"]

	snapshot, err := h.snapshots.Snapshot(r.Context(), address)
	switch {
	case errors.Is(err, addrstate.ErrSnapshotNotFound):
		writeJSON(r.Context(), w, nethttp.StatusNotFound, errorResponse{Error: err.Error()})
	case err != nil:
		logger.Error(r.Context(), "error loading snapshot", "address", address, "error", err)
		writeJSON(r.Context(), w, nethttp.StatusInternalServerError, errorResponse{Error: "internal error"})
	default:
		writeJSON(r.Context(), w, nethttp.StatusOK, snapshot)
	}
}

func writeJSON(ctx context.Context, w nethttp.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn(ctx, "error writing response", "error", err)
	}
}
