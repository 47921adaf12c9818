// Package api exposes the HTTP surface: event publishing, status metrics,
// batch run inspection, and Prometheus exposition.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/stockledger/inventory/internal/metric"
	"github.com/stockledger/inventory/internal/models"
)

// Publisher pushes a validated event request onto the queue.
type Publisher interface {
	PublishMessage(ctx context.Context, payload interface{}) error
}

// MetricsStore serves the counts-by-status view.
type MetricsStore interface {
	CountInventoryItems(ctx context.Context) (int64, error)
	CountEvents(ctx context.Context) (int64, error)
	CountEventsByStatus(ctx context.Context, statuses ...models.EventStatus) (int64, error)
	CountBatchRuns(ctx context.Context) (int64, error)
	ListBatchRuns(ctx context.Context) ([]models.BatchRun, error)
}

// SweepTrigger runs one reprocessing sweep on demand.
type SweepTrigger interface {
	Sweep(ctx context.Context) (models.BatchRun, error)
}

type Server struct {
	addr    string
	bus     Publisher
	store   MetricsStore
	sweeper SweepTrigger
	metrics *metric.Set
	server  *http.Server
}

func NewServer(addr string, bus Publisher, store MetricsStore, sweeper SweepTrigger, metrics *metric.Set) *Server {
	s := &Server{addr: addr, bus: bus, store: store, sweeper: sweeper, metrics: metrics}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", s.handlePublishEvent)
	mux.HandleFunc("GET /events/metrics", s.handleEventMetrics)
	mux.HandleFunc("GET /batches", s.handleListBatchRuns)
	mux.HandleFunc("POST /batches/trigger", s.handleTriggerSweep)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	var req models.EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown event kind")
		return
	}
	if req.SKU == "" {
		writeError(w, http.StatusBadRequest, "sku is required")
		return
	}

	if err := s.bus.PublishMessage(r.Context(), req); err != nil {
		log.Error().Err(err).Msg("Failed to publish event")
		writeError(w, http.StatusServiceUnavailable, "failed to publish event")
		return
	}

	log.Info().Str("kind", string(req.Kind)).Str("sku", req.SKU).Msg("Event published")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "published"})
}

func (s *Server) handleEventMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snapshot, err := s.gatherSnapshot(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to gather event metrics")
		writeError(w, http.StatusInternalServerError, "failed to gather metrics")
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) gatherSnapshot(ctx context.Context) (models.MetricsSnapshot, error) {
	var snapshot models.MetricsSnapshot
	var err error

	if snapshot.TotalInventoryItems, err = s.store.CountInventoryItems(ctx); err != nil {
		return snapshot, err
	}
	if snapshot.TotalEvents, err = s.store.CountEvents(ctx); err != nil {
		return snapshot, err
	}
	if snapshot.PendingEvents, err = s.store.CountEventsByStatus(ctx, models.StatusReceived, models.StatusRetry); err != nil {
		return snapshot, err
	}
	if snapshot.ProcessedEvents, err = s.store.CountEventsByStatus(ctx, models.StatusProcessed); err != nil {
		return snapshot, err
	}
	if snapshot.FailedEvents, err = s.store.CountEventsByStatus(ctx, models.StatusDLQ); err != nil {
		return snapshot, err
	}
	if snapshot.TotalBatchRuns, err = s.store.CountBatchRuns(ctx); err != nil {
		return snapshot, err
	}
	return snapshot, nil
}

func (s *Server) handleListBatchRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListBatchRuns(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list batch runs")
		writeError(w, http.StatusInternalServerError, "failed to list batch runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleTriggerSweep(w http.ResponseWriter, r *http.Request) {
	log.Info().Msg("Manual sweep trigger requested")
	run, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Manual sweep failed")
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
