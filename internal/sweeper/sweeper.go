// Package sweeper periodically drains events stuck in a pending state back
// through the processing engine.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stockledger/inventory/internal/metric"
	"github.com/stockledger/inventory/internal/models"
)

// BatchStore is the slice of storage the sweep needs: the pending-event scan
// plus the batch run bookkeeping.
type BatchStore interface {
	FindPendingEvents(ctx context.Context, limit int) ([]models.Event, error)
	InsertBatchRun(ctx context.Context, run models.BatchRun) (models.BatchRun, error)
	FinishBatchRun(ctx context.Context, run models.BatchRun) error
}

// Processor re-runs one event through the state machine.
type Processor interface {
	Process(ctx context.Context, event models.Event) (models.EventStatus, error)
}

// Config sizes and paces the sweep.
type Config struct {
	ChunkSize int
	Interval  time.Duration
}

const (
	defaultChunkSize = 100
	defaultInterval  = 5 * time.Second
)

type Sweeper struct {
	store   BatchStore
	engine  Processor
	cfg     Config
	metrics *metric.Set
}

func New(store BatchStore, engine Processor, cfg Config, metrics *metric.Set) *Sweeper {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	return &Sweeper{store: store, engine: engine, cfg: cfg, metrics: metrics}
}

// Sweep runs one pass: it opens a batch run, pulls up to ChunkSize pending
// events oldest-first, processes each in isolation, and finalizes the run.
// Finalization is deferred so the run record is closed out even when the scan
// or an engine call fails unexpectedly. An event counts as processed only if
// it reaches PROCESSED during this pass; RETRY and DLQ outcomes count as
// failed.
func (s *Sweeper) Sweep(ctx context.Context) (run models.BatchRun, err error) {
	s.metrics.SweepRuns.Inc()
	log.Info().Int("chunkSize", s.cfg.ChunkSize).Msg("Starting reprocessing sweep")

	run, err = s.store.InsertBatchRun(ctx, models.BatchRun{
		StartedAt: time.Now().UTC(),
		ChunkSize: s.cfg.ChunkSize,
	})
	if err != nil {
		return run, err
	}

	defer func() {
		finished := time.Now().UTC()
		run.FinishedAt = &finished
		// Finalize even when the sweep failed because ctx itself was
		// cancelled; the run row must always be closed out.
		if ferr := s.store.FinishBatchRun(context.WithoutCancel(ctx), run); ferr != nil {
			log.Error().Err(ferr).Int64("batchRunId", run.ID).Msg("Failed to finalize batch run")
			if err == nil {
				err = ferr
			}
		}
	}()

	events, err := s.store.FindPendingEvents(ctx, s.cfg.ChunkSize)
	if err != nil {
		return run, err
	}

	for _, event := range events {
		status, perr := s.engine.Process(ctx, event)
		if perr == nil && status == models.StatusProcessed {
			run.TotalProcessed++
			continue
		}
		if perr != nil {
			log.Error().Err(perr).Int64("eventId", event.ID).Msg("Sweep failed to process event")
		}
		run.TotalFailed++
	}

	log.Info().Int64("batchRunId", run.ID).Int("processed", run.TotalProcessed).
		Int("failed", run.TotalFailed).Msg("Reprocessing sweep completed")
	return run, nil
}

// Run executes Sweep on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Sweeper stopping")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("Reprocessing sweep failed")
			}
		}
	}
}
