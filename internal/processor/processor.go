// Package processor contains the ingestion gate and the retry/DLQ state
// machine that every accepted event runs through.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/stockledger/inventory/internal/database"
	"github.com/stockledger/inventory/internal/fingerprint"
	"github.com/stockledger/inventory/internal/handler"
	"github.com/stockledger/inventory/internal/metric"
	"github.com/stockledger/inventory/internal/models"
)

// ErrMalformedMessage marks a raw message that cannot be parsed into an event
// request. The consumer routes these to the broker's dead-letter queue rather
// than redelivering: no amount of retrying fixes a malformed body.
var ErrMalformedMessage = errors.New("malformed event message")

// EventLedger is the slice of the events table this package needs.
type EventLedger interface {
	FindEventByFingerprint(ctx context.Context, fingerprint string) (*models.Event, error)
	InsertEvent(ctx context.Context, event models.Event) (models.Event, error)
	UpdateEventStatus(ctx context.Context, id int64, status models.EventStatus) error
	UpdateEventStatusAndIncrementAttempts(ctx context.Context, id int64, status models.EventStatus) error
}

// ProcessTx is the transaction-scoped storage one processing pass runs
// against: the handler's quantity mutations and the PROCESSED write share it,
// so they commit or roll back as a unit.
type ProcessTx interface {
	handler.QuantityStore
	UpdateEventStatus(ctx context.Context, id int64, status models.EventStatus) error
}

// TxStore opens the per-event transaction.
type TxStore interface {
	WithinTx(ctx context.Context, fn func(tx ProcessTx) error) error
}

type dbTxStore struct {
	db *database.DB
}

// NewTxStore adapts the database layer's concrete transaction to the TxStore
// seam the engine depends on.
func NewTxStore(db *database.DB) TxStore {
	return dbTxStore{db: db}
}

func (s dbTxStore) WithinTx(ctx context.Context, fn func(tx ProcessTx) error) error {
	return s.db.WithinTx(ctx, func(tx *database.Tx) error { return fn(tx) })
}

// Config carries the retry ceiling so the engine stays testable without
// ambient process state.
type Config struct {
	MaxAttempts int
}

const defaultMaxAttempts = 3

// Engine drives one event through handler dispatch and the status transition
// that follows. Every call ends with the ledger updated to PROCESSED, RETRY,
// or DLQ; handler failures never propagate past this boundary.
type Engine struct {
	ledger   EventLedger
	store    TxStore
	registry *handler.Registry
	cfg      Config
	metrics  *metric.Set
}

func NewEngine(ledger EventLedger, store TxStore, registry *handler.Registry, cfg Config, metrics *metric.Set) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Engine{ledger: ledger, store: store, registry: registry, cfg: cfg, metrics: metrics}
}

// Process dispatches the event to its handler and applies the state machine.
// The handler's inventory mutation and the PROCESSED write run in one
// transaction: if either fails, both roll back and the event rides the retry
// ladder, so a side effect is never committed without its status mark. The
// returned status is where the event ended up; the error is non-nil only for
// failures that must surface loudly: an unregistered kind (configuration
// defect) or a retry/DLQ write that could not be applied.
func (e *Engine) Process(ctx context.Context, event models.Event) (models.EventStatus, error) {
	if event.Status.Terminal() {
		// Callers should not reach this path; guard rather than corrupt state.
		log.Warn().Int64("eventId", event.ID).Str("status", string(event.Status)).
			Msg("Ignoring already-terminal event")
		return event.Status, nil
	}

	log.Info().Int64("eventId", event.ID).Str("kind", string(event.Kind)).
		Str("sku", event.SKU).Msg("Processing event")

	h, err := e.registry.Get(event.Kind)
	if err != nil {
		log.Error().Err(err).Int64("eventId", event.ID).Msg("No handler for event kind")
		return event.Status, err
	}

	req, err := buildRequest(event)
	if err == nil {
		err = e.store.WithinTx(ctx, func(tx ProcessTx) error {
			if applyErr := h.Apply(ctx, tx, req); applyErr != nil {
				return applyErr
			}
			return tx.UpdateEventStatus(ctx, event.ID, models.StatusProcessed)
		})
	}
	if err != nil {
		log.Warn().Err(err).Int64("eventId", event.ID).Msg("Event processing failed")
		return e.recordFailure(ctx, event)
	}

	e.metrics.EventsProcessed.Inc()
	log.Info().Int64("eventId", event.ID).Msg("Event processed")
	return models.StatusProcessed, nil
}

// recordFailure applies the retry ladder: below the ceiling the event moves to
// RETRY with attempts bumped once; at the ceiling it parks in DLQ untouched.
// The failed transaction already rolled back, so these writes run on their
// own.
func (e *Engine) recordFailure(ctx context.Context, event models.Event) (models.EventStatus, error) {
	if event.Attempts < e.cfg.MaxAttempts {
		if err := e.ledger.UpdateEventStatusAndIncrementAttempts(ctx, event.ID, models.StatusRetry); err != nil {
			return event.Status, err
		}
		e.metrics.EventsRetried.Inc()
		log.Info().Int64("eventId", event.ID).Int("attempts", event.Attempts+1).
			Msg("Event marked for retry")
		return models.StatusRetry, nil
	}

	if err := e.ledger.UpdateEventStatus(ctx, event.ID, models.StatusDLQ); err != nil {
		return event.Status, err
	}
	e.metrics.EventsDeadLetter.Inc()
	log.Warn().Int64("eventId", event.ID).Int("attempts", event.Attempts).
		Msg("Event sent to DLQ, max attempts reached")
	return models.StatusDLQ, nil
}

// buildRequest reconstructs the handler input from the event's stored fields.
// Quantity and delta live in the persisted payload; kind and sku come from
// their own columns.
func buildRequest(event models.Event) (models.EventRequest, error) {
	var req models.EventRequest
	if err := json.Unmarshal([]byte(event.Payload), &req); err != nil {
		return models.EventRequest{}, fmt.Errorf("unreadable payload for event %d: %w", event.ID, err)
	}
	req.Kind = event.Kind
	req.SKU = event.SKU
	return req, nil
}

// Gate accepts raw inbound messages: it deduplicates by fingerprint, persists
// new events, and pushes them through the engine synchronously.
type Gate struct {
	ledger  EventLedger
	engine  *Engine
	metrics *metric.Set
}

func NewGate(ledger EventLedger, engine *Engine, metrics *metric.Set) *Gate {
	return &Gate{ledger: ledger, engine: engine, metrics: metrics}
}

// Ingest handles one delivered message. Byte-identical redeliveries are
// no-ops; the fingerprint-unique insert closes the race between two
// simultaneous deliveries of the same message, so at most one Event row and
// one handler invocation ever happen per distinct message.
func (g *Gate) Ingest(ctx context.Context, raw []byte) error {
	fp := fingerprint.Digest(raw)

	existing, err := g.ledger.FindEventByFingerprint(ctx, fp)
	if err != nil {
		return err
	}
	if existing != nil {
		g.metrics.DuplicatesSkipped.Inc()
		log.Info().Str("fingerprint", fp).Msg("Duplicate event detected, skipping")
		return nil
	}

	var req models.EventRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if !req.Kind.Valid() {
		return fmt.Errorf("%w: unknown event kind %q", ErrMalformedMessage, req.Kind)
	}
	if req.SKU == "" {
		return fmt.Errorf("%w: sku is required", ErrMalformedMessage)
	}

	event, err := g.ledger.InsertEvent(ctx, models.Event{
		Kind:        req.Kind,
		SKU:         req.SKU,
		Payload:     string(raw),
		Status:      models.StatusReceived,
		Attempts:    0,
		Fingerprint: fp,
	})
	if errors.Is(err, database.ErrDuplicateEvent) {
		// Lost the insert race against a concurrent delivery of the same
		// message. The winner owns processing.
		g.metrics.DuplicatesSkipped.Inc()
		log.Info().Str("fingerprint", fp).Msg("Concurrent duplicate insert, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	g.metrics.EventsIngested.Inc()
	log.Info().Int64("eventId", event.ID).Str("kind", string(event.Kind)).
		Msg("Event received and stored")

	_, err = g.engine.Process(ctx, event)
	return err
}
