package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/stockledger/inventory/internal/models"
)

// ErrDuplicateEvent is returned by InsertEvent when another event already
// holds the same fingerprint. Callers treat it as "message already accepted".
var ErrDuplicateEvent = errors.New("event with this fingerprint already exists")

const uniqueViolation = "23505"

// FindEventByFingerprint returns the event carrying the given fingerprint, or
// (nil, nil) when no such event exists.
func (db *DB) FindEventByFingerprint(ctx context.Context, fingerprint string) (*models.Event, error) {
	var event models.Event
	query := `SELECT id, kind, sku, payload, status, attempts, fingerprint, created_at
	          FROM events WHERE fingerprint = $1`
	err := db.SQL.GetContext(ctx, &event, query, fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error looking up event by fingerprint: %w", err)
	}
	return &event, nil
}

// InsertEvent persists a new event and fills in its assigned ID and creation
// timestamp. A fingerprint conflict returns ErrDuplicateEvent.
func (db *DB) InsertEvent(ctx context.Context, event models.Event) (models.Event, error) {
	query := `INSERT INTO events (kind, sku, payload, status, attempts, fingerprint)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          RETURNING id, created_at`
	err := db.SQL.QueryRowxContext(ctx, query,
		event.Kind, event.SKU, event.Payload, event.Status, event.Attempts, event.Fingerprint,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return models.Event{}, ErrDuplicateEvent
		}
		return models.Event{}, fmt.Errorf("error inserting event: %w", err)
	}
	return event, nil
}

// UpdateEventStatus sets the status of one event without touching attempts.
func (db *DB) UpdateEventStatus(ctx context.Context, id int64, status models.EventStatus) error {
	return updateEventStatus(ctx, db.SQL, id, status)
}

// UpdateEventStatusAndIncrementAttempts sets the status and bumps the failed
// attempt counter in a single statement.
func (db *DB) UpdateEventStatusAndIncrementAttempts(ctx context.Context, id int64, status models.EventStatus) error {
	return updateEventStatusAndIncrementAttempts(ctx, db.SQL, id, status)
}

func updateEventStatus(ctx context.Context, q sqlx.ExtContext, id int64, status models.EventStatus) error {
	query := `UPDATE events SET status = $1 WHERE id = $2`
	if _, err := q.ExecContext(ctx, query, status, id); err != nil {
		return fmt.Errorf("error updating status for event %d: %w", id, err)
	}
	return nil
}

func updateEventStatusAndIncrementAttempts(ctx context.Context, q sqlx.ExtContext, id int64, status models.EventStatus) error {
	query := `UPDATE events SET status = $1, attempts = attempts + 1 WHERE id = $2`
	if _, err := q.ExecContext(ctx, query, status, id); err != nil {
		return fmt.Errorf("error updating status and attempts for event %d: %w", id, err)
	}
	return nil
}

// FindPendingEvents returns up to limit events still in RECEIVED or RETRY,
// oldest first so long-stuck events are never starved by newer arrivals.
func (db *DB) FindPendingEvents(ctx context.Context, limit int) ([]models.Event, error) {
	var events []models.Event
	query := `SELECT id, kind, sku, payload, status, attempts, fingerprint, created_at
	          FROM events
	          WHERE status IN ($1, $2)
	          ORDER BY created_at ASC
	          LIMIT $3`
	err := db.SQL.SelectContext(ctx, &events, query, models.StatusReceived, models.StatusRetry, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying pending events: %w", err)
	}
	return events, nil
}

// CountEvents returns the total number of events in the ledger.
func (db *DB) CountEvents(ctx context.Context) (int64, error) {
	var count int64
	err := db.SQL.GetContext(ctx, &count, `SELECT COUNT(*) FROM events`)
	if err != nil {
		return 0, fmt.Errorf("error counting events: %w", err)
	}
	return count, nil
}

// CountEventsByStatus returns how many events sit in any of the given states.
func (db *DB) CountEventsByStatus(ctx context.Context, statuses ...models.EventStatus) (int64, error) {
	query, args, err := sqlx.In(`SELECT COUNT(*) FROM events WHERE status IN (?)`, statuses)
	if err != nil {
		return 0, fmt.Errorf("error building status count query: %w", err)
	}
	var count int64
	if err := db.SQL.GetContext(ctx, &count, db.SQL.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("error counting events by status: %w", err)
	}
	return count, nil
}
