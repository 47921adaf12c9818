package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/stockledger/inventory/internal/models"
)

// Tx scopes the quantity mutations and the event status write of one
// processing pass to a single database transaction, so a handler's side
// effect and the PROCESSED mark commit or roll back together.
type Tx struct {
	tx *sqlx.Tx
}

// WithinTx runs fn inside a transaction. The transaction commits only when fn
// returns nil; any error rolls every statement back and is returned as-is.
func (db *DB) WithinTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.SQL.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}

	if err := fn(&Tx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("Failed to roll back transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

func (t *Tx) UpdateEventStatus(ctx context.Context, id int64, status models.EventStatus) error {
	return updateEventStatus(ctx, t.tx, id, status)
}

func (t *Tx) UpdateEventStatusAndIncrementAttempts(ctx context.Context, id int64, status models.EventStatus) error {
	return updateEventStatusAndIncrementAttempts(ctx, t.tx, id, status)
}

func (t *Tx) AdjustQuantity(ctx context.Context, sku string, delta int) error {
	return adjustQuantity(ctx, t.tx, sku, delta)
}

func (t *Tx) DecrementIfAvailable(ctx context.Context, sku string, amount int) (int64, error) {
	return decrementIfAvailable(ctx, t.tx, sku, amount)
}
