package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// AdjustQuantity adds delta (possibly negative) to the SKU's current quantity
// with no floor check.
func (db *DB) AdjustQuantity(ctx context.Context, sku string, delta int) error {
	return adjustQuantity(ctx, db.SQL, sku, delta)
}

// DecrementIfAvailable subtracts amount from the SKU's quantity only if the
// current quantity covers it. The guard predicate makes the check-and-subtract
// atomic at the row level, so concurrent decrements never drive quantity
// negative. Returns the number of rows updated: 0 means insufficient stock.
func (db *DB) DecrementIfAvailable(ctx context.Context, sku string, amount int) (int64, error) {
	return decrementIfAvailable(ctx, db.SQL, sku, amount)
}

func adjustQuantity(ctx context.Context, q sqlx.ExtContext, sku string, delta int) error {
	query := `UPDATE inventory_items SET quantity = quantity + $1 WHERE sku = $2`
	if _, err := q.ExecContext(ctx, query, delta, sku); err != nil {
		return fmt.Errorf("error adjusting quantity for SKU %s: %w", sku, err)
	}
	return nil
}

func decrementIfAvailable(ctx context.Context, q sqlx.ExtContext, sku string, amount int) (int64, error) {
	query := `UPDATE inventory_items SET quantity = quantity - $1 WHERE sku = $2 AND quantity >= $1`
	result, err := q.ExecContext(ctx, query, amount, sku)
	if err != nil {
		return 0, fmt.Errorf("error decrementing quantity for SKU %s: %w", sku, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected for SKU %s: %w", sku, err)
	}
	return rows, nil
}

// CountInventoryItems returns how many SKUs the store tracks.
func (db *DB) CountInventoryItems(ctx context.Context) (int64, error) {
	var count int64
	err := db.SQL.GetContext(ctx, &count, `SELECT COUNT(*) FROM inventory_items`)
	if err != nil {
		return 0, fmt.Errorf("error counting inventory items: %w", err)
	}
	return count, nil
}
