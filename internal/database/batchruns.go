package database

import (
	"context"
	"fmt"

	"github.com/stockledger/inventory/internal/models"
)

// InsertBatchRun records the start of a sweep and returns the run with its
// assigned ID.
func (db *DB) InsertBatchRun(ctx context.Context, run models.BatchRun) (models.BatchRun, error) {
	query := `INSERT INTO batch_runs (started_at, chunk_size, total_processed, total_failed)
	          VALUES ($1, $2, $3, $4)
	          RETURNING id`
	err := db.SQL.QueryRowxContext(ctx, query,
		run.StartedAt, run.ChunkSize, run.TotalProcessed, run.TotalFailed,
	).Scan(&run.ID)
	if err != nil {
		return models.BatchRun{}, fmt.Errorf("error inserting batch run: %w", err)
	}
	return run, nil
}

// FinishBatchRun persists a run's final counters and end time.
func (db *DB) FinishBatchRun(ctx context.Context, run models.BatchRun) error {
	query := `UPDATE batch_runs SET finished_at = $1, total_processed = $2, total_failed = $3
	          WHERE id = $4`
	if _, err := db.SQL.ExecContext(ctx, query,
		run.FinishedAt, run.TotalProcessed, run.TotalFailed, run.ID); err != nil {
		return fmt.Errorf("error finalizing batch run %d: %w", run.ID, err)
	}
	return nil
}

// ListBatchRuns returns all recorded sweep runs, newest first.
func (db *DB) ListBatchRuns(ctx context.Context) ([]models.BatchRun, error) {
	var runs []models.BatchRun
	query := `SELECT id, started_at, finished_at, chunk_size, total_processed, total_failed
	          FROM batch_runs ORDER BY started_at DESC`
	if err := db.SQL.SelectContext(ctx, &runs, query); err != nil {
		return nil, fmt.Errorf("error listing batch runs: %w", err)
	}
	return runs, nil
}

// CountBatchRuns returns the total number of recorded sweep runs.
func (db *DB) CountBatchRuns(ctx context.Context) (int64, error) {
	var count int64
	err := db.SQL.GetContext(ctx, &count, `SELECT COUNT(*) FROM batch_runs`)
	if err != nil {
		return 0, fmt.Errorf("error counting batch runs: %w", err)
	}
	return count, nil
}
