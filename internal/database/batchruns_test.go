package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockledger/inventory/internal/models"
)

func TestInsertBatchRun(t *testing.T) {
	db, mock := newMockDB(t)
	started := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO batch_runs`)).
		WithArgs(started, 100, 0, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))

	run, err := db.InsertBatchRun(context.Background(), models.BatchRun{
		StartedAt: started, ChunkSize: 100,
	})

	require.NoError(t, err)
	assert.Equal(t, int64(5), run.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishBatchRun(t *testing.T) {
	db, mock := newMockDB(t)
	finished := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE batch_runs SET finished_at = $1`)).
		WithArgs(&finished, 8, 2, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := db.FinishBatchRun(context.Background(), models.BatchRun{
		ID: 5, FinishedAt: &finished, TotalProcessed: 8, TotalFailed: 2,
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
