package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockledger/inventory/internal/metric"
	"github.com/stockledger/inventory/internal/models"
)

type fakeBatchStore struct {
	pending     []models.Event
	pendingErr  error
	lastLimit   int
	inserted    models.BatchRun
	finished    *models.BatchRun
	finishCalls int
}

func (s *fakeBatchStore) FindPendingEvents(ctx context.Context, limit int) ([]models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.lastLimit = limit
	if s.pendingErr != nil {
		return nil, s.pendingErr
	}
	if limit < len(s.pending) {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func (s *fakeBatchStore) InsertBatchRun(_ context.Context, run models.BatchRun) (models.BatchRun, error) {
	run.ID = 42
	s.inserted = run
	return run, nil
}

func (s *fakeBatchStore) FinishBatchRun(ctx context.Context, run models.BatchRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.finishCalls++
	s.finished = &run
	return nil
}

// scriptedProcessor returns a canned outcome per event ID and records the
// order events were handed to it.
type scriptedProcessor struct {
	outcomes map[int64]models.EventStatus
	errs     map[int64]error
	order    []int64
}

func (p *scriptedProcessor) Process(_ context.Context, event models.Event) (models.EventStatus, error) {
	p.order = append(p.order, event.ID)
	if err := p.errs[event.ID]; err != nil {
		return event.Status, err
	}
	return p.outcomes[event.ID], nil
}

func pendingEvent(id int64, createdAt time.Time) models.Event {
	return models.Event{
		ID: id, Kind: models.KindOrderPlaced, SKU: "SKU-1",
		Status: models.StatusReceived, CreatedAt: createdAt,
	}
}

func TestSweep_CountsOutcomesAndVisitsEveryEvent(t *testing.T) {
	base := time.Now().UTC()
	store := &fakeBatchStore{pending: []models.Event{
		pendingEvent(1, base),
		pendingEvent(2, base.Add(time.Second)),
		pendingEvent(3, base.Add(2*time.Second)),
	}}
	proc := &scriptedProcessor{outcomes: map[int64]models.EventStatus{
		1: models.StatusProcessed,
		2: models.StatusRetry, // failed this pass
		3: models.StatusProcessed,
	}}
	s := New(store, proc, Config{ChunkSize: 10}, metric.NewSet())

	run, err := s.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, run.TotalProcessed)
	assert.Equal(t, 1, run.TotalFailed)
	assert.Equal(t, []int64{1, 2, 3}, proc.order, "events must be visited oldest first, none skipped")
}

func TestSweep_ProcessorErrorDoesNotAbortChunk(t *testing.T) {
	base := time.Now().UTC()
	store := &fakeBatchStore{pending: []models.Event{
		pendingEvent(1, base),
		pendingEvent(2, base.Add(time.Second)),
	}}
	proc := &scriptedProcessor{
		outcomes: map[int64]models.EventStatus{2: models.StatusProcessed},
		errs:     map[int64]error{1: errors.New("ledger write failed")},
	}
	s := New(store, proc, Config{ChunkSize: 10}, metric.NewSet())

	run, err := s.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, run.TotalProcessed)
	assert.Equal(t, 1, run.TotalFailed)
	assert.Len(t, proc.order, 2)
}

func TestSweep_DLQOutcomeCountsAsFailed(t *testing.T) {
	store := &fakeBatchStore{pending: []models.Event{pendingEvent(1, time.Now().UTC())}}
	proc := &scriptedProcessor{outcomes: map[int64]models.EventStatus{1: models.StatusDLQ}}
	s := New(store, proc, Config{ChunkSize: 10}, metric.NewSet())

	run, err := s.Sweep(context.Background())

	require.NoError(t, err)
	assert.Zero(t, run.TotalProcessed)
	assert.Equal(t, 1, run.TotalFailed)
}

func TestSweep_FinalizesRunEvenWhenScanFails(t *testing.T) {
	store := &fakeBatchStore{pendingErr: errors.New("connection reset")}
	s := New(store, &scriptedProcessor{}, Config{ChunkSize: 10}, metric.NewSet())

	run, err := s.Sweep(context.Background())

	require.Error(t, err)
	require.Equal(t, 1, store.finishCalls, "run must be finalized unconditionally")
	require.NotNil(t, store.finished.FinishedAt)
	assert.Equal(t, int64(42), run.ID)
}

func TestSweep_FinalizesRunWhenContextIsCancelled(t *testing.T) {
	store := &fakeBatchStore{}
	s := New(store, &scriptedProcessor{}, Config{ChunkSize: 10}, metric.NewSet())

	// A client disconnect mid-sweep cancels the request context; the run row
	// must still be closed out.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := s.Sweep(ctx)

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, store.finishCalls, "cancellation must not skip finalization")
	require.NotNil(t, store.finished.FinishedAt)
	assert.Equal(t, int64(42), run.ID)
}

func TestSweep_HonorsChunkSize(t *testing.T) {
	base := time.Now().UTC()
	var events []models.Event
	for i := int64(1); i <= 5; i++ {
		events = append(events, pendingEvent(i, base.Add(time.Duration(i)*time.Second)))
	}
	store := &fakeBatchStore{pending: events}
	proc := &scriptedProcessor{outcomes: map[int64]models.EventStatus{
		1: models.StatusProcessed, 2: models.StatusProcessed,
	}}
	s := New(store, proc, Config{ChunkSize: 2}, metric.NewSet())

	run, err := s.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, store.lastLimit)
	assert.Equal(t, 2, run.TotalProcessed)
	assert.Equal(t, []int64{1, 2}, proc.order)
	assert.Equal(t, 2, store.inserted.ChunkSize)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := &fakeBatchStore{}
	s := New(store, &scriptedProcessor{}, Config{ChunkSize: 1, Interval: time.Millisecond}, metric.NewSet())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
	assert.GreaterOrEqual(t, store.finishCalls, 1, "at least one sweep should have run")
}
