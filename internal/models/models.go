package models

import "time"

// EventKind identifies which inventory mutation an event carries. The set is
// closed: handlers for all three kinds are registered at startup.
type EventKind string

const (
	KindOrderPlaced       EventKind = "ORDER_PLACED"
	KindOrderCancelled    EventKind = "ORDER_CANCELLED"
	KindInventoryAdjusted EventKind = "INVENTORY_ADJUSTED"
)

// Valid reports whether k is one of the known event kinds.
func (k EventKind) Valid() bool {
	switch k {
	case KindOrderPlaced, KindOrderCancelled, KindInventoryAdjusted:
		return true
	}
	return false
}

// EventStatus is the lifecycle state of a stored event.
type EventStatus string

const (
	StatusReceived  EventStatus = "RECEIVED"
	StatusRetry     EventStatus = "RETRY"
	StatusProcessed EventStatus = "PROCESSED"
	StatusDLQ       EventStatus = "DLQ"
)

// Terminal reports whether no further transition is allowed out of s.
func (s EventStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusDLQ
}

// Event is one accepted inbound occurrence. Fingerprint is unique across the
// ledger and is the idempotency key; CreatedAt orders the reprocessing sweep.
type Event struct {
	ID          int64       `db:"id"`
	Kind        EventKind   `db:"kind"`
	SKU         string      `db:"sku"`
	Payload     string      `db:"payload"`
	Status      EventStatus `db:"status"`
	Attempts    int         `db:"attempts"`
	Fingerprint string      `db:"fingerprint"`
	CreatedAt   time.Time   `db:"created_at"`
}

// BatchRun summarizes one reprocessing sweep execution.
type BatchRun struct {
	ID             int64      `db:"id" json:"id"`
	StartedAt      time.Time  `db:"started_at" json:"startedAt"`
	FinishedAt     *time.Time `db:"finished_at" json:"finishedAt"`
	ChunkSize      int        `db:"chunk_size" json:"chunkSize"`
	TotalProcessed int        `db:"total_processed" json:"totalProcessed"`
	TotalFailed    int        `db:"total_failed" json:"totalFailed"`
}

// EventRequest is the parsed form of one inbound message. Quantity and Delta
// are pointers so "absent" is distinguishable from zero.
type EventRequest struct {
	Kind     EventKind `json:"kind"`
	SKU      string    `json:"sku"`
	Quantity *int      `json:"quantity,omitempty"`
	Delta    *int      `json:"delta,omitempty"`
}

// MetricsSnapshot is the counts-by-status view served over HTTP.
type MetricsSnapshot struct {
	TotalInventoryItems int64 `json:"totalInventoryItems"`
	TotalEvents         int64 `json:"totalEvents"`
	PendingEvents       int64 `json:"pendingEvents"`
	ProcessedEvents     int64 `json:"processedEvents"`
	FailedEvents        int64 `json:"failedEvents"`
	TotalBatchRuns      int64 `json:"totalBatchRuns"`
}
