// Package handler maps event kinds to the business effect they apply against
// the quantity store.
package handler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/stockledger/inventory/internal/models"
)

// QuantityStore is the per-SKU mutation surface handlers run against. Both
// operations are atomic at the storage layer; DecrementIfAvailable applies its
// guard and its subtraction in one step. The store is passed per call so the
// engine can hand handlers a transaction-scoped store.
type QuantityStore interface {
	AdjustQuantity(ctx context.Context, sku string, delta int) error
	DecrementIfAvailable(ctx context.Context, sku string, amount int) (int64, error)
}

// Handler applies one event kind's effect. Apply returns a domain error on a
// business-rule violation; the processing engine owns what happens next.
type Handler interface {
	Kind() models.EventKind
	Apply(ctx context.Context, store QuantityStore, req models.EventRequest) error
}

// InsufficientInventoryError reports a conditional decrement that found less
// stock than it needed.
type InsufficientInventoryError struct {
	SKU      string
	Quantity int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for SKU %s (requested %d)", e.SKU, e.Quantity)
}

// MissingFieldError reports an event whose payload lacks a required field.
type MissingFieldError struct {
	Field string
	Kind  models.EventKind
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("field %q is required for %s events", e.Field, e.Kind)
}

// UnknownKindError means no handler is registered for a kind that reached the
// engine. The kind set is closed and wired at startup, so this is a
// configuration defect rather than a data problem.
type UnknownKindError struct {
	Kind models.EventKind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("no handler registered for event kind %q", e.Kind)
}

// Registry is a closed map from event kind to its handler, populated once at
// startup.
type Registry struct {
	handlers map[models.EventKind]Handler
}

// NewRegistry builds a registry from the given handlers, keyed by their kind.
func NewRegistry(handlers ...Handler) *Registry {
	m := make(map[models.EventKind]Handler, len(handlers))
	for _, h := range handlers {
		m[h.Kind()] = h
		log.Info().Str("kind", string(h.Kind())).Msg("Registered event handler")
	}
	return &Registry{handlers: m}
}

// NewDefaultRegistry wires the three production handlers.
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		&OrderPlacedHandler{},
		&OrderCancelledHandler{},
		&InventoryAdjustedHandler{},
	)
}

// Get returns the handler for kind or an UnknownKindError.
func (r *Registry) Get(kind models.EventKind) (Handler, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return nil, &UnknownKindError{Kind: kind}
	}
	return h, nil
}

// OrderPlacedHandler decrements stock when an order is placed. The decrement
// only applies if the current quantity covers it.
type OrderPlacedHandler struct{}

func (h *OrderPlacedHandler) Kind() models.EventKind { return models.KindOrderPlaced }

func (h *OrderPlacedHandler) Apply(ctx context.Context, store QuantityStore, req models.EventRequest) error {
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	rows, err := store.DecrementIfAvailable(ctx, req.SKU, quantity)
	if err != nil {
		return err
	}
	if rows == 0 {
		return &InsufficientInventoryError{SKU: req.SKU, Quantity: quantity}
	}

	log.Info().Str("sku", req.SKU).Int("quantity", quantity).Msg("Decremented inventory")
	return nil
}

// OrderCancelledHandler returns stock when an order is cancelled. Increments
// are always safe, so there is no guard.
type OrderCancelledHandler struct{}

func (h *OrderCancelledHandler) Kind() models.EventKind { return models.KindOrderCancelled }

func (h *OrderCancelledHandler) Apply(ctx context.Context, store QuantityStore, req models.EventRequest) error {
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	if err := store.AdjustQuantity(ctx, req.SKU, quantity); err != nil {
		return err
	}

	log.Info().Str("sku", req.SKU).Int("quantity", quantity).Msg("Incremented inventory")
	return nil
}

// InventoryAdjustedHandler applies a signed manual correction. Delta is
// mandatory; there is no sensible default for a correction.
type InventoryAdjustedHandler struct{}

func (h *InventoryAdjustedHandler) Kind() models.EventKind { return models.KindInventoryAdjusted }

func (h *InventoryAdjustedHandler) Apply(ctx context.Context, store QuantityStore, req models.EventRequest) error {
	if req.Delta == nil {
		return &MissingFieldError{Field: "delta", Kind: models.KindInventoryAdjusted}
	}

	if err := store.AdjustQuantity(ctx, req.SKU, *req.Delta); err != nil {
		return err
	}

	log.Info().Str("sku", req.SKU).Int("delta", *req.Delta).Msg("Adjusted inventory")
	return nil
}
