// Package consumer adapts queue deliveries to the ingestion gate.
package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/streadway/amqp"

	"github.com/stockledger/inventory/internal/eventbus"
	"github.com/stockledger/inventory/internal/handler"
	"github.com/stockledger/inventory/internal/processor"
)

// Ingester is the gate surface the consumer drives.
type Ingester interface {
	Ingest(ctx context.Context, raw []byte) error
}

type Consumer struct {
	gate Ingester
}

func New(gate Ingester) *Consumer {
	return &Consumer{gate: gate}
}

// Handle feeds one delivery's body to the gate and translates its failure
// classes for the transport: malformed messages and unregistered kinds can
// never succeed and are dead-lettered; everything else is transient and
// redelivered. Duplicates and handler-level domain failures come back as nil
// because they are absorbed into ledger state.
func (c *Consumer) Handle(ctx context.Context, delivery amqp.Delivery) error {
	err := c.gate.Ingest(ctx, delivery.Body)
	if err == nil {
		return nil
	}

	var unknownKind *handler.UnknownKindError
	if errors.Is(err, processor.ErrMalformedMessage) || errors.As(err, &unknownKind) {
		return fmt.Errorf("%w: %v", eventbus.ErrPermanentFailure, err)
	}
	return err
}
