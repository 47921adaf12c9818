package consumer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockledger/inventory/internal/eventbus"
	"github.com/stockledger/inventory/internal/handler"
	"github.com/stockledger/inventory/internal/models"
	"github.com/stockledger/inventory/internal/processor"
)

type stubGate struct {
	err  error
	body []byte
}

func (g *stubGate) Ingest(_ context.Context, raw []byte) error {
	g.body = raw
	return g.err
}

func TestHandle_AcksOnSuccess(t *testing.T) {
	gate := &stubGate{}
	c := New(gate)

	err := c.Handle(context.Background(), amqp.Delivery{Body: []byte(`{"kind":"ORDER_PLACED"}`)})

	require.NoError(t, err)
	assert.Equal(t, []byte(`{"kind":"ORDER_PLACED"}`), gate.body)
}

func TestHandle_MalformedMessageIsPermanent(t *testing.T) {
	gate := &stubGate{err: fmt.Errorf("%w: bad json", processor.ErrMalformedMessage)}
	c := New(gate)

	err := c.Handle(context.Background(), amqp.Delivery{Body: []byte(`{`)})

	require.ErrorIs(t, err, eventbus.ErrPermanentFailure)
}

func TestHandle_UnregisteredKindIsPermanent(t *testing.T) {
	gate := &stubGate{err: &handler.UnknownKindError{Kind: models.EventKind("ORDER_SHIPPED")}}
	c := New(gate)

	err := c.Handle(context.Background(), amqp.Delivery{})

	require.ErrorIs(t, err, eventbus.ErrPermanentFailure)
}

func TestHandle_TransientErrorPassesThrough(t *testing.T) {
	transient := errors.New("ledger unavailable")
	gate := &stubGate{err: transient}
	c := New(gate)

	err := c.Handle(context.Background(), amqp.Delivery{})

	require.ErrorIs(t, err, transient)
	assert.NotErrorIs(t, err, eventbus.ErrPermanentFailure)
}
