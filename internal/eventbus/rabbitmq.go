package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"github.com/stockledger/inventory/config"
)

const (
	publishTimeout = 5 * time.Second
	reconnectDelay = 5 * time.Second
)

// ErrPermanentFailure is returned by a MessageHandler when a delivery can
// never succeed (malformed body, unroutable kind). The consumer nacks it
// without requeue so the broker dead-letters it; any other handler error is
// requeued for redelivery.
var ErrPermanentFailure = errors.New("permanent failure processing message")

// MessageHandler processes one delivery. Returning nil acks the message.
type MessageHandler func(ctx context.Context, delivery amqp.Delivery) error

type RabbitMQManager struct {
	config config.Config

	// mu guards the connection state below, which handleReconnect rewrites
	// while PublishMessage and StartConsuming read it.
	mu              sync.RWMutex
	connection      *amqp.Connection
	consumerChan    *amqp.Channel
	producerChan    *amqp.Channel
	notifyConnClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	isReady         bool

	done         chan struct{}
	connectMutex chan struct{}
}

func NewRabbitMQManager(cfg config.Config) (*RabbitMQManager, error) {
	rmq := &RabbitMQManager{
		config:       cfg,
		done:         make(chan struct{}),
		connectMutex: make(chan struct{}, 1),
	}
	rmq.connectMutex <- struct{}{}

	if err := rmq.connect(); err != nil {
		return nil, fmt.Errorf("initial RabbitMQ connection failed: %w", err)
	}
	go rmq.handleReconnect()
	return rmq, nil
}

func (rmq *RabbitMQManager) connect() error {
	<-rmq.connectMutex
	defer func() { rmq.connectMutex <- struct{}{} }()

	rmq.mu.Lock()
	defer rmq.mu.Unlock()

	log.Info().Str("url", rmq.config.RabbitMQURL).Msg("Attempting to connect to RabbitMQ")
	conn, err := amqp.Dial(rmq.config.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}
	rmq.connection = conn
	rmq.notifyConnClose = make(chan *amqp.Error, 1)
	rmq.connection.NotifyClose(rmq.notifyConnClose)

	if err := rmq.setupProducerChannel(); err != nil {
		return fmt.Errorf("failed to setup producer channel: %w", err)
	}

	if err := rmq.setupConsumerChannelAndTopology(); err != nil {
		return fmt.Errorf("failed to setup consumer channel and topology: %w", err)
	}

	rmq.isReady = true
	log.Info().Msg("RabbitMQ connected and channels initialized successfully")
	return nil
}

func (rmq *RabbitMQManager) setupProducerChannel() error {
	var err error
	rmq.producerChan, err = rmq.connection.Channel()
	if err != nil {
		return fmt.Errorf("failed to open producer channel: %w", err)
	}

	if err := rmq.producerChan.Confirm(false); err != nil {
		return fmt.Errorf("producer channel could not be put into confirm mode: %w", err)
	}
	rmq.notifyConfirm = make(chan amqp.Confirmation, 1)
	rmq.producerChan.NotifyPublish(rmq.notifyConfirm)
	return nil
}

// setupConsumerChannelAndTopology declares the events queue with its
// dead-letter pair: permanently-failed deliveries are routed by the broker to
// the DLQ queue via the default exchange.
func (rmq *RabbitMQManager) setupConsumerChannelAndTopology() error {
	var err error
	rmq.consumerChan, err = rmq.connection.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}

	if err := rmq.consumerChan.Qos(rmq.config.RabbitMQPrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	_, err = rmq.consumerChan.QueueDeclare(rmq.config.DeadLetterQueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %w", err)
	}

	_, err = rmq.consumerChan.QueueDeclare(rmq.config.EventsQueueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": rmq.config.DeadLetterQueueName,
	})
	if err != nil {
		return fmt.Errorf("failed to declare events queue: %w", err)
	}

	log.Info().Str("queue", rmq.config.EventsQueueName).
		Str("dlq", rmq.config.DeadLetterQueueName).Msg("Consumer topology setup complete")
	return nil
}

// PublishMessage sends payload as JSON to the events queue via the default
// exchange and waits for the broker's publish confirmation.
func (rmq *RabbitMQManager) PublishMessage(ctx context.Context, payload interface{}) error {
	rmq.mu.RLock()
	ready, producerChan, notifyConfirm := rmq.isReady, rmq.producerChan, rmq.notifyConfirm
	rmq.mu.RUnlock()
	if !ready {
		return errors.New("producer not ready")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = producerChan.Publish(
		"", // default exchange routes by queue name
		rmq.config.EventsQueueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.New().String(),
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	select {
	case confirm := <-notifyConfirm:
		if confirm.Ack {
			log.Debug().Msg("Message published and confirmed")
			return nil
		}
		return errors.New("message published but not confirmed")
	case <-time.After(publishTimeout):
		return errors.New("publish confirmation timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartConsuming registers the handler against the events queue. Deliveries
// are acked on success, dead-lettered on permanent failure, and requeued on
// anything transient.
func (rmq *RabbitMQManager) StartConsuming(ctx context.Context, handler MessageHandler) error {
	rmq.mu.RLock()
	ready, consumerChan := rmq.isReady, rmq.consumerChan
	rmq.mu.RUnlock()
	if !ready {
		return errors.New("consumer not ready")
	}

	tag := fmt.Sprintf("%s-%s", rmq.config.ConsumerTag, uuid.New().String()[:8])
	msgs, err := consumerChan.Consume(
		rmq.config.EventsQueueName,
		tag,
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for delivery := range msgs {
			log.Debug().Str("messageId", delivery.MessageId).Msg("Received a message")
			err := handler(ctx, delivery)
			switch {
			case err == nil:
				delivery.Ack(false)
			case errors.Is(err, ErrPermanentFailure):
				log.Error().Err(err).Str("messageId", delivery.MessageId).
					Msg("Permanent failure, dead-lettering message")
				delivery.Nack(false, false)
			default:
				log.Warn().Err(err).Str("messageId", delivery.MessageId).
					Msg("Transient failure, requeueing message")
				delivery.Nack(false, true)
			}
		}
		log.Warn().Msg("Delivery channel closed. Consumer stopping.")
	}()

	log.Info().Str("queue", rmq.config.EventsQueueName).Str("consumerTag", tag).Msg("Consumer started")
	return nil
}

func (rmq *RabbitMQManager) Close() {
	close(rmq.done)
	rmq.mu.Lock()
	defer rmq.mu.Unlock()
	if rmq.connection != nil && !rmq.connection.IsClosed() {
		rmq.connection.Close()
	}
}

// handleReconnect re-dials after an unexpected connection close and keeps
// trying on a fixed delay until it succeeds or Close is called.
func (rmq *RabbitMQManager) handleReconnect() {
	for {
		rmq.mu.RLock()
		connClose := rmq.notifyConnClose
		rmq.mu.RUnlock()

		select {
		case <-rmq.done:
			return
		case amqpErr := <-connClose:
			if amqpErr == nil {
				return
			}
			rmq.mu.Lock()
			rmq.isReady = false
			rmq.mu.Unlock()
			log.Warn().Err(amqpErr).Msg("RabbitMQ connection lost, reconnecting")
			for {
				select {
				case <-rmq.done:
					return
				case <-time.After(reconnectDelay):
				}
				if err := rmq.connect(); err != nil {
					log.Error().Err(err).Msg("RabbitMQ reconnect failed")
					continue
				}
				break
			}
		}
	}
}
