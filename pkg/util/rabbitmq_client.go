package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/pershinghar/go-device-session/pkg/models"
)

// Message headers carried next to the JSON body, so that consumers can
// route without decoding.
const (
	headerSourceID   = "x-source-id"
	headerGeneration = "x-generation"
	headerTimedOut   = "x-timed-out"
)

// RabbitMQClient publishes and consumes collected command outputs.
type RabbitMQClient struct {
	config   *models.RabbitMQConfig
	name     string
	conn     *amqp.Connection
	channel  *amqp.Channel
	mu       sync.Mutex
	isClosed bool
}

// NewRabbitMQClient creates a new RabbitMQ client instance. name shows up
// as the connection name in the broker UI.
func NewRabbitMQClient(config *models.RabbitMQConfig, name string) *RabbitMQClient {
	defaults := models.DefaultRabbitMQConfig()
	if config == nil {
		config = defaults
	}

	if config.URL == "" {
		config.URL = defaults.URL
	}
	if config.Exchange == "" {
		config.Exchange = defaults.Exchange
	}
	if config.ExchangeType == "" {
		config.ExchangeType = defaults.ExchangeType
	}
	if config.QueueName == "" {
		config.QueueName = defaults.QueueName
	}

	return &RabbitMQClient{
		config: config,
		name:   name,
	}
}

// Connect establishes a connection to RabbitMQ and declares the exchange.
func (c *RabbitMQClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return fmt.Errorf("client is closed")
	}
	if c.conn != nil {
		return nil
	}

	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(c.name)
	cfg := amqp.Config{Properties: props}
	if deadline, ok := ctx.Deadline(); ok {
		cfg.Dial = amqp.DefaultDial(time.Until(deadline))
	}

	conn, err := amqp.DialConfig(c.config.URL, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		c.config.Exchange,     // name
		c.config.ExchangeType, // type
		c.config.Durable,      // durable
		c.config.AutoDelete,   // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	c.conn = conn
	c.channel = ch
	log.Printf("[RabbitMQ] Connected and exchange '%s' declared", c.config.Exchange)
	return nil
}

// NewRawData wraps one command output for publishing. A nil output marks a
// command that timed out.
func NewRawData(collectionID, source string, generation int, command string, output *string) *models.RawData {
	return &models.RawData{
		CollectionID: collectionID,
		SourceID:     source,
		Timestamp:    time.Now().UTC(),
		ChunkID:      command,
		Generation:   generation,
		Payload:      output,
	}
}

// Publish sends one RawData message as persistent JSON.
func (c *RabbitMQClient) Publish(ctx context.Context, data *models.RawData) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return fmt.Errorf("client is closed")
	}
	if c.channel == nil {
		return fmt.Errorf("not connected: call Connect() first")
	}

	msg, err := encodeRawData(data)
	if err != nil {
		return err
	}

	err = c.channel.PublishWithContext(
		ctx,
		c.config.Exchange,   // exchange
		c.config.RoutingKey, // routing key
		false,               // mandatory
		false,               // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func encodeRawData(data *models.RawData) (amqp.Publishing, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal message: %w", err)
	}
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: data.CollectionID,
		Timestamp:     data.Timestamp,
		Headers: amqp.Table{
			headerSourceID:   data.SourceID,
			headerGeneration: int32(data.Generation),
			headerTimedOut:   data.Payload == nil,
		},
		Body: body,
	}, nil
}

func decodeRawData(body []byte) (*models.RawData, error) {
	var data models.RawData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if data.SourceID == "" || data.ChunkID == "" {
		return nil, errors.New("message has no source or command")
	}
	return &data, nil
}

// Close closes the RabbitMQ connection and cleans up resources
func (c *RabbitMQClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return nil
	}
	c.isClosed = true

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %w", errors.Join(errs...))
	}
	return nil
}

// IsConnected returns true if the client is connected
func (c *RabbitMQClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.isClosed && !c.conn.IsClosed()
}

// CreateQueue declares the configured queue and binds it to the exchange.
func (c *RabbitMQClient) CreateQueue(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return "", fmt.Errorf("client is closed")
	}
	if c.channel == nil {
		return "", fmt.Errorf("not connected: call Connect() first")
	}

	queue, err := c.channel.QueueDeclare(
		c.config.QueueName,       // name
		c.config.QueueDurable,    // durable
		c.config.QueueAutoDelete, // delete when unused
		c.config.QueueExclusive,  // exclusive
		false,                    // no-wait
		nil,                      // arguments
	)
	if err != nil {
		return "", fmt.Errorf("failed to declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		queue.Name,          // queue name
		c.config.RoutingKey, // routing key (empty for fanout)
		c.config.Exchange,   // exchange
		false,               // no-wait
		nil,                 // arguments
	)
	if err != nil {
		return "", fmt.Errorf("failed to bind queue to exchange: %w", err)
	}

	log.Printf("[RabbitMQ] Queue '%s' created and bound to exchange '%s'", queue.Name, c.config.Exchange)
	return queue.Name, nil
}

// Consume delivers every message of queueName to handler until ctx is done
// or the broker closes the channel; the returned channel is closed then.
// Malformed messages are dropped, handler errors requeue the message.
func (c *RabbitMQClient) Consume(ctx context.Context, queueName string, handler func(data *models.RawData) error) (<-chan struct{}, error) {
	c.mu.Lock()
	if c.isClosed || c.channel == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("client is closed or not connected")
	}
	channel := c.channel
	c.mu.Unlock()

	msgs, err := channel.Consume(
		queueName, // queue
		c.name,    // consumer tag
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	log.Printf("[RabbitMQ] Started consuming from queue '%s'", queueName)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				log.Printf("[RabbitMQ] Consumer stopped due to context cancellation")
				return
			case msg, ok := <-msgs:
				if !ok {
					log.Printf("[RabbitMQ] Consumer channel closed")
					return
				}
				handleDelivery(msg, handler)
			}
		}
	}()
	return done, nil
}

// acknowledger is the part of amqp.Delivery handleDelivery needs.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func handleDelivery(msg amqp.Delivery, handler func(data *models.RawData) error) {
	settle(&msg, msg.Body, handler)
}

func settle(ack acknowledger, body []byte, handler func(data *models.RawData) error) {
	data, err := decodeRawData(body)
	if err != nil {
		log.Printf("[RabbitMQ] Dropping message: %v", err)
		_ = ack.Nack(false, false)
		return
	}
	if err := handler(data); err != nil {
		log.Printf("[RabbitMQ] Handler error: %v", err)
		_ = ack.Nack(false, true)
		return
	}
	_ = ack.Ack(false)
}
