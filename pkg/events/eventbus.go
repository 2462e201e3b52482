package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/weaveflow-go/pkg/logger"
)

type Event struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	AggregateID   string                 `json:"aggregateId"`
	AggregateType string                 `json:"aggregateType"`
	Timestamp     time.Time              `json:"timestamp"`
	Version       int                    `json:"version"`
	Payload       map[string]interface{} `json:"payload"`
	Metadata      EventMetadata          `json:"metadata"`
}

type EventMetadata struct {
	CorrelationID string `json:"correlationId"`
	CausationID   string `json:"causationId"`
	TraceID       string `json:"traceId"`
	SpanID        string `json:"spanId"`
}

type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(topic string, handler EventHandler) error
	Close() error
}

type EventHandler func(ctx context.Context, event Event) error

var ErrBusClosed = errors.New("event bus closed")

type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

type KafkaEventBus struct {
	config  KafkaConfig
	writer  *kafka.Writer
	readers map[string]*kafka.Reader
	mu      sync.Mutex
	logger  logger.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewKafkaEventBus(config KafkaConfig, log logger.Logger) (*KafkaEventBus, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if config.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaEventBus{
		config:  config,
		writer:  writer,
		readers: make(map[string]*kafka.Reader),
		logger:  log,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (k *KafkaEventBus) Publish(ctx context.Context, event Event) error {
	stamp(&event)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Keyed by aggregate so every event of one run lands on one partition, in order.
	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "trace-id", Value: []byte(event.Metadata.TraceID)},
			{Key: "correlation-id", Value: []byte(event.Metadata.CorrelationID)},
		},
	}

	return k.writer.WriteMessages(ctx, msg)
}

// Subscribe consumes the given topic with the configured consumer group.
func (k *KafkaEventBus) Subscribe(topic string, handler EventHandler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.config.Brokers,
		Topic:       topic,
		GroupID:     k.config.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
		MaxWait:     1 * time.Second,
	})

	k.mu.Lock()
	k.readers[topic] = reader
	k.mu.Unlock()

	k.wg.Add(1)
	go k.consume(reader, handler)

	return nil
}

func (k *KafkaEventBus) consume(reader *kafka.Reader, handler EventHandler) {
	defer k.wg.Done()
	for {
		msg, err := reader.ReadMessage(k.ctx)
		if err != nil {
			if k.ctx.Err() != nil {
				return
			}
			k.logger.Error("Failed to read message", "error", err)
			time.Sleep(1 * time.Second)
			continue
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			k.logger.Warn("Failed to unmarshal event", "error", err, "offset", msg.Offset)
			continue
		}

		if err := handler(k.ctx, event); err != nil {
			k.logger.Error("Failed to handle event", "type", event.Type, "error", err)
		}
	}
}

func (k *KafkaEventBus) Close() error {
	k.cancel()

	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for topic, reader := range k.readers {
		if err := reader.Close(); err != nil {
			return fmt.Errorf("failed to close reader for topic %s: %w", topic, err)
		}
	}
	k.wg.Wait()

	return nil
}

// MemoryEventBus delivers events in-process. Handlers subscribe by event type,
// or by "*" for every event. Delivery is synchronous in publish order.
type MemoryEventBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
	closed   bool
	logger   logger.Logger
}

func NewMemoryEventBus(log logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		handlers: make(map[string][]EventHandler),
		logger:   log,
	}
}

func (m *MemoryEventBus) Publish(ctx context.Context, event Event) error {
	stamp(&event)

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrBusClosed
	}
	handlers := append([]EventHandler{}, m.handlers[event.Type]...)
	handlers = append(handlers, m.handlers["*"]...)
	m.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			m.logger.Warn("Event handler failed", "type", event.Type, "error", err)
		}
	}
	return nil
}

func (m *MemoryEventBus) Subscribe(topic string, handler EventHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrBusClosed
	}
	m.handlers[topic] = append(m.handlers[topic], handler)
	return nil
}

func (m *MemoryEventBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.handlers = make(map[string][]EventHandler)
	return nil
}

func stamp(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
}

// Event builder helper
type EventBuilder struct {
	event Event
}

func NewEventBuilder(eventType string) *EventBuilder {
	return &EventBuilder{
		event: Event{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now().UTC(),
			Version:   1,
			Payload:   make(map[string]interface{}),
			Metadata:  EventMetadata{},
		},
	}
}

func (b *EventBuilder) WithAggregateID(id string) *EventBuilder {
	b.event.AggregateID = id
	return b
}

func (b *EventBuilder) WithAggregateType(aggregateType string) *EventBuilder {
	b.event.AggregateType = aggregateType
	return b
}

func (b *EventBuilder) WithPayload(key string, value interface{}) *EventBuilder {
	b.event.Payload[key] = value
	return b
}

func (b *EventBuilder) WithCorrelationID(id string) *EventBuilder {
	b.event.Metadata.CorrelationID = id
	return b
}

func (b *EventBuilder) WithTraceID(id string) *EventBuilder {
	b.event.Metadata.TraceID = id
	return b
}

func (b *EventBuilder) Build() Event {
	return b.event
}

// Common event types
const (
	// Execution events
	ExecutionStarted   = "execution.started"
	ExecutionCompleted = "execution.completed"
	ExecutionFailed    = "execution.failed"
	ExecutionCancelled = "execution.cancelled"

	// Node events
	NodeExecutionStarted   = "node.execution.started"
	NodeExecutionCompleted = "node.execution.completed"
	NodeExecutionFailed    = "node.execution.failed"
	NodeExecutionSkipped   = "node.execution.skipped"
	NodeExecutionCancelled = "node.execution.cancelled"
)
