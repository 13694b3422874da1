// Package events forwards committed session lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/counselling-scheduler/internal/application"
)

// DefaultTopic receives session events when no topic is configured.
const DefaultTopic = "counselling.sessions"

const (
	// writeTimeout bounds one publish, independent of the request that triggered it.
	writeTimeout = 5 * time.Second
	// batchTimeout caps how long a single event waits for the writer's batch to fill.
	batchTimeout = 5 * time.Millisecond
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is an application.EventPublisher that can be closed on shutdown.
type Publisher interface {
	application.EventPublisher
	Close() error
}

// Payload is the JSON body of a session event message.
type Payload struct {
	Type         string    `json:"type"`
	SessionID    string    `json:"session_id"`
	CounsellorID string    `json:"counsellor_id"`
	StudentID    string    `json:"student_id"`
	Status       string    `json:"status"`
	Date         string    `json:"date"`
	Start        string    `json:"start"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// KafkaPublisher writes one message per event, keyed by counsellor so that a
// counsellor's events stay ordered within a partition.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewPublisher returns a Kafka backed publisher, or a no-op publisher when
// brokers is empty.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	var valid []string
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			valid = append(valid, b)
		}
	}
	if len(valid) == 0 {
		logger.Info("kafka publishing disabled, no brokers configured")
		return nopPublisher{}
	}
	if strings.TrimSpace(topic) == "" {
		topic = DefaultTopic
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(valid...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	logger.Info("kafka publisher initialised", "brokers", valid, "topic", topic)
	return newKafkaPublisher(writer, topic, logger)
}

func newKafkaPublisher(writer messageWriter, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, topic: topic, timeout: writeTimeout, logger: logger}
}

// PublishSessionEvent encodes event as JSON and writes it to the topic. The
// event is already committed, so the write outlives cancellation of ctx and
// is bounded by the publisher's own timeout instead.
func (p *KafkaPublisher) PublishSessionEvent(ctx context.Context, event application.SessionEvent) error {
	value, err := json.Marshal(payloadFor(event))
	if err != nil {
		return fmt.Errorf("encode session event: %w", err)
	}
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.CounsellorID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(writeCtx, msg); err != nil {
		return fmt.Errorf("write session event: %w", err)
	}
	p.logger.DebugContext(ctx, "session event published", "event", string(event.Type), "session_id", event.SessionID)
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func payloadFor(event application.SessionEvent) Payload {
	return Payload{
		Type:         string(event.Type),
		SessionID:    event.SessionID,
		CounsellorID: event.CounsellorID,
		StudentID:    event.StudentID,
		Status:       string(event.Status),
		Date:         event.Date.String(),
		Start:        event.Start.String(),
		OccurredAt:   event.OccurredAt.UTC(),
	}
}

type nopPublisher struct{}

func (nopPublisher) PublishSessionEvent(context.Context, application.SessionEvent) error { return nil }
func (nopPublisher) Close() error                                                       { return nil }
