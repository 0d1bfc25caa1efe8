// Package journal exports fleet events to Kafka for downstream pipelines.
// The journal is optional: with no brokers configured every call is a
// no-op, so callers record unconditionally.
package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/robofleet/robofleet/internal/domain"
	"github.com/robofleet/robofleet/internal/metrics"
)

// envelope is the wire shape of one journal record.
type envelope struct {
	Type     domain.EventType `json:"type"`
	EntityID string           `json:"entity_id"`
	Ts       int64            `json:"ts"` // Unix milliseconds
	Payload  interface{}      `json:"payload,omitempty"`
}

// Journal publishes fleet events to a Kafka topic, keyed by entity ID so
// every entity's events land on one partition in order.
type Journal struct {
	writer *kafka.Writer
	log    *slog.Logger
}

// New creates a Journal. With no brokers it returns a disabled journal
// whose Record is a no-op.
func New(brokers []string, topic string, log *slog.Logger) *Journal {
	j := &Journal{log: log}
	if len(brokers) == 0 {
		return j
	}

	j.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,

		// The journal must never block telemetry ingest; writes are
		// batched in the background and failures surface here.
		Async: true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				metrics.JournalErrors.Add(float64(len(msgs)))
				log.Error("journal: write failed", "messages", len(msgs), "err", err)
			}
		},
	}
	log.Info("journal: enabled", "topic", topic, "brokers", brokers)
	return j
}

// Enabled reports whether events are actually published.
func (j *Journal) Enabled() bool { return j.writer != nil }

// Record publishes one event. Marshal or enqueue failures are logged and
// counted, never returned.
func (j *Journal) Record(ctx context.Context, typ domain.EventType, entityID string, payload interface{}) {
	if j.writer == nil {
		return
	}

	now := time.Now()
	value, err := json.Marshal(envelope{
		Type:     typ,
		EntityID: entityID,
		Ts:       now.UnixMilli(),
		Payload:  payload,
	})
	if err != nil {
		metrics.JournalErrors.Inc()
		j.log.Error("journal: marshal failed", "type", typ, "err", err)
		return
	}

	msg := kafka.Message{
		Key:   []byte(entityID),
		Value: value,
		Time:  now,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(typ)},
		},
	}
	if err := j.writer.WriteMessages(ctx, msg); err != nil {
		metrics.JournalErrors.Inc()
		j.log.Error("journal: enqueue failed", "type", typ, "err", err)
	}
}

// Close flushes buffered messages and releases the writer.
func (j *Journal) Close() error {
	if j.writer == nil {
		return nil
	}
	return j.writer.Close()
}
