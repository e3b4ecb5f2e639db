// Package events publishes best-effort audit events for memory mutations.
// Publishing never fails a caller's operation; each write runs synchronously
// on the caller's path and is bounded by a two-second timeout.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	kafka "github.com/segmentio/kafka-go"

	"memagent/internal/config"
)

// MutationOp identifies the kind of memory mutation that occurred.
type MutationOp string

const (
	OpAdd        MutationOp = "add"
	OpUpdate     MutationOp = "update"
	OpDelete     MutationOp = "delete"
	OpDeleteAll  MutationOp = "delete_all"
	OpGraphReset MutationOp = "graph_reset"
)

// MemoryMutated is emitted whenever the memory manager commits a change.
type MemoryMutated struct {
	Namespace  string     `json:"namespace"`
	Op         MutationOp `json:"op"`
	RecordIDs  []string   `json:"record_ids,omitempty"`
	Count      int        `json:"count"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Publisher is the narrow interface the memory manager depends on.
type Publisher interface {
	Publish(ctx context.Context, ev MemoryMutated)
}

// KafkaPublisher publishes MemoryMutated events to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher builds a publisher when the config enables it; returns a
// no-op publisher (nil writer) otherwise so callers never need to nil-check.
func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	if !cfg.Enabled {
		return &KafkaPublisher{}, nil
	}
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &KafkaPublisher{writer: writer}, nil
}

// Publish writes the event to Kafka. Errors are logged, never returned —
// auditing is never allowed to affect the memory mutation's own success.
func (p *KafkaPublisher) Publish(ctx context.Context, ev MemoryMutated) {
	if p == nil || p.writer == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Msg("events_marshal_failed")
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(writeCtx, kafka.Message{Value: payload, Time: time.Now()}); err != nil {
		log.Warn().Err(err).Str("namespace", ev.Namespace).Str("op", string(ev.Op)).Msg("events_publish_failed")
	}
}

// Close shuts down the underlying writer, if any.
func (p *KafkaPublisher) Close() {
	if p == nil || p.writer == nil {
		return
	}
	if err := p.writer.Close(); err != nil {
		log.Warn().Err(err).Msg("events_writer_close_failed")
	}
}
