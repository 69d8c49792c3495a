// Package events publishes provisioning lifecycle events to Kafka.
//
// Publishing is strictly best-effort: the control plane never fails a
// request because an event could not be delivered.
package events

import (
	"context"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/stratobase/stratobase/core/logger"
)

// Event types emitted by the control plane.
const (
	TypeProjectCreated = "project.created"
	TypeProjectDeleted = "project.deleted"
	TypeTableCreated   = "table.created"
	TypeTableDeleted   = "table.deleted"
	TypeColumnAdded    = "column.added"
	TypeColumnDropped  = "column.dropped"
)

// DefaultTopic is the topic lifecycle events go to unless configured
// otherwise.
const DefaultTopic = "baas.lifecycle"

// Event describes a provisioning lifecycle change. Identifier fields are
// optional below the level the event is about.
type Event struct {
	Type        string    `json:"type"`
	WorkspaceID int64     `json:"workspaceId"`
	ProjectID   int64     `json:"projectId"`
	TableID     int64     `json:"tableId,omitempty"`
	ColumnID    int64     `json:"columnId,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Publisher emits lifecycle events. The zero value is a disabled publisher
// that silently drops everything, so callers never need a nil check.
type Publisher struct {
	writer *kafka.Writer
}

// Builder assembles a Publisher.
type Builder struct {
	// Brokers is the list of Kafka bootstrap addresses. An empty list
	// creates a disabled publisher.
	Brokers []string
	// Topic defaults to DefaultTopic.
	Topic string
}

// MustNew creates a Publisher.
func MustNew(b *Builder) *Publisher {
	if len(b.Brokers) == 0 {
		return &Publisher{}
	}
	topic := b.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(b.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				logger.Default().Errorf("kafka: "+msg, args...)
			}),
		},
	}
}

// Publish emits a single event, keyed by project so events for one project
// stay ordered within a partition.
func (p *Publisher) Publish(ctx context.Context, event Event) {
	if p.writer == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logger.FromContext(ctx).Errorln("cannot marshal lifecycle event:", err)
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(event.ProjectID, 10)),
		Value: payload,
	})
	if err != nil {
		logger.FromContext(ctx).Errorln("cannot publish lifecycle event:", err)
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
