// Package events publishes domain events to Kafka for downstream consumers
// (analytics, auditing, cache invalidation). Publication is best effort: a
// broker outage never fails the originating request.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ballotbox.org/internal/obs"
)

// Event kinds written to the topic.
const (
	KindVoteCast           = "vote_cast"
	KindVoteReverted       = "vote_reverted"
	KindSessionClosed      = "session_closed"
	KindNominationResponse = "nomination_response"
)

// Envelope is the wire shape of every published event. SessionID doubles as
// the partition key so events of one session stay ordered.
type Envelope struct {
	Kind      string            `json:"kind"`
	SessionID string            `json:"session_id"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Producer writes envelopes to a Kafka topic. A nil Producer is valid and
// drops everything, so callers do not need to branch on configuration.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a producer for the given brokers and topic. Messages
// for the same session hash to the same partition.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

// Publish writes one envelope. Errors are logged and swallowed.
func (p *Producer) Publish(ctx context.Context, kind, sessionID string, fields map[string]string) {
	if p == nil {
		return
	}
	env := Envelope{
		Kind:      kind,
		SessionID: sessionID,
		Fields:    fields,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		logError(fmt.Sprintf("marshal %s event: %v", kind, err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(sessionID),
		Value: data,
		Time:  env.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logError(fmt.Sprintf("publish %s event: %v", kind, err))
	}
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}

func logError(msg string) {
	obs.LogRequest(map[string]any{
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"level":     "error",
		"component": "events",
		"msg":       msg,
	})
}
