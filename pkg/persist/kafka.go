package persist

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/itsmartinwho/foresight-scribe/pkg/logging"
)

// TranscriptEvent is the payload published to downstream consumers when a
// session changes state or commits new transcript text.
type TranscriptEvent struct {
	EncounterID string    `json:"encounter_id"`
	SessionID   string    `json:"session_id"`
	Type        string    `json:"type"`
	State       string    `json:"state,omitempty"`
	Text        string    `json:"text,omitempty"`
	Speaker     *int      `json:"speaker,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

const (
	EventTypeSegment = "segment_committed"
	EventTypeState   = "state_changed"
	EventTypeSaved   = "transcript_saved"
)

// KafkaPublisher fans transcript events out on a Kafka topic, keyed by
// encounter so per-encounter ordering is preserved. Publishing is best
// effort: a broker failure is logged and never disturbs the session.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			BatchTimeout: 50 * time.Millisecond,
		},
		log: logging.NewComponentLogger(log, "kafka"),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev TranscriptEvent) {
	if p == nil || p.writer == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("event marshal failed", "error", err)
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.EncounterID),
		Value: payload,
	})
	if err != nil {
		p.log.Warn("event publish failed", "encounter_id", ev.EncounterID, "type", ev.Type, "error", err)
	}
}

func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
