package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/infastai/support-bridge/internal/model"
)

const (
	// StreamName is the name of the support transcript stream.
	StreamName = "SUPPORT"

	// SubjectPrefix is the prefix for all transcript subjects.
	SubjectPrefix = "support"
)

// StreamManager publishes and reads the durable transcript of support
// conversations. The in-memory session store is lost on restart; this stream
// is the audit trail that is not.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the transcript stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Support conversation transcripts and lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// MessageSubject returns the subject for a relayed message.
func MessageSubject(userID int64, sender model.Sender) string {
	return fmt.Sprintf("%s.%d.msg.%s", SubjectPrefix, userID, sender)
}

// EventSubject returns the subject for a lifecycle event.
func EventSubject(userID int64, eventType model.TranscriptEventType) string {
	return fmt.Sprintf("%s.%d.event.%s", SubjectPrefix, userID, eventType)
}

// PublishMessage publishes a relayed message to the transcript stream.
func (m *StreamManager) PublishMessage(ctx context.Context, userID int64, sender model.Sender, text string) error {
	msg := model.TranscriptMessage{
		ID:        uuid.Must(uuid.NewV7()).String(),
		UserID:    userID,
		Sender:    sender,
		Text:      text,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript message: %w", err)
	}

	if _, err := m.client.JetStream().Publish(ctx, MessageSubject(userID, sender), data); err != nil {
		return fmt.Errorf("failed to publish transcript message: %w", err)
	}
	return nil
}

// PublishEvent publishes a conversation lifecycle event to the transcript
// stream.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.TranscriptEvent) error {
	if event.ID == "" {
		event.ID = uuid.Must(uuid.NewV7()).String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript event: %w", err)
	}

	if _, err := m.client.JetStream().Publish(ctx, EventSubject(event.UserID, event.Type), data); err != nil {
		return fmt.Errorf("failed to publish transcript event: %w", err)
	}
	return nil
}

// GetTranscript reads relayed messages for one user from the stream,
// starting after a sequence.
func (m *StreamManager) GetTranscript(ctx context.Context, userID int64, afterSequence uint64, limit int) ([]model.TranscriptMessage, uint64, bool, error) {
	js := m.client.JetStream()

	filterSubject := fmt.Sprintf("%s.%d.msg.>", SubjectPrefix, userID)

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}

	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := js.CreateConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	var messages []model.TranscriptMessage
	var lastSequence uint64

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch transcript: %w", err)
	}

	for msg := range batch.Messages() {
		var message model.TranscriptMessage
		if err := json.Unmarshal(msg.Data(), &message); err != nil {
			continue
		}

		if meta, err := msg.Metadata(); err == nil {
			message.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}

		messages = append(messages, message)
	}

	if batch.Error() != nil && batch.Error() != context.DeadlineExceeded {
		return nil, 0, false, fmt.Errorf("batch error: %w", batch.Error())
	}

	hasMore := len(messages) == limit

	return messages, lastSequence, hasMore, nil
}
