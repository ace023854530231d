package model

import (
	"time"
)

// TranscriptEventType classifies entries on the durable transcript stream.
type TranscriptEventType string

const (
	TranscriptOpened TranscriptEventType = "opened"
	TranscriptClosed TranscriptEventType = "closed"
	TranscriptRated  TranscriptEventType = "rated"
)

// TranscriptMessage is a relayed message published to the transcript stream.
type TranscriptMessage struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`

	// JetStream metadata (populated on read)
	Sequence uint64 `json:"sequence,omitempty"`
}

// TranscriptEvent is a conversation lifecycle event published to the
// transcript stream.
type TranscriptEvent struct {
	ID        string              `json:"id"`
	UserID    int64               `json:"user_id"`
	Type      TranscriptEventType `json:"type"`
	Topic     string              `json:"topic,omitempty"`
	Handle    string              `json:"handle,omitempty"`
	Rating    int                 `json:"rating,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	Sequence  uint64              `json:"sequence,omitempty"`
}

// TranscriptResponse is the response for reading a conversation transcript
// from the durable stream.
type TranscriptResponse struct {
	Messages     []TranscriptMessage `json:"messages"`
	HasMore      bool                `json:"has_more"`
	LastSequence uint64              `json:"last_sequence"`
}
