// Package model defines data structures for the support bridge.
package model

import (
	"time"
)

// Sender identifies which party authored a logged message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAdmin Sender = "admin"
)

// MessageEntry is one entry in a conversation's append-only message log.
type MessageEntry struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation holds the full state of one end-user's support interaction.
type Conversation struct {
	UserID         int64          `json:"user_id"`
	Handle         string         `json:"handle"`
	Topic          string         `json:"topic"`
	OriginChatID   int64          `json:"origin_chat_id"`
	Messages       []MessageEntry `json:"messages"`
	CreatedAt      time.Time      `json:"created_at"`
	AwaitingRating bool           `json:"awaiting_rating"`
}

// ConversationSummary is the list view of an active conversation.
type ConversationSummary struct {
	UserID         int64     `json:"user_id"`
	Handle         string    `json:"handle"`
	Topic          string    `json:"topic"`
	MessageCount   int       `json:"message_count"`
	CreatedAt      time.Time `json:"created_at"`
	AwaitingRating bool      `json:"awaiting_rating"`
}

// ListConversationsResponse is the response for listing active conversations.
type ListConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	Total         int                   `json:"total"`
}
