// Package session provides in-memory state for support conversations.
package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/infastai/support-bridge/internal/model"
	"github.com/infastai/support-bridge/pkg/metrics"
)

var (
	// ErrConversationExists is returned when starting a conversation for a
	// user who already has one.
	ErrConversationExists = errors.New("conversation already exists")

	// ErrConversationNotFound is returned when an operation references a
	// missing conversation.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrNoReplyTarget is returned when consuming an admin reply target that
	// was never set.
	ErrNoReplyTarget = errors.New("no pending reply target")
)

// Store holds the live conversation state per end user and the pending reply
// target per admin. All state is process-local; the durable transcript stream
// is the only record that survives a restart.
type Store struct {
	mu            sync.RWMutex
	conversations map[int64]*model.Conversation
	replyTargets  map[int64]int64
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[int64]*model.Conversation),
		replyTargets:  make(map[int64]int64),
	}
}

// StartConversation creates a conversation for the user. It fails with
// ErrConversationExists if one is already present; the existing entry is
// never overwritten.
func (s *Store) StartConversation(userID int64, handle, topic string, originChatID int64) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[userID]; exists {
		return nil, ErrConversationExists
	}

	conv := &model.Conversation{
		UserID:       userID,
		Handle:       handle,
		Topic:        topic,
		OriginChatID: originChatID,
		Messages:     []model.MessageEntry{},
		CreatedAt:    time.Now(),
	}
	s.conversations[userID] = conv

	metrics.ActiveConversations.Set(float64(len(s.conversations)))

	return snapshot(conv), nil
}

// Get returns a copy of the user's conversation.
func (s *Store) Get(userID int64) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[userID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return snapshot(conv), nil
}

// AppendMessage appends an entry to the conversation's message log. It never
// creates a conversation as a side effect.
func (s *Store) AppendMessage(userID int64, sender model.Sender, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[userID]
	if !ok {
		return ErrConversationNotFound
	}

	conv.Messages = append(conv.Messages, model.MessageEntry{
		Sender:    sender,
		Text:      text,
		Timestamp: time.Now(),
	})
	return nil
}

// MarkAwaitingRating flags the conversation as closed by the admin and
// waiting for the user's rating. The entry stays in the store until the
// rating arrives.
func (s *Store) MarkAwaitingRating(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[userID]
	if !ok {
		return ErrConversationNotFound
	}
	conv.AwaitingRating = true
	return nil
}

// CloseConversation removes the conversation entry. Removing an absent entry
// is a no-op, not an error.
func (s *Store) CloseConversation(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations, userID)
	metrics.ActiveConversations.Set(float64(len(s.conversations)))
}

// List returns summaries of all conversations, ordered by creation time.
func (s *Store) List() []model.ConversationSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]model.ConversationSummary, 0, len(s.conversations))
	for _, conv := range s.conversations {
		summaries = append(summaries, model.ConversationSummary{
			UserID:         conv.UserID,
			Handle:         conv.Handle,
			Topic:          conv.Topic,
			MessageCount:   len(conv.Messages),
			CreatedAt:      conv.CreatedAt,
			AwaitingRating: conv.AwaitingRating,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})

	return summaries
}

// Count returns the number of live conversations.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// SetReplyTarget records which user the admin is currently drafting a reply
// to. A second press overwrites the first target.
func (s *Store) SetReplyTarget(adminID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyTargets[adminID] = userID
}

// ConsumeReplyTarget reads and deletes the admin's pending reply target in
// one step so a stale target cannot survive past a single reply.
func (s *Store) ConsumeReplyTarget(adminID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.replyTargets[adminID]
	if !ok {
		return 0, ErrNoReplyTarget
	}
	delete(s.replyTargets, adminID)
	return userID, nil
}

func snapshot(conv *model.Conversation) *model.Conversation {
	out := *conv
	out.Messages = make([]model.MessageEntry, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	return &out
}
