// Package assist drafts suggested replies for the support admin.
package assist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/infastai/support-bridge/internal/model"
)

const (
	defaultModel = "gpt-4o-mini"

	systemPrompt = "You are drafting a short reply for a human support agent. " +
		"Answer the user's latest message in at most two sentences. " +
		"The agent will edit before sending, so do not add greetings or sign-offs."

	// The platform caps sendMessage text at 4096 bytes; the suggestion shares
	// the notice with the relayed message, so keep it well under that.
	maxHistoryEntries = 20
)

// Service drafts suggested replies with an LLM.
type Service struct {
	client *openai.Client
	model  string
}

// New creates an assist service. The API key is required.
func New(apiKey string) (*Service, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	return &Service{
		client: openai.NewClient(apiKey),
		model:  defaultModel,
	}, nil
}

// SuggestReply drafts a reply to the latest user message given the
// conversation so far.
func (s *Service) SuggestReply(ctx context.Context, topic string, history []model.MessageEntry) (string, error) {
	if len(history) == 0 {
		return "", errors.New("empty conversation history")
	}

	if len(history) > maxHistoryEntries {
		history = history[len(history)-maxHistoryEntries:]
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf("%s Support topic: %s.", systemPrompt, topic),
	})
	for _, entry := range history {
		role := openai.ChatMessageRoleUser
		if entry.Sender == model.SenderAdmin {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: entry.Text,
		})
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    messages,
		MaxTokens:   256,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
