// Package router classifies inbound platform updates and drives the support
// conversation state machine.
package router

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/infastai/support-bridge/internal/model"
	"github.com/infastai/support-bridge/internal/session"
	"github.com/infastai/support-bridge/pkg/logger"
	"github.com/infastai/support-bridge/pkg/metrics"
)

// Messenger sends outbound messages through the platform.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendMessageWithKeyboard(ctx context.Context, chatID int64, text string, keyboard [][]model.InlineButton) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

// TranscriptPublisher records relayed messages and lifecycle events on the
// durable transcript stream.
type TranscriptPublisher interface {
	PublishMessage(ctx context.Context, userID int64, sender model.Sender, text string) error
	PublishEvent(ctx context.Context, event *model.TranscriptEvent) error
}

// ReplySuggester drafts a suggested reply for the admin.
type ReplySuggester interface {
	SuggestReply(ctx context.Context, topic string, history []model.MessageEntry) (string, error)
}

// Options configures a Router. Transcript and Suggester are optional.
type Options struct {
	Store       *session.Store
	Messenger   Messenger
	Transcript  TranscriptPublisher
	Suggester   ReplySuggester
	Topics      []string
	AdminChatID int64
	Logger      *logger.Logger
}

// Router dispatches each inbound update to exactly one handler based on its
// shape. Updates are delivered sequentially, so handlers mutate the session
// store without further coordination.
type Router struct {
	store      *session.Store
	messenger  Messenger
	transcript TranscriptPublisher
	suggester  ReplySuggester
	topics     []string
	logger     *logger.Logger

	// adminChat is the registered admin channel id, 0 when unset. When it
	// comes from configuration, runtime registration never overrides it.
	adminChat     atomic.Int64
	adminFromConf bool
}

// New creates a router.
func New(opts Options) *Router {
	r := &Router{
		store:      opts.Store,
		messenger:  opts.Messenger,
		transcript: opts.Transcript,
		suggester:  opts.Suggester,
		topics:     opts.Topics,
		logger:     opts.Logger,
	}
	if len(r.topics) == 0 {
		r.topics = []string{"infastai"}
	}
	if opts.AdminChatID != 0 {
		r.adminChat.Store(opts.AdminChatID)
		r.adminFromConf = true
	}
	return r
}

// AdminChatID returns the currently registered admin channel id, 0 when none.
func (r *Router) AdminChatID() int64 {
	return r.adminChat.Load()
}

// HandleUpdate processes one inbound update to completion. All handler errors
// are contained here: one malformed or failing event never takes the service
// down for other users.
func (r *Router) HandleUpdate(ctx context.Context, upd *model.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in update handler", zap.Any("panic", rec))
		}
	}()

	if upd == nil {
		return
	}

	var err error
	switch {
	case upd.CallbackQuery != nil:
		err = r.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		err = r.handleMessage(ctx, upd.Message)
	default:
		metrics.UpdatesDropped.WithLabelValues("unclassifiable").Inc()
		r.logger.Debug("dropping update with no message or callback",
			zap.Int64("update_id", upd.UpdateID))
		return
	}

	if err != nil {
		r.logger.Warn("update handler failed",
			zap.Int64("update_id", upd.UpdateID),
			zap.Error(err))
	}
}

func (r *Router) handleCallback(ctx context.Context, cq *model.CallbackQuery) error {
	if cq.From == nil || cq.Message == nil {
		metrics.UpdatesDropped.WithLabelValues("malformed_callback").Inc()
		r.logger.Warn("dropping callback without sender or message")
		return nil
	}

	cb, err := model.ParseCallback(cq.Data)
	if err != nil {
		metrics.UpdatesDropped.WithLabelValues("malformed_callback").Inc()
		r.logger.Warn("dropping malformed callback payload",
			zap.String("data", cq.Data),
			zap.Int64("from_id", cq.From.ID))
		r.ack(ctx, cq.ID, "")
		return nil
	}

	switch cb := cb.(type) {
	case model.SelectTopic:
		metrics.RecordUpdate("topic_selection")
		err = r.handleTopicSelected(ctx, cq, cb)
	case model.ReplyTo:
		metrics.RecordUpdate("admin_reply_request")
		err = r.handleReplyRequest(ctx, cq, cb)
	case model.CloseRequest:
		metrics.RecordUpdate("admin_close_request")
		err = r.handleCloseRequest(ctx, cq, cb)
	case model.Rating:
		metrics.RecordUpdate("user_rating")
		err = r.handleRating(ctx, cq, cb)
	}
	return err
}

func (r *Router) handleTopicSelected(ctx context.Context, cq *model.CallbackQuery, cb model.SelectTopic) error {
	chatID := cq.Message.Chat.ID
	user := cq.From

	if !r.topicAllowed(cb.Topic) {
		metrics.UpdatesDropped.WithLabelValues("unknown_topic").Inc()
		r.logger.Warn("dropping selection of unconfigured topic",
			zap.String("topic", cb.Topic),
			zap.Int64("from_id", user.ID))
		r.ack(ctx, cq.ID, "")
		return nil
	}

	conv, err := r.store.StartConversation(user.ID, user.Handle(), cb.Topic, chatID)
	if errors.Is(err, session.ErrConversationExists) {
		r.ack(ctx, cq.ID, "")
		return r.send(ctx, chatID, noticeAlreadyActive)
	}
	if err != nil {
		return err
	}

	r.logger.WithConversation(user.ID, cb.Topic).Info("conversation opened",
		zap.String("handle", conv.Handle))

	r.publishEvent(ctx, &model.TranscriptEvent{
		UserID: user.ID,
		Type:   model.TranscriptOpened,
		Topic:  cb.Topic,
		Handle: conv.Handle,
	})

	if adminChat := r.adminChat.Load(); adminChat != 0 {
		r.notifyAdmin(ctx, adminChat, openedNotice(conv))
	}

	r.ack(ctx, cq.ID, "")
	return r.send(ctx, chatID, noticeConnected)
}

func (r *Router) handleReplyRequest(ctx context.Context, cq *model.CallbackQuery, cb model.ReplyTo) error {
	adminChat := r.adminChat.Load()
	if adminChat == 0 || cq.Message.Chat.ID != adminChat {
		metrics.UpdatesDropped.WithLabelValues("unauthorized").Inc()
		r.logger.Warn("dropping reply request outside admin channel",
			zap.Int64("chat_id", cq.Message.Chat.ID))
		return nil
	}

	r.store.SetReplyTarget(cq.From.ID, cb.UserID)
	r.ack(ctx, cq.ID, "Send your reply")
	return r.send(ctx, adminChat, replyPromptNotice(cb.UserID))
}

func (r *Router) handleCloseRequest(ctx context.Context, cq *model.CallbackQuery, cb model.CloseRequest) error {
	adminChat := r.adminChat.Load()
	if adminChat == 0 || cq.Message.Chat.ID != adminChat {
		metrics.UpdatesDropped.WithLabelValues("unauthorized").Inc()
		r.logger.Warn("dropping close request outside admin channel",
			zap.Int64("chat_id", cq.Message.Chat.ID))
		return nil
	}

	r.ack(ctx, cq.ID, "")
	return r.closeConversation(ctx, cb.UserID, adminChat)
}

// closeConversation marks the conversation awaiting rating and prompts the
// user to rate. The entry stays in the store until the rating arrives.
func (r *Router) closeConversation(ctx context.Context, userID, adminChat int64) error {
	if err := r.store.MarkAwaitingRating(userID); err != nil {
		if errors.Is(err, session.ErrConversationNotFound) {
			return r.send(ctx, adminChat, closeFailedNotice(userID))
		}
		return err
	}

	conv, err := r.store.Get(userID)
	if err != nil {
		return err
	}

	r.logger.WithConversation(userID, conv.Topic).Info("conversation closed, awaiting rating")

	r.publishEvent(ctx, &model.TranscriptEvent{
		UserID: userID,
		Type:   model.TranscriptClosed,
		Topic:  conv.Topic,
		Handle: conv.Handle,
	})

	return r.messenger.SendMessageWithKeyboard(ctx, conv.OriginChatID, noticeRatePrompt, ratingKeyboard(userID))
}

func (r *Router) handleRating(ctx context.Context, cq *model.CallbackQuery, cb model.Rating) error {
	// The payload carries the user id itself, so a late press still relays
	// the score even after the conversation entry is gone.
	handle := "user " + strconv.FormatInt(cb.UserID, 10)
	topic := ""
	if conv, err := r.store.Get(cb.UserID); err == nil {
		handle = conv.Handle
		topic = conv.Topic
	}

	r.store.CloseConversation(cb.UserID)

	metrics.RatingsTotal.WithLabelValues(strconv.Itoa(cb.Value)).Inc()
	r.logger.Info("rating submitted",
		zap.Int64("user_id", cb.UserID),
		zap.Int("rating", cb.Value))

	r.publishEvent(ctx, &model.TranscriptEvent{
		UserID: cb.UserID,
		Type:   model.TranscriptRated,
		Topic:  topic,
		Handle: handle,
		Rating: cb.Value,
	})

	if adminChat := r.adminChat.Load(); adminChat != 0 {
		r.notifyAdmin(ctx, adminChat, ratedNotice(handle, cb.Value))
	}

	r.ack(ctx, cq.ID, "Thanks for your feedback!")
	return r.send(ctx, cq.Message.Chat.ID, noticeRatingThanks)
}

func (r *Router) handleMessage(ctx context.Context, msg *model.IncomingMessage) error {
	if msg.From == nil || msg.Text == "" {
		metrics.UpdatesDropped.WithLabelValues("malformed_message").Inc()
		return nil
	}

	// Command-prefixed text is never conversation content, even inside an
	// open conversation.
	if strings.HasPrefix(msg.Text, "/") {
		return r.handleCommand(ctx, msg)
	}

	if adminChat := r.adminChat.Load(); adminChat != 0 && msg.Chat.ID == adminChat {
		metrics.RecordUpdate("admin_free_text")
		return r.handleAdminText(ctx, msg, adminChat)
	}

	metrics.RecordUpdate("user_free_text")
	return r.handleUserText(ctx, msg)
}

func (r *Router) handleCommand(ctx context.Context, msg *model.IncomingMessage) error {
	command, _, _ := strings.Cut(msg.Text, " ")
	command, _, _ = strings.Cut(command, "@")

	if command != "/start" {
		metrics.UpdatesDropped.WithLabelValues("unknown_command").Inc()
		r.logger.Debug("ignoring unknown command",
			zap.String("command", command),
			zap.Int64("from_id", msg.From.ID))
		return nil
	}

	metrics.RecordUpdate("start_command")

	// An admin issuing /start in a group chat registers it as the admin
	// channel, but only when none was configured.
	if msg.Chat.Type == model.ChatTypeGroup || msg.Chat.Type == model.ChatTypeSupergroup {
		return r.registerAdminChat(ctx, msg)
	}

	if _, err := r.store.Get(msg.From.ID); err == nil {
		return r.send(ctx, msg.Chat.ID, noticeAlreadyActive)
	}

	return r.messenger.SendMessageWithKeyboard(ctx, msg.Chat.ID, noticeTopicPrompt, topicMenu(r.topics))
}

func (r *Router) registerAdminChat(ctx context.Context, msg *model.IncomingMessage) error {
	if r.adminFromConf {
		return r.send(ctx, msg.Chat.ID, noticeAdminConfigured)
	}
	if !r.adminChat.CompareAndSwap(0, msg.Chat.ID) {
		if r.adminChat.Load() == msg.Chat.ID {
			return r.send(ctx, msg.Chat.ID, noticeAdminAlreadyHere)
		}
		return r.send(ctx, msg.Chat.ID, noticeAdminConfigured)
	}

	r.logger.Info("admin channel registered", zap.Int64("chat_id", msg.Chat.ID))
	return r.send(ctx, msg.Chat.ID, noticeAdminRegistered)
}

func (r *Router) handleAdminText(ctx context.Context, msg *model.IncomingMessage, adminChat int64) error {
	// The pending-reply marker is consumed no matter how delivery goes.
	userID, err := r.store.ConsumeReplyTarget(msg.From.ID)
	if errors.Is(err, session.ErrNoReplyTarget) {
		r.logger.Debug("admin text with no pending reply target",
			zap.Int64("admin_id", msg.From.ID))
		return nil
	}
	if err != nil {
		return err
	}

	if err := r.store.AppendMessage(userID, model.SenderAdmin, msg.Text); err != nil {
		if errors.Is(err, session.ErrConversationNotFound) {
			return r.send(ctx, adminChat, deliveryFailedNotice(userID))
		}
		return err
	}

	conv, err := r.store.Get(userID)
	if err != nil {
		return r.send(ctx, adminChat, deliveryFailedNotice(userID))
	}

	if err := r.messenger.SendMessage(ctx, conv.OriginChatID, "Support: "+msg.Text); err != nil {
		r.logger.Warn("failed to relay admin reply",
			zap.Int64("user_id", userID),
			zap.Error(err))
		return r.send(ctx, adminChat, deliveryFailedNotice(userID))
	}

	metrics.RecordRelay("admin_to_user")
	r.publishMessage(ctx, userID, model.SenderAdmin, msg.Text)
	return nil
}

func (r *Router) handleUserText(ctx context.Context, msg *model.IncomingMessage) error {
	userID := msg.From.ID

	conv, err := r.store.Get(userID)
	if errors.Is(err, session.ErrConversationNotFound) {
		return r.send(ctx, msg.Chat.ID, noticeNoConversation)
	}
	if err != nil {
		return err
	}

	if conv.AwaitingRating {
		return r.send(ctx, msg.Chat.ID, noticeAwaitingRating)
	}

	if err := r.store.AppendMessage(userID, model.SenderUser, msg.Text); err != nil {
		return err
	}

	adminChat := r.adminChat.Load()
	if adminChat == 0 {
		r.logger.Warn("no admin channel registered, message not relayed",
			zap.Int64("user_id", userID))
		return r.send(ctx, msg.Chat.ID, noticeSupportUnavailable)
	}

	suggestion := r.suggestReply(ctx, conv, msg.Text)

	notice := userMessageNotice(conv, msg.Text, suggestion)
	err = r.messenger.SendMessageWithKeyboard(ctx, adminChat, notice, adminActionKeyboard(userID))
	if err != nil {
		r.logger.Warn("failed to relay user message to admin channel",
			zap.Int64("user_id", userID),
			zap.Error(err))
		return nil
	}

	metrics.RecordRelay("user_to_admin")
	r.publishMessage(ctx, userID, model.SenderUser, msg.Text)
	return nil
}

// ForceClose closes a user's conversation on behalf of an operator, sending
// the same rating prompt an admin close button press would.
func (r *Router) ForceClose(ctx context.Context, userID int64) error {
	adminChat := r.adminChat.Load()
	if err := r.store.MarkAwaitingRating(userID); err != nil {
		return err
	}

	conv, err := r.store.Get(userID)
	if err != nil {
		return err
	}

	r.publishEvent(ctx, &model.TranscriptEvent{
		UserID: userID,
		Type:   model.TranscriptClosed,
		Topic:  conv.Topic,
		Handle: conv.Handle,
	})

	if adminChat != 0 {
		r.notifyAdmin(ctx, adminChat, closedByOperatorNotice(conv))
	}

	return r.messenger.SendMessageWithKeyboard(ctx, conv.OriginChatID, noticeRatePrompt, ratingKeyboard(userID))
}

func (r *Router) suggestReply(ctx context.Context, conv *model.Conversation, latest string) string {
	if r.suggester == nil {
		return ""
	}

	history := append(conv.Messages, model.MessageEntry{Sender: model.SenderUser, Text: latest})
	suggestion, err := r.suggester.SuggestReply(ctx, conv.Topic, history)
	if err != nil {
		metrics.AssistRequestsTotal.WithLabelValues("error").Inc()
		r.logger.Warn("suggested reply drafting failed", zap.Error(err))
		return ""
	}
	metrics.AssistRequestsTotal.WithLabelValues("success").Inc()
	return suggestion
}

func (r *Router) topicAllowed(topic string) bool {
	for _, t := range r.topics {
		if t == topic {
			return true
		}
	}
	return false
}

// send delivers a text notice, logging rather than propagating failures.
func (r *Router) send(ctx context.Context, chatID int64, text string) error {
	if err := r.messenger.SendMessage(ctx, chatID, text); err != nil {
		r.logger.Warn("failed to send notice",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	}
	return nil
}

func (r *Router) notifyAdmin(ctx context.Context, adminChat int64, text string) {
	if err := r.messenger.SendMessage(ctx, adminChat, text); err != nil {
		r.logger.Warn("failed to notify admin channel", zap.Error(err))
	}
}

func (r *Router) ack(ctx context.Context, callbackID, text string) {
	if err := r.messenger.AnswerCallbackQuery(ctx, callbackID, text); err != nil {
		r.logger.Debug("failed to answer callback query", zap.Error(err))
	}
}

func (r *Router) publishMessage(ctx context.Context, userID int64, sender model.Sender, text string) {
	if r.transcript == nil {
		return
	}
	if err := r.transcript.PublishMessage(ctx, userID, sender, text); err != nil {
		metrics.TranscriptPublishFailures.Inc()
		r.logger.Warn("transcript publish failed", zap.Error(err))
	}
}

func (r *Router) publishEvent(ctx context.Context, event *model.TranscriptEvent) {
	if r.transcript == nil {
		return
	}
	if err := r.transcript.PublishEvent(ctx, event); err != nil {
		metrics.TranscriptPublishFailures.Inc()
		r.logger.Warn("transcript publish failed", zap.Error(err))
	}
}
