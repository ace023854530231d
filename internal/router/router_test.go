package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/infastai/support-bridge/internal/model"
	"github.com/infastai/support-bridge/internal/session"
	"github.com/infastai/support-bridge/pkg/logger"
)

const (
	adminChatID = int64(-500100)
	adminID     = int64(7)
	aliceID     = int64(42)
	aliceChatID = int64(42)
)

type sentMessage struct {
	chatID   int64
	text     string
	keyboard [][]model.InlineButton
}

type fakeMessenger struct {
	sent      []sentMessage
	acks      []string
	failChats map[int64]bool
}

func (f *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string) error {
	if f.failChats[chatID] {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (f *fakeMessenger) SendMessageWithKeyboard(_ context.Context, chatID int64, text string, keyboard [][]model.InlineButton) error {
	if f.failChats[chatID] {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, keyboard: keyboard})
	return nil
}

func (f *fakeMessenger) AnswerCallbackQuery(_ context.Context, callbackID, text string) error {
	f.acks = append(f.acks, callbackID)
	return nil
}

func (f *fakeMessenger) sentTo(chatID int64) []sentMessage {
	var out []sentMessage
	for _, m := range f.sent {
		if m.chatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

type publishedEvent struct {
	userID int64
	kind   model.TranscriptEventType
	rating int
}

type fakeTranscript struct {
	messages []model.TranscriptMessage
	events   []publishedEvent
}

func (f *fakeTranscript) PublishMessage(_ context.Context, userID int64, sender model.Sender, text string) error {
	f.messages = append(f.messages, model.TranscriptMessage{UserID: userID, Sender: sender, Text: text})
	return nil
}

func (f *fakeTranscript) PublishEvent(_ context.Context, event *model.TranscriptEvent) error {
	f.events = append(f.events, publishedEvent{userID: event.UserID, kind: event.Type, rating: event.Rating})
	return nil
}

type fakeSuggester struct {
	suggestion string
	err        error
}

func (f *fakeSuggester) SuggestReply(_ context.Context, _ string, _ []model.MessageEntry) (string, error) {
	return f.suggestion, f.err
}

func newTestRouter(opts Options) (*Router, *session.Store, *fakeMessenger) {
	store := session.NewStore()
	messenger := &fakeMessenger{failChats: map[int64]bool{}}
	opts.Store = store
	opts.Messenger = messenger
	if opts.Topics == nil {
		opts.Topics = []string{"infastai"}
	}
	if opts.AdminChatID == 0 {
		opts.AdminChatID = adminChatID
	}
	opts.Logger = logger.NewNop()
	return New(opts), store, messenger
}

func startCommand(fromID, chatID int64, chatType string) *model.Update {
	return textMessage(fromID, chatID, chatType, "/start")
}

func textMessage(fromID, chatID int64, chatType, text string) *model.Update {
	return &model.Update{
		UpdateID: 1,
		Message: &model.IncomingMessage{
			MessageID: 10,
			From:      &model.User{ID: fromID, Username: "alice"},
			Chat:      model.Chat{ID: chatID, Type: chatType},
			Text:      text,
		},
	}
}

func buttonPress(fromID, chatID int64, data string) *model.Update {
	return &model.Update{
		UpdateID: 2,
		CallbackQuery: &model.CallbackQuery{
			ID:   "cb1",
			From: &model.User{ID: fromID, Username: "alice"},
			Message: &model.IncomingMessage{
				MessageID: 11,
				Chat:      model.Chat{ID: chatID, Type: model.ChatTypePrivate},
			},
			Data: data,
		},
	}
}

func openConversation(t *testing.T, store *session.Store) {
	t.Helper()
	_, err := store.StartConversation(aliceID, "@alice", "infastai", aliceChatID)
	require.NoError(t, err)
}

func TestStartCommandShowsTopicMenu(t *testing.T) {
	r, _, messenger := newTestRouter(Options{})

	r.HandleUpdate(context.Background(), startCommand(aliceID, aliceChatID, model.ChatTypePrivate))

	sent := messenger.sentTo(aliceChatID)
	require.Len(t, sent, 1)
	require.Len(t, sent[0].keyboard, 1)
	require.Len(t, sent[0].keyboard[0], 1)
	require.Equal(t, "service_infastai", sent[0].keyboard[0][0].CallbackData)
}

func TestTopicSelectionOpensConversation(t *testing.T) {
	r, store, _ := newTestRouter(Options{})

	r.HandleUpdate(context.Background(), buttonPress(aliceID, aliceChatID, "service_infastai"))

	conv, err := store.Get(aliceID)
	require.NoError(t, err)
	require.Equal(t, "infastai", conv.Topic)
	require.Equal(t, "@alice", conv.Handle)
	require.Equal(t, aliceChatID, conv.OriginChatID)
	require.Empty(t, conv.Messages)
}

func TestUnknownTopicDropped(t *testing.T) {
	r, store, _ := newTestRouter(Options{})

	r.HandleUpdate(context.Background(), buttonPress(aliceID, aliceChatID, "service_pets"))

	_, err := store.Get(aliceID)
	require.ErrorIs(t, err, session.ErrConversationNotFound)
}

func TestUserTextRelayedToAdmin(t *testing.T) {
	r, store, messenger := newTestRouter(Options{})
	openConversation(t, store)

	r.HandleUpdate(context.Background(), textMessage(aliceID, aliceChatID, model.ChatTypePrivate, "Need help"))

	sent := messenger.sentTo(adminChatID)
	require.Len(t, sent, 1)
	require.Contains(t, sent[0].text, "@alice")
	require.Contains(t, sent[0].text, "42")
	require.Contains(t, sent[0].text, "infastai")
	require.Contains(t, sent[0].text, "Need help")

	require.Len(t, sent[0].keyboard, 1)
	require.Len(t, sent[0].keyboard[0], 2)
	require.Equal(t, "reply_42", sent[0].keyboard[0][0].CallbackData)
	require.Equal(t, "close_42", sent[0].keyboard[0][1].CallbackData)

	conv, err := store.Get(aliceID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	require.Equal(t, model.SenderUser, conv.Messages[0].Sender)
	require.Equal(t, "Need help", conv.Messages[0].Text)
}

func TestAdminCloseSendsRatingPrompt(t *testing.T) {
	r, store, messenger := newTestRouter(Options{})
	openConversation(t, store)

	r.HandleUpdate(context.Background(), buttonPress(adminID, adminChatID, "close_42"))

	sent := messenger.sentTo(aliceChatID)
	require.Len(t, sent, 1)
	require.Len(t, sent[0].keyboard, 1)
	require.Len(t, sent[0].keyboard[0], 5)
	for i, button := range sent[0].keyboard[0] {
		cb, err := model.ParseCallback(button.CallbackData)
		require.NoError(t, err)
		require.Equal(t, model.Rating{Value: i + 1, UserID: aliceID}, cb)
	}

	// Deletion happens only on rating submission.
	conv, err := store.Get(aliceID)
	require.NoError(t, err)
	require.True(t, conv.AwaitingRating)
}

func TestRatingRelayedAndConversationRemoved(t *testing.T) {
	r, store, messenger := newTestRouter(Options{})
	openConversation(t, store)
	require.NoError(t, store.MarkAwaitingRating(aliceID))

	r.HandleUpdate(context.Background(), buttonPress(aliceID, aliceChatID, "rate_4_42"))

	sent := messenger.sentTo(adminChatID)
	require.Len(t, sent, 1)
	require.Contains(t, sent[0].text, "4/5")
	require.Contains(t, sent[0].text, "@alice")

	_, err := store.Get(aliceID)
	require.ErrorIs(t, err, session.ErrConversationNotFound)

	userSent := messenger.sentTo(aliceChatID)
	require.Len(t, userSent, 1)
}

func TestRatingAfterConversationGone(t *testing.T) {
	r, _, messenger := newTestRouter(Options{})

	// The payload is self-contained, so a late press still relays the score.
	r.HandleUpdate(context.Background(), buttonPress(aliceID, aliceChatID, "rate_5_42"))

	sent := messenger.sentTo(adminChatID)
	require.Len(t, sent, 1)
	require.Contains(t, sent[0].text, "5/5")
	require.Contains(t, sent[0].text, "user 42")
}

func TestDuplicateStartKeepsConversation(t *testing.T) {
	r, store, messenger := newTestRouter(Options{})
	openConversation(t, store)
	require.NoError(t, store.AppendMessage(aliceID, model.SenderUser, "hello"))

	r.HandleUpdate(context.Background(), startCommand(aliceID, aliceChatID, model.ChatTypePrivate))

	sent := messenger.sentTo(aliceChatID)
	require.Len(t, sent, 1)
	require.Equal(t, noticeAlreadyActive, sent[0].text)
	require.Nil(t, sent[0].keyboard)

	conv, err := store.Get(aliceID)
	require.NoError(t, err)
	require.Equal(t, "infastai", conv.Topic)
	require.Len(t, conv.Messages, 1)
}

func TestDuplicateTopicSelectionKeepsConversation(t *testing.T) {
	r, store, messenger := newTestRouter(Options{Topics: []string{"infastai", "billing"}})
	openConversation(t, store)

	r.HandleUpdate(context.Background(), buttonPress(aliceID, aliceChatID, "service_billing"))

	conv, err := store.Get(aliceID)
	require.NoError(t, err)
	require.Equal(t, "infastai", conv.Topic)

	sent := messenger.sentTo(aliceChatID)
	require.Len(t, sent, 1)
	require.Equal(t, noticeAlreadyActive, sent[0].text)
}

func TestAdminReplyFlow(t *testing.T) {
	r, store, messenger := newTestRouter(Options{})
	openConversation(t, store)

	r.HandleUpdate(context.Background(), buttonPress(adminID, adminChatID, "reply_42"))
	r.HandleUpdate(context.Background(), textMessage(adminID, adminChatID, model.ChatTypeGroup, "We're on it"))

	sent := messenger.sentTo(aliceChatID)
	require.Len(t, sent, 1)
	require.Equal(t, "Support: We're on it", sent[0].text)

	conv, err := store.Get(aliceID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	require.Equal(t, model.SenderAdmin, conv.Messages[0].Sender)

	// The target was consumed; further admin text is not relayed.
	r.HandleUpdate(context.Background(), textMessage(adminID, adminChatID, model.ChatTypeGroup, "stray chatter"))
	require.Len(t, messenger.sentTo(aliceChatID), 1)
}

func TestAdminReplyAfterConversationClosed(t *testing.T) {
	r, store, messenger := newTestRouter(Options{})
	openConversation(t, store)

	r.HandleUpdate(context.Background(), buttonPress(adminID, adminChatID, "reply_42"))
	store.CloseConversation(aliceID)

	r.HandleUpdate(context.Background(), textMessage(adminID, adminChatID, model.ChatTypeGroup, "too late"))

	require.Empty(t, messenger.sentTo(aliceChatID))

	adminSent := messenger.sentTo(adminChatID)
	require.NotEmpty(t, adminSent)
	require.Contains(t, adminSent[len(adminSent)-1].text, "Could not deliver")

	// The pending-reply marker was cleared regardless of the failure.
	_, err := store.ConsumeReplyTarget(adminID)
	require.ErrorIs(t, err, session.ErrNoReplyTarget)
}

func TestAdminReplyConsumedOnDeliveryFailure(t *testing.T) {
	r, store, messenger := newTestRouter(Options{})
	openConversation(t, store)
	messenger.failChats[aliceChatID] = true

	r.HandleUpdate(context.Background(), buttonPress(adminID, adminChatID, "reply_42"))
	r.HandleUpdate(context.Background(), textMessage(adminID, adminChatID, model.ChatTypeGroup, "hello"))

	_, err := store.ConsumeReplyTarget(adminID)
	require.ErrorIs(t, err, session.ErrNoReplyTarget)

	adminSent := messenger.sentTo(adminChatID)
	require.NotEmpty(t, adminSent)
	require.Contains(t, adminSent[len(adminSent)-1].text, "Could not deliver")
}

func TestCommandTextNeverTreatedAsContent(t *testing.T) {
	r, store, messenger := newTestRouter(Options{})
	openConversation(t, store)

	r.HandleUpdate(context.Background(), textMessage(aliceID, aliceChatID, model.ChatTypePrivate, "/help me please"))

	require.Empty(t, messenger.sentTo(adminChatID))

	conv, err := store.Get(aliceID)
	require.NoError(t, err)
	require.Empty(t, conv.Messages)
}

func TestMalformedCallbackDropped(t *testing.T) {
	r, store, messenger := newTestRouter(Options{})
	openConversation(t, store)

	for _, data := range []string{"rate_9_42", "bogus", "reply_abc", ""} {
		r.HandleUpdate(context.Background(), buttonPress(aliceID, aliceChatID, data))
	}

	require.Empty(t, messenger.sentTo(adminChatID))
	require.Empty(t, messenger.sentTo(aliceChatID))

	conv, err := store.Get(aliceID)
	require.NoError(t, err)
	require.Empty(t, conv.Messages)
}

func TestReplyRequestOutsideAdminChannelIgnored(t *testing.T) {
	r, store, _ := newTestRouter(Options{})
	openConversation(t, store)

	r.HandleUpdate(context.Background(), buttonPress(aliceID, aliceChatID, "reply_42"))

	_, err := store.ConsumeReplyTarget(aliceID)
	require.ErrorIs(t, err, session.ErrNoReplyTarget)
}

func TestUserTextWhileAwaitingRating(t *testing.T) {
	r, store, messenger := newTestRouter(Options{})
	openConversation(t, store)
	require.NoError(t, store.MarkAwaitingRating(aliceID))

	r.HandleUpdate(context.Background(), textMessage(aliceID, aliceChatID, model.ChatTypePrivate, "one more thing"))

	require.Empty(t, messenger.sentTo(adminChatID))
	sent := messenger.sentTo(aliceChatID)
	require.Len(t, sent, 1)
	require.Equal(t, noticeAwaitingRating, sent[0].text)
}

func TestUserTextWithoutConversation(t *testing.T) {
	r, _, messenger := newTestRouter(Options{})

	r.HandleUpdate(context.Background(), textMessage(aliceID, aliceChatID, model.ChatTypePrivate, "hello?"))

	sent := messenger.sentTo(aliceChatID)
	require.Len(t, sent, 1)
	require.Equal(t, noticeNoConversation, sent[0].text)
}

func TestAdminChannelRegistration(t *testing.T) {
	// No configured admin channel: the first /start in a group registers it.
	messenger := &fakeMessenger{failChats: map[int64]bool{}}
	r := New(Options{
		Store:     session.NewStore(),
		Messenger: messenger,
		Topics:    []string{"infastai"},
		Logger:    logger.NewNop(),
	})

	require.EqualValues(t, 0, r.AdminChatID())

	r.HandleUpdate(context.Background(), startCommand(adminID, adminChatID, model.ChatTypeGroup))

	require.Equal(t, adminChatID, r.AdminChatID())
	sent := messenger.sentTo(adminChatID)
	require.Len(t, sent, 1)
	require.Equal(t, noticeAdminRegistered, sent[0].text)

	// A second group cannot take over the registration.
	otherChat := int64(-900)
	r.HandleUpdate(context.Background(), startCommand(adminID, otherChat, model.ChatTypeGroup))
	require.Equal(t, adminChatID, r.AdminChatID())
}

func TestConfiguredAdminChannelNotOverridden(t *testing.T) {
	r, _, messenger := newTestRouter(Options{})

	otherChat := int64(-900)
	r.HandleUpdate(context.Background(), startCommand(adminID, otherChat, model.ChatTypeGroup))

	require.Equal(t, adminChatID, r.AdminChatID())
	sent := messenger.sentTo(otherChat)
	require.Len(t, sent, 1)
	require.Equal(t, noticeAdminConfigured, sent[0].text)
}

func TestTranscriptEventsPublished(t *testing.T) {
	transcript := &fakeTranscript{}
	r, store, _ := newTestRouter(Options{Transcript: transcript})

	r.HandleUpdate(context.Background(), buttonPress(aliceID, aliceChatID, "service_infastai"))
	r.HandleUpdate(context.Background(), textMessage(aliceID, aliceChatID, model.ChatTypePrivate, "Need help"))
	r.HandleUpdate(context.Background(), buttonPress(adminID, adminChatID, "reply_42"))
	r.HandleUpdate(context.Background(), textMessage(adminID, adminChatID, model.ChatTypeGroup, "On it"))
	r.HandleUpdate(context.Background(), buttonPress(adminID, adminChatID, "close_42"))
	r.HandleUpdate(context.Background(), buttonPress(aliceID, aliceChatID, "rate_4_42"))

	require.Len(t, transcript.messages, 2)
	require.Equal(t, model.SenderUser, transcript.messages[0].Sender)
	require.Equal(t, model.SenderAdmin, transcript.messages[1].Sender)

	require.Len(t, transcript.events, 3)
	require.Equal(t, model.TranscriptOpened, transcript.events[0].kind)
	require.Equal(t, model.TranscriptClosed, transcript.events[1].kind)
	require.Equal(t, model.TranscriptRated, transcript.events[2].kind)
	require.Equal(t, 4, transcript.events[2].rating)

	_, err := store.Get(aliceID)
	require.ErrorIs(t, err, session.ErrConversationNotFound)
}

func TestSuggestedReplyAppended(t *testing.T) {
	r, store, messenger := newTestRouter(Options{Suggester: &fakeSuggester{suggestion: "Try signing out and back in."}})
	openConversation(t, store)

	r.HandleUpdate(context.Background(), textMessage(aliceID, aliceChatID, model.ChatTypePrivate, "App won't sync"))

	sent := messenger.sentTo(adminChatID)
	require.Len(t, sent, 1)
	require.Contains(t, sent[0].text, "Suggested reply: Try signing out and back in.")
}

func TestSuggesterFailureStillRelays(t *testing.T) {
	r, store, messenger := newTestRouter(Options{Suggester: &fakeSuggester{err: errors.New("model unavailable")}})
	openConversation(t, store)

	r.HandleUpdate(context.Background(), textMessage(aliceID, aliceChatID, model.ChatTypePrivate, "App won't sync"))

	sent := messenger.sentTo(adminChatID)
	require.Len(t, sent, 1)
	require.Contains(t, sent[0].text, "App won't sync")
	require.False(t, strings.Contains(sent[0].text, "Suggested reply"))
}

func TestForceClose(t *testing.T) {
	r, store, messenger := newTestRouter(Options{})
	openConversation(t, store)

	require.NoError(t, r.ForceClose(context.Background(), aliceID))

	conv, err := store.Get(aliceID)
	require.NoError(t, err)
	require.True(t, conv.AwaitingRating)

	sent := messenger.sentTo(aliceChatID)
	require.Len(t, sent, 1)
	require.Len(t, sent[0].keyboard[0], 5)

	require.ErrorIs(t, r.ForceClose(context.Background(), int64(99)), session.ErrConversationNotFound)
}
