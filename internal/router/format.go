package router

import (
	"fmt"
	"strconv"

	"github.com/infastai/support-bridge/internal/model"
)

// User-facing notice texts. End users never see raw errors, only these.
const (
	noticeTopicPrompt        = "Welcome to support! What do you need help with?"
	noticeConnected          = "You're connected to support. Describe your issue and a member of our team will reply here."
	noticeAlreadyActive      = "You already have an active conversation. Just send your message and we'll get back to you."
	noticeNoConversation     = "You don't have an active conversation. Send /start to reach support."
	noticeAwaitingRating     = "This conversation has been closed. Please rate it using the buttons above, then send /start to open a new one."
	noticeRatePrompt         = "Your conversation has been closed. How would you rate the support you received?"
	noticeRatingThanks       = "Thanks for your feedback!"
	noticeSupportUnavailable = "Support is not available right now. Please try again later."
	noticeAdminRegistered    = "This chat is now the support admin channel."
	noticeAdminAlreadyHere   = "This chat is already the support admin channel."
	noticeAdminConfigured    = "A support admin channel is already configured."
)

func topicMenu(topics []string) [][]model.InlineButton {
	keyboard := make([][]model.InlineButton, 0, len(topics))
	for _, topic := range topics {
		keyboard = append(keyboard, []model.InlineButton{{
			Text:         topic,
			CallbackData: model.SelectTopic{Topic: topic}.Encode(),
		}})
	}
	return keyboard
}

func adminActionKeyboard(userID int64) [][]model.InlineButton {
	return [][]model.InlineButton{{
		{Text: "Reply", CallbackData: model.ReplyTo{UserID: userID}.Encode()},
		{Text: "Close", CallbackData: model.CloseRequest{UserID: userID}.Encode()},
	}}
}

func ratingKeyboard(userID int64) [][]model.InlineButton {
	row := make([]model.InlineButton, 0, 5)
	for value := 1; value <= 5; value++ {
		row = append(row, model.InlineButton{
			Text:         strconv.Itoa(value),
			CallbackData: model.Rating{Value: value, UserID: userID}.Encode(),
		})
	}
	return [][]model.InlineButton{row}
}

func openedNotice(conv *model.Conversation) string {
	return fmt.Sprintf("New conversation: %s (id %d) opened topic %q.",
		conv.Handle, conv.UserID, conv.Topic)
}

func userMessageNotice(conv *model.Conversation, text, suggestion string) string {
	notice := fmt.Sprintf("Message from %s (id %d, topic %q):\n\n%s",
		conv.Handle, conv.UserID, conv.Topic, text)
	if suggestion != "" {
		notice += "\n\nSuggested reply: " + suggestion
	}
	return notice
}

func replyPromptNotice(userID int64) string {
	return fmt.Sprintf("Replying to user %d. Your next message here will be relayed to them.", userID)
}

func closeFailedNotice(userID int64) string {
	return fmt.Sprintf("Could not close conversation with user %d: it no longer exists.", userID)
}

func deliveryFailedNotice(userID int64) string {
	return fmt.Sprintf("Could not deliver your reply to user %d: the conversation is closed.", userID)
}

func ratedNotice(handle string, value int) string {
	return fmt.Sprintf("%s rated the conversation %d/5.", handle, value)
}

func closedByOperatorNotice(conv *model.Conversation) string {
	return fmt.Sprintf("Conversation with %s (id %d) was closed by an operator.", conv.Handle, conv.UserID)
}
