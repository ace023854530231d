package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Callback payload tags. The payload travels inside a button's callback_data
// field, which the platform caps at 64 bytes, so the encoding is a compact
// underscore-separated string.
const (
	tagTopic = "service"
	tagReply = "reply"
	tagClose = "close"
	tagRate  = "rate"
)

// ErrMalformedCallback is returned when a callback payload cannot be parsed.
var ErrMalformedCallback = errors.New("malformed callback payload")

// Callback is a closed set of button actions: SelectTopic, ReplyTo,
// CloseRequest, and Rating.
type Callback interface {
	// Encode serializes the callback into its wire payload.
	Encode() string

	callback()
}

// SelectTopic starts a conversation under the chosen topic.
type SelectTopic struct {
	Topic string
}

func (c SelectTopic) callback() {}

func (c SelectTopic) Encode() string {
	return tagTopic + "_" + c.Topic
}

// ReplyTo marks the admin as drafting a reply to the given user.
type ReplyTo struct {
	UserID int64
}

func (c ReplyTo) callback() {}

func (c ReplyTo) Encode() string {
	return tagReply + "_" + strconv.FormatInt(c.UserID, 10)
}

// CloseRequest asks to close the given user's conversation.
type CloseRequest struct {
	UserID int64
}

func (c CloseRequest) callback() {}

func (c CloseRequest) Encode() string {
	return tagClose + "_" + strconv.FormatInt(c.UserID, 10)
}

// Rating submits a 1-5 satisfaction score. The payload carries the target
// user id so the rating can be correlated even after the conversation entry
// is gone.
type Rating struct {
	Value  int
	UserID int64
}

func (c Rating) callback() {}

func (c Rating) Encode() string {
	return fmt.Sprintf("%s_%d_%d", tagRate, c.Value, c.UserID)
}

// ParseCallback decodes a wire payload into its callback variant. Unknown
// tags, missing fields, and out-of-range ratings all fail with
// ErrMalformedCallback.
func ParseCallback(data string) (Callback, error) {
	tag, rest, found := strings.Cut(data, "_")
	if !found || rest == "" {
		return nil, fmt.Errorf("%w: %q", ErrMalformedCallback, data)
	}

	switch tag {
	case tagTopic:
		return SelectTopic{Topic: rest}, nil

	case tagReply:
		userID, err := parseUserID(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedCallback, data)
		}
		return ReplyTo{UserID: userID}, nil

	case tagClose:
		userID, err := parseUserID(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedCallback, data)
		}
		return CloseRequest{UserID: userID}, nil

	case tagRate:
		valueStr, userStr, found := strings.Cut(rest, "_")
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrMalformedCallback, data)
		}
		value, err := strconv.Atoi(valueStr)
		if err != nil || value < 1 || value > 5 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedCallback, data)
		}
		userID, err := parseUserID(userStr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedCallback, data)
		}
		return Rating{Value: value, UserID: userID}, nil

	default:
		return nil, fmt.Errorf("%w: unknown tag %q", ErrMalformedCallback, tag)
	}
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid user id")
	}
	return id, nil
}
