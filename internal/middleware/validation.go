package middleware

import (
	"errors"
	"strconv"
	"unicode/utf8"
)

// ParseUserID validates and parses a user id path parameter.
func ParseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid user ID format")
	}
	return id, nil
}

// ValidateMessageText validates message text against platform limits.
func ValidateMessageText(text string) error {
	if len(text) == 0 {
		return errors.New("text cannot be empty")
	}
	if len(text) > 4096 {
		return errors.New("text exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("text must be valid UTF-8")
	}
	return nil
}

// ValidateTopic validates a support topic label.
func ValidateTopic(topic string) error {
	if len(topic) == 0 {
		return errors.New("topic cannot be empty")
	}
	if len(topic) > 56 {
		// The topic rides inside a 64-byte callback payload with its tag.
		return errors.New("topic exceeds maximum length")
	}
	if !utf8.ValidString(topic) {
		return errors.New("topic must be valid UTF-8")
	}
	return nil
}
