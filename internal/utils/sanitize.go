package utils

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	ErrEmptyText   = errors.New("text is empty")
	ErrTextTooLong = errors.New("text is too long")
)

var (
	// Control characters (except common whitespace)
	controlCharPattern = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// SanitizeFreeText cleans a human-entered value such as an exclusion reason or
// an actor name: control characters are dropped and whitespace runs collapse
// to one space. The result must be non-empty and at most maxLen runes.
func SanitizeFreeText(text string, maxLen int) (string, error) {
	text = controlCharPattern.ReplaceAllString(text, "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	if text == "" {
		return "", ErrEmptyText
	}
	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		return "", ErrTextTooLong
	}
	return text, nil
}

// EscapeForLogging escapes sensitive content for safe logging
func EscapeForLogging(text string, maxLen int) string {
	if len(text) > maxLen {
		text = text[:maxLen] + "..."
	}

	text = strings.ReplaceAll(text, "\n", "\\n")
	text = strings.ReplaceAll(text, "\r", "\\r")
	text = strings.ReplaceAll(text, "\t", "\\t")

	return text
}
