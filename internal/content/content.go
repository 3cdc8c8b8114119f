package content

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const MaxMessageLength = 4000

var (
	policy   = bluemonday.UGCPolicy()
	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is used for sanitizing user inputs like display names and messages.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// RenderMarkdown converts a message body to sanitized HTML.
func RenderMarkdown(input string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return policy.Sanitize(buf.String()), nil
}

// ValidateMessageText checks that a message body is non-empty after trimming
// and within the allowed length.
func ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("message text cannot be empty")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return fmt.Errorf("message text exceeds %d characters", MaxMessageLength)
	}
	return nil
}
