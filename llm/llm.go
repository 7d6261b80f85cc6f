// Package llm talks to the language model services. Callers receive raw
// text; parsing and validation are their job.
package llm

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrEmptyResponse is returned when the service answered without content.
var ErrEmptyResponse = errors.New("model returned no content")

// Request is one completion call
type Request struct {
	System string
	Prompt string
}

// Completer submits a prompt and returns the generated text.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CleanJSON strips markdown fences models like to wrap JSON in.
func CleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Snippet shortens s to at most n bytes for error messages, never splitting
// a UTF-8 sequence.
func Snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
