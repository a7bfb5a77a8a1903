// Package llm abstracts the language-model backend behind a single
// capability: send a structured prompt, receive raw text. Retry policy
// belongs to the caller, not here.
package llm

import (
	"context"
	"errors"
)

// ErrModelUnavailable is returned when the backend cannot be reached or
// rejects the call.
var ErrModelUnavailable = errors.New("model unavailable")

// ErrModelTimeout is returned when no response arrives inside the caller's
// context budget.
var ErrModelTimeout = errors.New("model timeout")

// Client is the model boundary used by every pipeline stage.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, Usage, error)
}

// Usage tracks token consumption across calls.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
