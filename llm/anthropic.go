package llm

import (
	"context"
	"fmt"
	"log"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
)

// Anthropic completes prompts with Claude through llmkit
type Anthropic struct {
	apiKey   string
	settings types.RequestSettings
}

func NewAnthropic(apiKey, model string, temperature float64, maxTokens int) *Anthropic {
	return &Anthropic{
		apiKey: apiKey,
		settings: types.RequestSettings{
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
		},
	}
}

type completion struct {
	text string
	err  error
}

// Complete runs the llmkit call in a goroutine so a cancelled job does not
// wait for the HTTP round trip.
func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	if a.apiKey == "" {
		return "", fmt.Errorf("ANTHROPIC_API_KEY not set")
	}
	log.Printf("[llm] Calling Anthropic (%s)...", a.settings.Model)

	done := make(chan completion, 1)
	go func() {
		response, err := anthropic.PromptWithSettings(req.System, req.Prompt, "", a.apiKey, a.settings)
		if err != nil {
			done <- completion{err: fmt.Errorf("anthropic: %w", err)}
			return
		}
		if len(response.Content) == 0 || response.Content[0].Text == "" {
			done <- completion{err: ErrEmptyResponse}
			return
		}
		done <- completion{text: response.Content[0].Text}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case c := <-done:
		return c.text, c.err
	}
}
