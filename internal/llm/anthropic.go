package llm

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"

// AnthropicClient is the hosted-model alternative to the local Ollama
// backend, selected with llm_provider: anthropic.
type AnthropicClient struct {
	APIKey string
	Model  string
}

func NewAnthropic(apiKey, model string) *AnthropicClient {
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicClient{APIKey: apiKey, Model: model}
}

func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, Usage, error) {
	client := anthropic.NewClient(option.WithAPIKey(c.APIKey))

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.Model),
		MaxTokens:   4096,
		Temperature: anthropic.Float(temperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", Usage{}, fmt.Errorf("%w: anthropic call exceeded budget: %v", ErrModelTimeout, err)
		}
		log.Printf("llm anthropic error: %v", err)
		return "", Usage{}, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	usage := Usage{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic model=%s size=%d tokens_in=%d tokens_out=%d", c.Model, len(block.Text), usage.InputTokens, usage.OutputTokens)
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("%w: no text content in anthropic response", ErrModelUnavailable)
}
