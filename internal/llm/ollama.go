package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaClient talks to a local or remote Ollama inference endpoint over
// plain HTTP. No local mutable state beyond the configured endpoint and
// model identifier.
type OllamaClient struct {
	BaseURL string
	Model   string
	// Format "json" constrains the model to valid JSON output; leave empty
	// for free text.
	Format string

	HTTPClient *http.Client
}

// NewOllama builds a client for the given endpoint and model. Empty baseURL
// falls back to the local default.
func NewOllama(baseURL, model, format string) *OllamaClient {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	return &OllamaClient{
		BaseURL:    baseURL,
		Model:      model,
		Format:     format,
		HTTPClient: &http.Client{},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int64  `json:"prompt_eval_count"`
	EvalCount       int64  `json:"eval_count"`
	Error           string `json:"error"`
}

// Complete sends one chat round-trip. The caller's context bounds the call;
// deadline expiry maps to ErrModelTimeout, everything unreachable to
// ErrModelUnavailable.
func (c *OllamaClient) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, Usage, error) {
	reqBody := ollamaChatRequest{
		Model: c.Model,
		Messages: []ollamaMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Stream:  false,
		Format:  c.Format,
		Options: ollamaOptions{Temperature: temperature},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", Usage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", Usage{}, fmt.Errorf("%w: ollama call exceeded budget: %v", ErrModelTimeout, err)
		}
		log.Printf("llm ollama error: %v", err)
		return "", Usage{}, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("%w: reading response: %v", ErrModelUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("llm ollama status=%d body=%s", resp.StatusCode, truncate(string(respBody), 256))
		return "", Usage{}, fmt.Errorf("%w: ollama returned status %d", ErrModelUnavailable, resp.StatusCode)
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", Usage{}, fmt.Errorf("%w: parsing ollama response: %v", ErrModelUnavailable, err)
	}
	if chatResp.Error != "" {
		return "", Usage{}, fmt.Errorf("%w: ollama error: %s", ErrModelUnavailable, chatResp.Error)
	}

	usage := Usage{InputTokens: chatResp.PromptEvalCount, OutputTokens: chatResp.EvalCount}
	log.Printf("llm ollama model=%s format=%s size=%d tokens_in=%d tokens_out=%d dur=%s",
		c.Model, c.Format, len(chatResp.Message.Content), usage.InputTokens, usage.OutputTokens, time.Since(start).Round(time.Millisecond))
	return chatResp.Message.Content, usage, nil
}

func (c *OllamaClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
