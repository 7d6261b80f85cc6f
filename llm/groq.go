package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const groqEndpoint = "https://api.groq.com/openai/v1/chat/completions"

// Groq completes prompts through Groq's OpenAI-compatible chat API
type Groq struct {
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	endpoint    string
	httpClient  *http.Client
}

// GroqOption customizes a Groq client
type GroqOption func(*Groq)

// WithEndpoint points the client at another chat completions URL.
func WithEndpoint(url string) GroqOption {
	return func(g *Groq) { g.endpoint = url }
}

// NewGroq creates a new Groq client
func NewGroq(apiKey, model string, temperature float64, maxTokens int, opts ...GroqOption) *Groq {
	g := &Groq{
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		endpoint:    groqEndpoint,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type groqRequest struct {
	Model       string        `json:"model"`
	Messages    []groqMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *Groq) Complete(ctx context.Context, req Request) (string, error) {
	if g.apiKey == "" {
		return "", fmt.Errorf("GROQ_API_KEY not set")
	}
	log.Printf("[llm] Calling Groq (%s)...", g.model)

	var messages []groqMessage
	if req.System != "" {
		messages = append(messages, groqMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, groqMessage{Role: "user", Content: req.Prompt})

	bodyBytes, err := json.Marshal(groqRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", g.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("groq request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var groqResp groqResponse
	if err := json.Unmarshal(respBytes, &groqResp); err != nil {
		return "", fmt.Errorf("parse groq response (status %d): %w", resp.StatusCode, err)
	}
	if groqResp.Error != nil {
		return "", fmt.Errorf("groq error: %s", groqResp.Error.Message)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("groq status %d: %s", resp.StatusCode, Snippet(string(respBytes), 200))
	}
	if len(groqResp.Choices) == 0 || groqResp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}

	return groqResp.Choices[0].Message.Content, nil
}
