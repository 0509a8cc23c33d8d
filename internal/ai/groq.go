package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNoContent the completion came back empty.
	ErrNoContent = errors.New("ai: completion returned no content")
	// ErrNoJSONArray the model output contained no JSON array.
	ErrNoJSONArray = errors.New("ai: no JSON array in model output")
)

// Generator is the content-generation boundary: one prompt in, raw text
// out. The engine treats the output as untrusted and parses defensively.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Message is one turn of a conversation, in chat-completions form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatGenerator is the multi-turn boundary used by the tutor chat,
// where past turns are replayed as context.
type ChatGenerator interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// GroqClient calls the Groq chat-completions API.
type GroqClient struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// NewGroqClient creates a GroqClient.
func NewGroqClient(apiKey, model, baseURL string, timeout time.Duration) *GroqClient {
	return &GroqClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate sends a single-turn completion request and returns the raw
// model text. The caller's context bounds the whole call.
func (c *GroqClient) Generate(ctx context.Context, prompt string) (string, error) {
	return c.Chat(ctx, []Message{{Role: "user", Content: prompt}})
}

// Chat sends a multi-turn completion request and returns the raw model
// text for the latest turn.
func (c *GroqClient) Chat(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("ai: malformed completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("ai: completion failed (%d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("ai: completion failed with status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", ErrNoContent
	}

	return parsed.Choices[0].Message.Content, nil
}

// ExtractJSONArray slices the first top-level JSON array out of raw
// model output. Models wrap JSON in prose or markdown fences often
// enough that callers must never json.Unmarshal the raw text directly.
func ExtractJSONArray(raw string) ([]byte, error) {
	cleaned := strings.TrimSpace(raw)

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start == -1 || end == -1 || end < start {
		return nil, ErrNoJSONArray
	}

	return []byte(cleaned[start : end+1]), nil
}
