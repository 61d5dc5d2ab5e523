// Package llm is the decision-service client. Every trading judgement the
// loop delegates (candidate shortlisting, buy selection, position and order
// reviews) goes through a chat-completions endpoint and comes back as strict
// JSON. Responses are validated exhaustively; a malformed or out-of-range
// field is a DecisionError, never silently coerced.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultTimeout = 30 * time.Second

// retryDelay is the pause before the single retry on 429/5xx
var retryDelay = 2 * time.Second

// Config holds the endpoint settings for the decision service. The endpoint
// is any OpenAI-compatible chat-completions URL; local providers accept a
// dummy key.
type Config struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
	Log      zerolog.Logger
}

// Client talks to a chat-completions endpoint and parses strict JSON
// decisions out of the replies.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger

	// Runtime-overridable settings; the cycle reapplies them from the
	// effective config each iteration.
	overrideMu sync.RWMutex
	model      string
	overrides  PromptOverrides
}

// New creates a decision-service client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: cfg.Log.With().Str("client", "llm").Logger(),
	}
}

// Model returns the model used for subsequent calls.
func (c *Client) Model() string {
	c.overrideMu.RLock()
	defer c.overrideMu.RUnlock()
	return c.model
}

// SetModel switches the model for subsequent calls. Empty keeps the current
// one, so configs without an ai.model override are a no-op.
func (c *Client) SetModel(model string) {
	if model == "" {
		return
	}
	c.overrideMu.Lock()
	defer c.overrideMu.Unlock()
	c.model = model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// complete sends one chat exchange and returns the assistant's text. Retries
// once on 429 and 5xx.
func (c *Client) complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	if c.endpoint == "" {
		return "", fmt.Errorf("decision service endpoint is not configured")
	}

	messages := make([]chatMessage, 0, 2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})

	reqBody, err := json.Marshal(chatRequest{
		Model:     c.Model(),
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		content, retryable, err := c.send(ctx, reqBody)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("Decision service call failed, retrying")
	}
	return "", lastErr
}

func (c *Client) send(ctx context.Context, reqBody []byte) (content string, retryable bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", true, fmt.Errorf("decision service request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("decision service returned status %d: %s", resp.StatusCode, truncate(string(body), 500))
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("decision service returned status %d: %s", resp.StatusCode, truncate(string(body), 500))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("decision service error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", false, fmt.Errorf("decision service returned no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil, nil
}

// extractJSON strips an optional markdown fence around the model's JSON
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if idx := strings.LastIndex(raw, "```"); idx >= 0 {
			raw = raw[:idx]
		}
		raw = strings.TrimSpace(raw)
	}
	return raw
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
