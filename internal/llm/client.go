// Package llm is a thin client for an OpenAI-compatible chat
// completions endpoint. The research orchestrator, the curator, and
// the judges all speak through it; prompt construction stays in those
// packages, this one only moves text and enforces retry discipline.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/upstream"
)

// maxAttempts bounds retries for one completion. Rate limits and 5xx
// responses retry with exponential backoff; other errors fail fast.
const maxAttempts = 3

// Config carries the endpoint settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client talks to the completion endpoint.
type Client struct {
	cfg    Config
	client *http.Client
	guard  *upstream.Guard
}

// Request is one completion call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// NewClient builds a client. The guard wraps every call with the LLM
// provider's circuit breaker and rate limit.
func NewClient(cfg Config, guards *upstream.Registry) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		guard:  guards.Guard(upstream.ProviderLLM),
	}
}

// IsEnabled reports whether an API key is configured. Callers degrade
// to heuristics when it is not.
func (c *Client) IsEnabled() bool {
	return c.cfg.APIKey != ""
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Complete runs one chat completion and returns the raw assistant text.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if !c.IsEnabled() {
		return "", apperr.Upstreamf("llm not configured")
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := c.guard.Do(ctx, func() (interface{}, error) {
			return c.complete(ctx, req)
		})
		if err == nil {
			return result.(string), nil
		}
		lastErr = err

		if !retryable(err) || attempt == maxAttempts {
			break
		}
		backoff := time.Duration(1<<uint(attempt-1)) * time.Second
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("llm call failed, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("llm completion failed: %w", lastErr)
}

func (c *Client) complete(ctx context.Context, req Request) (string, error) {
	messages := []map[string]string{}
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	reqBody := map[string]interface{}{
		"model":    c.cfg.Model,
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		reqBody["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		reqBody["temperature"] = req.Temperature
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", apperr.Upstreamf("llm request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", apperr.Upstreamf("llm response read failed: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: llm rate limited: %s", apperr.ErrRateLimited, truncate(string(respBody), 200))
	case resp.StatusCode >= 500:
		return "", apperr.Upstreamf("llm server error %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("llm API error %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", apperr.Upstreamf("llm response not parseable: %v", err)
	}
	if len(result.Choices) == 0 {
		return "", apperr.Upstreamf("llm returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// retryable reports whether a completion error is worth retrying.
func retryable(err error) bool {
	return apperr.IsRateLimited(err) || apperr.IsUpstream(err)
}

// ExtractJSON strips markdown code fences and surrounding prose from a
// model response, returning the outermost JSON object, or nil when the
// response contains none. Models fence their JSON often enough that
// every parser goes through this.
func ExtractJSON(s string) []byte {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return []byte(s[start : end+1])
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
