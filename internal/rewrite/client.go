// Package rewrite calls an OpenAI-compatible chat-completions API to rephrase
// scraped articles, and guards the output so a lazy rewrite never reaches the
// site (see guardrails.go).
package rewrite

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

	"github.com/cenkalti/backoff/v5"

	"github.com/tbourn/go-news-backend/internal/config"
)

// APIError is a non-2xx response from the completion endpoint. Status drives
// classification: auth problems are systemic (free retry, halt the run),
// throttling and server errors are transient.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion api error (%d): %s", e.Status, e.Body)
}

// IsAuth reports a credential or permission problem.
func (e *APIError) IsAuth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// IsTransient reports an error worth retrying.
func (e *APIError) IsTransient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Client is a minimal chat-completions client.
type Client struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	httpClient   *http.Client
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.RewriteConfig) *Client {
	return &Client{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
	}
}

// chat-completions wire types (request and the slice of the response we read)
type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends one user prompt and returns the assistant text. Transient
// upstream errors (429/5xx, network) are retried with capped exponential
// backoff and jitter; auth and client errors are not.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("completion api key is not configured")
	}

	op := func() (string, error) {
		out, err := c.completeOnce(ctx, prompt)
		if err == nil {
			return out, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.IsTransient() {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 30 * time.Second

	return backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(3))
}

func (c *Client) completeOnce(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Temperature: 0.4,
		Messages: []chatMessage{
			{Role: "system", Content: c.systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call completion api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("completion api returned empty response")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
