// Package cron drives the publish pipeline from the outside: it repeatedly
// calls the claim-and-process HTTP entry point up to a per-run call budget,
// stopping early when the queue is drained or the publish cooldown is active.
//
// The driver is deliberately a thin HTTP client rather than an in-process
// loop so it can run from any scheduler host against a deployed API, and so
// a wedged pipeline invocation cannot take the scheduler down with it.
package cron

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-news-backend/internal/http/handlers"
	"github.com/tbourn/go-news-backend/internal/http/middleware"
)

// Runner invokes the publish endpoint until the budget runs out or the
// pipeline signals there is nothing left to do this run.
type Runner struct {
	// Endpoint is the full URL of the publish entry point.
	Endpoint string
	// Secret authenticates the driver against the operator endpoints.
	Secret string
	// Budget caps the number of publish calls per run.
	Budget int
	// Pause is the idle time between consecutive calls.
	Pause time.Duration

	Client *http.Client
	Log    zerolog.Logger
}

// Summary aggregates what one driver run did. HardFailures is non-zero only
// when the run was halted by a systemic error; soft per-item failures are
// counted but never stop the run.
type Summary struct {
	Calls        int    `json:"calls"`
	Published    int    `json:"published"`
	Blocked      int    `json:"blocked"`
	SoftFailures int    `json:"softFailures"`
	HardFailures int    `json:"hardFailures"`
	StopReason   string `json:"stopReason"`
}

// Run executes one driver run. The returned error is non-nil only for hard
// failures (including transport errors reaching the endpoint), so callers
// can exit non-zero exactly when an operator needs to look.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}

	sum := &Summary{}
	for i := 0; i < r.Budget; i++ {
		if i > 0 && r.Pause > 0 {
			select {
			case <-ctx.Done():
				sum.StopReason = "context cancelled"
				return sum, ctx.Err()
			case <-time.After(r.Pause):
			}
		}

		resp, err := r.callOnce(ctx, client)
		sum.Calls++
		if err != nil {
			sum.HardFailures++
			sum.StopReason = "transport error"
			return sum, err
		}

		switch {
		case resp.HardFailure:
			sum.HardFailures++
			sum.StopReason = "hard failure"
			r.Log.Error().Str("error", resp.Error).Msg("pipeline reported hard failure, stopping run")
			return sum, fmt.Errorf("pipeline hard failure: %s", resp.Error)

		case resp.Cooldown:
			sum.StopReason = "cooldown"
			r.Log.Info().Int("retry_after_seconds", resp.RetryAfterSeconds).Msg("publish cooldown active, stopping run")
			return sum, nil

		case resp.OK && resp.Processed != nil:
			sum.Published++
			r.Log.Info().Str("slug", resp.Processed.Slug).Str("title", resp.Processed.Title).Msg("published")

		case resp.OK && resp.Blocked:
			sum.Blocked++
			r.Log.Info().Str("reason", resp.Reason).Msg("source blocked")

		case resp.OK:
			// "no pending sources"
			sum.StopReason = "queue drained"
			r.Log.Info().Msg("no pending sources, stopping run")
			return sum, nil

		default:
			sum.SoftFailures++
			r.Log.Warn().Str("error", resp.Error).Msg("per-item failure, continuing")
		}
	}

	sum.StopReason = "budget exhausted"
	return sum, nil
}

// callOnce performs one authenticated call to the publish endpoint.
func (r *Runner) callOnce(ctx context.Context, client *http.Client) (*handlers.PublishResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(nil))
	if err != nil {
		return nil, fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set(middleware.HeaderCronSecret, r.Secret)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call publish endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read publish response: %w", err)
	}

	// 401/503 mean the driver itself is misconfigured; no point retrying.
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusServiceUnavailable {
		return nil, fmt.Errorf("publish endpoint rejected driver (status %d): %s", resp.StatusCode, body)
	}

	var out handlers.PublishResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode publish response (status %d): %w", resp.StatusCode, err)
	}
	return &out, nil
}
