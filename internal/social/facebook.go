// Package social cross-posts published articles to a Facebook Page through
// the Graph API. Errors carry the structured Graph payload (code, subcode,
// HTTP status) so the pipeline classifies token-expired / permission /
// transient failures on typed fields instead of string sniffing.
package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tbourn/go-news-backend/internal/config"
)

// GraphError is the error object Facebook returns inside {"error": {...}},
// plus the HTTP status it arrived with.
type GraphError struct {
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	Subcode    int    `json:"error_subcode"`
	HTTPStatus int    `json:"-"`
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("facebook error (http %d, code %d/%d, %s): %s",
		e.HTTPStatus, e.Code, e.Subcode, e.Type, e.Message)
}

// IsTokenExpired reports an invalid or expired page token (classic code 190).
func (e *GraphError) IsTokenExpired() bool { return e.Code == 190 }

// IsPermission reports a missing-permission or policy configuration problem.
func (e *GraphError) IsPermission() bool {
	return e.Code == 10 || (e.Code >= 200 && e.Code <= 299)
}

// IsTransient reports throttling or server trouble worth retrying.
func (e *GraphError) IsTransient() bool {
	switch e.Code {
	case 1, 2, 4, 17, 32, 341: // unknown, service, app/user/page rate limits
		return true
	}
	return e.HTTPStatus >= 500
}

// PhotoPost is the result of publishing a photo. PostID is the feed story
// when Facebook reports it; PhotoID always refers to the uploaded photo
// object and can be used for commenting or canonical-id lookup.
type PhotoPost struct {
	PostID  string
	PhotoID string
}

// Publisher posts photos/links and comments to one Facebook Page.
type Publisher struct {
	base       string // e.g. https://graph.facebook.com/v19.0
	pageID     string
	token      string
	httpClient *http.Client

	// retry and resolve-polling knobs, relaxed in tests
	retryTries      int
	retryInterval   time.Duration
	resolveTries    int
	resolveInterval time.Duration
}

// NewPublisher builds a Publisher from configuration.
func NewPublisher(cfg config.FacebookConfig) *Publisher {
	return &Publisher{
		base:            strings.TrimRight(cfg.GraphBase, "/"),
		pageID:          cfg.PageID,
		token:           cfg.PageToken,
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		retryTries:      4,
		retryInterval:   2 * time.Second,
		resolveTries:    5,
		resolveInterval: 2 * time.Second,
	}
}

// PostPhoto publishes an image post on the Page. Facebook fetches the image
// from imageURL itself. published/no_story are explicit so misconfigured
// pages don't end up with an invisible upload instead of a feed story.
// Transient Graph errors are retried with capped exponential backoff.
func (p *Publisher) PostPhoto(ctx context.Context, imageURL, caption string) (*PhotoPost, error) {
	if imageURL == "" {
		return nil, fmt.Errorf("missing image url")
	}
	var resp struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	err := p.graphRetry(ctx, http.MethodPost, p.pageID+"/photos", url.Values{
		"url":       {imageURL},
		"caption":   {caption},
		"published": {"true"},
		"no_story":  {"false"},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &PhotoPost{PostID: resp.PostID, PhotoID: resp.ID}, nil
}

// PostLink publishes a plain link post on the Page feed. Transient Graph
// errors are retried with capped exponential backoff.
func (p *Publisher) PostLink(ctx context.Context, link, message string) (string, error) {
	if link == "" {
		return "", fmt.Errorf("missing link")
	}
	var resp struct {
		ID string `json:"id"`
	}
	err := p.graphRetry(ctx, http.MethodPost, p.pageID+"/feed", url.Values{
		"link":      {link},
		"message":   {message},
		"published": {"true"},
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// errStoryPending marks a poll round where the feed story has not
// materialized yet; it never leaves ResolveCanonicalPostID.
var errStoryPending = errors.New("page story not materialized yet")

// ResolveCanonicalPostID looks up the feed story behind an uploaded photo.
// The story can materialize after the upload returns, so the lookup polls
// with backoff until the try budget runs out. An empty result is not an
// error: commenting on the photo object still works.
func (p *Publisher) ResolveCanonicalPostID(ctx context.Context, photoID string) (string, error) {
	if photoID == "" {
		return "", nil
	}

	op := func() (string, error) {
		var resp struct {
			PageStoryID string `json:"page_story_id"`
		}
		err := p.graph(ctx, http.MethodGet, photoID, url.Values{
			"fields": {"page_story_id"},
		}, &resp)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		if resp.PageStoryID == "" {
			return "", errStoryPending
		}
		return resp.PageStoryID, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.resolveInterval
	bo.MaxInterval = 10 * p.resolveInterval

	id, err := backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(p.resolveTries)))
	if errors.Is(err, errStoryPending) {
		return "", nil
	}
	return id, err
}

// Comment posts a comment under a post or photo. Transient Graph errors are
// retried with capped exponential backoff; token and permission errors are
// surfaced immediately.
func (p *Publisher) Comment(ctx context.Context, targetID, message string) (string, error) {
	if targetID == "" {
		return "", fmt.Errorf("missing comment target id")
	}
	if message == "" {
		return "", fmt.Errorf("missing comment message")
	}

	op := func() (string, error) {
		var resp struct {
			ID string `json:"id"`
		}
		err := p.graph(ctx, http.MethodPost, targetID+"/comments", url.Values{
			"message": {message},
		}, &resp)
		if err == nil {
			return resp.ID, nil
		}
		var ge *GraphError
		if errors.As(err, &ge) && !ge.IsTransient() {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.retryInterval
	bo.MaxInterval = 10 * p.retryInterval

	return backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(p.retryTries)))
}

// graphRetry wraps graph with the publisher's transient-retry policy:
// throttling and 5xx answers back off and retry, everything else (token,
// permission, malformed request) surfaces immediately.
func (p *Publisher) graphRetry(ctx context.Context, method, path string, params url.Values, out any) error {
	op := func() (struct{}, error) {
		err := p.graph(ctx, method, path, params, out)
		if err == nil {
			return struct{}{}, nil
		}
		var ge *GraphError
		if errors.As(err, &ge) && !ge.IsTransient() {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.retryInterval
	bo.MaxInterval = 10 * p.retryInterval

	_, err := backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(p.retryTries)))
	return err
}

// graph performs one Graph API call. Parameters travel in the query string
// for GET and POST alike, matching how the Graph API accepts them.
func (p *Publisher) graph(ctx context.Context, method, path string, params url.Values, out any) error {
	if p.token == "" || p.pageID == "" {
		return fmt.Errorf("facebook page credentials are not configured")
	}

	u, err := url.Parse(p.base + "/" + strings.TrimPrefix(path, "/"))
	if err != nil {
		return fmt.Errorf("build graph url: %w", err)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			if v != "" || k == "message" || k == "caption" {
				q.Set(k, v)
			}
		}
	}
	q.Set("access_token", p.token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call graph api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read graph response: %w", err)
	}

	var envelope struct {
		Error *GraphError `json:"error"`
	}
	// A broken body on a 2xx is still an error; on a non-2xx the status wins.
	if err := json.Unmarshal(raw, &envelope); err != nil && resp.StatusCode < 300 {
		return fmt.Errorf("decode graph response: %w", err)
	}
	if envelope.Error != nil {
		envelope.Error.HTTPStatus = resp.StatusCode
		return envelope.Error
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &GraphError{
			Message:    strings.TrimSpace(string(raw)),
			HTTPStatus: resp.StatusCode,
		}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode graph response: %w", err)
		}
	}
	return nil
}
