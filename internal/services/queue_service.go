// Package services – SourceService
//
// This file implements the SourceService, which validates incoming source
// URLs and enqueues them for publishing. Enqueuing is idempotent: submitting
// a URL that is already queued refreshes the row instead of duplicating it.
package services

import (
	"context"
	"net/url"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-news-backend/internal/domain"
	"github.com/tbourn/go-news-backend/internal/repo"
)

// URLBlocklist is the blocklist contract required by SourceService.
type URLBlocklist interface {
	// IsBlockedSourceURL reports whether the URL's host is blocklisted.
	IsBlockedSourceURL(sourceURL string) (bool, string)
}

// EnqueueOutcome reports what happened to one submitted URL.
type EnqueueOutcome struct {
	URL    string `json:"url"`
	Queued bool   `json:"queued"`
	Reason string `json:"reason,omitempty"`
}

// SourceService enqueues source URLs for the publishing pipeline.
type SourceService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Blocklist rejects blocklisted hosts up front; may be nil.
	Blocklist URLBlocklist
	// MaxBatch caps the number of URLs accepted per request.
	MaxBatch int
}

// NewSourceService constructs a SourceService with a sane batch cap.
func NewSourceService(db *gorm.DB, bl URLBlocklist) *SourceService {
	return &SourceService{DB: db, Blocklist: bl, MaxBatch: 50}
}

// Enqueue validates and enqueues the given URLs. Invalid and blocklisted
// entries are reported per URL rather than failing the whole batch; the
// returned error is non-nil only when the batch is empty or persistence
// fails.
func (s *SourceService) Enqueue(ctx context.Context, rawURLs []string) ([]EnqueueOutcome, []domain.SourceQueueItem, error) {
	urls := dedupeTrimmed(rawURLs)
	if len(urls) == 0 {
		return nil, nil, ErrNoSourceURLs
	}
	if s.MaxBatch > 0 && len(urls) > s.MaxBatch {
		urls = urls[:s.MaxBatch]
	}

	outcomes := make([]EnqueueOutcome, 0, len(urls))
	items := make([]domain.SourceQueueItem, 0, len(urls))
	for _, raw := range urls {
		if !isValidSourceURL(raw) {
			outcomes = append(outcomes, EnqueueOutcome{URL: raw, Reason: ErrInvalidSourceURL.Error()})
			continue
		}
		if s.Blocklist != nil {
			if blocked, reason := s.Blocklist.IsBlockedSourceURL(raw); blocked {
				outcomes = append(outcomes, EnqueueOutcome{URL: raw, Reason: reason})
				continue
			}
		}
		item, err := repo.EnqueueSource(ctx, s.DB, raw)
		if err != nil {
			return nil, nil, err
		}
		outcomes = append(outcomes, EnqueueOutcome{URL: raw, Queued: true})
		items = append(items, *item)
	}
	return outcomes, items, nil
}

// isValidSourceURL accepts absolute http(s) URLs with a host.
func isValidSourceURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// dedupeTrimmed trims whitespace and drops empties and duplicates while
// preserving submission order.
func dedupeTrimmed(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
