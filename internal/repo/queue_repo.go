// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the source-queue store: idempotent
// enqueue, the transactional claim, and the status transitions that encode
// the retry policy.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-news-backend/internal/domain"
)

// ErrQueueItemNotFound is returned by transitions targeting an unknown id.
var ErrQueueItemNotFound = errors.New("source queue item not found")

// ClaimPolicy bounds a single ClaimNext call.
type ClaimPolicy struct {
	MaxAttempts       int // items at or above this attempt count are not claimable
	ScanLimit         int // pending candidates scanned (and locked) per claim
	RecentPostedLimit int // posted rows consulted for host-diversity scoring
}

// EnqueueSource upserts one URL into the queue. A new URL is inserted as
// pending; an existing one only gets its updated_at refreshed — the status is
// never reset, so terminal rows stay terminal. Returns the authoritative row.
//
// Callers are expected to have validated the URL already (see
// services.QueueService).
func EnqueueSource(ctx context.Context, db *gorm.DB, sourceURL string) (*domain.SourceQueueItem, error) {
	now := time.Now().UTC()
	item := domain.SourceQueueItem{
		ID:        uuid.NewString(),
		SourceURL: sourceURL,
		Status:    domain.QueueStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_url"}},
			DoUpdates: clause.Assignments(map[string]any{"updated_at": now}),
		}).
		Create(&item).Error
	if err != nil {
		return nil, err
	}

	// On conflict the in-memory struct still carries the fresh UUID; read the
	// row back so callers always see the persisted state.
	var out domain.SourceQueueItem
	if err := db.WithContext(ctx).Where("source_url = ?", sourceURL).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// GetQueueItem fetches a queue row by id.
func GetQueueItem(ctx context.Context, db *gorm.DB, id string) (*domain.SourceQueueItem, error) {
	var item domain.SourceQueueItem
	if err := db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQueueItemNotFound
		}
		return nil, err
	}
	return &item, nil
}

// ClaimNext atomically claims the next source to process, or returns
// (nil, nil) when the queue has no eligible pending items.
//
// The whole claim runs in one transaction, which is the linearization point
// of the pipeline: candidate rows are locked with FOR UPDATE SKIP LOCKED (on
// dialects that support it), so concurrent callers partition the queue
// instead of racing for the same row or queueing behind each other.
//
// Candidate choice prefers host diversity over strict FIFO: a host different
// from the most recently posted one, then hosts never posted, then the host
// posted longest ago, then the oldest pending item. Within the chosen host,
// the oldest pending item wins. See chooseCandidate for the exact ordering.
func ClaimNext(ctx context.Context, db *gorm.DB, policy ClaimPolicy) (*domain.SourceQueueItem, error) {
	var claimed *domain.SourceQueueItem

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Host of the most recently posted item, best-effort: a missing or
		// unparseable URL falls back to plain oldest-first behavior.
		lastPostedHost := ""
		var last domain.SourceQueueItem
		err := tx.
			Where("status = ?", domain.QueueStatusPosted).
			Order("processed_at DESC NULLS LAST, updated_at DESC").
			First(&last).Error
		switch {
		case err == nil:
			lastPostedHost = hostOf(last.SourceURL)
		case errors.Is(err, gorm.ErrRecordNotFound):
			// nothing posted yet
		default:
			return err
		}

		q := tx.
			Where("status = ? AND attempt_count < ?", domain.QueueStatusPending, policy.MaxAttempts).
			Order("created_at ASC").
			Limit(policy.ScanLimit)
		if supportsRowLocking(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidates []domain.SourceQueueItem
		if err := q.Find(&candidates).Error; err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}

		// Recent posted history, newest first; first occurrence per host wins.
		hostLastPosted := map[string]time.Time{}
		if policy.RecentPostedLimit > 0 {
			var recent []domain.SourceQueueItem
			err := tx.
				Select("source_url", "processed_at").
				Where("status = ?", domain.QueueStatusPosted).
				Order("processed_at DESC NULLS LAST, updated_at DESC").
				Limit(policy.RecentPostedLimit).
				Find(&recent).Error
			if err != nil {
				return err
			}
			for _, r := range recent {
				if r.ProcessedAt == nil {
					continue
				}
				host := hostOf(r.SourceURL)
				if host == "" {
					continue
				}
				if _, seen := hostLastPosted[host]; !seen {
					hostLastPosted[host] = *r.ProcessedAt
				}
			}
		}

		chosen := chooseCandidate(candidates, hostLastPosted, lastPostedHost)

		now := time.Now().UTC()
		err = tx.Model(&domain.SourceQueueItem{}).
			Where("id = ?", chosen.ID).
			Updates(map[string]any{
				"status":     domain.QueueStatusProcessing,
				"claimed_at": now,
				"updated_at": now,
			}).Error
		if err != nil {
			return err
		}

		chosen.Status = domain.QueueStatusProcessing
		chosen.ClaimedAt = &now
		chosen.UpdatedAt = now
		claimed = &chosen
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// SetPublishedSlug records the article back-reference on the queue row. This
// is the durability checkpoint between article creation and any external side
// effect: a retry after a crash re-reads the article by this slug instead of
// inserting a duplicate. The write is idempotent.
func SetPublishedSlug(ctx context.Context, db *gorm.DB, id, slug string) error {
	return applyTransition(ctx, db, id, map[string]any{
		"published_slug": slug,
		"updated_at":     time.Now().UTC(),
	})
}

// MarkPosted is the terminal success transition.
func MarkPosted(ctx context.Context, db *gorm.DB, id string, slug, fbPostID, lastErr *string) (*domain.SourceQueueItem, error) {
	now := time.Now().UTC()
	err := applyTransition(ctx, db, id, map[string]any{
		"status":         domain.QueueStatusPosted,
		"processed_at":   now,
		"updated_at":     now,
		"published_slug": slug,
		"fb_post_id":     fbPostID,
		"last_error":     lastErr,
	})
	if err != nil {
		return nil, err
	}
	return GetQueueItem(ctx, db, id)
}

// MarkFailed records a failed processing attempt. The increment and the
// terminal check happen in one UPDATE so concurrent retries cannot overshoot
// the budget: when attempt_count+1 reaches maxAttempts the row becomes
// terminal failed and processed_at is stamped, otherwise it returns to
// pending for a future claim.
func MarkFailed(ctx context.Context, db *gorm.DB, id, message string, maxAttempts int) (*domain.SourceQueueItem, error) {
	now := time.Now().UTC()
	err := applyTransition(ctx, db, id, map[string]any{
		"attempt_count": gorm.Expr("attempt_count + 1"),
		"last_error":    message,
		"updated_at":    now,
		"processed_at": gorm.Expr(
			"CASE WHEN attempt_count + 1 >= ? THEN ? ELSE processed_at END", maxAttempts, now),
		"status": gorm.Expr(
			"CASE WHEN attempt_count + 1 >= ? THEN ? ELSE ? END",
			maxAttempts, domain.QueueStatusFailed, domain.QueueStatusPending),
	})
	if err != nil {
		return nil, err
	}
	return GetQueueItem(ctx, db, id)
}

// MarkBlocked terminates an item hit by the blocklist. Policy decisions are
// not transient failures: the row jumps straight to failed with its attempt
// count pinned to the budget, so it can never be claimed again.
func MarkBlocked(ctx context.Context, db *gorm.DB, id, reason string, maxAttempts int) (*domain.SourceQueueItem, error) {
	if reason == "" {
		reason = "blocked by rules"
	}
	now := time.Now().UTC()
	err := applyTransition(ctx, db, id, map[string]any{
		"status":        domain.QueueStatusFailed,
		"attempt_count": maxAttempts,
		"last_error":    reason,
		"processed_at":  now,
		"updated_at":    now,
	})
	if err != nil {
		return nil, err
	}
	return GetQueueItem(ctx, db, id)
}

// MarkPendingNoAttempt returns an item to pending without consuming a retry
// attempt. Used when the failure is not the item's fault: a systemic/config
// outage (expired credentials) or upstream rate limiting. This keeps a
// platform-wide incident from draining the retry budget of the whole queue.
func MarkPendingNoAttempt(ctx context.Context, db *gorm.DB, id, message string) (*domain.SourceQueueItem, error) {
	err := applyTransition(ctx, db, id, map[string]any{
		"status":     domain.QueueStatusPending,
		"claimed_at": nil,
		"last_error": message,
		"updated_at": time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return GetQueueItem(ctx, db, id)
}

// applyTransition runs a guarded point-write against one queue row.
func applyTransition(ctx context.Context, db *gorm.DB, id string, updates map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.SourceQueueItem{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrQueueItemNotFound
	}
	return nil
}
