// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used by the
// health endpoint to surface queue depth and starvation.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-news-backend/internal/domain"
)

// QueueStats summarizes the source queue for operators.
type QueueStats struct {
	Pending    int64      `json:"pending"`
	Processing int64      `json:"processing"`
	Posted     int64      `json:"posted"`
	Failed     int64      `json:"failed"`
	// OldestPendingAt is nil when no items are pending. A timestamp far in
	// the past with a healthy cron indicates sustained starvation.
	OldestPendingAt *time.Time `json:"oldest_pending_at,omitempty"`
}

// CollectQueueStats counts queue rows per status and finds the oldest
// pending item.
func CollectQueueStats(ctx context.Context, db *gorm.DB) (QueueStats, error) {
	var stats QueueStats

	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := db.WithContext(ctx).
		Model(&domain.SourceQueueItem{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return stats, err
	}
	for _, r := range rows {
		switch r.Status {
		case domain.QueueStatusPending:
			stats.Pending = r.N
		case domain.QueueStatusProcessing:
			stats.Processing = r.N
		case domain.QueueStatusPosted:
			stats.Posted = r.N
		case domain.QueueStatusFailed:
			stats.Failed = r.N
		}
	}

	if stats.Pending > 0 {
		var oldest struct {
			CreatedAt time.Time
		}
		err := db.WithContext(ctx).
			Model(&domain.SourceQueueItem{}).
			Select("created_at").
			Where("status = ?", domain.QueueStatusPending).
			Order("created_at ASC").
			Limit(1).
			Scan(&oldest).Error
		if err != nil {
			return stats, err
		}
		if !oldest.CreatedAt.IsZero() {
			stats.OldestPendingAt = &oldest.CreatedAt
		}
	}

	return stats, nil
}
