// Package domain defines the persistence models for the source queue and
// published articles. These types are mapped with GORM and form the core
// data layer of the publishing pipeline.
package domain

import (
	"time"
)

// Source queue statuses. A row moves pending → processing → posted/failed;
// posted and failed are terminal.
const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusPosted     = "posted"
	QueueStatusFailed     = "failed"
)

// ArticleStatusPublished is the only article status the pipeline writes today.
// The column exists so articles can be unpublished without deleting rows.
const ArticleStatusPublished = "published"

// SourceQueueItem is one candidate URL waiting to be scraped, rewritten, and
// published. SourceURL is globally unique: re-enqueueing an existing URL only
// refreshes UpdatedAt.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - SourceURL: unique conflict target for idempotent enqueue.
//   - Status: pending | processing | posted | failed.
//   - AttemptCount: incremented only by a failed processing attempt, never by
//     a blocklist hit or a free-retry (rate limit / config outage).
//   - PublishedSlug: back-reference to the Article, persisted before any
//     external side effect so retries reuse the article instead of
//     re-inserting it.
//   - FBPostID: identifier of the Facebook feed story, when cross-posted.
//   - LastError: latest diagnostic, kept on terminal rows for operators.
type SourceQueueItem struct {
	ID            string     `json:"id"             gorm:"type:char(36);primaryKey"`
	SourceURL     string     `json:"sourceUrl"      gorm:"type:varchar(2048);not null;uniqueIndex:ux_source_queue_url"`
	Status        string     `json:"status"         gorm:"type:varchar(16);not null;default:'pending';index:idx_queue_status_created,priority:1;check:status IN ('pending','processing','posted','failed')"`
	AttemptCount  int        `json:"attemptCount"   gorm:"not null;default:0"`
	PublishedSlug *string    `json:"publishedSlug,omitempty" gorm:"type:varchar(255)"`
	FBPostID      *string    `json:"fbPostId,omitempty"      gorm:"column:fb_post_id;type:varchar(128)"`
	LastError     *string    `json:"lastError,omitempty"     gorm:"type:text"`
	ClaimedAt     *time.Time `json:"claimedAt,omitempty"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"      gorm:"index:idx_queue_status_created,priority:2"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// TableName returns the database table name for SourceQueueItem.
func (SourceQueueItem) TableName() string { return "source_queue" }

// Terminal reports whether the item can never be claimed again.
func (s SourceQueueItem) Terminal() bool {
	return s.Status == QueueStatusPosted || s.Status == QueueStatusFailed
}

// Article is a published story. Slug is the URL-safe unique identifier derived
// from the title; collisions are resolved by the store with numeric suffixes.
type Article struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	Slug        string    `json:"slug"        gorm:"type:varchar(255);not null;uniqueIndex:ux_articles_slug"`
	Title       string    `json:"title"       gorm:"type:varchar(512);not null"`
	Content     string    `json:"content"     gorm:"type:text;not null"`
	Excerpt     string    `json:"excerpt"     gorm:"type:varchar(512)"`
	ImageURL    string    `json:"imageUrl,omitempty" gorm:"type:varchar(2048)"`
	Category    string    `json:"category"    gorm:"type:varchar(64);not null;index:idx_articles_category_published,priority:1"`
	Status      string    `json:"-"           gorm:"type:varchar(16);not null;default:'published'"`
	PublishedAt time.Time `json:"publishedAt" gorm:"index:idx_articles_category_published,priority:2"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TableName returns the database table name for Article.
func (Article) TableName() string { return "articles" }
