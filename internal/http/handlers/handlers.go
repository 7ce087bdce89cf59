// Handler wiring.
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. Service dependencies are consumed
// through small interfaces so transport concerns stay separate from business
// logic and tests can inject fakes.
package handlers

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-news-backend/internal/domain"
	"github.com/tbourn/go-news-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// PublishService runs the claim-and-publish pipeline for one queue item.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type PublishService interface {
	// PublishOne claims and publishes at most one queued source.
	PublishOne(ctx context.Context) (*services.PublishResult, error)
}

// SourceService enqueues source URLs for later publishing.
type SourceService interface {
	// Enqueue validates and enqueues URLs, reporting per-URL outcomes.
	Enqueue(ctx context.Context, rawURLs []string) ([]services.EnqueueOutcome, []domain.SourceQueueItem, error)
}

// ArticleService serves published articles.
type ArticleService interface {
	// ListPage returns a page of published articles and the total count.
	ListPage(ctx context.Context, category string, page, pageSize int) ([]domain.Article, int64, error)
	// GetBySlug returns one published article.
	GetBySlug(ctx context.Context, slug string) (*domain.Article, error)
	// Delete removes an article by slug (admin operation).
	Delete(ctx context.Context, slug string) error
}

// Handlers groups the HTTP endpoints of the publishing API.
type Handlers struct {
	publishSvc PublishService
	sourceSvc  SourceService
	articleSvc ArticleService

	// db backs the health endpoint's reachability probe and queue stats.
	db *gorm.DB
}

// New constructs a Handlers instance bound to the given services.
func New(publishSvc PublishService, sourceSvc SourceService, articleSvc ArticleService, db *gorm.DB) *Handlers {
	return &Handlers{publishSvc: publishSvc, sourceSvc: sourceSvc, articleSvc: articleSvc, db: db}
}
