// Package services – ArticleService
//
// This file implements the ArticleService, which serves published articles
// (paginated listing, lookup by slug) and supports administrative deletion.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-news-backend/internal/domain"
	"github.com/tbourn/go-news-backend/internal/repo"
)

// ArticleService provides read and admin operations over published articles.
type ArticleService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// DefaultPageSize applies when the caller sends no page size.
	DefaultPageSize int
	// MaxPageSize caps the page size a caller may request.
	MaxPageSize int
}

// NewArticleService constructs an ArticleService with sane pagination defaults.
func NewArticleService(db *gorm.DB) *ArticleService {
	return &ArticleService{DB: db, DefaultPageSize: 20, MaxPageSize: 100}
}

// ListPage returns one page of published articles, newest first, optionally
// filtered by category. It applies defaults for invalid page/pageSize and
// returns the total count for pagination.
func (s *ArticleService) ListPage(ctx context.Context, category string, page, pageSize int) ([]domain.Article, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.DefaultPageSize
	}
	if s.MaxPageSize > 0 && pageSize > s.MaxPageSize {
		pageSize = s.MaxPageSize
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountArticles(ctx, s.DB, category)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Article{}, 0, nil
	}

	items, err := repo.ListArticlesPage(ctx, s.DB, category, offset, pageSize)
	return items, total, err
}

// GetBySlug returns one published article by slug.
func (s *ArticleService) GetBySlug(ctx context.Context, slug string) (*domain.Article, error) {
	a, err := repo.GetArticleBySlug(ctx, s.DB, slug)
	if errors.Is(err, repo.ErrArticleNotFound) {
		return nil, ErrArticleNotFound
	}
	return a, err
}

// Delete removes a published article by slug.
func (s *ArticleService) Delete(ctx context.Context, slug string) error {
	err := repo.DeleteArticleBySlug(ctx, s.DB, slug)
	if errors.Is(err, repo.ErrArticleNotFound) {
		return ErrArticleNotFound
	}
	return err
}
