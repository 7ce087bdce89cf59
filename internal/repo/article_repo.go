// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Article
// model, including the slug-collision-retried insert.
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-news-backend/internal/domain"
	"github.com/tbourn/go-news-backend/internal/textnorm"
)

var (
	// ErrArticleNotFound indicates the requested slug does not exist (or is
	// not published).
	ErrArticleNotFound = errors.New("article not found")

	// ErrSlugExhausted is returned when every suffixed slug variant collided.
	ErrSlugExhausted = errors.New("could not find a free slug")
)

// CreateArticle inserts a new article, deriving its slug from the title and
// retrying with numeric suffixes (slug, slug-2, slug-3, …) on unique-index
// collisions, up to maxSlugAttempts variants. The slug uniqueness itself is
// enforced by the store; this function only reacts to the violation.
func CreateArticle(ctx context.Context, db *gorm.DB, a *domain.Article, maxSlugAttempts int) (*domain.Article, error) {
	base := textnorm.Slugify(a.Title)

	for i := 1; i <= maxSlugAttempts; i++ {
		slug := base
		if i > 1 {
			slug = fmt.Sprintf("%s-%d", base, i)
		}

		row := domain.Article{
			ID:          uuid.NewString(),
			Slug:        slug,
			Title:       a.Title,
			Content:     a.Content,
			Excerpt:     a.Excerpt,
			ImageURL:    a.ImageURL,
			Category:    a.Category,
			Status:      domain.ArticleStatusPublished,
			PublishedAt: a.PublishedAt,
			CreatedAt:   time.Now().UTC(),
		}
		if row.PublishedAt.IsZero() {
			row.PublishedAt = row.CreatedAt
		}

		err := db.WithContext(ctx).Create(&row).Error
		if err == nil {
			return &row, nil
		}
		if !isDuplicateKey(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w after %d attempts for %q", ErrSlugExhausted, maxSlugAttempts, base)
}

// GetArticleBySlug fetches one published article.
func GetArticleBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Article, error) {
	var a domain.Article
	err := db.WithContext(ctx).
		Where("slug = ? AND status = ?", slug, domain.ArticleStatusPublished).
		First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrArticleNotFound
		}
		return nil, err
	}
	return &a, nil
}

// ListArticlesPage returns a page of published articles, newest first
// (PublishedAt DESC, ID DESC for determinism). An empty category lists all
// categories.
func ListArticlesPage(ctx context.Context, db *gorm.DB, category string, offset, limit int) ([]domain.Article, error) {
	var out []domain.Article
	q := db.WithContext(ctx).
		Where("status = ?", domain.ArticleStatusPublished)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	err := q.
		Order("published_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountArticles returns the number of published articles. An empty category
// counts across all categories.
func CountArticles(ctx context.Context, db *gorm.DB, category string) (int64, error) {
	var total int64
	q := db.WithContext(ctx).
		Model(&domain.Article{}).
		Where("status = ?", domain.ArticleStatusPublished)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	err := q.Count(&total).Error
	return total, err
}

// LatestPublishedAt returns the most recent publish timestamp, or nil when no
// article exists. The publish cooldown is computed from this value, read
// fresh on every run — no shared state beyond the store.
func LatestPublishedAt(ctx context.Context, db *gorm.DB) (*time.Time, error) {
	var row struct {
		PublishedAt time.Time
	}
	err := db.WithContext(ctx).
		Model(&domain.Article{}).
		Select("published_at").
		Where("status = ?", domain.ArticleStatusPublished).
		Order("published_at DESC").
		Limit(1).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.PublishedAt.IsZero() {
		return nil, nil
	}
	return &row.PublishedAt, nil
}

// DeleteArticleBySlug hard-deletes one article (admin operation). Returns
// ErrArticleNotFound when the slug matched nothing.
func DeleteArticleBySlug(ctx context.Context, db *gorm.DB, slug string) error {
	res := db.WithContext(ctx).Where("slug = ?", slug).Delete(&domain.Article{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrArticleNotFound
	}
	return nil
}

// isDuplicateKey classifies unique-constraint violations across drivers.
// GORM's TranslateError covers both dialects; the string checks are a
// fallback for raw driver errors that slip through untranslated.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value") // postgres
}
