package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tbourn/go-news-backend/internal/domain"
	"github.com/tbourn/go-news-backend/internal/repo"
)

func seedArticles(t *testing.T, svc *ArticleService, n int, category string) {
	t.Helper()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		_, err := repo.CreateArticle(context.Background(), svc.DB, &domain.Article{
			Title:       fmt.Sprintf("%s Story %d", category, i),
			Content:     "content",
			Category:    category,
			PublishedAt: base.Add(time.Duration(i) * time.Minute),
		}, 3)
		if err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
}

func TestListPage_DefaultsAndCaps(t *testing.T) {
	svc := NewArticleService(newServiceDB(t))
	svc.DefaultPageSize = 5
	svc.MaxPageSize = 10
	seedArticles(t, svc, 12, "news")

	// Invalid paging falls back to page 1 with the default size.
	items, total, err := svc.ListPage(context.Background(), "", 0, 0)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if total != 12 || len(items) != 5 {
		t.Fatalf("total=%d len=%d", total, len(items))
	}
	// Newest first.
	if items[0].Title != "news Story 11" {
		t.Fatalf("first = %q", items[0].Title)
	}

	// Oversized page size is capped.
	items, _, err = svc.ListPage(context.Background(), "", 1, 500)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if len(items) != 10 {
		t.Fatalf("cap not applied: %d", len(items))
	}

	// Past the end: empty page, same total.
	items, total, err = svc.ListPage(context.Background(), "", 4, 5)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if total != 12 || len(items) != 0 {
		t.Fatalf("past-end page: total=%d len=%d", total, len(items))
	}
}

func TestListPage_CategoryFilter(t *testing.T) {
	svc := NewArticleService(newServiceDB(t))
	seedArticles(t, svc, 3, "news")
	seedArticles(t, svc, 2, "sports")

	_, total, err := svc.ListPage(context.Background(), "sports", 1, 10)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if total != 2 {
		t.Fatalf("sports total = %d", total)
	}

	items, total, err := svc.ListPage(context.Background(), "missing", 1, 10)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if total != 0 || len(items) != 0 {
		t.Fatalf("unknown category: total=%d len=%d", total, len(items))
	}
}

func TestGetBySlug(t *testing.T) {
	svc := NewArticleService(newServiceDB(t))
	seedArticles(t, svc, 1, "news")

	a, err := svc.GetBySlug(context.Background(), "news-story-0")
	if err != nil {
		t.Fatalf("GetBySlug: %v", err)
	}
	if a.Title != "news Story 0" {
		t.Fatalf("title = %q", a.Title)
	}

	if _, err := svc.GetBySlug(context.Background(), "missing"); !errors.Is(err, ErrArticleNotFound) {
		t.Fatalf("expected ErrArticleNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	svc := NewArticleService(newServiceDB(t))
	seedArticles(t, svc, 1, "news")

	if err := svc.Delete(context.Background(), "news-story-0"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Delete(context.Background(), "news-story-0"); !errors.Is(err, ErrArticleNotFound) {
		t.Fatalf("expected ErrArticleNotFound, got %v", err)
	}
}
