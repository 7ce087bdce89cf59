// Article HTTP handlers.
//
// This file exposes REST endpoints for published articles:
//   - GET    /articles              (list, paginated, optional category filter)
//   - GET    /articles/{slug}       (read one)
//   - DELETE /admin/articles/{slug} (admin delete, admin secret required)
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-news-backend/internal/domain"
	"github.com/tbourn/go-news-backend/internal/services"
	"github.com/tbourn/go-news-backend/internal/utils"
)

const (
	defaultPage     = 1
	defaultPageSize = 20
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// ArticleListResponse is the JSON payload returned by the list endpoint.
type ArticleListResponse struct {
	Items      []domain.Article `json:"items"`
	Pagination Pagination       `json:"pagination"`
}

// ListArticles handles GET /articles.
//
// Query parameters: page, page_size, category. Articles are returned newest
// first.
func (h *Handlers) ListArticles(c *gin.Context) {
	page := utils.AtoiDefault(c.Query("page"), defaultPage)
	pageSize := utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	category := strings.TrimSpace(c.Query("category"))

	items, total, err := h.articleSvc.ListPage(c.Request.Context(), category, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list articles")
		return
	}

	totalPages := 0
	if pageSize > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	ok(c, http.StatusOK, ArticleListResponse{
		Items: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
		},
	})
}

// GetArticle handles GET /articles/:slug.
func (h *Handlers) GetArticle(c *gin.Context) {
	slug := c.Param("slug")
	a, err := h.articleSvc.GetBySlug(c.Request.Context(), slug)
	switch {
	case errors.Is(err, services.ErrArticleNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "article not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load article")
	default:
		ok(c, http.StatusOK, a)
	}
}

// DeleteArticle handles DELETE /admin/articles/:slug.
func (h *Handlers) DeleteArticle(c *gin.Context) {
	slug := c.Param("slug")
	err := h.articleSvc.Delete(c.Request.Context(), slug)
	switch {
	case errors.Is(err, services.ErrArticleNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "article not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not delete article")
	default:
		noContent(c)
	}
}
