// Source queue HTTP handlers.
//
// This file exposes the enqueue endpoint:
//   - POST /sources  (enqueue one URL or a batch; operator secret required)
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-news-backend/internal/http/middleware"
	"github.com/tbourn/go-news-backend/internal/services"
)

// EnqueueRequest is the JSON payload for enqueuing sources. Either a single
// `url` or a `urls` batch may be sent; both together are merged.
type EnqueueRequest struct {
	URL  string   `json:"url"`
	URLs []string `json:"urls"`
}

// EnqueueResponse reports what happened to each submitted URL.
type EnqueueResponse struct {
	Queued  int                       `json:"queued"`
	Results []services.EnqueueOutcome `json:"results"`
}

// EnqueueSources handles POST /sources.
//
// It accepts {"url": "..."} or {"urls": ["...", ...]}, validates each entry,
// and enqueues the valid ones idempotently. Invalid or blocklisted URLs are
// reported per entry without failing the batch.
func (h *Handlers) EnqueueSources(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	urls := req.URLs
	if s := strings.TrimSpace(req.URL); s != "" {
		urls = append([]string{s}, urls...)
	}

	outcomes, items, err := h.sourceSvc.Enqueue(c.Request.Context(), urls)
	switch {
	case errors.Is(err, services.ErrNoSourceURLs):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "no source urls provided")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeEnqueueFailed, "could not enqueue sources")
		return
	}

	middleware.ObserveEnqueuedSources(len(items))
	ok(c, http.StatusAccepted, EnqueueResponse{Queued: len(items), Results: outcomes})
}
