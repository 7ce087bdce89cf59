// Publish pipeline HTTP handler.
//
// This file exposes the claim-and-process entry point invoked by cron:
//   - GET/POST /cron/publish  (operator secret required)
//
// The response shape is driven by the pipeline outcome so the cron driver
// can branch without parsing human-readable messages:
//
//	{"ok":true,  "message":"no pending sources"}
//	{"ok":true,  "cooldown":true, "retryAfterSeconds":540}
//	{"ok":true,  "blocked":true,  "reason":"blocked host: example.com"}
//	{"ok":true,  "processed":{...}}
//	{"ok":false, "hardFailure":false, "error":"..."}   (soft, HTTP 200)
//	{"ok":false, "hardFailure":true,  "error":"..."}   (hard, HTTP 500)
package handlers

import (
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-news-backend/internal/http/middleware"
	"github.com/tbourn/go-news-backend/internal/services"
)

// ProcessedSource summarizes a successfully published queue item.
type ProcessedSource struct {
	QueueID   string `json:"queueId"`
	SourceURL string `json:"sourceUrl"`
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	FBPostID  string `json:"fbPostId,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

// PublishResponse is the envelope returned by the publish endpoint.
type PublishResponse struct {
	OK                bool             `json:"ok"`
	Message           string           `json:"message,omitempty"`
	Cooldown          bool             `json:"cooldown,omitempty"`
	RetryAfterSeconds int              `json:"retryAfterSeconds,omitempty"`
	Blocked           bool             `json:"blocked,omitempty"`
	Reason            string           `json:"reason,omitempty"`
	Processed         *ProcessedSource `json:"processed,omitempty"`
	HardFailure       bool             `json:"hardFailure,omitempty"`
	Error             string           `json:"error,omitempty"`
}

// RunPublish handles GET/POST /cron/publish.
//
// Exactly one queue item is claimed and processed per call. Soft per-item
// failures return HTTP 200 with ok=false so schedulers keep the run green;
// hard failures (misconfiguration, expired credentials) return HTTP 500 and
// are expected to halt the calling automation.
func (h *Handlers) RunPublish(c *gin.Context) {
	res, err := h.publishSvc.PublishOne(c.Request.Context())
	if err != nil {
		middleware.ObservePublishOutcome("hard_failure")
		ok(c, http.StatusInternalServerError, PublishResponse{
			OK:          false,
			HardFailure: true,
			Error:       err.Error(),
		})
		return
	}

	middleware.ObservePublishOutcome(res.Status)

	switch res.Status {
	case services.PublishStatusNoPending:
		ok(c, http.StatusOK, PublishResponse{OK: true, Message: "no pending sources"})

	case services.PublishStatusCooldown:
		ok(c, http.StatusOK, PublishResponse{
			OK:                true,
			Cooldown:          true,
			Reason:            res.Reason,
			RetryAfterSeconds: int(math.Ceil(res.RetryAfter.Seconds())),
		})

	case services.PublishStatusBlocked:
		ok(c, http.StatusOK, PublishResponse{OK: true, Blocked: true, Reason: res.Reason})

	case services.PublishStatusPosted:
		p := &ProcessedSource{
			QueueID:   res.Item.ID,
			SourceURL: res.Item.SourceURL,
			Slug:      res.Article.Slug,
			Title:     res.Article.Title,
		}
		if res.Item.FBPostID != nil {
			p.FBPostID = *res.Item.FBPostID
		}
		if res.Item.LastError != nil {
			p.LastError = *res.Item.LastError
		}
		ok(c, http.StatusOK, PublishResponse{OK: true, Processed: p})

	default: // services.PublishStatusFailed
		ok(c, http.StatusOK, PublishResponse{OK: false, Error: res.Reason})
	}
}
