// Health HTTP handler.
//
// GET /health reports process liveness, database reachability, and source
// queue counts so operators can see at a glance whether the pipeline is
// keeping up.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-news-backend/internal/repo"
)

// HealthResponse is the JSON payload returned by the health endpoint.
type HealthResponse struct {
	Status string           `json:"status"`
	DB     string           `json:"db"`
	Queue  *repo.QueueStats `json:"queue,omitempty"`
}

// Health handles GET /health. A failing database probe degrades the response
// to HTTP 503 but never panics the endpoint.
func (h *Handlers) Health(c *gin.Context) {
	resp := HealthResponse{Status: "ok", DB: "ok"}

	stats, err := repo.CollectQueueStats(c.Request.Context(), h.db)
	if err != nil {
		resp.Status = "degraded"
		resp.DB = "unreachable"
		ok(c, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Queue = &stats
	ok(c, http.StatusOK, resp)
}
