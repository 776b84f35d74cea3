package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/touchon/flowbus/internal/application/status"
	"github.com/touchon/flowbus/internal/shared/version"
)

// HealthResponse summarises node health. Status is "ok" when no node
// reports an error, "degraded" otherwise.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Nodes   int    `json:"nodes"`
	Errors  int    `json:"errors"`
	Warns   int    `json:"warnings"`
}

type HealthHandler struct {
	runtime FlowRuntime
}

func NewHealthHandler(runtime FlowRuntime) *HealthHandler {
	return &HealthHandler{runtime: runtime}
}

// Health handles GET /health. It always answers 200; the body tells
// whether any node is in error.
func (h *HealthHandler) Health(c *gin.Context) {
	resp := HealthResponse{Status: "ok", Version: version.Current()}
	for _, n := range h.runtime.Statuses() {
		resp.Nodes++
		switch n.Status.Severity {
		case status.SeverityError:
			resp.Errors++
		case status.SeverityWarn:
			resp.Warns++
		}
	}
	if resp.Errors > 0 {
		resp.Status = "degraded"
	}
	c.JSON(http.StatusOK, resp)
}
