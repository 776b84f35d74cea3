package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/touchon/flowbus/internal/application/flowhost"
	"github.com/touchon/flowbus/internal/domain/flow"
	"github.com/touchon/flowbus/internal/shared/logger"
	"github.com/touchon/flowbus/internal/shared/utils"
)

// NodeHandler serves node status and triggers.
type NodeHandler struct {
	runtime FlowRuntime
	logger  logger.Interface
}

func NewNodeHandler(runtime FlowRuntime, logger logger.Interface) *NodeHandler {
	return &NodeHandler{
		runtime: runtime,
		logger:  logger,
	}
}

// TriggerRequest is the optional body of POST /nodes/:id/trigger.
type TriggerRequest struct {
	Payload any `json:"payload"`
}

// TriggerResponse carries the id of the injected message.
type TriggerResponse struct {
	MessageID string `json:"message_id"`
}

// ListNodes handles GET /nodes
func (h *NodeHandler) ListNodes(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "", h.runtime.Statuses())
}

// GetNode handles GET /nodes/:id
func (h *NodeHandler) GetNode(c *gin.Context) {
	id := c.Param("id")
	st, ok := h.runtime.Status(id)
	if !ok {
		utils.ErrorResponse(c, http.StatusNotFound, "node not found")
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", st)
}

// TriggerNode handles POST /nodes/:id/trigger
func (h *NodeHandler) TriggerNode(c *gin.Context) {
	id := c.Param("id")

	var req TriggerRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			h.logger.Warnw("invalid trigger request", "node", id, "error", err)
			utils.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	msg := flow.NewMessage(req.Payload)
	if err := h.runtime.Trigger(c.Request.Context(), id, msg); err != nil {
		switch {
		case errors.Is(err, flowhost.ErrUnknownNode):
			utils.ErrorResponse(c, http.StatusNotFound, "node not found")
		case errors.Is(err, flowhost.ErrStopped):
			utils.ErrorResponse(c, http.StatusServiceUnavailable, "flow runtime stopped")
		default:
			_ = c.Error(err)
			utils.ErrorResponseWithError(c, err)
		}
		return
	}

	utils.SuccessResponse(c, http.StatusAccepted, "node triggered", TriggerResponse{MessageID: msg.ID})
}
