package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jrluiz96/roboteasy/internal/domain"
)

// StartChat opens or resumes the caller's conversation.
// POST /api/v1/open/chat/start
func (h *Handler) StartChat(c echo.Context) error {
	var req domain.ChatStartRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	resp, err := h.service.StartChat(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}

	status := http.StatusOK
	if resp.IsNewConversation {
		status = http.StatusCreated
	}
	return c.JSON(status, resp)
}
