package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ListConversations returns the caller's queue, or every active conversation
// with ?view=all.
// GET /api/v1/conversations
func (h *Handler) ListConversations(c echo.Context) error {
	list, err := h.service.ListConversations(c.Request().Context(), currentUserID(c), c.QueryParam("view"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// History returns finished conversations.
// GET /api/v1/conversations/history
func (h *Handler) History(c echo.Context) error {
	list, err := h.service.History(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// GetConversation returns a conversation with its messages.
// GET /api/v1/conversations/:id
func (h *Handler) GetConversation(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
	}
	detail, err := h.service.Conversation(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

// GetMessages returns the ordered messages of a conversation.
// GET /api/v1/conversations/:id/messages
func (h *Handler) GetMessages(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
	}
	messages, err := h.service.Messages(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, messages)
}

// Join makes the caller a participant.
// POST /api/v1/conversations/:id/join
func (h *Handler) Join(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
	}
	res, err := h.service.Join(c.Request().Context(), id, currentUserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversationId": id,
		"joined":         res.Added,
		"activated":      res.Activated,
	})
}

// Leave ends the caller's participation.
// POST /api/v1/conversations/:id/leave
func (h *Handler) Leave(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
	}
	res, err := h.service.Leave(c.Request().Context(), id, currentUserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversationId": id,
		"remaining":      res.Remaining,
	})
}

// Invite adds another attendant to the conversation.
// POST /api/v1/conversations/:id/invite/:userId
func (h *Handler) Invite(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
	}
	userID, ok := pathID(c, "userId")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid user id"})
	}
	res, err := h.service.Invite(c.Request().Context(), id, userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversationId": id,
		"invitedUserId":  userID,
		"invited":        res.Added,
	})
}

// Finish closes the conversation.
// POST /api/v1/conversations/:id/finish
func (h *Handler) Finish(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
	}
	conv, err := h.service.Finish(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}
