package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// GET /chats/:instanceId
func (h *Handler) ListChats(c echo.Context) error {
	instanceID := c.Param("instanceId")

	chats, err := h.manager.ListChats(c.Request().Context(), instanceID)
	if err != nil {
		return serviceError(c, err, "CHATS_FAILED")
	}

	groups := 0
	for _, chat := range chats {
		if chat.IsGroup {
			groups++
		}
	}
	return SuccessResponse(c, http.StatusOK, "Chats retrieved", map[string]interface{}{
		"instanceId": instanceID,
		"total":      len(chats),
		"groups":     groups,
		"chats":      chats,
	})
}
