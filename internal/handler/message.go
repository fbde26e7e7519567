package handler

import (
	"encoding/base64"
	"net/http"
	"strings"

	"whatsflow/internal/model"

	"github.com/labstack/echo/v4"
)

// SendMessageRequest is the body of POST /send. imageData is base64 and only read for type "image".
type SendMessageRequest struct {
	To        string `json:"to" validate:"required"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	ImageData string `json:"imageData"`
}

// POST /send/:instanceId
func (h *Handler) SendMessage(c echo.Context) error {
	instanceID := c.Param("instanceId")

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Field 'to' is required", "VALIDATION_ERROR", err.Error())
	}

	content := model.Content{Type: req.Type, Text: req.Message}
	if content.Type == "" {
		content.Type = model.ContentText
	}
	if content.Type == model.ContentImage {
		data, err := decodeImageData(req.ImageData)
		if err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid image data", "INVALID_IMAGE", err.Error())
		}
		content = model.Content{Type: model.ContentImage, Image: data, Caption: req.Message}
	}

	result, err := h.manager.SendMessage(c.Request().Context(), instanceID, req.To, content)
	if err != nil {
		return serviceError(c, err, "SEND_FAILED")
	}

	return SuccessResponse(c, http.StatusOK, "Message sent successfully", map[string]interface{}{
		"instanceId": instanceID,
		"messageId":  result.MessageID,
		"to":         result.To,
		"timestamp":  result.Timestamp,
	})
}

// decodeImageData accepts raw base64 or a data URL.
func decodeImageData(raw string) ([]byte, error) {
	if i := strings.Index(raw, ";base64,"); i >= 0 && strings.HasPrefix(raw, "data:") {
		raw = raw[i+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
}
