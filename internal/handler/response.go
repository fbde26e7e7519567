package handler

import (
	"errors"
	"net/http"

	"whatsflow/internal/service"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

type successBody struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func ErrorResponse(c echo.Context, status int, message, code, details string) error {
	return c.JSON(status, errorBody{
		Success: false,
		Error:   message,
		Code:    code,
		Details: details,
	})
}

func SuccessResponse(c echo.Context, status int, message string, data interface{}) error {
	return c.JSON(status, successBody{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// serviceError maps manager errors onto HTTP answers. Anything unknown is
// reported as a 500 with fallbackCode.
func serviceError(c echo.Context, err error, fallbackCode string) error {
	switch {
	case errors.Is(err, service.ErrUnknownInstance):
		return ErrorResponse(c, http.StatusNotFound, "Instance not found", "INSTANCE_NOT_FOUND", "Create it with POST /instances")
	case errors.Is(err, service.ErrNotConnected):
		return ErrorResponse(c, http.StatusBadRequest, "Instance is not connected", "NOT_CONNECTED", "Please check /status endpoint")
	case errors.Is(err, service.ErrInvalidRecipient):
		return ErrorResponse(c, http.StatusBadRequest, "Invalid phone number", "INVALID_PHONE", err.Error())
	case errors.Is(err, service.ErrUnsupportedContent):
		return ErrorResponse(c, http.StatusBadRequest, "Unsupported message content", "UNSUPPORTED_CONTENT", err.Error())
	case errors.Is(err, service.ErrInvalidInstanceID):
		return ErrorResponse(c, http.StatusBadRequest, "Invalid instance id", "INVALID_INSTANCE_ID", "Use letters, digits, '-' or '_' (max 64)")
	}

	zap.L().Error("request failed",
		zap.String("path", c.Path()),
		zap.String("instance_id", c.Param("instanceId")),
		zap.Error(err))
	return ErrorResponse(c, http.StatusInternalServerError, "Internal error", fallbackCode, err.Error())
}
