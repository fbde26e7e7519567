package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type CreateInstanceRequest struct {
	Name       string `json:"name" validate:"max=128"`
	InstanceID string `json:"instanceId" validate:"omitempty,instanceid"`
}

type instanceCounts struct {
	Total      int `json:"total"`
	Connected  int `json:"connected"`
	Connecting int `json:"connecting"`
}

type healthResponse struct {
	Status    string         `json:"status"`
	Instances instanceCounts `json:"instances"`
	Importing int            `json:"importing"`
	Uptime    float64        `json:"uptime"`
	Timestamp string         `json:"timestamp"`
}

// GET /health
func (h *Handler) Health(c echo.Context) error {
	view := h.manager.Health()
	return c.JSON(http.StatusOK, healthResponse{
		Status: "running",
		Instances: instanceCounts{
			Total:      view.Total,
			Connected:  view.Connected,
			Connecting: view.Connecting,
		},
		Importing: view.Importing,
		Uptime:    view.Uptime.Seconds(),
		Timestamp: h.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// GET /status
func (h *Handler) StatusAll(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.StatusAll())
}

// GET /status/:instanceId
func (h *Handler) Status(c echo.Context) error {
	status, err := h.manager.Status(c.Param("instanceId"))
	if err != nil {
		return serviceError(c, err, "STATUS_FAILED")
	}
	return c.JSON(http.StatusOK, status)
}

// POST /connect/:instanceId
func (h *Handler) Connect(c echo.Context) error {
	instanceID := c.Param("instanceId")
	if err := h.manager.Connect(instanceID); err != nil {
		return serviceError(c, err, "CONNECT_FAILED")
	}
	return SuccessResponse(c, http.StatusOK, "Connection started", map[string]interface{}{
		"instanceId": instanceID,
	})
}

// POST /disconnect/:instanceId?logout=true
func (h *Handler) Disconnect(c echo.Context) error {
	instanceID := c.Param("instanceId")

	logout := false
	if raw := c.QueryParam("logout"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid logout flag", "VALIDATION_ERROR", err.Error())
		}
		logout = v
	}

	if err := h.manager.Disconnect(instanceID, logout); err != nil {
		return serviceError(c, err, "DISCONNECT_FAILED")
	}

	message := "Disconnected"
	if logout {
		message = "Logged out and credentials removed"
	}
	return SuccessResponse(c, http.StatusOK, message, map[string]interface{}{
		"instanceId": instanceID,
		"logout":     logout,
	})
}

// GET /instances
func (h *Handler) ListInstances(c echo.Context) error {
	return SuccessResponse(c, http.StatusOK, "Instances retrieved", h.manager.Instances())
}

// POST /instances
func (h *Handler) CreateInstance(c echo.Context) error {
	var req CreateInstanceRequest
	if err := c.Bind(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return ErrorResponse(c, http.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err.Error())
	}

	status, created, err := h.manager.CreateInstance(req.Name, req.InstanceID)
	if err != nil {
		return serviceError(c, err, "CREATE_FAILED")
	}
	if !created {
		return SuccessResponse(c, http.StatusOK, "Instance already exists", status)
	}
	return SuccessResponse(c, http.StatusCreated, "Instance created", status)
}

// DELETE /instances/:instanceId
func (h *Handler) DeleteInstance(c echo.Context) error {
	instanceID := c.Param("instanceId")
	if err := h.manager.DeleteInstance(instanceID); err != nil {
		return serviceError(c, err, "DELETE_FAILED")
	}
	return SuccessResponse(c, http.StatusOK, "Instance deleted", map[string]interface{}{
		"instanceId": instanceID,
	})
}
