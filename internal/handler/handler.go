package handler

import (
	"time"

	"whatsflow/internal/service"
	"whatsflow/internal/ws"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the HTTP surface of the instance manager.
type Handler struct {
	manager *service.Manager
	hub     *ws.Hub
	now     func() time.Time
}

func New(manager *service.Manager, hub *ws.Hub) *Handler {
	return &Handler{manager: manager, hub: hub, now: time.Now}
}

// Register mounts every route. protect wraps the operator routes; health,
// metrics and the websocket stay open.
func (h *Handler) Register(e *echo.Echo, protect ...echo.MiddlewareFunc) {
	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if h.hub != nil {
		e.GET("/ws", WebSocketHandler(h.hub))
	}

	g := e.Group("", protect...)

	g.GET("/status", h.StatusAll)
	g.GET("/status/:instanceId", h.Status)
	g.GET("/qr/:instanceId", h.QR)
	g.GET("/qr/:instanceId/image", h.QRImage)
	g.POST("/connect/:instanceId", h.Connect)
	g.POST("/disconnect/:instanceId", h.Disconnect)

	g.GET("/instances", h.ListInstances)
	g.POST("/instances", h.CreateInstance)
	g.DELETE("/instances/:instanceId", h.DeleteInstance)

	g.POST("/send/:instanceId", h.SendMessage)
	g.GET("/chats/:instanceId", h.ListChats)
}
