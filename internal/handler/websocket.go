package handler

import (
	"net/http"
	"strings"

	"whatsflow/internal/ws"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origins are filtered by the CORS middleware
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler upgrades GET /ws and streams hub events to the client.
// ?instance=a,b narrows the stream to those instances.
func WebSocketHandler(hub *ws.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		var instances []string
		for _, id := range strings.Split(c.QueryParam("instance"), ",") {
			if id = strings.TrimSpace(id); id != "" {
				instances = append(instances, id)
			}
		}

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			zap.L().Warn("ws upgrade failed", zap.Error(err))
			return err
		}

		client := ws.NewClient(hub, conn, instances...)
		hub.Register(client)

		go client.WritePump()
		go client.ReadPump()

		return nil
	}
}
