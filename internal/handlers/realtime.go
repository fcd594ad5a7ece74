package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/botixhq/botix/internal/auth"
	"github.com/botixhq/botix/internal/realtime"
)

type RealtimeHandler struct {
	hub      *realtime.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewRealtimeHandler(log *slog.Logger, hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 12,
			WriteBufferSize: 1 << 12,
		},
		logger: log.With(slog.String("handler", "realtime")),
	}
}

func (h *RealtimeHandler) Register(e *echo.Echo) {
	e.GET("/ws", h.Connect)
}

// Connect upgrades the request and parks it on the hub. The JWT middleware
// already ran; tokens arrive via the query parameter for browser clients.
func (h *RealtimeHandler) Connect(c echo.Context) error {
	ident, err := auth.IdentityFromContext(c)
	if err != nil {
		return err
	}
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "upgrade failed")
	}
	h.logger.Debug("client connected", slog.String("user_id", ident.UserID))
	h.hub.Serve(conn, ident.UserID)
	return nil
}
