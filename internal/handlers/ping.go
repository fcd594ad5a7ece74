package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Pinger is anything health checks can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingHandler struct {
	store  Pinger
	cache  Pinger
	logger *slog.Logger
}

func NewPingHandler(log *slog.Logger, store, cache Pinger) *PingHandler {
	return &PingHandler{
		store:  store,
		cache:  cache,
		logger: log.With(slog.String("handler", "ping")),
	}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.GET("/health", h.Health)
	e.HEAD("/health", h.HealthHead)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Health reports dependency readiness. Redis being down is degraded, not
// failing; the pipeline works without it.
func (h *PingHandler) Health(c echo.Context) error {
	ctx := c.Request().Context()
	status := map[string]string{"postgres": "ok", "redis": "ok"}
	code := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		status["postgres"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if err := h.cache.Ping(ctx); err != nil {
		status["redis"] = "degraded: " + err.Error()
	}
	return c.JSON(code, status)
}

func (h *PingHandler) HealthHead(c echo.Context) error {
	if err := h.store.Ping(c.Request().Context()); err != nil {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusOK)
}
