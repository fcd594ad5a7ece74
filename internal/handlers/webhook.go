package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/botixhq/botix/internal/channel"
)

// WebhookRouter accepts decoded webhook bodies for async processing.
type WebhookRouter interface {
	HandleWebhook(ctx context.Context, channelType channel.Type, body []byte) error
}

// WebhookHandler terminates channel webhooks. It always acks fast; routing
// happens on the worker pool after the response is written.
type WebhookHandler struct {
	router      WebhookRouter
	verifyToken string
	logger      *slog.Logger
}

func NewWebhookHandler(log *slog.Logger, router WebhookRouter, verifyToken string) *WebhookHandler {
	return &WebhookHandler{
		router:      router,
		verifyToken: verifyToken,
		logger:      log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/webhooks/whatsapp", h.Verify)
	e.POST("/webhooks/whatsapp", h.Receive)
}

// Verify answers the Cloud API subscription handshake.
func (h *WebhookHandler) Verify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")
	if mode != "subscribe" || token != h.verifyToken {
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	return c.String(http.StatusOK, challenge)
}

// Receive acks the webhook and hands the payload to the router. Decode
// failures are logged but still acked; returning an error would only make
// the channel redeliver a payload we cannot parse.
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 4<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body")
	}
	ctx := context.WithoutCancel(c.Request().Context())
	if err := h.router.HandleWebhook(ctx, channel.TypeWhatsApp, body); err != nil {
		h.logger.Warn("webhook not processed", slog.String("error", err.Error()))
	}
	return c.NoContent(http.StatusOK)
}
