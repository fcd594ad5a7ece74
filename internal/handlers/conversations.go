package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/botixhq/botix/internal/auth"
	"github.com/botixhq/botix/internal/channel"
	"github.com/botixhq/botix/internal/store"
)

// ConversationStore is the read side the conversation endpoints need.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	ListConversations(ctx context.Context, tenantID string, limit int) ([]store.Conversation, error)
	ListInbound(ctx context.Context, conversationID string, limit int) ([]store.InboundMessage, error)
	ListReplies(ctx context.Context, conversationID string, limit int) ([]store.OutboundReply, error)
}

// ConversationRouter is the write side: sends, assignment and read marks go
// through the router so its locking and fan-out apply.
type ConversationRouter interface {
	SendOutbound(ctx context.Context, conversationID, senderUserID string, msg channel.OutboundMessage) (store.OutboundReply, error)
	Assign(ctx context.Context, conversationID, userID string) error
	MarkRead(ctx context.Context, conversationID string) error
}

type ConversationHandler struct {
	store  ConversationStore
	router ConversationRouter
	logger *slog.Logger
}

func NewConversationHandler(log *slog.Logger, st ConversationStore, router ConversationRouter) *ConversationHandler {
	return &ConversationHandler{
		store:  st,
		router: router,
		logger: log.With(slog.String("handler", "conversations")),
	}
}

func (h *ConversationHandler) Register(e *echo.Echo) {
	g := e.Group("/conversations")
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.GET("/:id/messages", h.Messages)
	g.POST("/:id/messages", h.Send)
	g.POST("/:id/read", h.Read)
	g.POST("/:id/assign", h.Assign)
}

// load fetches the conversation and enforces tenant ownership.
func (h *ConversationHandler) load(c echo.Context) (store.Conversation, auth.Identity, error) {
	ident, err := auth.IdentityFromContext(c)
	if err != nil {
		return store.Conversation{}, auth.Identity{}, err
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return store.Conversation{}, ident, echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	conv, err := h.store.GetConversation(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Conversation{}, ident, echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return store.Conversation{}, ident, err
	}
	if conv.TenantID != ident.TenantID {
		return store.Conversation{}, ident, echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	return conv, ident, nil
}

func (h *ConversationHandler) List(c echo.Context) error {
	ident, err := auth.IdentityFromContext(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	convs, err := h.store.ListConversations(c.Request().Context(), ident.TenantID, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": convs})
}

func (h *ConversationHandler) Get(c echo.Context) error {
	conv, _, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) Messages(c echo.Context) error {
	conv, _, err := h.load(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	ctx := c.Request().Context()
	inbound, err := h.store.ListInbound(ctx, conv.ID, limit)
	if err != nil {
		return err
	}
	replies, err := h.store.ListReplies(ctx, conv.ID, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"inbound": inbound,
		"replies": replies,
	})
}

type sendRequest struct {
	Kind     string   `json:"kind"`
	Body     string   `json:"body"`
	MediaURL string   `json:"media_url"`
	Filename string   `json:"filename"`
	Template string   `json:"template"`
	Params   []string `json:"params"`
}

func (h *ConversationHandler) Send(c echo.Context) error {
	conv, ident, err := h.load(c)
	if err != nil {
		return err
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Kind == "" {
		req.Kind = string(channel.KindText)
	}
	msg := channel.OutboundMessage{
		Kind:     channel.MessageKind(req.Kind),
		Body:     req.Body,
		MediaURL: req.MediaURL,
		Filename: req.Filename,
	}
	if req.Template != "" {
		msg.Kind = channel.KindTemplate
		msg.Template = &channel.Template{Name: req.Template, Params: req.Params}
	}
	if msg.Body == "" && msg.MediaURL == "" && msg.Template == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "body, media_url or template is required")
	}

	reply, err := h.router.SendOutbound(c.Request().Context(), conv.ID, ident.UserID, msg)
	if err != nil {
		if errors.Is(err, channel.ErrSendFailure) {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return err
	}
	return c.JSON(http.StatusCreated, reply)
}

func (h *ConversationHandler) Read(c echo.Context) error {
	conv, _, err := h.load(c)
	if err != nil {
		return err
	}
	if err := h.router.MarkRead(c.Request().Context(), conv.ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type assignRequest struct {
	UserID string `json:"user_id"`
}

func (h *ConversationHandler) Assign(c echo.Context) error {
	conv, _, err := h.load(c)
	if err != nil {
		return err
	}
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.UserID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	if err := h.router.Assign(c.Request().Context(), conv.ID, req.UserID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
