// Package internalchat implements the in-app chat channel. Delivery happens
// over the realtime hub instead of an external API.
package internalchat

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/botixhq/botix/internal/channel"
)

// Publisher pushes an event to a connected recipient. The realtime hub
// satisfies this.
type Publisher interface {
	Publish(recipientID string, event any)
}

type Adapter struct {
	hub    Publisher
	logger *slog.Logger
}

func New(log *slog.Logger, hub Publisher) *Adapter {
	return &Adapter{
		hub:    hub,
		logger: log.With(slog.String("adapter", "internal")),
	}
}

func (a *Adapter) Type() channel.Type { return channel.TypeInternal }

// Send pushes the message to the recipient's live connections. Internal
// addresses are user or contact ids; there is no external broker, so the
// adapter mints its own message id. Template sends arrive with the body
// already rendered by the dispatcher; the template name rides along so
// clients can tell campaign traffic apart.
func (a *Adapter) Send(_ context.Context, acct channel.Account, to string, msg channel.OutboundMessage) (string, error) {
	id := "int-" + uuid.NewString()
	event := map[string]any{
		"type":      "message",
		"id":        id,
		"tenant_id": acct.TenantID,
		"kind":      string(msg.Kind),
		"body":      msg.Body,
		"media_url": msg.MediaURL,
		"sent_at":   time.Now().UTC().Format(time.RFC3339),
	}
	if msg.Template != nil {
		event["template"] = msg.Template.Name
	}
	a.hub.Publish(to, event)
	return id, nil
}
