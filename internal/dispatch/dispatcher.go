// Package dispatch sends outbound messages through channel adapters and
// fans conversation events out to agents.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/botixhq/botix/internal/channel"
	"github.com/botixhq/botix/internal/metrics"
	"github.com/botixhq/botix/internal/push"
	"github.com/botixhq/botix/internal/store"
	"github.com/botixhq/botix/internal/template"
)

// Store is the repository subset dispatch needs.
type Store interface {
	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	GetIntegration(ctx context.Context, id string) (store.Integration, error)
	GetContact(ctx context.Context, id string) (store.Contact, error)
	GetUser(ctx context.Context, id string) (store.User, error)
	GetTenant(ctx context.Context, id string) (store.Tenant, error)
	GetTemplateByName(ctx context.Context, tenantID, name string) (store.Template, error)
	InsertReply(ctx context.Context, r store.OutboundReply) (store.OutboundReply, error)
	ListAdmins(ctx context.Context, tenantID string) ([]store.User, error)
}

// Hub publishes realtime events to connected agents.
type Hub interface {
	Publish(recipientID string, event any)
	Connected(recipientID string) bool
}

type Dispatcher struct {
	store    Store
	registry *channel.Registry
	hub      Hub
	push     push.Publisher
	renderer *template.Renderer
	logger   *slog.Logger
}

func New(log *slog.Logger, st Store, reg *channel.Registry, hub Hub, pusher push.Publisher, renderer *template.Renderer) *Dispatcher {
	return &Dispatcher{
		store:    st,
		registry: reg,
		hub:      hub,
		push:     pusher,
		renderer: renderer,
		logger:   log.With(slog.String("service", "dispatch")),
	}
}

// Deliver sends msg on the conversation's channel, records the reply, and
// pushes it to the conversation's watchers. senderUserID is empty for
// automation sends.
func (d *Dispatcher) Deliver(ctx context.Context, conversationID, senderUserID string, msg channel.OutboundMessage) (store.OutboundReply, error) {
	conv, err := d.store.GetConversation(ctx, conversationID)
	if err != nil {
		return store.OutboundReply{}, fmt.Errorf("deliver: %w", err)
	}
	integration, err := d.store.GetIntegration(ctx, conv.IntegrationID)
	if err != nil {
		return store.OutboundReply{}, fmt.Errorf("deliver: %w", err)
	}
	contact, err := d.store.GetContact(ctx, conv.ContactID)
	if err != nil {
		return store.OutboundReply{}, fmt.Errorf("deliver: %w", err)
	}

	sender, err := d.registry.Sender(channel.Type(integration.ChannelType))
	if err != nil {
		return store.OutboundReply{}, fmt.Errorf("deliver: %w", err)
	}

	if msg.Kind == channel.KindTemplate && msg.Template != nil {
		msg.Body = d.renderTemplate(ctx, conv, contact, *msg.Template)
	}

	acct := channel.Account{
		IntegrationID: integration.ID,
		TenantID:      integration.TenantID,
		PhoneNumberID: integration.PhoneNumberID,
		AccessToken:   integration.AccessToken,
	}
	externalID, err := sender.Send(ctx, acct, contact.Address, msg)
	if err != nil {
		metrics.OutboundSends.WithLabelValues(integration.ChannelType, "error").Inc()
		return store.OutboundReply{}, fmt.Errorf("deliver on %s: %w", integration.ChannelType, err)
	}
	metrics.OutboundSends.WithLabelValues(integration.ChannelType, "ok").Inc()

	// The channel accepted the message before this insert runs. A crash in
	// between loses the local record but not the delivery; the status
	// callback for the unknown external id is then dropped as benign.
	reply, err := d.store.InsertReply(ctx, store.OutboundReply{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		SenderUserID:   senderUserID,
		ExternalID:     externalID,
		Kind:           string(msg.Kind),
		Body:           msg.Body,
		MediaURL:       msg.MediaURL,
	})
	if err != nil {
		return store.OutboundReply{}, fmt.Errorf("record reply: %w", err)
	}

	d.fanOut(ctx, conv, map[string]any{
		"type":            "reply",
		"conversation_id": conv.ID,
		"reply_id":        reply.ID,
		"kind":            string(msg.Kind),
		"body":            msg.Body,
		"sent_at":         reply.SentAt.Format(time.RFC3339),
	}, senderUserID, "")
	return reply, nil
}

// renderTemplate resolves the stored template body with the conversation's
// variable sources: positional params plus contact, company, responsible
// user and date. Channels without native template support deliver the
// rendered text, and the recorded reply carries what the contact read.
func (d *Dispatcher) renderTemplate(ctx context.Context, conv store.Conversation, contact store.Contact, ref channel.Template) string {
	tmpl, err := d.store.GetTemplateByName(ctx, conv.TenantID, ref.Name)
	if err != nil {
		d.logger.Warn("template not found for send",
			slog.String("template", ref.Name),
			slog.String("tenant_id", conv.TenantID))
		return ""
	}
	vars := map[string]string{
		"contact.name": contact.Name,
		"date":         time.Now().Format("2006-01-02"),
	}
	if tenant, err := d.store.GetTenant(ctx, conv.TenantID); err == nil {
		vars["company.name"] = tenant.Name
	}
	if conv.ResponsibleUserID != "" {
		if user, err := d.store.GetUser(ctx, conv.ResponsibleUserID); err == nil {
			vars["user.name"] = user.Name
		}
	}
	return d.renderer.Render(tmpl.Body, ref.Params, vars)
}

// NotifyInbound pushes an inbound message event to the conversation's
// watchers and sends mobile notifications to those not connected.
func (d *Dispatcher) NotifyInbound(ctx context.Context, conv store.Conversation, m store.InboundMessage, contactName string) {
	preview := m.Body
	if preview == "" {
		preview = m.Kind
	}
	d.fanOut(ctx, conv, map[string]any{
		"type":            "message",
		"conversation_id": conv.ID,
		"message_id":      m.ID,
		"kind":            m.Kind,
		"body":            m.Body,
		"media_url":       m.MediaURL,
		"received_at":     m.ReceivedAt.Format(time.RFC3339),
	}, "", fmt.Sprintf("%s: %s", contactName, preview))
}

// NotifyRead tells the conversation's watchers the unread counter was reset,
// so other open clients drop their badge too.
func (d *Dispatcher) NotifyRead(ctx context.Context, conv store.Conversation) {
	d.fanOut(ctx, conv, map[string]any{
		"type":            "read",
		"conversation_id": conv.ID,
	}, "", "")
}

// NotifyAssignment tells both the old and new responsible user about a
// handover, along with the tenant's admins.
func (d *Dispatcher) NotifyAssignment(ctx context.Context, conv store.Conversation, oldUserID, newUserID string) {
	event := map[string]any{
		"type":            "assignment",
		"conversation_id": conv.ID,
		"old_user_id":     oldUserID,
		"new_user_id":     newUserID,
	}
	recipients := d.watchers(ctx, conv)
	if oldUserID != "" {
		recipients[oldUserID] = struct{}{}
	}
	if newUserID != "" {
		recipients[newUserID] = struct{}{}
	}
	for id := range recipients {
		d.hub.Publish(id, event)
	}
}

// fanOut delivers event to the responsible user and tenant admins, deduped,
// skipping skipUserID. When pushBody is non-empty, recipients without a live
// connection get a mobile notification instead.
func (d *Dispatcher) fanOut(ctx context.Context, conv store.Conversation, event map[string]any, skipUserID, pushBody string) {
	for id := range d.watchers(ctx, conv) {
		if id == skipUserID {
			continue
		}
		if d.hub.Connected(id) || pushBody == "" {
			d.hub.Publish(id, event)
			continue
		}
		user, err := d.store.GetUser(ctx, id)
		if err != nil || user.PushToken == "" {
			continue
		}
		err = d.push.Notify(ctx, push.Notification{
			Token:          user.PushToken,
			Title:          "New message",
			Body:           pushBody,
			TenantID:       conv.TenantID,
			ConversationID: conv.ID,
		})
		if err != nil {
			d.logger.Warn("push notify failed",
				slog.String("user_id", id),
				slog.String("error", err.Error()))
		}
	}
}

func (d *Dispatcher) watchers(ctx context.Context, conv store.Conversation) map[string]struct{} {
	recipients := make(map[string]struct{})
	if conv.ResponsibleUserID != "" {
		recipients[conv.ResponsibleUserID] = struct{}{}
	}
	admins, err := d.store.ListAdmins(ctx, conv.TenantID)
	if err != nil {
		d.logger.Warn("list admins for fan-out failed",
			slog.String("tenant_id", conv.TenantID),
			slog.String("error", err.Error()))
	}
	for _, a := range admins {
		recipients[a.ID] = struct{}{}
	}
	return recipients
}
