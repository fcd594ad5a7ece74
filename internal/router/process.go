package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/botixhq/botix/internal/channel"
	"github.com/botixhq/botix/internal/identity"
	"github.com/botixhq/botix/internal/metrics"
	"github.com/botixhq/botix/internal/routing"
	"github.com/botixhq/botix/internal/sandbox"
	"github.com/botixhq/botix/internal/store"
)

const dedupTTL = 24 * time.Hour

// process routes one inbound event end to end. Queue sharding guarantees
// every event for one conversation runs here sequentially, so classification
// always sees the state the previous event left behind. The conversation
// lock covers the read-then-write sections against agent API calls; channel
// sends and script runs are the slow part and happen outside it.
func (r *Router) process(ctx context.Context, t task) {
	start := time.Now()
	defer func() { metrics.RouteDuration.Observe(time.Since(start).Seconds()) }()

	integ, err := r.lookupIntegration(ctx, t)
	if err != nil {
		r.logger.Warn("inbound for unknown integration",
			slog.String("channel", string(t.ev.Channel)),
			slog.String("phone_number_id", t.ev.PhoneNumberID))
		return
	}
	metrics.InboundMessages.WithLabelValues(string(t.ev.Channel)).Inc()

	key := fmt.Sprintf("seen:%s:%s", integ.TenantID, t.ev.ExternalID)
	claimed, err := r.dedup.MarkOnce(ctx, key, dedupTTL)
	if err != nil {
		// Redis being down degrades to relying on the unique constraint.
		r.logger.Warn("dedup check failed", slog.String("error", err.Error()))
	} else if !claimed {
		metrics.DuplicateMessages.WithLabelValues(string(t.ev.Channel)).Inc()
		return
	}

	res, err := r.resolver.Resolve(ctx, integ.TenantID, integ.ID, t.ev.From, t.ev.ProfileName)
	if err != nil {
		r.logger.Error("identity resolution failed",
			slog.String("address", t.ev.From),
			slog.String("error", err.Error()))
		return
	}

	mu := r.locks.lock(res.Conversation.ID)

	// Re-read under the lock: an agent reply may have moved the
	// conversation since the resolver snapshot was taken.
	conv, err := r.store.GetConversation(ctx, res.Conversation.ID)
	if err != nil {
		mu.Unlock()
		r.logger.Error("load conversation failed",
			slog.String("conversation_id", res.Conversation.ID),
			slog.String("error", err.Error()))
		return
	}
	res.Conversation = conv

	var stored store.InboundMessage
	persisted := t.ev.Storage == channel.ClassPersist
	if persisted {
		var inserted bool
		stored, inserted, err = r.store.InsertInbound(ctx, store.InboundMessage{
			TenantID:       integ.TenantID,
			ConversationID: res.Conversation.ID,
			ExternalID:     t.ev.ExternalID,
			Kind:           string(t.ev.Kind),
			Body:           t.ev.Body,
			MediaURL:       t.ev.MediaURL,
			Latitude:       t.ev.Latitude,
			Longitude:      t.ev.Longitude,
		})
		if err != nil {
			mu.Unlock()
			r.logger.Error("store inbound failed", slog.String("error", err.Error()))
			return
		}
		if !inserted {
			mu.Unlock()
			metrics.DuplicateMessages.WithLabelValues(string(t.ev.Channel)).Inc()
			return
		}
		if err := r.store.IncrementUnread(ctx, res.Conversation.ID); err != nil {
			r.logger.Error("increment unread failed", slog.String("error", err.Error()))
		}
	}

	action := routing.TableFor(integ.AutomationFamily).
		Next(routing.State(res.Conversation.State), routing.ClassifyInput(t.ev.Kind))
	mu.Unlock()

	next := action.Next
	switch action.Handler {
	case routing.HandlerGreeting:
		r.runGreeting(ctx, integ, res)
	case routing.HandlerScript:
		next = r.runScript(ctx, integ, res, t.ev, action)
	}

	if string(next) != res.Conversation.State {
		mu = r.locks.lock(res.Conversation.ID)
		if err := r.store.SetState(ctx, res.Conversation.ID, string(next)); err != nil {
			r.logger.Error("persist state failed",
				slog.String("conversation_id", res.Conversation.ID),
				slog.String("error", err.Error()))
		}
		mu.Unlock()
	}

	if persisted {
		r.deliver.NotifyInbound(ctx, res.Conversation, stored, res.Contact.Name)
	}
}

func (r *Router) lookupIntegration(ctx context.Context, t task) (store.Integration, error) {
	if t.integrationID != "" {
		return r.store.GetIntegration(ctx, t.integrationID)
	}
	return r.store.FindIntegrationByPhoneNumber(ctx, string(t.ev.Channel), t.ev.PhoneNumberID)
}

// runGreeting sends the tenant's greeting template. Failures are logged and
// the transition still happens; the contact's message is already stored.
func (r *Router) runGreeting(ctx context.Context, integ store.Integration, res identity.Result) {
	tmpl, err := r.store.GetTemplateByName(ctx, integ.TenantID, "greeting")
	if err != nil {
		r.logger.Warn("tenant has no greeting template",
			slog.String("tenant_id", integ.TenantID))
		return
	}
	tenant, err := r.store.GetTenant(ctx, integ.TenantID)
	if err != nil {
		r.logger.Error("load tenant failed", slog.String("error", err.Error()))
		return
	}
	body := r.renderer.Render(tmpl.Body, nil, map[string]string{
		"contact.name": res.Contact.Name,
		"company.name": tenant.Name,
		"date":         time.Now().Format("2006-01-02"),
	})
	_, err = r.deliver.Deliver(ctx, res.Conversation.ID, "", channel.OutboundMessage{
		Kind: channel.KindText,
		Body: body,
	})
	if err != nil {
		r.logger.Error("greeting send failed",
			slog.String("conversation_id", res.Conversation.ID),
			slog.String("error", err.Error()))
	}
}

// runScript executes the integration's automation script and applies its
// staged mutations. A fault or timeout leaves the conversation exactly
// where it was.
func (r *Router) runScript(ctx context.Context, integ store.Integration, res identity.Result,
	ev channel.InboundEvent, action routing.Action) routing.State {
	current := routing.Normalize(routing.State(res.Conversation.State))

	if integ.BotUserID == "" || r.runner == nil {
		return routing.StateAttending
	}
	script, err := r.store.GetScriptByBotUser(ctx, integ.TenantID, integ.BotUserID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Error("load script failed", slog.String("error", err.Error()))
		}
		return routing.StateAttending
	}

	outcome, err := r.runner.Run(ctx, script, sandbox.Event{
		ConversationID: res.Conversation.ID,
		ContactID:      res.Contact.ID,
		ContactName:    res.Contact.Name,
		Address:        res.Contact.Address,
		Kind:           string(ev.Kind),
		Body:           ev.Body,
		State:          string(current),
		Latitude:       ev.Latitude,
		Longitude:      ev.Longitude,
	})
	if err != nil {
		r.logger.Warn("script run failed",
			slog.String("script", script.Name),
			slog.String("conversation_id", res.Conversation.ID),
			slog.String("error", err.Error()))
		return current
	}

	next := action.Next
	if outcome.StateSet {
		next = routing.Normalize(routing.State(outcome.NextState))
	}
	if outcome.AssignSet && outcome.AssignUserID != res.Conversation.ResponsibleUserID {
		old := res.Conversation.ResponsibleUserID
		if err := r.store.AssignResponsible(ctx, res.Conversation.ID, outcome.AssignUserID); err != nil {
			r.logger.Error("script assignment failed", slog.String("error", err.Error()))
		} else {
			r.deliver.NotifyAssignment(ctx, res.Conversation, old, outcome.AssignUserID)
		}
	}
	return next
}
