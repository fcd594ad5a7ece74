// Package router is the inbound pipeline: it acks webhooks, resolves
// identities, walks the state machine and hands messages to their handlers.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/botixhq/botix/internal/channel"
	"github.com/botixhq/botix/internal/config"
	"github.com/botixhq/botix/internal/geo"
	"github.com/botixhq/botix/internal/identity"
	"github.com/botixhq/botix/internal/sandbox"
	"github.com/botixhq/botix/internal/store"
	"github.com/botixhq/botix/internal/template"
)

// ErrQueueFull is returned when the inbound queue cannot absorb more
// events. The webhook still acks; the channel redelivers later.
var ErrQueueFull = errors.New("router: queue full")

// ErrStopped is returned for events that arrive after shutdown began.
var ErrStopped = errors.New("router: stopped")

// Store is the repository subset the router needs.
type Store interface {
	GetIntegration(ctx context.Context, id string) (store.Integration, error)
	FindIntegrationByPhoneNumber(ctx context.Context, channelType, phoneNumberID string) (store.Integration, error)
	InsertInbound(ctx context.Context, m store.InboundMessage) (store.InboundMessage, bool, error)
	IncrementUnread(ctx context.Context, id string) error
	ResetUnread(ctx context.Context, id string) error
	SetState(ctx context.Context, id, state string) error
	AssignResponsible(ctx context.Context, id, userID string) error
	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	GetContact(ctx context.Context, id string) (store.Contact, error)
	GetContactByAddress(ctx context.Context, tenantID, address string) (store.Contact, error)
	InsertContact(ctx context.Context, tenantID, address, name string) (store.Contact, bool, error)
	UpdateContact(ctx context.Context, id, name string, metadata map[string]string) error
	GetScriptByBotUser(ctx context.Context, tenantID, botUserID string) (store.AutomationScript, error)
	GetTemplateByName(ctx context.Context, tenantID, name string) (store.Template, error)
	GetTenant(ctx context.Context, id string) (store.Tenant, error)
	UpdateReplyStatus(ctx context.Context, tenantID, externalID, status string) error
}

// Resolver maps channel addresses to contacts and conversations.
type Resolver interface {
	Resolve(ctx context.Context, tenantID, integrationID, address, profileName string) (identity.Result, error)
}

// Deliverer sends outbound messages and fans events out to agents.
type Deliverer interface {
	Deliver(ctx context.Context, conversationID, senderUserID string, msg channel.OutboundMessage) (store.OutboundReply, error)
	NotifyInbound(ctx context.Context, conv store.Conversation, m store.InboundMessage, contactName string)
	NotifyAssignment(ctx context.Context, conv store.Conversation, oldUserID, newUserID string)
	NotifyRead(ctx context.Context, conv store.Conversation)
}

// Deduper is the idempotency fast path. The database unique constraint
// backs it up.
type Deduper interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Geocoder resolves locations for scripts.
type Geocoder interface {
	Forward(ctx context.Context, address string) (geo.Place, error)
	Reverse(ctx context.Context, lat, lon float64) (geo.Place, error)
}

// ScriptRunner executes automation scripts.
type ScriptRunner interface {
	Run(ctx context.Context, script store.AutomationScript, ev sandbox.Event) (sandbox.Outcome, error)
}

// task is one queued inbound event. integrationID is pre-resolved for
// synthetic reentry events; webhook events resolve it from the payload.
type task struct {
	ev            channel.InboundEvent
	integrationID string
}

// shardKey pins every event from one sender on one number to the same
// worker, so a conversation is only ever handled by a single goroutine.
func (t task) shardKey() string {
	return string(t.ev.Channel) + "/" + t.ev.PhoneNumberID + "/" + t.ev.From
}

type Router struct {
	store    Store
	resolver Resolver
	deliver  Deliverer
	dedup    Deduper
	runner   ScriptRunner
	geocoder Geocoder
	renderer *template.Renderer
	registry *channel.Registry
	logger   *slog.Logger

	locks  keyLocks
	queues []chan task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(log *slog.Logger, cfg config.RouterConfig, st Store, resolver Resolver,
	deliver Deliverer, dedup Deduper, geocoder Geocoder,
	renderer *template.Renderer, registry *channel.Registry) *Router {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	queues := make([]chan task, workers)
	for i := range queues {
		queues[i] = make(chan task, queueSize)
	}
	return &Router{
		store:    st,
		resolver: resolver,
		deliver:  deliver,
		dedup:    dedup,
		geocoder: geocoder,
		renderer: renderer,
		registry: registry,
		logger:   log.With(slog.String("service", "router")),
		queues:   queues,
	}
}

// SetRunner attaches the script runner. The runner's host calls back into
// the router, so it is built after the router and attached before Start.
func (r *Router) SetRunner(runner ScriptRunner) {
	r.runner = runner
}

// Start launches one worker per queue. Events shard onto queues by sender,
// so everything a conversation receives is handled in arrival order.
func (r *Router) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	for _, q := range r.queues {
		r.wg.Add(1)
		go func(q chan task) {
			defer r.wg.Done()
			for {
				select {
				case t := <-q:
					r.process(r.ctx, t)
				case <-r.ctx.Done():
					return
				}
			}
		}(q)
	}
	r.logger.Info("router started", slog.Int("workers", len(r.queues)))
}

// Stop cancels the workers and waits for in-flight events. The queues are
// never closed: a status goroutine or script reentry racing shutdown gets
// ErrStopped instead of a send on a closed channel.
func (r *Router) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// HandleWebhook decodes a raw webhook body and enqueues its events. It
// returns before any routing work happens so the caller can ack
// immediately.
func (r *Router) HandleWebhook(ctx context.Context, channelType channel.Type, body []byte) error {
	decoder, err := r.registry.Decoder(channelType)
	if err != nil {
		return err
	}
	inbound, statuses, err := decoder.DecodeWebhook(body)
	if err != nil {
		return fmt.Errorf("decode webhook: %w", err)
	}

	for _, ev := range inbound {
		if err := r.enqueue(task{ev: ev}); err != nil {
			r.logger.Warn("dropping inbound event",
				slog.String("external_id", ev.ExternalID),
				slog.String("error", err.Error()))
		}
	}
	for _, s := range statuses {
		go r.applyStatus(context.WithoutCancel(ctx), s)
	}
	return nil
}

func (r *Router) enqueue(t task) error {
	if r.ctx == nil || r.ctx.Err() != nil {
		return ErrStopped
	}
	q := r.queues[shardIndex(t.shardKey(), len(r.queues))]
	select {
	case q <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// applyStatus records a delivery receipt. Receipts for unknown message ids
// are dropped; they can belong to sends that predate this deployment.
func (r *Router) applyStatus(ctx context.Context, s channel.StatusEvent) {
	integ, err := r.store.FindIntegrationByPhoneNumber(ctx, string(s.Channel), s.PhoneNumberID)
	if err != nil {
		r.logger.Warn("status for unknown integration",
			slog.String("phone_number_id", s.PhoneNumberID))
		return
	}
	err = r.store.UpdateReplyStatus(ctx, integ.TenantID, s.ExternalID, s.Status)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Error("update reply status",
			slog.String("external_id", s.ExternalID),
			slog.String("error", err.Error()))
	}
}
