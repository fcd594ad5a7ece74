// Package campaign runs batch template sends to contact lists.
package campaign

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/botixhq/botix/internal/channel"
	"github.com/botixhq/botix/internal/identity"
	"github.com/botixhq/botix/internal/metrics"
	"github.com/botixhq/botix/internal/store"
	"github.com/botixhq/botix/internal/template"
)

const (
	batchSize  = 20
	batchPause = 2 * time.Second
)

// Store is the repository subset campaigns need.
type Store interface {
	GetCampaign(ctx context.Context, id string) (store.Campaign, error)
	ListPendingCampaigns(ctx context.Context) ([]store.Campaign, error)
	ClaimCampaign(ctx context.Context, id string) (bool, error)
	FinishCampaign(ctx context.Context, id string, sent, failed int) error
	ListCampaignTargets(ctx context.Context, campaignID string) ([]store.CampaignTarget, error)
	GetTemplate(ctx context.Context, id string) (store.Template, error)
	GetTenant(ctx context.Context, id string) (store.Tenant, error)
	GetContact(ctx context.Context, id string) (store.Contact, error)
	ListAgents(ctx context.Context, tenantID string) ([]store.User, error)
	AssignResponsible(ctx context.Context, conversationID, userID string) error
}

// Resolver opens the conversation a campaign message lands in.
type Resolver interface {
	Resolve(ctx context.Context, tenantID, integrationID, address, profileName string) (identity.Result, error)
}

// Deliverer sends the message on the campaign's channel.
type Deliverer interface {
	Deliver(ctx context.Context, conversationID, senderUserID string, msg channel.OutboundMessage) (store.OutboundReply, error)
}

type Service struct {
	store    Store
	resolver Resolver
	deliver  Deliverer
	renderer *template.Renderer
	cron     *cron.Cron
	logger   *slog.Logger
	baseCtx  context.Context
}

func New(log *slog.Logger, st Store, resolver Resolver, deliver Deliverer, renderer *template.Renderer) *Service {
	return &Service{
		store:    st,
		resolver: resolver,
		deliver:  deliver,
		renderer: renderer,
		cron:     cron.New(),
		logger:   log.With(slog.String("service", "campaign")),
	}
}

// Start schedules the pending-campaign sweep.
func (s *Service) Start(ctx context.Context) error {
	s.baseCtx = ctx
	if _, err := s.cron.AddFunc("@every 1m", s.tick); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Service) tick() {
	ctx := s.baseCtx
	pending, err := s.store.ListPendingCampaigns(ctx)
	if err != nil {
		s.logger.Error("list pending campaigns", slog.String("error", err.Error()))
		return
	}
	for _, c := range pending {
		claimed, err := s.store.ClaimCampaign(ctx, c.ID)
		if err != nil {
			s.logger.Error("claim campaign", slog.String("error", err.Error()))
			continue
		}
		if !claimed {
			continue
		}
		go s.Run(ctx, c)
	}
}

// Run sends the campaign's template to every target in paced batches. One
// failing contact never stops the batch; failures are counted and the
// campaign finishes regardless.
func (s *Service) Run(ctx context.Context, c store.Campaign) {
	targets, err := s.store.ListCampaignTargets(ctx, c.ID)
	if err != nil {
		s.logger.Error("list campaign targets",
			slog.String("campaign_id", c.ID),
			slog.String("error", err.Error()))
		return
	}
	tmpl, err := s.store.GetTemplate(ctx, c.TemplateID)
	if err != nil {
		s.logger.Error("load campaign template",
			slog.String("campaign_id", c.ID),
			slog.String("error", err.Error()))
		return
	}
	agents, err := s.store.ListAgents(ctx, c.TenantID)
	if err != nil {
		s.logger.Warn("list agents for campaign",
			slog.String("campaign_id", c.ID),
			slog.String("error", err.Error()))
	}
	var companyName string
	if tenant, err := s.store.GetTenant(ctx, c.TenantID); err == nil {
		companyName = tenant.Name
	}

	var sent, failed int
	for i, target := range targets {
		if i > 0 && i%batchSize == 0 {
			select {
			case <-time.After(batchPause):
			case <-ctx.Done():
				s.logger.Warn("campaign interrupted", slog.String("campaign_id", c.ID))
				return
			}
		}
		var assignee store.User
		if len(agents) > 0 {
			assignee = agents[sent%len(agents)]
		}
		if err := s.sendOne(ctx, c, tmpl, target, assignee, companyName); err != nil {
			failed++
			metrics.CampaignSends.WithLabelValues("error").Inc()
			s.logger.Warn("campaign send failed",
				slog.String("campaign_id", c.ID),
				slog.String("contact_id", target.ContactID),
				slog.String("error", err.Error()))
			continue
		}
		sent++
		metrics.CampaignSends.WithLabelValues("ok").Inc()
	}

	if err := s.store.FinishCampaign(ctx, c.ID, sent, failed); err != nil {
		s.logger.Error("finish campaign", slog.String("error", err.Error()))
	}
	s.logger.Info("campaign finished",
		slog.String("campaign_id", c.ID),
		slog.Int("sent", sent),
		slog.Int("failed", failed))
}

// sendOne resolves the target's conversation, rotates responsibility onto
// assignee, and sends the template. Params may reference variable sources
// like {{contact.name}}; they are resolved per contact before the send.
func (s *Service) sendOne(ctx context.Context, c store.Campaign, tmpl store.Template, target store.CampaignTarget, assignee store.User, companyName string) error {
	contact, err := s.store.GetContact(ctx, target.ContactID)
	if err != nil {
		return err
	}
	res, err := s.resolver.Resolve(ctx, c.TenantID, c.IntegrationID, contact.Address, contact.Name)
	if err != nil {
		return err
	}
	if assignee.ID != "" && assignee.ID != res.Conversation.ResponsibleUserID {
		if err := s.store.AssignResponsible(ctx, res.Conversation.ID, assignee.ID); err != nil {
			s.logger.Warn("campaign assignment failed",
				slog.String("conversation_id", res.Conversation.ID),
				slog.String("error", err.Error()))
		}
	}

	vars := map[string]string{
		"contact.name": contact.Name,
		"company.name": companyName,
		"user.name":    assignee.Name,
		"date":         time.Now().Format("2006-01-02"),
	}
	params := make([]string, len(target.Params))
	for i, p := range target.Params {
		params[i] = s.renderer.Render(p, nil, vars)
	}
	_, err = s.deliver.Deliver(ctx, res.Conversation.ID, "", channel.OutboundMessage{
		Kind: channel.KindTemplate,
		Template: &channel.Template{
			Name:   tmpl.Name,
			Params: params,
		},
	})
	return err
}
