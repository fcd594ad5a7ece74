package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/botixhq/botix/internal/cache"
	"github.com/botixhq/botix/internal/campaign"
	"github.com/botixhq/botix/internal/channel"
	"github.com/botixhq/botix/internal/channel/adapters/internalchat"
	"github.com/botixhq/botix/internal/channel/adapters/whatsapp"
	"github.com/botixhq/botix/internal/config"
	"github.com/botixhq/botix/internal/db"
	"github.com/botixhq/botix/internal/dispatch"
	"github.com/botixhq/botix/internal/geo"
	"github.com/botixhq/botix/internal/handlers"
	"github.com/botixhq/botix/internal/identity"
	"github.com/botixhq/botix/internal/logger"
	"github.com/botixhq/botix/internal/push"
	"github.com/botixhq/botix/internal/realtime"
	"github.com/botixhq/botix/internal/router"
	"github.com/botixhq/botix/internal/sandbox"
	"github.com/botixhq/botix/internal/server"
	"github.com/botixhq/botix/internal/store"
	"github.com/botixhq/botix/internal/template"
	"github.com/botixhq/botix/migrations"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideStore,
			provideCache,
			providePush,
			realtime.NewHub,
			provideRegistry,
			template.NewRenderer,
			provideGeocoder,
			provideResolver,
			provideDispatcher,
			provideRouter,
			provideSandboxRunner,
			provideCampaignService,
			providePingHandler,
			provideWebhookHandler,
			provideConversationHandler,
			provideCampaignHandler,
			handlers.NewRealtimeHandler,
			handlers.NewMetricsHandler,
			provideServer,
		),
		fx.Invoke(
			startRouter,
			startCampaigns,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := db.ApplyMigrations(ctx, conn, migrations.Files); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideStore(log *slog.Logger, conn *pgxpool.Pool) *store.Store {
	return store.New(log, conn)
}

func provideCache(lc fx.Lifecycle, cfg config.Config) *cache.Cache {
	c := cache.New(cfg.Redis)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return c.Close() }})
	return c
}

func providePush(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (push.Publisher, error) {
	if cfg.Push.URL == "" {
		return push.Fallback{Logger: log}, nil
	}
	pub, err := push.Dial(log, cfg.Push.URL, cfg.Push.Exchange)
	if err != nil {
		return nil, fmt.Errorf("push broker: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return pub.Close() }})
	return pub, nil
}

func provideRegistry(log *slog.Logger, cfg config.Config, hub *realtime.Hub) (*channel.Registry, error) {
	registry := channel.NewRegistry()
	if err := registry.Register(whatsapp.New(log, cfg.WhatsApp)); err != nil {
		return nil, err
	}
	if err := registry.Register(internalchat.New(log, hub)); err != nil {
		return nil, err
	}
	return registry, nil
}

func provideGeocoder(log *slog.Logger, cfg config.Config, c *cache.Cache) *geo.Geocoder {
	return geo.New(log, cfg.Geocode, c)
}

func provideResolver(log *slog.Logger, st *store.Store) *identity.Resolver {
	return identity.NewResolver(log, st)
}

func provideDispatcher(log *slog.Logger, st *store.Store, registry *channel.Registry, hub *realtime.Hub, pub push.Publisher, renderer *template.Renderer) *dispatch.Dispatcher {
	return dispatch.New(log, st, registry, hub, pub, renderer)
}

func provideRouter(log *slog.Logger, cfg config.Config, st *store.Store, resolver *identity.Resolver, disp *dispatch.Dispatcher, c *cache.Cache, geocoder *geo.Geocoder, renderer *template.Renderer, registry *channel.Registry) *router.Router {
	return router.New(log, cfg.Router, st, resolver, disp, c, geocoder, renderer, registry)
}

func provideSandboxRunner(log *slog.Logger, cfg config.Config, rt *router.Router) *sandbox.Runner {
	return sandbox.NewRunner(log, cfg.Sandbox, router.NewHost(rt))
}

func provideCampaignService(log *slog.Logger, st *store.Store, resolver *identity.Resolver, disp *dispatch.Dispatcher, renderer *template.Renderer) *campaign.Service {
	return campaign.New(log, st, resolver, disp, renderer)
}

func providePingHandler(log *slog.Logger, st *store.Store, c *cache.Cache) *handlers.PingHandler {
	return handlers.NewPingHandler(log, st, c)
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, rt *router.Router) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, rt, cfg.WhatsApp.VerifyToken)
}

func provideConversationHandler(log *slog.Logger, st *store.Store, rt *router.Router) *handlers.ConversationHandler {
	return handlers.NewConversationHandler(log, st, rt)
}

func provideCampaignHandler(log *slog.Logger, st *store.Store, svc *campaign.Service) *handlers.CampaignHandler {
	return handlers.NewCampaignHandler(log, st, svc)
}

func provideServer(log *slog.Logger, cfg config.Config, pingHandler *handlers.PingHandler, webhookHandler *handlers.WebhookHandler, conversationHandler *handlers.ConversationHandler, campaignHandler *handlers.CampaignHandler, realtimeHandler *handlers.RealtimeHandler, metricsHandler *handlers.MetricsHandler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, cfg.Auth.JWTSecret, pingHandler, webhookHandler, conversationHandler, campaignHandler, realtimeHandler, metricsHandler)
}

func startRouter(lc fx.Lifecycle, rt *router.Router, runner *sandbox.Runner) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			rt.SetRunner(runner)
			rt.Start(ctx)
			return nil
		},
		OnStop: func(_ context.Context) error {
			rt.Stop()
			cancel()
			return nil
		},
	})
}

func startCampaigns(lc fx.Lifecycle, svc *campaign.Service) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { return svc.Start(ctx) },
		OnStop: func(_ context.Context) error {
			svc.Stop()
			cancel()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
