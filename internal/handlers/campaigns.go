package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/botixhq/botix/internal/auth"
	"github.com/botixhq/botix/internal/store"
)

// CampaignStore loads and claims campaigns.
type CampaignStore interface {
	GetCampaign(ctx context.Context, id string) (store.Campaign, error)
	ClaimCampaign(ctx context.Context, id string) (bool, error)
}

// CampaignRunner executes a claimed campaign.
type CampaignRunner interface {
	Run(ctx context.Context, c store.Campaign)
}

type CampaignHandler struct {
	store  CampaignStore
	runner CampaignRunner
	logger *slog.Logger
}

func NewCampaignHandler(log *slog.Logger, st CampaignStore, runner CampaignRunner) *CampaignHandler {
	return &CampaignHandler{
		store:  st,
		runner: runner,
		logger: log.With(slog.String("handler", "campaigns")),
	}
}

func (h *CampaignHandler) Register(e *echo.Echo) {
	g := e.Group("/campaigns")
	g.GET("/:id", h.Get)
	g.POST("/:id/run", h.Run)
}

func (h *CampaignHandler) load(c echo.Context) (store.Campaign, error) {
	ident, err := auth.IdentityFromContext(c)
	if err != nil {
		return store.Campaign{}, err
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return store.Campaign{}, echo.NewHTTPError(http.StatusBadRequest, "campaign id is required")
	}
	campaign, err := h.store.GetCampaign(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Campaign{}, echo.NewHTTPError(http.StatusNotFound, "campaign not found")
		}
		return store.Campaign{}, err
	}
	if campaign.TenantID != ident.TenantID {
		return store.Campaign{}, echo.NewHTTPError(http.StatusNotFound, "campaign not found")
	}
	return campaign, nil
}

func (h *CampaignHandler) Get(c echo.Context) error {
	campaign, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, campaign)
}

// Run starts the campaign immediately instead of waiting for the scheduler
// sweep. The send itself still runs in the background.
func (h *CampaignHandler) Run(c echo.Context) error {
	campaign, err := h.load(c)
	if err != nil {
		return err
	}
	claimed, err := h.store.ClaimCampaign(c.Request().Context(), campaign.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return echo.NewHTTPError(http.StatusConflict, "campaign is not pending")
	}
	go h.runner.Run(context.WithoutCancel(c.Request().Context()), campaign)
	return c.JSON(http.StatusAccepted, map[string]string{"status": store.CampaignRunning})
}
