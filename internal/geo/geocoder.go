// Package geo resolves addresses and coordinates through Nominatim, with
// results cached in Redis.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/botixhq/botix/internal/cache"
	"github.com/botixhq/botix/internal/config"
)

const cacheTTL = 24 * time.Hour

// Place is a resolved location.
type Place struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	DisplayName string  `json:"display_name"`
}

type Geocoder struct {
	baseURL    string
	httpClient *http.Client
	cache      *cache.Cache
	logger     *slog.Logger
}

func New(log *slog.Logger, cfg config.GeocodeConfig, c *cache.Cache) *Geocoder {
	return &Geocoder{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      c,
		logger:     log.With(slog.String("service", "geo")),
	}
}

// Forward resolves a free-text address to coordinates.
func (g *Geocoder) Forward(ctx context.Context, address string) (Place, error) {
	key := "geo:fwd:" + address
	var cached Place
	if hit, err := g.cache.GetJSON(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}

	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")

	var results []struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
	if err := g.get(ctx, "/search?"+q.Encode(), &results); err != nil {
		return Place{}, err
	}
	if len(results) == 0 {
		return Place{}, fmt.Errorf("no result for address %q", address)
	}

	lat, _ := strconv.ParseFloat(results[0].Lat, 64)
	lon, _ := strconv.ParseFloat(results[0].Lon, 64)
	place := Place{Latitude: lat, Longitude: lon, DisplayName: results[0].DisplayName}

	if err := g.cache.SetJSON(ctx, key, place, cacheTTL); err != nil {
		g.logger.Warn("geocode cache write failed", slog.String("error", err.Error()))
	}
	return place, nil
}

// Reverse resolves coordinates to a display name.
func (g *Geocoder) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	key := fmt.Sprintf("geo:rev:%.5f:%.5f", lat, lon)
	var cached Place
	if hit, err := g.cache.GetJSON(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("format", "json")

	var result struct {
		DisplayName string `json:"display_name"`
	}
	if err := g.get(ctx, "/reverse?"+q.Encode(), &result); err != nil {
		return Place{}, err
	}

	place := Place{Latitude: lat, Longitude: lon, DisplayName: result.DisplayName}
	if err := g.cache.SetJSON(ctx, key, place, cacheTTL); err != nil {
		g.logger.Warn("geocode cache write failed", slog.String("error", err.Error()))
	}
	return place, nil
}

func (g *Geocoder) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("User-Agent", "botix/1.0")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("geocode status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read geocode response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode geocode response: %w", err)
	}
	return nil
}
