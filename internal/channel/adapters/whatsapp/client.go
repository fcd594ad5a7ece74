// Package whatsapp implements the channel adapter for the WhatsApp Cloud
// API (Graph).
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/botixhq/botix/internal/channel"
	"github.com/botixhq/botix/internal/config"
)

type Adapter struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(log *slog.Logger, cfg config.WhatsAppConfig) *Adapter {
	return &Adapter{
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.With(slog.String("adapter", "whatsapp")),
	}
}

func (a *Adapter) Type() channel.Type { return channel.TypeWhatsApp }

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send posts a message to the Cloud API and returns the wamid it assigns.
func (a *Adapter) Send(ctx context.Context, acct channel.Account, to string, msg channel.OutboundMessage) (string, error) {
	payload, err := buildPayload(to, msg)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal send payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", a.baseURL, a.apiVersion, acct.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+acct.AccessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", channel.ErrSendFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", channel.ErrSendFailure, err)
	}

	var parsed sendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", channel.ErrSendFailure, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := "unknown error"
		if parsed.Error != nil {
			detail = parsed.Error.Message
		}
		a.logger.Warn("graph send rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("detail", detail))
		return "", fmt.Errorf("%w: graph status %d: %s", channel.ErrSendFailure, resp.StatusCode, detail)
	}
	if len(parsed.Messages) == 0 {
		return "", fmt.Errorf("%w: response carried no message id", channel.ErrSendFailure)
	}
	return parsed.Messages[0].ID, nil
}

func buildPayload(to string, msg channel.OutboundMessage) (map[string]any, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
	}
	switch msg.Kind {
	case channel.KindText:
		payload["type"] = "text"
		payload["text"] = map[string]any{"body": msg.Body}
	case channel.KindImage, channel.KindVideo, channel.KindAudio, channel.KindSticker:
		kind := string(msg.Kind)
		payload["type"] = kind
		media := map[string]any{"link": msg.MediaURL}
		if msg.Body != "" && msg.Kind != channel.KindAudio && msg.Kind != channel.KindSticker {
			media["caption"] = msg.Body
		}
		payload[kind] = media
	case channel.KindDocument:
		payload["type"] = "document"
		doc := map[string]any{"link": msg.MediaURL}
		if msg.Filename != "" {
			doc["filename"] = msg.Filename
		}
		if msg.Body != "" {
			doc["caption"] = msg.Body
		}
		payload["document"] = doc
	case channel.KindLocation:
		payload["type"] = "location"
		loc := map[string]any{
			"latitude":  msg.Latitude,
			"longitude": msg.Longitude,
		}
		if msg.Body != "" {
			loc["name"] = msg.Body
		}
		payload["location"] = loc
	case channel.KindTemplate:
		if msg.Template == nil {
			return nil, fmt.Errorf("template message without template reference")
		}
		params := make([]map[string]any, 0, len(msg.Template.Params))
		for _, p := range msg.Template.Params {
			params = append(params, map[string]any{"type": "text", "text": p})
		}
		payload["type"] = "template"
		payload["template"] = map[string]any{
			"name":     msg.Template.Name,
			"language": map[string]any{"code": "en"},
			"components": []map[string]any{
				{"type": "body", "parameters": params},
			},
		}
	default:
		return nil, fmt.Errorf("unsupported outbound kind %q", msg.Kind)
	}
	return payload, nil
}
