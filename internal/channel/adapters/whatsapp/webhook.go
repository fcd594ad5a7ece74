package whatsapp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/botixhq/botix/internal/channel"
)

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []webhookMessage `json:"messages"`
				Statuses []struct {
					ID        string `json:"id"`
					Status    string `json:"status"`
					Timestamp string `json:"timestamp"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *mediaRef `json:"image"`
	Audio    *mediaRef `json:"audio"`
	Video    *mediaRef `json:"video"`
	Document *mediaRef `json:"document"`
	Sticker  *mediaRef `json:"sticker"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name"`
	} `json:"location"`
	Button *struct {
		Text string `json:"text"`
	} `json:"button"`
	Interactive *struct {
		ButtonReply *struct {
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Reaction *struct {
		Emoji     string `json:"emoji"`
		MessageID string `json:"message_id"`
	} `json:"reaction"`
}

type mediaRef struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
}

// DecodeWebhook normalizes a Cloud API change notification into inbound and
// status events. Unknown message types are skipped rather than failing the
// whole batch.
func (a *Adapter) DecodeWebhook(body []byte) ([]channel.InboundEvent, []channel.StatusEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	if payload.Object != "whatsapp_business_account" {
		return nil, nil, fmt.Errorf("unexpected webhook object %q", payload.Object)
	}

	var (
		inbound  []channel.InboundEvent
		statuses []channel.StatusEvent
	)
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			names := make(map[string]string, len(value.Contacts))
			for _, c := range value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range value.Messages {
				ev, ok := normalizeMessage(m)
				if !ok {
					continue
				}
				ev.PhoneNumberID = value.Metadata.PhoneNumberID
				ev.ProfileName = names[m.From]
				inbound = append(inbound, ev)
			}
			for _, s := range value.Statuses {
				statuses = append(statuses, channel.StatusEvent{
					Channel:       channel.TypeWhatsApp,
					PhoneNumberID: value.Metadata.PhoneNumberID,
					ExternalID:    s.ID,
					Status:        s.Status,
					Timestamp:     parseUnix(s.Timestamp),
				})
			}
		}
	}
	return inbound, statuses, nil
}

func normalizeMessage(m webhookMessage) (channel.InboundEvent, bool) {
	ev := channel.InboundEvent{
		Channel:    channel.TypeWhatsApp,
		ExternalID: m.ID,
		From:       m.From,
		Timestamp:  parseUnix(m.Timestamp),
	}
	switch m.Type {
	case "text":
		ev.Kind = channel.KindText
		if m.Text != nil {
			ev.Body = m.Text.Body
		}
	case "image", "audio", "video", "document", "sticker":
		ev.Kind = channel.MessageKind(m.Type)
		if ref := m.mediaByType(); ref != nil {
			// Cloud API delivers media ids, not links; resolution to
			// a download URL happens on demand.
			ev.MediaURL = ref.ID
			ev.Body = ref.Caption
		}
	case "location":
		ev.Kind = channel.KindLocation
		if m.Location != nil {
			lat, lng := m.Location.Latitude, m.Location.Longitude
			ev.Latitude = &lat
			ev.Longitude = &lng
			ev.Body = m.Location.Name
		}
	case "button":
		ev.Kind = channel.KindButton
		if m.Button != nil {
			ev.Body = m.Button.Text
		}
	case "interactive":
		ev.Kind = channel.KindButton
		if m.Interactive != nil {
			switch {
			case m.Interactive.ButtonReply != nil:
				ev.Body = m.Interactive.ButtonReply.Title
			case m.Interactive.ListReply != nil:
				ev.Body = m.Interactive.ListReply.Title
			}
		}
	case "reaction":
		ev.Kind = channel.KindReaction
		if m.Reaction != nil {
			ev.Body = m.Reaction.Emoji
		}
	default:
		return channel.InboundEvent{}, false
	}
	ev.Storage = ev.Kind.Class()
	return ev, true
}

func (m webhookMessage) mediaByType() *mediaRef {
	switch m.Type {
	case "image":
		return m.Image
	case "audio":
		return m.Audio
	case "video":
		return m.Video
	case "document":
		return m.Document
	case "sticker":
		return m.Sticker
	}
	return nil
}

func parseUnix(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}
