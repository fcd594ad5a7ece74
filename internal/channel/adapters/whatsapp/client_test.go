package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/botixhq/botix/internal/channel"
	"github.com/botixhq/botix/internal/config"
)

func TestSendText(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.new"}},
		})
	}))
	defer srv.Close()

	a := New(slog.Default(), config.WhatsAppConfig{BaseURL: srv.URL, APIVersion: "v19.0"})
	acct := channel.Account{PhoneNumberID: "pn-1", AccessToken: "tok"}

	id, err := a.Send(context.Background(), acct, "15550001",
		channel.OutboundMessage{Kind: channel.KindText, Body: "hola"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "wamid.new" {
		t.Fatalf("external id: %q", id)
	}
	if gotPath != "/v19.0/pn-1/messages" {
		t.Fatalf("path: %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("authorization: %q", gotAuth)
	}
	if gotPayload["type"] != "text" || gotPayload["to"] != "15550001" {
		t.Fatalf("payload: %v", gotPayload)
	}
}

func TestSendGraphErrorWrapsSendFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid recipient", "code": 131026},
		})
	}))
	defer srv.Close()

	a := New(slog.Default(), config.WhatsAppConfig{BaseURL: srv.URL, APIVersion: "v19.0"})
	_, err := a.Send(context.Background(), channel.Account{PhoneNumberID: "pn-1"}, "bad",
		channel.OutboundMessage{Kind: channel.KindText, Body: "x"})
	if !errors.Is(err, channel.ErrSendFailure) {
		t.Fatalf("want ErrSendFailure, got %v", err)
	}
}

func TestBuildPayloadPerKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  channel.OutboundMessage
		want map[string]any
	}{
		{
			name: "image with caption",
			msg:  channel.OutboundMessage{Kind: channel.KindImage, MediaURL: "https://cdn/x.jpg", Body: "pic"},
			want: map[string]any{"type": "image", "image": map[string]any{"link": "https://cdn/x.jpg", "caption": "pic"}},
		},
		{
			name: "audio has no caption",
			msg:  channel.OutboundMessage{Kind: channel.KindAudio, MediaURL: "https://cdn/a.ogg", Body: "ignored"},
			want: map[string]any{"type": "audio", "audio": map[string]any{"link": "https://cdn/a.ogg"}},
		},
		{
			name: "document with filename",
			msg:  channel.OutboundMessage{Kind: channel.KindDocument, MediaURL: "https://cdn/d.pdf", Filename: "invoice.pdf"},
			want: map[string]any{"type": "document", "document": map[string]any{"link": "https://cdn/d.pdf", "filename": "invoice.pdf"}},
		},
		{
			name: "location with name",
			msg:  channel.OutboundMessage{Kind: channel.KindLocation, Latitude: 40.4, Longitude: -3.7, Body: "HQ"},
			want: map[string]any{"type": "location", "location": map[string]any{"latitude": 40.4, "longitude": -3.7, "name": "HQ"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := buildPayload("15550001", tt.msg)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			for k, want := range tt.want {
				gotJSON, _ := json.Marshal(got[k])
				wantJSON, _ := json.Marshal(want)
				if string(gotJSON) != string(wantJSON) {
					t.Fatalf("%s: got %s, want %s", k, gotJSON, wantJSON)
				}
			}
		})
	}
}

func TestBuildPayloadTemplate(t *testing.T) {
	t.Parallel()

	got, err := buildPayload("15550001", channel.OutboundMessage{
		Kind:     channel.KindTemplate,
		Template: &channel.Template{Name: "promo", Params: []string{"Ana", "20%"}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	raw, _ := json.Marshal(got["template"])
	var tmpl struct {
		Name       string `json:"name"`
		Components []struct {
			Type       string `json:"type"`
			Parameters []struct {
				Text string `json:"text"`
			} `json:"parameters"`
		} `json:"components"`
	}
	if err := json.Unmarshal(raw, &tmpl); err != nil {
		t.Fatalf("unmarshal template: %v", err)
	}
	if tmpl.Name != "promo" {
		t.Fatalf("template name: %q", tmpl.Name)
	}
	if len(tmpl.Components) != 1 || len(tmpl.Components[0].Parameters) != 2 {
		t.Fatalf("components: %+v", tmpl.Components)
	}
	if tmpl.Components[0].Parameters[1].Text != "20%" {
		t.Fatalf("second parameter: %q", tmpl.Components[0].Parameters[1].Text)
	}
}

func TestBuildPayloadRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := buildPayload("15550001", channel.OutboundMessage{Kind: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if _, err := buildPayload("15550001", channel.OutboundMessage{Kind: channel.KindTemplate}); err == nil {
		t.Fatal("expected error for template message without reference")
	}
}
