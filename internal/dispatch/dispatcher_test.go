package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/botixhq/botix/internal/channel"
	"github.com/botixhq/botix/internal/push"
	"github.com/botixhq/botix/internal/store"
	"github.com/botixhq/botix/internal/template"
)

type fakeStore struct {
	conversation store.Conversation
	integration  store.Integration
	contact      store.Contact
	tenant       store.Tenant
	template     store.Template
	templateErr  error
	users        map[string]store.User
	admins       []store.User

	replies []store.OutboundReply
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversation: store.Conversation{
			ID:                "v1",
			TenantID:          "t1",
			ContactID:         "c1",
			IntegrationID:     "i1",
			ResponsibleUserID: "u1",
		},
		integration: store.Integration{
			ID:            "i1",
			TenantID:      "t1",
			ChannelType:   "whatsapp",
			PhoneNumberID: "pn1",
			AccessToken:   "tok",
		},
		contact:  store.Contact{ID: "c1", TenantID: "t1", Address: "+15550001", Name: "Ana"},
		tenant:   store.Tenant{ID: "t1", Name: "Acme"},
		template: store.Template{ID: "tp1", TenantID: "t1", Name: "promo", Body: "Hola {{1}}, saludos de {{company.name}}"},
		users: map[string]store.User{
			"u1": {ID: "u1", PushToken: "pt-u1"},
			"u2": {ID: "u2", PushToken: "pt-u2"},
			"u3": {ID: "u3"},
		},
		admins: []store.User{{ID: "u2"}, {ID: "u3"}},
	}
}

func (f *fakeStore) GetConversation(context.Context, string) (store.Conversation, error) {
	return f.conversation, nil
}

func (f *fakeStore) GetIntegration(context.Context, string) (store.Integration, error) {
	return f.integration, nil
}

func (f *fakeStore) GetContact(context.Context, string) (store.Contact, error) {
	return f.contact, nil
}

func (f *fakeStore) GetUser(_ context.Context, id string) (store.User, error) {
	u, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) GetTenant(context.Context, string) (store.Tenant, error) {
	return f.tenant, nil
}

func (f *fakeStore) GetTemplateByName(context.Context, string, string) (store.Template, error) {
	if f.templateErr != nil {
		return store.Template{}, f.templateErr
	}
	return f.template, nil
}

func (f *fakeStore) InsertReply(_ context.Context, r store.OutboundReply) (store.OutboundReply, error) {
	r.ID = "r1"
	f.replies = append(f.replies, r)
	return r, nil
}

func (f *fakeStore) ListAdmins(context.Context, string) ([]store.User, error) {
	return f.admins, nil
}

type fakeSender struct {
	sent    []channel.OutboundMessage
	to      []string
	sendErr error
}

func (f *fakeSender) Type() channel.Type { return channel.TypeWhatsApp }

func (f *fakeSender) Send(_ context.Context, _ channel.Account, to string, msg channel.OutboundMessage) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, msg)
	f.to = append(f.to, to)
	return "wamid.out", nil
}

type fakeHub struct {
	mu        sync.Mutex
	connected map[string]bool
	published map[string][]any
}

func (f *fakeHub) Publish(recipientID string, event any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.published == nil {
		f.published = map[string][]any{}
	}
	f.published[recipientID] = append(f.published[recipientID], event)
}

func (f *fakeHub) Connected(recipientID string) bool {
	return f.connected[recipientID]
}

func (f *fakeHub) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id := range f.published {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type fakePush struct {
	sent []push.Notification
}

func (f *fakePush) Notify(_ context.Context, n push.Notification) error {
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakePush) Close() error { return nil }

type fixture struct {
	dispatcher *Dispatcher
	store      *fakeStore
	sender     *fakeSender
	hub        *fakeHub
	push       *fakePush
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newFakeStore()
	sender := &fakeSender{}
	hub := &fakeHub{connected: map[string]bool{}}
	pusher := &fakePush{}

	reg := channel.NewRegistry()
	if err := reg.Register(sender); err != nil {
		t.Fatalf("register adapter: %v", err)
	}
	return &fixture{
		dispatcher: New(slog.Default(), st, reg, hub, pusher, template.NewRenderer(slog.Default())),
		store:      st,
		sender:     sender,
		hub:        hub,
		push:       pusher,
	}
}

func TestDeliverRecordsReply(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	reply, err := f.dispatcher.Deliver(context.Background(), "v1", "u1",
		channel.OutboundMessage{Kind: channel.KindText, Body: "hola"})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if reply.ExternalID != "wamid.out" {
		t.Fatalf("external id: %q", reply.ExternalID)
	}
	if len(f.sender.sent) != 1 || f.sender.to[0] != "+15550001" {
		t.Fatalf("send calls: %v to %v", f.sender.sent, f.sender.to)
	}
	if len(f.store.replies) != 1 {
		t.Fatalf("recorded %d replies", len(f.store.replies))
	}
	if f.store.replies[0].SenderUserID != "u1" || f.store.replies[0].ExternalID != "wamid.out" {
		t.Fatalf("recorded reply: %+v", f.store.replies[0])
	}
}

func TestDeliverTemplateRendersBody(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	reply, err := f.dispatcher.Deliver(context.Background(), "v1", "",
		channel.OutboundMessage{
			Kind:     channel.KindTemplate,
			Template: &channel.Template{Name: "promo", Params: []string{"Ana"}},
		})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	want := "Hola Ana, saludos de Acme"
	if len(f.sender.sent) != 1 || f.sender.sent[0].Body != want {
		t.Fatalf("sent body: %q, want %q", f.sender.sent[0].Body, want)
	}
	if reply.Body != want {
		t.Fatalf("recorded body: %q", reply.Body)
	}
}

func TestDeliverTemplateMissingStillSends(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.store.templateErr = store.ErrNotFound

	_, err := f.dispatcher.Deliver(context.Background(), "v1", "",
		channel.OutboundMessage{
			Kind:     channel.KindTemplate,
			Template: &channel.Template{Name: "promo", Params: []string{"Ana"}},
		})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(f.sender.sent) != 1 || f.sender.sent[0].Body != "" {
		t.Fatalf("send calls: %+v", f.sender.sent)
	}
}

func TestDeliverSendFailureRecordsNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sender.sendErr = channel.ErrSendFailure

	_, err := f.dispatcher.Deliver(context.Background(), "v1", "u1",
		channel.OutboundMessage{Kind: channel.KindText, Body: "hola"})
	if !errors.Is(err, channel.ErrSendFailure) {
		t.Fatalf("want ErrSendFailure, got %v", err)
	}
	if len(f.store.replies) != 0 {
		t.Fatalf("recorded a reply for a failed send")
	}
	if len(f.hub.recipients()) != 0 {
		t.Fatalf("fanned out a failed send to %v", f.hub.recipients())
	}
}

func TestDeliverFanOutSkipsSender(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.hub.connected = map[string]bool{"u1": true, "u2": true, "u3": true}

	_, err := f.dispatcher.Deliver(context.Background(), "v1", "u1",
		channel.OutboundMessage{Kind: channel.KindText, Body: "hola"})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	got := f.hub.recipients()
	want := []string{"u2", "u3"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("fan-out recipients: %v, want %v", got, want)
	}
}

func TestNotifyInboundPushesWhenDisconnected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// u1 has a live socket, u2 gets a mobile push, u3 has no push token.
	f.hub.connected = map[string]bool{"u1": true}

	f.dispatcher.NotifyInbound(context.Background(), f.store.conversation,
		store.InboundMessage{ID: "m1", Kind: "text", Body: "que tal"}, "Ana")

	if got := f.hub.recipients(); len(got) != 1 || got[0] != "u1" {
		t.Fatalf("hub recipients: %v", got)
	}
	if len(f.push.sent) != 1 {
		t.Fatalf("sent %d pushes", len(f.push.sent))
	}
	n := f.push.sent[0]
	if n.Token != "pt-u2" || n.Body != "Ana: que tal" || n.ConversationID != "v1" {
		t.Fatalf("push notification: %+v", n)
	}
}

func TestNotifyInboundPreviewFallsBackToKind(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.dispatcher.NotifyInbound(context.Background(), f.store.conversation,
		store.InboundMessage{ID: "m1", Kind: "image"}, "Ana")

	if len(f.push.sent) == 0 {
		t.Fatal("no pushes sent")
	}
	if f.push.sent[0].Body != "Ana: image" {
		t.Fatalf("preview: %q", f.push.sent[0].Body)
	}
}

func TestNotifyReadReachesWatchersWithoutPush(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.dispatcher.NotifyRead(context.Background(), f.store.conversation)

	got := f.hub.recipients()
	if len(got) != 3 {
		t.Fatalf("recipients: %v", got)
	}
	if len(f.push.sent) != 0 {
		t.Fatalf("read reset triggered %d pushes", len(f.push.sent))
	}
}

func TestNotifyAssignmentReachesOldAndNew(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.dispatcher.NotifyAssignment(context.Background(), f.store.conversation, "u-old", "u-new")

	got := f.hub.recipients()
	want := []string{"u-new", "u-old", "u1", "u2", "u3"}
	if len(got) != len(want) {
		t.Fatalf("recipients: %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("recipients: %v, want %v", got, want)
		}
	}
}
