package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/botixhq/botix/internal/channel"
	"github.com/botixhq/botix/internal/config"
	"github.com/botixhq/botix/internal/geo"
	"github.com/botixhq/botix/internal/identity"
	"github.com/botixhq/botix/internal/routing"
	"github.com/botixhq/botix/internal/sandbox"
	"github.com/botixhq/botix/internal/store"
	"github.com/botixhq/botix/internal/template"
)

type fakeRouterStore struct {
	integration  store.Integration
	contact      store.Contact
	conversation store.Conversation
	script       store.AutomationScript
	scriptErr    error
	template     store.Template
	templateErr  error
	tenant       store.Tenant

	inserted        []store.InboundMessage
	insertedOK      bool
	unreadIncs      int
	unreadResets    int
	stateSets       []string
	assignments     []string
	statusUpdates   []string
	statusErr       error
	createdContacts []string
}

func newFakeRouterStore() *fakeRouterStore {
	return &fakeRouterStore{
		integration: store.Integration{
			ID:            "i1",
			TenantID:      "t1",
			ChannelType:   "whatsapp",
			PhoneNumberID: "pn1",
		},
		contact:      store.Contact{ID: "c1", TenantID: "t1", Address: "+15550001", Name: "Ana"},
		conversation: store.Conversation{ID: "v1", TenantID: "t1", ContactID: "c1", IntegrationID: "i1", State: "new"},
		tenant:       store.Tenant{ID: "t1", Name: "Acme"},
		template:     store.Template{ID: "tp1", TenantID: "t1", Name: "greeting", Body: "Hi {{contact.name}}"},
		insertedOK:   true,
	}
}

func (f *fakeRouterStore) GetIntegration(context.Context, string) (store.Integration, error) {
	return f.integration, nil
}

func (f *fakeRouterStore) FindIntegrationByPhoneNumber(_ context.Context, _, phoneNumberID string) (store.Integration, error) {
	if phoneNumberID != f.integration.PhoneNumberID {
		return store.Integration{}, store.ErrNotFound
	}
	return f.integration, nil
}

func (f *fakeRouterStore) InsertInbound(_ context.Context, m store.InboundMessage) (store.InboundMessage, bool, error) {
	if !f.insertedOK {
		return store.InboundMessage{}, false, nil
	}
	m.ID = "m1"
	f.inserted = append(f.inserted, m)
	return m, true, nil
}

func (f *fakeRouterStore) IncrementUnread(context.Context, string) error {
	f.unreadIncs++
	return nil
}

func (f *fakeRouterStore) ResetUnread(context.Context, string) error {
	f.unreadResets++
	return nil
}

func (f *fakeRouterStore) SetState(_ context.Context, _ string, state string) error {
	f.stateSets = append(f.stateSets, state)
	f.conversation.State = state
	return nil
}

func (f *fakeRouterStore) AssignResponsible(_ context.Context, _, userID string) error {
	f.assignments = append(f.assignments, userID)
	return nil
}

func (f *fakeRouterStore) GetConversation(context.Context, string) (store.Conversation, error) {
	return f.conversation, nil
}

func (f *fakeRouterStore) GetContact(context.Context, string) (store.Contact, error) {
	return f.contact, nil
}

func (f *fakeRouterStore) GetContactByAddress(context.Context, string, string) (store.Contact, error) {
	return f.contact, nil
}

func (f *fakeRouterStore) InsertContact(_ context.Context, _, address, name string) (store.Contact, bool, error) {
	if address == f.contact.Address {
		return f.contact, false, nil
	}
	f.createdContacts = append(f.createdContacts, address+"/"+name)
	return store.Contact{ID: "c-new", Address: address, Name: name}, true, nil
}

func (f *fakeRouterStore) UpdateContact(context.Context, string, string, map[string]string) error {
	return nil
}

func (f *fakeRouterStore) GetScriptByBotUser(context.Context, string, string) (store.AutomationScript, error) {
	if f.scriptErr != nil {
		return store.AutomationScript{}, f.scriptErr
	}
	return f.script, nil
}

func (f *fakeRouterStore) GetTemplateByName(context.Context, string, string) (store.Template, error) {
	if f.templateErr != nil {
		return store.Template{}, f.templateErr
	}
	return f.template, nil
}

func (f *fakeRouterStore) GetTenant(context.Context, string) (store.Tenant, error) {
	return f.tenant, nil
}

func (f *fakeRouterStore) UpdateReplyStatus(_ context.Context, _, externalID, status string) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statusUpdates = append(f.statusUpdates, externalID+"="+status)
	return nil
}

type fakeResolver struct {
	store    *fakeRouterStore
	resolved int
	err      error
}

func (f *fakeResolver) Resolve(context.Context, string, string, string, string) (identity.Result, error) {
	f.resolved++
	if f.err != nil {
		return identity.Result{}, f.err
	}
	return identity.Result{Contact: f.store.contact, Conversation: f.store.conversation}, nil
}

type fakeDeliverer struct {
	delivered   []channel.OutboundMessage
	deliverErr  error
	inbound     int
	reads       int
	assignments [][2]string
}

func (f *fakeDeliverer) Deliver(_ context.Context, _, _ string, msg channel.OutboundMessage) (store.OutboundReply, error) {
	if f.deliverErr != nil {
		return store.OutboundReply{}, f.deliverErr
	}
	f.delivered = append(f.delivered, msg)
	return store.OutboundReply{ID: "r1", ExternalID: "wamid.1"}, nil
}

func (f *fakeDeliverer) NotifyInbound(context.Context, store.Conversation, store.InboundMessage, string) {
	f.inbound++
}

func (f *fakeDeliverer) NotifyAssignment(_ context.Context, _ store.Conversation, oldUserID, newUserID string) {
	f.assignments = append(f.assignments, [2]string{oldUserID, newUserID})
}

func (f *fakeDeliverer) NotifyRead(context.Context, store.Conversation) {
	f.reads++
}

type fakeDeduper struct {
	seen map[string]bool
	err  error
}

func (f *fakeDeduper) MarkOnce(_ context.Context, key string, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type fakeGeocoder struct{}

func (fakeGeocoder) Forward(context.Context, string) (geo.Place, error) {
	return geo.Place{}, nil
}

func (fakeGeocoder) Reverse(context.Context, float64, float64) (geo.Place, error) {
	return geo.Place{}, nil
}

type fakeRunner struct {
	outcome sandbox.Outcome
	err     error
	events  []sandbox.Event
}

func (f *fakeRunner) Run(_ context.Context, _ store.AutomationScript, ev sandbox.Event) (sandbox.Outcome, error) {
	f.events = append(f.events, ev)
	return f.outcome, f.err
}

type fixture struct {
	router   *Router
	store    *fakeRouterStore
	resolver *fakeResolver
	deliver  *fakeDeliverer
	dedup    *fakeDeduper
	runner   *fakeRunner
}

func newFixture() *fixture {
	st := newFakeRouterStore()
	resolver := &fakeResolver{store: st}
	deliver := &fakeDeliverer{}
	dedup := &fakeDeduper{}
	runner := &fakeRunner{}

	r := New(slog.Default(), config.RouterConfig{Workers: 1, QueueSize: 4},
		st, resolver, deliver, dedup, fakeGeocoder{},
		template.NewRenderer(slog.Default()), channel.NewRegistry())
	r.SetRunner(runner)
	return &fixture{router: r, store: st, resolver: resolver, deliver: deliver, dedup: dedup, runner: runner}
}

func textEvent(externalID string) channel.InboundEvent {
	return channel.InboundEvent{
		Channel:       channel.TypeWhatsApp,
		PhoneNumberID: "pn1",
		ExternalID:    externalID,
		From:          "+15550001",
		ProfileName:   "Ana",
		Kind:          channel.KindText,
		Body:          "hello",
		Storage:       channel.ClassPersist,
		Timestamp:     time.Now(),
	}
}

func TestProcessStoresMessageAndBumpsUnread(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.router.process(context.Background(), task{ev: textEvent("wamid.a")})

	if len(f.store.inserted) != 1 {
		t.Fatalf("stored %d messages", len(f.store.inserted))
	}
	if f.store.inserted[0].Body != "hello" || f.store.inserted[0].ConversationID != "v1" {
		t.Fatalf("unexpected stored message: %+v", f.store.inserted[0])
	}
	if f.store.unreadIncs != 1 {
		t.Fatalf("unread incremented %d times", f.store.unreadIncs)
	}
	if f.deliver.inbound != 1 {
		t.Fatalf("notified %d times", f.deliver.inbound)
	}
	// No automation family: new goes straight to attending.
	if len(f.store.stateSets) != 1 || f.store.stateSets[0] != "attending" {
		t.Fatalf("state sets: %v", f.store.stateSets)
	}
}

func TestProcessDropsDuplicateEvent(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ev := textEvent("wamid.a")
	f.router.process(context.Background(), task{ev: ev})
	f.router.process(context.Background(), task{ev: ev})

	if len(f.store.inserted) != 1 {
		t.Fatalf("stored %d messages", len(f.store.inserted))
	}
	if f.resolver.resolved != 1 {
		t.Fatalf("duplicate event still resolved identity")
	}
}

func TestProcessDedupOutageFallsBackToConstraint(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.dedup.err = errors.New("connection refused")
	f.router.process(context.Background(), task{ev: textEvent("wamid.a")})

	if len(f.store.inserted) != 1 {
		t.Fatalf("event dropped on redis outage")
	}

	// A replay now reaches the insert, which reports the conflict.
	f.store.insertedOK = false
	f.router.process(context.Background(), task{ev: textEvent("wamid.a")})
	if f.store.unreadIncs != 1 {
		t.Fatalf("conflicting insert still bumped unread")
	}
	if f.deliver.inbound != 1 {
		t.Fatalf("conflicting insert still notified")
	}
}

func TestProcessTransientEventNotStored(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ev := textEvent("wamid.react")
	ev.Kind = channel.KindReaction
	ev.Storage = ev.Kind.Class()
	f.router.process(context.Background(), task{ev: ev})

	if len(f.store.inserted) != 0 {
		t.Fatalf("transient event was stored")
	}
	if f.store.unreadIncs != 0 {
		t.Fatalf("transient event counted as unread")
	}
	if f.deliver.inbound != 0 {
		t.Fatalf("transient event notified agents")
	}
}

func TestProcessGreetingFamilySendsGreeting(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.integration.AutomationFamily = routing.FamilyGreeting
	f.router.process(context.Background(), task{ev: textEvent("wamid.a")})

	if len(f.deliver.delivered) != 1 {
		t.Fatalf("delivered %d messages", len(f.deliver.delivered))
	}
	if f.deliver.delivered[0].Body != "Hi Ana" {
		t.Fatalf("greeting body: %q", f.deliver.delivered[0].Body)
	}
	if len(f.store.stateSets) != 1 || f.store.stateSets[0] != "greeting" {
		t.Fatalf("state sets: %v", f.store.stateSets)
	}
}

func TestProcessGreetingMissingTemplateStillTransitions(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.integration.AutomationFamily = routing.FamilyGreeting
	f.store.templateErr = store.ErrNotFound
	f.router.process(context.Background(), task{ev: textEvent("wamid.a")})

	if len(f.deliver.delivered) != 0 {
		t.Fatalf("sent a greeting without a template")
	}
	if len(f.store.stateSets) != 1 || f.store.stateSets[0] != "greeting" {
		t.Fatalf("state sets: %v", f.store.stateSets)
	}
}

// gatedDeliverer parks the first send until the gate opens, keeping one
// event mid-flight while more arrive behind it.
type gatedDeliverer struct {
	fakeDeliverer
	gate    chan struct{}
	once    sync.Once
	inbound chan struct{}
}

func (d *gatedDeliverer) Deliver(ctx context.Context, conversationID, senderUserID string, msg channel.OutboundMessage) (store.OutboundReply, error) {
	d.once.Do(func() { <-d.gate })
	return d.fakeDeliverer.Deliver(ctx, conversationID, senderUserID, msg)
}

func (d *gatedDeliverer) NotifyInbound(ctx context.Context, conv store.Conversation, m store.InboundMessage, contactName string) {
	d.fakeDeliverer.NotifyInbound(ctx, conv, m, contactName)
	d.inbound <- struct{}{}
}

func TestInboundBurstGreetsOnce(t *testing.T) {
	t.Parallel()

	st := newFakeRouterStore()
	st.integration.AutomationFamily = routing.FamilyGreeting
	deliver := &gatedDeliverer{gate: make(chan struct{}), inbound: make(chan struct{}, 2)}
	r := New(slog.Default(), config.RouterConfig{Workers: 4, QueueSize: 8},
		st, &fakeResolver{store: st}, deliver, &fakeDeduper{}, fakeGeocoder{},
		template.NewRenderer(slog.Default()), channel.NewRegistry())
	r.Start(context.Background())

	// Both events are in flight before the first send completes. If the
	// second one classified from a stale snapshot it would greet again.
	if err := r.enqueue(task{ev: textEvent("wamid.a")}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := r.enqueue(task{ev: textEvent("wamid.b")}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	close(deliver.gate)
	for i := 0; i < 2; i++ {
		select {
		case <-deliver.inbound:
		case <-time.After(5 * time.Second):
			t.Fatal("events were not processed")
		}
	}
	r.Stop()

	if len(deliver.delivered) != 1 {
		t.Fatalf("greeted %d times", len(deliver.delivered))
	}
	if len(st.stateSets) != 2 || st.stateSets[0] != "greeting" || st.stateSets[1] != "attending" {
		t.Fatalf("state sets: %v", st.stateSets)
	}
}

func TestEnqueueAfterStopIsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.router.Start(context.Background())
	f.router.Stop()

	if err := f.router.enqueue(task{ev: textEvent("wamid.late")}); !errors.Is(err, ErrStopped) {
		t.Fatalf("want ErrStopped, got %v", err)
	}
}

func TestHostCreateContactIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture()
	h := NewHost(f.router)

	created, err := h.CreateContact(context.Background(), "v1", "+15550009", "Zed")
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	if created.ID != "c-new" || len(f.store.createdContacts) != 1 {
		t.Fatalf("created: %+v, inserts: %v", created, f.store.createdContacts)
	}

	// An address the tenant already knows comes back as the existing row.
	existing, err := h.CreateContact(context.Background(), "v1", "+15550001", "Dup")
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	if existing.ID != "c1" || len(f.store.createdContacts) != 1 {
		t.Fatalf("existing: %+v, inserts: %v", existing, f.store.createdContacts)
	}
}

func scriptFixture() *fixture {
	f := newFixture()
	f.store.integration.AutomationFamily = routing.FamilyScript
	f.store.integration.BotUserID = "bot1"
	f.store.conversation.State = "bot"
	f.store.script = store.AutomationScript{ID: "s1", TenantID: "t1", Name: "flow", Source: "-- ok"}
	return f
}

func TestProcessScriptFaultLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	f := scriptFixture()
	f.runner.err = sandbox.ErrFault
	f.router.process(context.Background(), task{ev: textEvent("wamid.a")})

	if len(f.store.stateSets) != 0 {
		t.Fatalf("faulting script changed state: %v", f.store.stateSets)
	}
	if len(f.store.assignments) != 0 {
		t.Fatalf("faulting script assigned: %v", f.store.assignments)
	}
	// The message itself is still stored and announced.
	if len(f.store.inserted) != 1 || f.deliver.inbound != 1 {
		t.Fatalf("fault dropped the inbound message")
	}
}

func TestProcessScriptStagedStateApplied(t *testing.T) {
	t.Parallel()

	f := scriptFixture()
	f.runner.outcome = sandbox.Outcome{NextState: "closed", StateSet: true}
	f.router.process(context.Background(), task{ev: textEvent("wamid.a")})

	if len(f.store.stateSets) != 1 || f.store.stateSets[0] != "closed" {
		t.Fatalf("state sets: %v", f.store.stateSets)
	}
	if len(f.runner.events) != 1 || f.runner.events[0].Body != "hello" {
		t.Fatalf("script events: %+v", f.runner.events)
	}
}

func TestProcessScriptAssignmentNotifies(t *testing.T) {
	t.Parallel()

	f := scriptFixture()
	f.store.conversation.ResponsibleUserID = "u-old"
	f.runner.outcome = sandbox.Outcome{AssignUserID: "u-new", AssignSet: true}
	f.router.process(context.Background(), task{ev: textEvent("wamid.a")})

	if len(f.store.assignments) != 1 || f.store.assignments[0] != "u-new" {
		t.Fatalf("assignments: %v", f.store.assignments)
	}
	if len(f.deliver.assignments) != 1 || f.deliver.assignments[0] != [2]string{"u-old", "u-new"} {
		t.Fatalf("assignment notifications: %v", f.deliver.assignments)
	}
}

func TestProcessScriptMissingFallsBackToHumans(t *testing.T) {
	t.Parallel()

	f := scriptFixture()
	f.store.scriptErr = store.ErrNotFound
	f.router.process(context.Background(), task{ev: textEvent("wamid.a")})

	if len(f.store.stateSets) != 1 || f.store.stateSets[0] != "attending" {
		t.Fatalf("state sets: %v", f.store.stateSets)
	}
}

func TestSendOutboundMovesToAttending(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.conversation.State = "bot"

	reply, err := f.router.SendOutbound(context.Background(), "v1", "u1",
		channel.OutboundMessage{Kind: channel.KindText, Body: "on it"})
	if err != nil {
		t.Fatalf("send outbound: %v", err)
	}
	if reply.ExternalID != "wamid.1" {
		t.Fatalf("reply external id: %q", reply.ExternalID)
	}
	if len(f.store.stateSets) != 1 || f.store.stateSets[0] != "attending" {
		t.Fatalf("state sets: %v", f.store.stateSets)
	}
}

func TestSendOutboundWithoutSenderKeepsState(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.conversation.State = "bot"

	_, err := f.router.SendOutbound(context.Background(), "v1", "",
		channel.OutboundMessage{Kind: channel.KindText, Body: "auto"})
	if err != nil {
		t.Fatalf("send outbound: %v", err)
	}
	if len(f.store.stateSets) != 0 {
		t.Fatalf("automated send changed state: %v", f.store.stateSets)
	}
}

func TestAssignNotifiesOldAndNew(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.conversation.ResponsibleUserID = "u-old"

	if err := f.router.Assign(context.Background(), "v1", "u-new"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if len(f.store.assignments) != 1 || f.store.assignments[0] != "u-new" {
		t.Fatalf("assignments: %v", f.store.assignments)
	}
	if len(f.deliver.assignments) != 1 || f.deliver.assignments[0] != [2]string{"u-old", "u-new"} {
		t.Fatalf("notifications: %v", f.deliver.assignments)
	}
}

func TestAssignSameUserIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.conversation.ResponsibleUserID = "u1"

	if err := f.router.Assign(context.Background(), "v1", "u1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if len(f.store.assignments) != 0 {
		t.Fatalf("reassigned to the same user")
	}
}

func TestMarkReadResetsAndNotifies(t *testing.T) {
	t.Parallel()

	f := newFixture()
	if err := f.router.MarkRead(context.Background(), "v1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if f.store.unreadResets != 1 {
		t.Fatalf("reset %d times", f.store.unreadResets)
	}
	if f.deliver.reads != 1 {
		t.Fatalf("notified %d times", f.deliver.reads)
	}
}

func TestApplyStatusUnknownReplyIsBenign(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.store.statusErr = store.ErrNotFound
	f.router.applyStatus(context.Background(), channel.StatusEvent{
		Channel:       channel.TypeWhatsApp,
		PhoneNumberID: "pn1",
		ExternalID:    "wamid.unknown",
		Status:        "delivered",
	})
	// No panic and no update recorded is the whole contract here.
	if len(f.store.statusUpdates) != 0 {
		t.Fatalf("recorded update for unknown reply")
	}
}

func TestApplyStatusRecordsReceipt(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.router.applyStatus(context.Background(), channel.StatusEvent{
		Channel:       channel.TypeWhatsApp,
		PhoneNumberID: "pn1",
		ExternalID:    "wamid.1",
		Status:        "read",
	})
	if len(f.store.statusUpdates) != 1 || f.store.statusUpdates[0] != "wamid.1=read" {
		t.Fatalf("status updates: %v", f.store.statusUpdates)
	}
}
