package router

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/botixhq/botix/internal/channel"
	"github.com/botixhq/botix/internal/geo"
	"github.com/botixhq/botix/internal/store"
)

// Host adapts the router into the surface scripts are allowed to touch.
// A separate type keeps the script API narrow and lets the sandbox be built
// before the router during wiring.
type Host struct {
	router *Router
}

func NewHost(r *Router) *Host { return &Host{router: r} }

func (h *Host) SendMessage(ctx context.Context, conversationID string, msg channel.OutboundMessage) error {
	_, err := h.router.deliver.Deliver(ctx, conversationID, "", msg)
	return err
}

func (h *Host) GetContact(ctx context.Context, contactID string) (store.Contact, error) {
	return h.router.store.GetContact(ctx, contactID)
}

func (h *Host) UpdateContact(ctx context.Context, contactID, name string, metadata map[string]string) error {
	return h.router.store.UpdateContact(ctx, contactID, name, metadata)
}

// CreateContact registers a contact in the conversation's tenant. A contact
// already holding the address is returned as-is; the insert is idempotent.
func (h *Host) CreateContact(ctx context.Context, conversationID, address, name string) (store.Contact, error) {
	conv, err := h.router.store.GetConversation(ctx, conversationID)
	if err != nil {
		return store.Contact{}, err
	}
	contact, created, err := h.router.store.InsertContact(ctx, conv.TenantID, address, name)
	if err != nil {
		return store.Contact{}, err
	}
	if !created {
		return h.router.store.GetContactByAddress(ctx, conv.TenantID, address)
	}
	return contact, nil
}

func (h *Host) Geocode(ctx context.Context, address string) (geo.Place, error) {
	return h.router.geocoder.Forward(ctx, address)
}

func (h *Host) ReverseGeocode(ctx context.Context, lat, lon float64) (geo.Place, error) {
	return h.router.geocoder.Reverse(ctx, lat, lon)
}

// Reenter feeds a synthetic message back through the pipeline, as if the
// contact had sent body. The event is transient: it routes but is not
// stored as history.
func (h *Host) Reenter(ctx context.Context, conversationID, body string) error {
	conv, err := h.router.store.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("reenter: %w", err)
	}
	contact, err := h.router.store.GetContact(ctx, conv.ContactID)
	if err != nil {
		return fmt.Errorf("reenter: %w", err)
	}
	integ, err := h.router.store.GetIntegration(ctx, conv.IntegrationID)
	if err != nil {
		return fmt.Errorf("reenter: %w", err)
	}
	// PhoneNumberID keeps the synthetic event on the same worker shard as
	// the contact's real traffic.
	return h.router.enqueue(task{
		integrationID: integ.ID,
		ev: channel.InboundEvent{
			Channel:       channel.Type(integ.ChannelType),
			PhoneNumberID: integ.PhoneNumberID,
			ExternalID:    "reenter-" + uuid.NewString(),
			From:          contact.Address,
			Kind:          channel.KindText,
			Body:          body,
			Storage:       channel.ClassTransient,
		},
	})
}
