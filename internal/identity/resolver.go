// Package identity maps channel addresses onto contacts and conversations.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/botixhq/botix/internal/routing"
	"github.com/botixhq/botix/internal/store"
)

// ErrIdentityConflict means concurrent writers raced on the same address and
// no consistent row could be read back. Callers should retry the event.
var ErrIdentityConflict = errors.New("identity: conflict")

// Store is the subset of the repository the resolver needs.
type Store interface {
	InsertContact(ctx context.Context, tenantID, address, name string) (store.Contact, bool, error)
	GetContactByAddress(ctx context.Context, tenantID, address string) (store.Contact, error)
	InsertConversation(ctx context.Context, tenantID, contactID, integrationID, state, responsibleUserID string) (store.Conversation, bool, error)
	FindConversation(ctx context.Context, tenantID, contactID, integrationID string) (store.Conversation, error)
	GetTenant(ctx context.Context, id string) (store.Tenant, error)
}

// Result is the resolved identity for an inbound address.
type Result struct {
	Contact      store.Contact
	Conversation store.Conversation
	// Created reports whether this call opened the conversation.
	Created bool
	// CreatedContact reports whether this call created the contact row.
	CreatedContact bool
}

type Resolver struct {
	store  Store
	logger *slog.Logger
}

func NewResolver(log *slog.Logger, st Store) *Resolver {
	return &Resolver{
		store:  st,
		logger: log.With(slog.String("service", "identity")),
	}
}

const raceRetries = 3

// Resolve finds or creates the contact and conversation for a channel
// address. Concurrent calls for the same address converge on one row each:
// inserts go through ON CONFLICT DO NOTHING, and a loser re-reads the
// winner's row.
func (r *Resolver) Resolve(ctx context.Context, tenantID, integrationID, address, profileName string) (Result, error) {
	var result Result

	contact, createdContact, err := r.resolveContact(ctx, tenantID, address, profileName)
	if err != nil {
		return Result{}, err
	}
	result.Contact = contact
	result.CreatedContact = createdContact

	conv, created, err := r.resolveConversation(ctx, tenantID, contact.ID, integrationID)
	if err != nil {
		return Result{}, err
	}
	result.Conversation = conv
	result.Created = created

	if created {
		r.logger.Info("opened conversation",
			slog.String("tenant_id", tenantID),
			slog.String("conversation_id", conv.ID),
			slog.String("contact_id", contact.ID))
	}
	return result, nil
}

func (r *Resolver) resolveContact(ctx context.Context, tenantID, address, profileName string) (store.Contact, bool, error) {
	for attempt := 0; attempt < raceRetries; attempt++ {
		contact, created, err := r.store.InsertContact(ctx, tenantID, address, profileName)
		if err != nil {
			return store.Contact{}, false, fmt.Errorf("resolve contact: %w", err)
		}
		if created {
			return contact, true, nil
		}
		contact, err = r.store.GetContactByAddress(ctx, tenantID, address)
		if err == nil {
			return contact, false, nil
		}
		// The winner's row can vanish before our read if it was deleted
		// in between. Loop and insert again.
		if !errors.Is(err, store.ErrNotFound) {
			return store.Contact{}, false, fmt.Errorf("resolve contact: %w", err)
		}
	}
	return store.Contact{}, false, fmt.Errorf("resolve contact %s: %w", address, ErrIdentityConflict)
}

func (r *Resolver) resolveConversation(ctx context.Context, tenantID, contactID, integrationID string) (store.Conversation, bool, error) {
	tenant, err := r.store.GetTenant(ctx, tenantID)
	if err != nil {
		return store.Conversation{}, false, fmt.Errorf("resolve conversation: %w", err)
	}

	for attempt := 0; attempt < raceRetries; attempt++ {
		conv, created, err := r.store.InsertConversation(ctx, tenantID, contactID, integrationID,
			string(routing.StateNew), tenant.DefaultResponsibleUserID)
		if err != nil {
			return store.Conversation{}, false, fmt.Errorf("resolve conversation: %w", err)
		}
		if created {
			return conv, true, nil
		}
		conv, err = r.store.FindConversation(ctx, tenantID, contactID, integrationID)
		if err == nil {
			return conv, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return store.Conversation{}, false, fmt.Errorf("resolve conversation: %w", err)
		}
	}
	return store.Conversation{}, false, fmt.Errorf("resolve conversation for contact %s: %w", contactID, ErrIdentityConflict)
}
