package router

import (
	"context"
	"fmt"

	"github.com/botixhq/botix/internal/channel"
	"github.com/botixhq/botix/internal/routing"
	"github.com/botixhq/botix/internal/store"
)

// SendOutbound delivers an agent's reply. A human reply also moves the
// conversation to attending, taking it away from any automation.
func (r *Router) SendOutbound(ctx context.Context, conversationID, senderUserID string, msg channel.OutboundMessage) (store.OutboundReply, error) {
	reply, err := r.deliver.Deliver(ctx, conversationID, senderUserID, msg)
	if err != nil {
		return store.OutboundReply{}, err
	}

	if senderUserID != "" {
		mu := r.locks.lock(conversationID)
		defer mu.Unlock()

		conv, err := r.store.GetConversation(ctx, conversationID)
		if err != nil {
			return reply, fmt.Errorf("load conversation after send: %w", err)
		}
		if conv.State != string(routing.StateAttending) {
			if err := r.store.SetState(ctx, conversationID, string(routing.StateAttending)); err != nil {
				return reply, fmt.Errorf("move to attending: %w", err)
			}
		}
	}
	return reply, nil
}

// Assign hands the conversation to userID and notifies both the old and new
// responsible user.
func (r *Router) Assign(ctx context.Context, conversationID, userID string) error {
	mu := r.locks.lock(conversationID)
	defer mu.Unlock()

	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.ResponsibleUserID == userID {
		return nil
	}
	if err := r.store.AssignResponsible(ctx, conversationID, userID); err != nil {
		return err
	}
	r.deliver.NotifyAssignment(ctx, conv, conv.ResponsibleUserID, userID)
	return nil
}

// MarkRead zeroes the unread counter and tells other watchers.
func (r *Router) MarkRead(ctx context.Context, conversationID string) error {
	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := r.store.ResetUnread(ctx, conversationID); err != nil {
		return err
	}
	r.deliver.NotifyRead(ctx, conv)
	return nil
}
