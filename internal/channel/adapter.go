package channel

import (
	"context"
	"errors"
)

// ErrSendFailure wraps transport-level delivery errors so callers can
// distinguish them from storage problems.
var ErrSendFailure = errors.New("channel: send failure")

// Adapter is the minimal contract every channel implements. Additional
// capabilities are discovered by type assertion against the interfaces
// below.
type Adapter interface {
	Type() Type
}

// Sender delivers outbound messages. It returns the channel's external id
// for the accepted message.
type Sender interface {
	Adapter
	Send(ctx context.Context, acct Account, to string, msg OutboundMessage) (string, error)
}

// WebhookDecoder parses a raw webhook payload into normalized events.
// Adapters without a webhook surface simply do not implement it.
type WebhookDecoder interface {
	Adapter
	DecodeWebhook(body []byte) ([]InboundEvent, []StatusEvent, error)
}
