// Package channel defines the adapter contract between the routing core and
// concrete messaging channels.
package channel

import "time"

// Type identifies a messaging channel implementation.
type Type string

const (
	TypeWhatsApp Type = "whatsapp"
	TypeInternal Type = "internal"
)

// MessageKind is the payload shape of a message on any channel.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindAudio    MessageKind = "audio"
	KindVideo    MessageKind = "video"
	KindDocument MessageKind = "document"
	KindSticker  MessageKind = "sticker"
	KindLocation MessageKind = "location"
	KindButton   MessageKind = "button"
	KindReaction MessageKind = "reaction"
	KindTemplate MessageKind = "template"
)

// StorageClass says whether an inbound event is persisted as conversation
// history or only routed.
type StorageClass string

const (
	// ClassPersist stores the event and counts it as unread.
	ClassPersist StorageClass = "persist"
	// ClassTransient routes the event without storing it. Reactions use
	// this.
	ClassTransient StorageClass = "transient"
)

// Class returns the storage class for a message kind.
func (k MessageKind) Class() StorageClass {
	if k == KindReaction {
		return ClassTransient
	}
	return ClassPersist
}

// Account carries the per-integration credentials an adapter needs to send.
type Account struct {
	IntegrationID string
	TenantID      string
	PhoneNumberID string
	AccessToken   string
}

// Template references a named message template with positional parameters.
type Template struct {
	Name   string
	Params []string
}

// OutboundMessage is a channel-agnostic message to deliver to a contact.
type OutboundMessage struct {
	Kind      MessageKind
	Body      string
	MediaURL  string
	Filename  string
	Latitude  float64
	Longitude float64
	Template  *Template
}

// InboundEvent is a normalized message received from a channel.
type InboundEvent struct {
	Channel       Type
	PhoneNumberID string
	ExternalID    string
	From          string
	ProfileName   string
	Kind          MessageKind
	Body          string
	MediaURL      string
	Latitude      *float64
	Longitude     *float64
	Storage       StorageClass
	Timestamp     time.Time
}

// StatusEvent is a delivery receipt for a previously sent message.
type StatusEvent struct {
	Channel       Type
	PhoneNumberID string
	ExternalID    string
	Status        string
	Timestamp     time.Time
}
