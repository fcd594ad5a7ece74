package sandbox

import (
	"context"

	"github.com/Shopify/go-lua"

	"github.com/botixhq/botix/internal/channel"
	"github.com/botixhq/botix/internal/routing"
)

func validState(s string) bool {
	return routing.IsValid(routing.State(s))
}

// binding holds the per-run state the host functions close over.
type binding struct {
	runner  *Runner
	ctx     context.Context
	event   Event
	grants  map[Capability]struct{}
	outcome *Outcome
}

// register installs the read-only event table and the host API as globals.
// The API lives at botix.v1 so a v2 can coexist later without breaking
// stored scripts; bot aliases the current version to keep scripts terse.
func (b *binding) register(l *lua.State) {
	l.NewTable()
	pushField(l, "conversation_id", b.event.ConversationID)
	pushField(l, "contact_id", b.event.ContactID)
	pushField(l, "contact_name", b.event.ContactName)
	pushField(l, "address", b.event.Address)
	pushField(l, "kind", b.event.Kind)
	pushField(l, "body", b.event.Body)
	pushField(l, "state", b.event.State)
	if b.event.Latitude != nil {
		l.PushNumber(*b.event.Latitude)
		l.SetField(-2, "latitude")
	}
	if b.event.Longitude != nil {
		l.PushNumber(*b.event.Longitude)
		l.SetField(-2, "longitude")
	}
	l.SetGlobal("event")

	l.NewTable()
	l.NewTable()
	lua.SetFunctions(l, []lua.RegistryFunction{
		{Name: "send_text", Function: b.sendText},
		{Name: "send_image", Function: b.sendMedia(channel.KindImage)},
		{Name: "send_video", Function: b.sendMedia(channel.KindVideo)},
		{Name: "send_audio", Function: b.sendMedia(channel.KindAudio)},
		{Name: "send_document", Function: b.sendDocument},
		{Name: "send_location", Function: b.sendLocation},
		{Name: "send_template", Function: b.sendTemplate},
		{Name: "get_contact", Function: b.getContact},
		{Name: "create_contact", Function: b.createContact},
		{Name: "update_contact", Function: b.updateContact},
		{Name: "set_state", Function: b.setState},
		{Name: "assign", Function: b.assign},
		{Name: "geocode", Function: b.geocode},
		{Name: "reverse_geocode", Function: b.reverseGeocode},
		{Name: "reenter", Function: b.reenter},
	}, 0)
	l.PushValue(-1)
	l.SetGlobal("bot")
	l.SetField(-2, "v1")
	l.SetGlobal("botix")
}

func pushField(l *lua.State, name, value string) {
	l.PushString(value)
	l.SetField(-2, name)
}

// guard raises a Lua error when the capability is not granted or the run
// deadline passed. Raising unwinds into the protected call, so the script
// observes it as a fault.
func (b *binding) guard(l *lua.State, c Capability) {
	if b.ctx.Err() != nil {
		lua.Errorf(l, "execution budget exceeded")
	}
	if _, ok := b.grants[c]; !ok {
		lua.Errorf(l, "capability not granted: %s", string(c))
	}
}

func (b *binding) send(l *lua.State, msg channel.OutboundMessage) {
	if err := b.runner.host.SendMessage(b.ctx, b.event.ConversationID, msg); err != nil {
		lua.Errorf(l, "send failed: %s", err.Error())
	}
}

func (b *binding) sendText(l *lua.State) int {
	b.guard(l, CapSend)
	body := lua.CheckString(l, 1)
	b.send(l, channel.OutboundMessage{Kind: channel.KindText, Body: body})
	return 0
}

func (b *binding) sendMedia(kind channel.MessageKind) lua.Function {
	return func(l *lua.State) int {
		b.guard(l, CapSend)
		url := lua.CheckString(l, 1)
		caption := lua.OptString(l, 2, "")
		b.send(l, channel.OutboundMessage{Kind: kind, MediaURL: url, Body: caption})
		return 0
	}
}

func (b *binding) sendDocument(l *lua.State) int {
	b.guard(l, CapSend)
	url := lua.CheckString(l, 1)
	filename := lua.OptString(l, 2, "")
	caption := lua.OptString(l, 3, "")
	b.send(l, channel.OutboundMessage{
		Kind:     channel.KindDocument,
		MediaURL: url,
		Filename: filename,
		Body:     caption,
	})
	return 0
}

func (b *binding) sendLocation(l *lua.State) int {
	b.guard(l, CapSend)
	lat := lua.CheckNumber(l, 1)
	lng := lua.CheckNumber(l, 2)
	name := lua.OptString(l, 3, "")
	b.send(l, channel.OutboundMessage{
		Kind:      channel.KindLocation,
		Latitude:  lat,
		Longitude: lng,
		Body:      name,
	})
	return 0
}

func (b *binding) sendTemplate(l *lua.State) int {
	b.guard(l, CapSend)
	name := lua.CheckString(l, 1)
	var params []string
	for i := 2; i <= l.Top(); i++ {
		params = append(params, lua.CheckString(l, i))
	}
	b.send(l, channel.OutboundMessage{
		Kind:     channel.KindTemplate,
		Template: &channel.Template{Name: name, Params: params},
	})
	return 0
}

func (b *binding) getContact(l *lua.State) int {
	b.guard(l, CapContactRead)
	contact, err := b.runner.host.GetContact(b.ctx, b.event.ContactID)
	if err != nil {
		lua.Errorf(l, "get contact failed: %s", err.Error())
	}
	l.NewTable()
	pushField(l, "id", contact.ID)
	pushField(l, "name", contact.Name)
	pushField(l, "address", contact.Address)
	l.NewTable()
	for k, v := range contact.Metadata {
		pushField(l, k, v)
	}
	l.SetField(-2, "metadata")
	return 1
}

func (b *binding) createContact(l *lua.State) int {
	b.guard(l, CapContactWrite)
	address := lua.CheckString(l, 1)
	name := lua.OptString(l, 2, "")
	contact, err := b.runner.host.CreateContact(b.ctx, b.event.ConversationID, address, name)
	if err != nil {
		lua.Errorf(l, "create contact failed: %s", err.Error())
	}
	l.PushString(contact.ID)
	return 1
}

func (b *binding) updateContact(l *lua.State) int {
	b.guard(l, CapContactWrite)
	name := lua.CheckString(l, 1)
	metadata := map[string]string{}
	if l.Top() >= 2 {
		lua.CheckType(l, 2, lua.TypeTable)
		l.PushNil()
		for l.Next(2) {
			key, _ := l.ToString(-2)
			value, _ := l.ToString(-1)
			metadata[key] = value
			l.Pop(1)
		}
	}
	if err := b.runner.host.UpdateContact(b.ctx, b.event.ContactID, name, metadata); err != nil {
		lua.Errorf(l, "update contact failed: %s", err.Error())
	}
	return 0
}

func (b *binding) setState(l *lua.State) int {
	b.guard(l, CapState)
	state := lua.CheckString(l, 1)
	if !validState(state) {
		lua.Errorf(l, "unknown state: %s", state)
	}
	b.outcome.NextState = state
	b.outcome.StateSet = true
	return 0
}

func (b *binding) assign(l *lua.State) int {
	b.guard(l, CapAssign)
	b.outcome.AssignUserID = lua.CheckString(l, 1)
	b.outcome.AssignSet = true
	return 0
}

func (b *binding) geocode(l *lua.State) int {
	b.guard(l, CapGeocode)
	address := lua.CheckString(l, 1)
	place, err := b.runner.host.Geocode(b.ctx, address)
	if err != nil {
		lua.Errorf(l, "geocode failed: %s", err.Error())
	}
	l.PushNumber(place.Latitude)
	l.PushNumber(place.Longitude)
	l.PushString(place.DisplayName)
	return 3
}

func (b *binding) reverseGeocode(l *lua.State) int {
	b.guard(l, CapGeocode)
	lat := lua.CheckNumber(l, 1)
	lng := lua.CheckNumber(l, 2)
	place, err := b.runner.host.ReverseGeocode(b.ctx, lat, lng)
	if err != nil {
		lua.Errorf(l, "reverse geocode failed: %s", err.Error())
	}
	l.PushString(place.DisplayName)
	return 1
}

func (b *binding) reenter(l *lua.State) int {
	b.guard(l, CapReenter)
	body := lua.CheckString(l, 1)
	if err := b.runner.host.Reenter(b.ctx, b.event.ConversationID, body); err != nil {
		lua.Errorf(l, "reenter failed: %s", err.Error())
	}
	return 0
}
