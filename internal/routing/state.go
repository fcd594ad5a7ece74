// Package routing decides what happens to an inbound message based on the
// conversation's state and the message's input class.
package routing

import "github.com/botixhq/botix/internal/channel"

// State is the conversation's position in its automation flow. The set is
// closed; tokens read back from storage that are not in the set normalize to
// StateAttending so a human always picks up after a bad deploy or a removed
// flow.
type State string

const (
	// StateNew is a conversation that has never been routed.
	StateNew State = "new"
	// StateGreeting means the greeting was sent and the contact's reply is
	// pending.
	StateGreeting State = "greeting"
	// StateBot hands every message to the tenant's automation script.
	StateBot State = "bot"
	// StateAttending means a human agent owns the conversation.
	StateAttending State = "attending"
	// StateClosed is a finished conversation; any message reopens it.
	StateClosed State = "closed"
)

var knownStates = map[State]struct{}{
	StateNew:       {},
	StateGreeting:  {},
	StateBot:       {},
	StateAttending: {},
	StateClosed:    {},
}

// IsValid reports whether s is a member of the closed state set.
func IsValid(s State) bool {
	_, ok := knownStates[s]
	return ok
}

// Normalize maps unknown persisted tokens to StateAttending.
func Normalize(s State) State {
	if _, ok := knownStates[s]; ok {
		return s
	}
	return StateAttending
}

// InputClass groups message kinds for transition purposes.
type InputClass string

const (
	InputText      InputClass = "text"
	InputMedia     InputClass = "media"
	InputLocation  InputClass = "location"
	InputButton    InputClass = "button"
	InputTransient InputClass = "transient"
)

// ClassifyInput maps a channel message kind onto its input class.
func ClassifyInput(k channel.MessageKind) InputClass {
	switch k {
	case channel.KindText, channel.KindTemplate:
		return InputText
	case channel.KindImage, channel.KindAudio, channel.KindVideo,
		channel.KindDocument, channel.KindSticker:
		return InputMedia
	case channel.KindLocation:
		return InputLocation
	case channel.KindButton:
		return InputButton
	case channel.KindReaction:
		return InputTransient
	default:
		return InputText
	}
}

// HandlerKind names the processor that runs for a transition.
type HandlerKind string

const (
	// HandlerHuman stores the message and notifies agents, nothing more.
	HandlerHuman HandlerKind = "human"
	// HandlerGreeting sends the tenant's greeting template.
	HandlerGreeting HandlerKind = "greeting"
	// HandlerScript runs the tenant's sandboxed automation script.
	HandlerScript HandlerKind = "script"
)

// Action is the outcome of a transition: the state to persist and the
// handler to run.
type Action struct {
	Next    State
	Handler HandlerKind
}

// Table maps (state, input class) to an action. Missing entries fall back to
// the human handler without a state change.
type Table map[State]map[InputClass]Action

// Next resolves the action for a state and input. The state is normalized
// first.
func (t Table) Next(s State, in InputClass) Action {
	s = Normalize(s)
	if byInput, ok := t[s]; ok {
		if action, ok := byInput[in]; ok {
			return action
		}
		if action, ok := byInput[anyInput]; ok {
			return action
		}
	}
	return Action{Next: s, Handler: HandlerHuman}
}

// anyInput is a wildcard row entry matched when no exact input class entry
// exists.
const anyInput InputClass = "*"

// Automation families selectable per integration.
const (
	FamilyNone     = ""
	FamilyGreeting = "greeting"
	FamilyScript   = "script"
)

// TableFor returns the transition table for an integration's automation
// family. Unknown families behave like FamilyNone.
func TableFor(family string) Table {
	switch family {
	case FamilyGreeting:
		return greetingTable
	case FamilyScript:
		return scriptTable
	default:
		return humanTable
	}
}

// humanTable routes everything to agents.
var humanTable = Table{
	StateNew: {
		anyInput: {Next: StateAttending, Handler: HandlerHuman},
	},
	StateClosed: {
		anyInput: {Next: StateAttending, Handler: HandlerHuman},
	},
}

// greetingTable answers the first contact automatically, then hands off.
var greetingTable = Table{
	StateNew: {
		InputTransient: {Next: StateNew, Handler: HandlerHuman},
		anyInput:       {Next: StateGreeting, Handler: HandlerGreeting},
	},
	StateGreeting: {
		anyInput: {Next: StateAttending, Handler: HandlerHuman},
	},
	StateClosed: {
		anyInput: {Next: StateGreeting, Handler: HandlerGreeting},
	},
}

// scriptTable keeps the conversation on the automation script until the
// script itself moves it to a human.
var scriptTable = Table{
	StateNew: {
		InputTransient: {Next: StateNew, Handler: HandlerHuman},
		anyInput:       {Next: StateBot, Handler: HandlerScript},
	},
	StateBot: {
		InputTransient: {Next: StateBot, Handler: HandlerHuman},
		anyInput:       {Next: StateBot, Handler: HandlerScript},
	},
	StateClosed: {
		anyInput: {Next: StateBot, Handler: HandlerScript},
	},
}
