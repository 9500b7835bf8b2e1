package lrcp

// This file implements the LRCP session FSM as a pure function over a
// transition table, in the same spirit as a protocol daemon's reception
// FSM: no side effects, no Session dependency, trivially testable.
//
// Unlike a negotiated link-layer protocol, LRCP only has two states: a
// session is either accepting traffic (Open) or torn down (Closed).
// Closed is terminal -- there is no path back to Open for a given id.

// State represents the lifecycle state of an LRCP session.
type State uint8

const (
	// StateOpen is the normal operating state: data flows in both
	// directions, acks are processed, retransmission may occur.
	StateOpen State = iota

	// StateClosed is terminal. All subsequent peer packets for this
	// session id produce a single outbound close and are otherwise
	// ignored.
	StateClosed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Event represents an LRCP FSM event.
type Event uint8

const (
	// EventPeerClose is the event for receiving a close packet from the peer.
	EventPeerClose Event = iota

	// EventImpossibleAck is the event for receiving an ack whose length
	// exceeds every byte the session has ever sent.
	EventImpossibleAck

	// EventExpired is the event when last_activity exceeds the session
	// expiry threshold.
	EventExpired
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case EventPeerClose:
		return "PeerClose"
	case EventImpossibleAck:
		return "ImpossibleAck"
	case EventExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// Action represents a side-effect to execute after an FSM transition.
// Actions are returned as part of FSMResult and executed by the caller
// (Session.applyEvent). The FSM itself is a pure function.
type Action uint8

const (
	// ActionSendClose triggers transmission of a close packet to the peer.
	ActionSendClose Action = iota + 1

	// ActionDestroy tears down local session state without notifying the
	// peer (used for silent expiry).
	ActionDestroy
)

// String returns the human-readable name of the action.
func (a Action) String() string {
	switch a {
	case ActionSendClose:
		return "SendClose"
	case ActionDestroy:
		return "Destroy"
	default:
		return "Unknown"
	}
}

// stateEvent is the FSM transition table key: current state + incoming event.
type stateEvent struct {
	state State
	event Event
}

// transition describes the target state and side-effects for a single
// FSM transition.
type transition struct {
	newState State
	actions  []Action
}

// FSMResult holds the outcome of applying an event to the FSM.
type FSMResult struct {
	// OldState is the state before the event was applied.
	OldState State

	// NewState is the state after the event was applied.
	NewState State

	// Actions lists the side-effects that the caller must execute.
	Actions []Action

	// Changed is true when NewState differs from OldState.
	Changed bool
}

// fsmTable is the complete LRCP FSM transition table.
//
//nolint:gochecknoglobals // Transition table is intentionally package-level.
var fsmTable = map[stateEvent]transition{
	// Open + peer close -> Closed, reply with close (spec §4.2: on_close()
	// replies with close/<sid> and destroys local state).
	{StateOpen, EventPeerClose}: {
		newState: StateClosed,
		actions:  []Action{ActionSendClose},
	},

	// Open + impossible ack -> Closed, reply with close (spec §4.2: an ack
	// whose length exceeds total_sent closes the session).
	{StateOpen, EventImpossibleAck}: {
		newState: StateClosed,
		actions:  []Action{ActionSendClose},
	},

	// Open + expired -> Closed, silent destroy (spec §4.2: tick() silently
	// destroys a session once last_activity exceeds session_expiry).
	{StateOpen, EventExpired}: {
		newState: StateClosed,
		actions:  []Action{ActionDestroy},
	},

	// Closed + peer close -> remain Closed, reply with close once more
	// (spec §4.2: subsequent peer packets for a closed id produce a single
	// outbound close and are otherwise ignored).
	{StateClosed, EventPeerClose}: {
		newState: StateClosed,
		actions:  []Action{ActionSendClose},
	},
}

// ApplyEvent applies an FSM event to the given state and returns the result.
//
// This is a pure function with no side effects. The caller executes the
// returned actions. If the (state, event) pair has no entry in the
// transition table, the event is silently ignored and FSMResult.Changed is
// false with an empty action list.
func ApplyEvent(currentState State, event Event) FSMResult {
	tr, ok := fsmTable[stateEvent{state: currentState, event: event}]
	if !ok {
		return FSMResult{
			OldState: currentState,
			NewState: currentState,
			Actions:  nil,
			Changed:  false,
		}
	}

	return FSMResult{
		OldState: currentState,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  currentState != tr.newState,
	}
}
