// Package statemachine implements the per-session protocol state
// machine: legal states and the kind-by-state transition table.
package statemachine

import (
	"errors"

	"github.com/filewire/transferd/internal/wire"
)

// State is a session's current protocol state.
type State int

const (
	Init State = iota + 1
	Connected
	Transferring
	Completed
	Error
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case Connected:
		return "CONNECTED"
	case Transferring:
		return "TRANSFERRING"
	case Completed:
		return "COMPLETED"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrIllegalTransition is returned when a message kind is not legal in
// the session's current state.
var ErrIllegalTransition = errors.New("statemachine: message kind illegal in current state")

// transitions[state][kind] gives the resulting state for a legal
// (state, kind) pair. Kinds absent from a state's map are illegal.
var transitions = map[State]map[wire.MessageType]State{
	Init: {
		wire.Handshake: Connected,
	},
	Connected: {
		wire.Handshake:     Connected,
		wire.FileRequest:   Transferring,
		wire.ResumeRequest: Transferring,
		wire.ListRequest:   Connected,
		wire.NlstRequest:   Connected,
		wire.Close:         Init,
		wire.Ack:           Connected,
	},
	Transferring: {
		wire.FileRequest:    Transferring,
		wire.FileMetadata:   Transferring,
		wire.FileData:       Transferring,
		wire.ChecksumVerify: Completed,
		wire.ResumeRequest:  Transferring,
		wire.ListRequest:    Transferring,
		wire.NlstRequest:    Transferring,
		wire.Close:          Init,
		wire.Ack:            Transferring,
	},
	Completed: {
		wire.FileRequest: Transferring,
		wire.ListRequest: Completed,
		wire.NlstRequest: Completed,
		wire.Close:       Init,
		wire.Ack:         Completed,
	},
	Error: {
		wire.Close: Init,
		wire.Ack:   Connected,
	},
}

// Next returns the state reached by handling kind from current, or
// ErrIllegalTransition if kind is not legal in current. Error and
// ListError are never looked up here: the caller always transitions
// to Error directly on a rejected or failed message (see Reject).
func Next(current State, kind wire.MessageType) (State, error) {
	allowed, ok := transitions[current]
	if !ok {
		return Error, ErrIllegalTransition
	}
	next, ok := allowed[kind]
	if !ok {
		return Error, ErrIllegalTransition
	}
	return next, nil
}

// Reject is the state a session moves to when a frame is rejected with
// an Error or ListError reply, regardless of the state it was in.
func Reject(current State) State {
	return Error
}
