/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package signaling

import "fmt"

// ConnState is the subset of connection-session state the validator needs
// to decide whether a message is admissible; it does not own the state
// machine itself (internal/session does).
type ConnState struct {
	Registered bool
	InRoom     bool
	PeerID     string // the connection's own registered PeerId, once Registered
}

// ValidationError accumulates the human-readable reasons a message was
// rejected. Validation is purely syntactic and origin-based (spec §4.5);
// it never inspects SDP or candidate contents.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	if len(e.Reasons) == 1 {
		return e.Reasons[0]
	}
	msg := ""
	for i, r := range e.Reasons {
		if i > 0 {
			msg += "; "
		}
		msg += r
	}
	return msg
}

func fail(reason string, args ...any) error {
	return &ValidationError{Reasons: []string{fmt.Sprintf(reason, args...)}}
}

// Validate checks msg against the connection's current state and returns
// nil if admissible, or a *ValidationError describing why not.
func Validate(state ConnState, msg Inbound) error {
	switch msg.Type {
	case TypeRegister:
		if msg.PeerID == "" {
			return fail("register requires a non-empty peerId")
		}
		return nil

	case TypePing:
		return nil

	case TypeCreateRoom, TypeJoinRoom, TypeCreateOrJoinRoom:
		if !state.Registered {
			return fail("must register before requesting room entry")
		}
		if !msg.Role.IsValid() {
			return fail("role must be one of host, ops, guest")
		}
		if msg.Type == TypeJoinRoom && msg.RoomID == "" {
			return fail("join-room requires roomId")
		}
		return nil

	case TypeOffer, TypeAnswer:
		if !state.Registered {
			return fail("must register before sending %s", msg.Type)
		}
		if !state.InRoom {
			return fail("must join a room before sending %s", msg.Type)
		}
		if msg.From == "" || msg.To == "" {
			return fail("%s requires from and to", msg.Type)
		}
		if msg.SDP == nil {
			return fail("%s requires sdp", msg.Type)
		}
		if msg.From != state.PeerID {
			return fail("from must match registered peer id")
		}
		return nil

	case TypeICECandidate:
		if !state.Registered {
			return fail("must register before sending ice-candidate")
		}
		if !state.InRoom {
			return fail("must join a room before sending ice-candidate")
		}
		if msg.From == "" || msg.To == "" {
			return fail("ice-candidate requires from and to")
		}
		if msg.Candidate == nil {
			return fail("ice-candidate requires candidate")
		}
		if msg.From != state.PeerID {
			return fail("from must match registered peer id")
		}
		return nil

	case TypeMute:
		if !state.Registered {
			return fail("must register before sending mute")
		}
		if !state.InRoom {
			return fail("must join a room before sending mute")
		}
		if msg.From != state.PeerID {
			return fail("from must match registered peer id")
		}
		if msg.PeerID == "" {
			return fail("mute requires peerId")
		}
		if msg.Muted == nil {
			return fail("mute requires muted")
		}
		if msg.Authority != AuthorityProducer && msg.Authority != AuthoritySelf {
			return fail("authority must be producer or self")
		}
		return nil

	case TypeStartStream, TypeStopStream:
		if !state.Registered {
			return fail("must register before %s", msg.Type)
		}
		if !state.InRoom {
			return fail("must join a room before %s", msg.Type)
		}
		return nil

	case TypeStreamChunk:
		if !state.Registered || !state.InRoom {
			return fail("must join a room before stream-chunk")
		}
		if msg.Chunk == "" {
			return fail("stream-chunk requires chunk")
		}
		return nil

	default:
		return fail("unknown message type %q", msg.Type)
	}
}
