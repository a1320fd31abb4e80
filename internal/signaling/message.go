/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package signaling defines the wire types exchanged over a connection
// session's WebSocket channel and the validator that checks them before
// they reach the room manager or relay.
//
// SDP offers/answers and ICE candidates are carried as opaque Pion types:
// the signaling core never interprets their contents (spec non-goal), it
// only forwards them verbatim between browser peers that do the real
// WebRTC negotiation themselves.
package signaling

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Message types, discriminated by the "type" field.
const (
	TypeRegister        = "register"
	TypeRegistered      = "registered"
	TypeCreateRoom       = "create-room"
	TypeJoinRoom         = "join-room"
	TypeCreateOrJoinRoom = "create-or-join-room"
	TypeRoomCreated      = "room-created"
	TypeRoomJoined       = "room-joined"
	TypePeerJoined       = "peer-joined"
	TypePeerLeft         = "peer-left"
	TypeOffer            = "offer"
	TypeAnswer           = "answer"
	TypeICECandidate     = "ice-candidate"
	TypeMute             = "mute"
	TypeStartStream      = "start-stream"
	TypeStreamChunk      = "stream-chunk"
	TypeStopStream       = "stop-stream"
	TypePing             = "ping"
	TypePong             = "pong"
	TypeError            = "error"
	TypeStreamStatus     = "stream-status"
)

// Role is a peer's declared position in a room.
type Role string

const (
	RoleHost  Role = "host"
	RoleOps   Role = "ops"
	RoleGuest Role = "guest"
)

// IsValid reports whether r is one of the three recognized roles. An empty
// role is accepted by callers as "unspecified" and defaulted elsewhere;
// IsValid only rejects garbage values.
func (r Role) IsValid() bool {
	switch r {
	case RoleHost, RoleOps, RoleGuest, "":
		return true
	default:
		return false
	}
}

// Authority identifies who is asserting a mute change.
type Authority string

const (
	AuthorityProducer Authority = "producer"
	AuthoritySelf     Authority = "self"
)

// Inbound is the generic envelope every inbound frame is first decoded
// into; Type selects how the remaining fields are reinterpreted.
type Inbound struct {
	Type string `json:"type"`

	// register
	PeerID string `json:"peerId,omitempty"`

	// create-room / join-room / create-or-join-room
	RoomID string `json:"roomId,omitempty"`
	Role   Role   `json:"role,omitempty"`

	// offer / answer / ice-candidate / mute
	From      string                     `json:"from,omitempty"`
	To        string                     `json:"to,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Muted     *bool                      `json:"muted,omitempty"`
	Authority Authority                  `json:"authority,omitempty"`

	// stream-chunk
	Chunk string `json:"chunk,omitempty"`
}

// Participant describes one room member as sent to joiners and observers.
type Participant struct {
	PeerID string `json:"peerId"`
	Role   Role   `json:"role"`
}

// Outbound is a server-originated or relayed message. Fields are tagged
// omitempty so each message type only serializes what it needs; MarshalJSON
// is the standard encoding/json behavior, no custom marshaling required.
type Outbound struct {
	Type string `json:"type"`

	PeerID string `json:"peerId,omitempty"`

	RoomID       string        `json:"roomId,omitempty"`
	HostID       string        `json:"hostId,omitempty"`
	Role         Role          `json:"role,omitempty"`
	Participants []Participant `json:"participants,omitempty"`

	From      string                     `json:"from,omitempty"`
	To        string                     `json:"to,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Muted     *bool                      `json:"muted,omitempty"`
	Authority Authority                  `json:"authority,omitempty"`

	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// stream-status
	Status string `json:"status,omitempty"`
}

// Encode serializes o as the single JSON object carried in one text frame.
func (o Outbound) Encode() ([]byte, error) {
	return json.Marshal(o)
}

// ErrorMessage builds the standard error envelope (spec §7: session-local
// errors are replies, never a disconnect).
func ErrorMessage(msg string) Outbound {
	return Outbound{Type: TypeError, Message: msg}
}
