/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"encoding/base64"
	"errors"

	"github.com/friendsincode/studiosignal/internal/registry"
	"github.com/friendsincode/studiosignal/internal/relay"
	"github.com/friendsincode/studiosignal/internal/signaling"
	"github.com/friendsincode/studiosignal/internal/telemetry"
)

// dispatch is the single logical worker for this connection: inbound
// messages are processed strictly in the order handleFrame delivered them
// (spec §4.3). It validates, then routes to the appropriate component,
// and only ever replies to the sender directly or through Broadcast/Relay
// — never by reaching into ambient globals (spec §9).
func (s *Session) dispatch(msg signaling.Inbound) {
	telemetry.MessageTotal.WithLabelValues(msg.Type).Inc()

	state := signaling.ConnState{
		Registered: s.state != StateNew,
		InRoom:     s.state == StateInRoom,
		PeerID:     s.peerID,
	}
	if err := signaling.Validate(state, msg); err != nil {
		_ = s.Send(signaling.ErrorMessage(err.Error()))
		return
	}

	switch msg.Type {
	case signaling.TypeRegister:
		s.handleRegister(msg)
	case signaling.TypePing:
		_ = s.Send(signaling.Outbound{Type: signaling.TypePong, Timestamp: nowMillis()})
	case signaling.TypeCreateRoom:
		s.handleCreateOrJoin("", msg.Role)
	case signaling.TypeJoinRoom:
		s.handleCreateOrJoin(msg.RoomID, msg.Role)
	case signaling.TypeCreateOrJoinRoom:
		s.handleCreateOrJoin(msg.RoomID, msg.Role)
	case signaling.TypeOffer:
		s.handleUnicast(msg.To, signaling.Outbound{Type: signaling.TypeOffer, From: msg.From, To: msg.To, SDP: msg.SDP})
	case signaling.TypeAnswer:
		s.handleUnicast(msg.To, signaling.Outbound{Type: signaling.TypeAnswer, From: msg.From, To: msg.To, SDP: msg.SDP})
	case signaling.TypeICECandidate:
		s.handleUnicast(msg.To, signaling.Outbound{Type: signaling.TypeICECandidate, From: msg.From, To: msg.To, Candidate: msg.Candidate})
	case signaling.TypeMute:
		s.handleMute(msg)
	case signaling.TypeStartStream:
		s.handleStartStream()
	case signaling.TypeStreamChunk:
		s.handleStreamChunk(msg)
	case signaling.TypeStopStream:
		s.handleStopStream()
	}
}

func (s *Session) handleRegister(msg signaling.Inbound) {
	if s.state != StateNew {
		_ = s.Send(signaling.ErrorMessage("already registered"))
		return
	}
	if err := s.deps.Registry.Register(msg.PeerID, s); err != nil {
		if errors.Is(err, registry.ErrAlreadyTaken) {
			_ = s.Send(signaling.ErrorMessage("peer id \"" + msg.PeerID + "\" is already registered"))
			return
		}
		_ = s.Send(signaling.ErrorMessage(err.Error()))
		return
	}
	s.peerID = msg.PeerID
	s.state = StateRegistered
	telemetry.ConnectedPeers.Set(float64(s.deps.Registry.Count()))
	_ = s.Send(signaling.Outbound{Type: signaling.TypeRegistered, PeerID: msg.PeerID})
}

func (s *Session) handleCreateOrJoin(roomID string, role signaling.Role) {
	entry, err := s.deps.Rooms.CreateOrJoin(s.peerID, roomID, role)
	if err != nil {
		_ = s.Send(signaling.ErrorMessage(err.Error()))
		return
	}

	s.roomID = entry.Room.ID
	s.state = StateInRoom
	s.isHost = entry.Role == signaling.RoleHost

	if entry.Created {
		_ = s.Send(signaling.Outbound{
			Type:   signaling.TypeRoomCreated,
			RoomID: entry.Room.ID,
			HostID: s.peerID,
			Role:   entry.Role,
		})
		return
	}

	_ = s.Send(signaling.Outbound{
		Type:         signaling.TypeRoomJoined,
		RoomID:       entry.Room.ID,
		Role:         entry.Role,
		Participants: entry.Room.ParticipantsSnapshot(),
	})
}

func (s *Session) handleUnicast(to string, out signaling.Outbound) {
	if err := s.deps.Relay.Unicast(to, out); err != nil {
		_ = s.Send(relay.NotConnectedError(to))
	}
}

func (s *Session) handleMute(msg signaling.Inbound) {
	r, ok := s.deps.Rooms.RoomOf(s.peerID)
	if !ok {
		_ = s.Send(signaling.ErrorMessage("not currently in a room"))
		return
	}
	out := signaling.Outbound{
		Type:      signaling.TypeMute,
		From:      msg.From,
		PeerID:    msg.PeerID,
		Muted:     msg.Muted,
		Authority: msg.Authority,
	}
	s.deps.Relay.Mute(r, s.peerID, out)
}

func (s *Session) handleStartStream() {
	if !s.isHost {
		_ = s.Send(signaling.ErrorMessage("only the room host may start a stream"))
		return
	}
	if s.streamOpen {
		_ = s.Send(signaling.ErrorMessage("a stream is already active for this connection"))
		return
	}
	notify := func(out signaling.Outbound) { _ = s.Send(out) }
	if err := s.deps.Streams.Start(s.peerID, s.roomID, notify); err != nil {
		_ = s.Send(signaling.ErrorMessage(err.Error()))
		return
	}
	s.streamOpen = true
}

func (s *Session) handleStreamChunk(msg signaling.Inbound) {
	if !s.streamOpen {
		_ = s.Send(signaling.ErrorMessage("stream-chunk received without an active start-stream"))
		return
	}
	raw, err := base64.StdEncoding.DecodeString(msg.Chunk)
	if err != nil {
		_ = s.Send(signaling.ErrorMessage("invalid base64 in stream-chunk"))
		return
	}
	s.forwardChunk(raw)
}

// forwardChunk enforces the size cap and hands raw bytes to the stream
// controller, shared by both the base64 JSON envelope (handleStreamChunk)
// and the binary-frame encoding (handleBinaryChunk in handler.go).
func (s *Session) forwardChunk(raw []byte) {
	if len(raw) > maxChunkSize {
		_ = s.Send(signaling.ErrorMessage("stream-chunk exceeds maximum size"))
		return
	}
	if err := s.deps.Streams.Chunk(s.peerID, raw); err != nil {
		_ = s.Send(signaling.ErrorMessage(err.Error()))
	}
}

func (s *Session) handleStopStream() {
	if !s.streamOpen {
		_ = s.Send(signaling.ErrorMessage("no active stream to stop"))
		return
	}
	s.deps.Streams.Stop(s.peerID)
	s.streamOpen = false
}

