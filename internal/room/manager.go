/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package room

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/studiosignal/internal/events"
	"github.com/friendsincode/studiosignal/internal/registry"
	"github.com/friendsincode/studiosignal/internal/signaling"
	"github.com/friendsincode/studiosignal/internal/telemetry"
)

// ErrAlreadyInRoom is returned by CreateOrJoin when the requesting peer is
// already a member of a room (spec §4.6: "must leave first or disconnect").
var ErrAlreadyInRoom = errors.New("peer is already in a room")

// Entry describes the outcome of CreateOrJoin for the caller, carrying
// enough information to build the room-created / room-joined reply and
// the peer-joined notification to existing members.
type Entry struct {
	Room       *Room
	Role       signaling.Role
	Created    bool // true if this call created the room
	Downgraded bool // true if a requested "host" role was downgraded to "guest"
}

// Manager owns the process-wide room table. One RWMutex guards the table
// itself (creation/lookup/destruction); each Room has its own lock for
// membership and broadcast, so one busy room never blocks another (spec
// §5 "Shared-resource policy").
type Manager struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	peerRoom map[string]string // PeerId -> RoomID, for the "already in a room" check and Leave
	registry *registry.Registry
	bus      *events.Bus
	logger   zerolog.Logger
}

// NewManager creates an empty room manager bound to reg for connection
// resolution during broadcast.
func NewManager(reg *registry.Registry, bus *events.Bus, logger zerolog.Logger) *Manager {
	return &Manager{
		rooms:    make(map[string]*Room),
		peerRoom: make(map[string]string),
		registry: reg,
		bus:      bus,
		logger:   logger.With().Str("component", "room_manager").Logger(),
	}
}

// CreateOrJoin implements spec §4.6: if roomID is empty or unknown, a new
// room is created with a fresh UUID-v4 id; otherwise peerID joins the
// existing room. Fails if peerID is already a member of any room.
func (m *Manager) CreateOrJoin(peerID string, roomID string, role signaling.Role) (Entry, error) {
	m.mu.Lock()
	if _, already := m.peerRoom[peerID]; already {
		m.mu.Unlock()
		return Entry{}, ErrAlreadyInRoom
	}

	var (
		r       *Room
		created bool
	)
	if roomID != "" {
		r = m.rooms[roomID]
	}
	if r == nil {
		r = newRoom(uuid.NewString(), m.registry)
		m.rooms[r.ID] = r
		created = true
	}
	m.peerRoom[peerID] = r.ID
	telemetry.ActiveRooms.Set(float64(len(m.rooms)))
	m.mu.Unlock()

	// The membership mutation happens under the room's lock; the
	// peer-joined broadcast follows once that lock is released, but still
	// before CreateOrJoin returns. The new peer's session only dispatches
	// its next message after this call returns, so peer-joined reaches
	// existing members before any relayed message from the new peer.
	assigned, downgraded := r.add(peerID, role)
	if !created {
		r.Broadcast(peerID, signaling.Outbound{
			Type:   signaling.TypePeerJoined,
			PeerID: peerID,
			Role:   assigned,
		}, true)
		m.bus.Publish(events.EventRoomJoined, events.Payload{"room_id": r.ID, "peer_id": peerID, "role": string(assigned)})
	} else {
		m.bus.Publish(events.EventRoomCreated, events.Payload{"room_id": r.ID, "peer_id": peerID, "role": string(assigned)})
	}

	if downgraded {
		m.logger.Warn().
			Str("room_id", r.ID).
			Str("peer_id", peerID).
			Msg("host role requested but a host is already present; downgraded to guest")
	}

	return Entry{Room: r, Role: assigned, Created: created, Downgraded: downgraded}, nil
}

// Lookup resolves a RoomID to its Room, if it still exists.
func (m *Manager) Lookup(roomID string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	return r, ok
}

// RoomOf returns the room peerID currently belongs to, if any.
func (m *Manager) RoomOf(peerID string) (*Room, bool) {
	m.mu.RLock()
	roomID, ok := m.peerRoom[peerID]
	if !ok {
		m.mu.RUnlock()
		return nil, false
	}
	r, ok := m.rooms[roomID]
	m.mu.RUnlock()
	return r, ok
}

// Leave removes peerID from its room and broadcasts peer-left to the
// remaining members. A no-op if peerID is not a member of any room (spec
// §8: "leave on a non-existent membership is a no-op"). The room is
// destroyed synchronously the instant its last participant leaves.
func (m *Manager) Leave(peerID string) {
	m.mu.Lock()
	roomID, ok := m.peerRoom[peerID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.peerRoom, peerID)
	r := m.rooms[roomID]
	m.mu.Unlock()

	if r == nil {
		return
	}

	empty := r.remove(peerID)
	r.Broadcast(peerID, signaling.Outbound{Type: signaling.TypePeerLeft, PeerID: peerID}, true)

	if empty {
		m.mu.Lock()
		delete(m.rooms, roomID)
		telemetry.ActiveRooms.Set(float64(len(m.rooms)))
		m.mu.Unlock()
		m.bus.Publish(events.EventRoomDestroyed, events.Payload{"room_id": roomID})
	}
}
