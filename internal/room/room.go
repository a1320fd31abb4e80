/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package room implements the Room Manager and Room components of the
// signaling core: room creation/lookup/destruction, membership, role
// assignment, and the broadcast helper used by the relay for peer-joined
// / peer-left / mute notifications.
//
// Grounded on internal/webdj/service.go's session/subscriber bookkeeping
// and other_examples/09908d5b_Caqil-bro's per-room mutex + participant map
// shape: one lock per room (never one global broadcast lock), and writes
// to recipients always happen after releasing the room's lock.
package room

import (
	"sync"
	"time"

	"github.com/friendsincode/studiosignal/internal/registry"
	"github.com/friendsincode/studiosignal/internal/signaling"
)

// Conn is what Room needs from a connection to deliver a message to it.
type Conn interface {
	registry.Conn
	Send(msg signaling.Outbound) error
}

// Member records a participant's role and join time.
type Member struct {
	PeerID   string
	Role     signaling.Role
	JoinedAt time.Time
}

// Room is an ordered, bounded set of peers sharing a signaling scope
// (spec §3). Insertion order is preserved for participantsSnapshot.
type Room struct {
	ID        string
	CreatedAt time.Time

	mu       sync.RWMutex
	order    []string // insertion-ordered PeerIds
	members  map[string]Member
	registry *registry.Registry
}

func newRoom(id string, reg *registry.Registry) *Room {
	return &Room{
		ID:        id,
		CreatedAt: time.Now(),
		members:   make(map[string]Member),
		registry:  reg,
	}
}

// hasHost reports whether a live host is already present, under lock.
func (r *Room) hasHost() bool {
	for _, pid := range r.order {
		if r.members[pid].Role == signaling.RoleHost {
			return true
		}
	}
	return false
}

// add inserts peerID with the requested role, downgrading a second host
// request to guest (Open Question #1, resolved in DESIGN.md: at most one
// host per room). Returns the role actually assigned and whether it was
// downgraded.
func (r *Room) add(peerID string, role signaling.Role) (assigned signaling.Role, downgraded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	assigned = role
	if assigned == "" {
		assigned = signaling.RoleGuest
	}
	if assigned == signaling.RoleHost && r.hasHost() {
		assigned = signaling.RoleGuest
		downgraded = true
	}

	r.order = append(r.order, peerID)
	r.members[peerID] = Member{PeerID: peerID, Role: assigned, JoinedAt: time.Now()}
	return assigned, downgraded
}

// remove deletes peerID from the room and reports whether the room is now
// empty, under lock.
func (r *Room) remove(peerID string) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[peerID]; !ok {
		return len(r.order) == 0
	}
	delete(r.members, peerID)
	for i, pid := range r.order {
		if pid == peerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return len(r.order) == 0
}

// ParticipantsSnapshot returns a copy of the insertion-ordered participant
// list, safe to hand to a joiner or an outside caller (spec §4.7).
func (r *Room) ParticipantsSnapshot() []signaling.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]signaling.Participant, 0, len(r.order))
	for _, pid := range r.order {
		m := r.members[pid]
		out = append(out, signaling.Participant{PeerID: m.PeerID, Role: m.Role})
	}
	return out
}

// RoleOf returns the role peerID currently holds in the room, if present.
func (r *Room) RoleOf(peerID string) (signaling.Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[peerID]
	return m.Role, ok
}

// size returns the current participant count, under lock.
func (r *Room) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Broadcast resolves every current participant (optionally excluding
// senderPeerID) to a live connection via the registry and writes message
// to each. Missing or closed connections are silently skipped; a
// subsequent peer-left reconciles the room (spec §4.7).
//
// The participant set is snapshotted under the room lock and the lock is
// released before any write, so one slow or dead recipient can never
// stall other rooms — or even other broadcasts to this room.
func (r *Room) Broadcast(senderPeerID string, message signaling.Outbound, excludeSender bool) {
	r.mu.RLock()
	recipients := make([]string, 0, len(r.order))
	for _, pid := range r.order {
		if excludeSender && pid == senderPeerID {
			continue
		}
		recipients = append(recipients, pid)
	}
	r.mu.RUnlock()

	for _, pid := range recipients {
		conn, ok := r.registry.Lookup(pid)
		if !ok {
			continue
		}
		c, ok := conn.(Conn)
		if !ok {
			continue
		}
		_ = c.Send(message) // write failures surface as that connection's own disconnect
	}
}
