/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package registry implements the process-wide peer registry: a
// bidirectional mapping between a registered PeerId and the connection
// that owns it. Uniqueness of PeerIds is global, not per-room (spec §4.4).
package registry

import (
	"errors"
	"sync"
)

// ErrAlreadyTaken is returned by Register when peerId is already bound to
// a different open connection.
var ErrAlreadyTaken = errors.New("peer id already registered")

// Conn is the minimal handle the registry needs from a connection session.
// internal/session's *Session satisfies this.
type Conn interface {
	// ID distinguishes connections independent of their registered PeerId
	// (two connections may race to register the same PeerId before either
	// succeeds; the registry needs a stable key to compare against).
	ID() uint64
}

// Registry is a single RWMutex-guarded bidirectional map, mirroring the
// teacher's per-station broadcaster manager (one lock, never a lock per
// entry, since entries are cheap to hold and the map itself is the only
// contended resource).
type Registry struct {
	mu     sync.RWMutex
	byPeer map[string]Conn
	byConn map[uint64]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byPeer: make(map[string]Conn),
		byConn: make(map[uint64]string),
	}
}

// Register binds peerID to conn. It fails without mutation if peerID is
// already bound to any open connection (spec §4.4).
func (r *Registry) Register(peerID string, conn Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byPeer[peerID]; taken {
		return ErrAlreadyTaken
	}
	r.byPeer[peerID] = conn
	r.byConn[conn.ID()] = peerID
	return nil
}

// Unregister removes peerID's binding, if any. Idempotent.
func (r *Registry) Unregister(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.byPeer[peerID]; ok {
		delete(r.byConn, conn.ID())
		delete(r.byPeer, peerID)
	}
}

// UnregisterByConnection removes whatever PeerId conn currently owns, if
// any. Idempotent; used by session cleanup on close where the PeerId may
// or may not be known to the caller anymore.
func (r *Registry) UnregisterByConnection(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	peerID, ok := r.byConn[conn.ID()]
	if !ok {
		return
	}
	delete(r.byConn, conn.ID())
	delete(r.byPeer, peerID)
}

// Lookup resolves peerID to its live connection handle.
func (r *Registry) Lookup(peerID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byPeer[peerID]
	return conn, ok
}

// PeerIDOf returns the PeerId currently bound to conn, if any.
func (r *Registry) PeerIDOf(conn Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peerID, ok := r.byConn[conn.ID()]
	return peerID, ok
}

// Count returns the number of currently registered peers, for metrics.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPeer)
}
