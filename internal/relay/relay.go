/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package relay implements the unicast Signaling Relay of spec §4.8: it
// forwards offer/answer/ice-candidate messages verbatim to a named target
// peer, and broadcasts mute notifications to a room (Open Question #3,
// resolved: mute is always a room-wide broadcast excluding the sender).
//
// The relay never buffers, reorders, or retries (spec §4.8): if the
// target connection fails at write time, that connection observes its
// own disconnect and its own session cleanup runs normally.
package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/studiosignal/internal/registry"
	"github.com/friendsincode/studiosignal/internal/room"
	"github.com/friendsincode/studiosignal/internal/signaling"
	"github.com/friendsincode/studiosignal/internal/telemetry"
)

// ErrTargetNotConnected is returned when the message's "to" peer has no
// live connection in the registry.
var ErrTargetNotConnected = errors.New("target peer is not connected")

// Conn is what the relay needs to deliver a message directly to a peer.
type Conn interface {
	registry.Conn
	Send(msg signaling.Outbound) error
}

// Relay resolves PeerId -> Connection through the registry at send time
// (spec §3 "Ownership"): it never holds a connection handle itself.
type Relay struct {
	registry *registry.Registry
	logger   zerolog.Logger
}

// New constructs a Relay bound to the shared peer registry.
func New(reg *registry.Registry, logger zerolog.Logger) *Relay {
	return &Relay{registry: reg, logger: logger.With().Str("component", "relay").Logger()}
}

// Unicast forwards msg verbatim to the peer named "to". Returns
// ErrTargetNotConnected if no live connection is registered for that
// PeerId; the caller (the sender's session) is responsible for turning
// that into an error reply to the sender (spec §4.8 step 3).
func (r *Relay) Unicast(to string, msg signaling.Outbound) error {
	start := time.Now()
	defer func() { telemetry.RelayLatency.Observe(time.Since(start).Seconds()) }()

	conn, ok := r.registry.Lookup(to)
	if !ok {
		return ErrTargetNotConnected
	}
	c, ok := conn.(Conn)
	if !ok {
		return ErrTargetNotConnected
	}
	if err := c.Send(msg); err != nil {
		// The target will observe its own disconnect; we don't retry.
		r.logger.Debug().Str("to", to).Err(err).Msg("relay write failed, target will self-cleanup")
		return nil
	}
	return nil
}

// NotConnectedError renders the exact wording the spec's test suite
// expects (spec §6): `error { "Target peer \"<to>\" is not connected" }`.
func NotConnectedError(to string) signaling.Outbound {
	return signaling.ErrorMessage(fmt.Sprintf("Target peer %q is not connected", to))
}

// Mute broadcasts msg to every other participant of r's room, excluding
// the sender, regardless of whether the inbound mute named a specific
// target (spec §4.8 / Open Question #3).
func (r *Relay) Mute(rm *room.Room, senderPeerID string, msg signaling.Outbound) {
	rm.Broadcast(senderPeerID, msg, true)
}
