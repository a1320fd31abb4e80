/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session implements the per-connection Connection Session of
// spec §4.3: a state machine (NEW -> REGISTERED -> IN_ROOM -> CLOSED)
// built from a reader goroutine feeding a buffered command channel, a
// single dispatch loop processing commands strictly in arrival order, and
// a dedicated writer goroutine so outbound writes from direct responses,
// broadcasts, and relays are never interleaved.
//
// Grounded on internal/api/webdj_ws.go's HandleWebSocket (reader goroutine
// -> buffered commandCh -> select loop with a ping ticker) and
// other_examples/1e035d4a_djeada-E-Goat's pingPeriod = (pongWait*9)/10
// keep-alive relation.
package session

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/friendsincode/studiosignal/internal/registry"
	"github.com/friendsincode/studiosignal/internal/relay"
	"github.com/friendsincode/studiosignal/internal/room"
	"github.com/friendsincode/studiosignal/internal/signaling"
)

// State is the connection session's position in the handshake state
// machine (spec §4.3).
type State int

const (
	StateNew State = iota
	StateRegistered
	StateInRoom
	StateClosed
)

// maxFrameSize bounds a single inbound JSON frame (Open Question #4,
// resolved in DESIGN.md: 64 KiB per frame).
const maxFrameSize = 64 * 1024

// maxChunkSize bounds a single decoded stream-chunk (32 KiB).
const maxChunkSize = 32 * 1024

// outboundQueueDepth bounds the per-connection outbound queue. Membership
// frames (registered/room-created/room-joined/peer-joined/peer-left/error)
// prefer closing a persistently blocked connection over dropping; mute
// frames are dropped oldest-first on overflow (spec §9 "Backpressure on
// broadcast").
const outboundQueueDepth = 64

// commandQueueDepth bounds the inbound command channel fed by the reader
// goroutine, mirroring internal/api/webdj_ws.go's commandCh.
const commandQueueDepth = 32

var nextConnID uint64

var errOutboundBlocked = errors.New("outbound queue persistently blocked")

// StreamController is the subset of *streamrelay.Table a session drives;
// declared here (rather than imported) so internal/streamrelay never has
// to import internal/session — it reports status back through a plain
// callback instead of holding a session reference.
type StreamController interface {
	Start(hostPeerID, roomID string, notify func(signaling.Outbound)) error
	Chunk(hostPeerID string, raw []byte) error
	Stop(hostPeerID string)
}

// Deps bundles the shared, process-wide components a session dispatches
// into. Constructed once at startup and passed by handle explicitly into
// every session (spec §9 "Global mutable state").
type Deps struct {
	Registry     *registry.Registry
	Rooms        *room.Manager
	Relay        *relay.Relay
	Streams      StreamController
	Logger       zerolog.Logger
	PingInterval time.Duration
	PongTimeout  time.Duration
}

// Session is the per-connection state machine. A Session is the sole
// owner of its outbound write side (spec §3 "Ownership"); the registry
// and rooms hold only its PeerId, never a direct handle, and resolve back
// to this Session through the registry at send time.
type Session struct {
	id     uint64
	conn   *websocket.Conn
	deps   Deps
	logger zerolog.Logger

	state      State
	peerID     string
	roomID     string
	isHost     bool
	streamOpen bool

	outbound chan signaling.Outbound
	closed   chan struct{}
	closeOne atomic.Bool
}

// New allocates a Session wrapping an already-accepted WebSocket.
func New(conn *websocket.Conn, deps Deps) *Session {
	id := atomic.AddUint64(&nextConnID, 1)
	conn.SetReadLimit(maxFrameSize)
	return &Session{
		id:       id,
		conn:     conn,
		deps:     deps,
		logger:   deps.Logger.With().Uint64("conn_id", id).Logger(),
		state:    StateNew,
		outbound: make(chan signaling.Outbound, outboundQueueDepth),
		closed:   make(chan struct{}),
	}
}

// ID satisfies registry.Conn, room.Conn, and relay.Conn.
func (s *Session) ID() uint64 { return s.id }

// Send enqueues msg for delivery on the writer goroutine. Non-blocking:
// mute frames are dropped oldest-first on overflow; every other frame
// type closes a persistently blocked connection rather than silently
// drop a membership notification (spec §9 "Backpressure on broadcast").
func (s *Session) Send(msg signaling.Outbound) error {
	select {
	case s.outbound <- msg:
		return nil
	default:
	}

	if msg.Type == signaling.TypeMute {
		select {
		case <-s.outbound:
		default:
		}
		select {
		case s.outbound <- msg:
		default:
		}
		return nil
	}

	s.logger.Warn().Str("type", msg.Type).Msg("outbound queue persistently blocked, closing connection")
	s.closeAsync()
	return errOutboundBlocked
}

func (s *Session) closeAsync() {
	if s.closeOne.CompareAndSwap(false, true) {
		close(s.closed)
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
