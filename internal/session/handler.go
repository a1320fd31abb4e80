/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/friendsincode/studiosignal/internal/signaling"
)

// HandleConnection upgrades the request to a WebSocket and runs the
// connection session to completion. It returns once the session has
// closed and all cleanup (registry, room, stream relay) has run.
//
// Grounded on internal/webrtc/broadcaster.go's HandleSignaling (Accept
// with permissive OriginPatterns — browser clients are commonly served
// from a separate origin than the signaling endpoint, spec §4.2) and
// internal/api/webdj_ws.go's reader-goroutine / commandCh / select-loop
// shape.
func HandleConnection(w http.ResponseWriter, r *http.Request, deps Deps) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		deps.Logger.Error().Err(err).Msg("websocket accept failed")
		return
	}

	s := New(conn, deps)
	s.run(r.Context())
}

// frame pairs a raw inbound payload with the WebSocket message type it
// arrived as, so the dispatch side can tell a JSON control frame from a
// binary stream-chunk frame (spec §9 "Design Notes": binary frames are an
// accepted alternate encoding for stream-chunk's payload, sharing the same
// bounded egress queue as the base64 envelope).
type frame struct {
	binary bool
	data   []byte
}

func (s *Session) run(ctx context.Context) {
	defer s.cleanup()

	commandCh := make(chan frame, commandQueueDepth)
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)
		for {
			mt, data, err := s.conn.Read(ctx)
			if err != nil {
				return
			}
			select {
			case commandCh <- frame{binary: mt == websocket.MessageBinary, data: data}:
			default:
				s.logger.Warn().Msg("command channel full, dropping inbound frame")
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx)
	}()

	pingInterval := s.deps.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	pongTimeout := s.deps.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = 45 * time.Second
	}
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.conn.Close(websocket.StatusNormalClosure, "server shutting down")
			<-writerDone
			return

		case <-s.closed:
			s.conn.Close(websocket.StatusPolicyViolation, "connection closed")
			<-writerDone
			return

		case <-readerDone:
			s.closeAsync()
			s.conn.Close(websocket.StatusNormalClosure, "client disconnected")
			<-writerDone
			return

		case <-pingTicker.C:
			go s.sendKeepAlivePing(ctx, pongTimeout)

		case f := <-commandCh:
			if f.binary {
				s.handleBinaryChunk(f.data)
			} else {
				s.handleFrame(f.data)
			}
		}
	}
}

// writeLoop is the sole writer of s.conn; every outbound frame — direct
// replies, room broadcasts, and relayed messages alike — passes through
// s.outbound so frames are never interleaved (spec §4.3).
func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-s.closed:
			return
		case <-ctx.Done():
			return
		case msg := <-s.outbound:
			data, err := msg.Encode()
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to encode outbound message")
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = s.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.logger.Debug().Err(err).Msg("outbound write failed")
				s.closeAsync()
				return
			}
		}
	}
}

// sendKeepAlivePing issues a protocol-level ping and closes the
// connection if no pong arrives within timeout (spec §4.3 keep-alive).
func (s *Session) sendKeepAlivePing(ctx context.Context, timeout time.Duration) {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.conn.Ping(pingCtx); err != nil {
		s.logger.Debug().Err(err).Msg("keep-alive ping timed out, closing connection")
		s.closeAsync()
	}
}

func (s *Session) handleFrame(data []byte) {
	var msg signaling.Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = s.Send(signaling.ErrorMessage("malformed message: " + err.Error()))
		return
	}
	s.dispatch(msg)
}

// handleBinaryChunk routes a raw binary WebSocket frame directly into the
// stream-chunk path, bypassing the base64 envelope entirely (spec §9
// "Design Notes" supplemental encoding). It shares every admission check
// handleStreamChunk applies to the JSON-envelope form.
func (s *Session) handleBinaryChunk(raw []byte) {
	if s.state != StateInRoom || !s.streamOpen {
		_ = s.Send(signaling.ErrorMessage("stream-chunk received without an active start-stream"))
		return
	}
	s.forwardChunk(raw)
}

// cleanup runs the deterministic close routine of spec §4.3: leave any
// room (triggering peer-left), unregister the PeerId, stop any
// in-progress stream this connection owned.
func (s *Session) cleanup() {
	s.closeAsync()

	if s.streamOpen && s.peerID != "" {
		s.deps.Streams.Stop(s.peerID)
		s.streamOpen = false
	}
	if s.state == StateInRoom && s.peerID != "" {
		s.deps.Rooms.Leave(s.peerID)
	}
	if s.peerID != "" {
		s.deps.Registry.Unregister(s.peerID)
	} else {
		s.deps.Registry.UnregisterByConnection(s)
	}
	s.state = StateClosed
}
