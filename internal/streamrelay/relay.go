/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package streamrelay implements the Streaming Relay of spec §4.9: a
// per-host IDLE -> CONNECTING -> ACTIVE -> IDLE state machine that forwards
// base64 audio chunks arriving over the signaling channel to an external
// Shoutcast/Icecast-style HTTP PUT sink, with bounded drop-oldest
// backpressure and exponential reconnection backoff.
//
// Grounded on internal/harbor/server.go's streamAudio pump (inverted
// direction: harbor ingests a source, this egresses to one) and
// internal/webstream/health_checker.go's consecutive-failure/backoff
// bookkeeping shape.
package streamrelay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/studiosignal/internal/events"
	"github.com/friendsincode/studiosignal/internal/signaling"
	"github.com/friendsincode/studiosignal/internal/telemetry"
)

// ErrSinkNotConfigured is returned by Start when no sink URL is configured,
// disabling the streaming relay entirely.
var ErrSinkNotConfigured = errors.New("streaming sink is not configured")

// ErrMountBusy is returned when a start-stream arrives while the sink
// mountpoint already has an active egress (spec §4.9: "only one concurrent
// stream per sink mountpoint").
var ErrMountBusy = errors.New("a stream is already active for this sink")

// ErrUnknownHost is returned by Chunk/Stop when hostPeerID has no active
// egress.
var ErrUnknownHost = errors.New("no active stream for this host")

// backoffSchedule implements spec §4.9's "5s, doubling to a 60s ceiling,
// for up to 10 attempts" reconnection policy.
var backoffSchedule = []time.Duration{
	5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 60 * time.Second,
}

const maxReconnectAttempts = 10

// SinkConfig describes the external HTTP PUT egress target (spec §4.9
// "Egress sink").
type SinkConfig struct {
	URL         string
	Username    string
	Password    string
	ContentType string
	QueueDepth  int
}

// Table is the process-wide streaming-relay state: a map keyed by host
// PeerId, one entry installed on start-stream and removed on terminal
// transition (spec §5 "Shared-resource policy").
type Table struct {
	mu      sync.Mutex
	streams map[string]*stream
	mounted bool // true while any stream holds the sink mountpoint

	cfg    SinkConfig
	bus    *events.Bus
	logger zerolog.Logger
	client *http.Client
}

type stream struct {
	hostPeerID string
	roomID     string
	queue      *chunkQueue
	cancel     context.CancelFunc
	notify     func(signaling.Outbound)
}

// NewTable constructs a streaming relay bound to cfg. cfg.URL == "" is
// valid and simply keeps the relay permanently idle (a signaling-only
// deployment with no egress sink).
func NewTable(cfg SinkConfig, bus *events.Bus, logger zerolog.Logger) *Table {
	if cfg.ContentType == "" {
		cfg.ContentType = "audio/webm"
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	return &Table{
		streams: make(map[string]*stream),
		cfg:     cfg,
		bus:     bus,
		logger:  logger.With().Str("component", "streamrelay").Logger(),
		client:  &http.Client{},
	}
}

// Start implements the IDLE -> CONNECTING transition: it installs a table
// entry and launches the egress goroutine, which itself publishes
// stream.started / stream.error back through notify once the sink has
// accepted or rejected the connection.
func (t *Table) Start(hostPeerID, roomID string, notify func(signaling.Outbound)) error {
	if t.cfg.URL == "" {
		return ErrSinkNotConfigured
	}

	t.mu.Lock()
	if _, exists := t.streams[hostPeerID]; exists {
		t.mu.Unlock()
		return ErrMountBusy
	}
	if t.mounted {
		t.mu.Unlock()
		return ErrMountBusy
	}

	ctx, cancel := context.WithCancel(context.Background())
	st := &stream{
		hostPeerID: hostPeerID,
		roomID:     roomID,
		queue:      newChunkQueue(t.cfg.QueueDepth),
		cancel:     cancel,
		notify:     notify,
	}
	t.streams[hostPeerID] = st
	t.mounted = true
	t.mu.Unlock()

	telemetry.ActiveStreams.Inc()
	go t.runEgress(ctx, st)
	return nil
}

// Chunk enqueues already-decoded stream-chunk bytes onto the named host's
// egress body. Overflow drops the oldest queued chunk (spec §4.9).
func (t *Table) Chunk(hostPeerID string, raw []byte) error {
	t.mu.Lock()
	st, ok := t.streams[hostPeerID]
	t.mu.Unlock()
	if !ok {
		return ErrUnknownHost
	}
	if dropped := st.queue.push(raw); dropped {
		t.logger.Warn().Str("host_peer_id", hostPeerID).Msg("egress queue full, dropped oldest chunk")
	}
	return nil
}

// Stop implements an orderly ACTIVE -> IDLE transition: the queue drains
// before the egress request body reaches EOF (spec §4.9 "drain the queue
// on orderly stop").
func (t *Table) Stop(hostPeerID string) {
	t.mu.Lock()
	st, ok := t.streams[hostPeerID]
	t.mu.Unlock()
	if !ok {
		return
	}
	st.queue.closeClean()
}

// runEgress drives one host's CONNECTING -> ACTIVE -> IDLE lifecycle,
// including reconnection with exponential backoff on transient failure.
func (t *Table) runEgress(ctx context.Context, st *stream) {
	defer t.teardown(st)

	attempt := 0
	for {
		err := t.putOnce(ctx, st)
		if err == nil {
			return // clean stop-stream / EOF
		}
		if errors.Is(err, errSinkAuthRejected) {
			t.logger.Warn().Str("host_peer_id", st.hostPeerID).Msg("sink rejected credentials, aborting stream")
			st.notify(signaling.ErrorMessage("streaming sink rejected credentials"))
			t.bus.Publish(events.EventStreamError, events.Payload{"host_peer_id": st.hostPeerID, "reason": "auth"})
			return
		}
		if ctx.Err() != nil {
			return // egress context canceled
		}

		attempt++
		if attempt >= maxReconnectAttempts {
			t.logger.Error().Str("host_peer_id", st.hostPeerID).Err(err).Msg("streaming sink unreachable after max attempts")
			st.notify(signaling.ErrorMessage("streaming sink unreachable, giving up"))
			t.bus.Publish(events.EventStreamError, events.Payload{"host_peer_id": st.hostPeerID, "reason": "max_attempts"})
			return
		}

		delay := backoffSchedule[len(backoffSchedule)-1]
		if attempt-1 < len(backoffSchedule) {
			delay = backoffSchedule[attempt-1]
		}
		t.logger.Warn().Str("host_peer_id", st.hostPeerID).Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("streaming sink write failed, retrying")
		st.notify(signaling.Outbound{Type: signaling.TypeStreamStatus, Status: "retrying"})

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

var errSinkAuthRejected = errors.New("sink rejected credentials")

// putOnce performs one PUT attempt against the sink, streaming chunks from
// st.queue as the request body. Returns nil on a clean EOF (orderly stop),
// errSinkAuthRejected on 401/403, or a wrapped error for any other
// transient failure eligible for retry.
func (t *Table) putOnce(ctx context.Context, st *stream) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.cfg.URL, st.queue)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(t.cfg.Username, t.cfg.Password)
	req.Header.Set("Content-Type", t.cfg.ContentType)
	req.Header.Set("User-Agent", "StudioSignal/1.0")
	req.ContentLength = -1 // streaming body, length unknown

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil // egress context canceled, not a sink failure
		}
		return fmt.Errorf("put failed: %w", err)
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errSinkAuthRejected
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sink responded %s", resp.Status)
	}

	st.notify(signaling.Outbound{Type: signaling.TypeStreamStatus, Status: "active"})
	t.bus.Publish(events.EventStreamStarted, events.Payload{"host_peer_id": st.hostPeerID, "room_id": st.roomID})
	return nil
}

func (t *Table) teardown(st *stream) {
	st.cancel()
	st.queue.abort()
	t.mu.Lock()
	delete(t.streams, st.hostPeerID)
	t.mounted = false
	t.mu.Unlock()
	telemetry.ActiveStreams.Dec()
	st.notify(signaling.Outbound{Type: signaling.TypeStreamStatus, Status: "stopped"})
	t.bus.Publish(events.EventStreamStopped, events.Payload{"host_peer_id": st.hostPeerID})
}
