/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/studiosignal/internal/config"
	"github.com/friendsincode/studiosignal/internal/events"
	"github.com/friendsincode/studiosignal/internal/registry"
	"github.com/friendsincode/studiosignal/internal/relay"
	"github.com/friendsincode/studiosignal/internal/room"
	"github.com/friendsincode/studiosignal/internal/session"
	"github.com/friendsincode/studiosignal/internal/station"
	"github.com/friendsincode/studiosignal/internal/streamrelay"
	"github.com/friendsincode/studiosignal/internal/telemetry"
)

// Server bundles the HTTP listener and the signaling core's shared,
// process-wide singletons: the peer registry, room manager, relay, and
// streaming-relay table (spec §9 "Global mutable state": initialize once,
// pass explicit handles into each session).
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	bus      *events.Bus
	registry *registry.Registry
	rooms    *room.Manager
	relay    *relay.Relay
	streams  *streamrelay.Table
	station  *station.Station
	tracer   *telemetry.TracerProvider

	startedAt time.Time

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies, following the
// teacher's chi-router-plus-middleware-chain shape: request ID, real IP,
// structured request logging, panic recovery, tracing, metrics, and a
// timeout middleware that exempts long-lived WebSocket connections.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	tracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:  "studiosignal",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.TracingEnabled,
		SampleRate:   cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(telemetry.TracingMiddleware("studiosignal-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(securityHeadersMiddleware)
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The signaling WebSocket is a long-lived connection; it must
			// never be cut off by the request timeout middleware (spec §4.1).
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		tracer:    tracer,
		startedAt: time.Now(),
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	// Request contexts derive from baseCtx, which is canceled as soon as
	// Shutdown begins. Shutdown does not track hijacked connections, so
	// this is how open signaling WebSocket sessions learn to close.
	baseCtx, cancelBase := context.WithCancel(context.Background())

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:    addr,
		Handler: srv.router,
		// WriteTimeout is 0: the signaling WebSocket outlives any fixed
		// response deadline; the timeout middleware above already bounds
		// ordinary routes.
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.httpServer.RegisterOnShutdown(cancelBase)

	return srv, nil
}

func (s *Server) initDependencies() error {
	manifest, err := station.Load(s.cfg.StationManifestPath)
	if err != nil {
		return fmt.Errorf("load station manifest: %w", err)
	}
	s.station = manifest

	s.registry = registry.New()
	s.rooms = room.NewManager(s.registry, s.bus, s.logger)
	s.relay = relay.New(s.registry, s.logger)
	s.streams = streamrelay.NewTable(streamrelay.SinkConfig{
		URL:         s.cfg.SinkURL,
		Username:    s.cfg.SinkUsername,
		Password:    s.cfg.SinkPassword,
		ContentType: s.cfg.SinkContentType,
		QueueDepth:  s.cfg.SinkQueueDepth,
	}, s.bus, s.logger)

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.tracer.Shutdown(context.Background()); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// DeferClose registers a cleanup hook, run in reverse-registration order by
// Close.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// startBackgroundWorkers is currently a no-op placeholder: the signaling
// core has no periodic task of its own (no scheduler, no health-check
// loop); every background activity lives inside a connection session or a
// streaming-relay egress goroutine, both started on demand. Kept in the
// teacher's shape so a future ambient worker (e.g. a stale-room sweep) has
// an obvious home.
func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel
	_ = ctx
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/health", s.handleHealthz)
	s.router.Handle("/metrics", telemetry.Handler())
	s.router.Get("/api/station", s.handleStation)
	s.router.HandleFunc("/signal", s.handleSignal)
}

// handleHealthz must return quickly regardless of room/peer counts (spec
// §4.2): it reports only process uptime, never touching the registry or
// room manager locks.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","uptime":%d}`, int(time.Since(s.startedAt).Seconds()))
}

// handleStation serves the cached station manifest payload (spec §4.2/§6).
// Cross-origin headers are set unconditionally: browser peers are commonly
// served from a separate origin than the signaling endpoint.
func (s *Server) handleStation(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	payload := s.station.Payload()
	if err := writeJSON(w, payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode station payload")
	}
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	session.HandleConnection(w, r, session.Deps{
		Registry:     s.registry,
		Rooms:        s.rooms,
		Relay:        s.relay,
		Streams:      s.streams,
		Logger:       s.logger,
		PingInterval: s.cfg.PingInterval,
		PongTimeout:  s.cfg.PongTimeout,
	})
}
