/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/


package telemetry

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// statusCapturingWriter records the status code a handler wrote so
// MetricsMiddleware can label a request after the fact. The signaling
// WebSocket upgrade (/signal) never calls WriteHeader through this path —
// nhooyr.io/websocket hijacks the connection via Hijack below — so it is
// recorded with the default 200 status and a duration spanning the whole
// WebSocket session; only the REST surface (/health, /api/station)
// produces request-latency buckets in the usual sense.
type statusCapturingWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *statusCapturingWriter) WriteHeader(code int) {
	if rw.written {
		return
	}
	rw.statusCode = code
	rw.written = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusCapturingWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Hijack passes through to the wrapped writer so the /signal WebSocket
// upgrade can take over the connection.
func (rw *statusCapturingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not implement http.Hijacker")
	}
	return hj.Hijack()
}

// MetricsMiddleware tracks request counts and durations by method, route
// pattern, and status code, plus a live count of in-flight requests.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		APIActiveConnections.Inc()
		defer APIActiveConnections.Dec()

		wrapped := &statusCapturingWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := strconv.Itoa(wrapped.statusCode)

		APIRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(started).Seconds())
		APIRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

// TracingMiddleware wraps every route, including the /signal upgrade, in
// an OpenTelemetry span named by method and path. The name is computed as
// the request enters, before chi has matched a route, so the raw URL path
// is used whenever no route pattern is set yet; for this service's
// parameterless routes the two are the same.
func TracingMiddleware(serviceName string) func(http.Handler) http.Handler {
	nameSpan := func(_ string, r *http.Request) string {
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				return r.Method + " " + pattern
			}
		}
		return r.Method + " " + r.URL.Path
	}
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName, otelhttp.WithSpanNameFormatter(nameSpan))
	}
}
