// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	retryAfterQuery = "1"

	// Upper bound on waiting for the hub to answer a read request.
	queryTimeout = 5 * time.Second

	DefaultRateLimit  = 100
	DefaultRateWindow = 15 * time.Minute
)

func hubBusyResponse(w http.ResponseWriter, retryAfter string) {
	w.Header().Set("Retry-After", retryAfter)
	http.Error(w, "Too Many Requests: Server is busy", http.StatusTooManyRequests)
}

// parseLimit reads the "limit" query parameter, clamped to [1, max].
func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}
	if limit < 1 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}

// Options represent server options.
type Options struct {
	Addr     string
	Cert     *tls.Certificate
	Listener net.Listener
	Debug    bool

	// StaticDir, if set, is served at the root path.
	StaticDir string

	// AllowedOrigins lists the cross-origin callers allowed by CORS and by
	// the WebSocket upgrader. Same-host requests are always allowed.
	AllowedOrigins []string

	// RateLimit is the number of HTTP requests allowed per client IP per
	// RateWindow. Zero disables rate limiting.
	RateLimit  int
	RateWindow time.Duration

	// TrustProxy takes the client address from X-Forwarded-For and
	// X-Real-IP. Only set it behind a proxy that overwrites those headers.
	TrustProxy bool

	// Metrics is the registry /metrics is served from. A fresh registry is
	// created if nil.
	Metrics *prometheus.Registry

	// Clock overrides time.Now. For testing.
	Clock func() time.Time
}

// Server represents the running server instance.
type Server struct {
	httpServer *http.Server
	hub        *Hub
	stopHub    context.CancelFunc
}

// Shutdown stops the hub, which closes every WebSocket connection, then
// gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []string

	s.stopHub()
	select {
	case <-s.hub.Done():
	case <-ctx.Done():
		errs = append(errs, fmt.Sprintf("hub: %v", ctx.Err()))
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Sprintf("http: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %s", strings.Join(errs, ", "))
	}
	return nil
}

// StartServer starts the web server and registers the API handlers.
func StartServer(opts Options) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	hub, handler := NewServerHandler(ctx, opts)

	httpServer := &http.Server{
		Addr:    opts.Addr,
		Handler: handler,
	}
	if opts.Cert != nil {
		httpServer.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{*opts.Cert},
		}
	}

	go func() {
		var err error
		switch {
		case opts.Listener != nil && opts.Cert != nil:
			log.Printf("Starting HTTPS server on provided listener %s...", opts.Listener.Addr())
			err = httpServer.ServeTLS(opts.Listener, "", "")
		case opts.Listener != nil:
			log.Printf("Starting HTTP server on provided listener %s...", opts.Listener.Addr())
			err = httpServer.Serve(opts.Listener)
		case opts.Cert != nil:
			log.Printf("Starting HTTPS server on %s...", opts.Addr)
			err = httpServer.ListenAndServeTLS("", "")
		default:
			log.Printf("Starting HTTP server on %s...", opts.Addr)
			err = httpServer.ListenAndServe()
		}

		if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server error: %v", err)
		}
	}()

	return &Server{
		httpServer: httpServer,
		hub:        hub,
		stopHub:    cancel,
	}, nil
}

// NewServerHandler creates the hub, starts it on ctx, and returns it together
// with the HTTP handler for the server.
func NewServerHandler(ctx context.Context, opts Options) (*Hub, http.Handler) {
	debugf := func(string, ...any) {}
	if opts.Debug {
		debugf = func(f string, a ...any) {
			log.Printf("[DEBUG BACKEND] "+f, a...)
		}
	}

	reg := opts.Metrics
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	metrics := NewMetrics(reg)

	hub := NewHub(NewCoordinator(opts.Clock, metrics), metrics, debugf)
	go hub.Run(ctx)

	upgrader := newUpgrader(opts.AllowedOrigins)

	r := chi.NewRouter()
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	if opts.Debug {
		r.Use(middleware.Logger)
	}
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost},
			AllowCredentials: true,
		}))
	}
	if opts.RateLimit > 0 {
		window := opts.RateWindow
		if window <= 0 {
			window = DefaultRateWindow
		}
		r.Use(httprate.LimitByIP(opts.RateLimit, window))
	}

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, upgrader, w, r)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]string{"status": "ok"})
		})
		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			queryHub(hub, w, r, HubRequest{Type: ReqTypeStats})
		})
		r.Get("/leaderboard", func(w http.ResponseWriter, r *http.Request) {
			limit := parseLimit(r, LeaderboardSize, 100)
			queryHub(hub, w, r, HubRequest{Type: ReqTypeLeaderboard, Limit: limit})
		})
		r.Get("/users", func(w http.ResponseWriter, r *http.Request) {
			queryHub(hub, w, r, HubRequest{Type: ReqTypeUsers})
		})
		r.Get("/messages", func(w http.ResponseWriter, r *http.Request) {
			limit := parseLimit(r, InitialHistory, HistoryCapacity)
			queryHub(hub, w, r, HubRequest{Type: ReqTypeMessages, Limit: limit})
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	if opts.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(opts.StaticDir)))
	}

	return hub, r
}

// queryHub serializes a read request through the hub and writes its JSON
// answer.
func queryHub(hub *Hub, w http.ResponseWriter, r *http.Request, req HubRequest) {
	reply := make(chan HubResponse, 1)
	req.Reply = reply
	select {
	case hub.requests <- req:
	case <-hub.done:
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	default:
		hubBusyResponse(w, retryAfterQuery)
		return
	}

	timer := time.NewTimer(queryTimeout)
	defer timer.Stop()
	select {
	case resp := <-reply:
		if resp.Error != nil {
			log.Printf("Hub query %s failed: %v", req.Type, resp.Error)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(resp.Data)
	case <-hub.done:
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
	case <-timer.C:
		hubBusyResponse(w, retryAfterQuery)
	case <-r.Context().Done():
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
