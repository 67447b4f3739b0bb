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

package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ttbt-io/blockfly/backend"
)

var (
	addr           = flag.String("addr", "", "The TCP address to listen to (default \":$PORT\", or \":3000\")")
	debugMode      = flag.Bool("debug", false, "Enable debug mode")
	staticDir      = flag.String("static-dir", "", "Directory of game assets to serve at /")
	allowedOrigins = flag.String("allowed-origins", "https://blockfly.netlify.app", "Comma-separated list of origins allowed for CORS and WebSocket connections")
	rateLimit      = flag.Int("rate-limit", backend.DefaultRateLimit, "Maximum HTTP requests per client IP per rate window (0 disables)")
	rateWindow     = flag.Duration("rate-window", backend.DefaultRateWindow, "Rate limit window")
	trustProxy     = flag.Bool("trust-proxy", false, "Take client IPs from X-Forwarded-For/X-Real-IP (only behind a trusted proxy)")
	tlsCert        = flag.String("tls-cert", "", "Path to TLS certificate")
	tlsKey         = flag.String("tls-key", "", "Path to TLS key")
)

// main starts the web server and registers the API handlers.
func main() {
	flag.Parse()

	listenAddr := *addr
	if listenAddr == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = "3000"
		}
		listenAddr = ":" + port
	}

	var cert *tls.Certificate
	if *tlsCert != "" && *tlsKey != "" {
		c, err := tls.LoadX509KeyPair(*tlsCert, *tlsKey)
		if err != nil {
			log.Fatalf("Failed to load TLS cert/key: %v", err)
		}
		cert = &c
	}

	var origins []string
	for _, o := range strings.Split(*allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	server, err := backend.StartServer(backend.Options{
		Addr:           listenAddr,
		Cert:           cert,
		Debug:          *debugMode,
		StaticDir:      *staticDir,
		AllowedOrigins: origins,
		RateLimit:      *rateLimit,
		RateWindow:     *rateWindow,
		TrustProxy:     *trustProxy,
	})
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Wait for interrupt signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	} else {
		log.Println("Gracefully stopped.")
	}
}
