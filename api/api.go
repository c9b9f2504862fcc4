// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package api assembles the HTTP surface: generation endpoints, token
// endpoints and the websocket upgrade, behind bearer-token auth.
package api

import (
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/pixmint/pixmint/api/auth"
	"github.com/pixmint/pixmint/gen"
	"github.com/pixmint/pixmint/ledger"
	"github.com/pixmint/pixmint/log"
	"github.com/pixmint/pixmint/pushhub"
)

var logger = log.WithContext("pkg", "api")

// Options tunes the assembled handler.
type Options struct {
	AllowedOrigins string // comma separated, "*" allows any
	LogRequests    *atomic.Bool
	EnableMetrics  bool
}

// New binds all endpoints into a single handler. The returned close
// function shuts the websocket hub down.
func New(
	orch *gen.Orchestrator,
	lg *ledger.Ledger,
	a *auth.Auth,
	hub *pushhub.Hub,
	opts Options,
) (http.HandlerFunc, func()) {
	origins := strings.Split(strings.TrimSpace(opts.AllowedOrigins), ",")
	for i, o := range origins {
		origins[i] = strings.TrimSpace(o)
	}

	router := mux.NewRouter()

	// the hub authenticates its own handshake, so it sits outside the
	// bearer-token middleware
	hub.Mount(router, "/ws")

	authed := router.PathPrefix("/").Subrouter()
	authed.Use(a.Middleware)
	NewGenerations(orch).Mount(authed, "/generate")
	NewTokens(lg).Mount(authed, "/tokens")

	if opts.EnableMetrics {
		router.Use(metricsMiddleware)
	}

	handler := handlers.CompressHandler(router)
	handler = handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"content-type", "authorization"}),
	)(handler)

	if opts.LogRequests != nil {
		handler = RequestLoggerHandler(handler, logger, opts.LogRequests)
	}

	return handler.ServeHTTP, hub.Close
}
