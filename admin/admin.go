// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package admin serves the operator-only side listener: log level control,
// request log toggling, health checks and the metrics endpoint.
package admin

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/pixmint/pixmint/api/restutil"
	"github.com/pixmint/pixmint/health"
	"github.com/pixmint/pixmint/log"
	"github.com/pixmint/pixmint/metrics"
)

// New assembles the admin handler mounted under /admin.
func New(logLevel *slog.LevelVar, h *health.Health, logRequests *atomic.Bool) http.HandlerFunc {
	router := mux.NewRouter()
	sub := router.PathPrefix("/admin").Subrouter()

	sub.Path("/loglevel").
		Methods(http.MethodGet).
		HandlerFunc(restutil.WrapHandlerFunc(getLogLevelHandler(logLevel)))
	sub.Path("/loglevel").
		Methods(http.MethodPost).
		HandlerFunc(restutil.WrapHandlerFunc(postLogLevelHandler(logLevel)))

	sub.Path("/apilogs").
		Methods(http.MethodGet).
		HandlerFunc(restutil.WrapHandlerFunc(getRequestLoggerHandler(logRequests)))
	sub.Path("/apilogs").
		Methods(http.MethodPost).
		HandlerFunc(restutil.WrapHandlerFunc(postRequestLoggerHandler(logRequests)))

	sub.Path("/health").
		Methods(http.MethodGet).
		HandlerFunc(restutil.WrapHandlerFunc(getHealthHandler(h)))

	sub.Path("/metrics").
		Methods(http.MethodGet).
		Handler(metrics.HTTPHandler())

	return handlers.CompressHandler(router).ServeHTTP
}

type logLevelRequest struct {
	Level string `json:"level"`
}

type logLevelResponse struct {
	CurrentLevel string `json:"currentLevel"`
}

func getLogLevelHandler(logLevel *slog.LevelVar) restutil.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		return restutil.WriteData(w, http.StatusOK, logLevelResponse{
			CurrentLevel: logLevel.Level().String(),
		})
	}
}

func postLogLevelHandler(logLevel *slog.LevelVar) restutil.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req logLevelRequest
		if err := restutil.ParseJSON(r.Body, &req); err != nil {
			return restutil.BadRequest(errors.WithMessage(err, "body"))
		}

		switch req.Level {
		case "trace":
			logLevel.Set(log.LevelTrace)
		case "debug":
			logLevel.Set(log.LevelDebug)
		case "info":
			logLevel.Set(log.LevelInfo)
		case "warn":
			logLevel.Set(log.LevelWarn)
		case "error":
			logLevel.Set(log.LevelError)
		default:
			return restutil.BadRequest(errors.Errorf("invalid verbosity level: %s", req.Level))
		}

		log.Root().Warn("admin changed the log level", "level", logLevel.Level().String())

		return restutil.WriteData(w, http.StatusOK, logLevelResponse{
			CurrentLevel: logLevel.Level().String(),
		})
	}
}

type requestLoggerState struct {
	Enabled *bool `json:"enabled"`
}

func getRequestLoggerHandler(logRequests *atomic.Bool) restutil.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		enabled := logRequests.Load()
		return restutil.WriteData(w, http.StatusOK, requestLoggerState{Enabled: &enabled})
	}
}

func postRequestLoggerHandler(logRequests *atomic.Bool) restutil.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req requestLoggerState
		if err := restutil.ParseJSON(r.Body, &req); err != nil {
			return restutil.BadRequest(errors.WithMessage(err, "body"))
		}
		if req.Enabled == nil {
			return restutil.BadRequest(errors.New("missing 'enabled' field"))
		}

		log.Root().Warn("admin changed the request logger", "enabled", *req.Enabled)
		logRequests.Store(*req.Enabled)

		return restutil.WriteData(w, http.StatusOK, req)
	}
}

func getHealthHandler(h *health.Health) restutil.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		status := h.Status(r.Context())

		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		return restutil.WriteData(w, code, status)
	}
}
