// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package log provides the process-wide structured logger, built on log/slog.
// Packages obtain a contextual logger once at init:
//
//	var logger = log.WithContext("pkg", "ledger")
//
// Derived loggers resolve the output handler at log time, so a call to Init
// or InitJSON takes effect for every logger, including those created before.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Log levels. Trace and Crit extend the slog range the same way the
// go-ethereum logger does.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelCrit  = slog.Level(12)
)

// Logger is the logging interface handed out to packages.
type Logger interface {
	With(keyvals ...interface{}) Logger

	Trace(msg string, keyvals ...interface{})
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})

	// Crit logs at critical level and exits the process.
	Crit(msg string, keyvals ...interface{})
}

type logger struct {
	inner *slog.Logger
}

// NewLogger creates a Logger over the given slog handler.
func NewLogger(h slog.Handler) Logger {
	return &logger{slog.New(h)}
}

func (l *logger) With(keyvals ...interface{}) Logger {
	return &logger{l.inner.With(keyvals...)}
}

func (l *logger) write(level slog.Level, msg string, keyvals ...interface{}) {
	l.inner.Log(context.Background(), level, msg, keyvals...)
}

func (l *logger) Trace(msg string, keyvals ...interface{}) { l.write(LevelTrace, msg, keyvals...) }
func (l *logger) Debug(msg string, keyvals ...interface{}) { l.write(LevelDebug, msg, keyvals...) }
func (l *logger) Info(msg string, keyvals ...interface{})  { l.write(LevelInfo, msg, keyvals...) }
func (l *logger) Warn(msg string, keyvals ...interface{})  { l.write(LevelWarn, msg, keyvals...) }
func (l *logger) Error(msg string, keyvals ...interface{}) { l.write(LevelError, msg, keyvals...) }

func (l *logger) Crit(msg string, keyvals ...interface{}) {
	l.write(LevelCrit, msg, keyvals...)
	os.Exit(1)
}

// backend holds the slog.Handler every logger writes through. Boxed so the
// atomic store always sees one concrete type.
var backend atomic.Value

type backendBox struct {
	h slog.Handler
}

func init() {
	backend.Store(backendBox{slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: LevelInfo})})
}

// SetHandler replaces the backend handler. Every logger, including those
// derived before the call, writes through the new handler from then on.
func SetHandler(h slog.Handler) {
	backend.Store(backendBox{h})
}

// handler is the indirection between loggers and the backend. It defers the
// backend lookup to log time and replays its accumulated attrs and groups on
// whatever handler is current.
type handler struct {
	ops []func(slog.Handler) slog.Handler
}

func (h *handler) resolve() slog.Handler {
	inner := backend.Load().(backendBox).h
	for _, op := range h.ops {
		inner = op(inner)
	}
	return inner
}

func (h *handler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return backend.Load().(backendBox).h.Enabled(ctx, lvl)
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	return h.resolve().Handle(ctx, r)
}

func (h *handler) derive(op func(slog.Handler) slog.Handler) slog.Handler {
	ops := make([]func(slog.Handler) slog.Handler, 0, len(h.ops)+1)
	ops = append(ops, h.ops...)
	return &handler{ops: append(ops, op)}
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(in slog.Handler) slog.Handler { return in.WithAttrs(attrs) })
}

func (h *handler) WithGroup(name string) slog.Handler {
	return h.derive(func(in slog.Handler) slog.Handler { return in.WithGroup(name) })
}

var root = NewLogger(&handler{})

// Root returns the process-wide root logger.
func Root() Logger {
	return root
}

// WithContext derives a logger from the root with fixed key-value context.
func WithContext(keyvals ...interface{}) Logger {
	return root.With(keyvals...)
}

// Init installs a text handler writing to w, filtered by lvl. The returned
// LevelVar can be adjusted at runtime (see the admin endpoint).
func Init(w io.Writer, lvl slog.Level) *slog.LevelVar {
	level := new(slog.LevelVar)
	level.Set(lvl)
	SetHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return level
}

// InitJSON is like Init but emits JSON records.
func InitJSON(w io.Writer, lvl slog.Level) *slog.LevelVar {
	level := new(slog.LevelVar)
	level.Set(lvl)
	SetHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	return level
}
