// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package health aggregates component liveness checks for the admin
// endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

const checkTimeout = 2 * time.Second

// Check probes one component. A nil return means healthy.
type Check func(ctx context.Context) error

type Status struct {
	Healthy bool              `json:"healthy"`
	Ready   bool              `json:"ready"`
	Checks  map[string]string `json:"checks"`
}

type Health struct {
	lock   sync.RWMutex
	ready  bool
	names  []string
	checks map[string]Check
}

func New() *Health {
	return &Health{checks: make(map[string]Check)}
}

// Register adds a named component check. Registration order is kept for
// stable output.
func (h *Health) Register(name string, check Check) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if _, ok := h.checks[name]; !ok {
		h.names = append(h.names, name)
	}
	h.checks[name] = check
}

// SetReady flips the readiness flag. The service reports unhealthy until
// boot completes.
func (h *Health) SetReady(ready bool) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.ready = ready
}

// Status runs every registered check and aggregates the result.
func (h *Health) Status(ctx context.Context) *Status {
	h.lock.RLock()
	ready := h.ready
	names := make([]string, len(h.names))
	copy(names, h.names)
	checks := make(map[string]Check, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.lock.RUnlock()

	status := &Status{
		Ready:   ready,
		Healthy: ready,
		Checks:  make(map[string]string, len(names)),
	}
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := checks[name](cctx)
		cancel()

		if err != nil {
			status.Healthy = false
			status.Checks[name] = err.Error()
		} else {
			status.Checks[name] = "ok"
		}
	}
	return status
}
