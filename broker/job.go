// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package broker

import (
	"fmt"
	"time"

	"github.com/pixmint/pixmint/pix"
)

// Priority orders jobs that become ready at the same instant. Smaller is
// earlier.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityNormal   Priority = 3
	PriorityLow      Priority = 4
	PriorityVeryLow  Priority = 5
)

// State is the lifecycle phase of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Options tunes a single enqueue. Zero values select the defaults.
type Options struct {
	Priority Priority      // default PriorityNormal
	Attempts int           // delivery budget, default 3
	Backoff  time.Duration // base of the exponential retry delay, default 2s
	Delay    time.Duration // initial hold before first delivery

	CompletedTTL time.Duration // terminal retention, default 24h
	FailedTTL    time.Duration // terminal retention, default 7d
}

func (o Options) withDefaults() Options {
	if o.Priority == 0 {
		o.Priority = PriorityNormal
	}
	if o.Attempts <= 0 {
		o.Attempts = defaultAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = defaultBackoff
	}
	if o.CompletedTTL <= 0 {
		o.CompletedTTL = defaultCompletedTTL
	}
	if o.FailedTTL <= 0 {
		o.FailedTTL = defaultFailedTTL
	}
	return o
}

type job struct {
	id      pix.ID
	queue   string
	kind    string
	payload []byte
	opts    Options

	seq      uint64
	state    State
	attempt  int
	progress int
	readyAt  time.Time // when the job may be delivered
	deadline time.Time // visibility deadline while active
	errMsg   string
	logs     []string

	createdAt time.Time
	doneAt    time.Time
}

// Snapshot is a point-in-time copy of a job, safe to hand out.
type Snapshot struct {
	ID          pix.ID    `json:"id"`
	Queue       string    `json:"queue"`
	Kind        string    `json:"kind"`
	Payload     []byte    `json:"payload"`
	State       State     `json:"state"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"maxAttempts"`
	Progress    int       `json:"progress"`
	Error       string    `json:"error,omitempty"`
	Logs        []string  `json:"logs,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (j *job) snapshot() *Snapshot {
	payload := make([]byte, len(j.payload))
	copy(payload, j.payload)
	logs := make([]string, len(j.logs))
	copy(logs, j.logs)
	return &Snapshot{
		ID:          j.id,
		Queue:       j.queue,
		Kind:        j.kind,
		Payload:     payload,
		State:       j.state,
		Attempt:     j.attempt,
		MaxAttempts: j.opts.Attempts,
		Progress:    j.progress,
		Error:       j.errMsg,
		Logs:        logs,
		CreatedAt:   j.createdAt,
	}
}

// JobCtx is what a handler sees of its claimed job.
type JobCtx struct {
	ID          pix.ID
	Kind        string
	Payload     []byte
	Attempt     int
	MaxAttempts int

	broker *Broker
}

// LastAttempt reports whether the retry budget is exhausted after this
// delivery.
func (j *JobCtx) LastAttempt() bool {
	return j.Attempt >= j.MaxAttempts
}

// UpdateProgress records pct and extends the visibility deadline. Long
// handlers call it at least every 30s to avoid being declared stalled.
func (j *JobCtx) UpdateProgress(pct int) {
	j.broker.updateProgress(j.ID, pct)
}

// Log appends a line to the job's log, visible through GetJob.
func (j *JobCtx) Log(format string, args ...interface{}) {
	j.broker.appendLog(j.ID, fmt.Sprintf(format, args...))
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the broker fails the job immediately instead of
// retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
