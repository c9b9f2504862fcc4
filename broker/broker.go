// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package broker is an in-memory job broker offering named FIFO queues with
// delayed retries, visibility timeouts and per-queue rate limits. Delivery is
// at-least-once; handlers own their idempotency.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/pixmint/pixmint/co"
	"github.com/pixmint/pixmint/log"
	"github.com/pixmint/pixmint/pix"
)

var logger = log.WithContext("pkg", "broker")

const (
	defaultAttempts     = 3
	defaultBackoff      = 2 * time.Second
	defaultBackoffCap   = 5 * time.Minute
	defaultVisibility   = 60 * time.Second
	defaultCompletedTTL = 24 * time.Hour
	defaultFailedTTL    = 7 * 24 * time.Hour

	housekeepInterval = time.Second
)

var (
	// ErrJobNotFound is returned by GetJob and Retry for unknown ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrNotRetryable is returned by Retry for jobs not in the failed state.
	ErrNotRetryable = errors.New("job is not failed")
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("broker closed")
)

// Handler processes one delivery of a job. A nil return completes the job. A
// plain error schedules a delayed retry while the budget lasts; an error
// wrapped with Permanent fails the job immediately.
type Handler func(ctx context.Context, job *JobCtx) error

// Broker owns the queues and the consumer pools.
type Broker struct {
	visibility time.Duration
	backoffCap time.Duration

	mu     sync.Mutex
	seq    uint64
	queues map[string]*queue
	jobs   map[pix.ID]*job
	closed bool

	wake   *co.Signal
	goes   co.Goes
	ctx    context.Context
	cancel context.CancelFunc
}

// New starts a broker and its housekeeping loop.
func New() *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		visibility: defaultVisibility,
		backoffCap: defaultBackoffCap,
		queues:     make(map[string]*queue),
		jobs:       make(map[pix.ID]*job),
		wake:       &co.Signal{},
		ctx:        ctx,
		cancel:     cancel,
	}
	b.goes.Go(b.housekeepLoop)
	return b
}

// Close stops consumers and the housekeeping loop, then waits for in-flight
// handlers to return.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wake.Broadcast()
	b.goes.Wait()
	logger.Info("broker closed")
}

// Enqueue adds a job to the named queue and returns its id.
func (b *Broker) Enqueue(queueName, kind string, payload []byte, opts Options) (pix.ID, error) {
	opts = opts.withDefaults()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", ErrClosed
	}
	b.seq++
	now := pix.Now()
	j := &job{
		id:        pix.NewID(),
		queue:     queueName,
		kind:      kind,
		payload:   append([]byte(nil), payload...),
		opts:      opts,
		seq:       b.seq,
		state:     StateWaiting,
		readyAt:   now.Add(opts.Delay),
		createdAt: now,
	}
	if opts.Delay > 0 {
		j.state = StateDelayed
	}
	b.jobs[j.id] = j
	b.queueOf(queueName).push(j)
	depth := len(b.queueOf(queueName).pending)
	b.mu.Unlock()

	meterEnqueued().AddWithLabel(1, map[string]string{"queue": queueName, "kind": kind})
	meterQueueDepth().Set(int64(depth))
	b.wake.Broadcast()
	return j.id, nil
}

// Consume starts concurrency consumer goroutines on the named queue.
// ratePerSec > 0 caps dispatches across the pool.
func (b *Broker) Consume(queueName string, concurrency int, ratePerSec int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	var minGap time.Duration
	if ratePerSec > 0 {
		minGap = time.Second / time.Duration(ratePerSec)
	}
	for i := 0; i < concurrency; i++ {
		b.goes.Go(func() {
			b.consumeLoop(queueName, minGap, handler)
		})
	}
	logger.Info("consumers started", "queue", queueName, "concurrency", concurrency)
}

func (b *Broker) consumeLoop(queueName string, minGap time.Duration, handler Handler) {
	for {
		j, wait := b.claim(queueName, minGap)
		if j != nil {
			b.run(j, handler)
			continue
		}
		if wait <= 0 || wait > housekeepInterval {
			wait = housekeepInterval
		}
		waiter := b.wake.NewWaiter()
		select {
		case <-b.ctx.Done():
			return
		case <-waiter.C():
		case <-time.After(wait):
		}
	}
}

// claim pops the next due job, honoring the queue rate limit. When nothing is
// due it returns how long until the head job becomes ready.
func (b *Broker) claim(queueName string, minGap time.Duration) (*job, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queueOf(queueName)
	now := pix.Now()

	if minGap > 0 {
		if gap := q.lastDispatch.Add(minGap).Sub(now); gap > 0 {
			return nil, gap
		}
	}

	j := q.popReady(now)
	if j == nil {
		if at, ok := q.nextReadyAt(); ok {
			return nil, at.Sub(now)
		}
		return nil, 0
	}

	j.state = StateActive
	j.attempt++
	j.deadline = now.Add(b.visibility)
	q.active[j] = struct{}{}
	q.lastDispatch = now
	return j, 0
}

func (b *Broker) run(j *job, handler Handler) {
	jc := &JobCtx{
		ID:          j.id,
		Kind:        j.kind,
		Payload:     append([]byte(nil), j.payload...),
		Attempt:     j.attempt,
		MaxAttempts: j.opts.Attempts,
		broker:      b,
	}
	err := handler(b.ctx, jc)
	b.settle(j, err)
}

// settle moves a job out of the active set according to the handler outcome.
func (b *Broker) settle(j *job, err error) {
	b.mu.Lock()
	q := b.queueOf(j.queue)
	if _, ok := q.active[j]; !ok {
		// the visibility timeout already re-queued this delivery; the late
		// result is discarded
		b.mu.Unlock()
		return
	}
	delete(q.active, j)

	now := pix.Now()
	outcome := ""
	switch {
	case err == nil:
		j.state = StateCompleted
		j.progress = 100
		j.doneAt = now
		outcome = "completed"
	case isPermanent(err) || j.attempt >= j.opts.Attempts:
		j.state = StateFailed
		j.errMsg = err.Error()
		j.doneAt = now
		outcome = "failed"
	default:
		delay := b.backoffFor(j)
		j.state = StateDelayed
		j.errMsg = err.Error()
		j.readyAt = now.Add(delay)
		q.push(j)
		outcome = "retried"
	}
	b.mu.Unlock()

	meterOutcomes().AddWithLabel(1, map[string]string{"queue": j.queue, "outcome": outcome})
	if outcome == "retried" {
		logger.Debug("job retry scheduled", "id", j.id, "attempt", j.attempt, "err", err)
		b.wake.Broadcast()
	} else if outcome == "failed" {
		logger.Warn("job failed", "id", j.id, "kind", j.kind, "attempt", j.attempt, "err", err)
	}
}

// backoffFor computes base * 2^(attempt-1), capped.
func (b *Broker) backoffFor(j *job) time.Duration {
	delay := j.opts.Backoff << uint(j.attempt-1)
	if delay > b.backoffCap || delay <= 0 {
		delay = b.backoffCap
	}
	return delay
}

// GetJob returns a snapshot of the job.
func (b *Broker) GetJob(id pix.ID) (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.snapshot(), nil
}

// Retry re-enqueues a failed job at high priority with a fresh attempt
// budget.
func (b *Broker) Retry(id pix.ID) error {
	b.mu.Lock()
	j, ok := b.jobs[id]
	if !ok {
		b.mu.Unlock()
		return ErrJobNotFound
	}
	if j.state != StateFailed {
		b.mu.Unlock()
		return ErrNotRetryable
	}
	j.state = StateWaiting
	j.attempt = 0
	j.progress = 0
	j.errMsg = ""
	j.doneAt = time.Time{}
	j.opts.Priority = PriorityHigh
	j.readyAt = pix.Now()
	b.queueOf(j.queue).push(j)
	b.mu.Unlock()

	b.wake.Broadcast()
	return nil
}

func (b *Broker) updateProgress(id pix.ID, pct int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[id]
	if !ok || j.state != StateActive {
		return
	}
	if pct > j.progress {
		j.progress = pct
	}
	j.deadline = pix.Now().Add(b.visibility)
}

func (b *Broker) appendLog(id pix.ID, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j, ok := b.jobs[id]; ok {
		j.logs = append(j.logs, msg)
	}
}

// queueOf returns the named queue, creating it on first use. Callers hold
// the lock.
func (b *Broker) queueOf(name string) *queue {
	q, ok := b.queues[name]
	if !ok {
		q = newQueue(name)
		b.queues[name] = q
	}
	return q
}

func (b *Broker) housekeepLoop() {
	ticker := time.NewTicker(housekeepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.housekeep()
		}
	}
}

// housekeep re-queues stalled active jobs and purges terminal jobs past
// their retention.
func (b *Broker) housekeep() {
	now := pix.Now()
	requeued := 0

	b.mu.Lock()
	for _, q := range b.queues {
		for j := range q.active {
			if now.Before(j.deadline) {
				continue
			}
			delete(q.active, j)
			if j.attempt >= j.opts.Attempts {
				j.state = StateFailed
				j.errMsg = "visibility timeout exceeded"
				j.doneAt = now
				continue
			}
			j.state = StateWaiting
			j.readyAt = now
			q.push(j)
			requeued++
		}
	}
	for id, j := range b.jobs {
		if !j.state.Terminal() {
			continue
		}
		ttl := j.opts.CompletedTTL
		if j.state == StateFailed {
			ttl = j.opts.FailedTTL
		}
		if now.After(j.doneAt.Add(ttl)) {
			delete(b.jobs, id)
		}
	}
	b.mu.Unlock()

	if requeued > 0 {
		logger.Warn("stalled jobs re-queued", "count", requeued)
		b.wake.Broadcast()
	}
}

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
