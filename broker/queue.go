// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package broker

import (
	"container/heap"
	"time"
)

// jobHeap orders jobs by (readyAt, priority, seq): FIFO in order of becoming
// ready, tie-broken by priority.
type jobHeap []*job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if !h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].readyAt.Before(h[j].readyAt)
	}
	if h[i].opts.Priority != h[j].opts.Priority {
		return h[i].opts.Priority < h[j].opts.Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(*job)) }

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}

// queue holds the pending heap and the active set of one named queue. All
// access goes through the broker's lock.
type queue struct {
	name         string
	pending      jobHeap
	active       map[*job]struct{}
	lastDispatch time.Time
}

func newQueue(name string) *queue {
	return &queue{
		name:   name,
		active: make(map[*job]struct{}),
	}
}

func (q *queue) push(j *job) {
	heap.Push(&q.pending, j)
}

// popReady removes and returns the earliest job that is due, or nil.
func (q *queue) popReady(now time.Time) *job {
	if len(q.pending) == 0 || q.pending[0].readyAt.After(now) {
		return nil
	}
	return heap.Pop(&q.pending).(*job)
}

// nextReadyAt returns when the head of the heap becomes due.
func (q *queue) nextReadyAt() (time.Time, bool) {
	if len(q.pending) == 0 {
		return time.Time{}, false
	}
	return q.pending[0].readyAt, true
}
