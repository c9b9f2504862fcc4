// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package co

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGoesWait(t *testing.T) {
	var g Goes
	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		g.Go(func() { ran.Add(1) })
	}
	g.Wait()
	assert.Equal(t, int32(5), ran.Load())
}

func TestSignalBroadcastWakesWaiters(t *testing.T) {
	var sig Signal
	woken := make(chan struct{}, 2)

	for i := 0; i < 2; i++ {
		w := sig.NewWaiter()
		go func() {
			<-w.C()
			woken <- struct{}{}
		}()
	}

	sig.Broadcast()
	for i := 0; i < 2; i++ {
		select {
		case <-woken:
		case <-time.After(time.Second):
			t.Fatal("waiter not woken by broadcast")
		}
	}
}

func TestSignalWaiterKeepsBroadcastBetweenWaits(t *testing.T) {
	var sig Signal
	w := sig.NewWaiter()

	ch := w.C()
	sig.Broadcast()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("first broadcast missed")
	}

	// a broadcast landing between two waits is replayed on the next one
	sig.Broadcast()
	select {
	case <-w.C():
	case <-time.After(time.Second):
		t.Fatal("broadcast between waits was lost")
	}
}
