// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package pushhub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pixmint/pixmint/pix"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxInboundBytes = 4 << 10
	sendBufferSize  = 64

	// inbound events allowed per rate window
	inboundRateLimit  = 10
	inboundRateWindow = time.Second
)

type socket struct {
	hub   *Hub
	conn  *websocket.Conn
	owner pix.ID

	send chan []byte
	once sync.Once

	// sliding window of recent inbound message times, readPump only
	inbound []time.Time
}

func newSocket(hub *Hub, conn *websocket.Conn, owner pix.ID) *socket {
	return &socket{
		hub:   hub,
		conn:  conn,
		owner: owner,
		send:  make(chan []byte, sendBufferSize),
	}
}

func (s *socket) close() {
	s.once.Do(func() {
		s.hub.unregister(s)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = s.conn.Close()
	})
}

// readPump consumes inbound frames, enforcing the per-socket rate limit.
// Inbound messages carry no semantics today; reading them keeps pong and
// close handling alive.
func (s *socket) readPump() {
	defer s.close()

	s.conn.SetReadLimit(maxInboundBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
		if s.overRateLimit() {
			data, _ := json.Marshal(Envelope{Event: pix.EvtRateLimit, Payload: map[string]interface{}{
				"code":    "RATE_LIMIT",
				"message": "too many messages, slow down",
			}})
			select {
			case s.send <- data:
			default:
			}
		}
	}
}

// overRateLimit records one inbound message and reports whether the window
// is exceeded.
func (s *socket) overRateLimit() bool {
	now := time.Now()
	cutoff := now.Add(-inboundRateWindow)
	kept := s.inbound[:0]
	for _, t := range s.inbound {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.inbound = append(kept, now)
	return len(s.inbound) > inboundRateLimit
}

// writePump drains the send channel and keeps the connection alive with
// pings.
func (s *socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.hub.done:
			return
		}
	}
}
