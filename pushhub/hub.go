// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package pushhub fans out realtime events to a user's websocket connections.
// It is a notification channel, not a durable queue: events for offline users
// are dropped, and slow consumers lose events rather than block the emitter.
package pushhub

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/pixmint/pixmint/co"
	"github.com/pixmint/pixmint/log"
	"github.com/pixmint/pixmint/pix"
)

var logger = log.WithContext("pkg", "pushhub")

// TokenVerifier resolves a bearer token to the owning user.
type TokenVerifier func(token string) (pix.ID, error)

// PresenceListener observes online/offline transitions of users.
type PresenceListener func(owner pix.ID, online bool)

// Envelope is the wire form of every pushed event.
type Envelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// Hub tracks the sockets of each connected user.
type Hub struct {
	verify   TokenVerifier
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	socks    map[pix.ID]map[*socket]struct{}
	presence PresenceListener
	closed   bool

	goes co.Goes
	done chan struct{}
}

// New creates a hub. allowedOrigin restricts the websocket handshake origin;
// empty allows any.
func New(verify TokenVerifier, allowedOrigin string) *Hub {
	return &Hub{
		verify: verify,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(req *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				return req.Header.Get("Origin") == allowedOrigin
			},
		},
		socks: make(map[pix.ID]map[*socket]struct{}),
		done:  make(chan struct{}),
	}
}

// SetPresenceListener installs the process-wide presence observer. Call
// before Mount.
func (h *Hub) SetPresenceListener(fn PresenceListener) {
	h.presence = fn
}

// Mount hooks the websocket endpoint under pathPrefix.
func (h *Hub) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()
	sub.Path("").Methods(http.MethodGet).HandlerFunc(h.handleSocket)
	sub.Path("/").Methods(http.MethodGet).HandlerFunc(h.handleSocket)
}

func (h *Hub) handleSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed", "err", err)
		return
	}

	owner, err := h.verify(bearerToken(req))
	if err != nil {
		// accepted only to tell the client why it is being dropped
		data, _ := json.Marshal(Envelope{Event: pix.EvtUnauthorized, Payload: map[string]interface{}{
			"message": "invalid or missing token",
		}})
		_ = conn.WriteMessage(websocket.TextMessage, data)
		_ = conn.Close()
		return
	}

	sock := newSocket(h, conn, owner)
	if !h.register(sock) {
		_ = conn.Close()
		return
	}
	h.goes.Go(sock.writePump)
	h.goes.Go(sock.readPump)
}

// bearerToken pulls the token from the query string or the Authorization
// header.
func bearerToken(req *http.Request) string {
	if token := req.URL.Query().Get("token"); token != "" {
		return token
	}
	auth := req.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// register adds the socket to the owner's set, firing user_online on the
// 0 -> 1 transition. Returns false when the hub is closed.
func (h *Hub) register(s *socket) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	set, ok := h.socks[s.owner]
	if !ok {
		set = make(map[*socket]struct{})
		h.socks[s.owner] = set
	}
	wasOffline := len(set) == 0
	set[s] = struct{}{}
	total := h.connCount()
	h.mu.Unlock()

	meterConnections().Set(int64(total))
	logger.Debug("socket connected", "owner", s.owner)
	if wasOffline {
		h.notifyPresence(s.owner, true)
	}
	return true
}

// unregister removes the socket, firing user_offline on the 1 -> 0
// transition. Idempotent per socket.
func (h *Hub) unregister(s *socket) {
	h.mu.Lock()
	set, ok := h.socks[s.owner]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := set[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, s)
	nowOffline := len(set) == 0
	if nowOffline {
		delete(h.socks, s.owner)
	}
	total := h.connCount()
	h.mu.Unlock()

	meterConnections().Set(int64(total))
	logger.Debug("socket disconnected", "owner", s.owner)
	if nowOffline {
		h.notifyPresence(s.owner, false)
	}
}

func (h *Hub) notifyPresence(owner pix.ID, online bool) {
	event := pix.EvtUserOffline
	if online {
		event = pix.EvtUserOnline
	}
	logger.Info("presence changed", "owner", owner, "event", event)
	if h.presence != nil {
		h.presence(owner, online)
	}
}

// EmitToUser delivers the event to every socket of owner. Offline owners
// and full send buffers drop the event.
func (h *Hub) EmitToUser(owner pix.ID, event string, payload interface{}) {
	data, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		logger.Error("failed to marshal event", "event", event, "err", err)
		return
	}

	h.mu.RLock()
	set := h.socks[owner]
	targets := make([]*socket, 0, len(set))
	for s := range set {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.send <- data:
		default:
			meterDropped().Add(1)
			logger.Warn("event dropped, slow consumer", "owner", owner, "event", event)
		}
	}
}

// IsOnline reports whether owner has at least one connected socket.
func (h *Hub) IsOnline(owner pix.ID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.socks[owner]) > 0
}

// OnlineUsers returns the number of distinct users currently connected.
func (h *Hub) OnlineUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.socks)
}

// connCount counts all sockets. Callers hold the lock.
func (h *Hub) connCount() int {
	n := 0
	for _, set := range h.socks {
		n += len(set)
	}
	return n
}

// Close disconnects every socket and waits for the pumps to drain.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*socket
	for _, set := range h.socks {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	close(h.done)
	for _, s := range all {
		s.close()
	}
	h.goes.Wait()
	logger.Info("pushhub closed")
}
