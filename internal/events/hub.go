// Package events fans activity events out to the dashboard over WebSocket.
// Name, context, consent, and resolution changes are published here so an
// open dashboard updates without polling.
package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/truenamepath/truename/internal/auth"
	"github.com/truenamepath/truename/internal/middleware"
)

// Event types published by the server.
const (
	EventNameChanged    = "name.changed"
	EventContextChanged = "context.changed"
	EventConsentChanged = "consent.changed"
	EventClaimsResolved = "claims.resolved"
)

const (
	// clientBufSize is the per-client event channel buffer.
	// If the client falls behind, events are dropped (caught up via polling).
	clientBufSize = 32

	// heartbeatInterval keeps the connection alive through proxies.
	heartbeatInterval = 30 * time.Second

	writeWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard is served from the same origin; cross-origin
		// browsers are rejected by the bearer-token requirement anyway.
		return true
	},
}

// Event is the payload delivered to subscribed dashboards.
type Event struct {
	Type      string `json:"type"`
	Subject   string `json:"subject,omitempty"` // e.g. name ID, context ID, client ID
	Detail    string `json:"detail,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Authenticator validates a bearer token. Satisfied by *auth.JWTProvider.
type Authenticator interface {
	Authenticate(token string) (*auth.Result, error)
}

// client represents one connected dashboard.
type client struct {
	userID string
	ch     chan []byte
}

// Hub fans events out to connected WebSocket clients filtered by user ID.
type Hub struct {
	authProvider Authenticator

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates an event hub.
func NewHub(authProvider Authenticator) *Hub {
	return &Hub{
		authProvider: authProvider,
		clients:      make(map[*client]struct{}),
	}
}

// Publish encodes the event and performs a non-blocking fan-out to every
// client belonging to the user.
func (h *Hub) Publish(userID string, event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("events: failed to marshal event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.userID != userID {
			continue
		}
		select {
		case c.ch <- data:
		default:
			// Client buffer full; skip, they'll catch up via polling.
		}
	}
}

// ServeHTTP serves the GET /ws/events endpoint.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := h.authenticate(r)
	if user == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("events: failed to upgrade connection", "error", err)
		return
	}

	c := &client{
		userID: user.ID,
		ch:     make(chan []byte, clientBufSize),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(conn, c)
	h.readPump(conn, c)
}

// writePump pushes events and heartbeats to one connection.
func (h *Hub) writePump(conn *websocket.Conn, c *client) {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case data, ok := <-c.ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-heartbeat.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound messages and unregisters the client on close.
func (h *Hub) readPump(conn *websocket.Conn, c *client) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.ch)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// authenticate extracts and validates a JWT from the request. Browsers
// cannot set headers on WebSocket upgrades, so a "token" query parameter and
// the dashboard login cookie are accepted alongside the Authorization header.
func (h *Hub) authenticate(r *http.Request) *auth.User {
	token := r.URL.Query().Get("token")

	if token == "" {
		if c, err := r.Cookie(middleware.AccessTokenCookieName); err == nil {
			token = c.Value
		}
	}

	if token == "" {
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				token = parts[1]
			}
		}
	}

	if token == "" || h.authProvider == nil {
		return nil
	}

	result, err := h.authProvider.Authenticate(token)
	if err != nil || !result.Authenticated {
		return nil
	}
	return result.User
}

// ClientCount returns the number of connected clients (for diagnostics).
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
