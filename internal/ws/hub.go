package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fixflow/internal/license"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Event is one license status broadcast
type Event struct {
	Type     string            `json:"type"`
	Snapshot *license.Snapshot `json:"snapshot"`
	SentAt   time.Time         `json:"sent_at"`
}

// Hub broadcasts license snapshot changes to connected clients. New
// clients immediately receive the current snapshot so they never start
// from an unknown state.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	last    []byte
}

// NewHub creates the hub. allowedOrigins guards the upgrade handshake.
func NewHub(allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
		logger:  logger.With(slog.String("component", "ws_hub")),
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// Broadcast pushes a snapshot to every connected client. Wired to
// license.Manager.OnChange.
func (h *Hub) Broadcast(snapshot *license.Snapshot) {
	payload, err := json.Marshal(Event{
		Type:     "license_status",
		Snapshot: snapshot,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("failed to encode event", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	h.last = payload
	for conn, send := range h.clients {
		select {
		case send <- payload:
		default:
			// Slow client: drop it rather than block the broadcast.
			close(send)
			delete(h.clients, conn)
		}
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades the connection and streams snapshot events
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed",
			slog.String("error", err.Error()),
		)
		return
	}

	send := make(chan []byte, 8)
	h.mu.Lock()
	h.clients[conn] = send
	if h.last != nil {
		send <- h.last
	}
	h.mu.Unlock()

	go h.writeLoop(conn, send)
	go h.readLoop(conn)
}

// Close shuts down every client connection
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, send := range h.clients {
		close(send)
		conn.Close()
		delete(h.clients, conn)
	}
	return nil
}

func (h *Hub) writeLoop(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case payload, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards client messages and detects disconnects
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		if send, ok := h.clients[conn]; ok {
			close(send)
			delete(h.clients, conn)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
