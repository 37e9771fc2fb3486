package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bmad-assist/bmad-assist/internal/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// WSHandler mirrors the SSE event stream over a websocket for clients that
// prefer a bidirectional transport. Inbound messages are ignored except for
// keepalive traffic.
type WSHandler struct {
	upgrader    websocket.Upgrader
	publisher   events.Publisher
	logger      *slog.Logger
	mu          sync.Mutex
	connections map[*websocket.Conn]struct{}
}

// NewWSHandler creates a websocket handler over the event publisher.
func NewWSHandler(pub events.Publisher, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local tool, same trust domain as the CLI
			},
		},
		publisher:   pub,
		logger:      logger,
		connections: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP handles websocket upgrade requests.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.connections[conn] = struct{}{}
	h.mu.Unlock()

	ch := h.publisher.Subscribe()
	done := make(chan struct{})

	go h.readPump(conn, done)
	go h.writePump(conn, ch, done)
}

// readPump drains inbound frames so pongs are processed, closing the
// connection on read failure.
func (h *WSHandler) readPump(conn *websocket.Conn, done chan struct{}) {
	defer h.close(conn, done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("websocket read error", "error", err)
			}
			return
		}
	}
}

// writePump forwards bus events and periodic pings to the peer.
func (h *WSHandler) writePump(conn *websocket.Conn, ch <-chan events.Event, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.publisher.Unsubscribe(ch)
		h.close(conn, done)
	}()

	for {
		select {
		case <-done:
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) close(conn *websocket.Conn, done chan struct{}) {
	h.mu.Lock()
	if _, live := h.connections[conn]; live {
		delete(h.connections, conn)
		close(done)
		_ = conn.Close()
	}
	h.mu.Unlock()
}
