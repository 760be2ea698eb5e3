package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/seccorpus/certmap/internal/core/domain"
	"github.com/seccorpus/certmap/internal/core/ports"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Read-only event stream, same-origin is not enforced.
		return true
	},
}

// WSMessage is one event frame pushed to diff stream subscribers.
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WSBroadcaster fans diff and run events out to connected websocket
// clients. It implements ports.DiffNotifier.
type WSBroadcaster struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewWSBroadcaster() *WSBroadcaster {
	return &WSBroadcaster{clients: make(map[*websocket.Conn]struct{})}
}

// HandleWebSocket upgrades the connection and registers the client.
func (b *WSBroadcaster) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	b.mu.Lock()
	b.clients[conn] = struct{}{}
	b.mu.Unlock()

	// Drain reads until the client goes away.
	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.clients, conn)
			b.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (b *WSBroadcaster) NotifyDiff(diff domain.DiffRecord) {
	b.broadcast(WSMessage{Type: "diff", Payload: diff})
}

func (b *WSBroadcaster) NotifyRun(run domain.RunRecord) {
	b.broadcast(WSMessage{Type: "run", Payload: run})
}

func (b *WSBroadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("event encode failed", "type", msg.Type, "error", err)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			delete(b.clients, conn)
			conn.Close()
		}
	}
}

var _ ports.DiffNotifier = (*WSBroadcaster)(nil)
