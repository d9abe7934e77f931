package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Envelope message types pushed to dashboard clients.
const (
	TypeDecision = "decision"
	TypeAlert    = "alert"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Dashboard runs on a different origin in development
	},
}

// Hub fans live decisions and alerts out to connected websocket clients.
type Hub struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 256),
	}
}

// Run pumps the broadcast channel to every client. Call it in its own
// goroutine; it exits when the channel closes.
func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mu.Lock()
		for client := range h.clients {
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Msg("websocket write failed, dropping client")
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mu.Unlock()
	}
}

// Subscribe upgrades an HTTP request and registers the client.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Info().Int("clients", count).Msg("websocket client connected")

	// Read loop exists only to notice disconnects.
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// BroadcastDecision pushes an access decision envelope.
func (h *Hub) BroadcastDecision(data interface{}) {
	h.send(TypeDecision, data)
}

// BroadcastAlert pushes a lateral movement alert envelope.
func (h *Hub) BroadcastAlert(data interface{}) {
	h.send(TypeAlert, data)
}

func (h *Hub) send(msgType string, data interface{}) {
	payload, err := json.Marshal(map[string]interface{}{
		"type": msgType,
		"data": data,
	})
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("failed to marshal websocket envelope")
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		log.Warn().Msg("websocket broadcast buffer full, dropping message")
	}
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close stops the pump.
func (h *Hub) Close() {
	close(h.broadcast)
}
