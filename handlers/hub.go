package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"chain-gateway/events"
	"chain-gateway/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 32
)

// Message is the frame pushed to websocket clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// SignalSource publishes derived gateway events.
type SignalSource interface {
	OnSignal(signal events.Signal, fn func(payload any)) error
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes derived events to every connected websocket client. A client that cannot keep
// up is disconnected.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*client]struct{}),
	}
}

// Attach forwards the block, round and fee signals of src to the clients.
func (h *Hub) Attach(src SignalSource) error {
	for _, s := range []events.Signal{events.SignalNewBlock, events.SignalNewRound, events.SignalNewFeeEstimate} {
		name := string(s)
		if err := src.OnSignal(s, func(payload any) { h.Broadcast(name, payload) }); err != nil {
			return err
		}
	}
	return nil
}

// Clients reports how many clients are connected.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends one event to every client without blocking.
func (h *Hub) Broadcast(event string, payload any) {
	data, err := json.Marshal(Message{Event: event, Data: payload})
	if err != nil {
		logger.Logger.Error("Failed to encode push message", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			logger.Logger.Warn("Dropping slow websocket client", zap.String("remote_addr", c.conn.RemoteAddr().String()))
			h.removeLocked(c)
		}
	}
}

// ServeWS handles GET /ws
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logger.Logger.Info("Websocket client connected", zap.String("remote_addr", conn.RemoteAddr().String()))

	go h.writeLoop(c)

	// clients only listen; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Logger.Warn("Websocket connection closed unexpectedly", zap.Error(err))
			}
			break
		}
	}
	h.remove(c)
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(c)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}
