package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024

	sendBuffer = 64
)

// Client is one websocket connection belonging to a device.
type Client struct {
	hub    *Hub
	device string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub keeps the open websocket connections of every device. A device may hold several.
type Hub struct {
	log zerolog.Logger

	mu      sync.RWMutex
	devices map[string]map[*Client]struct{}

	onMessage func(device string, data []byte)

	upgrader websocket.Upgrader
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:     log.With().Str("component", "hub").Logger(),
		devices: make(map[string]map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// OnMessage sets the callback for frames a device sends up. Set before serving.
func (h *Hub) OnMessage(fn func(device string, data []byte)) {
	h.mu.Lock()
	h.onMessage = fn
	h.mu.Unlock()
}

// ServeWS upgrades the request and runs the connection until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, device string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &Client{hub: h, device: device, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)
	go c.writePump()
	c.readPump()
	return nil
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	set, ok := h.devices[c.device]
	if !ok {
		set = make(map[*Client]struct{})
		h.devices[c.device] = set
	}
	set[c] = struct{}{}
	n := len(set)
	h.mu.Unlock()
	h.log.Info().Str("device", c.device).Int("connections", n).Msg("device connected")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	set, ok := h.devices[c.device]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.devices, c.device)
	}
	h.log.Info().Str("device", c.device).Int("connections", len(set)).Msg("device disconnected")
}

// SendToDevice queues data on every connection of the device and returns how many accepted it.
// Connections whose buffer is full are dropped.
func (h *Hub) SendToDevice(device string, data []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	sent := 0
	for c := range h.devices[device] {
		select {
		case c.send <- data:
			sent++
		default:
			h.log.Warn().Str("device", device).Msg("dropping slow connection")
			h.removeLocked(c)
		}
	}
	return sent
}

// Connected reports whether the device has at least one open connection.
func (h *Hub) Connected(device string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.devices[device]) > 0
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.devices {
		n += len(set)
	}
	return n
}

// Close drops every connection.
func (h *Hub) Close(_ context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.devices {
		for c := range set {
			h.removeLocked(c)
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug().Err(err).Str("device", c.device).Msg("websocket read")
			}
			return
		}
		c.hub.mu.RLock()
		fn := c.hub.onMessage
		c.hub.mu.RUnlock()
		if fn != nil {
			fn(c.device, data)
		}
	}
}

// writePump is the only writer on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
