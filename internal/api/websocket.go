package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Ping period, must be under pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512
)

// FrameType tags WebSocket frames.
type FrameType string

const (
	FrameStatus   FrameType = "status"
	FrameTrade    FrameType = "trade"
	FramePosition FrameType = "position_update"
	FrameError    FrameType = "error"
	FramePing     FrameType = "ping"
	FramePong     FrameType = "pong"
)

// Frame is one WebSocket message.
type Frame struct {
	Type      FrameType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Client is one WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger
}

// Hub tracks connected clients and fans frames out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        zerolog.Logger
}

// NewHub builds an idle hub; Run starts it.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "ws_hub").Logger(),
	}
}

// Run drives the hub until stop closes, then disconnects everyone.
func (h *Hub) Run(stop <-chan struct{}) {
	defer close(h.done)
	for {
		select {
		case <-stop:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info().Int("total_clients", total).Msg("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info().Int("total_clients", total).Msg("WebSocket client disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer, drop it.
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast fans a frame out to every client. Frames are dropped when
// the hub is saturated or stopped; the feed is best-effort telemetry.
func (h *Hub) Broadcast(frameType FrameType, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	frame := Frame{
		Type:      frameType,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- payload:
	default:
		h.log.Warn().Str("type", string(frameType)).Msg("WebSocket broadcast dropped")
	}
	return nil
}

// BroadcastStatus pushes a status frame.
func (h *Hub) BroadcastStatus(st Status) {
	if err := h.Broadcast(FrameStatus, st); err != nil {
		h.log.Warn().Err(err).Msg("Status frame failed")
	}
}

// BroadcastTrade pushes a trade frame.
func (h *Hub) BroadcastTrade(trade any) {
	if err := h.Broadcast(FrameTrade, trade); err != nil {
		h.log.Warn().Err(err).Msg("Trade frame failed")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump drains client messages and answers pings; anything else is
// ignored, the feed is one-way.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug().Err(err).Msg("WebSocket read error")
			}
			break
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			continue
		}
		if frame.Type == FramePing {
			c.sendPong()
		}
	}
}

// writePump flushes hub frames and keeps the connection alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Fold queued frames into the same write.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendPong() {
	frame := Frame{
		Type:      FramePong,
		Timestamp: time.Now().UTC(),
		Data:      json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}

	select {
	case c.send <- payload:
	default:
	}
}
