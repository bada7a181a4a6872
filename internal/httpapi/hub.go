package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub maintains the gateway's websocket clients and fans out
// channel-scoped broadcasts, adapted from the teacher's pkg/api.Hub.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan channelMessage
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
	log        *zap.Logger
}

type channelMessage struct {
	channel string
	payload []byte
}

// NewHub constructs an idle Hub; call Run in its own goroutine to
// start the dispatch loop.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan channelMessage, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		log:        log,
	}
}

// Run drives registration and fan-out until ctx work is stopped by
// process exit; mirrors the teacher's go s.hub.Run() pattern.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case m := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(m.channel) {
					continue
				}
				select {
				case c.send <- m.payload:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastToChannel JSON-encodes data and queues it for every client
// subscribed to channel.
func (h *Hub) BroadcastToChannel(channel string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		if h.log != nil {
			h.log.Error("websocket broadcast marshal failed", zap.Error(err))
		}
		return
	}
	h.broadcast <- channelMessage{channel: channel, payload: payload}
}

// wsClient is one upgraded websocket connection with its own channel
// subscription set.
type wsClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	id            string
	subscriptions map[string]bool
	subsMu        sync.RWMutex
}

func (c *wsClient) isSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

func (c *wsClient) subscribe(channel string) {
	c.subsMu.Lock()
	c.subscriptions[channel] = true
	c.subsMu.Unlock()
}

func (c *wsClient) unsubscribe(channel string) {
	c.subsMu.Lock()
	delete(c.subscriptions, channel)
	c.subsMu.Unlock()
}

// wsSubscribeRequest is the client->server message shape spec.md
// §4.10 documents: {op:"subscribe"/"unsubscribe", channels:[...]}.
type wsSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if c.hub.log != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", zap.String("client", c.id), zap.Error(err))
			}
			break
		}
		var req wsSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}
		switch req.Op {
		case "subscribe":
			for _, ch := range req.Channels {
				c.subscribe(ch)
			}
		case "unsubscribe":
			for _, ch := range req.Channels {
				c.unsubscribe(ch)
			}
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce whatever else is already queued into this same
			// frame, newline-delimited, so a burst of book/trade updates
			// doesn't cost one TCP write per message.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.Warn("websocket upgrade failed", zap.Error(err))
		}
		return
	}
	client := &wsClient{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, 256),
		id:            conn.RemoteAddr().String(),
		subscriptions: make(map[string]bool),
	}
	h.register <- client
	go client.writePump()
	go client.readPump()
}
