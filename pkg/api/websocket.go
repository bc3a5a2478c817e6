package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/ledgerdex/pkg/app/dex"
)

const (
	// ChannelEvents carries every exchange event
	ChannelEvents = "events"
	// account:<address> carries events where the address is the user or the maker
	channelAccountPrefix = "account:"
	// order:<id> carries the lifecycle events of one order
	channelOrderPrefix = "order:"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

// ConnObserver is told when WebSocket clients come and go
type ConnObserver interface {
	WebSocketConnected()
	WebSocketDisconnected()
}

// Hub maintains active WebSocket connections and routes exchange events
// to the clients subscribed to their channels
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex for thread-safe access
	mu sync.RWMutex

	// closed when Run returns
	done chan struct{}

	observer ConnObserver
	log      *zap.SugaredLogger
}

// NewHub creates a new WebSocket hub
func NewHub(observer ConnObserver, log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		observer:   observer,
		log:        log,
	}
}

// Run starts the hub's main loop. When ctx ends every client is closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			if h.observer != nil {
				h.observer.WebSocketConnected()
			}
			h.log.Debugw("ws_connected", "client", client.id, "remote", client.remote, "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				if h.observer != nil {
					h.observer.WebSocketDisconnected()
				}
				h.log.Debugw("ws_disconnected", "client", client.id, "total", len(h.clients))
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
				if h.observer != nil {
					h.observer.WebSocketDisconnected()
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// Publish routes ev to its channels. It is an exchange subscriber, so it
// never blocks: a client whose buffer is full misses the event.
func (h *Hub) Publish(ev dex.Event) {
	for _, channel := range EventChannels(ev) {
		h.BroadcastToChannel(channel, WSMessage{Type: "event", Channel: channel, Data: ev})
	}
}

// EventChannels lists the channels ev is delivered on
func EventChannels(ev dex.Event) []string {
	channels := []string{ChannelEvents}
	for _, acct := range ev.Accounts() {
		channels = append(channels, channelAccountPrefix+acct.Hex())
	}
	if ev.IsOrderEvent() {
		channels = append(channels, fmt.Sprintf("%s%d", channelOrderPrefix, ev.ID))
	}
	return channels
}

// BroadcastToChannel sends a message to all clients subscribed to a channel
func (h *Hub) BroadcastToChannel(channel string, data interface{}) {
	message, err := json.Marshal(data)
	if err != nil {
		h.log.Warnw("ws_marshal_failed", "channel", channel, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.IsSubscribed(channel) {
			select {
			case client.send <- message:
			default:
				// Buffer full, skip this client
			}
		}
	}
}

// join registers c unless the hub has stopped
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount is the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// normalizeChannel checksums account addresses and rejects unknown channels
func normalizeChannel(channel string) (string, error) {
	switch {
	case channel == ChannelEvents:
		return channel, nil
	case strings.HasPrefix(channel, channelAccountPrefix):
		addr := strings.TrimPrefix(channel, channelAccountPrefix)
		if !common.IsHexAddress(addr) {
			return "", fmt.Errorf("invalid address in channel %q", channel)
		}
		return channelAccountPrefix + common.HexToAddress(addr).Hex(), nil
	case strings.HasPrefix(channel, channelOrderPrefix):
		id, err := parseOrderID(strings.TrimPrefix(channel, channelOrderPrefix))
		if err != nil {
			return "", fmt.Errorf("invalid order id in channel %q", channel)
		}
		return fmt.Sprintf("%s%d", channelOrderPrefix, id), nil
	default:
		return "", fmt.Errorf("unknown channel %q", channel)
	}
}

// Client represents a WebSocket connection
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	id     string
	remote string

	// Subscribed channels
	subscriptions map[string]bool
	subsMu        sync.RWMutex
}

// IsSubscribed checks if client is subscribed to a channel
func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

// Subscribe adds a channel subscription
func (c *Client) Subscribe(channel string) {
	c.subsMu.Lock()
	c.subscriptions[channel] = true
	c.subsMu.Unlock()
	c.hub.log.Debugw("ws_subscribed", "client", c.id, "channel", channel)
}

// Unsubscribe removes a channel subscription
func (c *Client) Unsubscribe(channel string) {
	c.subsMu.Lock()
	delete(c.subscriptions, channel)
	c.subsMu.Unlock()
	c.hub.log.Debugw("ws_unsubscribed", "client", c.id, "channel", channel)
}

// reply queues a control message for this client only
func (c *Client) reply(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// handleRequest applies one subscribe/unsubscribe request and acknowledges it
func (c *Client) handleRequest(req WSSubscribeRequest) {
	if req.Op != "subscribe" && req.Op != "unsubscribe" {
		c.reply(WSMessage{Type: "error", Data: fmt.Sprintf("unknown op %q", req.Op)})
		return
	}

	done := make([]string, 0, len(req.Channels))
	for _, raw := range req.Channels {
		channel, err := normalizeChannel(raw)
		if err != nil {
			c.reply(WSMessage{Type: "error", Data: err.Error()})
			continue
		}
		if req.Op == "subscribe" {
			c.Subscribe(channel)
		} else {
			c.Unsubscribe(channel)
		}
		done = append(done, channel)
	}
	c.reply(WSMessage{Type: req.Op + "d", Data: done})
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debugw("ws_read_failed", "client", c.id, "err", err)
			}
			break
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.reply(WSMessage{Type: "error", Data: "invalid message"})
			continue
		}
		c.handleRequest(req)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
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
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// one JSON document per frame
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// handleWebSocket handles WebSocket upgrade and client lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("ws_upgrade_failed", "err", err)
		return
	}

	client := &Client{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		id:            uuid.NewString(),
		remote:        conn.RemoteAddr().String(),
		subscriptions: make(map[string]bool),
	}

	if !client.hub.join(client) {
		conn.Close()
		return
	}

	// Start read and write pumps in separate goroutines
	go client.writePump()
	go client.readPump()
}
