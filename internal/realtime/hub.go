// Package realtime pushes event bus traffic to websocket clients on named streams.
package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/campusync/internal/events"
	"github.com/charlesng35/campusync/internal/monitoring"
	"github.com/charlesng35/campusync/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	defaultBufferSize = 64
)

// Message is the JSON frame delivered to clients.
type Message struct {
	Stream string    `json:"stream"`
	Event  string    `json:"event"`
	Data   any       `json:"data,omitempty"`
	At     time.Time `json:"at,omitempty"`
}

type controlMessage struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
}

// Hub tracks websocket clients and the streams they joined.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu            sync.RWMutex
	subscriptions map[string]map[*connection]struct{}
	clients       int
}

// NewHub constructs a hub.
func NewHub() *Hub {
	return &Hub{
		log:           logger.WithModule("realtime"),
		subscriptions: make(map[string]map[*connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				return originHost == hostWithoutPort(r.Host) || isLoopback(originHost)
			},
		},
	}
}

// Bridge forwards every bus event that maps onto a stream. The returned function
// detaches the hub.
func (h *Hub) Bridge(bus *events.Bus) func() {
	return bus.Subscribe(events.Wildcard, func(e events.Event) {
		stream := StreamFor(e.Name)
		if stream == "" {
			return
		}
		h.Broadcast(stream, Message{Event: e.Name, Data: e.Payload, At: e.At})
	})
}

// Serve upgrades the request and joins the client to streams.
func (h *Hub) Serve(streams []string, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		monitoring.RecordRealtimeFailure("", "upgrade")
		return
	}

	client := newConnection(h, socket)
	h.register(client)
	h.subscribe(client, streams)

	go client.writeLoop()
	client.readLoop()
}

// Broadcast delivers message to every client on stream.
func (h *Hub) Broadcast(stream string, message Message) {
	stream = normalizeStream(stream)
	if stream == "" {
		return
	}

	h.mu.RLock()
	targets := make([]*connection, 0, len(h.subscriptions[stream]))
	for client := range h.subscriptions[stream] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	message.Stream = stream
	for _, client := range targets {
		h.enqueue(client, message)
	}
	monitoring.RecordRealtimeBroadcast(stream)
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients
}

// Subscribers reports the number of clients on stream.
func (h *Hub) Subscribers(stream string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[normalizeStream(stream)])
}

func (h *Hub) register(client *connection) {
	h.mu.Lock()
	h.clients++
	h.mu.Unlock()
	monitoring.RecordRealtimeConnection(1)
	h.log.Debug("client connected", zap.String("client", client.id))
}

func (h *Hub) subscribe(client *connection, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range uniqueStreams(streams) {
		if !isKnownStream(stream) {
			h.log.Debug("ignoring unknown stream", zap.String("client", client.id), zap.String("stream", stream))
			continue
		}
		if h.subscriptions[stream] == nil {
			h.subscriptions[stream] = make(map[*connection]struct{})
		}
		client.streams[stream] = struct{}{}
		h.subscriptions[stream][client] = struct{}{}
	}
}

func (h *Hub) unsubscribe(client *connection, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, stream := range uniqueStreams(streams) {
		h.removeLocked(client, stream)
	}
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	for stream := range client.streams {
		h.removeLocked(client, stream)
	}
	h.clients--
	h.mu.Unlock()

	monitoring.RecordRealtimeConnection(-1)
	h.log.Debug("client disconnected", zap.String("client", client.id))
}

func (h *Hub) removeLocked(client *connection, stream string) {
	delete(client.streams, stream)
	members := h.subscriptions[stream]
	if members == nil {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.subscriptions, stream)
	}
}

func (h *Hub) enqueue(client *connection, message Message) {
	if !client.offer(message) {
		h.log.Warn("dropping slow websocket client", zap.String("client", client.id))
		monitoring.RecordRealtimeFailure(message.Stream, "backpressure")
		client.close()
	}
}

type connection struct {
	id      string
	hub     *Hub
	socket  *websocket.Conn
	streams map[string]struct{}

	sendMu sync.Mutex
	send   chan Message
	closed bool
	once   sync.Once
}

func newConnection(hub *Hub, socket *websocket.Conn) *connection {
	return &connection{
		id:      uuid.NewString(),
		hub:     hub,
		socket:  socket,
		streams: make(map[string]struct{}),
		send:    make(chan Message, defaultBufferSize),
	}
}

// offer queues message without blocking; false means the buffer is full.
func (c *connection) offer(message Message) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("unexpected websocket close", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			c.hub.log.Debug("invalid control payload", zap.String("client", c.id), zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case "subscribe":
			c.hub.subscribe(c, ctrl.Streams)
		case "unsubscribe":
			c.hub.unsubscribe(c, ctrl.Streams)
		case "ping":
			c.offer(Message{Event: "pong"})
		default:
			c.hub.log.Debug("unsupported control action", zap.String("client", c.id), zap.String("action", ctrl.Action))
		}
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(message); err != nil {
				monitoring.RecordRealtimeFailure(message.Stream, "write")
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		c.sendMu.Lock()
		c.closed = true
		close(c.send)
		c.sendMu.Unlock()
		_ = c.socket.Close()
	})
}

func isKnownStream(stream string) bool {
	for _, known := range Streams {
		if stream == known {
			return true
		}
	}
	return false
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		if parsed, err := http.NewRequest(http.MethodGet, host, nil); err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

func normalizeStream(stream string) string {
	return strings.ToLower(strings.TrimSpace(stream))
}

func uniqueStreams(streams []string) []string {
	seen := make(map[string]struct{}, len(streams))
	var out []string
	for _, stream := range streams {
		stream = normalizeStream(stream)
		if stream == "" {
			continue
		}
		if _, ok := seen[stream]; ok {
			continue
		}
		seen[stream] = struct{}{}
		out = append(out, stream)
	}
	return out
}
