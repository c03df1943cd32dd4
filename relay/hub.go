package relay

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/c360/dynbus/errors"
)

// Envelope wraps every message sent to a client
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Topic     string          `json:"topic,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Hub fans published values out to connected websocket clients
type Hub struct {
	upgrader     websocket.Upgrader
	logger       *slog.Logger
	metrics      *hubMetrics
	queueSize    int
	writeTimeout time.Duration
	pingInterval time.Duration
	readTimeout  time.Duration

	seq atomic.Uint64

	mu       sync.RWMutex
	clients  map[*client]struct{}
	closed   bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

type client struct {
	conn        *websocket.Conn
	send        chan []byte
	connectedAt time.Time
	closeOnce   sync.Once
	done        chan struct{}
}

// NewHub creates a hub with no clients
func NewHub(opts ...Option) *Hub {
	o := options{
		logger:       slog.Default(),
		queueSize:    256,
		writeTimeout: 10 * time.Second,
		pingInterval: 30 * time.Second,
		checkOrigin:  func(*http.Request) bool { return true },
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     o.checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:       o.logger.With("component", "relay"),
		metrics:      newHubMetrics(o.registry, o.logger),
		queueSize:    o.queueSize,
		writeTimeout: o.writeTimeout,
		pingInterval: o.pingInterval,
		readTimeout:  2 * o.pingInterval,
		clients:      make(map[*client]struct{}),
		shutdown:     make(chan struct{}),
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues value for every connected client. A value carrying a
// string "name" member (the discovery envelope) is tagged with that topic.
func (h *Hub) Publish(value map[string]any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		h.metrics.failure("marshal")
		return errors.WrapInvalid(err, "Hub", "Publish", "marshal payload")
	}

	env := Envelope{
		Type:      "data",
		ID:        fmt.Sprintf("msg-%d-%d", time.Now().UnixMilli(), h.seq.Add(1)),
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
	if name, ok := value["name"].(string); ok {
		env.Topic = name
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.metrics.failure("marshal")
		return errors.WrapInvalid(err, "Hub", "Publish", "marshal envelope")
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}
	for c := range h.clients {
		if h.enqueue(c, data) {
			h.metrics.dropped()
		}
	}
	h.metrics.published()
	return nil
}

// enqueue reports whether an older message was dropped to make room
func (h *Hub) enqueue(c *client, data []byte) bool {
	select {
	case c.send <- data:
		return false
	default:
	}
	dropped := false
	select {
	case <-c.send:
		dropped = true
	default:
	}
	select {
	case c.send <- data:
	default:
		dropped = true
	}
	return dropped
}

// ServeHTTP upgrades the request and registers the client
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.failure("upgrade")
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		conn:        conn,
		send:        make(chan []byte, h.queueSize),
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.wg.Add(2)
	h.mu.Unlock()

	h.metrics.connected(n)
	h.logger.Debug("client connected", "remote", conn.RemoteAddr().String(), "clients", n)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// writeLoop owns all writes to the connection
func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	defer h.remove(c)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.metrics.failure("write")
				return
			}
			h.metrics.sent(len(data))
		case <-ticker.C:
			deadline := time.Now().Add(h.writeTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				h.metrics.failure("ping")
				return
			}
		case <-c.done:
			return
		case <-h.shutdown:
			deadline := time.Now().Add(h.writeTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay closing")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		}
	}
}

// readLoop discards inbound frames and detects disconnects
func (h *Hub) readLoop(c *client) {
	defer h.wg.Done()
	defer h.remove(c)

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

func (h *Hub) remove(c *client) {
	c.closeOnce.Do(func() {
		close(c.done)

		h.mu.Lock()
		delete(h.clients, c)
		n := len(h.clients)
		h.mu.Unlock()

		reason := "normal"
		if time.Since(c.connectedAt) < 5*time.Second {
			reason = "early_disconnect"
		}
		h.metrics.disconnected(n, reason)
		h.logger.Debug("client disconnected", "remote", c.conn.RemoteAddr().String(), "reason", reason)

		_ = c.conn.Close()
	})
}

// Close disconnects every client and waits for their goroutines. Publish
// after Close is a no-op.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.shutdown)
	h.mu.Unlock()

	h.wg.Wait()
	return nil
}
