package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbd888/fraudradar/internal/idgen"
	"github.com/mbd888/fraudradar/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4 * 1024 // clients send nothing but control frames
	sendBufferSize = 256
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// The stream is read-only and carries no credentials, so any origin may
// subscribe, matching the CORS policy of the HTTP API.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Client is a WebSocket subscriber. The stream is server to client only;
// the read side exists to notice disconnects and answer pings.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

// Compile-time check.
var _ Subscriber = (*Client)(nil)

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:     idgen.WithPrefix("ws_"),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Deliver queues msg for the write pump without blocking.
func (c *Client) Deliver(msg []byte) error {
	select {
	case <-c.closed:
		return ErrSubscriberClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSlowSubscriber
	}
}

// Close stops the write pump, which then closes the connection. Safe to
// call more than once.
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.closed)
		metrics.ActiveWebSocketClients.Dec()
	})
	return nil
}

// HandleWebSocket upgrades HTTP to WebSocket and attaches the connection
// to the hub.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if h.Count() >= h.maxSubs {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(h, conn)
	metrics.ActiveWebSocketClients.Inc()
	if err := h.Connect(client); err != nil {
		_ = client.Close()
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump discards inbound frames and detaches the client on read error.
func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c.id)
		_ = c.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "id", c.id, "error", err)
			}
			return
		}
	}
}

// writePump writes queued events and keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close() // later deliveries fail fast and detach the client
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "id", c.id, "error", err)
				return
			}

		case <-c.closed:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "id", c.id, "error", err)
				return
			}
		}
	}
}
