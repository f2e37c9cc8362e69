package websocket

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

type Client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewClient returns a client that is not attached to a connection. It only
// receives into its buffer, which makes it usable for hub fan-out tests.
func NewClient(buffer int) *Client {
	return &Client{send: make(chan []byte, buffer), done: make(chan struct{})}
}

// Messages exposes the client's outbound buffer.
func (c *Client) Messages() <-chan []byte {
	return c.send
}

// Upgrader builds an upgrader that admits the given comma separated origins.
// "*" or an empty list admits any origin.
func Upgrader(allowedOrigins string) websocket.Upgrader {
	origins := map[string]struct{}{}
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = struct{}{}
		}
	}
	_, wildcard := origins["*"]
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if wildcard || len(origins) == 0 {
				return true
			}
			_, ok := origins[r.Header.Get("Origin")]
			return ok
		},
	}
}

func ServeWS(w http.ResponseWriter, r *http.Request, upgrader websocket.Upgrader, hub *Hub, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		return
	}
	client := NewClient(16)
	client.conn = conn
	hub.Register(userID, client)
	go client.writePump(hub, userID)
	client.readPump(hub, userID)
}

func (c *Client) close(hub *Hub, userID string) {
	c.once.Do(func() {
		hub.Unregister(userID, c)
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readPump(hub *Hub, userID string) {
	defer c.close(hub, userID)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump(hub *Hub, userID string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close(hub, userID)
	}()
	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
