package broker

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one WebSocket connection tracked by the hub.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	class ClientClass
	key   string
}

// ServeSoftware upgrades a desktop client connection. The client_name query
// parameter identifies the installation; without it the socket is closed
// with reason "Missing client_name".
func (h *Hub) ServeSoftware(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("client_name")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("Failed to upgrade software client: %v", err)
		return
	}
	if name == "" {
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Missing client_name")
		conn.WriteControl(websocket.CloseMessage, msg, deadline)
		conn.Close()
		return
	}

	h.attach(conn, ClassSoftware, name)
}

// ServeWeb upgrades a browser client connection, keyed by remote IP.
func (h *Hub) ServeWeb(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("Failed to upgrade web client: %v", err)
		return
	}
	h.attach(conn, ClassWeb, remoteIP(r))
}

// ServeWorkspace upgrades a workspace live-update connection.
func (h *Hub) ServeWorkspace(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("Failed to upgrade workspace client: %v", err)
		return
	}
	h.attach(conn, ClassWorkspace, r.RemoteAddr)
}

func (h *Hub) attach(conn *websocket.Conn, class ClientClass, key string) {
	client := &Client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, 64),
		class: class,
		key:   key,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// readPump drains inbound frames so pongs and close frames are processed.
// Clients are listeners; their messages are discarded.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards hub payloads to the socket and keeps it alive with
// periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
