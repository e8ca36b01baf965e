package broker

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invigo-mfg/invigo-server/pkg/logger"
)

// ClientClass separates the three socket populations the hub serves.
type ClientClass string

const (
	// ClassSoftware is a desktop installation, keyed by its client_name.
	ClassSoftware ClientClass = "software"
	// ClassWeb is a browser session, keyed by remote IP.
	ClassWeb ClientClass = "web"
	// ClassWorkspace receives live workspace change events.
	ClassWorkspace ClientClass = "workspace"
)

type broadcastMsg struct {
	class   ClientClass
	payload []byte
	exclude string
}

// Hub owns every WebSocket client registry. All registry access happens on
// the run loop, so handlers and background tasks talk to it through
// channels only.
type Hub struct {
	logger *logger.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg

	clients map[ClientClass]map[string]*Client

	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

// NewHub creates a hub with empty registries. Call Run before serving
// connections.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		logger:     log,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMsg, 64),
		clients: map[ClientClass]map[string]*Client{
			ClassSoftware:  {},
			ClassWeb:       {},
			ClassWorkspace: {},
		},
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run is the event loop that owns the client registries.
func (h *Hub) Run() {
	defer close(h.stopped)

	for {
		select {
		case client := <-h.register:
			registry := h.clients[client.class]
			if old, ok := registry[client.key]; ok && old != client {
				close(old.send)
			}
			registry[client.key] = client
			h.logger.Infof("%s client %q connected (%d online)", client.class, client.key, len(registry))

		case client := <-h.unregister:
			registry := h.clients[client.class]
			if current, ok := registry[client.key]; ok && current == client {
				delete(registry, client.key)
				close(client.send)
				h.logger.Infof("%s client %q disconnected (%d online)", client.class, client.key, len(registry))
			}

		case msg := <-h.broadcast:
			for key, client := range h.clients[msg.class] {
				if msg.exclude != "" && key == msg.exclude {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					// Slow consumer: drop the connection rather than block
					// the loop.
					delete(h.clients[msg.class], key)
					close(client.send)
					h.logger.Warnf("Dropped slow %s client %q", msg.class, key)
				}
			}

		case <-h.done:
			for _, registry := range h.clients {
				for key, client := range registry {
					delete(registry, key)
					close(client.send)
				}
			}
			return
		}
	}
}

// Stop shuts down the run loop and closes every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		<-h.stopped
	})
}

// Broadcast sends a JSON payload to every client of a class.
func (h *Hub) Broadcast(class ClientClass, payload interface{}) error {
	return h.send(class, payload, "")
}

// SignalClientsForChanges tells every client of a class, except the
// originator, that the named files or URLs went stale and should be
// re-downloaded.
func (h *Hub) SignalClientsForChanges(originator string, files []string, class ClientClass) error {
	return h.send(class, map[string]interface{}{
		"action": "download",
		"files":  files,
	}, originator)
}

func (h *Hub) send(class ClientClass, payload interface{}, exclude string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode broadcast: %w", err)
	}

	select {
	case h.broadcast <- broadcastMsg{class: class, payload: raw, exclude: exclude}:
		return nil
	case <-h.done:
		return fmt.Errorf("hub is stopped")
	}
}
