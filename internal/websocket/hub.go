// Package websocket pushes alert activity to dashboard clients.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"guardian/internal/logger"
	"guardian/internal/models"
)

const broadcastBuffer = 256

var ErrBroadcastFull = errors.New("broadcast buffer full")

// Message is the envelope written to every client
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type flashPayload struct {
	Alert models.Alert `json:"alert"`
	Color string       `json:"color"`
}

// Hub maintains the set of active clients and broadcasts messages. Broadcasts
// never block: when the hub falls behind, messages are dropped, and a client
// whose send buffer is full is disconnected.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
		log:        log.With("websocket"),
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Infof("WebSocket client registered: %s", client.addr())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.log.Infof("WebSocket client unregistered: %s", client.addr())
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					h.log.Warnf("WebSocket client %s send buffer full, removing", client.addr())
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) publish(msgType string, payload interface{}) error {
	messageBytes, err := json.Marshal(Message{Type: msgType, Payload: payload})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- messageBytes:
		return nil
	default:
		return ErrBroadcastFull
	}
}

func (h *Hub) OnAlert(a models.Alert) error {
	return h.publish("alert", a)
}

func (h *Hub) OnResolve(a models.Alert) error {
	return h.publish("resolved", a)
}

// Show implements alert.VisualSink.
func (h *Hub) Show(a models.Alert, color string) error {
	return h.publish("flash", flashPayload{Alert: a, Color: color})
}

func (h *Hub) Expire(a models.Alert) error {
	return h.publish("flash_expired", a)
}
