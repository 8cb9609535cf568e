package callws

import (
	"encoding/json"
	"log"

	"github.com/Parnets19/QuickChat-aws-sub001/internal/services"
	websocket "github.com/gofiber/contrib/websocket"
)

// Hub fans billing events out to connected parties. Delivery is best effort:
// a slow or absent client never blocks the billing path that produced the
// event.
type Hub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	outbound   chan *envelope
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	key  string
	send chan []byte
}

type envelope struct {
	recipients []string
	payload    []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan *envelope, 64),
	}
}

// NewClient keys the connection by the actor's account key (kind:id), the
// same key billing events are addressed to.
func NewClient(hub *Hub, conn *websocket.Conn, key string) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		key:  key,
		send: make(chan []byte, 32),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.key]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.key] = set
			}
			set[client] = struct{}{}
		case client := <-h.unregister:
			set, ok := h.clients[client.key]
			if !ok {
				continue
			}
			if _, exists := set[client]; exists {
				delete(set, client)
				close(client.send)
			}
			if len(set) == 0 {
				delete(h.clients, client.key)
			}
		case env := <-h.outbound:
			h.deliver(env)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Notify implements the notifier the services consume. It encodes once and
// drops the event if the hub is saturated rather than stalling the caller.
func (h *Hub) Notify(recipients []string, event services.CallEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("call hub encode event: %v", err)
		return
	}
	select {
	case h.outbound <- &envelope{recipients: recipients, payload: payload}:
	default:
		log.Printf("call hub saturated, dropped %s event for call %d", event.Type, event.CallID)
	}
}

func (h *Hub) deliver(env *envelope) {
	seen := make(map[string]struct{}, len(env.recipients))
	for _, key := range env.recipients {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		h.sendToKey(key, env.payload)
	}
}

func (h *Hub) sendToKey(key string, payload []byte) {
	set, ok := h.clients[key]
	if !ok {
		return
	}

	for client := range set {
		select {
		case client.send <- payload:
		default:
			delete(set, client)
			close(client.send)
		}
	}
	if len(set) == 0 {
		delete(h.clients, key)
	}
}

// ReadPump drains the connection so close frames are noticed; clients do not
// send commands on this socket.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}
