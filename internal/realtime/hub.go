// Package realtime pushes table changes and notifications to the browser
// clients of one organization over websockets.
package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"zapcrm/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	EventChange       = "change"
	EventNotification = "notification"

	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // token auth, not cookies
	},
}

// Event is what clients receive. Change events carry Table/Action/Record,
// notifications carry Title/Body.
type Event struct {
	Type   string      `json:"type"`
	Table  string      `json:"table,omitempty"`
	Action string      `json:"action,omitempty"`
	Record interface{} `json:"record,omitempty"`
	Title  string      `json:"title,omitempty"`
	Body   string      `json:"body,omitempty"`
}

// Publisher is implemented by Hub; services depend on it so tests can record
// events instead.
type Publisher interface {
	Publish(orgID string, ev Event)
}

// Notify is shorthand for a notification event.
func Notify(p Publisher, orgID, title, body string) {
	p.Publish(orgID, Event{Type: EventNotification, Title: title, Body: body})
}

type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	orgID string
	send  chan []byte
}

type envelope struct {
	orgID   string
	payload []byte
}

// Hub maintains the set of active clients and fans events out per organization
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("Realtime client registered for org %s", client.orgID)
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.orgID != msg.orgID {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish never blocks the caller; events are dropped when the hub is
// saturated.
func (h *Hub) Publish(orgID string, ev Event) {
	if orgID == "" {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Error marshaling realtime event: %v", err)
		return
	}
	select {
	case h.broadcast <- envelope{orgID: orgID, payload: payload}:
	default:
		log.Printf("Realtime broadcast queue full, dropping %s event for org %s", ev.Type, orgID)
	}
}

// ClientCount reports connected clients for orgID.
func (h *Hub) ClientCount(orgID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.clients {
		if c.orgID == orgID {
			n++
		}
	}
	return n
}

func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request, orgID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	client := &Client{hub: h, conn: conn, orgID: orgID, send: make(chan []byte, 256)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Handle upgrades an authenticated request; GET /api/realtime?token=...
func (h *Hub) Handle(c *gin.Context) {
	h.ServeWs(c.Writer, c.Request, auth.OrgID(c))
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
