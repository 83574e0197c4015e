// Package realtime fans committed content mutations out to websocket
// subscribers, one room per page.
package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ideahive/api/internal/content"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced upstream by the CORS middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	hub    *Hub
	pageID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub tracks page rooms and their subscribers. Delivery is best-effort: a
// subscriber that cannot keep up is dropped rather than allowed to stall
// the broadcast.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*client]bool
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*client]bool)}
}

// Subscribe upgrades the request to a websocket and joins the page's room.
// The caller has already authenticated the request and checked page access.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request, pageID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{hub: h, pageID: pageID, conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(c)

	go c.writePump()
	go c.readPump()
	return nil
}

// BroadcastContent implements the content engine's notifier.
func (h *Hub) BroadcastContent(event content.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("realtime: marshal event: %v", err)
		return
	}
	h.broadcast(event.PageID, payload)
}

// RoomSize reports the number of subscribers on a page.
func (h *Hub) RoomSize(pageID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[pageID])
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.pageID]
	if !ok {
		room = make(map[*client]bool)
		h.rooms[c.pageID] = room
	}
	room[c] = true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.pageID]
	if !ok {
		return
	}
	if room[c] {
		delete(room, c)
		close(c.send)
	}
	if len(room) == 0 {
		delete(h.rooms, c.pageID)
	}
}

func (h *Hub) broadcast(pageID string, payload []byte) {
	h.mu.RLock()
	var slow []*client
	for c := range h.rooms[pageID] {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.remove(c)
	}
}

// readPump drains inbound frames. Clients only listen; anything they send is
// discarded, but the read loop drives pong handling and close detection.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
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
