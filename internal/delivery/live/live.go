// Package live pushes dashboard snapshots to browsers over a websocket.
package live

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"clash_tracker/internal/middleware"
	"clash_tracker/internal/usecase/dashboard"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 8
)

type Message struct {
	Type string             `json:"type"`
	Data dashboard.Snapshot `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	slot string
}

// Initial returns the snapshot sent right after a browser connects.
type Initial func(slot string) (dashboard.Snapshot, bool)

type Hub struct {
	upgrader websocket.Upgrader
	initial  Initial
	log      *zap.SugaredLogger

	mu      sync.Mutex
	clients map[string]map[*client]struct{}
}

func NewHub(initial Initial, checkOrigin bool, log *zap.SugaredLogger) *Hub {
	h := &Hub{
		initial: initial,
		log:     log,
		clients: make(map[string]map[*client]struct{}),
	}
	if !checkOrigin {
		h.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return h
}

// Publish sends snap to every connection of slot. Connections that cannot
// keep up are dropped.
func (h *Hub) Publish(slot string, snap dashboard.Snapshot) {
	raw, err := json.Marshal(Message{Type: "dashboard", Data: snap})
	if err != nil {
		h.log.Errorf("live: marshal snapshot: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[slot] {
		select {
		case c.send <- raw:
		default:
			h.removeLocked(c)
		}
	}
}

// Count returns the open connections of slot.
func (h *Hub) Count(slot string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[slot])
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.slot] == nil {
		h.clients[c.slot] = make(map[*client]struct{})
	}
	h.clients[c.slot][c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	set, ok := h.clients[c.slot]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.slot)
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	slot := middleware.SlotFrom(r.Context())
	if slot == "" {
		http.Error(w, "missing session", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("live: upgrade: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer), slot: slot}
	h.add(c)
	if h.initial != nil {
		if snap, ok := h.initial(slot); ok {
			h.Publish(slot, snap)
		}
	}

	go h.writePump(c)
	h.readPump(c)
}

// readPump only watches for the browser going away.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Infof("live: %s: %v", c.slot, err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
