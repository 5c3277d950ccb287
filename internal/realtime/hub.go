package realtime

import (
	"log"
	"sync"
)

// Hub owns the room subscriber sets. The reverse index lets a disconnect
// drop every subscription of a connection in one step.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	joined map[*Client]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		joined: make(map[*Client]map[string]struct{}),
	}
}

// Join subscribes c to room and reports whether it was newly added.
func (h *Hub) Join(room string, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	if _, ok := members[c]; ok {
		return false
	}
	members[c] = struct{}{}

	rooms, ok := h.joined[c]
	if !ok {
		rooms = make(map[string]struct{})
		h.joined[c] = rooms
	}
	rooms[room] = struct{}{}
	return true
}

// Leave unsubscribes c from room and reports whether it was subscribed.
func (h *Hub) Leave(room string, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(room, c)
}

func (h *Hub) leaveLocked(room string, c *Client) bool {
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[c]; !ok {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	if rooms, ok := h.joined[c]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(h.joined, c)
		}
	}
	return true
}

// LeaveAll drops every subscription of c.
func (h *Hub) LeaveAll(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.joined[c] {
		h.leaveLocked(room, c)
	}
}

func (h *Hub) IsJoined(room string, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c]
	return ok
}

func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Deliver enqueues payload on every subscriber of room except the
// connection with id exceptConn, and returns how many accepted it.
// Subscribers whose buffer is full are disconnected.
func (h *Hub) Deliver(room string, payload []byte, exceptConn string) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if exceptConn != "" && c.id == exceptConn {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(payload) {
			delivered++
			continue
		}
		if !c.isClosed() {
			log.Printf("[realtime] send buffer full, disconnecting user=%s conn=%s room=%s", c.userID, c.id, room)
			c.Close()
		}
	}
	return delivered
}
