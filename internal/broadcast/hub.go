// Package broadcast fans ticket events out to connected UI sessions grouped
// into rooms.
package broadcast

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Well-known rooms
const (
	RoomAll    = "all"
	RoomAgents = "agents"
)

const defaultBuffer = 64

// ErrUnknownConnection is returned when joining a room with an unregistered id
var ErrUnknownConnection = errors.New("unknown connection")

// TicketRoom returns the room for one case
func TicketRoom(caseID uint) string {
	return fmt.Sprintf("ticket:%d", caseID)
}

// UserRoom returns the room for one agent
func UserRoom(userID uint) string {
	return fmt.Sprintf("user:%d", userID)
}

// Event is one message delivered to a connection
type Event struct {
	Name    string      `json:"event"`
	Room    string      `json:"room"`
	Payload interface{} `json:"payload,omitempty"`
	SentAt  time.Time   `json:"sent_at"`
}

// Publisher is the write side of the hub used by the ingestion and API layers
type Publisher interface {
	Publish(room, event string, payload interface{})
}

// Conn is one registered subscriber
type Conn struct {
	id     string
	send   chan Event
	rooms  map[string]struct{}
	closed bool
}

// ID returns the connection id
func (c *Conn) ID() string { return c.id }

// Events returns the outbound channel. It is closed on Unregister or Close.
func (c *Conn) Events() <-chan Event { return c.send }

// Hub is a room-based publish/subscribe hub. Publishing never blocks: a
// connection whose buffer is full misses the event.
type Hub struct {
	buffer int
	onDrop func()

	mu     sync.Mutex
	conns  map[string]*Conn
	rooms  map[string]map[string]*Conn
	closed bool

	dropped atomic.Uint64
}

// Option configures a Hub
type Option func(*Hub)

// WithBuffer sets the per-connection outbound buffer size
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithDropHook registers a callback invoked for every dropped event
func WithDropHook(fn func()) Option {
	return func(h *Hub) { h.onDrop = fn }
}

// NewHub creates an empty hub
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		buffer: defaultBuffer,
		conns:  make(map[string]*Conn),
		rooms:  make(map[string]map[string]*Conn),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a connection. It is a member of RoomAll until unregistered.
func (h *Hub) Register() *Conn {
	c := &Conn{
		id:    uuid.NewString(),
		send:  make(chan Event, h.buffer),
		rooms: make(map[string]struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		c.closed = true
		close(c.send)
		return c
	}
	h.conns[c.id] = c
	h.join(c, RoomAll)
	return c
}

// Unregister removes a connection from every room and closes its channel
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[id]
	if !ok {
		return
	}
	for room := range c.rooms {
		h.leave(c, room)
	}
	delete(h.conns, id)
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Join adds a connection to room
func (h *Hub) Join(id, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	h.join(c, room)
	return nil
}

// Leave removes a connection from room. Leaving RoomAll is ignored.
func (h *Hub) Leave(id, room string) {
	if room == RoomAll {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.conns[id]; ok {
		h.leave(c, room)
	}
}

// Members returns the sorted connection ids in room
func (h *Hub) Members(room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}

// Publish delivers an event to every member of room. Delivery to one room is
// serialized, so members observe publishes in call order.
func (h *Hub) Publish(room, event string, payload interface{}) {
	ev := Event{Name: event, Room: room, Payload: payload, SentAt: time.Now().UTC()}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	for _, c := range h.rooms[room] {
		select {
		case c.send <- ev:
		default:
			h.dropped.Add(1)
			if h.onDrop != nil {
				h.onDrop()
			}
			logrus.WithFields(logrus.Fields{"conn": c.id, "room": room, "event": event}).Warn("Dropping event for slow connection")
		}
	}
}

// Dropped returns the number of events dropped on full buffers
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close unregisters every connection. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, c := range h.conns {
		if !c.closed {
			c.closed = true
			close(c.send)
		}
		delete(h.conns, id)
	}
	h.rooms = make(map[string]map[string]*Conn)
	logrus.Info("Event hub closed")
}

func (h *Hub) join(c *Conn, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		h.rooms[room] = members
	}
	members[c.id] = c
	c.rooms[room] = struct{}{}
}

func (h *Hub) leave(c *Conn, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}
