package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const sendQueueSize = 32

// socket is the subset of the WebSocket connection the hub writes to.
type socket interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Conn is one client connection. Outbound events go through a bounded queue
// drained by a dedicated write goroutine; a slow client loses events rather
// than stalling the room.
type Conn struct {
	id   string
	sock socket

	send chan []byte
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func newConn(id string, sock socket) *Conn {
	return &Conn{
		id:   id,
		sock: sock,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

// ID returns the connection's identifier.
func (c *Conn) ID() string { return c.id }

// Send marshals env and enqueues it. Events are dropped with a warning when
// the queue is full.
func (c *Conn) Send(env Envelope) {
	buf, err := json.Marshal(env)
	if err != nil {
		slog.Error("failed to marshal outbound event",
			"conn_id", c.id, "event", env.Event, "error", err)
		return
	}
	c.enqueue(buf, env.Event)
}

func (c *Conn) enqueue(buf []byte, event string) {
	select {
	case <-c.done:
	case c.send <- buf:
	default:
		slog.Warn("dropping outbound event, send queue full",
			"conn_id", c.id, "event", event)
	}
}

func (c *Conn) start(ctx context.Context) {
	c.wg.Add(1)
	go c.writeLoop(ctx)
}

func (c *Conn) writeLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			// Drain whatever is already queued before shutting down.
			for {
				select {
				case buf := <-c.send:
					if err := c.sock.Write(ctx, websocket.MessageText, buf); err != nil {
						return
					}
				default:
					return
				}
			}
		case buf := <-c.send:
			if err := c.sock.Write(ctx, websocket.MessageText, buf); err != nil {
				slog.Debug("write failed", "conn_id", c.id, "error", err)
				return
			}
		}
	}
}

// Close stops the write loop and closes the underlying socket. Safe to call
// multiple times.
func (c *Conn) Close(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.done)
		c.wg.Wait()
		_ = c.sock.Close(code, reason)
	})
}

// Hub tracks connections and their room memberships. A room holds every
// connection attached to one interview session; a client leaving a room does
// not end the session, it only stops receiving events.
type Hub struct {
	idleAfter time.Duration
	onIdle    func(room string)
	now       func() time.Time

	mu         sync.RWMutex
	conns      map[string]*Conn
	rooms      map[string]map[string]*Conn
	emptySince map[string]time.Time
}

// NewHub creates a [Hub]. onIdle is invoked from [Hub.Run] for each room that
// has stayed empty for idleAfter; it may be nil.
func NewHub(idleAfter time.Duration, onIdle func(room string)) *Hub {
	return &Hub{
		idleAfter:  idleAfter,
		onIdle:     onIdle,
		now:        time.Now,
		conns:      make(map[string]*Conn),
		rooms:      make(map[string]map[string]*Conn),
		emptySince: make(map[string]time.Time),
	}
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

func (h *Hub) unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, connID)
	for room, members := range h.rooms {
		if _, ok := members[connID]; !ok {
			continue
		}
		delete(members, connID)
		if len(members) == 0 {
			h.emptySince[room] = h.now()
		}
	}
}

// Join adds the connection to a room, creating the room on first use.
// Returns false when the connection is unknown.
func (h *Hub) Join(room, connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return false
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*Conn)
		h.rooms[room] = members
	}
	members[connID] = c
	delete(h.emptySince, room)
	return true
}

// Leave removes the connection from a room. The room entry is kept so a
// reconnect can resume; emptiness is reported through the idle hook.
func (h *Hub) Leave(room, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		h.emptySince[room] = h.now()
	}
}

// DropRoom forgets a room entirely. Called when its session is removed.
func (h *Hub) DropRoom(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, room)
	delete(h.emptySince, room)
}

// Publish fans env out to every connection in the room and reports how many
// received it. The payload is marshalled once.
func (h *Hub) Publish(room string, env Envelope) int {
	buf, err := json.Marshal(env)
	if err != nil {
		slog.Error("failed to marshal room event",
			"room", room, "event", env.Event, "error", err)
		return 0
	}

	h.mu.RLock()
	members := make([]*Conn, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		c.enqueue(buf, env.Event)
	}
	return len(members)
}

// RoomSize reports how many connections are in the room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ConnCount reports the number of registered connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Run sweeps for idle rooms until ctx is cancelled. Each room that has been
// empty for at least idleAfter is reported once through the idle hook and
// dropped.
func (h *Hub) Run(ctx context.Context) {
	if h.onIdle == nil || h.idleAfter <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(h.sweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, room := range h.sweepIdle() {
				h.onIdle(room)
			}
		}
	}
}

func (h *Hub) sweepInterval() time.Duration {
	interval := h.idleAfter / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// sweepIdle collects rooms whose emptiness has lasted at least idleAfter and
// forgets them.
func (h *Hub) sweepIdle() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var idle []string
	now := h.now()
	for room, since := range h.emptySince {
		if now.Sub(since) >= h.idleAfter {
			idle = append(idle, room)
			delete(h.emptySince, room)
			delete(h.rooms, room)
		}
	}
	return idle
}
