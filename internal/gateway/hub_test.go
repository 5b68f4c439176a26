package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// fakeSocket records frames written to it.
type fakeSocket struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeSocket) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(p))
	copy(buf, p)
	f.frames = append(f.frames, buf)
	return nil
}

func (f *fakeSocket) Close(websocket.StatusCode, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSocket) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, frame := range f.frames {
		var env Envelope
		if json.Unmarshal(frame, &env) == nil {
			names = append(names, env.Event)
		}
	}
	return names
}

func startConn(t *testing.T, h *Hub, id string) (*Conn, *fakeSocket) {
	t.Helper()
	sock := &fakeSocket{}
	c := newConn(id, sock)
	c.start(context.Background())
	h.register(c)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	return c, sock
}

func TestHub_PublishFansOutToRoom(t *testing.T) {
	t.Parallel()

	h := NewHub(0, nil)
	_, sockA := startConn(t, h, "conn-a")
	_, sockB := startConn(t, h, "conn-b")
	_, sockC := startConn(t, h, "conn-c")

	if !h.Join("session_1_u1", "conn-a") || !h.Join("session_1_u1", "conn-b") {
		t.Fatal("join failed for registered connections")
	}
	if h.Join("session_1_u1", "conn-unknown") {
		t.Fatal("join must fail for unknown connections")
	}

	env, err := NewEnvelope(EventNewQuestion, NewQuestionPayload{Question: "q", Number: 1, Total: 10})
	if err != nil {
		t.Fatal(err)
	}
	if got := h.Publish("session_1_u1", env); got != 2 {
		t.Fatalf("Publish delivered to %d conns, want 2", got)
	}

	waitFor(t, func() bool {
		return len(sockA.events()) == 1 && len(sockB.events()) == 1
	})
	if events := sockC.events(); len(events) != 0 {
		t.Errorf("conn outside the room received events: %v", events)
	}
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	t.Parallel()

	h := NewHub(0, nil)
	_, sock := startConn(t, h, "conn-a")
	h.Join("room", "conn-a")
	h.Leave("room", "conn-a")

	if got := h.Publish("room", ErrorEnvelope("x")); got != 0 {
		t.Fatalf("Publish delivered to %d conns after leave, want 0", got)
	}
	if events := sock.events(); len(events) != 0 {
		t.Errorf("received events after leaving: %v", events)
	}
}

func TestHub_UnregisterEmptiesRooms(t *testing.T) {
	t.Parallel()

	h := NewHub(0, nil)
	startConn(t, h, "conn-a")
	h.Join("room", "conn-a")

	h.unregister("conn-a")
	if n := h.RoomSize("room"); n != 0 {
		t.Errorf("RoomSize = %d after unregister, want 0", n)
	}
	if n := h.ConnCount(); n != 0 {
		t.Errorf("ConnCount = %d after unregister, want 0", n)
	}
}

func TestHub_SweepReportsIdleRooms(t *testing.T) {
	t.Parallel()

	h := NewHub(30*time.Second, func(string) {})
	clock := time.Unix(1700000000, 0)
	h.now = func() time.Time { return clock }

	startConn(t, h, "conn-a")
	h.Join("room", "conn-a")
	h.Leave("room", "conn-a")

	// Not yet idle long enough.
	if idle := h.sweepIdle(); len(idle) != 0 {
		t.Fatalf("sweep reported %v before the idle window elapsed", idle)
	}

	clock = clock.Add(31 * time.Second)
	idle := h.sweepIdle()
	if len(idle) != 1 || idle[0] != "room" {
		t.Fatalf("sweep = %v, want [room]", idle)
	}

	// Reported once, then forgotten.
	if idle := h.sweepIdle(); len(idle) != 0 {
		t.Errorf("second sweep reported %v, want none", idle)
	}
}

func TestHub_RejoinCancelsIdleness(t *testing.T) {
	t.Parallel()

	h := NewHub(30*time.Second, func(string) {})
	clock := time.Unix(1700000000, 0)
	h.now = func() time.Time { return clock }

	startConn(t, h, "conn-a")
	h.Join("room", "conn-a")
	h.Leave("room", "conn-a")

	clock = clock.Add(10 * time.Second)
	h.Join("room", "conn-a")

	clock = clock.Add(time.Hour)
	if idle := h.sweepIdle(); len(idle) != 0 {
		t.Errorf("sweep reported %v for a re-joined room", idle)
	}
}

func TestHub_DropRoom(t *testing.T) {
	t.Parallel()

	h := NewHub(30*time.Second, func(string) {})
	startConn(t, h, "conn-a")
	h.Join("room", "conn-a")

	h.DropRoom("room")
	if n := h.RoomSize("room"); n != 0 {
		t.Errorf("RoomSize = %d after DropRoom, want 0", n)
	}
}

func TestConn_SendDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	// No write loop running, so the queue fills up.
	c := newConn("conn-a", &fakeSocket{})
	for i := 0; i < sendQueueSize+10; i++ {
		c.Send(ErrorEnvelope("overflow"))
	}
	if len(c.send) != sendQueueSize {
		t.Errorf("queue length = %d, want %d", len(c.send), sendQueueSize)
	}
}

func TestConn_CloseDrainsQueue(t *testing.T) {
	t.Parallel()

	sock := &fakeSocket{}
	c := newConn("conn-a", sock)
	c.Send(ErrorEnvelope("one"))
	c.Send(ErrorEnvelope("two"))

	c.start(context.Background())
	c.Close(websocket.StatusNormalClosure, "")

	if got := len(sock.events()); got != 2 {
		t.Errorf("wrote %d frames before closing, want 2", got)
	}
	if !sock.closed {
		t.Error("socket was not closed")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
