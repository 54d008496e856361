package gateway

import (
	"encoding/json"
	"sync"
	"testing"

	"go.uber.org/zap"

	"tighten/internal/registry"
	"tighten/internal/types"
)

// fakeConn is an in-memory Conn used to drive the dispatcher without a real
// socket.
type fakeConn struct {
	addr string

	mu  sync.Mutex
	out []outboundEnvelope
}

func (c *fakeConn) RemoteAddr() string { return c.addr }

func (c *fakeConn) Send(event string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, outboundEnvelope{Event: event, Payload: payload})
}

func (c *fakeConn) last() (string, any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.out) == 0 {
		return "", nil
	}
	last := c.out[len(c.out)-1]
	return last.Event, last.Payload
}

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.out))
	for i, e := range c.out {
		names[i] = e.Event
	}
	return names
}

// fakeTransport is an in-memory Transport — plain maps, no network.
type fakeTransport struct {
	mu    sync.Mutex
	rooms map[string]map[Conn]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{rooms: make(map[string]map[Conn]bool)}
}

func (t *fakeTransport) Join(room string, conn Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rooms[room] == nil {
		t.rooms[room] = make(map[Conn]bool)
	}
	t.rooms[room][conn] = true
}

func (t *fakeTransport) Leave(room string, conn Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms[room], conn)
}

func (t *fakeTransport) ConnectionsIn(room string) []Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Conn, 0, len(t.rooms[room]))
	for c := range t.rooms[room] {
		out = append(out, c)
	}
	return out
}

func (t *fakeTransport) Broadcast(room string, event string, payload any) {
	for _, c := range t.ConnectionsIn(room) {
		c.Send(event, payload)
	}
}

func newTestDispatcher() (*Dispatcher, *registry.Registry) {
	transport := newFakeTransport()
	// The registry needs an Observer (the Dispatcher) and the Dispatcher
	// needs the registry — break the cycle by constructing the Dispatcher
	// against a placeholder registry, then swapping in the real one that
	// was built with the Dispatcher as its Observer.
	disp := New(zap.NewNop(), registry.New(nil), transport)
	r := registry.New(disp)
	disp.SetRegistry(r)
	return disp, r
}

func payload(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func TestGMCreateAndJoinFlow(t *testing.T) {
	d, _ := newTestDispatcher()

	gm := &fakeConn{addr: "10.0.0.1"}
	d.HandleMessage(gm, types.EventGMCreate, payload(types.GMCreatePayload{GamemasterSecret: "s"}))

	event, p := gm.last()
	if event != "gm:create:ack" {
		t.Fatalf("expected a gm:create:ack, got %s", event)
	}
	ack, ok := p.(types.GMCreateAckPayload)
	if !ok || ack.GameCode == "" {
		t.Fatalf("expected an ack with a game code, got %+v", p)
	}

	alice := &fakeConn{addr: "10.0.0.2"}
	d.HandleMessage(alice, types.EventGameJoin, payload(types.JoinPayload{
		GameCode:    ack.GameCode,
		DisplayName: "Alice",
	}))

	// handleJoin sends game:joined first and then broadcasts game:state to
	// the room, alice included, so the join ack is alice's first event.
	alice.mu.Lock()
	if len(alice.out) == 0 {
		alice.mu.Unlock()
		t.Fatal("expected alice to receive events after joining")
	}
	joinedEvent, joinedPayload := alice.out[0].Event, alice.out[0].Payload
	alice.mu.Unlock()
	if joinedEvent != types.OutGameJoined {
		t.Fatalf("expected %s, got %s", types.OutGameJoined, joinedEvent)
	}
	joined, ok := joinedPayload.(types.JoinedPayload)
	if !ok || joined.IsGamemaster {
		t.Fatalf("expected a non-gamemaster join ack, got %+v", joinedPayload)
	}
}

func TestGMAuthorizationRequiresActualGamemasterFlag(t *testing.T) {
	d, _ := newTestDispatcher()

	gm := &fakeConn{addr: "10.0.0.1"}
	d.HandleMessage(gm, types.EventGMCreate, payload(types.GMCreatePayload{GamemasterSecret: "s"}))
	_, p := gm.last()
	ack := p.(types.GMCreateAckPayload)

	bob := &fakeConn{addr: "10.0.0.3"}
	d.HandleMessage(bob, types.EventGameJoin, payload(types.JoinPayload{GameCode: ack.GameCode, DisplayName: "Bob"}))

	// Bob is a plain player; a GM-prefixed event from him must be refused.
	d.HandleMessage(bob, types.EventGMStart, json.RawMessage(`{}`))
	event, errPayload := bob.last()
	if event != types.OutError {
		t.Fatalf("expected an error event, got %s", event)
	}
	if _, ok := errPayload.(types.ErrorPayload); !ok {
		t.Fatalf("expected an ErrorPayload, got %+v", errPayload)
	}
}

func TestOrderCancelIsAlwaysAnError(t *testing.T) {
	d, _ := newTestDispatcher()

	gm := &fakeConn{addr: "10.0.0.1"}
	d.HandleMessage(gm, types.EventGMCreate, payload(types.GMCreatePayload{GamemasterSecret: "s"}))

	d.HandleMessage(gm, types.EventOrderCancel, payload(types.OrderCancelPayload{OrderID: "x"}))
	event, _ := gm.last()
	if event != types.OutError {
		t.Fatalf("expected game:order:cancel to always error, got %s", event)
	}
}

func TestLeaveDeletesGameOnLastPlayer(t *testing.T) {
	d, r := newTestDispatcher()

	gm := &fakeConn{addr: "10.0.0.1"}
	d.HandleMessage(gm, types.EventGMCreate, payload(types.GMCreatePayload{GamemasterSecret: "s"}))
	_, p := gm.last()
	ack := p.(types.GMCreateAckPayload)

	if _, ok := r.GetGame(ack.GameCode); !ok {
		t.Fatal("expected the created game to exist")
	}

	d.HandleMessage(gm, types.EventGameLeave, json.RawMessage(`{}`))
	if _, ok := r.GetGame(ack.GameCode); ok {
		t.Fatal("expected the game to be deleted once its only player leaves")
	}
}
