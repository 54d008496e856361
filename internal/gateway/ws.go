package gateway

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 32
)

// inboundEnvelope is the wire shape of every message a client sends: an
// event name and a raw payload the dispatcher decodes per-event.
type inboundEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// outboundEnvelope is the wire shape of every message the server sends.
type outboundEnvelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// wsConn is one upgraded connection. It owns no game state directly — the
// Dispatcher keeps a session keyed by the wsConn pointer.
type wsConn struct {
	hub        *wsHub
	conn       *websocket.Conn
	send       chan outboundEnvelope
	remoteAddr string
	lastPong   time.Time

	mu    sync.Mutex
	rooms map[string]bool
}

func (c *wsConn) RemoteAddr() string { return c.remoteAddr }

func (c *wsConn) Send(event string, payload any) {
	select {
	case c.send <- outboundEnvelope{Event: event, Payload: payload}:
	default:
		// Backpressure: the client is too slow to keep up; drop rather
		// than block the room's broadcaster.
	}
}

// wsHub is a gorilla/websocket-backed Transport, generalizing a single
// global broadcast hub into one keyed by arbitrary room names — one room
// per active game.
type wsHub struct {
	log *zap.Logger

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*wsConn]bool

	onMessage func(conn Conn, event string, payload json.RawMessage)
	onClose   func(conn Conn)
}

// newWSHub creates a hub whose CheckOrigin consults allowedOrigins (empty
// slice means allow any origin — development mode).
func newWSHub(log *zap.Logger, allowedOrigins []string) *wsHub {
	h := &wsHub{
		log:   log,
		rooms: make(map[string]map[*wsConn]bool),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return checkOrigin(allowedOrigins, r.Header.Get("Origin"))
		},
	}
	return h
}

// NewHub creates a websocket Transport ready to be wired to a Dispatcher via
// Wire and mounted as an http.Handler.
func NewHub(log *zap.Logger, allowedOrigins []string) *wsHub {
	return newWSHub(log, allowedOrigins)
}

// Wire connects the hub's inbound message/close callbacks to a Dispatcher.
func (h *wsHub) Wire(d *Dispatcher) {
	h.onMessage = d.HandleMessage
	h.onClose = d.HandleClose
}

func checkOrigin(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == origin {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request to a websocket connection and starts its
// read/write pumps.
func (h *wsHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	remote := r.Header.Get("X-Forwarded-For")
	if remote == "" {
		remote = r.Header.Get("X-Real-IP")
	}
	if remote == "" {
		if host, _, splitErr := net.SplitHostPort(r.RemoteAddr); splitErr == nil {
			remote = host
		} else {
			remote = r.RemoteAddr
		}
	}

	c := &wsConn{
		hub:        h,
		conn:       conn,
		send:       make(chan outboundEnvelope, sendBufferSize),
		remoteAddr: remote,
		rooms:      make(map[string]bool),
		lastPong:   time.Now(),
	}

	go c.writePump()
	go c.readPump()
}

func (h *wsHub) Join(room string, conn Conn) {
	c, ok := conn.(*wsConn)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*wsConn]bool)
	}
	h.rooms[room][c] = true
	c.mu.Lock()
	c.rooms[room] = true
	c.mu.Unlock()
}

func (h *wsHub) Leave(room string, conn Conn) {
	c, ok := conn.(*wsConn)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

func (h *wsHub) ConnectionsIn(room string) []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[room]
	out := make([]Conn, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

func (h *wsHub) Broadcast(room string, event string, payload any) {
	h.mu.RLock()
	members := h.rooms[room]
	conns := make([]*wsConn, 0, len(members))
	for c := range members {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Send(event, payload)
	}
}

// leaveAll removes a closing connection from every room it had joined.
func (h *wsHub) leaveAll(c *wsConn) {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()

	for _, r := range rooms {
		h.Leave(r, c)
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
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

func (c *wsConn) readPump() {
	defer func() {
		c.hub.leaveAll(c)
		if c.hub.onClose != nil {
			c.hub.onClose(c)
		}
		close(c.send)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.lastPong = time.Now()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env inboundEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.Send("game:error", map[string]string{"message": "malformed message"})
			continue
		}
		if c.hub.onMessage != nil {
			c.hub.onMessage(c, env.Event, env.Payload)
		}
	}
}
