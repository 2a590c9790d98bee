package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fileferry/fileferry/pkg/protocol"
)

// Device is the metadata a client attaches to its session at registration.
// It has no identity of its own: it lives and dies with the session.
// Values are replaced wholesale under the hub lock, never mutated in place,
// so a snapshot copy stays consistent after the lock is dropped.
type Device struct {
	Name         string
	Class        protocol.DeviceClass
	IsGuest      bool
	Browser      string
	RegisteredAt time.Time
	LastSeen     time.Time
}

// Session is the server-side state of one live duplex connection.
// Device is nil until the client registers; an unregistered session is
// invisible to the public device list but still a broadcast recipient.
type Session struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time
	Device      *Device
}

// Registered reports whether the session has completed registration.
func (s Session) Registered() bool {
	return s.Device != nil
}

// SendFunc writes one envelope to a session's underlying connection.
type SendFunc func(env protocol.Envelope) error

// conn pairs a session with its outbound queue.
type conn struct {
	sess Session
	send chan protocol.Envelope
}

// Hub owns the set of live sessions. It is the only writer: registration and
// disconnection funnel through its API, and every other component sees
// sessions only as snapshot copies keyed by session ID.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*conn
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{conns: make(map[string]*conn)}
}

// Connect allocates a session for a new connection and returns it. The
// session ID is unique per live connection and never reused while the process
// runs. Each connection gets a buffered outbound queue drained by a writer
// goroutine; a failed write stops the drain and leaves cleanup to Disconnect.
func (h *Hub) Connect(remoteAddr string, send SendFunc) Session {
	sess := Session{
		ID:          uuid.NewString(),
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
	}

	ch := make(chan protocol.Envelope, 256)
	go func() {
		for env := range ch {
			if err := send(env); err != nil {
				return
			}
		}
	}()

	h.mu.Lock()
	h.conns[sess.ID] = &conn{sess: sess, send: ch}
	h.mu.Unlock()

	return sess
}

// Disconnect removes a session unconditionally. It is a no-op if the session
// is already gone, so duplicate disconnect signals are safe. After Disconnect
// returns the session is not a valid unicast target for any directive still
// in flight.
func (h *Hub) Disconnect(sessionID string) {
	h.mu.Lock()
	c, ok := h.conns[sessionID]
	if ok {
		delete(h.conns, sessionID)
		close(c.send)
	}
	h.mu.Unlock()
}

// Lookup returns a snapshot of the named session. Absence is not an error:
// it signals "target unreachable" to the router.
func (h *Hub) Lookup(sessionID string) (Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[sessionID]
	if !ok {
		return Session{}, false
	}
	return c.sess, true
}

// All returns a snapshot of every live session at the instant of the call.
func (h *Hub) All() []Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Session, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c.sess)
	}
	return out
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SetDevice attaches device metadata to a session, overwriting any prior
// value (last-write-wins for repeated registrations on one connection).
// Returns false if the session is gone.
func (h *Hub) SetDevice(sessionID string, d Device) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[sessionID]
	if !ok {
		return false
	}
	c.sess.Device = &d
	return true
}

// Touch refreshes a registered session's LastSeen. Unregistered sessions are
// left alone.
func (h *Hub) Touch(sessionID string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[sessionID]
	if !ok || c.sess.Device == nil {
		return
	}
	d := *c.sess.Device
	d.LastSeen = at
	c.sess.Device = &d
}

// Send queues an envelope for one session. Returns false if the session is
// gone. Queueing is non-blocking: a receiver with a full queue keeps the
// relay from stalling by losing the envelope instead.
func (h *Hub) Send(sessionID string, env protocol.Envelope) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[sessionID]
	if !ok {
		return false
	}
	select {
	case c.send <- env:
	default:
	}
	return true
}

// Broadcast queues an envelope for every live session.
func (h *Hub) Broadcast(env protocol.Envelope) {
	h.BroadcastExcept("", env)
}

// BroadcastExcept queues an envelope for every live session except the named
// one. Sends happen under the read lock; they are non-blocking, and holding
// the lock means a concurrent Disconnect can never close a queue mid-send.
func (h *Hub) BroadcastExcept(exceptID string, env protocol.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.conns {
		if id == exceptID {
			continue
		}
		select {
		case c.send <- env:
		default:
		}
	}
}
