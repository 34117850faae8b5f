package conn

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"AgentChat/internal/protocol"
)

const (
	dialTimeout   = 10 * time.Second
	writeDeadline = 10 * time.Second
)

// EventKind classifies transport events.
type EventKind int

const (
	// EventFrame carries one raw inbound frame.
	EventFrame EventKind = iota
	// EventError reports a transport-level failure (dial or read).
	EventError
	// EventClosed reports that the transport is gone, for any reason.
	EventClosed
)

// Event is the fixed transport event set consumed by the single dispatch
// loop. Frame is set for EventFrame, Err for EventError.
type Event struct {
	SessionID string
	Kind      EventKind
	Frame     []byte
	Err       error
}

// transport is one live (or opening) WebSocket connection.
type transport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Manager owns at most one WebSocket transport per session id. It holds no
// conversational state: frames, errors, and closes are forwarded as events
// and interpreted elsewhere.
type Manager struct {
	mu     sync.Mutex
	conns  map[string]*transport
	events chan Event
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewManager creates a manager. Events carries every inbound frame and
// lifecycle change; it must be drained by exactly one consumer.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		conns:  make(map[string]*transport),
		events: make(chan Event, 256),
		dialer: &websocket.Dialer{HandshakeTimeout: dialTimeout},
		logger: logger,
	}
}

// Events returns the transport event stream.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// dialURL builds the connection target from the endpoint, attaching the
// credential as a query parameter when non-empty.
func dialURL(endpoint, credential string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	if credential != "" {
		q := u.Query()
		q.Set("token", credential)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect opens a transport to the endpoint. A call for a session whose
// transport is already open or opening is a no-op. Dialing happens off the
// caller's goroutine; the outcome arrives on the event stream.
func (m *Manager) Connect(sessionID, endpoint, credential string) {
	m.mu.Lock()
	if _, exists := m.conns[sessionID]; exists {
		m.mu.Unlock()
		return
	}
	t := &transport{}
	m.conns[sessionID] = t
	m.mu.Unlock()

	go m.dial(sessionID, t, endpoint, credential)
}

func (m *Manager) dial(sessionID string, t *transport, endpoint, credential string) {
	target, err := dialURL(endpoint, credential)
	if err != nil {
		m.drop(sessionID, t)
		m.events <- Event{SessionID: sessionID, Kind: EventError, Err: err}
		return
	}

	c, _, err := m.dialer.Dial(target, nil)
	if err != nil {
		m.drop(sessionID, t)
		m.events <- Event{SessionID: sessionID, Kind: EventError, Err: fmt.Errorf("failed to connect to WebSocket: %w", err)}
		return
	}

	m.mu.Lock()
	if m.conns[sessionID] != t {
		// Disconnected while dialing.
		m.mu.Unlock()
		c.Close()
		m.events <- Event{SessionID: sessionID, Kind: EventClosed}
		return
	}
	t.conn = c
	m.mu.Unlock()

	m.logger.Info("transport opened", "session", sessionID, "endpoint", endpoint)

	if f, err := protocol.NewFrame(protocol.TypeConnect, nil); err == nil {
		m.writeFrame(t, f)
	}

	m.readPump(sessionID, t)
}

// readPump forwards inbound frames until the transport dies, then reports
// the close. Runs on its own goroutine, one per transport.
func (m *Manager) readPump(sessionID string, t *transport) {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Warn("transport read error", "session", sessionID, "error", err)
				m.events <- Event{SessionID: sessionID, Kind: EventError, Err: err}
			}
			break
		}
		m.events <- Event{SessionID: sessionID, Kind: EventFrame, Frame: data}
	}

	t.conn.Close()
	m.drop(sessionID, t)
	m.events <- Event{SessionID: sessionID, Kind: EventClosed}
}

// drop removes the session's entry only if it still refers to t, so a
// lingering goroutine never evicts a replacement transport.
func (m *Manager) drop(sessionID string, t *transport) {
	m.mu.Lock()
	if m.conns[sessionID] == t {
		delete(m.conns, sessionID)
	}
	m.mu.Unlock()
}

// Disconnect sends a best-effort disconnect frame, then closes the
// transport. Send failures are swallowed; the read pump reports the close.
// A session with no transport is a no-op.
func (m *Manager) Disconnect(sessionID string) {
	m.mu.Lock()
	t, ok := m.conns[sessionID]
	if ok && t.conn == nil {
		// Still dialing; removing the entry makes the dial goroutine
		// close the connection as soon as it lands.
		delete(m.conns, sessionID)
	}
	m.mu.Unlock()
	if !ok || t.conn == nil {
		return
	}

	if f, err := protocol.NewFrame(protocol.TypeDisconnect, nil); err == nil {
		m.writeFrame(t, f)
	}

	t.writeMu.Lock()
	t.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	t.conn.Close()
}

// Send hands a frame to the session's transport. Returns true only when an
// open transport accepted it; there is no buffering or retry.
func (m *Manager) Send(sessionID string, f *protocol.Frame) bool {
	m.mu.Lock()
	t, ok := m.conns[sessionID]
	m.mu.Unlock()
	if !ok || t.conn == nil {
		return false
	}
	return m.writeFrame(t, f)
}

func (m *Manager) writeFrame(t *transport, f *protocol.Frame) bool {
	data, err := f.Encode()
	if err != nil {
		m.logger.Error("failed to encode frame", "type", f.Type, "error", err)
		return false
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.logger.Warn("failed to write frame", "type", f.Type, "error", err)
		return false
	}
	return true
}

// IsOpen reports whether the session has an open transport.
func (m *Manager) IsOpen(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.conns[sessionID]
	return ok && t.conn != nil
}

// Close disconnects every open transport. Used at shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Disconnect(id)
	}
}
