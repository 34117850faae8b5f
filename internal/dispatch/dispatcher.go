package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"AgentChat/internal/conn"
	"AgentChat/internal/permission"
	"AgentChat/internal/protocol"
	"AgentChat/internal/state"
	"AgentChat/internal/stream"
)

// Sender delivers an outbound frame over a session's connection.
type Sender interface {
	Send(sessionID string, f *protocol.Frame) bool
}

// Dispatcher decodes inbound frames and routes them by kind. It is the
// single consumer of the transport event stream, so every frame is fully
// handled before the next is read, across all sessions.
type Dispatcher struct {
	store  *state.Store
	agg    *stream.Aggregator
	perms  *permission.Coordinator
	sender Sender
	logger *slog.Logger

	framesTotal   metric.Int64Counter
	framesDropped metric.Int64Counter
	turnDuration  metric.Float64Histogram

	turnMu     sync.Mutex
	turnStarts map[string]time.Time
}

// New creates a dispatcher. Instruments are registered on the given meter;
// registration failures are logged and the instrument left unused, never
// fatal.
func New(store *state.Store, agg *stream.Aggregator, perms *permission.Coordinator, sender Sender, logger *slog.Logger, meter metric.Meter) *Dispatcher {
	d := &Dispatcher{
		store:      store,
		agg:        agg,
		perms:      perms,
		sender:     sender,
		logger:     logger,
		turnStarts: make(map[string]time.Time),
	}

	var err error
	d.framesTotal, err = meter.Int64Counter("agentchat.frames.received",
		metric.WithDescription("Inbound frames received"))
	if err != nil {
		logger.Warn("failed to create frames counter", "error", err)
	}
	d.framesDropped, err = meter.Int64Counter("agentchat.frames.dropped",
		metric.WithDescription("Inbound frames dropped as malformed"))
	if err != nil {
		logger.Warn("failed to create dropped counter", "error", err)
	}
	d.turnDuration, err = meter.Float64Histogram("agentchat.turn.duration",
		metric.WithDescription("Prompt to prompt_complete duration in milliseconds"))
	if err != nil {
		logger.Warn("failed to create turn histogram", "error", err)
	}

	return d
}

// Run drains the transport event stream until it closes.
func (d *Dispatcher) Run(events <-chan conn.Event) {
	for ev := range events {
		d.HandleEvent(ev)
	}
}

// HandleEvent processes one transport event to completion.
func (d *Dispatcher) HandleEvent(ev conn.Event) {
	switch ev.Kind {
	case conn.EventFrame:
		d.handleFrame(ev.SessionID, ev.Frame)
	case conn.EventError:
		d.logger.Warn("transport error", "session", ev.SessionID, "error", ev.Err)
		d.store.SetStatus(ev.SessionID, state.StatusError)
	case conn.EventClosed:
		d.store.SetStatus(ev.SessionID, state.StatusDisconnected)
		d.agg.Reset(ev.SessionID)
		d.perms.DropSession(ev.SessionID)
	}
}

func (d *Dispatcher) handleFrame(sessionID string, raw []byte) {
	ctx := context.Background()
	if d.framesTotal != nil {
		d.framesTotal.Add(ctx, 1)
	}

	f, err := protocol.DecodeFrame(raw)
	if err != nil {
		// Malformed frames are dropped; the connection stays up.
		d.logger.Warn("discarding malformed frame", "session", sessionID, "error", err)
		if d.framesDropped != nil {
			d.framesDropped.Add(ctx, 1)
		}
		return
	}

	switch f.Type {
	case protocol.TypeStatus:
		d.handleStatus(sessionID, f)
	case protocol.TypeSessionCreated:
		d.handleSessionCreated(sessionID, f)
	case protocol.TypeSessionUpdate:
		d.handleSessionUpdate(sessionID, f)
	case protocol.TypePermissionRequest:
		d.handlePermissionRequest(sessionID, f)
	case protocol.TypePromptComplete:
		d.handlePromptComplete(ctx, sessionID)
	case protocol.TypeError:
		d.handleError(sessionID, f)
	default:
		// Unknown kinds are dropped silently for forward compatibility.
		d.logger.Debug("ignoring unrecognized frame", "session", sessionID, "type", f.Type)
	}
}

func (d *Dispatcher) handleStatus(sessionID string, f *protocol.Frame) {
	var p protocol.StatusPayload
	if err := protocol.DecodePayload(f, &p); err != nil {
		d.logger.Warn("discarding status frame", "session", sessionID, "error", err)
		return
	}

	if !p.Connected {
		d.store.SetStatus(sessionID, state.StatusDisconnected)
		return
	}

	d.store.SetStatus(sessionID, state.StatusConnected)
	if p.AgentInfo != nil {
		d.store.SetAgentInfo(sessionID, state.AgentInfo{
			Name:    p.AgentInfo.Name,
			Version: p.AgentInfo.Version,
		})
	}

	// The remote side confirmed the connection; open a fresh agent session.
	newSession, err := protocol.NewFrame(protocol.TypeNewSession, struct{}{})
	if err != nil {
		d.logger.Error("failed to build new_session frame", "error", err)
		return
	}
	if !d.sender.Send(sessionID, newSession) {
		d.logger.Warn("new_session not delivered", "session", sessionID)
	}
}

func (d *Dispatcher) handleSessionCreated(sessionID string, f *protocol.Frame) {
	var p protocol.SessionCreatedPayload
	if err := protocol.DecodePayload(f, &p); err != nil {
		d.logger.Warn("discarding session_created frame", "session", sessionID, "error", err)
		return
	}
	d.store.SetRemoteSession(sessionID, p.SessionID)
	d.logger.Info("agent session created", "session", sessionID, "remote", p.SessionID)
}

func (d *Dispatcher) handleSessionUpdate(sessionID string, f *protocol.Frame) {
	var p protocol.SessionUpdatePayload
	if err := protocol.DecodePayload(f, &p); err != nil {
		d.logger.Warn("discarding session_update frame", "session", sessionID, "error", err)
		return
	}
	// Array order is significant.
	for _, u := range p.Updates {
		d.agg.Apply(sessionID, u)
	}
}

func (d *Dispatcher) handlePermissionRequest(sessionID string, f *protocol.Frame) {
	var p protocol.PermissionRequestPayload
	if err := protocol.DecodePayload(f, &p); err != nil {
		d.logger.Warn("discarding permission_request frame", "session", sessionID, "error", err)
		return
	}
	d.perms.Handle(sessionID, p)
}

func (d *Dispatcher) handlePromptComplete(ctx context.Context, sessionID string) {
	d.agg.Complete(sessionID)

	d.turnMu.Lock()
	started, ok := d.turnStarts[sessionID]
	delete(d.turnStarts, sessionID)
	d.turnMu.Unlock()
	if ok && d.turnDuration != nil {
		d.turnDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
	}
}

func (d *Dispatcher) handleError(sessionID string, f *protocol.Frame) {
	var p protocol.ErrorPayload
	if err := protocol.DecodePayload(f, &p); err != nil {
		d.logger.Warn("discarding error frame", "session", sessionID, "error", err)
		return
	}
	// Protocol-level errors surface in the transcript; connection status is
	// untouched.
	d.store.AppendMessage(sessionID, state.NewMessage(state.RoleSystem, "Agent error: "+p.Message))
}

// NoteTurnStarted marks the moment a prompt was sent, so prompt_complete can
// record the turn duration.
func (d *Dispatcher) NoteTurnStarted(sessionID string) {
	d.turnMu.Lock()
	d.turnStarts[sessionID] = time.Now()
	d.turnMu.Unlock()
}
