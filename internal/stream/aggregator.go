package stream

import (
	"log/slog"

	"AgentChat/internal/protocol"
	"AgentChat/internal/state"
)

type phase int

const (
	phaseIdle phase = iota
	phaseThinking
	phaseStreaming
)

// turn tracks the in-flight assistant reply for one session.
type turn struct {
	phase       phase
	thinkingID  string
	streamingID string
}

// Aggregator coalesces the zero-or-more thinking signals and unbounded text
// deltas of a turn into at most one visible placeholder followed by exactly
// one growing assistant message. All methods are called from the single
// dispatch goroutine; no locking.
type Aggregator struct {
	store  *state.Store
	turns  map[string]*turn
	logger *slog.Logger
}

// New creates an aggregator writing through the given store.
func New(store *state.Store, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		turns:  make(map[string]*turn),
		logger: logger,
	}
}

func (a *Aggregator) turnFor(sessionID string) *turn {
	t, ok := a.turns[sessionID]
	if !ok {
		t = &turn{}
		a.turns[sessionID] = t
	}
	return t
}

// Apply processes one session update. Unknown update kinds are a no-op so new
// agent event kinds never break older clients.
func (a *Aggregator) Apply(sessionID string, u protocol.SessionUpdate) {
	switch u.Type {
	case protocol.UpdateThinkingStart:
		a.applyThinkingStart(sessionID)
	case protocol.UpdateTextDelta, protocol.UpdateText:
		text := u.Delta
		if text == "" {
			text = u.Text
		}
		a.applyText(sessionID, text)
	default:
		a.logger.Debug("ignoring unknown session update", "session", sessionID, "type", u.Type)
	}
}

func (a *Aggregator) applyThinkingStart(sessionID string) {
	t := a.turnFor(sessionID)
	if t.phase != phaseIdle {
		// A turn is already open; duplicate signals must not create a
		// second placeholder.
		return
	}

	msg := state.NewMessage(state.RoleAssistant, "")
	msg.IsThinking = true
	a.store.AppendMessage(sessionID, msg)

	t.phase = phaseThinking
	t.thinkingID = msg.ID
}

func (a *Aggregator) applyText(sessionID, text string) {
	if text == "" {
		return
	}

	t := a.turnFor(sessionID)
	switch t.phase {
	case phaseThinking:
		a.store.RemoveMessage(sessionID, t.thinkingID)
		t.thinkingID = ""
		a.startStreaming(sessionID, t, text)
	case phaseStreaming:
		a.store.AppendToMessage(sessionID, t.streamingID, text)
	default:
		// A turn may start without a thinking phase.
		a.startStreaming(sessionID, t, text)
	}
}

func (a *Aggregator) startStreaming(sessionID string, t *turn, text string) {
	msg := state.NewMessage(state.RoleAssistant, text)
	a.store.AppendMessage(sessionID, msg)
	t.phase = phaseStreaming
	t.streamingID = msg.ID
}

// Complete closes out the turn. Accumulated content is left as-is; only a
// placeholder that never produced text is removed.
func (a *Aggregator) Complete(sessionID string) {
	t, ok := a.turns[sessionID]
	if !ok {
		return
	}
	if t.phase == phaseThinking {
		a.store.RemoveMessage(sessionID, t.thinkingID)
	}
	delete(a.turns, sessionID)
}

// Reset discards the open turn when the session's connection goes away, so a
// stuck Thinking/Streaming session recovers on reconnect.
func (a *Aggregator) Reset(sessionID string) {
	a.Complete(sessionID)
}
