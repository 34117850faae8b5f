package permission

import (
	"fmt"
	"log/slog"
	"sync"

	"AgentChat/internal/protocol"
	"AgentChat/internal/state"
)

// Decision is the user's answer to a permission request.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// Request is one outstanding permission request. MessageID points at the
// pending tool-role message appended when the request arrived.
type Request struct {
	RequestID string
	SessionID string
	ToolCall  protocol.ToolCall
	Options   []protocol.PermissionOption
	MessageID string
}

// Sender delivers an outbound frame over a session's connection.
type Sender interface {
	Send(sessionID string, f *protocol.Frame) bool
}

// Prompter displays (or hides) the single permission prompt. Presentation
// only; resolution comes back through Resolve.
type Prompter interface {
	Show(req Request)
	Clear()
}

// Coordinator tracks outstanding permission requests. One prompt is shown at
// a time; later arrivals queue FIFO behind it and are promoted as earlier
// ones resolve.
type Coordinator struct {
	mu        sync.Mutex
	store     *state.Store
	sender    Sender
	prompter  Prompter
	logger    *slog.Logger
	displayed *Request
	queue     []Request
}

// NewCoordinator creates a coordinator. prompter may be nil when no prompt
// surface exists (tests).
func NewCoordinator(store *state.Store, sender Sender, prompter Prompter, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		sender:   sender,
		prompter: prompter,
		logger:   logger,
	}
}

// Handle records an inbound permission request: it appends the pending
// tool-role message to the owning session and either displays the request or
// queues it behind the one already shown.
func (c *Coordinator) Handle(sessionID string, p protocol.PermissionRequestPayload) {
	msg := state.NewMessage(state.RoleTool, p.ToolCall.Title)
	msg.ToolCall = &state.ToolCall{Title: p.ToolCall.Title, Input: p.ToolCall.Input}
	msg.ToolResult = &state.ToolResult{Status: state.ToolResultPending}
	msg.RequestID = p.RequestID
	c.store.AppendMessage(sessionID, msg)

	req := Request{
		RequestID: p.RequestID,
		SessionID: sessionID,
		ToolCall:  p.ToolCall,
		Options:   p.Options,
		MessageID: msg.ID,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.displayed != nil {
		c.queue = append(c.queue, req)
		c.logger.Info("queued permission request", "request", p.RequestID, "pending", len(c.queue))
		return
	}
	c.show(req)
}

// show must be called with the lock held.
func (c *Coordinator) show(req Request) {
	c.displayed = &req
	if c.prompter != nil {
		c.prompter.Show(req)
	}
}

// Displayed returns the currently shown request, if any.
func (c *Coordinator) Displayed() (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.displayed == nil {
		return Request{}, false
	}
	return *c.displayed, true
}

// take removes and returns the request with the given id, promoting the next
// queued request if the displayed one was taken.
func (c *Coordinator) take(requestID string) (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.displayed != nil && c.displayed.RequestID == requestID {
		req := *c.displayed
		c.clearAndPromote()
		return req, true
	}
	for i, queued := range c.queue {
		if queued.RequestID == requestID {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return queued, true
		}
	}
	return Request{}, false
}

// clearAndPromote must be called with the lock held.
func (c *Coordinator) clearAndPromote() {
	c.displayed = nil
	if c.prompter != nil {
		c.prompter.Clear()
	}
	if len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.show(next)
	}
}

// Resolve answers a request. The response frame goes over the connection the
// request arrived on; if that connection is gone the send fails silently and
// the local message status is still updated.
func (c *Coordinator) Resolve(requestID string, decision Decision) error {
	req, ok := c.take(requestID)
	if !ok {
		return fmt.Errorf("no outstanding permission request %q", requestID)
	}

	f, err := protocol.NewFrame(protocol.TypePermissionResponse, protocol.PermissionResponsePayload{
		RequestID: req.RequestID,
		Outcome:   protocol.PermissionOutcome{Outcome: string(decision)},
	})
	if err != nil {
		return err
	}
	if !c.sender.Send(req.SessionID, f) {
		c.logger.Warn("permission response not delivered", "request", requestID, "session", req.SessionID)
	}

	status := state.ToolResultDenied
	if decision == Allow {
		status = state.ToolResultAllowed
	}
	c.setMessageStatus(req, status)
	return nil
}

func (c *Coordinator) setMessageStatus(req Request, status state.ToolResultStatus) {
	ok := c.store.UpdateMessage(req.SessionID, req.MessageID, func(m *state.ChatMessage) {
		if m.ToolResult == nil {
			m.ToolResult = &state.ToolResult{}
		}
		m.ToolResult.Status = status
	})
	if !ok {
		c.logger.Warn("pending tool message missing", "request", req.RequestID, "message", req.MessageID)
	}
}

// DropSession discards every request owned by a session when its connection
// closes, marking their pending tool messages cancelled.
func (c *Coordinator) DropSession(sessionID string) {
	c.mu.Lock()
	var dropped []Request

	remaining := c.queue[:0]
	for _, queued := range c.queue {
		if queued.SessionID == sessionID {
			dropped = append(dropped, queued)
		} else {
			remaining = append(remaining, queued)
		}
	}
	c.queue = remaining

	if c.displayed != nil && c.displayed.SessionID == sessionID {
		dropped = append(dropped, *c.displayed)
		c.clearAndPromote()
	}
	c.mu.Unlock()

	for _, req := range dropped {
		c.setMessageStatus(req, state.ToolResultCancelled)
	}
}
