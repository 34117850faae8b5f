package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame is the envelope for all WebSocket messages, in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame creates an outbound frame with a marshalled payload. A nil payload
// produces a frame with no payload field.
func NewFrame(frameType string, payload interface{}) (*Frame, error) {
	f := &Frame{Type: frameType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		f.Payload = data
	}
	return f, nil
}

// Client → Agent frame types.
const (
	TypeConnect            = "connect"
	TypeNewSession         = "new_session"
	TypePrompt             = "prompt"
	TypeCancel             = "cancel"
	TypePermissionResponse = "permission_response"
	TypeDisconnect         = "disconnect"
)

// Agent → Client frame types.
const (
	TypeStatus            = "status"
	TypeSessionCreated    = "session_created"
	TypeSessionUpdate     = "session_update"
	TypePermissionRequest = "permission_request"
	TypePromptComplete    = "prompt_complete"
	TypeError             = "error"
)

// Session-update kinds carried inside a session_update payload.
const (
	UpdateThinkingStart = "thinking_start"
	UpdateTextDelta     = "text_delta"
	UpdateText          = "text"
)

// Agent → Client payloads.

type AgentInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type StatusPayload struct {
	Connected bool       `json:"connected"`
	AgentInfo *AgentInfo `json:"agentInfo,omitempty"`
}

type SessionCreatedPayload struct {
	SessionID string `json:"sessionId"`
}

// SessionUpdate is one element of a session_update's updates array. Delta
// carries incremental text for text_delta updates, Text the full text for
// text updates; unknown Type values must be ignored by consumers.
type SessionUpdate struct {
	Type  string `json:"type"`
	Delta string `json:"delta,omitempty"`
	Text  string `json:"text,omitempty"`
}

type SessionUpdatePayload struct {
	Updates []SessionUpdate `json:"updates"`
}

type ToolCall struct {
	Title string          `json:"title"`
	Input json.RawMessage `json:"input,omitempty"`
}

type PermissionOption struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type PermissionRequestPayload struct {
	RequestID string             `json:"requestId"`
	SessionID string             `json:"sessionId"`
	ToolCall  ToolCall           `json:"toolCall"`
	Options   []PermissionOption `json:"options,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// Client → Agent payloads.

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type PromptPayload struct {
	Content []ContentBlock `json:"content"`
}

// NewPromptPayload wraps plain text in the single-block content form the
// agent expects.
func NewPromptPayload(text string) PromptPayload {
	return PromptPayload{Content: []ContentBlock{{Type: "text", Text: text}}}
}

type PermissionOutcome struct {
	Outcome string `json:"outcome"` // "allow" | "deny"
}

type PermissionResponsePayload struct {
	RequestID string            `json:"requestId"`
	Outcome   PermissionOutcome `json:"outcome"`
}
