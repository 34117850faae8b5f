package state

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the connection state of a session.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Role identifies who a chat message is attributed to.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolResultStatus is the user-visible resolution state of a tool call.
type ToolResultStatus string

const (
	ToolResultPending   ToolResultStatus = "pending"
	ToolResultAllowed   ToolResultStatus = "allowed"
	ToolResultDenied    ToolResultStatus = "denied"
	ToolResultCancelled ToolResultStatus = "cancelled"
)

// AgentInfo is the identity the remote agent reports on connect.
type AgentInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolCall describes the tool action a tool-role message represents.
type ToolCall struct {
	Title string          `json:"title"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolResult carries the resolution state of a tool-role message.
type ToolResult struct {
	Status ToolResultStatus `json:"status"`
}

// ChatMessage is one conversational turn or protocol event rendered to the
// user. Assistant message content grows in place during streaming; RequestID
// correlates a tool-role message with the permission request that created it.
type ChatMessage struct {
	ID         string      `json:"id"`
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	IsThinking bool        `json:"isThinking,omitempty"`
	ToolCall   *ToolCall   `json:"toolCall,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
	RequestID  string      `json:"requestId,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// NewMessage creates a message with a fresh local id.
func NewMessage(role Role, content string) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Session is one user-visible conversation plus its connection state.
// RemoteSessionID is set only while Status is StatusConnected.
type Session struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Endpoint        string        `json:"endpoint"`
	Credential      string        `json:"credential,omitempty"`
	Status          Status        `json:"status"`
	RemoteSessionID string        `json:"remoteSessionId,omitempty"`
	AgentInfo       *AgentInfo    `json:"agentInfo,omitempty"`
	Messages        []ChatMessage `json:"messages"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// NewSession creates a disconnected session with a fresh local id.
func NewSession(name, endpoint, credential string) Session {
	return Session{
		ID:         uuid.NewString(),
		Name:       name,
		Endpoint:   endpoint,
		Credential: credential,
		Status:     StatusDisconnected,
		Messages:   []ChatMessage{},
		CreatedAt:  time.Now().UTC(),
	}
}

func cloneMessage(m ChatMessage) ChatMessage {
	out := m
	if m.ToolCall != nil {
		tc := *m.ToolCall
		tc.Input = append(json.RawMessage(nil), m.ToolCall.Input...)
		out.ToolCall = &tc
	}
	if m.ToolResult != nil {
		tr := *m.ToolResult
		out.ToolResult = &tr
	}
	return out
}

func cloneSession(s Session) Session {
	out := s
	if s.AgentInfo != nil {
		ai := *s.AgentInfo
		out.AgentInfo = &ai
	}
	out.Messages = make([]ChatMessage, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = cloneMessage(m)
	}
	return out
}
