package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgentChat/internal/config"
	"AgentChat/internal/permission"
	"AgentChat/internal/protocol"
	"AgentChat/internal/state"
)

const waitFor = 2 * time.Second

// stubAgent is a scripted remote agent for end-to-end tests.
type stubAgent struct {
	upgrader websocket.Upgrader
	received chan *protocol.Frame

	mu   sync.Mutex
	conn *websocket.Conn
}

func newStubAgent(t *testing.T) (*stubAgent, string) {
	t.Helper()
	stub := &stubAgent{received: make(chan *protocol.Frame, 32)}
	srv := httptest.NewServer(http.HandlerFunc(stub.handle))
	t.Cleanup(srv.Close)
	return stub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (a *stubAgent) handle(w http.ResponseWriter, r *http.Request) {
	c, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	a.mu.Lock()
	a.conn = c
	a.mu.Unlock()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		if f, err := protocol.DecodeFrame(data); err == nil {
			a.received <- f
		}
	}
}

func (a *stubAgent) expect(t *testing.T, frameType string) *protocol.Frame {
	t.Helper()
	for {
		select {
		case f := <-a.received:
			if f.Type == frameType {
				return f
			}
		case <-time.After(waitFor):
			t.Fatalf("timed out waiting for %s frame", frameType)
			return nil
		}
	}
}

func (a *stubAgent) send(t *testing.T, frameType string, payload interface{}) {
	t.Helper()
	f, err := protocol.NewFrame(frameType, payload)
	require.NoError(t, err)
	data, err := f.Encode()
	require.NoError(t, err)

	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotNil(t, a.conn)
	require.NoError(t, a.conn.WriteMessage(websocket.TextMessage, data))
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	dir := t.TempDir()
	c, err := NewClient(config.Config{
		Endpoint: endpoint,
		DBPath:   filepath.Join(dir, "agentchat.db"),
		LogDir:   filepath.Join(dir, "logs"),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

// handshake connects a session and walks the status / session_created
// exchange, returning once the session reports connected.
func handshake(t *testing.T, c *Client, stub *stubAgent, sessionID, remoteID string) {
	t.Helper()
	require.NoError(t, c.Connect(sessionID))

	stub.expect(t, protocol.TypeConnect)
	stub.send(t, protocol.TypeStatus, protocol.StatusPayload{
		Connected: true,
		AgentInfo: &protocol.AgentInfo{Name: "agent", Version: "1.0"},
	})
	stub.expect(t, protocol.TypeNewSession)
	stub.send(t, protocol.TypeSessionCreated, protocol.SessionCreatedPayload{SessionID: remoteID})

	require.Eventually(t, func() bool {
		sess, ok := c.Store().Get(sessionID)
		return ok && sess.Status == state.StatusConnected && sess.RemoteSessionID == remoteID
	}, waitFor, 10*time.Millisecond)
}

func TestConnectHandshake(t *testing.T) {
	stub, endpoint := newStubAgent(t)
	c := newTestClient(t, endpoint)

	sess := c.NewSession("work")
	got, _ := c.Store().Get(sess.ID)
	assert.Equal(t, state.StatusDisconnected, got.Status)

	handshake(t, c, stub, sess.ID, "remote-1")

	got, _ = c.Store().Get(sess.ID)
	require.NotNil(t, got.AgentInfo)
	assert.Equal(t, "agent", got.AgentInfo.Name)
}

func TestStreamingTurn(t *testing.T) {
	stub, endpoint := newStubAgent(t)
	c := newTestClient(t, endpoint)

	sess := c.NewSession("work")
	handshake(t, c, stub, sess.ID, "remote-1")

	sent, err := c.SendPrompt(context.Background(), sess.ID, "hi there")
	require.NoError(t, err)
	assert.True(t, sent)

	f := stub.expect(t, protocol.TypePrompt)
	var p protocol.PromptPayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	require.Len(t, p.Content, 1)
	assert.Equal(t, "hi there", p.Content[0].Text)

	stub.send(t, protocol.TypeSessionUpdate, protocol.SessionUpdatePayload{
		Updates: []protocol.SessionUpdate{
			{Type: protocol.UpdateThinkingStart},
			{Type: protocol.UpdateTextDelta, Delta: "Hel"},
			{Type: protocol.UpdateTextDelta, Delta: "lo"},
		},
	})
	stub.send(t, protocol.TypePromptComplete, nil)

	require.Eventually(t, func() bool {
		got, _ := c.Store().Get(sess.ID)
		return len(got.Messages) == 2 && got.Messages[1].Content == "Hello"
	}, waitFor, 10*time.Millisecond)

	got, _ := c.Store().Get(sess.ID)
	assert.Equal(t, state.RoleUser, got.Messages[0].Role)
	assert.Equal(t, state.RoleAssistant, got.Messages[1].Role)
	assert.False(t, got.Messages[1].IsThinking)
}

func TestPromptWhileDisconnectedIsOptimistic(t *testing.T) {
	_, endpoint := newStubAgent(t)
	c := newTestClient(t, endpoint)

	sess := c.NewSession("offline")

	sent, err := c.SendPrompt(context.Background(), sess.ID, "anyone home?")
	require.NoError(t, err)
	assert.False(t, sent)

	// The local transcript keeps the message even though delivery failed.
	got, _ := c.Store().Get(sess.ID)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "anyone home?", got.Messages[0].Content)
}

func TestDisconnectThenReconnect(t *testing.T) {
	stub, endpoint := newStubAgent(t)
	c := newTestClient(t, endpoint)

	sess := c.NewSession("work")
	handshake(t, c, stub, sess.ID, "remote-1")

	c.Disconnect(sess.ID)
	stub.expect(t, protocol.TypeDisconnect)

	require.Eventually(t, func() bool {
		got, _ := c.Store().Get(sess.ID)
		return got.Status == state.StatusDisconnected
	}, waitFor, 10*time.Millisecond)

	got, _ := c.Store().Get(sess.ID)
	assert.Empty(t, got.RemoteSessionID)

	handshake(t, c, stub, sess.ID, "remote-2")
}

func TestPermissionRoundTrip(t *testing.T) {
	stub, endpoint := newStubAgent(t)
	c := newTestClient(t, endpoint)

	sess := c.NewSession("work")
	handshake(t, c, stub, sess.ID, "remote-1")

	stub.send(t, protocol.TypePermissionRequest, protocol.PermissionRequestPayload{
		RequestID: "r1",
		SessionID: "remote-1",
		ToolCall:  protocol.ToolCall{Title: "Read file"},
	})

	require.Eventually(t, func() bool {
		req, ok := c.perms.Displayed()
		return ok && req.RequestID == "r1"
	}, waitFor, 10*time.Millisecond)

	got, _ := c.Store().Get(sess.ID)
	require.Len(t, got.Messages, 1)
	require.NotNil(t, got.Messages[0].ToolResult)
	assert.Equal(t, state.ToolResultPending, got.Messages[0].ToolResult.Status)

	require.NoError(t, c.ResolveDisplayed(permission.Allow))

	f := stub.expect(t, protocol.TypePermissionResponse)
	var p protocol.PermissionResponsePayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	assert.Equal(t, "r1", p.RequestID)
	assert.Equal(t, "allow", p.Outcome.Outcome)

	got, _ = c.Store().Get(sess.ID)
	assert.Equal(t, state.ToolResultAllowed, got.Messages[0].ToolResult.Status)
}

func TestRemoveSessionClosesConnection(t *testing.T) {
	stub, endpoint := newStubAgent(t)
	c := newTestClient(t, endpoint)

	sess := c.NewSession("work")
	handshake(t, c, stub, sess.ID, "remote-1")

	require.True(t, c.RemoveSession(sess.ID))
	stub.expect(t, protocol.TypeDisconnect)
	assert.Empty(t, c.Store().Snapshot())
}
