package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFrame(t *testing.T) {
	f, err := NewFrame(TypePrompt, NewPromptPayload("hello"))
	require.NoError(t, err)
	assert.Equal(t, TypePrompt, f.Type)

	var p PromptPayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	require.Len(t, p.Content, 1)
	assert.Equal(t, "text", p.Content[0].Type)
	assert.Equal(t, "hello", p.Content[0].Text)
}

func TestNewFrame_NoPayload(t *testing.T) {
	f, err := NewFrame(TypeCancel, nil)
	require.NoError(t, err)

	data, err := f.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"cancel"}`, string(data))
}

func TestNewFrame_PermissionResponse(t *testing.T) {
	f, err := NewFrame(TypePermissionResponse, PermissionResponsePayload{
		RequestID: "r1",
		Outcome:   PermissionOutcome{Outcome: "allow"},
	})
	require.NoError(t, err)

	data, err := f.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"permission_response","payload":{"requestId":"r1","outcome":{"outcome":"allow"}}}`, string(data))
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid status", `{"type":"status","payload":{"connected":true}}`, false},
		{"valid without payload", `{"type":"prompt_complete"}`, false},
		{"unknown type accepted", `{"type":"something_new","payload":{}}`, false},
		{"invalid json", `not json`, true},
		{"missing type", `{"payload":{}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := DecodeFrame([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, f.Type)
		})
	}
}

func TestDecodePayload(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"type":"status","payload":{"connected":true,"agentInfo":{"name":"agent","version":"1.2.0"}}}`))
	require.NoError(t, err)

	var p StatusPayload
	require.NoError(t, DecodePayload(f, &p))
	assert.True(t, p.Connected)
	require.NotNil(t, p.AgentInfo)
	assert.Equal(t, "agent", p.AgentInfo.Name)
	assert.Equal(t, "1.2.0", p.AgentInfo.Version)
}

func TestDecodePayload_Missing(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"type":"status"}`))
	require.NoError(t, err)

	var p StatusPayload
	assert.Error(t, DecodePayload(f, &p))
}

func TestDecodePayload_SessionUpdateOrder(t *testing.T) {
	raw := `{"type":"session_update","payload":{"updates":[
		{"type":"thinking_start"},
		{"type":"text_delta","delta":"Hel"},
		{"type":"text_delta","delta":"lo"}
	]}}`
	f, err := DecodeFrame([]byte(raw))
	require.NoError(t, err)

	var p SessionUpdatePayload
	require.NoError(t, DecodePayload(f, &p))
	require.Len(t, p.Updates, 3)
	assert.Equal(t, UpdateThinkingStart, p.Updates[0].Type)
	assert.Equal(t, "Hel", p.Updates[1].Delta)
	assert.Equal(t, "lo", p.Updates[2].Delta)
}
