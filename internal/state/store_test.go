package state

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgentChat/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) (*Store, *storage.Memory) {
	t.Helper()
	blob := storage.NewMemory()
	return NewStore(blob, testLogger()), blob
}

func TestAddAndSnapshot(t *testing.T) {
	store, _ := newTestStore(t)

	sess := NewSession("work", "ws://localhost:9000", "")
	store.Add(sess)

	snap := store.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, sess.ID, snap[0].ID)
	assert.Equal(t, StatusDisconnected, snap[0].Status)

	// Mutating the snapshot must not leak into the store.
	snap[0].Name = "changed"
	snap[0].Messages = append(snap[0].Messages, NewMessage(RoleUser, "hi"))

	got, ok := store.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, "work", got.Name)
	assert.Empty(t, got.Messages)
}

func TestSetStatusClearsRemoteSession(t *testing.T) {
	store, _ := newTestStore(t)
	sess := NewSession("s", "ws://a", "")
	store.Add(sess)

	store.SetStatus(sess.ID, StatusConnected)
	store.SetRemoteSession(sess.ID, "remote-1")

	got, _ := store.Get(sess.ID)
	assert.Equal(t, "remote-1", got.RemoteSessionID)

	store.SetStatus(sess.ID, StatusDisconnected)
	got, _ = store.Get(sess.ID)
	assert.Equal(t, StatusDisconnected, got.Status)
	assert.Empty(t, got.RemoteSessionID)
}

func TestAppendToMessagePreservesIdentity(t *testing.T) {
	store, _ := newTestStore(t)
	sess := NewSession("s", "ws://a", "")
	store.Add(sess)

	msg := NewMessage(RoleAssistant, "Hel")
	store.AppendMessage(sess.ID, msg)
	require.True(t, store.AppendToMessage(sess.ID, msg.ID, "lo"))

	got, _ := store.Get(sess.ID)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, msg.ID, got.Messages[0].ID)
	assert.Equal(t, "Hello", got.Messages[0].Content)
}

func TestRemoveMessage(t *testing.T) {
	store, _ := newTestStore(t)
	sess := NewSession("s", "ws://a", "")
	store.Add(sess)

	first := NewMessage(RoleAssistant, "one")
	second := NewMessage(RoleAssistant, "two")
	store.AppendMessage(sess.ID, first)
	store.AppendMessage(sess.ID, second)

	require.True(t, store.RemoveMessage(sess.ID, first.ID))
	assert.False(t, store.RemoveMessage(sess.ID, first.ID))

	got, _ := store.Get(sess.ID)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "two", got.Messages[0].Content)
}

func TestRemoveSessionNotifiesConnectionOwner(t *testing.T) {
	store, _ := newTestStore(t)
	sess := NewSession("s", "ws://a", "")
	store.Add(sess)

	var disconnected string
	store.OnRemove = func(sessionID string) { disconnected = sessionID }

	require.True(t, store.Remove(sess.ID))
	assert.Equal(t, sess.ID, disconnected)
	assert.Empty(t, store.Snapshot())
}

func TestLoadResetsConnectionState(t *testing.T) {
	blob := storage.NewMemory()

	sessions := []Session{
		{ID: "a", Name: "one", Status: StatusConnected, RemoteSessionID: "remote-1"},
		{ID: "b", Name: "two", Status: StatusError},
	}
	data, err := json.Marshal(sessions)
	require.NoError(t, err)
	require.NoError(t, blob.Put(SessionsKey, data))

	store := NewStore(blob, testLogger())
	require.NoError(t, store.Load())

	snap := store.Snapshot()
	require.Len(t, snap, 2)
	for _, sess := range snap {
		assert.Equal(t, StatusDisconnected, sess.Status)
		assert.Empty(t, sess.RemoteSessionID)
	}
}

func TestPersistsAfterEveryMutation(t *testing.T) {
	store, blob := newTestStore(t)

	sess := NewSession("s", "ws://a", "")
	store.Add(sess)
	store.Rename(sess.ID, "renamed")

	data, ok, err := blob.Get(SessionsKey)
	require.NoError(t, err)
	require.True(t, ok)

	var persisted []Session
	require.NoError(t, json.Unmarshal(data, &persisted))
	require.Len(t, persisted, 1)
	assert.Equal(t, "renamed", persisted[0].Name)
}
