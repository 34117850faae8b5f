package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// SessionsKey is the storage key the serialized session list lives under.
const SessionsKey = "sessions"

// Blob is the durable key-value store the session list persists to.
type Blob interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
}

// Store holds the canonical ordered session records. Every mutation replaces
// the affected session wholesale and persists the full list, so snapshot
// reads never observe a partial update.
type Store struct {
	mu       sync.Mutex
	sessions []Session
	blob     Blob
	logger   *slog.Logger

	// OnRemove is invoked after a session is removed, so the owning
	// connection can be torn down. Set once at wiring time.
	OnRemove func(sessionID string)
}

// NewStore creates a store backed by the given blob store.
func NewStore(blob Blob, logger *slog.Logger) *Store {
	return &Store{blob: blob, logger: logger}
}

// Load reads the persisted session list. Connections never survive a process
// restart: every session comes back disconnected with no remote session id.
func (s *Store) Load() error {
	data, ok, err := s.blob.Get(SessionsKey)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	if !ok {
		return nil
	}

	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return fmt.Errorf("decode sessions: %w", err)
	}
	for i := range sessions {
		sessions[i].Status = StatusDisconnected
		sessions[i].RemoteSessionID = ""
	}

	s.mu.Lock()
	s.sessions = sessions
	s.mu.Unlock()

	s.logger.Info("loaded sessions", "count", len(sessions))
	return nil
}

// persist writes the full session list. Called with the lock held.
func (s *Store) persist() {
	data, err := json.Marshal(s.sessions)
	if err != nil {
		s.logger.Error("failed to encode sessions", "error", err)
		return
	}
	if err := s.blob.Put(SessionsKey, data); err != nil {
		s.logger.Error("failed to persist sessions", "error", err)
	}
}

// Snapshot returns a deep copy of all sessions in order.
func (s *Store) Snapshot() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = cloneSession(sess)
	}
	return out
}

// Get returns a deep copy of one session.
func (s *Store) Get(sessionID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.ID == sessionID {
			return cloneSession(sess), true
		}
	}
	return Session{}, false
}

// Add appends a new session and persists.
func (s *Store) Add(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = append(s.sessions, sess)
	s.persist()
}

// Update replaces the session with the given id via a transform applied to a
// private copy. Returns false if no such session exists.
func (s *Store) Update(sessionID string, fn func(*Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(sessionID, fn)
}

func (s *Store) updateLocked(sessionID string, fn func(*Session)) bool {
	for i, sess := range s.sessions {
		if sess.ID != sessionID {
			continue
		}
		next := cloneSession(sess)
		fn(&next)
		s.sessions[i] = next
		s.persist()
		return true
	}
	return false
}

// SetStatus transitions a session's connection status. Any status other than
// connected clears the remote session id.
func (s *Store) SetStatus(sessionID string, status Status) bool {
	return s.Update(sessionID, func(sess *Session) {
		sess.Status = status
		if status != StatusConnected {
			sess.RemoteSessionID = ""
		}
	})
}

// SetRemoteSession records the id the remote agent assigned on handshake.
func (s *Store) SetRemoteSession(sessionID, remoteID string) bool {
	return s.Update(sessionID, func(sess *Session) {
		sess.RemoteSessionID = remoteID
	})
}

// SetAgentInfo records the remote agent's reported identity.
func (s *Store) SetAgentInfo(sessionID string, info AgentInfo) bool {
	return s.Update(sessionID, func(sess *Session) {
		ai := info
		sess.AgentInfo = &ai
	})
}

// AppendMessage appends a message to a session's transcript.
func (s *Store) AppendMessage(sessionID string, msg ChatMessage) bool {
	return s.Update(sessionID, func(sess *Session) {
		sess.Messages = append(sess.Messages, msg)
	})
}

// AppendToMessage grows a message's content in place, preserving its
// identity so the presentation layer keeps updating the same bubble.
func (s *Store) AppendToMessage(sessionID, messageID, delta string) bool {
	found := false
	ok := s.Update(sessionID, func(sess *Session) {
		for i := range sess.Messages {
			if sess.Messages[i].ID == messageID {
				sess.Messages[i].Content += delta
				found = true
				return
			}
		}
	})
	return ok && found
}

// UpdateMessage applies a transform to one message.
func (s *Store) UpdateMessage(sessionID, messageID string, fn func(*ChatMessage)) bool {
	found := false
	ok := s.Update(sessionID, func(sess *Session) {
		for i := range sess.Messages {
			if sess.Messages[i].ID == messageID {
				fn(&sess.Messages[i])
				found = true
				return
			}
		}
	})
	return ok && found
}

// RemoveMessage deletes a message by id.
func (s *Store) RemoveMessage(sessionID, messageID string) bool {
	found := false
	ok := s.Update(sessionID, func(sess *Session) {
		for i := range sess.Messages {
			if sess.Messages[i].ID == messageID {
				sess.Messages = append(sess.Messages[:i], sess.Messages[i+1:]...)
				found = true
				return
			}
		}
	})
	return ok && found
}

// Rename changes a session's user-visible label.
func (s *Store) Rename(sessionID, name string) bool {
	return s.Update(sessionID, func(sess *Session) {
		sess.Name = name
	})
}

// Remove deletes a session and notifies the connection owner.
func (s *Store) Remove(sessionID string) bool {
	s.mu.Lock()
	removed := false
	for i, sess := range s.sessions {
		if sess.ID == sessionID {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			removed = true
			break
		}
	}
	if removed {
		s.persist()
	}
	s.mu.Unlock()

	if removed && s.OnRemove != nil {
		s.OnRemove(sessionID)
	}
	return removed
}
