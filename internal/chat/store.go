package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"mindfulchat/internal/kvstore"
	"mindfulchat/internal/models"
)

const persistTimeout = 5 * time.Second

// Load rehydrates the collection. A missing or unreadable snapshot starts a
// fresh session; only store failures are returned.
func (m *Manager) Load(ctx context.Context) error {
	_, err := m.reload(ctx)
	return err
}

// reload reads the persisted collection and installs it. The read is dropped
// when the collection changed locally or a submission started while the
// store was being read; it reports whether the stored state was applied.
func (m *Manager) reload(ctx context.Context) (bool, error) {
	m.mu.Lock()
	seen := m.version
	m.mu.Unlock()

	raw, err := m.store.Get(ctx, m.key)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return false, fmt.Errorf("load sessions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.version != seen || m.pending.Load() > 0 {
		return false, nil
	}
	m.sessions = nil
	m.activeID = ""
	if err == nil {
		sessions, active, derr := m.decode(raw)
		if derr == nil {
			m.sessions = sessions
			m.activeID = active
			m.publishSessionsLocked()
			return true, nil
		}
		log.Printf("discard persisted sessions %s: %v", m.key, derr)
	}
	m.createSessionLocked()
	m.persistLocked()
	m.publishSessionsLocked()
	return true, nil
}

func (m *Manager) decode(raw string) ([]*models.Session, string, error) {
	plain, err := m.cipher.open(raw)
	if err != nil {
		return nil, "", err
	}
	return decodeSnapshot(plain)
}

// persistLocked writes the whole collection. Failures are logged; the
// in-memory state stays authoritative.
func (m *Manager) persistLocked() {
	m.version++
	data, err := encodeSnapshot(m.sessions, m.activeID)
	if err != nil {
		log.Printf("persist sessions %s: %v", m.key, err)
		return
	}
	value, err := m.cipher.seal(data)
	if err != nil {
		log.Printf("seal sessions %s: %v", m.key, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.store.Set(ctx, m.key, value); err != nil {
		log.Printf("persist sessions %s: %v", m.key, err)
		return
	}
	if m.onPersist != nil {
		m.onPersist()
	}
}

// CreateSession adds a session seeded with the greeting and makes it active.
func (m *Manager) CreateSession() string {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.createSessionLocked()
	m.persistLocked()
	m.publishSessionsLocked()
	return id
}

func (m *Manager) createSessionLocked() string {
	now := m.now()
	s := &models.Session{
		ID:          newID(prefixSession),
		Name:        sessionName(now),
		Messages:    []*models.Message{m.botMessage(newID(prefixBot), greetingText, nil)},
		LastUpdated: now,
	}
	m.sessions = append(m.sessions, s)
	m.activeID = s.ID
	return s.ID
}

// SelectSession makes id the active session.
func (m *Manager) SelectSession(id string) error {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexLocked(id) < 0 {
		return ErrNotFound
	}
	if m.activeID == id {
		return nil
	}
	m.activeID = id
	m.persistLocked()
	m.publishSessionsLocked()
	return nil
}

// DeleteSession removes id. Deleting the active session activates the first
// remaining one, or a fresh session when none remain.
func (m *Manager) DeleteSession(id string) error {
	m.touch()
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexLocked(id)
	if idx < 0 {
		return ErrNotFound
	}
	m.sessions = append(m.sessions[:idx], m.sessions[idx+1:]...)
	delete(m.typing, id)
	if m.activeID == id {
		if len(m.sessions) > 0 {
			m.activeID = m.sessions[0].ID
		} else {
			m.createSessionLocked()
		}
	}
	m.persistLocked()
	m.publishSessionsLocked()
	return nil
}

// Session returns a copy of one session.
func (m *Manager) Session(id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexLocked(id)
	if idx < 0 {
		return nil, ErrNotFound
	}
	return m.sessions[idx].Clone(), nil
}

// ActiveSessionID returns "" when no session is active.
func (m *Manager) ActiveSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// appendLocked adds msg to the session. A missing session is a no-op so a
// late reply never resurrects a deleted session.
func (m *Manager) appendLocked(sessionID string, msg *models.Message) bool {
	idx := m.indexLocked(sessionID)
	if idx < 0 {
		return false
	}
	s := m.sessions[idx]
	s.Messages = append(s.Messages, msg)
	s.LastUpdated = msg.Timestamp
	m.publishLocked(Event{Type: EventMessage, SessionID: sessionID, Message: msg.Clone()})
	return true
}

func (m *Manager) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, s := range m.sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) setTypingLocked(sessionID string, on bool) {
	if on {
		m.typing[sessionID]++
	} else {
		if m.typing[sessionID] <= 1 {
			delete(m.typing, sessionID)
		} else {
			m.typing[sessionID]--
		}
	}
	m.publishLocked(Event{Type: EventTyping, SessionID: sessionID, Typing: m.typing[sessionID] > 0})
}
