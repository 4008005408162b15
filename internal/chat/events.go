package chat

import "mindfulchat/internal/models"

type EventType string

const (
	EventSessions EventType = "sessions"
	EventMessage  EventType = "message"
	EventTyping   EventType = "typing"
)

// Event is pushed to subscribers after each state change.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Message   *models.Message `json:"message,omitempty"`
	Typing    bool            `json:"typing"`
	State     *State          `json:"state,omitempty"`
}

const subscriberBuffer = 32

// Subscribe registers an observer. Events are dropped for subscribers that
// fall behind. The returned func unsubscribes and closes the channel.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.touch()
	ch := make(chan Event, subscriberBuffer)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	cancelled := false
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cancelled {
			return
		}
		cancelled = true
		delete(m.subs, id)
		close(ch)
	}
}

func (m *Manager) publishLocked(ev Event) {
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Manager) publishSessionsLocked() {
	if len(m.subs) == 0 {
		return
	}
	m.publishLocked(Event{Type: EventSessions, SessionID: m.activeID, State: m.stateLocked()})
}
