package models

import "time"

// Session is one independent conversation thread.
type Session struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Messages    []*Message `json:"messages"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

// Clone returns a copy whose message slice can be handed to observers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Messages = make([]*Message, len(s.Messages))
	for i, m := range s.Messages {
		cp.Messages[i] = m.Clone()
	}
	return &cp
}
