package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"mindfulchat/internal/models"
)

const snapshotVersion = 1

var errEmptySnapshot = errors.New("snapshot holds no usable session")

type snapshot struct {
	Version         int               `json:"version"`
	ActiveSessionID string            `json:"activeSessionId"`
	Sessions        []*models.Session `json:"sessions"`
}

func encodeSnapshot(sessions []*models.Session, activeID string) ([]byte, error) {
	if sessions == nil {
		sessions = []*models.Session{}
	}
	data, err := json.Marshal(snapshot{
		Version:         snapshotVersion,
		ActiveSessionID: activeID,
		Sessions:        sessions,
	})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// decodeSnapshot accepts the versioned envelope or a bare session array.
// Sessions without an id or messages are dropped; an unknown active id falls
// back to the first session.
func decodeSnapshot(data []byte) ([]*models.Session, string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, "", errEmptySnapshot
	}

	var snap snapshot
	if data[0] == '[' {
		if err := json.Unmarshal(data, &snap.Sessions); err != nil {
			return nil, "", fmt.Errorf("decode legacy snapshot: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, "", fmt.Errorf("decode snapshot: %w", err)
		}
		if snap.Version > snapshotVersion {
			return nil, "", fmt.Errorf("unsupported snapshot version %d", snap.Version)
		}
	}

	seen := make(map[string]bool, len(snap.Sessions))
	sessions := make([]*models.Session, 0, len(snap.Sessions))
	for _, s := range snap.Sessions {
		if s == nil || s.ID == "" || seen[s.ID] {
			continue
		}
		msgs := s.Messages[:0]
		for _, msg := range s.Messages {
			if msg == nil {
				continue
			}
			normalizeMessage(msg)
			msgs = append(msgs, msg)
		}
		if len(msgs) == 0 {
			continue
		}
		s.Messages = msgs
		seen[s.ID] = true
		sessions = append(sessions, s)
	}
	if len(sessions) == 0 {
		return nil, "", errEmptySnapshot
	}

	active := snap.ActiveSessionID
	if !seen[active] {
		active = sessions[0].ID
	}
	return sessions, active, nil
}

func normalizeMessage(msg *models.Message) {
	if msg.FollowUps == nil {
		msg.FollowUps = []string{}
	}
	if msg.FollowUpAnswers == nil {
		msg.FollowUpAnswers = []string{}
	}
	if msg.RecommendedResponses == nil {
		msg.RecommendedResponses = []string{}
	}
}
