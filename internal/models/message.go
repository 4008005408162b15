package models

import "time"

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is a single entry in a session history. FollowUps, FollowUpAnswers and
// RecommendedResponses are aligned by index; a shorter slice means no data for
// the missing indexes.
type Message struct {
	ID                   string    `json:"id"`
	Text                 string    `json:"text"`
	Sender               Sender    `json:"sender"`
	Timestamp            time.Time `json:"timestamp"`
	FollowUps            []string  `json:"followUps"`
	FollowUpAnswers      []string  `json:"follow_up_answers"`
	RecommendedResponses []string  `json:"recommended_responses_to_follow_up_answers"`
	Confidence           *float64  `json:"confidence,omitempty"`
	Intent               string    `json:"intent,omitempty"`
}

// FollowUpAnswer returns the canned answer paired with follow-up i, if any.
func (m *Message) FollowUpAnswer(i int) (string, bool) {
	if m == nil || i < 0 || i >= len(m.FollowUpAnswers) {
		return "", false
	}
	return m.FollowUpAnswers[i], true
}

// Recommendation returns the recommended response paired with follow-up i, if any.
func (m *Message) Recommendation(i int) (string, bool) {
	if m == nil || i < 0 || i >= len(m.RecommendedResponses) {
		return "", false
	}
	return m.RecommendedResponses[i], true
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.FollowUps = cloneStrings(m.FollowUps)
	cp.FollowUpAnswers = cloneStrings(m.FollowUpAnswers)
	cp.RecommendedResponses = cloneStrings(m.RecommendedResponses)
	if m.Confidence != nil {
		v := *m.Confidence
		cp.Confidence = &v
	}
	return &cp
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
