package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mindfulchat/internal/assistant"
	"mindfulchat/internal/filter"
	"mindfulchat/internal/models"
)

// Submit sends rawText on sessionID ("" targets the active session). The
// user message and any refusal are appended before Submit returns; the remote
// reply is reconciled asynchronously. Only rejected input returns an error;
// with RejectWhileTyping a session still awaiting a reply yields ErrBusy.
func (m *Manager) Submit(sessionID, rawText string) error {
	m.touch()
	text := strings.TrimSpace(rawText)
	if text == "" {
		return ErrEmptyInput
	}

	m.mu.Lock()
	if m.activeID == "" {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	if sessionID == "" {
		sessionID = m.activeID
	}
	if m.indexLocked(sessionID) < 0 {
		m.mu.Unlock()
		return ErrNotFound
	}
	if m.exclusive && m.typing[sessionID] > 0 {
		m.mu.Unlock()
		return ErrBusy
	}

	m.appendLocked(sessionID, m.userMessage(text))
	m.setTypingLocked(sessionID, true)

	if filter.IsBlocked(text) {
		m.appendLocked(sessionID, m.botMessage(newID(prefixBanned), refusalText, refusalFollowUps()))
		m.setTypingLocked(sessionID, false)
		m.persistLocked()
		m.mu.Unlock()
		m.rec.Outcome(OutcomeBlocked)
		return nil
	}
	m.persistLocked()
	m.mu.Unlock()

	ctx, tok := m.canceller.Begin(context.Background())
	m.inflight.Add(1)
	m.pending.Add(1)
	if err := m.exec.Submit(m.owner, func() { m.dispatch(ctx, tok, sessionID, text) }); err != nil {
		m.reconcile(tok, sessionID, nil, fmt.Errorf("schedule request: %w", err))
	}
	return nil
}

// SubmitFollowUp resubmits follow-up index of messageID as if typed.
func (m *Manager) SubmitFollowUp(sessionID, messageID string, index int) error {
	m.mu.Lock()
	if sessionID == "" {
		sessionID = m.activeID
	}
	idx := m.indexLocked(sessionID)
	if idx < 0 {
		m.mu.Unlock()
		return ErrNotFound
	}
	var text string
	for _, msg := range m.sessions[idx].Messages {
		if msg.ID == messageID && index >= 0 && index < len(msg.FollowUps) {
			text = msg.FollowUps[index]
			break
		}
	}
	m.mu.Unlock()
	if text == "" {
		return ErrNoFollowUp
	}
	return m.Submit(sessionID, text)
}

// Cancel aborts the most recent in-flight submission, if any.
func (m *Manager) Cancel() bool {
	m.touch()
	return m.canceller.Cancel()
}

func (m *Manager) dispatch(ctx context.Context, tok *Token, sessionID, text string) {
	m.rec.Inflight(1)
	start := time.Now()
	resp, err := m.client.Send(ctx, text)
	m.rec.RemoteDone(time.Since(start))
	m.rec.Inflight(-1)
	m.reconcile(tok, sessionID, resp, err)
}

// reconcile appends the reply or the failure message. Typing and the token
// are cleared on every path.
func (m *Manager) reconcile(tok *Token, sessionID string, resp *models.AssistantResponse, err error) {
	outcome := OutcomeFailed
	m.mu.Lock()
	defer func() {
		m.canceller.Release(tok)
		m.setTypingLocked(sessionID, false)
		m.mu.Unlock()
		m.rec.Outcome(outcome)
		m.pending.Add(-1)
		m.inflight.Done()
	}()

	if err == nil && tok.Signaled() {
		err = assistant.ErrAborted
	}
	var msg *models.Message
	if err == nil {
		msg, err = m.replyMessage(resp)
	}
	if err != nil {
		outcome = classify(err)
		msg = m.botMessage(newID(prefixError), failureText(outcome), errorFollowUps())
	} else {
		outcome = OutcomeFulfilled
	}
	if m.appendLocked(sessionID, msg) {
		m.persistLocked()
	}
}

func (m *Manager) replyMessage(resp *models.AssistantResponse) (*models.Message, error) {
	if resp == nil || len(resp.Results) == 0 {
		return nil, fmt.Errorf("%w: no results", assistant.ErrInvalidResponse)
	}
	result := resp.Results[0]
	if strings.TrimSpace(result.ResponseToDisplay) == "" {
		return nil, fmt.Errorf("%w: empty display text", assistant.ErrInvalidResponse)
	}
	msg := m.botMessage(newID(prefixBot), truncate(result.ResponseToDisplay, m.maxLen), cloneOrEmpty(result.FollowUpQuestions))
	msg.FollowUpAnswers = cloneOrEmpty(result.FollowUpAnswers)
	msg.RecommendedResponses = cloneOrEmpty(result.RecommendedResponses)
	if result.ConfidenceScore != nil {
		v := *result.ConfidenceScore
		msg.Confidence = &v
	}
	msg.Intent = result.Intent
	return msg, nil
}

func (m *Manager) userMessage(text string) *models.Message {
	return &models.Message{
		ID:                   newID(prefixUser),
		Text:                 text,
		Sender:               models.SenderUser,
		Timestamp:            m.now(),
		FollowUps:            []string{},
		FollowUpAnswers:      []string{},
		RecommendedResponses: []string{},
	}
}

func (m *Manager) botMessage(id, text string, followUps []string) *models.Message {
	if followUps == nil {
		followUps = []string{}
	}
	return &models.Message{
		ID:                   id,
		Text:                 text,
		Sender:               models.SenderBot,
		Timestamp:            m.now(),
		FollowUps:            followUps,
		FollowUpAnswers:      []string{},
		RecommendedResponses: []string{},
	}
}

func truncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

func cloneOrEmpty(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
