package chat

import (
	"context"
	"errors"

	"mindfulchat/internal/assistant"
)

// Outcome is the terminal state of one submission.
type Outcome string

const (
	OutcomeFulfilled        Outcome = "fulfilled"
	OutcomeBlocked          Outcome = "blocked"
	OutcomeInvalidResponse  Outcome = "invalid_response"
	OutcomeTransportFailure Outcome = "transport_failure"
	OutcomeAborted          Outcome = "aborted"
	OutcomeFailed           Outcome = "failed"
)

// Outcomes lists every outcome, for pre-registering metric labels.
func Outcomes() []Outcome {
	return []Outcome{
		OutcomeFulfilled, OutcomeBlocked, OutcomeInvalidResponse,
		OutcomeTransportFailure, OutcomeAborted, OutcomeFailed,
	}
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeFulfilled
	case errors.Is(err, assistant.ErrAborted), errors.Is(err, context.Canceled):
		return OutcomeAborted
	case errors.Is(err, assistant.ErrTransport), errors.Is(err, context.DeadlineExceeded):
		return OutcomeTransportFailure
	case errors.Is(err, assistant.ErrInvalidResponse):
		return OutcomeInvalidResponse
	default:
		return OutcomeFailed
	}
}

func failureText(outcome Outcome) string {
	switch outcome {
	case OutcomeAborted:
		return abortedText
	case OutcomeTransportFailure:
		return transportFailedText
	case OutcomeInvalidResponse:
		return invalidResponseText
	default:
		return genericFailureText
	}
}
