package assistant

import (
	"context"
	"errors"
	"fmt"

	"mindfulchat/internal/models"
)

// Client is the remote mental-health assistant. Send must return promptly
// once ctx is cancelled, with an error wrapping ErrAborted.
type Client interface {
	Send(ctx context.Context, text string) (*models.AssistantResponse, error)
}

var (
	ErrAborted         = errors.New("assistant: request aborted")
	ErrTransport       = errors.New("assistant: cannot reach server")
	ErrInvalidResponse = errors.New("assistant: invalid response")
)

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("assistant: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, text string) (*models.AssistantResponse, error)

func (f ClientFunc) Send(ctx context.Context, text string) (*models.AssistantResponse, error) {
	return f(ctx, text)
}

// abortedOr wraps err as ErrAborted when ctx was cancelled, otherwise as fallback.
func abortedOr(ctx context.Context, fallback, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}
	return fmt.Errorf("%w: %w", fallback, err)
}
