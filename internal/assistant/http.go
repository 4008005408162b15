package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mindfulchat/internal/models"
)

type sendRequest struct {
	Text string `json:"text"`
}

// HTTPClient posts user text to the inference endpoint as JSON.
type HTTPClient struct {
	url        string
	httpClient *http.Client
}

type Option func(*HTTPClient)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *HTTPClient) {
		c.httpClient = httpClient
	}
}

// NewHTTPClient builds a client for baseURL+path. timeout bounds each request
// independently of cancellation.
func NewHTTPClient(baseURL, path string, timeout time.Duration, opts ...Option) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("assistant: base url must not be empty")
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &HTTPClient{
		url:        baseURL + path,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Send performs one request. Cancelling ctx aborts the in-flight call.
func (c *HTTPClient) Send(ctx context.Context, text string) (*models.AssistantResponse, error) {
	body, err := json.Marshal(sendRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("assistant: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("assistant: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, abortedOr(ctx, ErrTransport, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: c.url, Body: string(buf)}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, abortedOr(ctx, ErrTransport, err)
	}
	var payload models.AssistantResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalidResponse, err)
	}
	return &payload, nil
}

func secondsOr(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}
