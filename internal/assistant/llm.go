package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mindfulchat/internal/config"
	"mindfulchat/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const systemPrompt = `You are Mindfulness, a supportive mental-health companion.
Listen with empathy and answer in the language the user writes in (usually Indonesian).
Never give medical diagnoses. Encourage professional help when the user may be at risk.
Reply with JSON only, in this shape:
{"results":[{"response_to_display":"...","follow_up_questions":["..."],"follow_up_answers":["..."],"recomended_responses_to_follow_up_answers":["..."],"confidence_score":0.0,"intent":"..."}]}
follow_up_answers and recomended_responses_to_follow_up_answers must line up with follow_up_questions by index.`

// generator is the slice of eino's chat model the client needs.
type generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// modelFactory is swapped in tests.
var modelFactory = newChatModel

// LLMClient asks a chat model directly instead of a hosted endpoint.
type LLMClient struct {
	model    generator
	provider string
}

// NewLLMClient builds a client for cfg.Provider.
func NewLLMClient(ctx context.Context, cfg config.AssistantConfig) (*LLMClient, error) {
	provCfg, ok := cfg.Providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", cfg.Provider)
	}
	m, err := modelFactory(ctx, cfg.Provider, provCfg)
	if err != nil {
		return nil, fmt.Errorf("init %s model: %w", cfg.Provider, err)
	}
	return &LLMClient{model: m, provider: cfg.Provider}, nil
}

func newChatModel(ctx context.Context, provider string, cfg config.ProviderConfig) (generator, error) {
	switch provider {
	case "openai":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		})
	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
	case "claude":
		var baseURL *string
		if cfg.BaseURL != "" {
			baseURL = &cfg.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   baseURL,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}

// Send generates one reply. Models that ignore the JSON instruction still
// produce a displayable result carrying the raw text.
func (c *LLMClient) Send(ctx context.Context, text string) (*models.AssistantResponse, error) {
	msg, err := c.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(text),
	})
	if err != nil {
		return nil, abortedOr(ctx, ErrTransport, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: empty reply from %s", ErrInvalidResponse, c.provider)
	}
	return parseModelReply(msg.Content), nil
}

func parseModelReply(content string) *models.AssistantResponse {
	body := stripFence(content)

	var resp models.AssistantResponse
	if err := json.Unmarshal([]byte(body), &resp); err == nil && len(resp.Results) > 0 {
		return &resp
	}
	var single models.AssistantResult
	if err := json.Unmarshal([]byte(body), &single); err == nil && single.ResponseToDisplay != "" {
		return &models.AssistantResponse{Results: []models.AssistantResult{single}}
	}
	return &models.AssistantResponse{Results: []models.AssistantResult{{ResponseToDisplay: strings.TrimSpace(content)}}}
}

func stripFence(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// New picks the client for cfg.Mode.
func New(ctx context.Context, cfg config.AssistantConfig) (Client, error) {
	switch cfg.Mode {
	case "", "http":
		return NewHTTPClient(cfg.BaseURL, cfg.Path, secondsOr(cfg.Timeout, 60))
	case "llm":
		return NewLLMClient(ctx, cfg)
	default:
		return nil, errors.New("assistant: unsupported mode " + cfg.Mode)
	}
}
