package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
)

type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
	Stop        []string
	Timeout     time.Duration
}

// Generator implements ports.TextGenerator over any OpenAI-compatible
// chat-completions endpoint. The prompt is sent as a single user message.
type Generator struct {
	client *openai.Client
	opts   Options
}

func NewGenerator(opts Options) *Generator {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}

	return &Generator{
		client: openai.NewClientWithConfig(cfg),
		opts:   opts,
	}
}

func (g *Generator) Model() string {
	return g.opts.Model
}

func (g *Generator) Generate(ctx context.Context, prompt string, opts domain.GenerationOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.opts.MaxTokens
	}

	req := openai.ChatCompletionRequest{
		Model: g.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(g.opts.Temperature),
		TopP:        float32(g.opts.TopP),
		MaxTokens:   maxTokens,
		Stop:        g.opts.Stop,
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", mapGenerationError(err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.WrapError(domain.ErrGenerationFailed, "openai generate", fmt.Errorf("chat completion returned no choices"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func mapGenerationError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.WrapError(domain.ErrGenerationFailed, "openai generate", &domain.GenerationFailedError{
			Backend:    "openai",
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
		})
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return domain.WrapError(domain.ErrGenerationFailed, "openai generate", &domain.GenerationFailedError{
			Backend:    "openai",
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
		})
	}
	return domain.WrapError(domain.ErrGenerationUnavailable, "openai generate", err)
}
