package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
)

// DefaultStopSequences end generation before the model starts a new turn.
var DefaultStopSequences = []string{"</s>", "[INST]", "QUESTION:"}

// Options are the decoding parameters sent with every generate call.
type Options struct {
	Temperature   float64
	TopP          float64
	TopK          int
	NumCtx        int
	RepeatPenalty float64
	MaxTokens     int
	Stop          []string
	Timeout       time.Duration
}

func DefaultOptions() Options {
	return Options{
		Temperature:   0.05,
		TopP:          0.85,
		TopK:          30,
		NumCtx:        16384,
		RepeatPenalty: 1.15,
		MaxTokens:     1024,
		Stop:          DefaultStopSequences,
		Timeout:       120 * time.Second,
	}
}

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	opts       Options
	httpClient *http.Client
}

func New(baseURL, genModel, embedModel string, opts Options) *Client {
	def := DefaultOptions()
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.Stop == nil {
		opts.Stop = def.Stop
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}
}

func (c *Client) Model() string {
	return c.genModel
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": e.client.embedModel,
		"input": []string{text},
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, wrapTemporaryIfNeeded("ollama embed", err)
	}
	if len(response.Embeddings) == 0 || len(response.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama embed: empty embedding result")
	}
	return response.Embeddings[0], nil
}

// Generator implements ports.TextGenerator over /api/generate. Calls are not
// retried; failures are mapped to generation error kinds.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p"`
	TopK          int      `json:"top_k"`
	NumCtx        int      `json:"num_ctx"`
	RepeatPenalty float64  `json:"repeat_penalty"`
	NumPredict    int      `json:"num_predict"`
	Stop          []string `json:"stop,omitempty"`
}

type generateResponse struct {
	Response      string `json:"response"`
	TotalDuration int64  `json:"total_duration"`
}

func (g *Generator) Generate(ctx context.Context, prompt string, opts domain.GenerationOptions) (string, error) {
	c := g.client
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokens
	}

	request := generateRequest{
		Model:  c.genModel,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature:   c.opts.Temperature,
			TopP:          c.opts.TopP,
			TopK:          c.opts.TopK,
			NumCtx:        c.opts.NumCtx,
			RepeatPenalty: c.opts.RepeatPenalty,
			NumPredict:    maxTokens,
			Stop:          c.opts.Stop,
		},
	}

	var response generateResponse
	if err := c.postJSON(ctx, "/api/generate", request, &response, "generate"); err != nil {
		return "", mapGenerationError(err)
	}
	return strings.TrimSpace(response.Response), nil
}
