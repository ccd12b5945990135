// Package openai wraps go-openai for embeddings and chat completions.
package openai

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/sells-group/newswire/internal/resilience"
)

const (
	defaultChatModel      = "gpt-4o-mini"
	defaultEmbeddingModel = string(goopenai.SmallEmbedding3)
)

// Client defines the OpenAI operations used by the pipeline.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is a single-turn chat completion.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float32
}

// CompletionResponse carries the first choice and token usage.
type CompletionResponse struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Option configures the client.
type Option func(*options)

type options struct {
	baseURL        string
	chatModel      string
	embeddingModel string
}

// WithBaseURL overrides the API base URL (proxies, tests).
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithChatModel sets the completion model.
func WithChatModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.chatModel = model
		}
	}
}

// WithEmbeddingModel sets the embedding model.
func WithEmbeddingModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.embeddingModel = model
		}
	}
}

type sdkClient struct {
	client         *goopenai.Client
	chatModel      string
	embeddingModel goopenai.EmbeddingModel
}

// NewClient creates a new OpenAI client.
func NewClient(apiKey string, opts ...Option) Client {
	o := options{chatModel: defaultChatModel, embeddingModel: defaultEmbeddingModel}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := goopenai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = strings.TrimRight(o.baseURL, "/")
	}
	return &sdkClient{
		client:         goopenai.NewClientWithConfig(cfg),
		chatModel:      o.chatModel,
		embeddingModel: goopenai.EmbeddingModel(o.embeddingModel),
	}
}

func (c *sdkClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: []string{text},
		Model: c.embeddingModel,
	})
	if err != nil {
		return nil, classify(err, "openai: create embeddings")
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, eris.New("openai: no embedding data")
	}
	return resp.Data[0].Embedding, nil
}

func (c *sdkClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	msgs := make([]goopenai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.System})
	}
	msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: req.Prompt})

	// go-openai omits a zero temperature, which the API reads as 1.
	temp := req.Temperature
	if temp == 0 {
		temp = math.SmallestNonzeroFloat32
	}
	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: temp,
	})
	if err != nil {
		return nil, classify(err, "openai: create chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("openai: no response choices")
	}

	zap.L().Debug("openai: usage",
		zap.String("model", c.chatModel),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return &CompletionResponse{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// classify wraps err and marks rate limits, server errors and transport
// failures as transient.
func classify(err error, msg string) error {
	wrapped := eris.Wrap(err, msg)

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		if resilience.IsTransientHTTPStatus(apiErr.HTTPStatusCode) {
			return resilience.NewTransientError(wrapped, apiErr.HTTPStatusCode)
		}
		return wrapped
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		if resilience.IsTransientHTTPStatus(reqErr.HTTPStatusCode) {
			return resilience.NewTransientError(wrapped, reqErr.HTTPStatusCode)
		}
		return wrapped
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapped
	}
	return resilience.NewTransientError(wrapped, 0)
}
