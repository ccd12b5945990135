package summarize

import (
	"context"

	"github.com/sells-group/newswire/pkg/anthropic"
	"github.com/sells-group/newswire/pkg/openai"
)

// OpenAI adapts an OpenAI chat client to Completer.
type OpenAI struct {
	Client openai.Client
}

// Complete implements Completer.
func (o OpenAI) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	resp, err := o.Client.Complete(ctx, openai.CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Anthropic adapts an Anthropic messages client to Completer.
type Anthropic struct {
	Client anthropic.Client
	Model  string
}

// Complete implements Completer.
func (a Anthropic) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	resp, err := a.Client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.Model,
		MaxTokens:   int64(maxTokens),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temperature,
	})
	if err != nil {
		return "", err
	}
	resp.Usage.LogCost(a.Model, "summarize")
	return resp.Text(), nil
}
