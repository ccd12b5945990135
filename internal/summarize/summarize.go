// Package summarize turns candidate items into short human-readable
// summaries using a language model.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/newswire/internal/model"
	"github.com/sells-group/newswire/internal/resilience"
)

// DefaultMaxTokens is used when Options.MaxTokens is zero.
const DefaultMaxTokens = 600

// DefaultTemperature matches the summarizer.temperature config default.
const DefaultTemperature = 0.7

// ErrBodyTooShort is returned for items whose body is below MinBodyChars.
var ErrBodyTooShort = eris.New("summarize: body too short")

// ErrEmptySummary is returned when the model produced no text.
var ErrEmptySummary = eris.New("summarize: empty summary")

// Completer runs a single prompt against a language model.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
}

// Options configures a Summarizer.
type Options struct {
	MaxTokens int
	// Temperature is passed through as is; zero asks for deterministic output.
	Temperature float64
	// MinBodyChars rejects items with shorter bodies. Zero disables the check.
	MinBodyChars int
	Retry        resilience.RetryConfig
}

// Summarizer builds the summary prompt and validates the result.
type Summarizer struct {
	completer Completer
	opts      Options
}

// New creates a Summarizer over completer.
func New(completer Completer, opts Options) *Summarizer {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry.MaxAttempts = 1
	}
	return &Summarizer{completer: completer, opts: opts}
}

// Summarize returns the summary text for item.
func (s *Summarizer) Summarize(ctx context.Context, item model.CandidateItem) (string, error) {
	body := strings.TrimSpace(item.Body)
	if s.opts.MinBodyChars > 0 && utf8.RuneCountInString(body) < s.opts.MinBodyChars {
		return "", eris.Wrapf(ErrBodyTooShort, "%d < %d chars", utf8.RuneCountInString(body), s.opts.MinBodyChars)
	}

	prompt := BuildPrompt(item)
	retry := s.opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("summarizer", item.SourceID)
	}
	text, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (string, error) {
		return s.completer.Complete(ctx, prompt, s.opts.MaxTokens, s.opts.Temperature)
	})
	if err != nil {
		return "", eris.Wrap(err, "summarize: complete")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptySummary
	}
	return text, nil
}

// BuildPrompt renders the summary prompt. Items without a body are
// summarized from their title.
func BuildPrompt(item model.CandidateItem) string {
	text := strings.TrimSpace(item.Body)
	if text == "" {
		text = item.Title
	} else if item.Title != "" {
		text = item.Title + "\n\n" + text
	}
	return fmt.Sprintf(`Summarize the following news article in 6–10 simple, factual sentences for a US audience. Do not say 'the article says' or 'it is mentioned that'.

%s`, text)
}
