// Package fingerprint derives the novelty identity of candidate items: an
// exact-match key and a semantic embedding.
package fingerprint

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/newswire/internal/model"
	"github.com/sells-group/newswire/internal/resilience"
)

// DefaultExcerptChars is how much of the body is embedded along with the title.
const DefaultExcerptChars = 1000

// ErrNoIdentity is returned for items with neither a title nor a URL.
var ErrNoIdentity = eris.New("fingerprint: item has neither title nor url")

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Policy decides what happens to an item whose embedding could not be computed.
type Policy string

const (
	// FailClosed drops the item for this run; it is re-offered next run.
	FailClosed Policy = "fail_closed"
	// FailOpen continues with an exact-key-only fingerprint.
	FailOpen Policy = "fail_open"
)

// ParsePolicy converts a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case FailClosed, FailOpen:
		return Policy(s), nil
	case "":
		return FailClosed, nil
	default:
		return "", eris.Errorf("fingerprint: unknown embedding policy %q", s)
	}
}

// EmbedError reports a failed call to the embedding provider.
type EmbedError struct {
	Err error
}

func (e *EmbedError) Error() string { return fmt.Sprintf("fingerprint: embed: %v", e.Err) }

func (e *EmbedError) Unwrap() error { return e.Err }

// Engine computes fingerprints. It holds no state besides its collaborators.
type Engine struct {
	embedder     Embedder
	excerptChars int
	retry        *resilience.RetryConfig
	breaker      *resilience.CircuitBreaker
}

// Option configures an Engine.
type Option func(*Engine)

// WithExcerptChars sets how many body runes are embedded.
func WithExcerptChars(n int) Option {
	return func(e *Engine) { e.excerptChars = n }
}

// WithRetry retries transient embedding failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(e *Engine) { e.retry = &cfg }
}

// WithBreaker fails fast once the provider has failed repeatedly.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(e *Engine) { e.breaker = cb }
}

// New creates an Engine backed by embedder.
func New(embedder Embedder, opts ...Option) *Engine {
	e := &Engine{embedder: embedder, excerptChars: DefaultExcerptChars}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Fingerprint returns the item's exact key and embedding. When the embedding
// provider fails the returned fingerprint still carries the exact key and the
// error is an *EmbedError, so callers can apply their Policy.
func (e *Engine) Fingerprint(ctx context.Context, item model.CandidateItem) (model.Fingerprint, error) {
	key, err := ExactKey(item.Title, item.URL)
	if err != nil {
		return model.Fingerprint{}, err
	}
	fp := model.Fingerprint{ExactKey: key}

	vec, err := e.embed(ctx, EmbeddingText(item.Title, item.Body, e.excerptChars))
	if err != nil {
		return fp, &EmbedError{Err: err}
	}
	if len(vec) == 0 {
		return fp, &EmbedError{Err: eris.New("provider returned an empty vector")}
	}
	fp.Embedding = vec
	return fp, nil
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	call := e.embedder.Embed
	if e.breaker != nil {
		inner := call
		call = func(ctx context.Context, text string) ([]float32, error) {
			return resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) ([]float32, error) {
				return inner(ctx, text)
			})
		}
	}
	if e.retry == nil {
		return call(ctx, text)
	}
	cfg := *e.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("embedder", "embed")
	}
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]float32, error) {
		return call(ctx, text)
	})
}
