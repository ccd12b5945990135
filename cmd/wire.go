package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/newswire/internal/feeds"
	"github.com/sells-group/newswire/internal/fetcher"
	"github.com/sells-group/newswire/internal/fingerprint"
	"github.com/sells-group/newswire/internal/novelty"
	"github.com/sells-group/newswire/internal/pipeline"
	"github.com/sells-group/newswire/internal/poller"
	"github.com/sells-group/newswire/internal/resilience"
	"github.com/sells-group/newswire/internal/scheduler"
	"github.com/sells-group/newswire/internal/store"
	"github.com/sells-group/newswire/internal/summarize"
	"github.com/sells-group/newswire/pkg/anthropic"
	"github.com/sells-group/newswire/pkg/jina"
	"github.com/sells-group/newswire/pkg/openai"
	"github.com/sells-group/newswire/pkg/telegram"
)

// pipelineEnv holds the pipeline and the resources it owns.
type pipelineEnv struct {
	Novelty  *novelty.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Novelty != nil {
		_ = pe.Novelty.Close()
	}
}

// initStore opens the configured record backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "newswire.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("postgres store requires store.database_url (NEWSWIRE_STORE_DATABASE_URL)")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initNovelty opens the record store and loads the novelty index from it.
// A failure here must stop the process: without the index no decision is safe.
func initNovelty(ctx context.Context) (*novelty.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	window := cfg.Store.SimilarityWindow
	if window <= 0 {
		window = -1
	}
	ns, err := novelty.Open(ctx, st, novelty.Options{
		Threshold: cfg.Novelty.Threshold,
		Window:    window,
	})
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "open novelty store")
	}
	return ns, nil
}

// initEmbedder builds the embedding provider client.
func initEmbedder() (fingerprint.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "openai", "":
		if cfg.OpenAI.Key == "" {
			return nil, eris.New("openai key is required for embeddings (NEWSWIRE_OPENAI_KEY)")
		}
		return openai.NewClient(cfg.OpenAI.Key,
			openai.WithBaseURL(cfg.OpenAI.BaseURL),
			openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
		), nil
	case "jina":
		if cfg.Jina.Key == "" {
			return nil, eris.New("jina key is required for embeddings (NEWSWIRE_JINA_KEY)")
		}
		return jina.NewClient(cfg.Jina.Key,
			jina.WithBaseURL(cfg.Jina.BaseURL),
			jina.WithModel(cfg.Jina.Model),
			jina.WithRateLimit(cfg.Jina.RateLimitRPS),
		), nil
	default:
		return nil, eris.Errorf("unsupported embedding provider: %s", cfg.Embedding.Provider)
	}
}

// initFingerprinter wraps the embedder with retries and a circuit breaker.
func initFingerprinter() (*fingerprint.Engine, error) {
	emb, err := initEmbedder()
	if err != nil {
		return nil, err
	}
	return fingerprint.New(emb,
		fingerprint.WithExcerptChars(cfg.Fingerprint.ExcerptChars),
		fingerprint.WithRetry(resilience.FromConfig(cfg.Retry)),
		fingerprint.WithBreaker(resilience.NewCircuitBreaker("embedder", resilience.BreakerFromConfig(cfg.Circuit))),
	), nil
}

// initSummarizer builds the summarizer over the configured model provider.
func initSummarizer() (*summarize.Summarizer, error) {
	var completer summarize.Completer
	switch cfg.Summarizer.Provider {
	case "openai", "":
		if cfg.OpenAI.Key == "" {
			return nil, eris.New("openai key is required for summaries (NEWSWIRE_OPENAI_KEY)")
		}
		completer = summarize.OpenAI{Client: openai.NewClient(cfg.OpenAI.Key,
			openai.WithBaseURL(cfg.OpenAI.BaseURL),
			openai.WithChatModel(cfg.OpenAI.Model),
		)}
	case "anthropic":
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("anthropic key is required for summaries (NEWSWIRE_ANTHROPIC_KEY)")
		}
		completer = summarize.Anthropic{
			Client: anthropic.NewClient(cfg.Anthropic.Key),
			Model:  cfg.Anthropic.Model,
		}
	default:
		return nil, eris.Errorf("unsupported summarizer provider: %s", cfg.Summarizer.Provider)
	}

	return summarize.New(completer, summarize.Options{
		MaxTokens:    cfg.Summarizer.MaxTokens,
		Temperature:  cfg.Summarizer.Temperature,
		MinBodyChars: cfg.Summarizer.MinBodyChars,
		Retry:        resilience.FromConfig(cfg.Retry),
	}), nil
}

// initPublisher builds the chat publisher.
func initPublisher() (*telegram.Client, error) {
	c, err := telegram.NewClient(cfg.Telegram.Token, cfg.Telegram.ChatID,
		telegram.WithBaseURL(cfg.Telegram.BaseURL),
	)
	if err != nil {
		return nil, eris.Wrap(err, "init publisher (NEWSWIRE_TELEGRAM_TOKEN, NEWSWIRE_TELEGRAM_CHAT_ID)")
	}
	return c, nil
}

// initPoller registers every configured source behind a shared fetcher.
func initPoller() (*poller.Poller, error) {
	if len(cfg.Sources) == 0 {
		return nil, eris.New("no sources configured")
	}

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: cfg.Poller.UserAgent,
		Timeout:   cfg.Poller.SourceTimeout,
		HostRPS:   cfg.Poller.HostRPS,
		Retry:     resilience.FromConfig(cfg.Retry),
	})

	reg := poller.NewRegistry()
	for _, src := range cfg.Sources {
		feed, err := feeds.New(src, f)
		if err != nil {
			return nil, eris.Wrapf(err, "source %s", src.ID)
		}
		if err := reg.Register(src.ID, feed); err != nil {
			return nil, err
		}
	}

	return poller.New(reg, poller.Options{
		Concurrency:   cfg.Poller.Concurrency,
		SourceTimeout: cfg.Poller.SourceTimeout,
	}), nil
}

// initPipeline builds every collaborator and opens the novelty store last,
// so a bad setting never leaves the store open. Callers should defer
// env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	policy, err := fingerprint.ParsePolicy(cfg.Fingerprint.EmbeddingPolicy)
	if err != nil {
		return nil, err
	}
	freshness, err := scheduler.ParseFreshnessPolicy(cfg.Scheduler.UnknownFreshness)
	if err != nil {
		return nil, err
	}

	engine, err := initFingerprinter()
	if err != nil {
		return nil, err
	}
	summarizer, err := initSummarizer()
	if err != nil {
		return nil, err
	}
	publisher, err := initPublisher()
	if err != nil {
		return nil, err
	}
	p, err := initPoller()
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(p.Order(), scheduler.WithUnknownFreshness(freshness))

	ns, err := initNovelty(ctx)
	if err != nil {
		return nil, err
	}

	zap.L().Info("pipeline initialized",
		zap.Int("sources", len(cfg.Sources)),
		zap.String("store", cfg.Store.Driver),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("summarizer_provider", cfg.Summarizer.Provider),
		zap.String("embedding_policy", string(policy)),
	)

	return &pipelineEnv{
		Novelty: ns,
		Pipeline: pipeline.New(p, sched, engine, ns, summarizer, publisher, pipeline.Options{
			FreshnessWindow: cfg.Scheduler.FreshnessWindow,
			PerSourceCap:    cfg.Scheduler.PerSourceCap,
			TotalCap:        cfg.Scheduler.TotalCap,
			PublishDelay:    cfg.Pipeline.PublishDelay,
			RunTimeout:      cfg.Pipeline.RunTimeout,
			CommitTimeout:   cfg.Pipeline.CommitTimeout,
			EmbeddingPolicy: policy,
		}),
	}, nil
}
