package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Novelty     NoveltyConfig     `yaml:"novelty" mapstructure:"novelty"`
	Fingerprint FingerprintConfig `yaml:"fingerprint" mapstructure:"fingerprint"`
	Embedding   EmbeddingConfig   `yaml:"embedding" mapstructure:"embedding"`
	OpenAI      OpenAIConfig      `yaml:"openai" mapstructure:"openai"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Jina        JinaConfig        `yaml:"jina" mapstructure:"jina"`
	Summarizer  SummarizerConfig  `yaml:"summarizer" mapstructure:"summarizer"`
	Telegram    TelegramConfig    `yaml:"telegram" mapstructure:"telegram"`
	Scheduler   SchedulerConfig   `yaml:"scheduler" mapstructure:"scheduler"`
	Pipeline    PipelineConfig    `yaml:"pipeline" mapstructure:"pipeline"`
	Poller      PollerConfig      `yaml:"poller" mapstructure:"poller"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Circuit     CircuitConfig     `yaml:"circuit" mapstructure:"circuit"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Sources     []SourceConfig    `yaml:"sources" mapstructure:"sources"`
	SourcesFile string            `yaml:"sources_file" mapstructure:"sources_file"`
}

// StoreConfig configures the novelty record backend.
type StoreConfig struct {
	Driver           string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL      string `yaml:"database_url" mapstructure:"database_url"`
	SimilarityWindow int    `yaml:"similarity_window" mapstructure:"similarity_window"`
	RetentionDays    int    `yaml:"retention_days" mapstructure:"retention_days"`
}

// NoveltyConfig configures duplicate detection.
type NoveltyConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
}

// FingerprintConfig configures how items are fingerprinted.
type FingerprintConfig struct {
	ExcerptChars    int    `yaml:"excerpt_chars" mapstructure:"excerpt_chars"`
	EmbeddingPolicy string `yaml:"embedding_policy" mapstructure:"embedding_policy"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
}

// OpenAIConfig configures the OpenAI client.
type OpenAIConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	Model          string `yaml:"model" mapstructure:"model"`
	EmbeddingModel string `yaml:"embedding_model" mapstructure:"embedding_model"`
}

// AnthropicConfig configures the Anthropic client.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// JinaConfig configures the Jina embeddings client.
type JinaConfig struct {
	Key          string  `yaml:"key" mapstructure:"key"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	Model        string  `yaml:"model" mapstructure:"model"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// SummarizerConfig configures summary generation.
type SummarizerConfig struct {
	Provider     string  `yaml:"provider" mapstructure:"provider"`
	MaxTokens    int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature  float64 `yaml:"temperature" mapstructure:"temperature"`
	MinBodyChars int     `yaml:"min_body_chars" mapstructure:"min_body_chars"`
}

// TelegramConfig configures the Telegram publisher.
type TelegramConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	ChatID  string `yaml:"chat_id" mapstructure:"chat_id"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SchedulerConfig configures release ordering and quotas.
type SchedulerConfig struct {
	FreshnessWindow  time.Duration `yaml:"freshness_window" mapstructure:"freshness_window"`
	PerSourceCap     int           `yaml:"per_source_cap" mapstructure:"per_source_cap"`
	TotalCap         int           `yaml:"total_cap" mapstructure:"total_cap"`
	UnknownFreshness string        `yaml:"unknown_freshness" mapstructure:"unknown_freshness"`
}

// PipelineConfig configures a publish run.
type PipelineConfig struct {
	PublishDelay  time.Duration `yaml:"publish_delay" mapstructure:"publish_delay"`
	RunTimeout    time.Duration `yaml:"run_timeout" mapstructure:"run_timeout"`
	CommitTimeout time.Duration `yaml:"commit_timeout" mapstructure:"commit_timeout"`
}

// PollerConfig configures source polling.
type PollerConfig struct {
	Concurrency   int           `yaml:"concurrency" mapstructure:"concurrency"`
	SourceTimeout time.Duration `yaml:"source_timeout" mapstructure:"source_timeout"`
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	HostRPS       float64       `yaml:"host_rps" mapstructure:"host_rps"`
}

// RetryConfig configures retries for transient collaborator failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the embedding provider circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MonitoringConfig configures post-run alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// SourceConfig describes one polled news source.
type SourceConfig struct {
	ID            string `yaml:"id" mapstructure:"id"`
	Type          string `yaml:"type" mapstructure:"type"`
	URL           string `yaml:"url" mapstructure:"url"`
	ItemSelector  string `yaml:"item_selector" mapstructure:"item_selector"`
	TitleSelector string `yaml:"title_selector" mapstructure:"title_selector"`
	LinkSelector  string `yaml:"link_selector" mapstructure:"link_selector"`
	BodySelector  string `yaml:"body_selector" mapstructure:"body_selector"`
	DateSelector  string `yaml:"date_selector" mapstructure:"date_selector"`
	DateLayout    string `yaml:"date_layout" mapstructure:"date_layout"`
}

type sourcesFile struct {
	Sources []SourceConfig `yaml:"sources"`
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("NEWSWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "newswire.db")
	v.SetDefault("store.similarity_window", 5000)
	v.SetDefault("store.retention_days", 0)
	v.SetDefault("novelty.threshold", 0.90)
	v.SetDefault("fingerprint.excerpt_chars", 1000)
	v.SetDefault("fingerprint.embedding_policy", "fail_closed")
	v.SetDefault("embedding.provider", "openai")
	// Secrets have empty defaults so AutomaticEnv can see them on Unmarshal.
	v.SetDefault("openai.key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("jina.key", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("sources_file", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("jina.base_url", "https://api.jina.ai")
	v.SetDefault("jina.model", "jina-embeddings-v3")
	v.SetDefault("jina.rate_limit_rps", 2.0)
	v.SetDefault("summarizer.provider", "openai")
	v.SetDefault("summarizer.max_tokens", 600)
	v.SetDefault("summarizer.temperature", 0.7)
	v.SetDefault("summarizer.min_body_chars", 0)
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("scheduler.freshness_window", 60*time.Minute)
	v.SetDefault("scheduler.per_source_cap", 2)
	v.SetDefault("scheduler.total_cap", 10)
	v.SetDefault("scheduler.unknown_freshness", "keep")
	v.SetDefault("pipeline.publish_delay", 5*time.Second)
	v.SetDefault("pipeline.run_timeout", 10*time.Minute)
	v.SetDefault("pipeline.commit_timeout", 10*time.Second)
	v.SetDefault("poller.concurrency", 4)
	v.SetDefault("poller.source_timeout", 30*time.Second)
	v.SetDefault("poller.user_agent", "newswire/1.0")
	v.SetDefault("poller.host_rps", 1.0)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if cfg.SourcesFile != "" {
		extra, err := LoadSources(cfg.SourcesFile)
		if err != nil {
			return nil, err
		}
		cfg.Sources = append(cfg.Sources, extra...)
	}

	return &cfg, nil
}

// LoadSources reads a YAML file with a top-level "sources" list.
func LoadSources(path string) ([]SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read sources file %s", path)
	}
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "config: parse sources file %s", path)
	}
	return f.Sources, nil
}

// Validate checks settings that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Novelty.Threshold <= 0 || c.Novelty.Threshold > 1 {
		return eris.Errorf("config: novelty.threshold must be in (0, 1], got %v", c.Novelty.Threshold)
	}
	switch c.Fingerprint.EmbeddingPolicy {
	case "fail_open", "fail_closed":
	default:
		return eris.Errorf("config: unknown fingerprint.embedding_policy %q", c.Fingerprint.EmbeddingPolicy)
	}
	switch c.Scheduler.UnknownFreshness {
	case "keep", "drop":
	default:
		return eris.Errorf("config: unknown scheduler.unknown_freshness %q", c.Scheduler.UnknownFreshness)
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.ID == "" {
			return eris.New("config: source with empty id")
		}
		if seen[s.ID] {
			return eris.Errorf("config: duplicate source id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
