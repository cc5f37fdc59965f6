package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	OpenAI      OpenAIConfig      `yaml:"openai" mapstructure:"openai"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	LLM         LLMConfig         `yaml:"llm" mapstructure:"llm"`
	Embedding   EmbeddingConfig   `yaml:"embedding" mapstructure:"embedding"`
	Eligibility EligibilityConfig `yaml:"eligibility" mapstructure:"eligibility"`
	Explain     ExplainConfig     `yaml:"explain" mapstructure:"explain"`
	Retrieval   RetrievalConfig   `yaml:"retrieval" mapstructure:"retrieval"`
	Responder   ResponderConfig   `yaml:"responder" mapstructure:"responder"`
	Usage       UsageConfig       `yaml:"usage" mapstructure:"usage"`
	Pricing     PricingConfig     `yaml:"pricing" mapstructure:"pricing"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
	FTSLanguage string `yaml:"fts_language" mapstructure:"fts_language"`
}

// OpenAIConfig holds OpenAI credentials and model names.
type OpenAIConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	EmbeddingModel string `yaml:"embedding_model" mapstructure:"embedding_model"`
	ChatModel      string `yaml:"chat_model" mapstructure:"chat_model"`
}

// AnthropicConfig holds Anthropic credentials.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// LLMConfig selects the completion provider. Embeddings always use OpenAI.
type LLMConfig struct {
	Provider     string `yaml:"provider" mapstructure:"provider"`
	EmbeddingDim int    `yaml:"embedding_dim" mapstructure:"embedding_dim"`
}

// EmbeddingConfig configures the company embedding batch job.
type EmbeddingConfig struct {
	BatchSize  int `yaml:"batch_size" mapstructure:"batch_size"`
	CommitSize int `yaml:"commit_size" mapstructure:"commit_size"`
	PageSize   int `yaml:"page_size" mapstructure:"page_size"`
	MaxChars   int `yaml:"max_chars" mapstructure:"max_chars"`
}

// EligibilityConfig configures incentive ingestion.
type EligibilityConfig struct {
	PaceMs   int `yaml:"pace_ms" mapstructure:"pace_ms"`
	MaxChars int `yaml:"max_chars" mapstructure:"max_chars"`
}

// ExplainConfig configures the match explainer.
type ExplainConfig struct {
	TopK      int `yaml:"top_k" mapstructure:"top_k"`
	MaxText   int `yaml:"max_text" mapstructure:"max_text"`
	Retries   int `yaml:"retries" mapstructure:"retries"`
	BackoffMs int `yaml:"backoff_ms" mapstructure:"backoff_ms"`
	PaceMs    int `yaml:"pace_ms" mapstructure:"pace_ms"`
}

// RetrievalConfig configures the query cascade.
type RetrievalConfig struct {
	DefaultLimit    int `yaml:"default_limit" mapstructure:"default_limit"`
	MinMatch        int `yaml:"min_match" mapstructure:"min_match"`
	ContextMaxChars int `yaml:"context_max_chars" mapstructure:"context_max_chars"`
}

// ResponderConfig holds sampling options for streamed answers.
type ResponderConfig struct {
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// UsageConfig selects where model usage rows are appended.
type UsageConfig struct {
	Sink string `yaml:"sink" mapstructure:"sink"`
	Path string `yaml:"path" mapstructure:"path"`
}

// PricingConfig holds per-model token pricing.
type PricingConfig struct {
	Models map[string]ModelPricing `yaml:"models" mapstructure:"models"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// ServerConfig configures the query server.
type ServerConfig struct {
	Port        int    `yaml:"port" mapstructure:"port"`
	FrontendURL string `yaml:"frontend_url" mapstructure:"frontend_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INCENTIVES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional names used by .env files and hosting platforms.
	_ = v.BindEnv("store.database_url", "INCENTIVES_STORE_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("openai.key", "INCENTIVES_OPENAI_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("anthropic.key", "INCENTIVES_ANTHROPIC_KEY", "ANTHROPIC_API_KEY")

	// Defaults
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("store.fts_language", "portuguese")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.chat_model", "gpt-4o-mini")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.embedding_dim", 1536)
	v.SetDefault("embedding.batch_size", 100)
	v.SetDefault("embedding.commit_size", 500)
	v.SetDefault("embedding.page_size", 2000)
	v.SetDefault("embedding.max_chars", 2000)
	v.SetDefault("eligibility.pace_ms", 50)
	v.SetDefault("eligibility.max_chars", 2000)
	v.SetDefault("explain.top_k", 5)
	v.SetDefault("explain.max_text", 800)
	v.SetDefault("explain.retries", 5)
	v.SetDefault("explain.backoff_ms", 1500)
	v.SetDefault("explain.pace_ms", 50)
	v.SetDefault("retrieval.default_limit", 5)
	v.SetDefault("retrieval.min_match", 1)
	v.SetDefault("retrieval.context_max_chars", 7000)
	v.SetDefault("responder.temperature", 0.2)
	v.SetDefault("responder.max_tokens", 400)
	v.SetDefault("usage.sink", "csv")
	v.SetDefault("usage.path", "usage_log.csv")
	v.SetDefault("pricing.models", map[string]any{
		"text-embedding-3-small":    map[string]any{"input": 0.02, "output": 0.0},
		"gpt-4o-mini":               map[string]any{"input": 0.15, "output": 0.60},
		"claude-haiku-4-5-20251001": map[string]any{"input": 1.00, "output": 5.00},
	})
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.frontend_url", "http://localhost:5173")
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

	return &cfg, nil
}

// Validate checks the settings a command needs before it touches the store
// or a model provider. mode is the command name.
func (c *Config) Validate(mode string) error {
	var errs []string
	require := func(ok bool, key string) {
		if !ok {
			errs = append(errs, key+" is required")
		}
	}

	switch mode {
	case "migrate", "audit-matches", "run-match":
		require(c.Store.DatabaseURL != "", "store.database_url")
	case "embed-companies", "ingest-incentives":
		require(c.Store.DatabaseURL != "", "store.database_url")
		require(c.OpenAI.Key != "", "openai.key")
	case "explain-matches", "serve":
		require(c.Store.DatabaseURL != "", "store.database_url")
		switch c.LLM.Provider {
		case "openai":
			require(c.OpenAI.Key != "", "openai.key")
		case "anthropic":
			require(c.Anthropic.Key != "", "anthropic.key")
		default:
			errs = append(errs, fmt.Sprintf("llm.provider %q is not supported", c.LLM.Provider))
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Embedding.BatchSize < 1 || (c.Embedding.CommitSize > 0 && c.Embedding.BatchSize > c.Embedding.CommitSize) {
		errs = append(errs, "embedding.batch_size must be between 1 and embedding.commit_size")
	}
	if c.Usage.Sink != "csv" && c.Usage.Sink != "sqlite" {
		errs = append(errs, fmt.Sprintf("usage.sink %q is not supported", c.Usage.Sink))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Redacted returns a copy with credentials masked, for display.
func (c *Config) Redacted() Config {
	out := *c
	out.Store.DatabaseURL = mask(out.Store.DatabaseURL)
	out.OpenAI.Key = mask(out.OpenAI.Key)
	out.Anthropic.Key = mask(out.Anthropic.Key)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
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
