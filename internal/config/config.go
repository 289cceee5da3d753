package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/booksage/bookbuy-agent/internal/core"
)

// Config holds all environmentally dependent settings for the agent.
type Config struct {
	Env      string `env:"BB_ENV" envDefault:"development"`
	HTTPAddr string `env:"BB_HTTP_ADDR" envDefault:":8080"`

	TeamName    string   `env:"BB_TEAM_NAME" envDefault:"BookBuy AI"`
	TeamBatch   string   `env:"BB_TEAM_BATCH"`
	TeamMembers []string `env:"BB_TEAM_MEMBERS" envSeparator:","`

	// Retailer
	RetailerAPIURL   string        `env:"BB_RETAILER_API_URL" envDefault:"http://127.0.0.1:8000"`
	Shops            []string      `env:"BB_SHOPS" envSeparator:"," envDefault:"fiction_boutique,knowledge_store,mega_market1,mega_market2"`
	SearchTimeout    time.Duration `env:"BB_SEARCH_TIMEOUT" envDefault:"10s"`
	BuyTimeout       time.Duration `env:"BB_BUY_TIMEOUT" envDefault:"15s"`
	SearchRetries    int           `env:"BB_SEARCH_RETRIES" envDefault:"2"`
	BreakerThreshold int           `env:"BB_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerCooldown  time.Duration `env:"BB_BREAKER_COOLDOWN" envDefault:"30s"`
	LogHTTPBodies    bool          `env:"BB_LOG_HTTP_BODIES" envDefault:"false"`

	// Orchestration
	MaxAttempts int           `env:"BB_MAX_ATTEMPTS" envDefault:"3"`
	MaxPrice    float64       `env:"BB_MAX_PRICE" envDefault:"0"`
	TopKBooks   int           `env:"BB_TOP_K_BOOKS" envDefault:"7"`
	TopKReviews int           `env:"BB_TOP_K_REVIEWS" envDefault:"5"`
	RunTTL      time.Duration `env:"BB_RUN_TTL" envDefault:"24h"`

	// LLM
	GeminiAPIKey        string        `env:"BB_GEMINI_API_KEY"`
	GeminiModel         string        `env:"BB_GEMINI_MODEL" envDefault:"gemini-1.5-pro"`
	GeminiEmbedModel    string        `env:"BB_GEMINI_EMBED_MODEL" envDefault:"text-embedding-004"`
	OllamaHost          string        `env:"BB_OLLAMA_HOST" envDefault:"http://localhost:11434"`
	OllamaLLMModel      string        `env:"BB_OLLAMA_LLM_MODEL" envDefault:"llama3"`
	OllamaEmbedModel    string        `env:"BB_OLLAMA_EMBED_MODEL" envDefault:"nomic-embed-text"`
	UseLocalOnlyLLM     bool          `env:"BB_USE_LOCAL_ONLY_LLM" envDefault:"false"`
	PullModelsOnStartup bool          `env:"BB_PULL_MODELS" envDefault:"false"`
	EmbedProvider       string        `env:"BB_EMBED_PROVIDER" envDefault:"ollama"`
	EmbedCacheSize      int           `env:"BB_EMBED_CACHE_SIZE" envDefault:"512"`
	LLMTimeout          time.Duration `env:"BB_LLM_TIMEOUT" envDefault:"60s"`

	// Qdrant Vector DB
	QdrantHost       string `env:"BB_QDRANT_HOST" envDefault:"localhost"`
	QdrantPort       int    `env:"BB_QDRANT_PORT" envDefault:"6334"`
	QdrantCollection string `env:"BB_QDRANT_COLLECTION" envDefault:"books"`
	QdrantVectorSize uint64 `env:"BB_QDRANT_VECTOR_SIZE" envDefault:"768"`

	// Reviews (sqlite via bun)
	ReviewsDSN string `env:"BB_REVIEWS_DSN" envDefault:"file:bookbuy.db?cache=shared"`

	// Run store; empty disables persistence.
	RedisURL string `env:"BB_REDIS_URL"`
}

// Environment returns the parsed deployment environment.
func (c *Config) Environment() core.Environment {
	return core.ParseEnvironment(c.Env)
}

// Validate ensures that all required configuration is present and valid.
func (c *Config) Validate() error {
	if !c.UseLocalOnlyLLM && c.GeminiAPIKey == "" {
		return fmt.Errorf("BB_GEMINI_API_KEY is required when BB_USE_LOCAL_ONLY_LLM is false")
	}
	switch c.EmbedProvider {
	case "ollama":
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("BB_GEMINI_API_KEY is required when BB_EMBED_PROVIDER is gemini")
		}
	default:
		return fmt.Errorf("BB_EMBED_PROVIDER must be ollama or gemini, got %q", c.EmbedProvider)
	}
	if c.RetailerAPIURL == "" {
		return fmt.Errorf("BB_RETAILER_API_URL is required")
	}
	if len(c.Shops) == 0 {
		return fmt.Errorf("BB_SHOPS must list at least one shop")
	}
	seen := make(map[string]struct{}, len(c.Shops))
	for _, shop := range c.Shops {
		if shop == "" {
			return fmt.Errorf("BB_SHOPS contains an empty shop id")
		}
		if _, dup := seen[shop]; dup {
			return fmt.Errorf("BB_SHOPS contains duplicate shop %q", shop)
		}
		seen[shop] = struct{}{}
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("BB_MAX_ATTEMPTS must be at least 1")
	}
	if c.MaxPrice < 0 {
		return fmt.Errorf("BB_MAX_PRICE cannot be negative")
	}
	if c.SearchTimeout <= 0 || c.BuyTimeout <= 0 || c.LLMTimeout <= 0 {
		return fmt.Errorf("BB_SEARCH_TIMEOUT, BB_BUY_TIMEOUT and BB_LLM_TIMEOUT must be positive")
	}
	if c.SearchRetries < 0 {
		return fmt.Errorf("BB_SEARCH_RETRIES cannot be negative")
	}
	if c.TopKBooks < 1 || c.TopKReviews < 1 {
		return fmt.Errorf("BB_TOP_K_BOOKS and BB_TOP_K_REVIEWS must be at least 1")
	}
	if c.BreakerThreshold < 1 {
		return fmt.Errorf("BB_BREAKER_THRESHOLD must be at least 1")
	}
	return nil
}

// Load reads settings from an optional .env file and the environment, then validates them.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for i, shop := range cfg.Shops {
		cfg.Shops[i] = strings.TrimSpace(shop)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
