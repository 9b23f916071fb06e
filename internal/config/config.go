// Package config handles configuration loading for riskfolio.
// It supports YAML config files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"       yaml:"llm"`
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`
	Store     StoreConfig     `mapstructure:"store"     yaml:"store"`
	Ingest    IngestConfig    `mapstructure:"ingest"    yaml:"ingest"`
	Retrieval RetrievalConfig `mapstructure:"retrieval" yaml:"retrieval"`
	API       APIConfig       `mapstructure:"api"       yaml:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   yaml:"metrics"`
}

// LLMConfig holds chat model provider configuration.
type LLMConfig struct {
	Primary     string      `mapstructure:"primary"     yaml:"primary"` // "openai", "clova", "ollama"
	OpenAIKey   string      `mapstructure:"openai_key"  yaml:"openai_key"`
	OllamaURL   string      `mapstructure:"ollama_url"  yaml:"ollama_url"`
	Clova       ClovaConfig `mapstructure:"clova"       yaml:"clova"`
	Model       string      `mapstructure:"model"       yaml:"model"`
	Temperature float64     `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int         `mapstructure:"max_tokens"  yaml:"max_tokens"`
	TimeoutSec  int         `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// ClovaConfig holds HyperCLOVA (NCP CLOVA Studio) credentials.
type ClovaConfig struct {
	APIKey     string `mapstructure:"api_key"     yaml:"api_key"`
	GatewayKey string `mapstructure:"gateway_key" yaml:"gateway_key"`
	Region     string `mapstructure:"region"      yaml:"region"`
	Model      string `mapstructure:"model"       yaml:"model"`
	BaseURL    string `mapstructure:"base_url"    yaml:"base_url"`
}

// EmbeddingConfig selects the embedding backend for document search.
type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"   yaml:"provider"` // "openai" or "clova"
	Model     string `mapstructure:"model"      yaml:"model"`
	APIKey    string `mapstructure:"api_key"    yaml:"api_key"`
	BaseURL   string `mapstructure:"base_url"   yaml:"base_url"`
	CacheSize int    `mapstructure:"cache_size" yaml:"cache_size"`
	ClovaApp  string `mapstructure:"clova_app"  yaml:"clova_app"` // CLOVA embedding app id
}

// StoreConfig holds document store settings.
type StoreConfig struct {
	Collection string `mapstructure:"collection" yaml:"collection"`
	PersistDir string `mapstructure:"persist_dir" yaml:"persist_dir"` // empty = in-memory
}

// IngestConfig holds source loading and chunking settings.
type IngestConfig struct {
	ChunkSize       int     `mapstructure:"chunk_size"       yaml:"chunk_size"`    // tokens
	ChunkOverlap    int     `mapstructure:"chunk_overlap"    yaml:"chunk_overlap"` // tokens
	MaxUploadMB     int     `mapstructure:"max_upload_mb"    yaml:"max_upload_mb"`
	FetchRPS        float64 `mapstructure:"fetch_rps"        yaml:"fetch_rps"`
	FetchTimeoutSec int     `mapstructure:"fetch_timeout_sec" yaml:"fetch_timeout_sec"`
	Concurrency     int     `mapstructure:"concurrency"      yaml:"concurrency"`
	UserAgent       string  `mapstructure:"user_agent"       yaml:"user_agent"`
}

// RetrievalConfig holds search and answer cache settings.
type RetrievalConfig struct {
	TopK          int     `mapstructure:"top_k"          yaml:"top_k"`
	MinSimilarity float32 `mapstructure:"min_similarity" yaml:"min_similarity"`
	CacheSize     int     `mapstructure:"cache_size"     yaml:"cache_size"`
	CacheTTLSec   int     `mapstructure:"cache_ttl_sec"  yaml:"cache_ttl_sec"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	ServeUI     bool     `mapstructure:"serve_ui"     yaml:"serve_ui"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.riskfolio/config.yaml (home directory)
//  3. /etc/riskfolio/config.yaml (system)
//
// Environment variables override config file values.
// Format: RISKFOLIO_<SECTION>_<KEY>, e.g., RISKFOLIO_LLM_OPENAI_KEY
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".riskfolio"))
	v.AddConfigPath("/etc/riskfolio")
	bindEnv(v)

	// Config file is optional: defaults + env vars still apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return decode(v)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("RISKFOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// LLM defaults
	v.SetDefault("llm.primary", "openai")
	v.SetDefault("llm.ollama_url", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout_sec", 120)
	v.SetDefault("llm.clova.region", "kr-northwest-1")
	v.SetDefault("llm.clova.model", "HCX-003")

	// Embedding defaults
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-large")
	v.SetDefault("embedding.cache_size", 10000)

	// Store defaults
	v.SetDefault("store.collection", "reports")
	v.SetDefault("store.persist_dir", "")

	// Ingest defaults
	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("ingest.chunk_overlap", 200)
	v.SetDefault("ingest.max_upload_mb", 32)
	v.SetDefault("ingest.fetch_rps", 2.0)
	v.SetDefault("ingest.fetch_timeout_sec", 30)
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.user_agent", "riskfolio/1.0 (+https://github.com/seenimoa/riskfolio)")

	// Retrieval defaults
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.min_similarity", 0.0)
	v.SetDefault("retrieval.cache_size", 256)
	v.SetDefault("retrieval.cache_ttl_sec", 600)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"*"})
	v.SetDefault("api.serve_ui", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
// The unprefixed provider variable names are honoured as
// fallbacks.
func overrideFromEnv(cfg *Config) {
	cfg.LLM.OpenAIKey = firstEnv(cfg.LLM.OpenAIKey, "RISKFOLIO_LLM_OPENAI_KEY", "OPENAI_API_KEY")
	cfg.LLM.Clova.APIKey = firstEnv(cfg.LLM.Clova.APIKey, "RISKFOLIO_LLM_CLOVA_API_KEY", "NCP_CLOVASTUDIO_API_KEY")
	cfg.LLM.Clova.GatewayKey = firstEnv(cfg.LLM.Clova.GatewayKey, "RISKFOLIO_LLM_CLOVA_GATEWAY_KEY", "NCP_APIGW_API_KEY")
	if model := os.Getenv("HYPER_CLOVA_MODEL_ID"); model != "" && os.Getenv("RISKFOLIO_LLM_CLOVA_MODEL") == "" {
		cfg.LLM.Clova.Model = model
	}
	cfg.Embedding.APIKey = firstEnv(cfg.Embedding.APIKey, "RISKFOLIO_EMBEDDING_API_KEY")
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.APIKey = cfg.LLM.OpenAIKey
	}
}

// firstEnv returns the first non-empty environment variable among names,
// or current when none is set.
func firstEnv(current string, names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return current
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("config: ingest.chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("config: ingest.chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("config: retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("config: api.port out of range: %d", c.API.Port)
	}
	return nil
}

// Addr returns the host:port the API server listens on.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
