package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var secretEnvVars = []string{
	"RISKFOLIO_LLM_OPENAI_KEY", "OPENAI_API_KEY",
	"RISKFOLIO_LLM_CLOVA_API_KEY", "NCP_CLOVASTUDIO_API_KEY",
	"RISKFOLIO_LLM_CLOVA_GATEWAY_KEY", "NCP_APIGW_API_KEY",
	"RISKFOLIO_LLM_CLOVA_MODEL", "HYPER_CLOVA_MODEL_ID",
	"RISKFOLIO_EMBEDDING_API_KEY",
}

// clearSecrets blanks every credential variable for the duration of the test.
func clearSecrets(t *testing.T) {
	t.Helper()
	for _, e := range secretEnvVars {
		t.Setenv(e, "")
	}
}

// ── Load / Defaults ──

func TestLoadReturnsDefaults(t *testing.T) {
	clearSecrets(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// LLM defaults
	if cfg.LLM.Primary != "openai" {
		t.Errorf("LLM.Primary: got %q, want %q", cfg.LLM.Primary, "openai")
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("LLM.Model: got %q, want %q", cfg.LLM.Model, "gpt-4o-mini")
	}
	if cfg.LLM.MaxTokens != 1024 {
		t.Errorf("LLM.MaxTokens: got %d, want 1024", cfg.LLM.MaxTokens)
	}
	if cfg.LLM.Clova.Region != "kr-northwest-1" {
		t.Errorf("LLM.Clova.Region: got %q", cfg.LLM.Clova.Region)
	}

	// Embedding / store defaults
	if cfg.Embedding.Model != "text-embedding-3-large" {
		t.Errorf("Embedding.Model: got %q", cfg.Embedding.Model)
	}
	if cfg.Embedding.CacheSize != 10000 {
		t.Errorf("Embedding.CacheSize: got %d, want 10000", cfg.Embedding.CacheSize)
	}
	if cfg.Store.Collection != "reports" {
		t.Errorf("Store.Collection: got %q, want %q", cfg.Store.Collection, "reports")
	}
	if cfg.Store.PersistDir != "" {
		t.Errorf("Store.PersistDir: got %q, want in-memory", cfg.Store.PersistDir)
	}

	// Ingest defaults
	if cfg.Ingest.ChunkSize != 1000 || cfg.Ingest.ChunkOverlap != 200 {
		t.Errorf("Ingest chunking: got %d/%d, want 1000/200", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}
	if cfg.Ingest.MaxUploadMB != 32 {
		t.Errorf("Ingest.MaxUploadMB: got %d, want 32", cfg.Ingest.MaxUploadMB)
	}
	if cfg.Ingest.FetchRPS != 2.0 {
		t.Errorf("Ingest.FetchRPS: got %f, want 2.0", cfg.Ingest.FetchRPS)
	}

	// Retrieval defaults
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("Retrieval.TopK: got %d, want 5", cfg.Retrieval.TopK)
	}

	// API defaults
	if cfg.API.Host != "0.0.0.0" {
		t.Errorf("API.Host: got %q, want %q", cfg.API.Host, "0.0.0.0")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port: got %d, want 8080", cfg.API.Port)
	}
	if !cfg.API.ServeUI {
		t.Error("API.ServeUI should be true by default")
	}

	// Logging / metrics defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format: got %q, want %q", cfg.Logging.Format, "text")
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics: got %+v", cfg.Metrics)
	}
}

// ── LoadFromFile ──

func TestLoadFromFile(t *testing.T) {
	clearSecrets(t)

	cfgPath := filepath.Join(t.TempDir(), "test_config.yaml")
	content := []byte(`
llm:
  primary: "clova"
  temperature: 0.5
  clova:
    api_key: "clova-key-1234567890"
    gateway_key: "gw-key-1234567890"
    model: "HCX-DASH-001"
ingest:
  chunk_size: 500
  chunk_overlap: 50
retrieval:
  top_k: 8
api:
  port: 9090
logging:
  level: "debug"
  format: "json"
`)
	if err := os.WriteFile(cfgPath, content, 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if cfg.LLM.Primary != "clova" {
		t.Errorf("LLM.Primary: got %q, want %q", cfg.LLM.Primary, "clova")
	}
	if cfg.LLM.Temperature != 0.5 {
		t.Errorf("LLM.Temperature: got %f, want 0.5", cfg.LLM.Temperature)
	}
	if cfg.LLM.Clova.APIKey != "clova-key-1234567890" {
		t.Errorf("Clova.APIKey: got %q", cfg.LLM.Clova.APIKey)
	}
	if cfg.LLM.Clova.Model != "HCX-DASH-001" {
		t.Errorf("Clova.Model: got %q", cfg.LLM.Clova.Model)
	}
	if cfg.LLM.Clova.Region != "kr-northwest-1" {
		t.Errorf("Clova.Region should keep its default, got %q", cfg.LLM.Clova.Region)
	}
	if cfg.Ingest.ChunkSize != 500 || cfg.Ingest.ChunkOverlap != 50 {
		t.Errorf("Ingest chunking: got %d/%d", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}
	if cfg.Retrieval.TopK != 8 {
		t.Errorf("Retrieval.TopK: got %d, want 8", cfg.Retrieval.TopK)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port: got %d, want 9090", cfg.API.Port)
	}
	if cfg.API.Addr() != "0.0.0.0:9090" {
		t.Errorf("API.Addr(): got %q", cfg.API.Addr())
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging: got %+v", cfg.Logging)
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("LoadFromFile() with nonexistent path should return error")
	}
}

func TestLoadFromFileRejectsInvalidChunking(t *testing.T) {
	clearSecrets(t)

	cfgPath := filepath.Join(t.TempDir(), "bad.yaml")
	content := []byte("ingest:\n  chunk_size: 100\n  chunk_overlap: 100\n")
	if err := os.WriteFile(cfgPath, content, 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	_, err := LoadFromFile(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "chunk_overlap") {
		t.Fatalf("expected chunk_overlap error, got %v", err)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	clearSecrets(t)
	t.Setenv("RISKFOLIO_API_PORT", "7070")
	t.Setenv("RISKFOLIO_RETRIEVAL_TOP_K", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.API.Port != 7070 {
		t.Errorf("API.Port: got %d, want 7070", cfg.API.Port)
	}
	if cfg.Retrieval.TopK != 3 {
		t.Errorf("Retrieval.TopK: got %d, want 3", cfg.Retrieval.TopK)
	}
}

// ── Validate ──

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Ingest:    IngestConfig{ChunkSize: 1000, ChunkOverlap: 200},
			Retrieval: RetrievalConfig{TopK: 5},
			API:       APIConfig{Port: 8080},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero chunk size", func(c *Config) { c.Ingest.ChunkSize = 0 }, "chunk_size"},
		{"negative overlap", func(c *Config) { c.Ingest.ChunkOverlap = -1 }, "chunk_overlap"},
		{"overlap too large", func(c *Config) { c.Ingest.ChunkOverlap = 1000 }, "chunk_overlap"},
		{"zero top k", func(c *Config) { c.Retrieval.TopK = 0 }, "top_k"},
		{"bad port", func(c *Config) { c.API.Port = 70000 }, "api.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

// ── overrideFromEnv ──

func TestOverrideFromEnv(t *testing.T) {
	clearSecrets(t)
	t.Setenv("RISKFOLIO_LLM_OPENAI_KEY", "sk-test-openai-key-123456")
	t.Setenv("RISKFOLIO_LLM_CLOVA_API_KEY", "clova-key")
	t.Setenv("RISKFOLIO_LLM_CLOVA_GATEWAY_KEY", "gateway-key")

	cfg := &Config{Embedding: EmbeddingConfig{Provider: "openai"}}
	overrideFromEnv(cfg)

	if cfg.LLM.OpenAIKey != "sk-test-openai-key-123456" {
		t.Errorf("OpenAIKey: got %q", cfg.LLM.OpenAIKey)
	}
	if cfg.LLM.Clova.APIKey != "clova-key" {
		t.Errorf("Clova.APIKey: got %q", cfg.LLM.Clova.APIKey)
	}
	if cfg.LLM.Clova.GatewayKey != "gateway-key" {
		t.Errorf("Clova.GatewayKey: got %q", cfg.LLM.Clova.GatewayKey)
	}
	// OpenAI embeddings reuse the chat key when no dedicated key is set.
	if cfg.Embedding.APIKey != "sk-test-openai-key-123456" {
		t.Errorf("Embedding.APIKey: got %q", cfg.Embedding.APIKey)
	}
}

func TestOverrideFromEnvLegacyNames(t *testing.T) {
	clearSecrets(t)
	t.Setenv("OPENAI_API_KEY", "sk-legacy")
	t.Setenv("NCP_CLOVASTUDIO_API_KEY", "ncp-studio")
	t.Setenv("NCP_APIGW_API_KEY", "ncp-gateway")
	t.Setenv("HYPER_CLOVA_MODEL_ID", "hyperclova-x")

	cfg := &Config{}
	overrideFromEnv(cfg)

	if cfg.LLM.OpenAIKey != "sk-legacy" {
		t.Errorf("OpenAIKey: got %q", cfg.LLM.OpenAIKey)
	}
	if cfg.LLM.Clova.APIKey != "ncp-studio" || cfg.LLM.Clova.GatewayKey != "ncp-gateway" {
		t.Errorf("Clova keys: got %+v", cfg.LLM.Clova)
	}
	if cfg.LLM.Clova.Model != "hyperclova-x" {
		t.Errorf("Clova.Model: got %q", cfg.LLM.Clova.Model)
	}
}

func TestOverrideFromEnvNoEnvSet(t *testing.T) {
	clearSecrets(t)

	cfg := &Config{
		LLM: LLMConfig{OpenAIKey: "from-config"},
	}
	overrideFromEnv(cfg)

	// Should retain the original value when env is not set
	if cfg.LLM.OpenAIKey != "from-config" {
		t.Errorf("OpenAIKey should stay as 'from-config' when env is unset, got %q", cfg.LLM.OpenAIKey)
	}
}

// ── maskKey ──

func TestMaskKey(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "***"},
		{"abcd", "***"},
		{"12345678", "***"},
		{"123456789", "123...789"},
		{"sk-abcdef1234567890xyz", "sk-...xyz"},
	}
	for _, tc := range tests {
		got := maskKey(tc.input)
		if got != tc.want {
			t.Errorf("maskKey(%q): got %q, want %q", tc.input, got, tc.want)
		}
	}
}

// ── CheckAPIKeys / checkKey ──

func TestCheckAPIKeysAllEmpty(t *testing.T) {
	clearSecrets(t)

	statuses := CheckAPIKeys(&Config{})
	if len(statuses) != 4 {
		t.Fatalf("CheckAPIKeys: got %d statuses, want 4", len(statuses))
	}
	for _, s := range statuses {
		if s.IsSet {
			t.Errorf("Key %q should not be set", s.Name)
		}
		if s.Source != KeySourceNone {
			t.Errorf("Key %q source: got %q, want %q", s.Name, s.Source, KeySourceNone)
		}
	}
}

func TestCheckAPIKeysSource(t *testing.T) {
	clearSecrets(t)

	cfg := &Config{LLM: LLMConfig{OpenAIKey: "sk-test-very-long-key-value"}}
	s := CheckAPIKeys(cfg)[0]
	if s.Source != KeySourceConfig {
		t.Errorf("Source: got %q, want %q", s.Source, KeySourceConfig)
	}
	if s.Masked != "sk-...lue" {
		t.Errorf("Masked: got %q, want %q", s.Masked, "sk-...lue")
	}

	t.Setenv("OPENAI_API_KEY", "sk-test-very-long-key-value")
	s = CheckAPIKeys(cfg)[0]
	if s.Source != KeySourceEnv {
		t.Errorf("Source with legacy env: got %q, want %q", s.Source, KeySourceEnv)
	}
}

// ── homeDir ──

func TestHomeDirReturnsNonEmpty(t *testing.T) {
	if homeDir() == "" {
		t.Error("homeDir() should not return empty string")
	}
}
