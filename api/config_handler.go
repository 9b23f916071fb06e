// Package api — configuration endpoints.
package api

import (
	"net/http"

	"github.com/seenimoa/riskfolio/internal/config"
)

// ConfigResponse is the redacted running configuration returned by
// GET /api/v1/config. Credentials are reported by /config/keys only.
type ConfigResponse struct {
	LLMPrimary        string   `json:"llm_primary"`
	LLMModel          string   `json:"llm_model"`
	ClovaModel        string   `json:"clova_model"`
	EmbeddingProvider string   `json:"embedding_provider"`
	EmbeddingModel    string   `json:"embedding_model"`
	ChunkSize         int      `json:"chunk_size"`
	ChunkOverlap      int      `json:"chunk_overlap"`
	TopK              int      `json:"top_k"`
	MinSimilarity     float32  `json:"min_similarity"`
	Persistent        bool     `json:"persistent"`
	CORSOrigins       []string `json:"cors_origins"`
}

func redactedConfig(cfg *config.Config) ConfigResponse {
	return ConfigResponse{
		LLMPrimary:        cfg.LLM.Primary,
		LLMModel:          cfg.LLM.Model,
		ClovaModel:        cfg.LLM.Clova.Model,
		EmbeddingProvider: cfg.Embedding.Provider,
		EmbeddingModel:    cfg.Embedding.Model,
		ChunkSize:         cfg.Ingest.ChunkSize,
		ChunkOverlap:      cfg.Ingest.ChunkOverlap,
		TopK:              cfg.Retrieval.TopK,
		MinSimilarity:     cfg.Retrieval.MinSimilarity,
		Persistent:        cfg.Store.PersistDir != "",
		CORSOrigins:       cfg.API.CORSOrigins,
	}
}

// handleGetConfig returns the running configuration without secrets.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    redactedConfig(s.cfg),
	})
}

// handleGetConfigKeys returns the status of all sensitive API keys.
func (s *Server) handleGetConfigKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    config.CheckAPIKeys(s.cfg),
	})
}
