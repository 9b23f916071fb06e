// Package api provides the HTTP API server for riskfolio.
//
// It exposes endpoints for questionnaire scoring, source ingestion,
// recommendations, store status, Prometheus metrics and WebSocket streaming.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seenimoa/riskfolio/internal/advisor"
	"github.com/seenimoa/riskfolio/internal/config"
	"github.com/seenimoa/riskfolio/internal/ingest"
	"github.com/seenimoa/riskfolio/internal/llm"
	"github.com/seenimoa/riskfolio/internal/logging"
	"github.com/seenimoa/riskfolio/internal/metrics"
	"github.com/seenimoa/riskfolio/internal/profile"
	"github.com/seenimoa/riskfolio/internal/rag"
)

// Deps are the services the server exposes.
type Deps struct {
	Advisor  *advisor.Advisor
	Store    *rag.Store
	Pipeline *ingest.Pipeline
	Metrics  *metrics.Metrics // nil disables /metrics
	Logger   *slog.Logger
	UI       fs.FS // nil disables the web UI
	Version  string
}

// Server is the HTTP API server.
type Server struct {
	router   chi.Router
	cfg      *config.Config
	advisor  *advisor.Advisor
	store    *rag.Store
	pipeline *ingest.Pipeline
	metrics  *metrics.Metrics
	logger   *slog.Logger
	wsHub    *WSHub
	ui       fs.FS
	version  string
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config, deps Deps) *Server {
	srv := &Server{
		cfg:      cfg,
		advisor:  deps.Advisor,
		store:    deps.Store,
		pipeline: deps.Pipeline,
		metrics:  deps.Metrics,
		logger:   logging.OrDiscard(deps.Logger).With("component", "api"),
		wsHub:    NewWSHub(),
		ui:       deps.UI,
		version:  deps.Version,
	}
	if !cfg.API.ServeUI {
		srv.ui = nil
	}
	if srv.version == "" {
		srv.version = "dev"
	}
	srv.router = srv.buildRouter()
	return srv
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *WSHub {
	return s.wsHub
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // ingestion of large uploads
		IdleTimeout:  60 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.wsHub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)

	// CORS
	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil && s.cfg.Metrics.Enabled {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, s.metrics.Handler())
	}

	// WebSocket streams are long lived and stay outside the timeout group.
	r.Get("/ws/recommend", s.handleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Minute))

		// Unversioned paths kept for existing UI clients; plain JSON bodies.
		r.Post("/profile", s.handleProfile(false))
		r.Post("/ingest-sources", s.handleIngest(false))
		r.Post("/recommend", s.handleRecommend(false))

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/health", s.handleHealth)

			r.Get("/questionnaire", s.handleQuestionnaire)
			r.Post("/profile", s.handleProfile(true))

			r.Post("/ingest-sources", s.handleIngest(true))
			r.Get("/store", s.handleStore)

			r.Post("/recommend", s.handleRecommend(true))

			r.Get("/config", s.handleGetConfig)
			r.Get("/config/keys", s.handleGetConfigKeys)
		})
	})

	if s.ui != nil {
		s.mountUI(r, s.ui)
	}
	return r
}

// mountUI serves the embedded questionnaire page. Unknown paths fall back
// to index.html.
func (s *Server) mountUI(r chi.Router, distFS fs.FS) {
	fileServer := http.FileServer(http.FS(distFS))

	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		rPath := strings.TrimPrefix(r.URL.Path, "/")
		if rPath == "" {
			rPath = "index.html"
		}

		f, err := distFS.Open(rPath)
		if err != nil {
			serveIndexHTML(w, distFS)
			return
		}
		f.Close()

		if rPath == "index.html" || strings.HasSuffix(rPath, ".html") {
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		}
		fileServer.ServeHTTP(w, r)
	})
}

func serveIndexHTML(w http.ResponseWriter, distFS fs.FS) {
	data, err := fs.ReadFile(distFS, "index.html")
	if err != nil {
		http.Error(w, "web UI not available", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Field   string      `json:"field,omitempty"` // offending request field, for 400s
}

// ProfileResponse is the /api/v1/profile result.
type ProfileResponse struct {
	profile.Profile
	RiskLabel    string `json:"risk_label"`
	HorizonLabel string `json:"horizon_label"`
	Score        int    `json:"score"`
}

// QuestionnaireResponse is the /api/v1/questionnaire result.
type QuestionnaireResponse struct {
	Questions []profile.Question `json:"questions"`
	MinScore  int                `json:"min_score"`
	MaxScore  int                `json:"max_score"`
}

// IngestResponse is the /ingest-sources result.
type IngestResponse struct {
	Status string `json:"status"`
	ingest.Summary
	Mode    string      `json:"mode"`
	Version rag.Version `json:"version"`
}

// StoreResponse is the /api/v1/store result.
type StoreResponse struct {
	Version rag.Version `json:"version"`
	Ready   bool        `json:"ready"`
}

// ============================================================
// Handlers
// ============================================================

const maxJSONBody = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"status":     "ok",
		"version":    s.version,
		"ws_clients": s.wsHub.ClientCount(),
	}
	if s.store != nil {
		v := s.store.Version()
		data["store_generation"] = v.Generation
		data["documents"] = v.Documents
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func (s *Server) handleQuestionnaire(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: QuestionnaireResponse{
			Questions: profile.Questionnaire(),
			MinScore:  profile.MinScore,
			MaxScore:  profile.MaxScore,
		},
	})
}

// handleProfile scores questionnaire answers. The legacy path returns the
// bare profile; /api/v1 wraps an annotated result in the envelope.
func (s *Server) handleProfile(enveloped bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var answers profile.Answers
		if err := decodeJSON(w, r, &answers); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) && typeErr.Field != "" {
				s.metrics.InvalidAnswer(typeErr.Field)
			}
			s.writeDecodeError(w, err)
			return
		}

		p, err := profile.Compute(answers)
		if err != nil {
			var invalid *profile.InvalidAnswerError
			if errors.As(err, &invalid) {
				s.metrics.InvalidAnswer(invalid.Question)
			}
			s.writeDomainError(w, err)
			return
		}
		s.metrics.ProfileScored(string(p.RiskLevel))

		if !enveloped {
			writeJSON(w, http.StatusOK, p)
			return
		}
		total, _ := profile.Score(answers)
		resp := ProfileResponse{Profile: p, RiskLabel: p.RiskLevel.Korean(), Score: total}
		if bucket, ok := profile.Horizon(p.InvestmentHorizon); ok {
			resp.HorizonLabel = bucket.Label
		}
		writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
	}
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	v := s.store.Version()
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    StoreResponse{Version: v, Ready: !v.IsZero()},
	})
}

// handleRecommend answers a question for a profile. The legacy path returns
// the bare recommendation.
func (s *Server) handleRecommend(enveloped bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req advisor.Request
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeDecodeError(w, err)
			return
		}

		timeout := time.Duration(s.cfg.LLM.TimeoutSec) * time.Second
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		rec, err := s.advisor.Recommend(ctx, req)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		if !enveloped {
			writeJSON(w, http.StatusOK, rec)
			return
		}
		writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: rec})
	}
}

// ============================================================
// Helpers
// ============================================================

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	return json.NewDecoder(r.Body).Decode(v)
}

// writeDecodeError reports a malformed body. A value of the wrong type is
// reported against its field.
func (s *Server) writeDecodeError(w http.ResponseWriter, err error) {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		writeFieldError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid value for %s: expected %s", typeErr.Field, typeErr.Type), typeErr.Field)
		return
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
}

// writeDomainError maps service errors to status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status, field := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeFieldError(w, status, err.Error(), field)
}

func errorStatus(err error) (int, string) {
	var answerErr *profile.InvalidAnswerError
	var reqErr *advisor.RequestError
	switch {
	case errors.As(err, &answerErr):
		return http.StatusBadRequest, answerErr.Question
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, reqErr.Field
	case errors.Is(err, ingest.ErrNoSources):
		return http.StatusBadRequest, "sources"
	case errors.Is(err, ingest.ErrNothingLoaded):
		return http.StatusUnprocessableEntity, "sources"
	case errors.Is(err, advisor.ErrNoDocuments):
		return http.StatusConflict, ""
	case errors.Is(err, llm.ErrNoProviders), errors.Is(err, rag.ErrNoEmbeddingKey):
		return http.StatusServiceUnavailable, ""
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ""
	default:
		return http.StatusInternalServerError, ""
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeFieldError(w, status, msg, "")
}

func writeFieldError(w http.ResponseWriter, status int, msg, field string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
		Field:   field,
	})
}
