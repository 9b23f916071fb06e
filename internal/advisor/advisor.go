// Package advisor answers investment questions for a scored risk profile by
// retrieving ingested report excerpts and asking a chat model.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/seenimoa/riskfolio/internal/llm"
	"github.com/seenimoa/riskfolio/internal/metrics"
	"github.com/seenimoa/riskfolio/internal/profile"
	"github.com/seenimoa/riskfolio/internal/rag"
)

var (
	// ErrInvalidRequest is matched by every RequestError via errors.Is.
	ErrInvalidRequest = errors.New("advisor: invalid request")
	// ErrNoDocuments is returned before anything has been ingested.
	ErrNoDocuments = errors.New("advisor: no documents ingested, call /ingest-sources first")
)

// RequestError names the request field that failed validation.
type RequestError struct {
	Field  string
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("advisor: invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidRequest) match.
func (e *RequestError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// Outcomes recorded in metrics.
const (
	outcomeOK          = "ok"
	outcomeCached      = "cached"
	outcomeNoDocuments = "no_documents"
	outcomeInvalid     = "invalid"
	outcomeError       = "error"
)

// Chatter is the part of an LLM provider the advisor needs. *llm.Router
// satisfies it.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, opts *llm.ChatOptions) (*llm.Response, error)
	ChatStream(ctx context.Context, messages []llm.Message, opts *llm.ChatOptions) (<-chan llm.StreamChunk, error)
}

// Turn is one prior message of a conversation.
type Turn struct {
	Role    llm.Role `json:"role"`
	Content string   `json:"content"`
}

// Request is a recommendation question.
type Request struct {
	Question string          `json:"q"`
	Profile  profile.Profile `json:"profile"`
	History  []Turn          `json:"history,omitempty"`
}

// Source is a retrieved excerpt cited by a recommendation, in the order it
// was numbered in the prompt.
type Source struct {
	Source     string  `json:"source"`
	Kind       string  `json:"kind,omitempty"`
	Title      string  `json:"title,omitempty"`
	Page       string  `json:"page,omitempty"`
	Similarity float32 `json:"similarity"`
}

// Recommendation is the answer to a Request.
type Recommendation struct {
	Answer       string      `json:"recommendation"`
	Sources      []Source    `json:"sources"`
	StoreVersion rag.Version `json:"version"`
	Model        string      `json:"model,omitempty"`
	Tokens       int         `json:"tokens,omitempty"`
	Cached       bool        `json:"cached,omitempty"`
}

// Stream is a recommendation being generated. Chunks is closed after the
// final chunk.
type Stream struct {
	Chunks       <-chan llm.StreamChunk
	Sources      []Source
	StoreVersion rag.Version
}

// Config tunes the advisor.
type Config struct {
	CacheSize   int           // answers kept; 0 disables the cache
	CacheTTL    time.Duration // default 10m
	MaxHistory  int           // prior turns kept, most recent first (default 10)
	ChatOptions *llm.ChatOptions
}

// Option configures an Advisor.
type Option func(*Advisor)

// WithMetrics records outcomes and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Advisor) { a.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Advisor) { a.logger = l }
}

// Advisor produces recommendations against the current store generation.
type Advisor struct {
	llm       Chatter
	store     *rag.Store
	retriever *rag.Retriever
	cache     *expirable.LRU[string, Recommendation]
	metrics   *metrics.Metrics
	logger    *slog.Logger
	config    Config
}

// New creates an Advisor.
func New(chatter Chatter, store *rag.Store, retriever *rag.Retriever, config Config, opts ...Option) *Advisor {
	if config.CacheTTL <= 0 {
		config.CacheTTL = 10 * time.Minute
	}
	if config.MaxHistory <= 0 {
		config.MaxHistory = 10
	}
	a := &Advisor{
		llm:       chatter,
		store:     store,
		retriever: retriever,
		logger:    slog.Default(),
		config:    config,
	}
	for _, opt := range opts {
		opt(a)
	}
	if config.CacheSize > 0 {
		a.cache = expirable.NewLRU[string, Recommendation](config.CacheSize, nil, config.CacheTTL)
	}
	a.logger = a.logger.With("component", "advisor")
	return a
}

// Recommend answers req against the current store generation.
func (a *Advisor) Recommend(ctx context.Context, req Request) (*Recommendation, error) {
	start := time.Now()
	rec, outcome, err := a.recommend(ctx, req)
	a.metrics.Recommended(outcome, time.Since(start))
	if err != nil && outcome == outcomeError {
		a.logger.Error("recommendation failed", "error", err)
	}
	return rec, err
}

func (a *Advisor) recommend(ctx context.Context, req Request) (*Recommendation, string, error) {
	req, err := a.normalize(req)
	if err != nil {
		return nil, outcomeInvalid, err
	}

	snap := a.store.Snapshot()
	if snap.Count() == 0 {
		return nil, outcomeNoDocuments, ErrNoDocuments
	}

	key := a.cacheKey(snap.Version(), req)
	if key != "" {
		if rec, ok := a.cache.Get(key); ok {
			rec.Cached = true
			return &rec, outcomeCached, nil
		}
	}

	results, err := a.retriever.Search(ctx, snap, req.Question)
	if err != nil {
		if errors.Is(err, rag.ErrEmptyStore) {
			return nil, outcomeNoDocuments, ErrNoDocuments
		}
		return nil, outcomeError, fmt.Errorf("advisor: %w", err)
	}

	msgs := buildMessages(req.Profile, req.Question, rag.FormatContext(results), req.History)
	resp, err := a.llm.Chat(ctx, msgs, a.config.ChatOptions)
	if err != nil {
		return nil, outcomeError, fmt.Errorf("advisor: %w", err)
	}

	rec := Recommendation{
		Answer:       strings.TrimSpace(resp.Content),
		Sources:      sourcesOf(results),
		StoreVersion: snap.Version(),
		Model:        resp.Model,
		Tokens:       resp.Usage.TotalTokens,
	}
	if key != "" {
		a.cache.Add(key, rec)
	}
	a.logger.Info("recommendation answered",
		"risk_level", req.Profile.RiskLevel,
		"sources", len(rec.Sources),
		"generation", rec.StoreVersion.Generation,
		"tokens", rec.Tokens)
	return &rec, outcomeOK, nil
}

// Stream answers req incrementally. Validation, retrieval and the initial
// model call happen before it returns; errors after that arrive on the
// channel.
func (a *Advisor) Stream(ctx context.Context, req Request) (*Stream, error) {
	start := time.Now()
	req, err := a.normalize(req)
	if err != nil {
		a.metrics.Recommended(outcomeInvalid, time.Since(start))
		return nil, err
	}

	snap := a.store.Snapshot()
	if snap.Count() == 0 {
		a.metrics.Recommended(outcomeNoDocuments, time.Since(start))
		return nil, ErrNoDocuments
	}

	results, err := a.retriever.Search(ctx, snap, req.Question)
	if err != nil {
		a.metrics.Recommended(outcomeError, time.Since(start))
		return nil, fmt.Errorf("advisor: %w", err)
	}

	msgs := buildMessages(req.Profile, req.Question, rag.FormatContext(results), req.History)
	upstream, err := a.llm.ChatStream(ctx, msgs, a.config.ChatOptions)
	if err != nil {
		a.metrics.Recommended(outcomeError, time.Since(start))
		return nil, fmt.Errorf("advisor: %w", err)
	}

	sources := sourcesOf(results)
	key := a.cacheKey(snap.Version(), req)
	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		var answer strings.Builder
		outcome := outcomeOK
		defer func() { a.metrics.Recommended(outcome, time.Since(start)) }()

		for chunk := range upstream {
			if chunk.Err != nil {
				outcome = outcomeError
				a.logger.Error("recommendation stream failed", "error", chunk.Err)
			}
			answer.WriteString(chunk.Content)
			select {
			case out <- chunk:
			case <-ctx.Done():
				outcome = outcomeError
				return
			}
		}
		// A cancelled upstream closes without an error chunk; the answer is partial.
		if ctx.Err() != nil {
			outcome = outcomeError
		}
		if key != "" && outcome == outcomeOK {
			a.cache.Add(key, Recommendation{
				Answer:       strings.TrimSpace(answer.String()),
				Sources:      sources,
				StoreVersion: snap.Version(),
			})
		}
	}()

	return &Stream{Chunks: out, Sources: sources, StoreVersion: snap.Version()}, nil
}

// normalize validates req and returns it with the profile canonicalised and
// the history trimmed to the configured window.
func (a *Advisor) normalize(req Request) (Request, error) {
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return req, &RequestError{Field: "q", Reason: "required"}
	}
	if req.Profile == (profile.Profile{}) {
		return req, &RequestError{Field: "profile", Reason: "required"}
	}

	p, err := req.Profile.Validate()
	if err != nil {
		var invalid *profile.InvalidAnswerError
		if errors.As(err, &invalid) {
			return req, &RequestError{Field: "profile." + invalid.Question, Reason: err.Error()}
		}
		return req, &RequestError{Field: "profile", Reason: err.Error()}
	}
	req.Profile = p

	history := make([]Turn, 0, len(req.History))
	for i, turn := range req.History {
		if turn.Role != llm.RoleUser && turn.Role != llm.RoleAssistant {
			return req, &RequestError{Field: "history", Reason: fmt.Sprintf("turn %d has role %q", i, turn.Role)}
		}
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		history = append(history, turn)
	}
	if len(history) > a.config.MaxHistory {
		history = history[len(history)-a.config.MaxHistory:]
	}
	req.History = history
	return req, nil
}

// cacheKey returns "" when the answer must not be cached.
func (a *Advisor) cacheKey(v rag.Version, req Request) string {
	if a.cache == nil || len(req.History) > 0 {
		return ""
	}
	question := strings.Join(strings.Fields(req.Question), " ")
	return fmt.Sprintf("%s|%s|%d|%s", v.ID, req.Profile.RiskLevel, req.Profile.InvestmentHorizon, question)
}

func sourcesOf(results []rag.SearchResult) []Source {
	sources := make([]Source, 0, len(results))
	for _, r := range results {
		md := r.Document.Metadata
		src := r.Document.Source()
		if src == "" {
			src = "unknown"
		}
		sources = append(sources, Source{
			Source:     src,
			Kind:       md["kind"],
			Title:      md["title"],
			Page:       md["page"],
			Similarity: r.Similarity,
		})
	}
	return sources
}
