package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/seenimoa/riskfolio/internal/config"
)

// Router routes LLM requests to the primary provider and falls back along
// a configured chain when it fails.
type Router struct {
	mu         sync.RWMutex
	providers  map[string]Provider
	primary    string
	fallbacks  []string
	defaults   ChatOptions
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// RouterOption configures the router.
type RouterOption func(*Router)

// WithFallbacks sets the fallback provider chain.
func WithFallbacks(providers ...string) RouterOption {
	return func(r *Router) { r.fallbacks = providers }
}

// WithMaxRetries sets the maximum number of retry attempts per provider.
func WithMaxRetries(n int) RouterOption {
	return func(r *Router) { r.maxRetries = n }
}

// WithRetryDelay sets the base delay between retries.
func WithRetryDelay(d time.Duration) RouterOption {
	return func(r *Router) { r.retryDelay = d }
}

// WithDefaultOptions sets options applied when a request leaves them unset.
// The model is only applied to the primary provider.
func WithDefaultOptions(opts ChatOptions) RouterOption {
	return func(r *Router) { r.defaults = opts }
}

// WithLogger sets the logger used for fallback diagnostics.
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a new LLM router with the given primary provider.
func NewRouter(primary string, opts ...RouterOption) *Router {
	r := &Router{
		providers:  make(map[string]Provider),
		primary:    primary,
		maxRetries: 2,
		retryDelay: 1 * time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterProvider adds a provider to the router.
func (r *Router) RegisterProvider(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.Name()] = provider
}

// GetProvider returns a registered provider by name.
func (r *Router) GetProvider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Primary returns the primary provider.
func (r *Router) Primary() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[r.primary]
	if !ok {
		return nil, fmt.Errorf("%w: primary provider %q not registered", ErrNoProviders, r.primary)
	}
	return p, nil
}

// Chat routes a chat request through the provider chain with fallback.
// It tries the primary provider first, then falls back in order.
func (r *Router) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	chain := r.providerChain()
	if len(chain) == 0 {
		return nil, ErrNoProviders
	}

	var lastErr error
	for _, providerName := range chain {
		provider, ok := r.GetProvider(providerName)
		if !ok {
			continue
		}

		resp, err := r.chatWithRetry(ctx, provider, messages, r.optionsFor(providerName, opts))
		if err == nil {
			return resp, nil
		}

		lastErr = err
		r.logger.Warn("llm provider failed, trying next", "provider", providerName, "error", err)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isNonRetryable(err) {
			return nil, err
		}
	}
	if lastErr == nil {
		return nil, ErrNoProviders
	}
	return nil, fmt.Errorf("llm/router: all providers failed, last error: %w", lastErr)
}

// ChatStream routes a streaming request using the same fallback chain.
// Fallback only happens before the first chunk is delivered.
func (r *Router) ChatStream(ctx context.Context, messages []Message, opts *ChatOptions) (<-chan StreamChunk, error) {
	chain := r.providerChain()
	if len(chain) == 0 {
		return nil, ErrNoProviders
	}

	var lastErr error
	for _, providerName := range chain {
		provider, ok := r.GetProvider(providerName)
		if !ok {
			continue
		}

		ch, err := provider.ChatStream(ctx, messages, r.optionsFor(providerName, opts))
		if err == nil {
			return ch, nil
		}

		lastErr = err
		r.logger.Warn("llm stream provider failed, trying next", "provider", providerName, "error", err)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isNonRetryable(err) {
			return nil, err
		}
	}
	if lastErr == nil {
		return nil, ErrNoProviders
	}
	return nil, fmt.Errorf("llm/router: all stream providers failed, last error: %w", lastErr)
}

// HealthCheck pings all registered providers and returns their status.
func (r *Router) HealthCheck(ctx context.Context) map[string]error {
	r.mu.RLock()
	providers := make(map[string]Provider, len(r.providers))
	for k, v := range r.providers {
		providers[k] = v
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(providers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, provider := range providers {
		wg.Add(1)
		go func(n string, p Provider) {
			defer wg.Done()
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			err := p.Ping(pingCtx)
			mu.Lock()
			results[n] = err
			mu.Unlock()
		}(name, provider)
	}

	wg.Wait()
	return results
}

// Name returns the name of the primary provider (satisfies Provider).
func (r *Router) Name() string {
	return "router/" + r.primary
}

// Models returns the union of models from all registered providers (satisfies Provider).
func (r *Router) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []string
	seen := make(map[string]bool)
	for _, p := range r.providers {
		for _, m := range p.Models() {
			if !seen[m] {
				seen[m] = true
				all = append(all, m)
			}
		}
	}
	return all
}

// Ping checks the primary provider's health (satisfies Provider).
func (r *Router) Ping(ctx context.Context) error {
	p, err := r.Primary()
	if err != nil {
		return err
	}
	return p.Ping(ctx)
}

// ProviderNames returns the names of all registered providers.
func (r *Router) ProviderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// ── Internal Helpers ──

func (r *Router) providerChain() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := []string{r.primary}
	for _, fb := range r.fallbacks {
		if fb != r.primary {
			chain = append(chain, fb)
		}
	}
	return chain
}

// optionsFor merges router defaults into opts. Fallback providers keep
// their own default model.
func (r *Router) optionsFor(provider string, opts *ChatOptions) *ChatOptions {
	merged := r.defaults
	if provider != r.primary {
		merged.Model = ""
	}
	if opts != nil {
		if opts.Model != "" {
			merged.Model = opts.Model
		}
		if opts.Temperature > 0 {
			merged.Temperature = opts.Temperature
		}
		if opts.MaxTokens > 0 {
			merged.MaxTokens = opts.MaxTokens
		}
		if opts.TopP > 0 {
			merged.TopP = opts.TopP
		}
		if len(opts.Stop) > 0 {
			merged.Stop = opts.Stop
		}
	}
	return &merged
}

func (r *Router) chatWithRetry(ctx context.Context, provider Provider,
	messages []Message, opts *ChatOptions) (*Response, error) {

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			delay := r.retryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := provider.Chat(ctx, messages, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if isNonRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// isNonRetryable reports auth, model and context-length failures, which
// no retry or fallback can fix.
func isNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNoAPIKey) ||
		errors.Is(err, ErrInvalidModel) ||
		errors.Is(err, ErrContextLength)
}

// NewRouterFromConfig creates a fully configured Router from the application config.
// It instantiates the providers whose credentials are available.
func NewRouterFromConfig(cfg *config.Config, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.LLM.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	router := NewRouter(cfg.LLM.Primary,
		WithMaxRetries(2),
		WithRetryDelay(time.Second),
		WithLogger(logger),
		WithDefaultOptions(ChatOptions{
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		}),
	)

	var fallbacks []string
	register := func(p Provider) {
		router.RegisterProvider(p)
		if p.Name() != cfg.LLM.Primary {
			fallbacks = append(fallbacks, p.Name())
		}
	}

	if cfg.LLM.OpenAIKey != "" {
		model := "gpt-4o-mini"
		if cfg.LLM.Primary == ProviderOpenAI && cfg.LLM.Model != "" {
			model = cfg.LLM.Model
		}
		p, err := NewOpenAIProvider(cfg.LLM.OpenAIKey,
			WithOpenAIModel(model),
			WithOpenAIHTTPClient(client),
		)
		if err == nil {
			register(p)
		}
	}

	if cfg.LLM.Clova.APIKey != "" && cfg.LLM.Clova.GatewayKey != "" {
		model := cfg.LLM.Clova.Model
		if cfg.LLM.Primary == ProviderClova && cfg.LLM.Model != "" && model == "" {
			model = cfg.LLM.Model
		}
		p, err := NewClovaProvider(cfg.LLM.Clova.APIKey, cfg.LLM.Clova.GatewayKey,
			WithClovaModel(model),
			WithClovaBaseURL(cfg.LLM.Clova.BaseURL),
			WithClovaHTTPClient(client),
		)
		if err == nil {
			register(p)
		}
	}

	// Ollama needs no key, just a URL.
	if cfg.LLM.OllamaURL != "" {
		model := "qwen2.5:7b"
		if cfg.LLM.Primary == ProviderOllama && cfg.LLM.Model != "" {
			model = cfg.LLM.Model
		}
		p, err := NewOllamaProvider(cfg.LLM.OllamaURL,
			WithOllamaModel(model),
		)
		if err == nil {
			register(p)
		}
	}

	if len(router.ProviderNames()) == 0 {
		return nil, ErrNoProviders
	}
	if _, err := router.Primary(); err != nil {
		// Promote the first available provider when the configured primary
		// has no credentials.
		logger.Warn("primary llm provider not configured", "primary", cfg.LLM.Primary, "using", fallbacks[0])
		router.primary = fallbacks[0]
		fallbacks = fallbacks[1:]
	}

	router.fallbacks = fallbacks
	return router, nil
}
