package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultClovaBaseURL is the CLOVA Studio API gateway.
const DefaultClovaBaseURL = "https://clovastudio.apigw.ntruss.com"

var clovaModels = []string{
	"HCX-003",
	"HCX-DASH-001",
	"HCX-002",
}

// ClovaProvider implements Provider for HyperCLOVA X chat completions on
// NAVER Cloud CLOVA Studio.
type ClovaProvider struct {
	apiKey     string
	gatewayKey string
	baseURL    string
	model      string
	client     *http.Client
}

// ClovaOption configures the CLOVA provider.
type ClovaOption func(*ClovaProvider)

// WithClovaBaseURL sets a custom base URL.
func WithClovaBaseURL(url string) ClovaOption {
	return func(p *ClovaProvider) {
		if url != "" {
			p.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithClovaModel sets the default model id.
func WithClovaModel(model string) ClovaOption {
	return func(p *ClovaProvider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithClovaHTTPClient sets a custom HTTP client.
func WithClovaHTTPClient(client *http.Client) ClovaOption {
	return func(p *ClovaProvider) { p.client = client }
}

// NewClovaProvider creates a HyperCLOVA provider. Both the CLOVA Studio key
// and the API gateway key are required.
func NewClovaProvider(apiKey, gatewayKey string, opts ...ClovaOption) (*ClovaProvider, error) {
	if apiKey == "" || gatewayKey == "" {
		return nil, ErrNoAPIKey
	}
	p := &ClovaProvider{
		apiKey:     apiKey,
		gatewayKey: gatewayKey,
		baseURL:    DefaultClovaBaseURL,
		model:      "HCX-003",
		client:     &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *ClovaProvider) Name() string     { return ProviderClova }
func (p *ClovaProvider) Models() []string { return clovaModels }

// Ping sends a one-token completion, since the gateway has no cheap
// model listing endpoint.
func (p *ClovaProvider) Ping(ctx context.Context) error {
	_, err := p.Chat(ctx, []Message{UserMessage("ping")}, &ChatOptions{MaxTokens: 1})
	return err
}

// Chat sends a chat completion request to CLOVA Studio.
func (p *ClovaProvider) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	start := time.Now()
	model := p.resolveModel(opts)

	resp, err := postJSON(ctx, p.client, p.endpoint(model), p.buildRequest(messages, opts), p.header(false), clovaStatusError)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result clovaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("clova: decode response: %w", err)
	}
	// The gateway reports some failures as 200 with a non-success status code.
	if result.Status.Code != "" && result.Status.Code != clovaStatusOK {
		return nil, fmt.Errorf("clova: API error (%s): %s", result.Status.Code, result.Status.Message)
	}

	return &Response{
		Content:      result.Result.Message.Content,
		FinishReason: mapFinishReason(result.Result.StopReason),
		Model:        model,
		Provider:     ProviderClova,
		Latency:      time.Since(start),
		Usage: Usage{
			PromptTokens:     result.Result.InputLength,
			CompletionTokens: result.Result.OutputLength,
			TotalTokens:      result.Result.InputLength + result.Result.OutputLength,
		},
	}, nil
}

// ChatStream sends a streaming chat completion request. CLOVA Studio emits
// "token" events with incremental content and a final "result" event.
func (p *ClovaProvider) ChatStream(ctx context.Context, messages []Message, opts *ChatOptions) (<-chan StreamChunk, error) {
	model := p.resolveModel(opts)

	resp, err := postJSON(ctx, p.client, p.endpoint(model), p.buildRequest(messages, opts), p.header(true), clovaStatusError)
	if err != nil {
		return nil, err
	}
	return stream(ctx, resp.Body, readClovaEvents), nil
}

// ── Internal Types ──

const clovaStatusOK = "20000"

type clovaChatRequest struct {
	Messages      []clovaMessage `json:"messages"`
	TopP          float64        `json:"topP,omitempty"`
	TopK          int            `json:"topK"`
	MaxTokens     int            `json:"maxTokens,omitempty"`
	Temperature   float64        `json:"temperature,omitempty"`
	RepeatPenalty float64        `json:"repeatPenalty,omitempty"`
	StopBefore    []string       `json:"stopBefore"`
	IncludeAI     bool           `json:"includeAiFilters"`
}

type clovaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type clovaStatus struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type clovaResult struct {
	Message      clovaMessage `json:"message"`
	StopReason   string       `json:"stopReason"`
	InputLength  int          `json:"inputLength"`
	OutputLength int          `json:"outputLength"`
}

type clovaChatResponse struct {
	Status clovaStatus `json:"status"`
	Result clovaResult `json:"result"`
}

// ── Helpers ──

func (p *ClovaProvider) resolveModel(opts *ChatOptions) string {
	if opts != nil && opts.Model != "" {
		return opts.Model
	}
	return p.model
}

func (p *ClovaProvider) endpoint(model string) string {
	return p.baseURL + "/testapp/v1/chat-completions/" + model
}

func (p *ClovaProvider) header(streaming bool) http.Header {
	h := http.Header{}
	h.Set("X-NCP-CLOVASTUDIO-API-KEY", p.apiKey)
	h.Set("X-NCP-APIGW-API-KEY", p.gatewayKey)
	h.Set("X-NCP-CLOVASTUDIO-REQUEST-ID", uuid.NewString())
	if streaming {
		h.Set("Accept", "text/event-stream")
	}
	return h
}

// buildRequest applies opts over the sampling defaults of the CLOVA Studio
// playground.
func (p *ClovaProvider) buildRequest(messages []Message, opts *ChatOptions) clovaChatRequest {
	body := clovaChatRequest{
		Messages:      make([]clovaMessage, len(messages)),
		TopP:          0.8,
		MaxTokens:     512,
		Temperature:   0.5,
		RepeatPenalty: 5.0,
		StopBefore:    []string{},
	}
	for i, m := range messages {
		body.Messages[i] = clovaMessage{Role: string(m.Role), Content: m.Content}
	}
	if opts == nil {
		return body
	}
	if opts.Temperature > 0 {
		body.Temperature = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		body.MaxTokens = opts.MaxTokens
	}
	if opts.TopP > 0 {
		body.TopP = opts.TopP
	}
	if len(opts.Stop) > 0 {
		body.StopBefore = opts.Stop
	}
	return body
}

func clovaStatusError(status int, body []byte) error {
	msg := string(body)
	var apiErr clovaChatResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Status.Message != "" {
		msg = apiErr.Status.Message
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrNoAPIKey, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimit, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrInvalidModel, msg)
	}
	return fmt.Errorf("clova: HTTP %d: %s", status, msg)
}

func readClovaEvents(scanner *bufio.Scanner, sink chunkSink) error {
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			event = strings.TrimSpace(name)
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)

		switch event {
		case "token":
			var tok clovaResult
			if err := json.Unmarshal([]byte(data), &tok); err != nil {
				return fmt.Errorf("clova: stream parse: %w", err)
			}
			if !sink.send(StreamChunk{Content: tok.Message.Content}) {
				return nil
			}
		case "result":
			var res clovaResult
			_ = json.Unmarshal([]byte(data), &res)
			sink.send(StreamChunk{FinishReason: mapFinishReason(res.StopReason), Done: true})
			return nil
		case "error":
			var st clovaChatResponse
			_ = json.Unmarshal([]byte(data), &st)
			return fmt.Errorf("clova: stream error (%s): %s", st.Status.Code, st.Status.Message)
		}
	}
	return nil
}
