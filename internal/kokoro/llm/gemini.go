package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	APIKey string
	Model  string
	Limits Limits

	// BaseURL overrides the native generateContent endpoint root.
	BaseURL string

	// GatewayURL routes calls through an OpenAI-compatible gateway instead of
	// the native API. GatewayKey authenticates against it.
	GatewayURL string
	GatewayKey string

	HTTPClient *http.Client
}

// GeminiBackend implements Backend for Gemini, either natively through the
// genai SDK or through an OpenAI-compatible gateway when one is configured.
type GeminiBackend struct {
	cfg     GeminiConfig
	gateway *OpenAIBackend

	mu     sync.Mutex
	client *genai.Client
}

// NewGemini returns a Gemini backend.
func NewGemini(cfg GeminiConfig) *GeminiBackend {
	b := &GeminiBackend{cfg: cfg}
	if cfg.GatewayURL != "" {
		b.gateway = NewOpenAI(OpenAIConfig{
			Name:       "gemini",
			APIKey:     cfg.GatewayKey,
			BaseURL:    cfg.GatewayURL,
			Model:      cfg.Model,
			Limits:     cfg.Limits,
			HTTPClient: cfg.HTTPClient,
		})
	}
	return b
}

// Name implements Backend.
func (b *GeminiBackend) Name() string { return "gemini" }

// Limits implements Backend.
func (b *GeminiBackend) Limits() Limits { return b.cfg.Limits }

// Configured implements Backend.
func (b *GeminiBackend) Configured() bool {
	if b.gateway != nil {
		return b.gateway.Configured()
	}
	return b.cfg.APIKey != "" && b.cfg.Model != ""
}

// Complete implements Backend.
func (b *GeminiBackend) Complete(ctx context.Context, req Request) (Response, error) {
	if b.gateway != nil {
		return b.gateway.Complete(ctx, req)
	}

	client, err := b.nativeClient(ctx)
	if err != nil {
		return Response{}, &ProviderError{Backend: b.Name(), Err: err}
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.cfg.Limits.Output
	}
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if maxTokens > 0 {
		gc.MaxOutputTokens = int32(maxTokens)
	}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		gc.ResponseMIMEType = "application/json"
	}

	resp, err := client.Models.GenerateContent(ctx, b.cfg.Model, contents, gc)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return Response{}, &ProviderError{Backend: b.Name(), Status: apiErr.Code, Err: err}
		}
		var apiErrPtr *genai.APIError
		if errors.As(err, &apiErrPtr) {
			return Response{}, &ProviderError{Backend: b.Name(), Status: apiErrPtr.Code, Err: err}
		}
		return Response{}, &ProviderError{Backend: b.Name(), Err: err}
	}

	out := Response{Text: resp.Text(), Backend: b.Name(), Model: b.cfg.Model}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

func (b *GeminiBackend) nativeClient(ctx context.Context) (*genai.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		return b.client, nil
	}
	cc := &genai.ClientConfig{
		APIKey:     b.cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: b.cfg.HTTPClient,
	}
	if b.cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: b.cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	b.client = client
	return client, nil
}

var _ Backend = (*GeminiBackend)(nil)
