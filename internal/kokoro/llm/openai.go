package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHTTPTimeout = 60 * time.Second

// OpenAIConfig configures an OpenAI-compatible chat completions backend.
type OpenAIConfig struct {
	// Name identifies the backend in logs, errors and selection ("openai",
	// "deepseek", "ollama", ...).
	Name string

	// APIKey is the bearer token. May be empty for loopback endpoints.
	APIKey string

	// BaseURL is the API root; "/chat/completions" is appended.
	BaseURL string

	Model  string
	Limits Limits

	// HTTPClient overrides the transport. Defaults to a client with a 60 s
	// timeout; the router applies its own per-attempt deadline on top.
	HTTPClient *http.Client
}

// OpenAIBackend implements Backend for any API that speaks the OpenAI
// chat completions contract.
type OpenAIBackend struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI returns an OpenAI-compatible backend.
func NewOpenAI(cfg OpenAIConfig) *OpenAIBackend {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &OpenAIBackend{cfg: cfg, client: client}
}

// Name implements Backend.
func (b *OpenAIBackend) Name() string { return b.cfg.Name }

// Limits implements Backend.
func (b *OpenAIBackend) Limits() Limits { return b.cfg.Limits }

// Configured implements Backend.
func (b *OpenAIBackend) Configured() bool {
	if b.cfg.BaseURL == "" || b.cfg.Model == "" {
		return false
	}
	return b.cfg.APIKey != "" || IsLoopbackHTTP(b.cfg.BaseURL)
}

// IsLoopbackHTTP reports whether rawURL is plain http to a loopback host.
// Such endpoints are treated as keyless local inference servers.
func IsLoopbackHTTP(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "http" {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// --- minimal OpenAI wire types ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model          string       `json:"model"`
	Messages       []oaiMessage `json:"messages"`
	Temperature    float64      `json:"temperature"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	ResponseFormat *oaiFormat   `json:"response_format,omitempty"`
}

type oaiFormat struct {
	Type string `json:"type"` // "json_object"
}

type oaiResponse struct {
	Model   string      `json:"model"`
	Choices []oaiChoice `json:"choices"`
	Usage   *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

// Complete implements Backend. Failures are returned as *ProviderError.
func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (Response, error) {
	msgs := make([]oaiMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, oaiMessage{Role: string(RoleSystem), Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, oaiMessage{Role: string(m.Role), Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.cfg.Limits.Output
	}
	body := oaiRequest{
		Model:       b.cfg.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
	}
	if req.JSON {
		body.ResponseFormat = &oaiFormat{Type: "json_object"}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return Response{}, b.fail(0, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return Response{}, b.fail(0, fmt.Errorf("create http request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Response{}, b.fail(0, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, b.fail(resp.StatusCode, fmt.Errorf("read response body: %w", err))
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		if resp.StatusCode >= 400 {
			return Response{}, b.fail(resp.StatusCode, fmt.Errorf("unexpected status: %.200s", respBody))
		}
		return Response{}, b.fail(resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	if oaiResp.Error != nil {
		return Response{}, b.fail(resp.StatusCode, fmt.Errorf("API error (%s): %s", oaiResp.Error.Type, oaiResp.Error.Message))
	}
	if resp.StatusCode >= 400 {
		return Response{}, b.fail(resp.StatusCode, fmt.Errorf("unexpected status"))
	}
	if len(oaiResp.Choices) == 0 {
		return Response{}, b.fail(resp.StatusCode, fmt.Errorf("no choices returned"))
	}

	out := Response{
		Text:    oaiResp.Choices[0].Message.Content,
		Backend: b.cfg.Name,
		Model:   oaiResp.Model,
	}
	if out.Model == "" {
		out.Model = b.cfg.Model
	}
	if oaiResp.Usage != nil {
		out.Usage = Usage{PromptTokens: oaiResp.Usage.PromptTokens, CompletionTokens: oaiResp.Usage.CompletionTokens}
	}
	return out, nil
}

func (b *OpenAIBackend) fail(status int, err error) error {
	return &ProviderError{Backend: b.cfg.Name, Status: status, Err: err}
}

var _ Backend = (*OpenAIBackend)(nil)
