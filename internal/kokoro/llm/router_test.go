package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type fakeBackend struct {
	name       string
	configured bool
	calls      atomic.Int32
	reply      string
	err        error
}

func (f *fakeBackend) Name() string     { return f.name }
func (f *fakeBackend) Configured() bool { return f.configured }
func (f *fakeBackend) Limits() Limits   { return Limits{Context: 4096, Output: 512} }
func (f *fakeBackend) Complete(ctx context.Context, req Request) (Response, error) {
	f.calls.Add(1)
	if f.err != nil {
		return Response{}, f.err
	}
	return Response{Text: f.reply, Backend: f.name}, nil
}

func TestRouter_SelectPrecedence(t *testing.T) {
	deepseek := &fakeBackend{name: "deepseek", configured: false}
	openai := &fakeBackend{name: "openai", configured: true}
	gemini := &fakeBackend{name: "gemini", configured: true}
	ollama := &fakeBackend{name: "ollama", configured: true}
	backends := []Backend{deepseek, openai, gemini, ollama}

	tests := []struct {
		name       string
		explicit   string
		env        string
		def        string
		wantName   string
		wantSource string
	}{
		{"auto picks first configured", "", "", "", "openai", SourceAuto},
		{"default", "", "", "gemini", "gemini", SourceDefault},
		{"env beats default", "", "ollama", "gemini", "ollama", SourceEnv},
		{"explicit beats env", "gemini", "ollama", "openai", "gemini", SourceExplicit},
		{"auto keyword is not a choice", "auto", "", "", "openai", SourceAuto},
		{"unconfigured explicit falls through", "deepseek", "", "gemini", "gemini", SourceDefault},
		{"unknown env falls through", "", "mistral", "", "openai", SourceAuto},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(ProviderEnvVar, tt.env)
			r := NewRouter(backends, RouterConfig{Explicit: tt.explicit, Default: tt.def}, nil)
			b, source, err := r.Select()
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			if b.Name() != tt.wantName || source != tt.wantSource {
				t.Errorf("Select() = %s via %s, want %s via %s", b.Name(), source, tt.wantName, tt.wantSource)
			}
		})
	}
}

func TestRouter_NoBackend(t *testing.T) {
	t.Setenv(ProviderEnvVar, "")
	r := NewRouter([]Backend{&fakeBackend{name: "openai"}}, RouterConfig{}, nil)
	if _, err := r.Complete(context.Background(), Request{}); !errors.Is(err, ErrNoBackend) {
		t.Errorf("Complete with nothing configured: want ErrNoBackend, got %v", err)
	}
}

func TestRouter_ReconfigureAndSetExplicit(t *testing.T) {
	t.Setenv(ProviderEnvVar, "")
	a := &fakeBackend{name: "a", configured: true, reply: "from a"}
	b := &fakeBackend{name: "b", configured: true, reply: "from b"}
	r := NewRouter([]Backend{a}, RouterConfig{}, nil)

	r.Reconfigure([]Backend{a, b}, RouterConfig{})
	r.SetExplicit("b")
	resp, err := r.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "from b" {
		t.Errorf("Text = %q, want from b", resp.Text)
	}
}

func TestRouter_RetriesTimeouts(t *testing.T) {
	t.Setenv(ProviderEnvVar, "")
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "second time lucky"}}},
		})
	}))
	defer srv.Close()

	b := NewOpenAI(OpenAIConfig{Name: "local", BaseURL: srv.URL, Model: "m", APIKey: "k"})
	r := NewRouter([]Backend{b}, RouterConfig{Timeout: 100 * time.Millisecond, Attempts: 2, Backoff: 10 * time.Millisecond}, nil)

	resp, err := r.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "second time lucky" {
		t.Errorf("Text = %q", resp.Text)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestRouter_DoesNotRetryHTTPErrors(t *testing.T) {
	t.Setenv(ProviderEnvVar, "")
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	b := NewOpenAI(OpenAIConfig{Name: "openai", BaseURL: srv.URL, Model: "m", APIKey: "k"})
	r := NewRouter([]Backend{b}, RouterConfig{Attempts: 2, Backoff: 10 * time.Millisecond}, nil)

	_, err := r.Complete(context.Background(), Request{})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProviderError, got %v", err)
	}
	if pe.Status != http.StatusInternalServerError || pe.Backend != "openai" {
		t.Errorf("ProviderError = %+v", pe)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (HTTP errors are not retried)", got)
	}
}

func TestRouter_ChatSanitizes(t *testing.T) {
	t.Setenv(ProviderEnvVar, "")
	b := &fakeBackend{name: "a", configured: true, reply: "As an AI language model, I think\r\n\r\n\r\n\r\nyes."}
	r := NewRouter([]Backend{b}, RouterConfig{}, nil)

	reply, err := r.Chat(context.Background(), Request{}, SanitizeInput{UserText: "hm"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Text != "I think\n\nyes." || reply.Verdict != VerdictClean {
		t.Errorf("reply = %q (%s)", reply.Text, reply.Verdict)
	}
}
