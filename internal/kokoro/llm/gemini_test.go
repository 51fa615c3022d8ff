package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGeminiBackend_Configured(t *testing.T) {
	if NewGemini(GeminiConfig{Model: "gemini-2.0-flash"}).Configured() {
		t.Error("native backend without key should not be configured")
	}
	if !NewGemini(GeminiConfig{APIKey: "k", Model: "gemini-2.0-flash"}).Configured() {
		t.Error("native backend with key should be configured")
	}
	if !NewGemini(GeminiConfig{Model: "gemini-2.0-flash", GatewayURL: "http://127.0.0.1:4000/v1"}).Configured() {
		t.Error("loopback gateway should be configured without a key")
	}
}

func TestGeminiBackend_Gateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("gateway path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "via gateway"}}},
		})
	}))
	defer srv.Close()

	b := NewGemini(GeminiConfig{Model: "gemini-2.0-flash", GatewayURL: srv.URL, GatewayKey: "gw"})
	resp, err := b.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "via gateway" || resp.Backend != "gemini" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestGeminiBackend_Native(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "models/gemini-2.0-flash:generateContent") {
			t.Errorf("native path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"native "},{"text":"reply"}]}}]}`))
	}))
	defer srv.Close()

	b := NewGemini(GeminiConfig{APIKey: "k", Model: "gemini-2.0-flash", BaseURL: srv.URL, Limits: Limits{Output: 256}})
	resp, err := b.Complete(context.Background(), Request{
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hey"}, {Role: RoleUser, Content: "again"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "native reply" {
		t.Errorf("Text = %q", resp.Text)
	}
	if _, ok := body["systemInstruction"]; !ok {
		t.Errorf("request missing systemInstruction: %v", body)
	}
	if contents, _ := body["contents"].([]any); len(contents) != 3 {
		t.Errorf("contents = %v", body["contents"])
	}
}
