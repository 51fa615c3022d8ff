package schema

import (
	"errors"
	"testing"
)

func TestLoad_AllEmbeddedSchemasCompile(t *testing.T) {
	for _, name := range []string{Summary, Rerank, Extract} {
		if _, err := Load(name); err != nil {
			t.Errorf("Load(%q): %v", name, err)
		}
	}
	if _, err := Load("missing"); err == nil {
		t.Error("Load(missing) should fail")
	}
}

func TestDecodeReply(t *testing.T) {
	var out struct {
		IDs []string `json:"ids"`
	}
	reply := "Sure! Here you go:\n```json\n{\"ids\": [\"n3\", \"f1\"]}\n```"
	if err := DecodeReply(Rerank, reply, &out); err != nil {
		t.Fatalf("DecodeReply: %v", err)
	}
	if len(out.IDs) != 2 || out.IDs[0] != "n3" {
		t.Errorf("IDs = %v", out.IDs)
	}
}

func TestDecodeReply_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"no json", "I could not decide."},
		{"broken json", `{"ids": [`},
		{"schema violation", `{"ids": ["note-3"]}`},
		{"missing required", `{"order": ["n1"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out map[string]any
			if err := DecodeReply(Rerank, tt.reply, &out); err == nil {
				t.Errorf("DecodeReply(%q) should fail", tt.reply)
			}
		})
	}
}

func TestExtractObject(t *testing.T) {
	if _, err := ExtractObject("nothing here"); !errors.Is(err, ErrNoJSON) {
		t.Errorf("want ErrNoJSON, got %v", err)
	}
	got, err := ExtractObject(`prefix {"a":{"b":1}} suffix`)
	if err != nil || got != `{"a":{"b":1}}` {
		t.Errorf("ExtractObject = %q, %v", got, err)
	}
}
