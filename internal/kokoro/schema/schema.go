// Package schema validates JSON produced by models against embedded JSON
// Schemas before kokoro acts on it.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemasFS embed.FS

// Names of the embedded schemas.
const (
	Summary = "summary"
	Rerank  = "rerank"
	Extract = "extract"
)

// ErrNoJSON is returned when a reply contains no JSON object.
var ErrNoJSON = errors.New("schema: no JSON object found")

var (
	cacheMu sync.Mutex
	cache   = map[string]*jsonschema.Schema{}
)

// Load compiles the embedded schema name, caching the result.
func Load(name string) (*jsonschema.Schema, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if s, ok := cache[name]; ok {
		return s, nil
	}
	path := "schemas/" + name + ".schema.json"
	data, err := schemasFS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	s, err := CompileBytes(name, data)
	if err != nil {
		return nil, err
	}
	cache[name] = s
	return s, nil
}

// CompileBytes compiles a schema document held in memory.
func CompileBytes(name string, data []byte) (*jsonschema.Schema, error) {
	url := "mem://kokoro/" + name + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("schema %s: add resource: %w", name, err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s: compile: %w", name, err)
	}
	return s, nil
}

// Decode validates data against s and unmarshals it into out.
func Decode(s *jsonschema.Schema, data []byte, out any) error {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("schema: decode: %w", err)
	}
	if err := s.Validate(instance); err != nil {
		return fmt.Errorf("schema: validate: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("schema: decode: %w", err)
	}
	return nil
}

// DecodeReply extracts the JSON object from a model reply, validates it
// against the embedded schema name and unmarshals it into out.
func DecodeReply(name, reply string, out any) error {
	s, err := Load(name)
	if err != nil {
		return err
	}
	obj, err := ExtractObject(reply)
	if err != nil {
		return err
	}
	return Decode(s, []byte(obj), out)
}

// ExtractObject returns the outermost {...} span of text, ignoring any
// surrounding prose or code fences.
func ExtractObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return "", ErrNoJSON
	}
	return text[start : end+1], nil
}
