package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bdobrica/kokoro/internal/kokoro/behavior"
	"github.com/bdobrica/kokoro/internal/kokoro/llm"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v", err)
	}
	var names []string
	for _, b := range cfg.Providers.Backends {
		names = append(names, b.Name)
	}
	if diff := cmp.Diff([]string{"deepseek", "openai", "qwen", "gemini", "ollama"}, names); diff != "" {
		t.Errorf("auto order (-want +got):\n%s", diff)
	}
}

func TestParse_OverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
memory:
  path: /tmp/k.db
behavior:
  policy:
    daily_cap: 5
    kind_cooldowns:
      RANDOM_TIP: 10m
summary:
  min_interval: 5s
  enabled: false
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Memory.Path != "/tmp/k.db" || cfg.Memory.Notes != 400 {
		t.Errorf("memory = %+v", cfg.Memory)
	}
	pol := cfg.Behavior.Policy
	if pol.DailyCap != 5 || pol.BaseCooldown != 300*time.Second {
		t.Errorf("policy cap=%d cooldown=%s", pol.DailyCap, pol.BaseCooldown)
	}
	if pol.KindCooldowns[behavior.KindRandomTip] != 10*time.Minute || pol.KindCooldowns[behavior.KindSystemBattery] != 15*time.Minute {
		t.Errorf("kind cooldowns = %v", pol.KindCooldowns)
	}
	if cfg.Summary.MinInterval != 5*time.Second || cfg.Summary.Enabled || cfg.Summary.MinNewMessages != 2 {
		t.Errorf("summary = %+v", cfg.Summary)
	}
}

func TestParse_RejectsBadYAML(t *testing.T) {
	if _, err := Parse([]byte("memory: [")); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"duplicate backend", func(c *Config) { c.Providers.Backends = append(c.Providers.Backends, c.Providers.Backends[0]) }, "duplicate name"},
		{"unknown default", func(c *Config) { c.Providers.Default = "claude" }, `unknown backend "claude"`},
		{"bad kind", func(c *Config) { c.Providers.Backends[0].Kind = "grpc" }, "kind"},
		{"limits", func(c *Config) { c.Providers.Backends[0].OutputLimit = c.Providers.Backends[0].ContextLimit }, "context_limit"},
		{"no cap", func(c *Config) { c.Behavior.Policy.DailyCap = 0 }, "daily_cap"},
		{"unknown signal", func(c *Config) { c.Behavior.Policy.OncePerDay = []behavior.SignalKind{"WEATHER"} }, "once_per_day"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvDBPath, "/var/lib/kokoro/k.db")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvFallback, "true")
	t.Setenv(EnvProviderTimeout, "20s")
	t.Setenv(EnvTemperature, "0.3")
	t.Setenv(EnvDailyCap, "not-a-number")
	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	if cfg.Memory.Path != "/var/lib/kokoro/k.db" || cfg.Log.Level != "debug" || !cfg.Memory.ForceFallback {
		t.Errorf("after overrides: memory=%+v log=%+v", cfg.Memory, cfg.Log)
	}
	if cfg.Providers.Timeout != 20*time.Second || cfg.Chat.Temperature != 0.3 {
		t.Errorf("timeout=%v temperature=%v", cfg.Providers.Timeout, cfg.Chat.Temperature)
	}
	if cfg.Behavior.Policy.DailyCap != 12 {
		t.Errorf("unparseable daily cap should keep the default, got %d", cfg.Behavior.Policy.DailyCap)
	}
}

func TestProviderKey(t *testing.T) {
	p := ProviderConfig{APIKeyEnv: "KOKORO_TEST_A, KOKORO_TEST_B", APIKey: "from-file"}
	if got := p.Key(); got != "from-file" {
		t.Errorf("unset env: Key() = %q", got)
	}
	t.Setenv("KOKORO_TEST_B", "b-key")
	if got := p.Key(); got != "b-key" {
		t.Errorf("second var: Key() = %q", got)
	}
	t.Setenv("KOKORO_TEST_A", "a-key")
	if got := p.Key(); got != "a-key" {
		t.Errorf("first var wins: Key() = %q", got)
	}
}

func TestProvidersBuildBackends(t *testing.T) {
	for _, name := range []string{"DEEPSEEK_API_KEY", "OPENAI_API_KEY", "DASHSCOPE_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		t.Setenv(name, "")
	}
	pc := DefaultConfig().Providers
	backends := pc.BuildBackends()
	if len(backends) != 5 {
		t.Fatalf("len = %d", len(backends))
	}
	if _, ok := backends[3].(*llm.GeminiBackend); !ok {
		t.Errorf("backends[3] = %T, want *llm.GeminiBackend", backends[3])
	}
	for i, b := range backends {
		want := b.Name() == "ollama"
		if b.Configured() != want {
			t.Errorf("backends[%d] %s Configured() = %v without keys", i, b.Name(), b.Configured())
		}
	}
	rc := pc.RouterConfig()
	if rc.Default != "auto" || rc.Attempts != 2 || rc.Timeout != 45*time.Second {
		t.Errorf("RouterConfig() = %+v", rc)
	}
}

func TestLoadFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
	path := filepath.Join(t.TempDir(), "kokoro.yaml")
	os.WriteFile(path, []byte("providers:\n  default: qwen\n"), 0o600)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.Default != "qwen" {
		t.Errorf("default = %q", cfg.Providers.Default)
	}
	cfg, err = LoadFile("")
	if err != nil || cfg.Providers.Default != "auto" {
		t.Errorf("LoadFile(\"\") = %+v, %v", cfg.Providers, err)
	}
}
