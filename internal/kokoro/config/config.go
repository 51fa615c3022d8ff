// Package config defines kokoro's YAML configuration, its defaults and
// environment overrides, and a Loader that hot-reloads the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/kokoro/common/environment"
	"github.com/bdobrica/kokoro/internal/kokoro/behavior"
	"github.com/bdobrica/kokoro/internal/kokoro/llm"
	"github.com/bdobrica/kokoro/internal/kokoro/memory"
)

// Config is the root of kokoro.yaml.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Memory    MemoryConfig    `yaml:"memory"`
	Ranking   RankingConfig   `yaml:"ranking"`
	Summary   SummaryConfig   `yaml:"summary"`
	Chat      ChatConfig      `yaml:"chat"`
	Providers ProvidersConfig `yaml:"providers"`
	Behavior  BehaviorConfig  `yaml:"behavior"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MemoryConfig locates the store and bounds its tables.
type MemoryConfig struct {
	Path          string        `yaml:"path"`
	FallbackPath  string        `yaml:"fallback_path"`
	ForceFallback bool          `yaml:"force_fallback"`
	FlushDelay    time.Duration `yaml:"flush_delay"`
	ChatMessages  int           `yaml:"chat_messages"`
	Notes         int           `yaml:"notes"`
	Facts         int           `yaml:"facts"`
}

// Limits returns the retention limits as memory.Limits.
func (m MemoryConfig) Limits() memory.Limits {
	return memory.Limits{ChatMessages: m.ChatMessages, Notes: m.Notes, Facts: m.Facts}
}

// RankingConfig tunes memory retrieval for the prompt.
type RankingConfig struct {
	Params        memory.RankParams `yaml:"params"`
	Rerank        bool              `yaml:"rerank"`
	RerankTimeout time.Duration     `yaml:"rerank_timeout"`
	// PromptItems is how many ranked memories go into each prompt.
	PromptItems int `yaml:"prompt_items"`
}

// SummaryConfig tunes the rolling summary.
type SummaryConfig struct {
	memory.SummaryConfig `yaml:",inline"`
	Enabled              bool `yaml:"enabled"`
}

// ChatConfig shapes one chat turn.
type ChatConfig struct {
	SystemPrompt    string  `yaml:"system_prompt"`
	Temperature     float64 `yaml:"temperature"`
	HistoryMessages int     `yaml:"history_messages"`
	BudgetMargin    int     `yaml:"budget_margin"`
	MaxToolRounds   int     `yaml:"max_tool_rounds"`
	Extract         bool    `yaml:"extract"`
}

// ProvidersConfig lists the chat backends in automatic-selection order.
type ProvidersConfig struct {
	// Active is an explicit choice that outranks the environment override.
	Active string `yaml:"active"`
	// Default is used when neither Active nor KOKORO_PROVIDER picks one.
	Default  string           `yaml:"default"`
	Timeout  time.Duration    `yaml:"timeout"`
	Attempts int              `yaml:"attempts"`
	Backoff  time.Duration    `yaml:"backoff"`
	Backends []ProviderConfig `yaml:"backends"`
}

// Provider kinds.
const (
	KindOpenAI = "openai"
	KindGemini = "gemini"
)

// ProviderConfig describes one backend.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// APIKeyEnv is a comma-separated list of environment variables holding
	// the key; the first non-empty one wins. APIKey is used only when all of
	// them are unset.
	APIKeyEnv    string `yaml:"api_key_env"`
	APIKey       string `yaml:"api_key"`
	ContextLimit int    `yaml:"context_limit"`
	OutputLimit  int    `yaml:"output_limit"`
	// GatewayURL routes a gemini backend through an OpenAI-compatible
	// gateway.
	GatewayURL    string `yaml:"gateway_url"`
	GatewayKeyEnv string `yaml:"gateway_key_env"`
}

// Key resolves the backend credential.
func (p ProviderConfig) Key() string {
	if p.APIKeyEnv != "" {
		names := strings.Split(p.APIKeyEnv, ",")
		for i := range names {
			names[i] = strings.TrimSpace(names[i])
		}
		if v, _ := environment.FirstOf(names...); v != "" {
			return v
		}
	}
	return p.APIKey
}

// Backend builds the llm backend described by p.
func (p ProviderConfig) Backend() llm.Backend {
	limits := llm.Limits{Context: p.ContextLimit, Output: p.OutputLimit}
	if p.Kind == KindGemini {
		gw := ""
		if p.GatewayKeyEnv != "" {
			gw = os.Getenv(p.GatewayKeyEnv)
		}
		return llm.NewGemini(llm.GeminiConfig{
			APIKey:     p.Key(),
			Model:      p.Model,
			Limits:     limits,
			BaseURL:    p.BaseURL,
			GatewayURL: p.GatewayURL,
			GatewayKey: gw,
		})
	}
	return llm.NewOpenAI(llm.OpenAIConfig{
		Name:    p.Name,
		APIKey:  p.Key(),
		BaseURL: p.BaseURL,
		Model:   p.Model,
		Limits:  limits,
	})
}

// BuildBackends builds every configured backend in order.
func (pc ProvidersConfig) BuildBackends() []llm.Backend {
	out := make([]llm.Backend, 0, len(pc.Backends))
	for _, p := range pc.Backends {
		out = append(out, p.Backend())
	}
	return out
}

// RouterConfig returns the router settings.
func (pc ProvidersConfig) RouterConfig() llm.RouterConfig {
	return llm.RouterConfig{
		Explicit: pc.Active,
		Default:  pc.Default,
		Timeout:  pc.Timeout,
		Attempts: pc.Attempts,
		Backoff:  pc.Backoff,
	}
}

// BehaviorConfig holds the state thresholds and proactive gating.
type BehaviorConfig struct {
	Thresholds behavior.Thresholds   `yaml:"thresholds"`
	Policy     behavior.PolicyConfig `yaml:"policy"`
}

// ScheduleConfig holds cron specs for periodic jobs. An empty spec
// disables the job.
type ScheduleConfig struct {
	Rollover     string `yaml:"rollover"`
	RandomTip    string `yaml:"random_tip"`
	SummarySweep string `yaml:"summary_sweep"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	limits := memory.DefaultLimits()
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Memory: MemoryConfig{
			Path:         "kokoro.db",
			FlushDelay:   memory.DefaultFlushDelay,
			ChatMessages: limits.ChatMessages,
			Notes:        limits.Notes,
			Facts:        limits.Facts,
		},
		Ranking: RankingConfig{
			Params:        memory.DefaultRankParams(),
			Rerank:        true,
			RerankTimeout: 4 * time.Second,
			PromptItems:   8,
		},
		Summary: SummaryConfig{SummaryConfig: memory.DefaultSummaryConfig(), Enabled: true},
		Chat: ChatConfig{
			SystemPrompt:    "You are Kokoro, a warm desktop companion. Reply briefly and plainly.",
			Temperature:     0.7,
			HistoryMessages: 24,
			BudgetMargin:    llm.DefaultBudgetMargin,
			MaxToolRounds:   2,
			Extract:         true,
		},
		Providers: ProvidersConfig{
			Default:  "auto",
			Timeout:  45 * time.Second,
			Attempts: 2,
			Backoff:  400 * time.Millisecond,
			Backends: []ProviderConfig{
				{Name: "deepseek", Kind: KindOpenAI, BaseURL: "https://api.deepseek.com/v1", Model: "deepseek-chat", APIKeyEnv: "DEEPSEEK_API_KEY", ContextLimit: 64000, OutputLimit: 2048},
				{Name: "openai", Kind: KindOpenAI, BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini", APIKeyEnv: "OPENAI_API_KEY", ContextLimit: 128000, OutputLimit: 2048},
				{Name: "qwen", Kind: KindOpenAI, BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", Model: "qwen-plus", APIKeyEnv: "DASHSCOPE_API_KEY", ContextLimit: 32000, OutputLimit: 2048},
				{Name: "gemini", Kind: KindGemini, Model: "gemini-2.0-flash", APIKeyEnv: "GEMINI_API_KEY,GOOGLE_API_KEY", GatewayKeyEnv: "GEMINI_GATEWAY_KEY", ContextLimit: 128000, OutputLimit: 2048},
				{Name: "ollama", Kind: KindOpenAI, BaseURL: "http://127.0.0.1:11434/v1", Model: "qwen2.5:7b", ContextLimit: 8192, OutputLimit: 1024},
			},
		},
		Behavior: BehaviorConfig{
			Thresholds: behavior.DefaultThresholds(),
			Policy:     behavior.DefaultPolicyConfig(),
		},
		Schedule: ScheduleConfig{
			Rollover:     "0 0 * * *",
			RandomTip:    "0 */2 * * *",
			SummarySweep: "@every 10m",
		},
	}
}

// Parse decodes YAML on top of DefaultConfig, so a file only needs the keys
// it changes.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse yaml: %w", err)
	}
	return cfg, nil
}

// LoadFile reads, overrides from the environment and validates path. An
// empty path yields the defaults.
func LoadFile(path string) (Config, error) {
	return NewLoader(path, nil).Load()
}

// Validate rejects structurally invalid configurations.
func (c *Config) Validate() error {
	var errs []error
	if c.Memory.Path == "" && c.Memory.FallbackPath == "" {
		errs = append(errs, errors.New("memory.path is required"))
	}
	if c.Memory.ChatMessages < 0 || c.Memory.Notes < 0 || c.Memory.Facts < 0 {
		errs = append(errs, errors.New("memory retention limits must not be negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}

	seen := make(map[string]bool)
	for i, p := range c.Providers.Backends {
		switch {
		case p.Name == "":
			errs = append(errs, fmt.Errorf("providers.backends[%d]: name is required", i))
		case seen[p.Name]:
			errs = append(errs, fmt.Errorf("providers.backends[%d]: duplicate name %q", i, p.Name))
		case p.Name == "auto":
			errs = append(errs, fmt.Errorf("providers.backends[%d]: %q is reserved", i, p.Name))
		}
		seen[p.Name] = true
		if p.Kind != KindOpenAI && p.Kind != KindGemini {
			errs = append(errs, fmt.Errorf("providers.backends[%d]: kind %q must be %s or %s", i, p.Kind, KindOpenAI, KindGemini))
		}
		if p.Model == "" {
			errs = append(errs, fmt.Errorf("providers.backends[%d]: model is required", i))
		}
		if p.Kind == KindOpenAI && p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("providers.backends[%d]: base_url is required", i))
		}
		if p.ContextLimit <= p.OutputLimit {
			errs = append(errs, fmt.Errorf("providers.backends[%d]: context_limit must exceed output_limit", i))
		}
	}
	for _, name := range []string{c.Providers.Active, c.Providers.Default} {
		if name != "" && name != "auto" && !seen[name] {
			errs = append(errs, fmt.Errorf("providers: unknown backend %q", name))
		}
	}
	if c.Providers.Attempts < 0 {
		errs = append(errs, errors.New("providers.attempts must not be negative"))
	}

	pol := c.Behavior.Policy
	if pol.DailyCap <= 0 {
		errs = append(errs, errors.New("behavior.policy.daily_cap must be positive"))
	}
	if len(pol.Backoff) == 0 {
		errs = append(errs, errors.New("behavior.policy.backoff must not be empty"))
	}
	for kind := range pol.KindCooldowns {
		if !kind.Valid() {
			errs = append(errs, fmt.Errorf("behavior.policy.kind_cooldowns: unknown kind %q", kind))
		}
	}
	for _, kind := range pol.OncePerDay {
		if !kind.Valid() {
			errs = append(errs, fmt.Errorf("behavior.policy.once_per_day: unknown kind %q", kind))
		}
	}
	if c.Chat.MaxToolRounds < 0 {
		errs = append(errs, errors.New("chat.max_tool_rounds must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}
