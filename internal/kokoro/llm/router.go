package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bdobrica/kokoro/common/environment"
	"github.com/bdobrica/kokoro/common/retry"
	"github.com/bdobrica/kokoro/internal/kokoro/observability"
)

// ProviderEnvVar overrides the configured default backend.
const ProviderEnvVar = "KOKORO_PROVIDER"

// Selection sources, reported by Router.Select.
const (
	SourceExplicit = "explicit"
	SourceEnv      = "env"
	SourceDefault  = "default"
	SourceAuto     = "auto"
)

// RouterConfig controls backend selection and call behaviour.
type RouterConfig struct {
	// Explicit is a backend chosen at runtime (e.g. by the user). Empty or
	// "auto" means none.
	Explicit string
	// Default is the backend named in the configuration file.
	Default string
	// EnvVar names the environment override. Defaults to KOKORO_PROVIDER.
	EnvVar string

	// Timeout bounds one attempt.
	Timeout time.Duration
	// Attempts is the total number of tries for transient failures.
	Attempts int
	// Backoff is the fixed wait between attempts.
	Backoff time.Duration
}

// DefaultRouterConfig returns the stock call policy.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		EnvVar:   ProviderEnvVar,
		Timeout:  45 * time.Second,
		Attempts: 2,
		Backoff:  400 * time.Millisecond,
	}
}

func (c RouterConfig) withDefaults() RouterConfig {
	d := DefaultRouterConfig()
	if c.EnvVar == "" {
		c.EnvVar = d.EnvVar
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Attempts <= 0 {
		c.Attempts = d.Attempts
	}
	if c.Backoff <= 0 {
		c.Backoff = d.Backoff
	}
	return c
}

// Router selects a backend and calls it with timeout and bounded retry.
// Backends are kept in priority order; automatic selection picks the first
// configured one.
type Router struct {
	mu        sync.RWMutex
	backends  []Backend
	cfg       RouterConfig
	sanitizer *Sanitizer
	logger    *slog.Logger
}

// NewRouter creates a router over backends in automatic-selection order.
func NewRouter(backends []Backend, cfg RouterConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		backends:  backends,
		cfg:       cfg.withDefaults(),
		sanitizer: DefaultSanitizer(),
		logger:    logger,
	}
}

// Reconfigure atomically replaces the backends and configuration.
func (r *Router) Reconfigure(backends []Backend, cfg RouterConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends = backends
	r.cfg = cfg.withDefaults()
}

// SetExplicit changes the runtime backend choice. "" or "auto" clears it.
func (r *Router) SetExplicit(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Explicit = name
}

// SetSanitizer replaces the output sanitizer.
func (r *Router) SetSanitizer(s *Sanitizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sanitizer = s
}

// Backends returns the backend names in selection order.
func (r *Router) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for _, b := range r.backends {
		names = append(names, b.Name())
	}
	return names
}

// Select resolves the active backend: explicit choice, then environment
// override, then configured default, then the first configured backend.
// A named backend that is unknown or unconfigured is skipped with a warning.
func (r *Router) Select() (Backend, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selectLocked()
}

func (r *Router) selectLocked() (Backend, string, error) {
	envValue := environment.StringOr(r.cfg.EnvVar, "")
	candidates := []struct{ name, source string }{
		{r.cfg.Explicit, SourceExplicit},
		{envValue, SourceEnv},
		{r.cfg.Default, SourceDefault},
	}
	for _, c := range candidates {
		name := strings.ToLower(strings.TrimSpace(c.name))
		if name == "" || name == "auto" {
			continue
		}
		b := r.lookupLocked(name)
		if b == nil {
			r.logger.Warn("llm: unknown backend requested, ignoring", "backend", name, "source", c.source)
			continue
		}
		if !b.Configured() {
			r.logger.Warn("llm: requested backend is not configured, ignoring", "backend", name, "source", c.source)
			continue
		}
		return b, c.source, nil
	}
	for _, b := range r.backends {
		if b.Configured() {
			return b, SourceAuto, nil
		}
	}
	return nil, "", ErrNoBackend
}

func (r *Router) lookupLocked(name string) Backend {
	for _, b := range r.backends {
		if strings.EqualFold(b.Name(), name) {
			return b
		}
	}
	return nil
}

// Limits returns the limits of the active backend.
func (r *Router) Limits() (Limits, error) {
	b, _, err := r.Select()
	if err != nil {
		return Limits{}, err
	}
	return b.Limits(), nil
}

// Complete sends req to the active backend. Each attempt has its own
// deadline; timeouts and network failures are retried with a fixed backoff,
// everything else fails immediately. Errors are *ProviderError or
// ErrNoBackend.
func (r *Router) Complete(ctx context.Context, req Request) (Response, error) {
	r.mu.RLock()
	b, source, err := r.selectLocked()
	cfg := r.cfg
	r.mu.RUnlock()
	if err != nil {
		return Response{}, err
	}

	logger := observability.WithTrace(ctx, r.logger).With("backend", b.Name(), "source", source)
	start := time.Now()

	var resp Response
	err = retry.Do(ctx, retry.Config{
		MaxAttempts:  cfg.Attempts,
		InitialDelay: cfg.Backoff,
		Fixed:        true,
		ShouldRetry:  retry.Transient,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			logger.Info("llm: transient failure, retrying", "attempt", attempt, "err", err, "delay_ms", delay.Milliseconds())
		},
	}, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		var callErr error
		resp, callErr = b.Complete(attemptCtx, req)
		return callErr
	})
	if err != nil {
		var pe *ProviderError
		if !errors.As(err, &pe) {
			err = &ProviderError{Backend: b.Name(), Err: err}
		}
		logger.Warn("llm: completion failed", "err", err, "duration_ms", time.Since(start).Milliseconds())
		return Response{}, err
	}
	logger.Debug("llm: completion ok",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

// Reply is a sanitized chat completion.
type Reply struct {
	Text     string
	Verdict  Verdict
	Response Response
}

// Chat completes req and sanitizes the reply text.
func (r *Router) Chat(ctx context.Context, req Request, in SanitizeInput) (Reply, error) {
	resp, err := r.Complete(ctx, req)
	if err != nil {
		return Reply{}, err
	}
	text, verdict := r.Sanitize(ctx, resp.Text, in)
	return Reply{Text: text, Verdict: verdict, Response: resp}, nil
}

// Sanitize cleans raw model output with the router's sanitizer.
func (r *Router) Sanitize(ctx context.Context, raw string, in SanitizeInput) (string, Verdict) {
	r.mu.RLock()
	s := r.sanitizer
	r.mu.RUnlock()

	text, verdict := s.Sanitize(raw, in)
	if verdict != VerdictClean {
		observability.WithTrace(ctx, r.logger).Debug("llm: reply replaced", "verdict", verdict)
	}
	return text, verdict
}

// Refusal is the neutral text shown when no reply can be produced.
func (r *Router) Refusal() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sanitizer.Refusal
}

var _ Completer = (*Router)(nil)
