package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 150 * time.Millisecond

// Loader holds the live configuration and reloads it when the file changes.
type Loader struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	config   Config
	hash     string
	onChange []func(Config)
}

// NewLoader creates a loader for path. Call Load before Config.
func NewLoader(path string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{path: path, logger: logger, config: DefaultConfig()}
}

// Load reads the file and makes it the live configuration.
func (l *Loader) Load() (Config, error) {
	cfg, hash, err := l.read()
	if err != nil {
		return Config{}, err
	}
	l.mu.Lock()
	l.config, l.hash = cfg, hash
	l.mu.Unlock()
	return cfg, nil
}

// Config returns the live configuration.
func (l *Loader) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// Hash returns a short digest of the applied file, or "" for defaults.
func (l *Loader) Hash() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hash
}

// OnChange registers fn to run after each successful reload.
func (l *Loader) OnChange(fn func(Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch reloads the file on every write until ctx is cancelled. It watches
// the parent directory so that editors that replace the file are seen.
func (l *Loader) Watch(ctx context.Context) error {
	if l.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(l.path), err)
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != filepath.Base(l.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, l.reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("config: watcher error", "err", err)
		}
	}
}

// reload re-reads the file and, if it is valid and changed, swaps it in and
// notifies subscribers. An invalid file leaves the live config untouched.
func (l *Loader) reload() {
	cfg, hash, err := l.read()
	if err != nil {
		l.logger.Warn("config: reload rejected", "path", l.path, "err", err)
		return
	}
	l.mu.Lock()
	if hash == l.hash {
		l.mu.Unlock()
		return
	}
	l.config, l.hash = cfg, hash
	subs := append([]func(Config){}, l.onChange...)
	l.mu.Unlock()

	l.logger.Info("config: reloaded", "path", l.path, "hash", hash)
	for _, fn := range subs {
		fn(cfg)
	}
}

func (l *Loader) read() (Config, string, error) {
	if l.path == "" {
		cfg := DefaultConfig()
		cfg.ApplyEnvOverrides()
		return cfg, "", cfg.Validate()
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return Config{}, "", fmt.Errorf("config: read %s: %w", l.path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, "", err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return Config{}, "", err
	}
	sum := sha256.Sum256(data)
	return cfg, hex.EncodeToString(sum[:])[:12], nil
}
