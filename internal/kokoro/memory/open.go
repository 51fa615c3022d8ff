package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/bdobrica/kokoro/internal/kokoro/store"
)

// Options configures Open.
type Options struct {
	// Path is the SQLite database file.
	Path string
	// FallbackPath is the JSON document used when SQLite is unavailable.
	// Defaults to Path with its extension replaced by ".json".
	FallbackPath string
	Limits       Limits
	// Now overrides the clock used for created/updated timestamps.
	Now func() time.Time
	// FlushDelay is the JSON fallback's write coalescing window.
	FlushDelay time.Duration
	Logger     *slog.Logger
	// ForceFallback skips SQLite entirely.
	ForceFallback bool
}

// Open returns the primary SQLite store when it initialises and passes a
// capability probe, and the JSON fallback otherwise. A primary failure is
// logged as ErrPersistenceUnavailable and is never returned; Open only fails
// when the fallback cannot be opened either.
func Open(ctx context.Context, opts Options) (Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("memory: open: empty path")
	}
	fallback := opts.FallbackPath
	if fallback == "" {
		fallback = strings.TrimSuffix(opts.Path, filepath.Ext(opts.Path)) + ".json"
	}

	if !opts.ForceFallback {
		s, err := openSQLite(ctx, opts, logger)
		if err == nil {
			logger.Info("memory: using sqlite backend", "path", opts.Path)
			return s, nil
		}
		logger.Warn("memory: falling back to json store",
			"err", errors.Join(ErrPersistenceUnavailable, err),
			"path", opts.Path,
			"fallback", fallback,
		)
	}

	js, err := OpenJSONStore(fallback, opts.Limits, opts.Now, opts.FlushDelay, logger)
	if err != nil {
		return nil, fmt.Errorf("memory: open fallback: %w", err)
	}
	logger.Info("memory: using json backend", "path", fallback)
	return js, nil
}

func openSQLite(ctx context.Context, opts Options, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := store.Open(ctx, opts.Path, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Probe(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("probe: %w", err)
	}
	return NewSQLiteStore(db, opts.Limits, opts.Now, logger), nil
}
