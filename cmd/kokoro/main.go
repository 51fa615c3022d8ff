// Kokoro is the desktop companion's behavior and memory engine.
//
// The run command speaks newline-delimited JSON: sensor samples, signals,
// interactions and chat messages arrive on stdin; avatar commands, chat
// replies and snapshots are written to stdout. Logs go to stderr.
//
// Configuration is a YAML file (--config or KOKORO_CONFIG). Every key is
// optional. Useful environment variables:
//
//	KOKORO_CONFIG      - path to kokoro.yaml
//	KOKORO_DB_PATH     - SQLite database path
//	KOKORO_PROVIDER    - chat backend override (e.g. "openai", "ollama")
//	KOKORO_LOG_LEVEL   - "debug", "info", "warn", "error" (default: "info")
//	KOKORO_LOG_FORMAT  - "text" or "json" (default: "text")
//	KOKORO_FORCE_JSON  - "true" to skip SQLite and use the JSON store
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bdobrica/kokoro/common/environment"
	"github.com/bdobrica/kokoro/common/version"
	"github.com/bdobrica/kokoro/internal/kokoro/app"
	"github.com/bdobrica/kokoro/internal/kokoro/config"
	"github.com/bdobrica/kokoro/internal/kokoro/memory"
	"github.com/bdobrica/kokoro/internal/kokoro/observability"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "kokoro",
	Short:         "kokoro - desktop companion behavior and memory engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Info())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", environment.StringOr("KOKORO_CONFIG", ""), "path to kokoro.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format override (text, json)")
	rootCmd.AddCommand(runCmd, chatCmd, memoryCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "kokoro:", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and installs the global logger.
func loadConfig(stderr io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, observability.Setup(cfg.Log.Level, cfg.Log.Format, stderr), nil
}

// openCore opens the memory store and builds a core over it. The caller
// closes the returned store.
func openCore(ctx context.Context, cfg config.Config, logger *slog.Logger, sink app.Sink) (*app.Core, memory.Store, error) {
	s, err := memory.Open(ctx, memory.Options{
		Path:          cfg.Memory.Path,
		FallbackPath:  cfg.Memory.FallbackPath,
		ForceFallback: cfg.Memory.ForceFallback,
		FlushDelay:    cfg.Memory.FlushDelay,
		Limits:        cfg.Memory.Limits(),
		Logger:        logger,
	})
	if err != nil {
		return nil, nil, err
	}
	core, err := app.New(app.Options{Config: cfg, Store: s, Sink: sink, Logger: logger})
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return core, s, nil
}
