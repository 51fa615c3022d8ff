package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bdobrica/kokoro/internal/kokoro/app"
	"github.com/bdobrica/kokoro/internal/kokoro/behavior"
	"github.com/bdobrica/kokoro/internal/kokoro/config"
)

const maxLineBytes = 1 << 20

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the event loop over NDJSON on stdin/stdout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		loader := config.NewLoader(configPath, logger)
		if _, err := loader.Load(); err != nil {
			return err
		}
		out := newEncoder(cmd.OutOrStdout())
		core, s, err := openCore(cmd.Context(), cfg, logger, out)
		if err != nil {
			return err
		}
		defer s.Close()
		loader.OnChange(core.Reconfigure)
		return serve(cmd.Context(), core, loader, cmd.InOrStdin(), out, logger)
	},
}

// inbound is one NDJSON line from the host.
type inbound struct {
	Type string `json:"type"`
	// sample
	Sample *behavior.Sample `json:"sample,omitempty"`
	// signal
	Kind    behavior.SignalKind `json:"kind,omitempty"`
	Payload json.RawMessage     `json:"payload,omitempty"`
	// interaction
	Interaction *behavior.Interaction `json:"interaction,omitempty"`
	// chat
	ID   string `json:"id,omitempty"`
	Text string `json:"text,omitempty"`
}

// outbound is one NDJSON line to the host.
type outbound struct {
	Type     string                  `json:"type"`
	ID       string                  `json:"id,omitempty"`
	Command  *behavior.ActionCommand `json:"command,omitempty"`
	Reply    *chatReply              `json:"reply,omitempty"`
	Snapshot *app.Snapshot           `json:"snapshot,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

type chatReply struct {
	Text      string `json:"text"`
	Command   bool   `json:"command,omitempty"`
	Verdict   string `json:"verdict,omitempty"`
	Backend   string `json:"backend,omitempty"`
	ToolCalls int    `json:"tool_calls,omitempty"`
	Refused   bool   `json:"refused,omitempty"`
}

// encoder serialises outbound lines from several goroutines.
type encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newEncoder(w io.Writer) *encoder { return &encoder{enc: json.NewEncoder(w)} }

func (e *encoder) write(o outbound) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(o)
}

// Emit implements app.Sink.
func (e *encoder) Emit(_ context.Context, cmd behavior.ActionCommand) error {
	return e.write(outbound{Type: "action", Command: &cmd})
}

// serve runs the core, the config watcher and the stdin dispatcher until
// ctx is cancelled or stdin reaches EOF.
func serve(ctx context.Context, core *app.Core, loader *config.Loader, in io.Reader, out *encoder, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The scanner cannot be interrupted, so it runs outside the group.
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	chats := make(chan inbound, 4)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return core.Run(gctx) })
	g.Go(func() error { return loader.Watch(gctx) })
	g.Go(func() error {
		// Queued chats finish before the loop is stopped.
		defer cancel()
		for msg := range chats {
			answerChat(gctx, core, msg, out, logger)
		}
		return nil
	})
	g.Go(func() error {
		defer close(chats)
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					select {
					case err := <-scanErr:
						if err != nil {
							return fmt.Errorf("read stdin: %w", err)
						}
					default:
					}
					logger.Info("kokoro: input closed, shutting down")
					return nil
				}
				dispatch(gctx, core, line, chats, out, logger)
			}
		}
	})
	return g.Wait()
}

// dispatch routes one input line. Malformed lines are reported on stdout and
// skipped.
func dispatch(ctx context.Context, core *app.Core, line []byte, chats chan<- inbound, out *encoder, logger *slog.Logger) {
	if len(line) == 0 {
		return
	}
	var msg inbound
	if err := json.Unmarshal(line, &msg); err != nil {
		reportError(out, "", fmt.Errorf("decode input: %w", err), logger)
		return
	}
	var err error
	switch msg.Type {
	case "sample":
		if msg.Sample == nil {
			err = errors.New("sample: missing body")
			break
		}
		err = core.Sample(ctx, *msg.Sample)
	case "signal":
		var sig behavior.Signal
		if sig, err = behavior.DecodeSignal(msg.Kind, msg.Payload); err == nil {
			err = core.Signal(ctx, sig)
		}
	case "interaction":
		if msg.Interaction == nil {
			err = errors.New("interaction: missing body")
			break
		}
		err = core.Interact(ctx, *msg.Interaction)
	case "chat":
		select {
		case chats <- msg:
		case <-ctx.Done():
		}
	case "snapshot":
		var snap app.Snapshot
		if snap, err = core.Snapshot(ctx); err == nil {
			err = out.write(outbound{Type: "snapshot", ID: msg.ID, Snapshot: &snap})
		}
	default:
		err = fmt.Errorf("unknown type %q", msg.Type)
	}
	if err != nil && ctx.Err() == nil {
		reportError(out, msg.ID, err, logger)
	}
}

func answerChat(ctx context.Context, core *app.Core, msg inbound, out *encoder, logger *slog.Logger) {
	r, err := core.Chat(ctx, msg.Text)
	if err != nil {
		reportError(out, msg.ID, err, logger)
		return
	}
	reply := &chatReply{
		Text:      r.Text,
		Command:   r.Command,
		Verdict:   string(r.Verdict),
		Backend:   r.Backend,
		ToolCalls: r.ToolCalls,
		Refused:   r.Refused,
	}
	if err := out.write(outbound{Type: "reply", ID: msg.ID, Reply: reply}); err != nil {
		logger.Warn("kokoro: write reply failed", "err", err)
	}
}

func reportError(out *encoder, id string, err error, logger *slog.Logger) {
	logger.Warn("kokoro: input rejected", "id", id, "err", err)
	if werr := out.write(outbound{Type: "error", ID: id, Error: err.Error()}); werr != nil {
		logger.Warn("kokoro: write error failed", "err", werr)
	}
}
