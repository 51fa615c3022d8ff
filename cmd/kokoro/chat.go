package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// flushTimeout bounds the background summary and extraction work a one-shot
// command waits for before exiting.
const flushTimeout = 30 * time.Second

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send one chat message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return oneShot(cmd, strings.Join(args, " "))
	},
}

// oneShot runs a single chat turn, prints the reply and then completes the
// background memory work the turn queued.
func oneShot(cmd *cobra.Command, text string) error {
	cfg, logger, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	core, s, err := openCore(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	reply, err := core.Chat(ctx, text)
	if err != nil {
		return err
	}
	printReply(cmd.OutOrStdout(), reply.Text)

	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	core.Flush(flushCtx)
	return nil
}

func printReply(w io.Writer, text string) {
	fmt.Fprintln(w, strings.TrimRight(text, "\n"))
}
