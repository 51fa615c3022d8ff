package main

import (
	"strings"

	"github.com/spf13/cobra"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and edit stored memories",
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show memory counts with the latest notes and facts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return oneShot(cmd, "/memory")
	},
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Rank stored memories against a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return oneShot(cmd, "/memory search "+strings.Join(args, " "))
	},
}

var memoryForgetCmd = &cobra.Command{
	Use:   "forget note|fact <id>",
	Short: "Delete one note or fact",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return oneShot(cmd, "/forget "+args[0]+" "+args[1])
	},
}

var memoryClearCmd = &cobra.Command{
	Use:       "clear notes|facts|all",
	Short:     "Delete stored notes, facts or both",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"notes", "facts", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return oneShot(cmd, "/memory clear "+args[0])
	},
}

func init() {
	memoryCmd.AddCommand(memoryListCmd, memorySearchCmd, memoryForgetCmd, memoryClearCmd)
}
