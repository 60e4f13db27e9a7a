package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"skillkeeper/internal/repl"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start the interactive chat surface",
	Long: `Start an interactive shell. Free text routes through the workflow
router; pending gates, new proposals, and fix lifecycle events stream in as
notifications and can be resolved inline.

Type /help in the shell for available commands.`,
	Run: func(cmd *cobra.Command, args []string) {
		r, err := repl.New(&repl.Config{
			Router:  rtr,
			Gates:   gateEngine,
			Loop:    loop,
			Fixes:   fixEngine,
			Logger:  logger,
			Emitter: emitter,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create REPL: %v\n", err)
			os.Exit(1)
		}
		if err := r.Run(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(replCmd)
}
