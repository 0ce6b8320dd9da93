// Package main is the relay daemon CLI: a local JSON-RPC gateway over
// interactive AI agent sessions with tool calling, steering, and
// interruption across three inference backends.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build metadata, overridable at link time:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Relay agent session daemon",
		Long:          "Relay runs interactive AI agent sessions behind a local JSON-RPC websocket gateway.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd(), buildSetKeyCmd(), buildVersionCmd())
	return root
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relay %s (commit %s)\n", version, commit)
		},
	}
}
