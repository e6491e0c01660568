// Package main provides the CLI entry point for mcptap, a transparent
// stdio interceptor for the MCP tool protocol.
//
// # Basic Usage
//
// Intercept a tool server, recording every request/response pair:
//
//	mcptap proxy --target "npx my-mcp-server --stdio"
//
// Stress a tool server with schema-derived mutations:
//
//	mcptap stress --target "npx my-mcp-server --stdio"
//
// Serve the journal, live event stream, and stress launcher over HTTP:
//
//	mcptap serve --config mcptap.yaml
//
// Compare two recorded runs:
//
//	mcptap diff <baseline-run-or-trace> <current-run-or-trace>
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "mcptap",
		Short:         "Transparent interceptor for MCP stdio tool servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var debug bool
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}
		// Stdout carries the intercepted protocol; logs go to stderr.
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}

	root.AddCommand(
		buildProxyCmd(),
		buildStressCmd(),
		buildServeCmd(),
		buildDiffCmd(),
		buildProjectsCmd(),
		buildAgentsCmd(),
		buildRunsCmd(),
		buildVersionCmd(),
	)

	// An interrupt cancels the command context: subprocess-driving
	// commands kill their tool server and still drive the run to a
	// terminal state.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mcptap %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
