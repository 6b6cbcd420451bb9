// Package main provides the CLI entry point for autoagentd, the
// operator-supervised autonomous coding agent.
//
// autoagentd drives an LLM through a tool-use loop against a local project
// while enforcing safety policies, checkpointing every turn, and streaming
// status events to stdout. Durable state (runs, traces, approvals,
// threads, prompts) lives in the control plane, addressed over HTTP.
//
// # Basic Usage
//
// Start a run:
//
//	autoagentd run --project ./myapp --objective "Write hello.py that prints Hello"
//
// Resume or retry a checkpointed run:
//
//	autoagentd resume <run-id>
//	autoagentd retry <run-id>
//
// Abort a run, resolve an approval, validate a trace export:
//
//	autoagentd abort <run-id>
//	autoagentd approve <approval-id> --context-hash <hash>
//	autoagentd replay run.jsonl
//
// # Environment Variables
//
//   - AUTOAGENT_API_URL: Control-plane base URL (default: http://localhost:8080)
//   - AUTOAGENT_DATA_DIR: Data directory override
//   - AUTOAGENT_CONTROL_DB_PATH: Control-plane database path override
//   - PORT: Metrics/health listener port override
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "autoagentd",
		Short: "autoagentd - operator-supervised autonomous coding agent",
		Long: `autoagentd drives an LLM through a tool-use loop against a local project.

Every tool call passes the safety pipeline (command inspection, egress
policy, tool policy, operator approval) before execution, every turn is
checkpointed to the control plane, and the whole run streams status
events to stdout as JSON lines.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildResumeCmd(),
		buildRetryCmd(),
		buildAbortCmd(),
		buildApproveCmd(),
		buildSweepCmd(),
		buildReplayCmd(),
	)

	return rootCmd
}
