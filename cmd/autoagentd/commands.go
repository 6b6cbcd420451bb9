// commands.go contains all cobra command definitions and their flag
// configurations. Each command builder creates a command and wires it to
// its handler in handlers.go.
package main

import (
	"github.com/spf13/cobra"
)

// defaultConfigName is looked up in the working directory when --config is
// not given.
const defaultConfigName = "autoagent.yaml"

// =============================================================================
// Run Command
// =============================================================================

func buildRunCmd() *cobra.Command {
	var (
		configPath     string
		projectDir     string
		projectID      string
		objective      string
		providerHandle string
		maxTokens      int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a new run against a local project",
		Long: `Start a new run: create the run record, wait for operator approval,
then enter the turn loop. Status events stream to stdout as JSON lines;
structured logs go to stderr.

The run ends when the model produces a turn with no tool calls, the
25-turn bound is hit, or the run fails. Ctrl-C aborts the run: the
cancellation token is signalled, a terminal aborted checkpoint is
persisted, and the run record becomes cancelled.`,
		Example: `  # Run against the current directory
  autoagentd run --objective "Write hello.py that prints Hello"

  # Run against another project with a specific provider
  autoagentd run --project ./myapp --provider anthropic-main \
    --objective "Add input validation to the signup form"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), runOptions{
				configPath:     configPath,
				projectDir:     projectDir,
				projectID:      projectID,
				objective:      objective,
				providerHandle: providerHandle,
				maxTokens:      maxTokens,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	cmd.Flags().StringVarP(&projectDir, "project", "p", ".", "Project directory the run operates on")
	cmd.Flags().StringVar(&projectID, "project-id", "", "Project identifier for the run record (defaults to the project directory name)")
	cmd.Flags().StringVarP(&objective, "objective", "o", "", "Objective for the run (required)")
	cmd.Flags().StringVar(&providerHandle, "provider", "", "Provider handle from the config (defaults to the first configured provider)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 4096, "Max output tokens per provider call")
	_ = cmd.MarkFlagRequired("objective")

	return cmd
}

// =============================================================================
// Resume / Retry / Abort Commands
// =============================================================================

func buildResumeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a checkpointed run from its replay boundary",
		Long: `Resume a run from its persisted checkpoint. Resume is refused when the
checkpoint lacks a replay boundary, when the run already completed or was
aborted, or when a pending tool approval for the run is still valid (or an
approved one has gone stale).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResumeOrRetry(cmd.Context(), configPath, args[0], false)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	return cmd
}

func buildRetryCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "retry <run-id>",
		Short: "Retry a run from its original input, discarding turn progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResumeOrRetry(cmd.Context(), configPath, args[0], true)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	return cmd
}

func buildAbortCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "abort <run-id>",
		Short: "Abort a run: persist an aborted checkpoint and cancel the run record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAbort(cmd.Context(), configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	return cmd
}

// =============================================================================
// Approve Command
// =============================================================================

func buildApproveCmd() *cobra.Command {
	var (
		configPath  string
		reject      bool
		contextHash string
	)
	cmd := &cobra.Command{
		Use:   "approve <approval-id>",
		Short: "Resolve a pending approval",
		Long: `Resolve a pending approval as the operator. For tool-scoped approvals
pass --context-hash with the hash shown in the approval record: a
mismatch, an expired record, or an already-resolved record is rejected
by the control plane.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprove(cmd.Context(), configPath, args[0], !reject, contextHash)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject instead of approve")
	cmd.Flags().StringVar(&contextHash, "context-hash", "", "Expected context hash for tool-scoped approvals")
	return cmd
}

// =============================================================================
// Sweep Command
// =============================================================================

func buildSweepCmd() *cobra.Command {
	var (
		configPath string
		once       bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the retention sweeper against the control plane",
		Long: `Delete traces, artifacts, prompts and prompt-cache entries older than
their configured retention windows. By default the sweeper keeps running
on its cleanup interval; --once performs a single sweep and exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), configPath, once)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	cmd.Flags().BoolVar(&once, "once", false, "Sweep once and exit")
	return cmd
}

// =============================================================================
// Replay Command
// =============================================================================

func buildReplayCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Validate and replay a JSONL trace export",
		Long: `Validate a JSONL trace export for a run and print a report to stdout:
the event count per event type, then any warnings and errors. The events
themselves are not printed.

Errors (the command fails):
- A line does not parse as a trace event, or has no eventType
- Sequence numbers are not strictly increasing
- Events belong to more than one run
- The file has no events

Warnings:
- The first event is not run.started, or the last is not run.finished or run.error`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(args[0], jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the validation report as JSON")
	return cmd
}
