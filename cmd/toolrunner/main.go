// Package main provides the toolrunner binary.
//
// One binary serves all three tiers of the sandboxed tool pipeline:
//
//	toolrunner guard  --config toolrunner.yaml   # edge authorizer
//	toolrunner runner --config toolrunner.yaml   # orchestrator
//	toolrunner job    --request=<encoded>        # inside an isolation unit
//
// # Environment Variables
//
// The guard and runner read their settings from the environment, which
// overrides any config file:
//
//   - SANDBOX_GUARD_TOKEN: bearer token callers present to the guard
//   - ALLOWLIST_PATH: agent/chat allowlist file
//   - TOOL_RUNNER_URL: runner /run endpoint
//   - TOOL_RUNNER_TOKEN: bearer token for the guard to runner hop
//   - JOB_IMAGE: image every isolation unit runs
//   - SANDBOX_NET_NAME: restricted network for curl-enabled units
//   - HOST_WORKSPACES_ROOT: host directory holding per-agent workspaces
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
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

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "toolrunner",
		Short: "Sandboxed tool execution for chat agents",
		Long: `toolrunner executes file_read, file_write and shell_exec on behalf of
chat agents. Requests pass an edge guard, are re-validated by the runner and
execute in a fresh, network-restricted isolation unit.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildGuardCmd(),
		buildRunnerCmd(),
		buildJobCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "toolrunner %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
