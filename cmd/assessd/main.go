// Assessd runs declarative assessment processes.
//
// A process definition names the task contracts it uses and the phases to
// run. Tasks are dispatched to executors over NATS, phase outcomes are
// checked against quality gates, and blocked gates wait for a reviewer
// decision through the HTTP API, NATS or a Temporal review workflow.
//
// Usage:
//
//	# Check a definition without running it
//	assessd validate site-audit.yaml
//
//	# Run it with configuration from a file and ASSESSD_* variables
//	assessd run --config assessd.yaml site-audit.yaml
//
//	# Show version information
//	assessd version
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/assessd/internal/orchestrator"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes of the run command.
const (
	exitFailed    = 1
	exitAborted   = 2
	exitCancelled = 130
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "assessd",
		Short: "Run gated, multi-phase assessment processes",
		Long: `assessd executes process definitions: phases of tasks dispatched to
executors, quality gates evaluated after each phase, and human breakpoints
when a gate blocks.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the assessd config file")

	root.AddCommand(newValidateCmd())
	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "assessd by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

// exitCode distinguishes runs stopped by a reviewer or a signal from
// failures.
func exitCode(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrRunAborted):
		return exitAborted
	case errors.Is(err, orchestrator.ErrRunCancelled):
		return exitCancelled
	default:
		return exitFailed
	}
}
