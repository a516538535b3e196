package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assessd/internal/config"
	"github.com/fyrsmithlabs/assessd/internal/gate"
	"github.com/fyrsmithlabs/assessd/internal/orchestrator"
)

func newRunCmd(configPath *string) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "run <definition>",
		Short: "Run a process definition to completion",
		Long: `Run a process definition. Tasks are dispatched to executors listening on
NATS; blocked gates wait for a decision through the reviewer API on
/api/v1/breakpoints, or through NATS or Temporal when configured.

The exit status is 0 when the run completes, 2 when a reviewer rejects a
breakpoint or a breakpoint times out, 130 when interrupted and 1 otherwise.

Examples:
  # Run with defaults (NATS on localhost, reviewer API on 127.0.0.1:9191)
  assessd run site-audit.yaml

  # Resolve breakpoints over NATS and print the run as JSON
  ASSESSD_BREAKPOINT_CHANNEL=nats assessd run --json site-audit.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runProcess(ctx, cfg, args[0], cmd.OutOrStdout(), jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the finished run as JSON")
	return cmd
}

// runProcess executes the definition at defPath and reports the outcome on
// out. The returned error is the run's *orchestrator.RunError, if any.
func runProcess(ctx context.Context, cfg *config.Config, defPath string, out io.Writer, jsonOut bool) error {
	var onProgress orchestrator.ProgressCallback
	if !jsonOut {
		onProgress = func(p orchestrator.Progress) {
			fmt.Fprintf(out, "[%3d%%] %s\n", p.Percentage, p.Message)
		}
	}

	a, err := newApp(ctx, cfg, defPath, onProgress)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srvErr := make(chan error, 1)
	go func() {
		err := a.server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error(ctx, "http server failed", zap.Error(err))
			cancel()
		}
		srvErr <- err
	}()

	run, runErr := a.orchestrator.Execute(ctx, a.def)

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer stop()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn(shutdownCtx, "http server shutdown failed", zap.Error(err))
	}
	if err := <-srvErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Join(fmt.Errorf("http server: %w", err), runErr)
	}

	if run == nil {
		return runErr
	}
	if err := report(out, run.Snapshot(), jsonOut); err != nil {
		return err
	}
	return runErr
}

func report(out io.Writer, s orchestrator.Summary, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Fprintf(out, "\nrun %s %s after %s phases, %d blocking verdicts\n", s.ID, s.Status, s.Progress, blockedGates(s))
	for _, g := range s.Gates {
		for _, v := range g.Verdicts {
			fmt.Fprintf(out, "  %-5s %s/%s: %s\n", v.Status, g.Phase, v.GateID, v.Rationale)
		}
	}
	for _, f := range s.State.OptionalFailures() {
		fmt.Fprintf(out, "  optional task %s/%s failed: %s\n", f.Phase, f.TaskID, f.Reason)
	}
	for _, rec := range s.State.Audit {
		fmt.Fprintf(out, "  breakpoint %s in %s: %s by %s\n", rec.BreakpointID, rec.Phase, rec.Decision, orNobody(rec.ResolvedBy))
	}
	if s.Error != "" {
		fmt.Fprintf(out, "  error: %s\n", s.Error)
	}
	return nil
}

func orNobody(s string) string {
	if s == "" {
		return "unknown reviewer"
	}
	return s
}

// blockedGates counts BLOCK verdicts across the run.
func blockedGates(s orchestrator.Summary) int {
	n := 0
	for _, g := range s.Gates {
		n += len(gate.Blocking(g.Verdicts))
	}
	return n
}
