// Package orchestrator drives a process run from its first phase to a
// terminal status.
//
// # Overview
//
// An Orchestrator owns exactly one run at a time. It walks the phases of a
// process definition in order and, after each phase:
//
//	run phase → fold delta → evaluate gates → (BLOCK) breakpoint → next phase
//
// The phase runner only ever sees a snapshot of the run state and returns a
// delta; folding it is the orchestrator's job.
//
// # Run lifecycle
//
//	init → running → completed | aborted | failed | cancelled
//
// A required task failure fails the run. A reviewer rejecting a breakpoint
// aborts it. Cancelling the context cancels in-flight dispatches and the
// run ends cancelled. In every case Execute returns the Run, so its state,
// gate verdicts and audit trail stay available for postmortem review.
//
// # Breakpoints
//
// A gate verdict of BLOCK is a control-flow signal, not an error. It raises
// a breakpoint carrying the gate rationale and a curated slice of the run
// state, and the run waits for a decision:
//   - approve continues with the state unchanged except for the audit record
//   - modify applies metric, label and gate threshold overrides, then continues
//   - reject aborts the run; no later phase executes
//
// Phases may also declare unconditional breakpoints (when: always) that are
// raised after the gates regardless of their verdicts.
//
// # Usage Example
//
//	runner := phase.NewRunner(dispatcher, registry)
//	bps := breakpoint.NewController(breakpoint.WithChannel(ch))
//	orch := orchestrator.New(runner, bps,
//	    orchestrator.WithArchiver(orchestrator.NewMemoryArchive()),
//	    orchestrator.WithProgress(func(p orchestrator.Progress) { ... }),
//	)
//
//	run, err := orch.Execute(ctx, def)
//	if errors.Is(err, orchestrator.ErrRunAborted) {
//	    // a reviewer rejected; run.Snapshot() still has everything
//	}
package orchestrator
