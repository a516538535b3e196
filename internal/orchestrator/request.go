package orchestrator

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/assessd/internal/breakpoint"
	"github.com/fyrsmithlabs/assessd/internal/gate"
	"github.com/fyrsmithlabs/assessd/internal/process"
	"github.com/fyrsmithlabs/assessd/internal/runstate"
)

// blockRequest builds the breakpoint raised when gates block. spec may be
// the zero value, in which case title and question are generated.
func blockRequest(run *Run, st process.Stage, spec process.BreakpointSpec, blocking, all []gate.Verdict) breakpoint.Request {
	ids := make([]string, len(blocking))
	reasons := make([]string, len(blocking))
	for i, v := range blocking {
		ids[i] = v.GateID
		reasons[i] = fmt.Sprintf("%s: %s", v.GateID, v.Rationale)
	}

	title := spec.Title
	if title == "" {
		title = fmt.Sprintf("Gate %s blocked after phase %s", strings.Join(ids, ", "), st.ID)
	}
	question := spec.Question
	if question == "" {
		question = fmt.Sprintf("%s. Approve to continue, modify to override, or reject to abort the run.", strings.Join(reasons, "; "))
	}

	snap := run.State.Snapshot()
	ctx := curatedContext(st.ID, snap, all)
	ctx["blocking"] = verdictList(blocking)

	return breakpoint.Request{
		RunID:           run.ID,
		Phase:           st.ID,
		Gate:            strings.Join(ids, ","),
		Title:           title,
		Question:        question,
		Context:         ctx,
		ReferencedFiles: breakpoint.FilesFromArtifacts(snap.ArtifactsForPhase(st.ID)),
		Actions:         spec.Actions,
		Timeout:         spec.Timeout,
	}
}

// checkpointRequest builds an unconditional breakpoint.
func checkpointRequest(run *Run, st process.Stage, spec process.BreakpointSpec, verdicts []gate.Verdict) breakpoint.Request {
	title := spec.Title
	if title == "" {
		title = fmt.Sprintf("Checkpoint after phase %s", st.ID)
	}
	question := spec.Question
	if question == "" {
		question = fmt.Sprintf("Phase %s completed. Continue the run?", st.ID)
	}

	snap := run.State.Snapshot()
	return breakpoint.Request{
		RunID:           run.ID,
		Phase:           st.ID,
		Title:           title,
		Question:        question,
		Context:         curatedContext(st.ID, snap, verdicts),
		ReferencedFiles: breakpoint.FilesFromArtifacts(snap.ArtifactsForPhase(st.ID)),
		Actions:         spec.Actions,
		Timeout:         spec.Timeout,
	}
}

// curatedContext is the slice of run state a reviewer sees: metrics,
// labels, finding counts by severity, the phase's artifacts, optional task
// failures and the gate verdicts.
func curatedContext(phaseID string, snap runstate.Snapshot, verdicts []gate.Verdict) map[string]any {
	metrics := make(map[string]any, len(snap.Metrics))
	for k, v := range snap.Metrics {
		metrics[k] = v
	}
	labels := make(map[string]any, len(snap.Labels))
	for k, v := range snap.Labels {
		labels[k] = v
	}
	counts := make(map[string]any)
	for sev, n := range snap.FindingCounts() {
		counts[string(sev)] = n
	}

	artifacts := []any{}
	for _, a := range snap.ArtifactsForPhase(phaseID) {
		artifacts = append(artifacts, map[string]any{
			"path":    a.Path,
			"format":  a.Format,
			"label":   a.Label,
			"task_id": a.TaskID,
		})
	}

	ctx := map[string]any{
		"phase":     phaseID,
		"metrics":   metrics,
		"labels":    labels,
		"findings":  counts,
		"artifacts": artifacts,
	}
	if failed := snap.OptionalFailures(); len(failed) > 0 {
		list := make([]any, len(failed))
		for i, f := range failed {
			list[i] = map[string]any{
				"task_id": f.TaskID,
				"phase":   f.Phase,
				"reason":  f.Reason,
			}
		}
		ctx["optional_failures"] = list
	}
	if len(verdicts) > 0 {
		ctx["verdicts"] = verdictList(verdicts)
	}
	return ctx
}

func verdictList(verdicts []gate.Verdict) []any {
	out := make([]any, len(verdicts))
	for i, v := range verdicts {
		out[i] = map[string]any{
			"gate_id":   v.GateID,
			"metric":    v.Metric,
			"status":    string(v.Status),
			"rationale": v.Rationale,
			"measured":  v.Measured,
			"threshold": v.Threshold,
		}
	}
	return out
}
