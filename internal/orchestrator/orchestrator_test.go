package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/assessd/internal/breakpoint"
	"github.com/fyrsmithlabs/assessd/internal/contract"
	"github.com/fyrsmithlabs/assessd/internal/dispatch"
	"github.com/fyrsmithlabs/assessd/internal/gate"
	"github.com/fyrsmithlabs/assessd/internal/logging"
	"github.com/fyrsmithlabs/assessd/internal/phase"
	"github.com/fyrsmithlabs/assessd/internal/process"
	"github.com/fyrsmithlabs/assessd/internal/runstate"
	"github.com/fyrsmithlabs/assessd/internal/telemetry"
)

type respondFunc func(ctx context.Context) (dispatch.Response, error)

func returns(output map[string]any) respondFunc {
	return func(context.Context) (dispatch.Response, error) {
		return dispatch.Response{Success: true, Output: output}, nil
	}
}

// harness wires a real phase runner, dispatcher and breakpoint controller
// around a scripted executor keyed by the task id in the input.
type harness struct {
	ctrl    *breakpoint.Controller
	channel *breakpoint.MemoryChannel
	archive *MemoryArchive
	orch    *Orchestrator

	mu       sync.Mutex
	calls    []string
	progress []Progress
}

func newHarness(t *testing.T, responses map[string]respondFunc, opts ...Option) *harness {
	t.Helper()
	h := &harness{channel: breakpoint.NewMemoryChannel(), archive: NewMemoryArchive()}

	reg := contract.NewRegistry()
	require.NoError(t, reg.Register("scan",
		contract.Schema{AllowUnknown: true},
		contract.Schema{AllowUnknown: true, Fields: map[string]contract.Field{
			"findings": {Type: contract.TypeArray, Required: true},
		}},
		contract.Metadata{Title: "Scan"}, contract.Execution{}))
	require.NoError(t, reg.Register("score",
		contract.Schema{AllowUnknown: true},
		contract.Schema{AllowUnknown: true, Fields: map[string]contract.Field{
			"score": {Type: contract.TypeNumber, Required: true},
		}},
		contract.Metadata{Title: "Score"}, contract.Execution{}))
	reg.Seal()

	exec := dispatch.ExecutorFunc(func(ctx context.Context, p dispatch.Payload) (dispatch.Response, error) {
		id, _ := p.Input["task"].(string)
		h.mu.Lock()
		h.calls = append(h.calls, id)
		h.mu.Unlock()
		if fn, ok := responses[id]; ok {
			return fn(ctx)
		}
		return dispatch.Response{Success: true, Output: map[string]any{"findings": []any{}}}, nil
	})

	h.ctrl = breakpoint.NewController(breakpoint.WithChannel(h.channel))
	runner := phase.NewRunner(dispatch.New(exec), reg)
	opts = append([]Option{
		WithArchiver(h.archive),
		WithProgress(func(p Progress) {
			h.mu.Lock()
			h.progress = append(h.progress, p)
			h.mu.Unlock()
		}),
	}, opts...)
	h.orch = New(runner, h.ctrl, opts...)
	return h
}

// review answers every published breakpoint with decide.
func (h *harness) review(t *testing.T, decide func(bp *breakpoint.Breakpoint) breakpoint.Decision) {
	h.channel.OnPublish = func(bp *breakpoint.Breakpoint) {
		assert.NoError(t, h.ctrl.Resolve(bp.ID, decide(bp)))
	}
}

func (h *harness) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func approve(*breakpoint.Breakpoint) breakpoint.Decision {
	return breakpoint.Decision{Action: breakpoint.ActionApprove, ResolvedBy: "alice"}
}

func reject(*breakpoint.Breakpoint) breakpoint.Decision {
	return breakpoint.Decision{Action: breakpoint.ActionReject, ResolvedBy: "bob", Comment: "not shippable"}
}

func task(id, kind string) phase.Task {
	return phase.Task{ID: id, Kind: kind, Input: map[string]any{"task": id}}
}

func stage(id string, tasks ...phase.Task) process.Stage {
	return process.Stage{Phase: phase.Phase{ID: id, Tasks: tasks}}
}

func definition(t *testing.T, stages ...process.Stage) *process.Definition {
	t.Helper()
	def := &process.Definition{Name: "audit", Phases: stages}
	require.NoError(t, process.Validate(def, nil))
	return def
}

func TestExecute_ParallelOptionalFailureReachesLastPhase(t *testing.T) {
	scanned := func(id string) respondFunc {
		return returns(map[string]any{
			"findings":  []any{},
			"artifacts": []any{id + ".json"},
			"metrics":   map[string]any{id + "Score": 90},
		})
	}
	h := newHarness(t, map[string]respondFunc{
		"crawl":      returns(map[string]any{"findings": []any{}, "artifacts": []any{"sitemap.json"}}),
		"axe":        scanned("axe"),
		"lighthouse": scanned("lighthouse"),
		"deps":       scanned("deps"),
		"vuln": func(context.Context) (dispatch.Response, error) {
			return dispatch.Response{}, errors.New("scanner crashed")
		},
		"score": returns(map[string]any{"score": 91}),
	})

	vuln := task("vuln", "scan")
	vuln.Criticality = phase.Optional
	scan := stage("scan", task("axe", "scan"), task("lighthouse", "scan"), vuln, task("deps", "scan"))
	scan.Mode = phase.ModeParallel
	score := task("score", "score")
	score.Export = map[string]string{"complianceScore": "score"}

	run, err := h.orch.Execute(context.Background(), definition(t,
		stage("discover", task("crawl", "scan")),
		scan,
		stage("report", score),
	))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status())

	snap := run.State.Snapshot()
	assert.Equal(t, []string{"discover", "scan", "report"}, snap.Phases)

	var scanPaths []string
	for _, a := range snap.ArtifactsForPhase("scan") {
		scanPaths = append(scanPaths, a.Path)
	}
	assert.ElementsMatch(t, []string{"axe.json", "lighthouse.json", "deps.json"}, scanPaths)
	assert.Contains(t, snap.Metrics, "axeScore")
	assert.NotContains(t, snap.Metrics, "vulnScore")
	assert.Equal(t, 91.0, snap.Metrics["complianceScore"])

	require.Len(t, snap.Failures, 1)
	assert.Equal(t, "vuln", snap.Failures[0].TaskID)
	assert.True(t, snap.Failures[0].Optional)
	assert.Contains(t, h.Calls(), "score")
}

func TestExecute_CriticalFindingsBlockThenApprove(t *testing.T) {
	h := newHarness(t, map[string]respondFunc{
		"axe": returns(map[string]any{
			"findings": []any{
				map[string]any{"severity": "critical", "category": "contrast"},
				map[string]any{"severity": "critical", "category": "keyboard"},
				map[string]any{"severity": "minor"},
			},
			"artifacts": []any{map[string]any{"path": "axe/report.json", "format": "json", "label": "axe"}},
			"metrics":   map[string]any{"complianceScore": 64},
		}),
	})

	var atBreakpoint runstate.Snapshot
	h.review(t, func(bp *breakpoint.Breakpoint) breakpoint.Decision {
		atBreakpoint = h.orch.Current().State.Snapshot()
		return approve(bp)
	})

	scan := stage("scan", task("axe", "scan"))
	scan.Gates = []gate.Gate{{ID: "no-critical", Metric: "criticalFindings", Comparator: gate.EQ, Threshold: 0, Severity: gate.SeverityCritical}}

	run, err := h.orch.Execute(context.Background(), definition(t, scan, stage("next", task("follow-up", "scan"))))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status())
	assert.Equal(t, []string{"axe", "follow-up"}, h.Calls())

	gates := run.Gates()
	require.Len(t, gates, 1)
	assert.Equal(t, gate.StatusBlock, gates[0].Verdicts[0].Status)

	published := h.channel.Published()
	require.Len(t, published, 1)
	bp := published[0]
	assert.Equal(t, "no-critical", bp.Gate)
	assert.Equal(t, "scan", bp.Phase)
	assert.Contains(t, bp.Question, "criticalFindings")
	assert.Equal(t, 2, bp.Context["findings"].(map[string]any)["critical"])
	assert.Equal(t, 64.0, bp.Context["metrics"].(map[string]any)["complianceScore"])
	assert.Len(t, bp.Context["blocking"], 1)
	assert.Equal(t, []breakpoint.File{{Path: "axe/report.json", Format: "json", Label: "axe"}}, bp.ReferencedFiles)

	final := run.State.Snapshot()
	assert.Equal(t, atBreakpoint.Artifacts, final.Artifacts)
	assert.Equal(t, atBreakpoint.Findings, final.Findings)
	assert.Equal(t, atBreakpoint.Metrics, final.Metrics)
	assert.Equal(t, atBreakpoint.Labels, final.Labels)
	assert.Empty(t, atBreakpoint.Audit)
	require.Len(t, final.Audit, 1)
	assert.Equal(t, runstate.AuditRecord{
		BreakpointID: bp.ID,
		Phase:        "scan",
		Gate:         "no-critical",
		Question:     bp.Question,
		Decision:     "approve",
		ResolvedBy:   "alice",
		ResolvedAt:   final.Audit[0].ResolvedAt,
	}, final.Audit[0])
}

func TestExecute_ScoreThresholdIsInclusive(t *testing.T) {
	tests := []struct {
		score   float64
		verdict gate.Status
		status  Status
	}{
		{score: 80, verdict: gate.StatusPass, status: StatusCompleted},
		{score: 79.999, verdict: gate.StatusBlock, status: StatusAborted},
	}
	for _, tt := range tests {
		t.Run(string(tt.verdict), func(t *testing.T) {
			h := newHarness(t, map[string]respondFunc{
				"score": returns(map[string]any{"score": tt.score}),
			})
			h.review(t, reject)

			sc := task("score", "score")
			sc.Export = map[string]string{"score": "score"}
			st := stage("report", sc)
			st.Gates = []gate.Gate{{ID: "min-score", Metric: "score", Comparator: gate.GTE, Threshold: 80}}

			run, err := h.orch.Execute(context.Background(), definition(t, st))
			assert.Equal(t, tt.status, run.Status())
			assert.Equal(t, tt.verdict, run.Gates()[0].Verdicts[0].Status)
			if tt.status == StatusCompleted {
				assert.NoError(t, err)
				assert.Empty(t, h.channel.Published())
			} else {
				assert.ErrorIs(t, err, ErrRunAborted)
			}
		})
	}
}

func TestExecute_MissingRequiredOutputFailsRun(t *testing.T) {
	h := newHarness(t, map[string]respondFunc{
		"axe": returns(map[string]any{"violations": 3}),
	})

	run, err := h.orch.Execute(context.Background(), definition(t,
		stage("scan", task("crawl", "scan"), task("axe", "scan")),
		stage("report", task("score", "score")),
	))
	require.Error(t, err)
	require.NotNil(t, run, "the run is returned on failure")

	assert.Equal(t, StatusFailed, run.Status())
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.ErrorIs(t, err, phase.ErrPhaseFailed)
	assert.ErrorIs(t, err, dispatch.ErrInvalidOutput)
	assert.NotErrorIs(t, err, ErrRunAborted)

	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "scan", re.Phase)
	assert.Equal(t, run.ID, re.RunID)
	assert.Equal(t, err, run.Err())

	de, ok := dispatch.AsError(err)
	require.True(t, ok)
	assert.Equal(t, []string{"findings"}, de.Fields.Paths())

	assert.Equal(t, []string{"crawl", "axe"}, h.Calls(), "no later phase runs")
	snap := run.State.Snapshot()
	assert.Empty(t, snap.Phases)
	require.Len(t, snap.Failures, 1)
	assert.Equal(t, "invalid_output", snap.Failures[0].Reason)

	archived, err := h.archive.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, archived.Status)
	assert.NotEmpty(t, archived.Error)
}

func TestExecute_RejectAborts(t *testing.T) {
	h := newHarness(t, map[string]respondFunc{
		"axe": returns(map[string]any{
			"findings": []any{map[string]any{"severity": "critical"}},
		}),
	})
	h.review(t, reject)

	scan := stage("scan", task("axe", "scan"))
	scan.Gates = []gate.Gate{{ID: "no-critical", Metric: "findings.critical", Comparator: gate.EQ}}

	run, err := h.orch.Execute(context.Background(), definition(t, scan, stage("publish", task("upload", "scan"))))
	require.ErrorIs(t, err, ErrRunAborted)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, StatusAborted, run.Status())
	assert.NotContains(t, h.Calls(), "upload")

	_, current := run.Cursor()
	assert.Equal(t, "scan", current)

	archived, err := h.archive.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, archived.Status)
	require.Len(t, archived.State.Audit, 1)
	assert.Equal(t, "reject", archived.State.Audit[0].Decision)
	assert.Equal(t, "not shippable", archived.State.Audit[0].Comment)
	assert.Len(t, archived.State.Findings, 1, "last consistent state is preserved")
}

func TestExecute_ModifyAppliesOverrides(t *testing.T) {
	h := newHarness(t, map[string]respondFunc{
		"audit": returns(map[string]any{"findings": []any{}, "metrics": map[string]any{"complianceScore": 70}}),
	})
	h.review(t, func(bp *breakpoint.Breakpoint) breakpoint.Decision {
		err := h.ctrl.Resolve(bp.ID, breakpoint.Decision{
			Action:  breakpoint.ActionModify,
			Payload: map[string]any{"thresholds": map[string]any{"unknown-gate": 1}},
		})
		assert.ErrorIs(t, err, breakpoint.ErrInvalidModifyPayload)

		return breakpoint.Decision{
			Action: breakpoint.ActionModify,
			Payload: map[string]any{
				"metrics":    map[string]any{"complianceScore": 72},
				"labels":     map[string]any{"reviewed": "yes"},
				"thresholds": map[string]any{"final": 50},
			},
			ResolvedBy: "carol",
		}
	})

	first := stage("audit", task("audit", "scan"))
	first.Gates = []gate.Gate{{ID: "early", Metric: "complianceScore", Comparator: gate.GTE, Threshold: 80}}
	second := stage("report", task("report", "scan"))
	second.Gates = []gate.Gate{{ID: "final", Metric: "complianceScore", Comparator: gate.GTE, Threshold: 90}}

	run, err := h.orch.Execute(context.Background(), definition(t, first, second))
	require.NoError(t, err)
	assert.Len(t, h.channel.Published(), 1, "the relaxed gate does not block")

	snap := run.State.Snapshot()
	assert.Equal(t, 72.0, snap.Metrics["complianceScore"])
	assert.Equal(t, "yes", snap.Labels["reviewed"])
	require.Len(t, snap.Audit, 1)
	assert.Equal(t, "modify", snap.Audit[0].Decision)
	assert.Contains(t, snap.Audit[0].Payload, "thresholds")

	gates := run.Gates()
	require.Len(t, gates, 2)
	final := gates[1].Verdicts[0]
	assert.Equal(t, gate.StatusPass, final.Status)
	assert.Equal(t, 50.0, final.Threshold)
}

func TestExecute_CancelledDuringFanOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, map[string]respondFunc{
		"a": func(ctx context.Context) (dispatch.Response, error) {
			cancel()
			<-ctx.Done()
			return dispatch.Response{}, ctx.Err()
		},
		"b": func(ctx context.Context) (dispatch.Response, error) {
			<-ctx.Done()
			return dispatch.Response{}, ctx.Err()
		},
	})

	scan := stage("scan", task("a", "scan"), task("b", "scan"))
	scan.Mode = phase.ModeParallel

	run, err := h.orch.Execute(ctx, definition(t, scan, stage("later", task("c", "scan"))))
	require.ErrorIs(t, err, ErrRunCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrRunFailed)
	assert.Equal(t, StatusCancelled, run.Status())
	assert.NotContains(t, h.Calls(), "c")
}

func TestExecute_CancelledWhileSuspended(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, map[string]respondFunc{
		"axe": returns(map[string]any{"findings": []any{map[string]any{"severity": "critical"}}}),
	})
	h.channel.OnPublish = func(*breakpoint.Breakpoint) { cancel() }

	scan := stage("scan", task("axe", "scan"))
	scan.Gates = []gate.Gate{{ID: "g", Metric: "criticalFindings", Comparator: gate.EQ}}

	run, err := h.orch.Execute(ctx, definition(t, scan))
	require.ErrorIs(t, err, ErrRunCancelled)
	assert.ErrorIs(t, err, breakpoint.ErrBreakpointCancelled)
	assert.Equal(t, StatusCancelled, run.Status())

	bp, err := h.ctrl.Get(h.channel.Published()[0].ID)
	require.NoError(t, err)
	assert.Equal(t, breakpoint.StatusCancelled, bp.Status)
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := newHarness(t, nil)
	run, err := h.orch.Execute(ctx, definition(t, stage("scan", task("a", "scan"))))
	require.ErrorIs(t, err, ErrRunCancelled)
	assert.Equal(t, StatusCancelled, run.Status())
	assert.Empty(t, h.Calls())
}

func TestExecute_BreakpointTimeoutAborts(t *testing.T) {
	h := newHarness(t, map[string]respondFunc{
		"axe": returns(map[string]any{"findings": []any{map[string]any{"severity": "critical"}}}),
	})

	scan := stage("scan", task("axe", "scan"))
	scan.Gates = []gate.Gate{{ID: "g", Metric: "criticalFindings", Comparator: gate.EQ}}
	scan.Breakpoints = []process.BreakpointSpec{{ID: "review", Title: "Critical findings", Timeout: 20 * time.Millisecond}}

	run, err := h.orch.Execute(context.Background(), definition(t, scan))
	require.ErrorIs(t, err, ErrRunAborted)
	assert.ErrorIs(t, err, breakpoint.ErrBreakpointTimedOut)
	assert.Equal(t, StatusAborted, run.Status())
	assert.Equal(t, "Critical findings", h.channel.Published()[0].Title)
	assert.Empty(t, run.State.Snapshot().Audit)
}

func TestExecute_AlwaysBreakpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.review(t, approve)

	report := stage("report", task("a", "scan"))
	report.Gates = []gate.Gate{{ID: "none", Metric: "findings.count", Comparator: gate.EQ}}
	report.Breakpoints = []process.BreakpointSpec{{
		ID:       "sign-off",
		When:     process.WhenAlways,
		Title:    "Sign-off",
		Question: "Publish?",
		Actions:  []breakpoint.Action{breakpoint.ActionApprove, breakpoint.ActionReject},
	}}

	run, err := h.orch.Execute(context.Background(), definition(t, report))
	require.NoError(t, err)

	published := h.channel.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "Sign-off", published[0].Title)
	assert.Empty(t, published[0].Gate)
	assert.Equal(t, []breakpoint.Action{breakpoint.ActionApprove, breakpoint.ActionReject}, published[0].Actions)
	assert.Contains(t, published[0].Context, "verdicts")

	audit := run.State.Snapshot().Audit
	require.Len(t, audit, 1)
	assert.Equal(t, "Publish?", audit[0].Question)
}

func TestExecute_OneRunAtATime(t *testing.T) {
	h := newHarness(t, map[string]respondFunc{
		"axe": returns(map[string]any{"findings": []any{map[string]any{"severity": "critical"}}}),
	})
	scan := stage("scan", task("axe", "scan"))
	scan.Gates = []gate.Gate{{ID: "g", Metric: "criticalFindings", Comparator: gate.EQ}}
	def := definition(t, scan)

	type outcome struct {
		run *Run
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		run, err := h.orch.Execute(context.Background(), def)
		done <- outcome{run, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bp, err := h.channel.Next(ctx)
	require.NoError(t, err)

	current := h.orch.Current()
	require.NotNil(t, current)
	assert.Equal(t, bp.RunID, current.ID)
	assert.Equal(t, StatusRunning, current.Status())

	run, err := h.orch.Execute(context.Background(), def)
	assert.Nil(t, run)
	assert.ErrorIs(t, err, ErrRunInProgress)

	require.NoError(t, h.ctrl.Resolve(bp.ID, approve(bp)))
	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, StatusCompleted, out.run.Status())
	assert.Nil(t, h.orch.Current())
}

func TestExecute_NoPhases(t *testing.T) {
	h := newHarness(t, nil)
	run, err := h.orch.Execute(context.Background(), &process.Definition{Name: "empty"})
	assert.Nil(t, run)
	assert.ErrorIs(t, err, ErrNoPhases)
}

func TestExecute_DoesNotMutateDefinition(t *testing.T) {
	h := newHarness(t, nil)
	def := definition(t, stage("a", task("x", "scan")))
	before := def.Clone()

	_, err := h.orch.Execute(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, before, def)
}

func TestExecute_Progress(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.orch.Execute(context.Background(), definition(t,
		stage("a", task("x", "scan")),
		stage("b", task("y", "scan")),
	))
	require.NoError(t, err)

	var events []Event
	for _, p := range h.progress {
		events = append(events, p.Event)
	}
	assert.Equal(t, []Event{
		EventRunStarted,
		EventPhaseStarted, EventPhaseCompleted,
		EventPhaseStarted, EventPhaseCompleted,
		EventRunFinished,
	}, events)
	assert.Equal(t, 50, h.progress[2].Percentage)
	last := h.progress[len(h.progress)-1]
	assert.Equal(t, 100, last.Percentage)
	assert.Equal(t, StatusCompleted, last.Status)
}

func TestExecute_TelemetryAndLogs(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	log := logging.NewTestLogger()
	metrics, err := NewMetrics(tel.Meter(InstrumentationName))
	require.NoError(t, err)

	h := newHarness(t, map[string]respondFunc{
		"a": returns(map[string]any{"findings": []any{}, "metrics": map[string]any{"score": 10}}),
	},
		WithTracer(tel.Tracer(InstrumentationName)),
		WithMetrics(metrics),
		WithLogger(log.Underlying()),
	)
	h.review(t, approve)

	st := stage("a", task("a", "scan"))
	st.Gates = []gate.Gate{{ID: "g", Metric: "score", Comparator: gate.GTE, Threshold: 50, Severity: gate.SeverityWarning}}

	run, err := h.orch.Execute(context.Background(), definition(t, st))
	require.NoError(t, err)

	tel.AssertSpanExists(t, "orchestrator.Execute")
	tel.AssertSpanAttribute(t, "orchestrator.Execute", "run.status", "completed")
	tel.AssertSpanAttribute(t, "orchestrator.Execute", "run.id", run.ID)

	total, ok := tel.CounterTotal(t, "orchestrator.runs.total")
	require.True(t, ok)
	assert.Equal(t, int64(1), total)
	verdicts, ok := tel.CounterTotal(t, "orchestrator.gate.verdicts.total")
	require.True(t, ok)
	assert.Equal(t, int64(1), verdicts)

	log.AssertLogged(t, zapcore.WarnLevel, "gate did not pass")
	log.AssertRunCorrelation(t, "run finished", run.ID)
}

func TestRunError(t *testing.T) {
	cause := errors.New("boom")
	for status, sentinel := range map[Status]error{
		StatusAborted:   ErrRunAborted,
		StatusFailed:    ErrRunFailed,
		StatusCancelled: ErrRunCancelled,
	} {
		err := error(&RunError{RunID: "r1", Status: status, Phase: "scan", Cause: cause})
		assert.ErrorIs(t, err, sentinel)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "run r1 "+string(status)+" in phase scan")
		for _, other := range []error{ErrRunAborted, ErrRunFailed, ErrRunCancelled} {
			if other != sentinel {
				assert.NotErrorIs(t, err, other)
			}
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusInit, StatusRunning, true},
		{StatusInit, StatusCompleted, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusAborted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusRunning, StatusInit, false},
		{StatusCompleted, StatusRunning, false},
		{StatusAborted, StatusCompleted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
	for _, s := range []Status{StatusCompleted, StatusAborted, StatusFailed, StatusCancelled} {
		assert.True(t, s.IsTerminal())
	}
	assert.False(t, StatusRunning.IsTerminal())
}

func TestRun_CursorOnlyMovesForward(t *testing.T) {
	run := newRun("p", 3, time.Now())
	require.NoError(t, run.advance(0, "a"))
	require.NoError(t, run.advance(1, "b"))
	assert.Error(t, run.advance(1, "b"))
	assert.Error(t, run.advance(0, "a"))
	i, id := run.Cursor()
	assert.Equal(t, 1, i)
	assert.Equal(t, "b", id)
}
