package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/assessd/internal/config"
	"github.com/fyrsmithlabs/assessd/internal/contract"
	"github.com/fyrsmithlabs/assessd/internal/logging"
	"github.com/fyrsmithlabs/assessd/internal/telemetry"
)

func auditContract() *contract.Contract {
	return &contract.Contract{
		Kind: "audit",
		Input: contract.Schema{Fields: map[string]contract.Field{
			"url":   {Type: contract.TypeString, Required: true},
			"level": {Type: contract.TypeString, Enum: []any{"A", "AA", "AAA"}},
		}},
		Output: contract.Schema{Fields: map[string]contract.Field{
			"complianceScore": {Type: contract.TypeNumber, Required: true},
			"findings": {Type: contract.TypeArray, Required: true, Items: &contract.Field{
				Type: contract.TypeObject,
				Fields: map[string]contract.Field{
					"severity": {Type: contract.TypeString, Required: true},
				},
			}},
		}},
	}
}

func okOutput() map[string]any {
	return map[string]any{
		"complianceScore": 91.0,
		"findings":        []any{map[string]any{"severity": "minor"}},
	}
}

func staticExecutor(resp Response, err error) ExecutorFunc {
	return func(context.Context, Payload) (Response, error) { return resp, err }
}

func TestDispatch_Success(t *testing.T) {
	var got Payload
	exec := ExecutorFunc(func(_ context.Context, p Payload) (Response, error) {
		got = p
		return Response{Success: true, Output: okOutput()}, nil
	})

	res := New(exec).Dispatch(context.Background(), auditContract(), Invocation{
		TaskID: "audit-home",
		Input:  map[string]any{"url": "https://example.test", "level": "AA"},
	})

	require.True(t, res.Succeeded(), "%v", res.Err)
	assert.Equal(t, okOutput(), res.Output)
	assert.Equal(t, "audit-home", res.TaskID)
	_, err := uuid.Parse(res.CorrelationID)
	assert.NoError(t, err, "correlation id is generated")
	assert.Equal(t, res.CorrelationID, got.CorrelationID)
	assert.Equal(t, "audit", got.ContractKind)
}

func TestDispatch_InvalidInputNeverReachesExecutor(t *testing.T) {
	var calls atomic.Int32
	exec := ExecutorFunc(func(context.Context, Payload) (Response, error) {
		calls.Add(1)
		return Response{Success: true, Output: okOutput()}, nil
	})

	res := New(exec).Dispatch(context.Background(), auditContract(), Invocation{
		Input: map[string]any{"level": "B"},
	})

	require.Error(t, res.Err)
	assert.True(t, errors.Is(res.Err, ErrInvalidInput))
	assert.False(t, errors.Is(res.Err, ErrExecutionFailed))
	de, ok := AsError(res.Err)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"url", "level"}, de.Fields.Paths())
	assert.Zero(t, calls.Load())
	assert.Nil(t, res.Output)
}

func TestDispatch_InvalidOutput(t *testing.T) {
	exec := staticExecutor(Response{Success: true, Output: map[string]any{
		"complianceScore": "high",
		"findings":        []any{map[string]any{}, map[string]any{"severity": "minor"}},
	}}, nil)

	res := New(exec).Dispatch(context.Background(), auditContract(), Invocation{Input: map[string]any{"url": "u"}})

	require.True(t, errors.Is(res.Err, ErrInvalidOutput))
	de, _ := AsError(res.Err)
	assert.ElementsMatch(t, []string{"complianceScore", "findings[0].severity"}, de.Fields.Paths())
	assert.Nil(t, res.Output, "invalid output is never exposed")
}

func TestDispatch_MissingOutputIsInvalid(t *testing.T) {
	res := New(staticExecutor(Response{Success: true}, nil)).
		Dispatch(context.Background(), auditContract(), Invocation{Input: map[string]any{"url": "u"}})

	de, ok := AsError(res.Err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidOutput, de.Kind)
	assert.ElementsMatch(t, []string{"complianceScore", "findings"}, de.Fields.Paths())
}

func TestDispatch_ExecutorErrorPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	res := New(staticExecutor(Response{}, cause)).
		Dispatch(context.Background(), auditContract(), Invocation{Input: map[string]any{"url": "u"}})

	require.True(t, errors.Is(res.Err, ErrExecutionFailed))
	assert.True(t, errors.Is(res.Err, cause))
	de, _ := AsError(res.Err)
	assert.Equal(t, ReasonExecutorError, de.Reason)
}

func TestDispatch_ExecutorReportedFailure(t *testing.T) {
	res := New(staticExecutor(Response{Success: false, Error: "scanner crashed"}, nil)).
		Dispatch(context.Background(), auditContract(), Invocation{Input: map[string]any{"url": "u"}})

	de, ok := AsError(res.Err)
	require.True(t, ok)
	assert.Equal(t, KindExecutionFailed, de.Kind)
	assert.Equal(t, ReasonRejected, de.Reason)
	var ee *ExecutorError
	require.True(t, errors.As(res.Err, &ee))
	assert.Equal(t, "scanner crashed", ee.Message)
}

func TestDispatch_ExecutorPanic(t *testing.T) {
	exec := ExecutorFunc(func(context.Context, Payload) (Response, error) { panic("boom") })
	res := New(exec).Dispatch(context.Background(), auditContract(), Invocation{Input: map[string]any{"url": "u"}})

	de, ok := AsError(res.Err)
	require.True(t, ok)
	assert.Equal(t, ReasonExecutorError, de.Reason)
	assert.Contains(t, de.Error(), "executor panic: boom")
}

func TestDispatch_Timeout(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, _ Payload) (Response, error) {
		<-ctx.Done()
		return Response{}, ctx.Err()
	})

	res := New(exec).Dispatch(context.Background(), auditContract(), Invocation{
		Input:   map[string]any{"url": "u"},
		Timeout: 20 * time.Millisecond,
	})

	de, ok := AsError(res.Err)
	require.True(t, ok)
	assert.Equal(t, ReasonTimeout, de.Reason)
	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded))
}

func TestDispatch_TimeoutWithUncooperativeExecutor(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	exec := ExecutorFunc(func(context.Context, Payload) (Response, error) {
		<-release
		return Response{Success: true, Output: okOutput()}, nil
	})

	start := time.Now()
	res := New(exec, WithDefaultTimeout(20*time.Millisecond)).
		Dispatch(context.Background(), auditContract(), Invocation{Input: map[string]any{"url": "u"}})

	de, ok := AsError(res.Err)
	require.True(t, ok)
	assert.Equal(t, ReasonTimeout, de.Reason)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDispatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, _ Payload) (Response, error) {
		close(started)
		<-ctx.Done()
		return Response{}, ctx.Err()
	})

	go func() {
		<-started
		cancel()
	}()
	res := New(exec).Dispatch(ctx, auditContract(), Invocation{Input: map[string]any{"url": "u"}})

	de, ok := AsError(res.Err)
	require.True(t, ok)
	assert.Equal(t, ReasonCancelled, de.Reason)
	assert.True(t, errors.Is(res.Err, context.Canceled))
}

func TestDispatch_AlreadyCancelled(t *testing.T) {
	var calls atomic.Int32
	exec := ExecutorFunc(func(context.Context, Payload) (Response, error) {
		calls.Add(1)
		return Response{Success: true, Output: okOutput()}, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := New(exec).Dispatch(ctx, auditContract(), Invocation{Input: map[string]any{"url": "u"}})
	de, ok := AsError(res.Err)
	require.True(t, ok)
	assert.Equal(t, ReasonCancelled, de.Reason)
	assert.Zero(t, calls.Load())
}

func TestDispatcher_TimeoutPrecedence(t *testing.T) {
	d := New(nil, WithDefaultTimeout(time.Minute))
	c := auditContract()

	assert.Equal(t, time.Minute, d.timeoutFor(c, Invocation{}))

	c.Execution.Timeout = 30 * time.Second
	assert.Equal(t, 30*time.Second, d.timeoutFor(c, Invocation{}))
	assert.Equal(t, 5*time.Second, d.timeoutFor(c, Invocation{Timeout: 5 * time.Second}))

	assert.Zero(t, New(nil).timeoutFor(auditContract(), Invocation{}), "no default means no limit")
}

func TestDispatch_RateLimitRespectsDeadline(t *testing.T) {
	exec := staticExecutor(Response{Success: true, Output: okOutput()}, nil)
	d := New(exec, WithRateLimit(0.001, 1))
	inv := Invocation{Input: map[string]any{"url": "u"}, Timeout: 50 * time.Millisecond}

	first := d.Dispatch(context.Background(), auditContract(), inv)
	require.True(t, first.Succeeded())

	second := d.Dispatch(context.Background(), auditContract(), inv)
	de, ok := AsError(second.Err)
	require.True(t, ok)
	assert.Equal(t, ReasonTimeout, de.Reason)
}

func TestDispatch_RecordsEveryInvocation(t *testing.T) {
	store := NewMemoryRecordStore()
	exec := ExecutorFunc(func(_ context.Context, p Payload) (Response, error) {
		if p.Input["url"] == "bad" {
			return Response{}, errors.New("unreachable")
		}
		return Response{Success: true, Output: okOutput()}, nil
	})
	d := New(exec, WithRecordStore(store))
	ctx := context.Background()

	ok := d.Dispatch(ctx, auditContract(), Invocation{RunID: "run-1", TaskID: "a", CorrelationID: "c-1", Input: map[string]any{"url": "good"}})
	require.True(t, ok.Succeeded())
	bad := d.Dispatch(ctx, auditContract(), Invocation{RunID: "run-1", TaskID: "b", CorrelationID: "c-2", Input: map[string]any{"url": "bad"}})
	require.Error(t, bad.Err)

	rec, err := store.Get(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, rec.Status)
	assert.Equal(t, "good", rec.Input["url"])
	assert.Equal(t, 91.0, rec.Output["complianceScore"])

	rec, err = store.Get(ctx, "c-2")
	require.NoError(t, err)
	assert.Equal(t, string(KindExecutionFailed), rec.Status)
	assert.Equal(t, ReasonExecutorError, rec.Reason)
	assert.Contains(t, rec.Error, "unreachable")

	recs, err := store.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestDispatch_Telemetry(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	metrics, err := NewMetrics(tt.Meter(InstrumentationName))
	require.NoError(t, err)
	tl := logging.NewTestLogger()

	d := New(staticExecutor(Response{}, errors.New("down")),
		WithTracer(tt.Tracer(InstrumentationName)),
		WithMetrics(metrics),
		WithLogger(tl.Underlying()),
	)
	d.Dispatch(context.Background(), auditContract(), Invocation{TaskID: "t1", Input: map[string]any{"url": "u"}})

	tt.AssertSpanExists(t, "dispatch.Dispatch")
	tt.AssertSpanAttribute(t, "dispatch.Dispatch", "contract.kind", "audit")
	tt.AssertSpanAttribute(t, "dispatch.Dispatch", "failure.reason", "executor_error")

	total, ok := tt.CounterTotal(t, "dispatch.invocations.total")
	require.True(t, ok)
	assert.Equal(t, int64(1), total)
	failures, ok := tt.CounterTotal(t, "dispatch.failures.total")
	require.True(t, ok)
	assert.Equal(t, int64(1), failures)

	tl.AssertLogged(t, zapcore.WarnLevel, "task invocation failed")
	tl.AssertField(t, "task invocation failed", "failure.reason", "executor_error")
}

func TestConfigOptions(t *testing.T) {
	cfg := config.Default().Dispatch
	cfg.RatePerSecond = 5
	cfg.Burst = 2

	d := New(nil, ConfigOptions(cfg)...)
	assert.Equal(t, cfg.DefaultTimeout.Duration(), d.defaultTimeout)
	require.NotNil(t, d.limiter)
	assert.Equal(t, 2, d.limiter.Burst())
}

func TestRouter(t *testing.T) {
	r := NewRouter(nil).
		Handle("audit", staticExecutor(Response{Success: true, Output: map[string]any{"by": "audit"}}, nil))

	resp, err := r.Execute(context.Background(), Payload{ContractKind: "audit"})
	require.NoError(t, err)
	assert.Equal(t, "audit", resp.Output["by"])

	_, err = r.Execute(context.Background(), Payload{ContractKind: "scan"})
	var ee *ExecutorError
	assert.True(t, errors.As(err, &ee))
}
