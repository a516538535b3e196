package logging

import (
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry, Trace included, for assertions. Pass
// Underlying() to components that take a *zap.Logger.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger returns a TestLogger with nothing recorded.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

// All returns the recorded entries.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// FilterMessage returns the entries whose message contains msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessage(msg)
}

// Reset drops everything recorded so far.
func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

func (t *TestLogger) logged(level zapcore.Level, msgContains string) bool {
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msgContains) {
			return true
		}
	}
	return false
}

// hasField reports whether an entry with message msg carries a field
// matching fn.
func (t *TestLogger) hasField(msg string, fn func(zapcore.Field) bool) bool {
	for _, e := range t.observed.FilterMessage(msg).All() {
		for _, f := range e.Context {
			if fn(f) {
				return true
			}
		}
	}
	return false
}

// AssertLogged fails tb unless an entry at level contains msgContains.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	if !t.logged(level, msgContains) {
		tb.Errorf("expected log at %v containing %q, logs: %+v", level, msgContains, t.observed.All())
	}
}

// AssertNotLogged fails tb if an entry at level contains msgContains.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	if t.logged(level, msgContains) {
		tb.Errorf("unexpected log at %v containing %q", level, msgContains)
	}
}

// AssertField fails tb unless an entry with message msg has key set to
// expected. Values compare as decoded by ContextMap, so zap.Int fields are
// int64.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected any) {
	tb.Helper()
	for _, e := range t.observed.FilterMessage(msg).All() {
		if got, ok := e.ContextMap()[key]; ok && reflect.DeepEqual(got, expected) {
			return
		}
	}
	tb.Errorf("field %q=%v not found in message %q", key, expected, msg)
}

// AssertNoSecrets fails tb if an entry would have been redacted by the
// default rules: a plain string under a sensitive key, or a message or
// string value matching a redaction pattern. The observer sees fields
// before any encoder does, so this checks what callers hand the logger.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	r, err := newRedactor(NewDefaultConfig().Redaction)
	if err != nil {
		tb.Fatalf("default redaction rules: %v", err)
	}

	for _, e := range t.observed.All() {
		if r.matches(e.Message) {
			tb.Errorf("sensitive pattern in message: %q", e.Message)
		}
		for _, f := range e.Context {
			if f.Type != zapcore.StringType || strings.HasPrefix(f.String, "[REDACTED") {
				continue
			}
			if r.sensitiveKey(f.Key) && f.String != "" {
				tb.Errorf("sensitive field %q not redacted: %q", f.Key, f.String)
			}
			if r.matches(f.String) {
				tb.Errorf("sensitive pattern in field %q: %q", f.Key, f.String)
			}
		}
	}
}

// AssertRunCorrelation fails tb unless msg was logged with run.id=runID.
func (t *TestLogger) AssertRunCorrelation(tb testing.TB, msg, runID string) {
	tb.Helper()
	if !t.hasField(msg, func(f zapcore.Field) bool { return f.Key == "run.id" && f.String == runID }) {
		tb.Errorf("message %q missing run.id=%q", msg, runID)
	}
}

// AssertTraceCorrelation fails tb unless msg was logged with a trace_id.
func (t *TestLogger) AssertTraceCorrelation(tb testing.TB, msg string) {
	tb.Helper()
	if !t.hasField(msg, func(f zapcore.Field) bool { return f.Key == "trace_id" }) {
		tb.Errorf("message %q missing trace_id", msg)
	}
}
