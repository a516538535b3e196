package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/assessd/internal/config"
	"github.com/fyrsmithlabs/assessd/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Protocol = "carrier"

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_WithInjectedExporters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Metrics.Enabled = false
	cfg.Logs.Enabled = false

	spans := tracetest.NewInMemoryExporter()

	tel, err := New(context.Background(), cfg, WithTraceExporter(spans))
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())

	_, span := tel.Tracer("test").Start(context.Background(), "run")
	span.End()

	require.NoError(t, tel.ForceFlush(context.Background()))
	got := spans.GetSpans()
	require.Len(t, got, 1)
	assert.Equal(t, "run", got[0].Name)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = tel.Shutdown(ctx)
	assert.False(t, tel.Health().Healthy)
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.Nil(t, tel.LoggerProvider())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{}, tel.Health())
}

func TestTelemetry_DegradeRecordsEveryProblem(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	tel := &Telemetry{config: cfg}
	tel.degrade("tracer provider: %v", "dial refused")
	tel.degrade("meter provider: %v", "dial refused")

	h := tel.Health()
	assert.True(t, h.Enabled)
	assert.True(t, h.Healthy)
	assert.True(t, h.Degraded)
	assert.Equal(t, []string{"tracer provider: dial refused", "meter provider: dial refused"}, h.Problems)

	// Callers get a copy.
	h.Problems[0] = "changed"
	assert.Equal(t, "tracer provider: dial refused", tel.Health().Problems[0])
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled skips checks", func(c *Config) { c.Endpoint = "" }, false},
		{"enabled defaults", func(c *Config) { c.Enabled = true }, false},
		{"missing endpoint", func(c *Config) { c.Enabled = true; c.Endpoint = "" }, true},
		{"insecure remote", func(c *Config) { c.Enabled = true; c.Endpoint = "collector.example.com:4317" }, true},
		{"tls remote", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "collector.example.com:4317"
			c.Insecure = false
		}, false},
		{"http scheme local", func(c *Config) {
			c.Enabled = true
			c.Protocol = "http/protobuf"
			c.Endpoint = "http://127.0.0.1:4318"
		}, false},
		{"bad rate", func(c *Config) { c.Enabled = true; c.Sampling.Rate = 2 }, true},
		{"zero export interval", func(c *Config) { c.Enabled = true; c.Metrics.ExportInterval = 0 }, true},
		{"zero shutdown", func(c *Config) { c.Enabled = true; c.Shutdown.Timeout = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestConfig_ValidateReportsEveryProblem(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Protocol = "carrier"
	cfg.ServiceName = ""
	cfg.Sampling.Rate = -1

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"protocol", "service_name", "sampling.rate"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestConfig_IsLocalEndpoint(t *testing.T) {
	for endpoint, want := range map[string]bool{
		"localhost:4317":        true,
		"127.0.0.1:4317":        true,
		"[::1]:4317":            true,
		"http://localhost:4318": true,
		"otel.internal:4317":    false,
		"10.0.0.5:4317":         false,
		"127.0.0.1":             true,
		"localhost.evil.com:80": false,
	} {
		cfg := &Config{Endpoint: endpoint}
		assert.Equal(t, want, cfg.isLocalEndpoint(), endpoint)
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.ObservabilityConfig{
		EnableTelemetry: true,
		ServiceName:     "assessd-ci",
		Endpoint:        "localhost:4318",
		Protocol:        "http/protobuf",
		Insecure:        true,
		SampleRate:      0.25,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "assessd-ci", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, 0.25, cfg.Sampling.Rate)
	assert.NoError(t, cfg.Validate())
}

func TestTestTelemetry_SpansAndCounters(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	_, span := tt.Tracer("t").Start(ctx, "phase.run",
		oteltrace.WithAttributes(attribute.String("phase", "scan"), attribute.Int("tasks", 3)))
	span.End()

	tt.AssertSpanExists(t, "phase.run")
	tt.AssertSpanAttribute(t, "phase.run", "phase", "scan")
	tt.AssertSpanAttribute(t, "phase.run", "tasks", int64(3))
	assert.Equal(t, []string{"phase.run"}, tt.SpanNames())
	assert.Nil(t, tt.SpanByName("missing"))

	counter, err := tt.Meter("t").Int64Counter("runs.total")
	require.NoError(t, err)
	counter.Add(ctx, 2)
	counter.Add(ctx, 3)

	total, ok := tt.CounterTotal(t, "runs.total")
	require.True(t, ok)
	assert.Equal(t, int64(5), total)

	_, ok = tt.CounterTotal(t, "never.recorded")
	assert.False(t, ok)
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestNewTransport(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Endpoint = "https://collector.example.com:4318"
	cfg.Insecure = false
	cfg.TLSSkipVerify = true

	tr := newTransport(cfg)
	assert.Equal(t, "collector.example.com:4318", tr.endpoint)
	require.NotNil(t, tr.tls)
	assert.True(t, tr.tls.InsecureSkipVerify)

	cfg.Insecure = true
	assert.Nil(t, newTransport(cfg).tls, "plaintext export ignores tls settings")
}

func TestNewResource_InstancePerProcess(t *testing.T) {
	cfg := NewDefaultConfig()
	a, b := newResource(cfg), newResource(cfg)

	id := func(r interface{ Set() *attribute.Set }) string {
		v, _ := r.Set().Value("service.instance.id")
		return v.AsString()
	}
	assert.NotEmpty(t, id(a))
	assert.NotEqual(t, id(a), id(b))
}

type recordingLogExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *recordingLogExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *recordingLogExporter) Shutdown(context.Context) error   { return nil }
func (e *recordingLogExporter) ForceFlush(context.Context) error { return nil }

func (e *recordingLogExporter) bodies() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, r := range e.records {
		out = append(out, r.Body().AsString())
	}
	return out
}

func TestNew_LogsBridgedFromZap(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Metrics.Enabled = false

	logs := &recordingLogExporter{}
	tel, err := New(context.Background(), cfg,
		WithTraceExporter(tracetest.NewInMemoryExporter()),
		WithLogExporter(logs),
	)
	require.NoError(t, err)
	require.NotNil(t, tel.LoggerProvider())

	logCfg := logging.NewDefaultConfig()
	logCfg.Output = logging.OutputConfig{OTEL: true}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	require.NoError(t, err)

	logger.Info(context.Background(), "run started")
	require.NoError(t, tel.ForceFlush(context.Background()))
	assert.Contains(t, logs.bodies(), "run started")

	require.NoError(t, tel.Shutdown(context.Background()))
}
