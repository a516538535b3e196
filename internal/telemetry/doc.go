// Package telemetry sets up OpenTelemetry tracing and metrics for assessd.
//
// New builds tracer and meter providers exporting over OTLP (gRPC or
// HTTP/protobuf) and installs them as the otel globals:
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	metrics, err := orchestrator.NewMetrics(tel.Meter(orchestrator.InstrumentationName))
//	orch := orchestrator.New(runner, controller,
//	    orchestrator.WithTracer(tel.Tracer(orchestrator.InstrumentationName)),
//	    orchestrator.WithMetrics(metrics))
//
// Exporter failures mark the instance degraded rather than failing startup;
// Health lists them and the reviewer API reports it on /health.
// NewTestTelemetry records spans in memory and collects metrics through a
// manual reader.
package telemetry
