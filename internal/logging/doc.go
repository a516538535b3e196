// Package logging provides structured logging for assessd on top of zap.
//
// Logger adds context-aware methods that prepend run correlation fields
// (run.id, phase, task.id, correlation.id, request.id) and the active otel
// trace and span ids to every entry:
//
//	ctx = logging.WithRunID(ctx, run.ID)
//	ctx = logging.WithPhase(ctx, "scan")
//	logger.Info(ctx, "phase completed", zap.Int("tasks", 4))
//
// Console output goes to stderr (JSON or console) and, when an otel
// LoggerProvider is supplied, through the otelzap bridge. Sensitive keys
// and value patterns are redacted at the encoder. Levels below Error are
// sampled per level; Error and above never are.
//
// Packages that accept a *zap.Logger can be handed Underlying(); FromZap
// wraps one back. TestLogger records entries through zaptest/observer.
package logging
