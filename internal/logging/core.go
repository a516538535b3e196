package logging

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// newCore builds the zap core for cfg: a redacting console core, an
// otelzap bridge core when a provider is available, or both teed, with
// sampling applied on top.
func newCore(cfg *Config, lp log.LoggerProvider) (zapcore.Core, error) {
	var cores []zapcore.Core

	if cfg.Output.Console {
		enc, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("redacting encoder: %w", err)
		}
		var w io.Writer = os.Stderr
		if cfg.Output.Writer != nil {
			w = cfg.Output.Writer
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(w), cfg.Level))
	}

	// Records leave through the otel log pipeline unencoded, so the
	// redaction rules do not apply to them.
	if cfg.Output.OTEL && lp != nil {
		cores = append(cores, otelzap.NewCore(otelScope(cfg), otelzap.WithLoggerProvider(lp)))
	}

	switch len(cores) {
	case 0:
		return nil, errors.New("no log output is enabled and available")
	case 1:
		return newSampledCore(cores[0], cfg.Sampling), nil
	default:
		return newSampledCore(zapcore.NewTee(cores...), cfg.Sampling), nil
	}
}

func otelScope(cfg *Config) string {
	if name := cfg.Fields["service"]; name != "" {
		return name
	}
	return "assessd"
}
