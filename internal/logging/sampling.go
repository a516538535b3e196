package logging

import (
	"go.uber.org/zap/zapcore"
)

// sampledCore routes each entry to the sampler configured for its level.
// Levels with no sampler, and Error and above, go straight to the wrapped
// core.
type sampledCore struct {
	zapcore.Core
	samplers map[zapcore.Level]zapcore.Core
}

func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	sc := &sampledCore{Core: core, samplers: make(map[zapcore.Level]zapcore.Core)}
	for lvl, rate := range cfg.Levels {
		if lvl >= zapcore.ErrorLevel {
			continue
		}
		sc.samplers[lvl] = zapcore.NewSamplerWithOptions(core, cfg.Tick.Duration(), rate.Initial, rate.Thereafter)
	}
	return sc
}

func (c *sampledCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s, ok := c.samplers[e.Level]; ok {
		return s.Check(e, ce)
	}
	return c.Core.Check(e, ce)
}

// With keeps the sampler counters shared with the parent, so a child
// logger does not get a fresh quota.
func (c *sampledCore) With(fields []zapcore.Field) zapcore.Core {
	child := &sampledCore{Core: c.Core.With(fields), samplers: make(map[zapcore.Level]zapcore.Core, len(c.samplers))}
	for lvl, s := range c.samplers {
		child.samplers[lvl] = s.With(fields)
	}
	return child
}
