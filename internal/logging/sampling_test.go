package logging

import (
	"fmt"
	"testing"
	"time"

	"github.com/fyrsmithlabs/assessd/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func sampledLogger(levels map[zapcore.Level]LevelSamplingConfig) (*zap.Logger, *observer.ObservedLogs) {
	core, observed := observer.New(TraceLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Minute),
		Levels:  levels,
	})
	return zap.New(sampled), observed
}

func TestSampling_PerLevelRates(t *testing.T) {
	z, observed := sampledLogger(map[zapcore.Level]LevelSamplingConfig{
		zapcore.DebugLevel: {Initial: 2, Thereafter: 0},
		zapcore.InfoLevel:  {Initial: 5, Thereafter: 0},
	})

	for i := 0; i < 20; i++ {
		z.Debug("same debug")
		z.Info("same info")
		z.Warn("same warn")
	}

	assert.Equal(t, 2, observed.FilterMessage("same debug").Len())
	assert.Equal(t, 5, observed.FilterMessage("same info").Len())
	assert.Equal(t, 20, observed.FilterMessage("same warn").Len(), "levels without config are not sampled")
}

func TestSampling_ErrorsNeverSampled(t *testing.T) {
	z, observed := sampledLogger(map[zapcore.Level]LevelSamplingConfig{
		zapcore.ErrorLevel: {Initial: 1, Thereafter: 0},
	})

	for i := 0; i < 50; i++ {
		z.Error("dispatch failed")
	}
	assert.Equal(t, 50, observed.FilterMessage("dispatch failed").Len())
}

func TestSampling_DistinctMessagesCountedSeparately(t *testing.T) {
	z, observed := sampledLogger(map[zapcore.Level]LevelSamplingConfig{
		zapcore.InfoLevel: {Initial: 1, Thereafter: 0},
	})

	for i := 0; i < 3; i++ {
		z.Info(fmt.Sprintf("phase %d done", i))
	}
	assert.Equal(t, 3, observed.Len())
}

func TestSampling_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	assert.Same(t, core, newSampledCore(core, SamplingConfig{Enabled: false}))
}

func TestSampling_ChildLoggersShareQuota(t *testing.T) {
	z, observed := sampledLogger(map[zapcore.Level]LevelSamplingConfig{
		zapcore.InfoLevel: {Initial: 3, Thereafter: 0},
	})

	for i := 0; i < 5; i++ {
		z.With(zap.String("run.id", fmt.Sprintf("r%d", i))).Info("task dispatched")
	}

	entries := observed.FilterMessage("task dispatched").All()
	if assert.Len(t, entries, 3) {
		assert.Equal(t, "r0", entries[0].ContextMap()["run.id"])
	}
}
