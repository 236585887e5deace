package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_DefaultIsUsable(t *testing.T) {
	assert.NotPanics(t, func() {
		Info("before init", zap.String("k", "v"))
	})
}

func TestInit(t *testing.T) {
	restore := Replace(Logger)
	defer restore()

	require.NoError(t, Init(false))
	assert.NotNil(t, Logger)
	assert.False(t, Logger.Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, Init(true))
	assert.True(t, Logger.Core().Enabled(zapcore.DebugLevel))
}

func TestReplace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := Replace(zap.New(core))

	Warn("rate limit exceeded", zap.Int64("user_id", 42))
	With(zap.String("job_id", "j1")).Info("job done")

	restore()
	Info("after restore")

	require.Equal(t, 2, logs.Len())
	entries := logs.All()
	assert.Equal(t, "rate limit exceeded", entries[0].Message)
	assert.Equal(t, int64(42), entries[0].ContextMap()["user_id"])
	assert.Equal(t, "j1", entries[1].ContextMap()["job_id"])
}
