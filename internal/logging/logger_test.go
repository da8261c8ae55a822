package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_DefaultConfig(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format")
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithRunID(context.Background(), "run-123")
	ctx = WithWave(ctx, 2)
	ctx = WithFeature(ctx, "auth")

	tl.Info(ctx, "dispatching")

	entries := tl.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "run-123", fields["run.id"])
	assert.Equal(t, int64(2), fields["wave"])
	assert.Equal(t, "auth", fields["feature"])
}

func TestLogger_ContextFields_Empty(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "no correlation")

	entries := tl.All()
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].ContextMap())
}

func TestLogger_Named(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("dispatch")
	child.Warn(context.Background(), "slow worker")

	entries := tl.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "dispatch", entries[0].LoggerName)
}

func TestTestLogger_AssertLogged(t *testing.T) {
	tl := NewTestLogger()
	tl.Error(context.Background(), "merge conflict on branch feat/auth")
	tl.AssertLogged(t, zapcore.ErrorLevel, "merge conflict")
	tl.AssertNotLogged(t, zapcore.WarnLevel, "merge conflict")
}
