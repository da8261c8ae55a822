package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/foundry/internal/config"
)

func TestBuildLogger_ParsesConfiguredLevel(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Logging.Level = "debug"

	log, err := buildLogger(cfg)
	require.NoError(t, err)
	defer log.Sync()

	assert.True(t, log.Enabled(zapcore.DebugLevel))
}

func TestBuildLogger_RejectsUnknownLevel(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Logging.Level = "chatty"

	_, err := buildLogger(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid log level "chatty"`)
}
