package logging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{" error ", zapcore.ErrorLevel},
		{"verbose", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseLevel(tc.in))
		})
	}
}

func TestNewLogger_WritesFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "gate.log")

	logger, err := NewLogger("debug", logFile)
	require.NoError(t, err)
	logger.Info("gate started", zap.Int("residents", 3))
	_ = logger.Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"gate started"`)
	assert.Contains(t, string(data), `"residents":3`)
}

func TestContextLogger(t *testing.T) {
	fallback := zap.NewNop()

	_, ok := LoggerFromContext(context.Background())
	assert.False(t, ok)
	assert.Same(t, fallback, FromContext(context.Background(), fallback))
	assert.NotNil(t, FromContext(context.Background(), nil))

	logger := zap.NewExample()
	ctx := ContextWithLogger(context.Background(), logger)
	got, ok := LoggerFromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, logger, got)
	assert.Same(t, logger, FromContext(ctx, fallback))
}
