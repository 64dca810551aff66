package logging

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want zapcore.Level
	}{
		{"quiet", Options{}, zapcore.WarnLevel},
		{"verbose", Options{Verbose: true}, zapcore.DebugLevel},
		{"explicit level wins", Options{Verbose: true, Level: "error"}, zapcore.ErrorLevel},
		{"development", Options{Development: true, Level: "info"}, zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			opts.OutputPaths = []string{filepath.Join(t.TempDir(), "log.json")}
			logger, err := New(opts)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want))
			assert.False(t, logger.Core().Enabled(tt.want-1))
		})
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Options{Level: "chatty"})
	assert.Error(t, err)
}

func TestContextLogger(t *testing.T) {
	logger, logs := TestLogger()

	ctx := ContextWithLogger(context.Background(), logger)
	ctx = With(ctx, zap.String("run_id", "r1"))
	FromContext(ctx).Info("round finished")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "round finished", entry.Message)
	assert.Equal(t, "r1", entry.ContextMap()["run_id"])

	assert.NotNil(t, FromContext(context.Background()))
}
