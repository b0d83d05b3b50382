package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "console output", opts: Options{}},
		{name: "JSON output", opts: Options{JSONOutput: true, Verbosity: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(func() {
				Cleanup()
				Logger = zap.NewNop().Sugar()
			})

			require.NoError(t, Initialize(tt.opts))
			assert.NotNil(t, Logger)
			assert.Equal(t, tt.opts.JSONOutput, JSONOutput)
		})
	}
}

func TestInitializeWritesLogFile(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(func() {
		Logger = zap.NewNop().Sugar()
		LogFile = ""
	})

	require.NoError(t, Initialize(Options{Directory: filepath.Join(dir, "logs")}))
	Debugw("debug entry reaches the file even at user verbosity", FieldItemID, "abc")
	Cleanup()

	require.NotEmpty(t, LogFile)
	data, err := os.ReadFile(LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"item_id":"abc"`)
	assert.True(t, strings.HasPrefix(filepath.Base(LogFile), "mintdoi-"))
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(-1))
}

func TestLevelName(t *testing.T) {
	assert.Equal(t, "User", LevelName(0))
	assert.Equal(t, "Debug (-vv)", LevelName(2))
	assert.Equal(t, "Trace (-vvv)", LevelName(5))
	assert.True(t, ShouldLogTrace(3))
	assert.False(t, ShouldLogTrace(2))
}

func TestLoggerFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	parent := zap.New(core).Sugar()

	ctx := WithItemID(WithRunID(context.Background(), "run-1"), "item-9")
	LoggerFromContext(ctx, parent).Infow("stage committed")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "run-1", fields[FieldRunID])
	assert.Equal(t, "item-9", fields[FieldItemID])
}

func TestLoggerFromContextWithoutFields(t *testing.T) {
	core, _ := observer.New(zapcore.DebugLevel)
	parent := zap.New(core).Sugar()
	assert.Same(t, parent, LoggerFromContext(context.Background(), parent))
}
