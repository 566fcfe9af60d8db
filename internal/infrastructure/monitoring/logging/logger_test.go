package logging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/turtacn/mbnrg-pip/pkg/types/common"
)

func newObserved(level zapcore.Level) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return &zapLogger{z: zap.New(core, zap.AddCallerSkip(1))}, logs
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		l, err := NewLogger(LogConfig{Level: LevelInfo, Format: format})
		require.NoError(t, err, format)
		assert.NotNil(t, l)
	}
}

func TestNewLogger_EmptyOutputPaths(t *testing.T) {
	l, err := NewLogger(LogConfig{OutputPaths: []string{}})
	assert.Error(t, err)
	assert.Nil(t, l)
}

func TestNewLogger_UnopenablePath(t *testing.T) {
	_, err := NewLogger(LogConfig{OutputPaths: []string{"/nonexistent-dir/x/y.log"}})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestFields_TypedValues(t *testing.T) {
	l, logs := newObserved(zapcore.DebugLevel)
	l.Info("evaluated",
		String("set", "na"),
		Int("terms", 924),
		Int64("n", 3),
		Float64("energy", -1.25),
		Bool("gradient", true),
		Duration("took", time.Millisecond),
		Any("ids", []string{"a"}),
		Err(errors.New("boom")),
	)

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "na", ctx["set"])
	assert.Equal(t, int64(924), ctx["terms"])
	assert.Equal(t, -1.25, ctx["energy"])
	assert.Equal(t, true, ctx["gradient"])
	assert.Equal(t, time.Millisecond, ctx["took"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestErr_Nil(t *testing.T) {
	assert.Equal(t, "<nil>", Err(nil).Value)
}

func TestLevelFiltering(t *testing.T) {
	l, logs := newObserved(zapcore.WarnLevel)
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")
	assert.Equal(t, 2, logs.Len())
}

func TestWithAndNamed(t *testing.T) {
	l, logs := newObserved(zapcore.DebugLevel)
	child := l.Named("worker").With(String("job", "j1"))
	child.Info("done")
	l.Info("parent")

	all := logs.All()
	require.Len(t, all, 2)
	assert.Equal(t, "worker", all[0].LoggerName)
	assert.Equal(t, "j1", all[0].ContextMap()["job"])
	assert.NotContains(t, all[1].ContextMap(), "job")
}

func TestWithContext_RequestID(t *testing.T) {
	l, logs := newObserved(zapcore.DebugLevel)
	ctx := context.WithValue(context.Background(), common.ContextKeyRequestID, "req-7")
	WithContext(ctx, l).Info("hit")
	WithContext(context.Background(), l).Info("miss")

	all := logs.All()
	require.Len(t, all, 2)
	assert.Equal(t, "req-7", all[0].ContextMap()["request_id"])
	assert.NotContains(t, all[1].ContextMap(), "request_id")
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Debug("x")
	l.Info("x")
	l.Warn("x")
	l.Error("x")
	assert.NotNil(t, l.With(String("k", "v")).Named("n"))
}

func TestDefault_SetAndGet(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	l, _ := newObserved(zapcore.InfoLevel)
	SetDefault(l)
	assert.Same(t, l, Default())

	SetDefault(nil)
	assert.Same(t, l, Default())
}

func TestConstructors(t *testing.T) {
	assert.NotNil(t, NewDefaultLogger())
	assert.NotNil(t, NewDevelopmentLogger())
}

func TestSetLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	l, err := NewLogger(LogConfig{Level: LevelWarn, OutputPaths: []string{path}})
	require.NoError(t, err)
	child := l.Named("child")

	child.Info("hidden")
	assert.True(t, SetLevel(l, LevelDebug))
	child.Info("shown")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")

	assert.False(t, SetLevel(NewNopLogger(), LevelDebug))
}
