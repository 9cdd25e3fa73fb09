package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerAddsRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	ctx := ContextWithRequestID(context.Background(), "req-1")
	l.Info(ctx, "signed up", zap.String("team_id", "t1"))
	l.Warn(context.Background(), "no request")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
	assert.Equal(t, "t1", entries[0].ContextMap()["team_id"])
	_, ok := entries[1].ContextMap()["request_id"]
	assert.False(t, ok)
}

func TestContextLogger(t *testing.T) {
	l := Nop()
	ctx := ContextWithLogger(context.Background(), l)
	got, ok := GetFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, l, got)

	_, ok = GetFromContext(context.Background())
	assert.False(t, ok)
}

func TestBuildRejectsUnknownLevel(t *testing.T) {
	_, err := Build("loud", false)
	require.Error(t, err)

	l, err := Build("debug", true)
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Info(context.Background(), "ignored") })
}
