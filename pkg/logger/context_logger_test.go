package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextLogger_AddsContextFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithClientID(WithRequestID(context.Background(), "req-1"), "abc_1")
	cl.LogError(ctx, errors.New("boom"), "persist failed")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "abc_1", fields["client_id"])
	assert.Equal(t, "boom", fields["error"])
	assert.Equal(t, "req-1", RequestID(ctx))
}

func TestContextLogger_NoFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)
	cl := NewContextLogger(base)

	assert.Same(t, base, cl.WithContext(context.Background()))
	cl.LogRequest(context.Background(), "POST", "/api/v1/sessions", 201, 4)
	assert.Equal(t, 1, logs.FilterMessage("http_request").Len())
}

func TestNew_FallsBackToInfo(t *testing.T) {
	l := New("not-a-level")
	assert.True(t, l.Core().Enabled(zap.InfoLevel))
	assert.False(t, l.Core().Enabled(zap.DebugLevel))

	assert.True(t, New("debug").Core().Enabled(zap.DebugLevel))
}
