package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func withObserved(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := Logger
	Logger = zap.New(core)
	t.Cleanup(func() { Logger = prev })
	return logs
}

func TestCtxAddsTraceIDs(t *testing.T) {
	logs := withObserved(t)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	Ctx(ctx).Info("hello")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields["trace_id"])
		assert.Equal(t, "00f067aa0ba902b7", fields["span_id"])
	}
}

func TestCtxWithoutSpan(t *testing.T) {
	logs := withObserved(t)

	Ctx(context.Background()).Info("plain")
	Named("engine").Info("named")

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.NotContains(t, entries[0].ContextMap(), "trace_id")
		assert.Equal(t, "engine", entries[1].ContextMap()["component"])
	}
}

func TestParseZapLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, parseZapLevel("warning"))
	assert.Equal(t, zapcore.DebugLevel, parseZapLevel("DEBUG"))
	assert.Equal(t, zapcore.InfoLevel, parseZapLevel("verbose"))
	assert.Equal(t, zapcore.InfoLevel, parseZapLevel(""))
}
