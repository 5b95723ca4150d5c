package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTraceControlCommand(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := TraceControlCommand(context.Background(), "announce", "alice")
	assert.NotEmpty(t, TraceID(ctx))
	RecordError(ctx, errors.New("boom"))
	MeasureDuration(ctx, time.Now().Add(-5*time.Millisecond))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "control.announce", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), ClientIDKey.String("alice"))
	assert.Len(t, ended[0].Events(), 1, "error recorded as an event")
}

func TestTracePlaybackAndRepository(t *testing.T) {
	recorder := withRecorder(t)

	_, span := TracePlayback(context.Background(), "play", 3, 2)
	span.End()
	_, span = TraceRepositoryOperation(context.Background(), "get_track", "redis")
	span.End()

	names := []string{}
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"playback.play", "repo.get_track"}, names)
}

func TestTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, TraceID(context.Background()))
}
