package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"scriptagent/internal/config"
)

func TestSetup_Disabled(t *testing.T) {
	tp, shutdown, err := Setup(context.Background(), config.TelemetryConfig{}, "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, span := tp.Tracer("x").Start(context.Background(), "noop")
	assert.False(t, span.IsRecording())
	span.End()
}

func TestNewProvider_Sampling(t *testing.T) {
	tests := []struct {
		ratio float64
		want  int
	}{
		{1, 1},
		{0, 0},
	}
	for _, tt := range tests {
		sr := tracetest.NewSpanRecorder()
		tp := NewProvider(sdktrace.WithSpanProcessor(sr), config.TelemetryConfig{SampleRatio: tt.ratio}, "1.0.0")

		_, span := tp.Tracer("x").Start(context.Background(), "agent.task")
		span.End()
		require.NoError(t, tp.Shutdown(context.Background()))

		ended := sr.Ended()
		require.Len(t, ended, tt.want, "ratio %v", tt.ratio)
		if tt.want == 1 {
			attrs := ended[0].Resource().Attributes()
			var service string
			for _, kv := range attrs {
				if kv.Key == "service.name" {
					service = kv.Value.AsString()
				}
			}
			assert.Equal(t, "scriptagent", service)
		}
	}
}
