package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/tokenauth/internal/config"
)

func TestNewWithoutEndpointIsNoop(t *testing.T) {
	provider, err := New(context.Background(), config.Config{ServiceName: "tokenauth"}, zap.NewNop())
	require.NoError(t, err)
	require.False(t, provider.Enabled())
	require.NotNil(t, provider.Tracer())

	_, span := provider.Tracer().Start(context.Background(), "noop")
	require.False(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, provider.Shutdown(context.Background()))
}

func TestNilProviderIsSafe(t *testing.T) {
	var provider *Provider
	require.False(t, provider.Enabled())
	require.NotNil(t, provider.Tracer())
	require.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewWithEndpointExportsSpans(t *testing.T) {
	provider, err := New(context.Background(), config.Config{
		ServiceName:          "tokenauth",
		Environment:          "test",
		TelemetryEndpoint:    "127.0.0.1:4318",
		TelemetryInsecure:    true,
		TelemetrySampleRatio: 1,
	}, zap.NewNop())
	require.NoError(t, err)
	require.True(t, provider.Enabled())

	_, span := provider.Tracer().Start(context.Background(), "sampled")
	require.True(t, span.SpanContext().IsSampled())
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = provider.Shutdown(ctx)
}
