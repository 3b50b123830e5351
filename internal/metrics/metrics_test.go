package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/rickgao/basket-router/internal/message"
)

func newTestRecorder(t *testing.T, connected ConnectedFunc) (*Recorder, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	r, err := New(provider.Meter("test"), connected)
	require.NoError(t, err)
	return r, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumFor(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", m.Name)

	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func TestRecorder_Counters(t *testing.T) {
	r, reader := newTestRecorder(t, nil)
	ctx := context.Background()

	r.Routed(ctx, message.KindSubscription, "alpha")
	r.Routed(ctx, message.KindSubscription, "alpha")
	r.Routed(ctx, message.KindSubscription, "beta")
	r.Pended(ctx, message.KindOrderRegister)
	r.Suppressed(ctx, message.KindSubscriptionOnline, "beta")
	r.Output(ctx, message.KindMarketData)
	r.SendFailed(ctx, message.KindOrderCancel, "alpha")

	got := collect(t, reader)

	sub := attribute.String("kind", string(message.KindSubscription))
	assert.Equal(t, int64(2), sumFor(t, got["basket.messages.routed"], sub, attribute.String("conn", "alpha")))
	assert.Equal(t, int64(1), sumFor(t, got["basket.messages.routed"], sub, attribute.String("conn", "beta")))
	assert.Equal(t, int64(1), sumFor(t, got["basket.messages.pended"],
		attribute.String("kind", string(message.KindOrderRegister))))
	assert.Equal(t, int64(1), sumFor(t, got["basket.messages.suppressed"],
		attribute.String("kind", string(message.KindSubscriptionOnline)), attribute.String("conn", "beta")))
	assert.Equal(t, int64(1), sumFor(t, got["basket.messages.output"],
		attribute.String("kind", string(message.KindMarketData))))
	assert.Equal(t, int64(1), sumFor(t, got["basket.send.failures"],
		attribute.String("kind", string(message.KindOrderCancel)), attribute.String("conn", "alpha")))
}

func TestRecorder_ConnectedGauge(t *testing.T) {
	n := 2
	r, reader := newTestRecorder(t, func() int { return n })

	got := collect(t, reader)
	gauge, ok := got["basket.connections.connected"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(2), gauge.DataPoints[0].Value)

	require.NoError(t, r.Close())
	n = 3
	got = collect(t, reader)
	if m, present := got["basket.connections.connected"]; present {
		gauge, _ := m.Data.(metricdata.Gauge[int64])
		assert.Empty(t, gauge.DataPoints, "gauge is not observed after Close")
	}
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	ctx := context.Background()

	assert.NotPanics(t, func() {
		r.Routed(ctx, message.KindSubscription, "alpha")
		r.Pended(ctx, message.KindSubscription)
		r.Suppressed(ctx, message.KindSubscription, "alpha")
		r.Output(ctx, message.KindSubscription)
		r.SendFailed(ctx, message.KindSubscription, "alpha")
	})
	assert.NoError(t, r.Close())
}

func TestNew_GlobalMeter(t *testing.T) {
	r, err := New(nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, r)
}
