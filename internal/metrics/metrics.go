package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rickgao/basket-router/internal/connection"
	"github.com/rickgao/basket-router/internal/message"
)

// MeterName is the instrumentation scope used when no meter is injected.
const MeterName = "basket-router"

// Recorder holds the basket instruments.
type Recorder struct {
	routed     metric.Int64Counter
	pended     metric.Int64Counter
	suppressed metric.Int64Counter
	output     metric.Int64Counter
	failures   metric.Int64Counter
	gauge      metric.Registration
}

// ConnectedFunc reports the number of connected inner connections.
type ConnectedFunc func() int

// New creates the instruments on meter. A nil meter uses the global provider.
// connected, if non-nil, backs the connected-connections gauge.
func New(meter metric.Meter, connected ConnectedFunc) (*Recorder, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}

	r := &Recorder{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&r.routed, "basket.messages.routed", "Requests sent to an inner connection"},
		{&r.pended, "basket.messages.pended", "Requests held until a connection is available"},
		{&r.suppressed, "basket.messages.suppressed", "Inner messages swallowed by aggregation"},
		{&r.output, "basket.messages.output", "Messages published to the caller"},
		{&r.failures, "basket.send.failures", "Failed sends to an inner connection"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit("{message}"),
		)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", c.name, err)
		}
	}

	if connected != nil {
		gauge, err := meter.Int64ObservableGauge("basket.connections.connected",
			metric.WithDescription("Inner connections in the connected state"),
			metric.WithUnit("{connection}"),
		)
		if err != nil {
			return nil, fmt.Errorf("create basket.connections.connected: %w", err)
		}
		r.gauge, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(gauge, int64(connected()))
			return nil
		}, gauge)
		if err != nil {
			return nil, fmt.Errorf("register gauge callback: %w", err)
		}
	}

	return r, nil
}

// Routed counts a request sent to conn.
func (r *Recorder) Routed(ctx context.Context, kind message.Kind, conn connection.ID) {
	if r == nil {
		return
	}
	r.routed.Add(ctx, 1, metric.WithAttributes(kindAttr(kind), connAttr(conn)))
}

// Pended counts a request stored until a connection comes up.
func (r *Recorder) Pended(ctx context.Context, kind message.Kind) {
	if r == nil {
		return
	}
	r.pended.Add(ctx, 1, metric.WithAttributes(kindAttr(kind)))
}

// Suppressed counts an inner message from conn that produced no output.
func (r *Recorder) Suppressed(ctx context.Context, kind message.Kind, conn connection.ID) {
	if r == nil {
		return
	}
	r.suppressed.Add(ctx, 1, metric.WithAttributes(kindAttr(kind), connAttr(conn)))
}

// Output counts a message published to the caller.
func (r *Recorder) Output(ctx context.Context, kind message.Kind) {
	if r == nil {
		return
	}
	r.output.Add(ctx, 1, metric.WithAttributes(kindAttr(kind)))
}

// SendFailed counts a send to conn that returned an error.
func (r *Recorder) SendFailed(ctx context.Context, kind message.Kind, conn connection.ID) {
	if r == nil {
		return
	}
	r.failures.Add(ctx, 1, metric.WithAttributes(kindAttr(kind), connAttr(conn)))
}

// Close unregisters the gauge callback.
func (r *Recorder) Close() error {
	if r == nil || r.gauge == nil {
		return nil
	}
	return r.gauge.Unregister()
}

func kindAttr(k message.Kind) attribute.KeyValue {
	return attribute.String("kind", string(k))
}

func connAttr(id connection.ID) attribute.KeyValue {
	return attribute.String("conn", string(id))
}
