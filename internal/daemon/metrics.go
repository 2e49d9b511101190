package daemon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds schedule metrics
type Metrics struct {
	cycles        metric.Int64Counter
	cycleDuration metric.Float64Histogram
}

// NewMetrics creates schedule metrics on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	cycles, err := meter.Int64Counter(
		"discovery_cycles_total",
		metric.WithDescription("Number of sync cycles run"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	cycleDuration, err := meter.Float64Histogram(
		"discovery_cycle_duration_seconds",
		metric.WithDescription("Duration of a full sync cycle"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		cycles:        cycles,
		cycleDuration: cycleDuration,
	}, nil
}

// RecordCycle records one cycle with its status
func (m *Metrics) RecordCycle(ctx context.Context, job, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("status", status),
	)
	m.cycles.Add(ctx, 1, attrs)
	m.cycleDuration.Record(ctx, d.Seconds(), attrs)
}
