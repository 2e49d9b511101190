package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the sync instruments. It satisfies the recorder
// interfaces of the store, the sources and the sink.
type Metrics struct {
	syncDuration metric.Float64Histogram
	rowsWritten  metric.Int64Counter
	unitFailures metric.Int64Counter
	sinkUpdates  metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	syncDuration, err := meter.Float64Histogram(
		"discovery_sync_duration_seconds",
		metric.WithDescription("Duration of one source sync"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	rowsWritten, err := meter.Int64Counter(
		"discovery_records_written_total",
		metric.WithDescription("Rows committed to the snapshot store"),
	)
	if err != nil {
		return nil, err
	}

	unitFailures, err := meter.Int64Counter(
		"discovery_unit_failures_total",
		metric.WithDescription("Units skipped after a recoverable error"),
	)
	if err != nil {
		return nil, err
	}

	sinkUpdates, err := meter.Int64Counter(
		"discovery_sink_updates_total",
		metric.WithDescription("Spreadsheet batch update outcomes"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		syncDuration: syncDuration,
		rowsWritten:  rowsWritten,
		unitFailures: unitFailures,
		sinkUpdates:  sinkUpdates,
	}, nil
}

// RecordSyncDuration records how long one source of a job took.
func (m *Metrics) RecordSyncDuration(ctx context.Context, job, source string, d time.Duration, status string) {
	m.syncDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("source", source),
		attribute.String("status", status),
	))
}

// RecordRowWritten counts one committed row.
func (m *Metrics) RecordRowWritten(ctx context.Context, table string) {
	m.rowsWritten.Add(ctx, 1, metric.WithAttributes(
		attribute.String("table", table),
	))
}

// RecordUnitFailure counts one skipped unit.
func (m *Metrics) RecordUnitFailure(ctx context.Context, source, unit string) {
	m.unitFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("unit", unit),
	))
}

// RecordSinkUpdate counts one batch update outcome.
func (m *Metrics) RecordSinkUpdate(ctx context.Context, sheet, status string) {
	m.sinkUpdates.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sheet", sheet),
		attribute.String("status", status),
	))
}
