package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"google.golang.org/grpc"
)

// DefaultExportInterval is used when Settings.ExportInterval is zero.
const DefaultExportInterval = 10 * time.Second

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// InitMeterProvider exports metrics over conn every interval and registers
// the provider globally.
func InitMeterProvider(ctx context.Context, conn *grpc.ClientConn, res *resource.Resource, interval time.Duration) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	if interval <= 0 {
		interval = DefaultExportInterval
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return mp, nil
}

// Metrics is the set of instruments the task API records into.
type Metrics struct {
	requests   metric.Int64Counter
	latency    metric.Float64Histogram
	operations metric.Int64Counter
	stored     metric.Int64ObservableGauge
}

// NewMetrics registers the task API instruments on meter. countTasks is
// read on every collection to report the current store size.
func NewMetrics(meter metric.Meter, countTasks func() int64) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.requests, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("HTTP requests served, by method, route and status"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("http_requests_total: %w", err)
	}

	if m.latency, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("Time to serve an HTTP request"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, fmt.Errorf("http_request_duration_seconds: %w", err)
	}

	if m.operations, err = meter.Int64Counter("task_operations_total",
		metric.WithDescription("Task operations, by operation and outcome"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, fmt.Errorf("task_operations_total: %w", err)
	}

	if m.stored, err = meter.Int64ObservableGauge("tasks_total",
		metric.WithDescription("Tasks currently held by the store"),
		metric.WithUnit("{task}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(countTasks())
			return nil
		}),
	); err != nil {
		return nil, fmt.Errorf("tasks_total: %w", err)
	}

	return &m, nil
}

// RecordRequest records one HTTP request and its latency.
func (m *Metrics) RecordRequest(ctx context.Context, method, route string, status int, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	)
	m.requests.Add(ctx, 1, attrs)
	m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
}

// RecordOperation counts a task operation; outcome is "ok" or an error kind.
func (m *Metrics) RecordOperation(ctx context.Context, operation, outcome string) {
	m.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}
