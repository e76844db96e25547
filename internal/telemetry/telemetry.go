// Package telemetry sets up OpenTelemetry tracing, metrics and logging for
// the task API and exposes the application's own instruments.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Settings describes where telemetry goes and how this service is labelled.
type Settings struct {
	ServiceName    string
	Environment    string
	Endpoint       string
	ExportInterval time.Duration
}

// Providers holds the signal providers started by Setup.
type Providers struct {
	Tracer *sdktrace.TracerProvider
	Meter  *sdkmetric.MeterProvider
	Logger *sdklog.LoggerProvider

	// Log is an slog logger bridged to the log provider.
	Log *slog.Logger

	conn *grpc.ClientConn
}

// Setup starts trace, metric and log export over a single gRPC connection to
// the collector and registers the providers globally.
func Setup(ctx context.Context, s Settings) (*Providers, error) {
	conn, err := grpc.NewClient(s.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	res, err := newResource(s.ServiceName, s.Environment)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	p := &Providers{conn: conn}

	if p.Tracer, err = InitTracerProvider(ctx, conn, res); err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}
	if p.Meter, err = InitMeterProvider(ctx, conn, res, s.ExportInterval); err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}
	// Logger last so startup logs already carry trace context.
	if p.Logger, p.Log, err = InitLoggerProvider(ctx, conn, res, s.ServiceName); err != nil {
		return nil, errors.Join(err, p.Shutdown(ctx))
	}

	return p, nil
}

// Shutdown flushes and stops every started provider, then closes the
// collector connection.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	if p.Logger != nil {
		if err := p.Logger.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("logger provider: %w", err))
		}
	}
	if p.Meter != nil {
		if err := p.Meter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	if p.Tracer != nil {
		if err := p.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("collector connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

// newResource describes this service for all three signal providers.
func newResource(serviceName, environment string) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.DeploymentEnvironment(environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
