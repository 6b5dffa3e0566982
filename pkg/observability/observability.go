// Package observability wires structured logging and ingest metrics. Metrics
// export through the OpenTelemetry stdout exporter; a nil *Metrics is a
// valid no-op receiver so the core never branches on whether telemetry is
// configured.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/hardstop-labs/sentinel"

// NewLogger builds the process logger. level accepts debug, info, warn,
// error; anything else falls back to info.
func NewLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// Metrics counts pipeline activity. All methods are nil-safe, so callers can
// carry a nil *Metrics when telemetry is off.
type Metrics struct {
	provider *sdkmetric.MeterProvider

	itemsProcessed metric.Int64Counter
	itemsFailed    metric.Int64Counter
	eventsCreated  metric.Int64Counter
	alertsUpserted metric.Int64Counter
}

// NewMetrics builds a Metrics that periodically dumps readings to w.
func NewMetrics(w io.Writer) (*Metrics, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	meter := provider.Meter(meterName)

	m := &Metrics{provider: provider}
	if m.itemsProcessed, err = meter.Int64Counter("sentinel.ingest.items_processed",
		metric.WithDescription("Raw items fully normalized and correlated")); err != nil {
		return nil, err
	}
	if m.itemsFailed, err = meter.Int64Counter("sentinel.ingest.items_failed",
		metric.WithDescription("Raw items marked FAILED during ingest")); err != nil {
		return nil, err
	}
	if m.eventsCreated, err = meter.Int64Counter("sentinel.ingest.events_created",
		metric.WithDescription("Canonical events persisted")); err != nil {
		return nil, err
	}
	if m.alertsUpserted, err = meter.Int64Counter("sentinel.ingest.alerts_upserted",
		metric.WithDescription("Alerts created or updated by correlation")); err != nil {
		return nil, err
	}
	return m, nil
}

// Shutdown flushes and stops the exporter.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func (m *Metrics) ItemProcessed(ctx context.Context, sourceID string) {
	if m == nil {
		return
	}
	m.itemsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("source_id", sourceID)))
}

func (m *Metrics) ItemFailed(ctx context.Context, sourceID string) {
	if m == nil {
		return
	}
	m.itemsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("source_id", sourceID)))
}

func (m *Metrics) EventCreated(ctx context.Context, sourceID string) {
	if m == nil {
		return
	}
	m.eventsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("source_id", sourceID)))
}

func (m *Metrics) AlertUpserted(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.alertsUpserted.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}
