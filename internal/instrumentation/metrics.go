package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys
const (
	AttrOutcome      = "auth.refresh.outcome"
	AttrReason       = "auth.reason"
	AttrErrorCode    = "oauth.error"
	AttrAttempts     = "auth.refresh.attempts"
	AttrCallID       = "auth.refresh.call_id"
	AttrExpiresIn    = "oauth.expires_in"
	AttrStorageOp    = "storage.operation"
	AttrMigrationRes = "auth.migration.result"
)

// Metrics holds all metric instruments
type Metrics struct {
	RefreshTotal      metric.Int64Counter
	RefreshDuration   metric.Float64Histogram
	RefreshJoined     metric.Int64Counter
	ForcedLogouts     metric.Int64Counter
	MigrationsTotal   metric.Int64Counter
	StorageErrorTotal metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error
	m.RefreshTotal, err = meter.Int64Counter(
		"auth.refresh.total",
		metric.WithDescription("Token endpoint refresh exchanges by outcome"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh.total counter: %w", err)
	}

	m.RefreshDuration, err = meter.Float64Histogram(
		"auth.refresh.duration",
		metric.WithDescription("Token endpoint refresh duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh.duration histogram: %w", err)
	}

	m.RefreshJoined, err = meter.Int64Counter(
		"auth.refresh.joined",
		metric.WithDescription("Callers that joined an in-flight refresh"),
		metric.WithUnit("{caller}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh.joined counter: %w", err)
	}

	m.ForcedLogouts, err = meter.Int64Counter(
		"auth.logout.forced",
		metric.WithDescription("Forced logouts by reason"),
		metric.WithUnit("{logout}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create logout.forced counter: %w", err)
	}

	m.MigrationsTotal, err = meter.Int64Counter(
		"auth.migration.total",
		metric.WithDescription("Legacy token migrations by result"),
		metric.WithUnit("{migration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration.total counter: %w", err)
	}

	m.StorageErrorTotal, err = meter.Int64Counter(
		"auth.storage.errors",
		metric.WithDescription("Secure store operation failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.errors counter: %w", err)
	}

	return m, nil
}

// RecordRefresh records one token endpoint exchange
func (m *Metrics) RecordRefresh(ctx context.Context, outcome string, durationMs float64) {
	attrs := metric.WithAttributes(attribute.String(AttrOutcome, outcome))
	m.RefreshTotal.Add(ctx, 1, attrs)
	m.RefreshDuration.Record(ctx, durationMs, attrs)
}

// RecordJoined records a caller that waited on an in-flight refresh
func (m *Metrics) RecordJoined(ctx context.Context) {
	m.RefreshJoined.Add(ctx, 1)
}

// RecordForcedLogout records a forced logout
func (m *Metrics) RecordForcedLogout(ctx context.Context, reason string) {
	m.ForcedLogouts.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrReason, reason)))
}

// RecordMigration records the result of a legacy migration run
func (m *Metrics) RecordMigration(ctx context.Context, result string) {
	m.MigrationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrMigrationRes, result)))
}

// RecordStorageError records a failed secure store operation
func (m *Metrics) RecordStorageError(ctx context.Context, op string) {
	m.StorageErrorTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrStorageOp, op)))
}
