package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the membership and cache measurements onto the
// global OpenTelemetry meter provider
type OTelMetrics struct {
	operationsTotal   metric.Int64Counter
	operationDuration metric.Float64Histogram
	cacheRequests     metric.Int64Counter
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/platinummonkey/tenancy")

	m := &OTelMetrics{}
	var err error

	m.operationsTotal, err = meter.Int64Counter(
		"tenancy.membership.operations",
		metric.WithDescription("Organization and membership operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operations counter: %w", err)
	}

	m.operationDuration, err = meter.Float64Histogram(
		"tenancy.membership.duration",
		metric.WithDescription("Organization and membership operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation duration histogram: %w", err)
	}

	m.cacheRequests, err = meter.Int64Counter(
		"tenancy.cache.requests",
		metric.WithDescription("Organization cache lookups by tier and result"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache counter: %w", err)
	}

	return m, nil
}

// RecordOperation records a membership operation outcome
func (m *OTelMetrics) RecordOperation(ctx context.Context, operation, result string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	)
	m.operationsTotal.Add(ctx, 1, attrs)
	m.operationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordCacheRequest records a cache lookup
func (m *OTelMetrics) RecordCacheRequest(ctx context.Context, tier, result string) {
	m.cacheRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.tier", tier),
		attribute.String("cache.result", result),
	))
}
