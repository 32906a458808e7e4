package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const clientScopeName = "github.com/langchain-ai/langsmith-data-migration-tool/api"

// ClientMetrics counts outbound API activity. All methods are no-ops when
// telemetry is disabled (the instruments come from the no-op provider).
type ClientMetrics struct {
	requests metric.Int64Counter
	errors   metric.Int64Counter
	retries  metric.Int64Counter
	migrated metric.Int64Counter
}

// NewClientMetrics registers the lsmigrate.* instruments.
func NewClientMetrics() *ClientMetrics {
	m := Meter(clientScopeName)
	requests, _ := m.Int64Counter("lsmigrate.api.requests",
		metric.WithDescription("Total outbound API requests"),
	)
	errors, _ := m.Int64Counter("lsmigrate.api.errors",
		metric.WithDescription("Total failed API requests"),
	)
	retries, _ := m.Int64Counter("lsmigrate.api.retries",
		metric.WithDescription("Total API request retries"),
	)
	migrated, _ := m.Int64Counter("lsmigrate.items.migrated",
		metric.WithDescription("Total items migrated, by kind"),
	)
	return &ClientMetrics{requests: requests, errors: errors, retries: retries, migrated: migrated}
}

func (c *ClientMetrics) Request(ctx context.Context, method, side string) {
	if c == nil {
		return
	}
	c.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("lsmigrate.side", side),
	))
}

func (c *ClientMetrics) Error(ctx context.Context, method, side string, status int) {
	if c == nil {
		return
	}
	c.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("lsmigrate.side", side),
		attribute.Int("http.status_code", status),
	))
}

func (c *ClientMetrics) Retry(ctx context.Context, method, side string) {
	if c == nil {
		return
	}
	c.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("lsmigrate.side", side),
	))
}

func (c *ClientMetrics) Migrated(ctx context.Context, kind string, n int64) {
	if c == nil {
		return
	}
	c.migrated.Add(ctx, n, metric.WithAttributes(attribute.String("lsmigrate.kind", kind)))
}
