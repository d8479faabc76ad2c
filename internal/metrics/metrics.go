package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type Metrics struct {
	HTTPRequests      metric.Int64Counter
	HTTPDuration      metric.Float64Histogram
	CacheHits         metric.Int64Counter
	CacheMisses       metric.Int64Counter
	ActiveConnections metric.Int64UpDownCounter

	VaultQuotes       metric.Int64Counter
	QuoteBatches      metric.Int64Counter
	QuoteBatchLatency metric.Float64Histogram
	ReadinessTimeouts metric.Int64Counter
}

// Setup registers the service instruments on a prometheus-backed meter
// provider and returns the scrape handler.
func Setup(serviceName string) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := newMetrics(provider.Meter(serviceName))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.HTTPRequests, err = meter.Int64Counter(
		"cp_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.HTTPDuration, err = meter.Float64Histogram(
		"cp_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, err
	}

	if m.CacheHits, err = meter.Int64Counter(
		"cp_cache_hits_total",
		metric.WithDescription("Total number of cache hits"),
	); err != nil {
		return nil, err
	}

	if m.CacheMisses, err = meter.Int64Counter(
		"cp_cache_misses_total",
		metric.WithDescription("Total number of cache misses"),
	); err != nil {
		return nil, err
	}

	if m.ActiveConnections, err = meter.Int64UpDownCounter(
		"cp_stream_connections",
		metric.WithDescription("Number of open session streams"),
	); err != nil {
		return nil, err
	}

	if m.VaultQuotes, err = meter.Int64Counter(
		"cp_vault_quotes_total",
		metric.WithDescription("Per-vault quote outcomes by status"),
	); err != nil {
		return nil, err
	}

	if m.QuoteBatches, err = meter.Int64Counter(
		"cp_quote_batches_total",
		metric.WithDescription("Quote batches by final status"),
	); err != nil {
		return nil, err
	}

	if m.QuoteBatchLatency, err = meter.Float64Histogram(
		"cp_quote_batch_duration_seconds",
		metric.WithDescription("Quote batch duration in seconds"),
	); err != nil {
		return nil, err
	}

	if m.ReadinessTimeouts, err = meter.Int64Counter(
		"cp_readiness_timeouts_total",
		metric.WithDescription("Quote batches that gave up waiting for route readiness"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordCacheHit(ctx context.Context, key string) {
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) RecordCacheMiss(ctx context.Context, key string) {
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, -1)
}

func (m *Metrics) RecordVaultQuote(ctx context.Context, status string) {
	m.VaultQuotes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordQuoteBatch(ctx context.Context, status string, duration time.Duration) {
	labels := metric.WithAttributes(attribute.String("status", status))
	m.QuoteBatches.Add(ctx, 1, labels)
	m.QuoteBatchLatency.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordReadinessTimeout(ctx context.Context) {
	m.ReadinessTimeouts.Add(ctx, 1)
}
