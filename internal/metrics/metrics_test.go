package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestQuoteMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := newMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordVaultQuote(ctx, "success")
	m.RecordVaultQuote(ctx, "error")
	m.RecordQuoteBatch(ctx, "success", 120*time.Millisecond)
	m.RecordReadinessTimeout(ctx)
	m.IncrementConnections(ctx)
	m.IncrementConnections(ctx)
	m.DecrementConnections(ctx)

	data := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, data["cp_vault_quotes_total"]))
	assert.Equal(t, int64(1), sumOf(t, data["cp_quote_batches_total"]))
	assert.Equal(t, int64(1), sumOf(t, data["cp_readiness_timeouts_total"]))
	assert.Equal(t, int64(1), sumOf(t, data["cp_stream_connections"]))

	hist, ok := data["cp_quote_batch_duration_seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}

func TestHTTPAndCacheMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := newMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordHTTPRequest(ctx, "GET", "/v1/vaults", 200, 5*time.Millisecond)
	m.RecordCacheHit(ctx, "price:ETH")
	m.RecordCacheMiss(ctx, "price:BTC")
	m.RecordCacheMiss(ctx, "price:BTC")

	data := collect(t, reader)
	assert.Equal(t, int64(1), sumOf(t, data["cp_http_requests_total"]))
	assert.Equal(t, int64(1), sumOf(t, data["cp_cache_hits_total"]))
	assert.Equal(t, int64(2), sumOf(t, data["cp_cache_misses_total"]))
}
