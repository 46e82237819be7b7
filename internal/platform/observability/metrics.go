package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
)

// Metrics holds all application metrics
type Metrics struct {
	meter metric.Meter

	// Quote pipeline metrics
	QuoteDuration metric.Float64Histogram
	QuoteRequests metric.Int64Counter

	// Pool discovery metrics
	PoolDiscoveryDuration metric.Float64Histogram
	PoolsDiscovered       metric.Int64Counter
	PoolsExcluded         metric.Int64Counter

	// Fee tier metrics
	FeeTierSelected metric.Int64Counter

	// Batch dispatcher metrics
	BatchDispatches metric.Int64Counter
	BatchSize       metric.Int64Histogram
	RPCErrors       metric.Int64Counter

	// Cache metrics
	CacheHits      metric.Int64Counter
	CacheMisses    metric.Int64Counter
	CacheEvictions metric.Int64Counter

	// Error metrics
	Errors metric.Int64Counter

	// Prometheus exporter for HTTP handler
	exporter *prometheus.Exporter
}

// NewMetrics creates a new Metrics instance
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:    provider.Meter(serviceName),
		exporter: exporter,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initMetrics initializes all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	m.QuoteDuration, err = m.meter.Float64Histogram(
		"quoter.quote.duration",
		metric.WithDescription("Quote pipeline duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.QuoteRequests, err = m.meter.Int64Counter(
		"quoter.quote.requests",
		metric.WithDescription("Total quote requests by outcome"),
	)
	if err != nil {
		return err
	}

	m.PoolDiscoveryDuration, err = m.meter.Float64Histogram(
		"quoter.pools.discovery.duration",
		metric.WithDescription("Pool discovery duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.PoolsDiscovered, err = m.meter.Int64Counter(
		"quoter.pools.discovered",
		metric.WithDescription("Total valid pools discovered"),
	)
	if err != nil {
		return err
	}

	m.PoolsExcluded, err = m.meter.Int64Counter(
		"quoter.pools.excluded",
		metric.WithDescription("Pools excluded due to invalid state"),
	)
	if err != nil {
		return err
	}

	m.FeeTierSelected, err = m.meter.Int64Counter(
		"quoter.fee_tier.selected",
		metric.WithDescription("Fee tier of the winning pool"),
	)
	if err != nil {
		return err
	}

	m.BatchDispatches, err = m.meter.Int64Counter(
		"quoter.batch.dispatches",
		metric.WithDescription("Total JSON-RPC batch dispatches"),
	)
	if err != nil {
		return err
	}

	m.BatchSize, err = m.meter.Int64Histogram(
		"quoter.batch.size",
		metric.WithDescription("Number of requests per dispatched batch"),
	)
	if err != nil {
		return err
	}

	m.RPCErrors, err = m.meter.Int64Counter(
		"quoter.rpc.errors",
		metric.WithDescription("Total RPC transport or per-call errors"),
	)
	if err != nil {
		return err
	}

	m.CacheHits, err = m.meter.Int64Counter(
		"quoter.cache.hits",
		metric.WithDescription("Total cache hits"),
	)
	if err != nil {
		return err
	}

	m.CacheMisses, err = m.meter.Int64Counter(
		"quoter.cache.misses",
		metric.WithDescription("Total cache misses"),
	)
	if err != nil {
		return err
	}

	m.CacheEvictions, err = m.meter.Int64Counter(
		"quoter.cache.evictions",
		metric.WithDescription("Total cache evictions by category"),
	)
	if err != nil {
		return err
	}

	m.Errors, err = m.meter.Int64Counter(
		"quoter.errors",
		metric.WithDescription("Total errors encountered"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordQuote records a quote request outcome
func (m *Metrics) RecordQuote(ctx context.Context, network, outcome string, duration time.Duration) {
	if m.QuoteRequests == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("network", network),
		attribute.String("outcome", outcome),
	}
	m.QuoteRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.QuoteDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordPoolDiscovery records a pool discovery pass
func (m *Metrics) RecordPoolDiscovery(ctx context.Context, network string, found, excluded int, duration time.Duration) {
	if m.PoolsDiscovered == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("network", network))
	m.PoolsDiscovered.Add(ctx, int64(found), attrs)
	m.PoolsExcluded.Add(ctx, int64(excluded), attrs)
	m.PoolDiscoveryDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordFeeTierSelected records the fee tier of the winning pool
func (m *Metrics) RecordFeeTierSelected(ctx context.Context, kind string, feeBps int64) {
	if m.FeeTierSelected == nil {
		return
	}
	m.FeeTierSelected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Int64("fee_bps", feeBps),
	))
}

// RecordBatchDispatch records a dispatched JSON-RPC batch
func (m *Metrics) RecordBatchDispatch(ctx context.Context, endpoint string, size int, success bool) {
	if m.BatchDispatches == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("endpoint", endpoint),
		attribute.Bool("success", success),
	}
	m.BatchDispatches.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.BatchSize.Record(ctx, int64(size), metric.WithAttributes(attrs...))
}

// RecordRPCError records a transport or per-call RPC error
func (m *Metrics) RecordRPCError(ctx context.Context, endpoint, kind string) {
	if m.RPCErrors == nil {
		return
	}
	m.RPCErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("kind", kind),
	))
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit(ctx context.Context, category string) {
	if m.CacheHits == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss(ctx context.Context, category string) {
	if m.CacheMisses == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

// RecordCacheEvictions records evictions in a category
func (m *Metrics) RecordCacheEvictions(ctx context.Context, category string, count int) {
	if m.CacheEvictions == nil {
		return
	}
	m.CacheEvictions.Add(ctx, int64(count), metric.WithAttributes(attribute.String("category", category)))
}

// RecordError records an error
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	if m.Errors == nil {
		return
	}
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", errorType)))
}

// Handler returns the HTTP handler for Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
