package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CacheMetrics records lookups and size of the in-process caches. Cache names are
// normalized against AllowedCacheNames.
type CacheMetrics interface {
	RecordHit(ctx context.Context, cacheName string)
	RecordMiss(ctx context.Context, cacheName string)
	// ObserveSize reports size() as the entry count of cacheName at every collection.
	ObserveSize(cacheName string, size func() int) error
}

type cacheMetrics struct {
	meter   metric.Meter
	lookups metric.Int64Counter
	misses  metric.Int64Counter
	entries metric.Int64ObservableGauge
}

// NewCacheMetrics returns (nil, nil) when meter is nil.
func NewCacheMetrics(meter metric.Meter) (CacheMetrics, error) {
	if meter == nil {
		//nolint:nilnil // callers check for nil metrics
		return nil, nil
	}

	lookups, err := meter.Int64Counter(MetricNameCacheHits,
		metric.WithDescription("Query embedding lookups answered from cache, by cache."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache hits counter: %w", err)
	}

	misses, err := meter.Int64Counter(MetricNameCacheMisses,
		metric.WithDescription("Cache lookups that had to call the embedding provider, by cache."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache misses counter: %w", err)
	}

	entries, err := meter.Int64ObservableGauge(MetricNameCacheEntries,
		metric.WithDescription("Entries currently held, by cache. Expired entries count until they are swept."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache entries gauge: %w", err)
	}

	return &cacheMetrics{meter: meter, lookups: lookups, misses: misses, entries: entries}, nil
}

func cacheAttrs(name string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String(AttrCache, NormalizeCacheName(name)))
}

func (c *cacheMetrics) RecordHit(ctx context.Context, cacheName string) {
	c.lookups.Add(ctx, 1, cacheAttrs(cacheName))
}

func (c *cacheMetrics) RecordMiss(ctx context.Context, cacheName string) {
	c.misses.Add(ctx, 1, cacheAttrs(cacheName))
}

func (c *cacheMetrics) ObserveSize(cacheName string, size func() int) error {
	opt := cacheAttrs(cacheName)

	_, err := c.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(c.entries, int64(size()), opt)

		return nil
	}, c.entries)
	if err != nil {
		return fmt.Errorf("register cache size callback: %w", err)
	}

	return nil
}
