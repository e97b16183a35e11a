package pagecache

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// RegisterMetrics exposes the cache counters and resident-page count as
// asynchronous instruments on the given meter. Call once per cache.
func (c *MiraPageCache) RegisterMetrics(meter metric.Meter) error {
	hits, err := meter.Int64ObservableCounter("miracache.hits",
		metric.WithDescription("Fetches served from a tier"))
	if err != nil {
		return err
	}
	misses, err := meter.Int64ObservableCounter("miracache.misses",
		metric.WithDescription("Fetches that went to disk"))
	if err != nil {
		return err
	}
	inserts, err := meter.Int64ObservableCounter("miracache.inserts",
		metric.WithDescription("Pages allocated via NewPage"))
	if err != nil {
		return err
	}
	evictions, err := meter.Int64ObservableCounter("miracache.evictions",
		metric.WithDescription("Pages dropped from a tier"))
	if err != nil {
		return err
	}
	promotes, err := meter.Int64ObservableCounter("miracache.promotes",
		metric.WithDescription("Cold to hot promotions"))
	if err != nil {
		return err
	}
	demotes, err := meter.Int64ObservableCounter("miracache.demotes",
		metric.WithDescription("Hot to cold demotions"))
	if err != nil {
		return err
	}
	flushes, err := meter.Int64ObservableCounter("miracache.flushes",
		metric.WithDescription("Dirty page writebacks"))
	if err != nil {
		return err
	}
	resident, err := meter.Int64ObservableGauge("miracache.resident_pages",
		metric.WithDescription("Pages currently held across both tiers"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := c.stats.Snapshot()
		o.ObserveInt64(hits, int64(s.Hits))
		o.ObserveInt64(misses, int64(s.Misses))
		o.ObserveInt64(inserts, int64(s.Inserts))
		o.ObserveInt64(evictions, int64(s.Evictions))
		o.ObserveInt64(promotes, int64(s.Promotes))
		o.ObserveInt64(demotes, int64(s.Demotes))
		o.ObserveInt64(flushes, int64(s.Flushes))
		o.ObserveInt64(resident, int64(c.Size()))
		return nil
	}, hits, misses, inserts, evictions, promotes, demotes, flushes, resident)
	return err
}
