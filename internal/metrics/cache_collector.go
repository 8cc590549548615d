package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// cacheCollector turns cache.Stats snapshots into const metrics.
type cacheCollector struct {
	src StatsSource

	bytes      *prometheus.Desc
	items      *prometheus.Desc
	hits       *prometheus.Desc
	misses     *prometheus.Desc
	evictions  *prometheus.Desc
	expired    *prometheus.Desc
	promotions *prometheus.Desc
}

func newCacheCollector(src StatsSource) *cacheCollector {
	labels := []string{"category", "tier"}
	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, labels, nil)
	}
	return &cacheCollector{
		src:        src,
		bytes:      desc("bytes", "Bytes held by the cache tier.", labels),
		items:      desc("items", "Entries held by the cache tier.", labels),
		hits:       desc("hits_total", "Cache hits.", labels),
		misses:     desc("misses_total", "Cache misses.", labels),
		evictions:  desc("evictions_total", "Entries evicted for size.", labels),
		expired:    desc("expired_total", "Entries removed for age.", labels),
		promotions: desc("promotions_total", "Disk hits promoted into memory.", []string{"category"}),
	}
}

// Describe implements prometheus.Collector.
func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytes
	ch <- c.items
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
	ch <- c.expired
	ch <- c.promotions
}

// Collect implements prometheus.Collector.
func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.src.Stats() {
		cat := string(s.Category)
		for tier, t := range map[string]struct {
			size, items, hits, misses, evictions, expired int64
		}{
			"memory": {s.Memory.Size, s.Memory.ItemCount, s.Memory.Hits, s.Memory.Misses, s.Memory.Evictions, s.Memory.Expired},
			"disk":   {s.Disk.Size, s.Disk.ItemCount, s.Disk.Hits, s.Disk.Misses, s.Disk.Evictions, s.Disk.Expired},
		} {
			ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(t.size), cat, tier)
			ch <- prometheus.MustNewConstMetric(c.items, prometheus.GaugeValue, float64(t.items), cat, tier)
			ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(t.hits), cat, tier)
			ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(t.misses), cat, tier)
			ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(t.evictions), cat, tier)
			ch <- prometheus.MustNewConstMetric(c.expired, prometheus.CounterValue, float64(t.expired), cat, tier)
		}
		ch <- prometheus.MustNewConstMetric(c.promotions, prometheus.CounterValue, float64(s.Promotions), cat)
	}
}
