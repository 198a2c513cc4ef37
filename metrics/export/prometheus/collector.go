package prometheus

import (
	"strconv"

	promclient "github.com/prometheus/client_golang/prometheus"
	storeauth "github.com/yanlnery/glowing-docs-portal-sub000"
	"github.com/yanlnery/glowing-docs-portal-sub000/metrics/export/internaldefs"
)

// Collector adapts a MetricsSource to promclient.Collector so controller
// metrics can share a registry with other collectors.
type Collector struct {
	source     MetricsSource
	counters   map[storeauth.MetricID]*promclient.Desc
	histograms map[storeauth.MetricID]*promclient.Desc
	dropped    *promclient.Desc
	bounds     []float64
}

var _ promclient.Collector = (*Collector)(nil)

// NewCollector returns a Collector reading from source.
func NewCollector(source MetricsSource) *Collector {
	c := &Collector{
		source:     source,
		counters:   make(map[storeauth.MetricID]*promclient.Desc, len(internaldefs.CounterDefs)),
		histograms: make(map[storeauth.MetricID]*promclient.Desc, len(internaldefs.HistogramDefs)),
		dropped:    promclient.NewDesc(internaldefs.DroppedNotificationsName, internaldefs.DroppedNotificationsHelp, nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		c.counters[def.ID] = promclient.NewDesc(def.Name, def.Help, nil, nil)
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histograms[def.ID] = promclient.NewDesc(def.Name, def.Help, nil, nil)
	}
	for _, le := range internaldefs.HistogramBounds[:len(internaldefs.HistogramBounds)-1] {
		v, _ := strconv.ParseFloat(le, 64)
		c.bounds = append(c.bounds, v)
	}
	return c
}

func (c *Collector) Describe(ch chan<- *promclient.Desc) {
	for _, d := range c.counters {
		ch <- d
	}
	for _, d := range c.histograms {
		ch <- d
	}
	ch <- c.dropped
}

func (c *Collector) Collect(ch chan<- promclient.Metric) {
	if c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()

	for id, desc := range c.counters {
		ch <- promclient.MustNewConstMetric(desc, promclient.CounterValue, float64(snapshot.Counters[id]))
	}

	for id, desc := range c.histograms {
		raw, ok := snapshot.Histograms[id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(c.bounds))
		for i, bound := range c.bounds {
			buckets[bound] = cumulative[i]
		}
		ch <- promclient.MustNewConstHistogram(desc, cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- promclient.MustNewConstMetric(c.dropped, promclient.CounterValue, float64(c.source.NotificationsDropped()))
}
