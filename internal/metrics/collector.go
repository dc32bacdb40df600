// Package metrics exposes simulator statistics in Prometheus format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"l2sim/internal/stats"
)

const namespace = "l2sim"

// PoolStats reports HARQ process occupancy. *harq.Pool satisfies it.
type PoolStats interface {
	Size() int
	Busy() int
}

// StatsCollector turns a stats.Collector snapshot into const metrics on every scrape.
type StatsCollector struct {
	stats *stats.Collector
	pools map[string]PoolStats

	cyclesDesc    *prometheus.Desc
	sdusDesc      *prometheus.Desc
	bytesDesc     *prometheus.Desc
	eventsDesc    *prometheus.Desc
	warningsDesc  *prometheus.Desc
	errorsDesc    *prometheus.Desc
	latencyDesc   *prometheus.Desc
	uptimeDesc    *prometheus.Desc
	procsDesc     *prometheus.Desc
	procsBusyDesc *prometheus.Desc
}

// NewStatsCollector creates a collector. pools maps a direction label to its
// HARQ pool and may be nil.
func NewStatsCollector(s *stats.Collector, pools map[string]PoolStats) *StatsCollector {
	return &StatsCollector{
		stats: s,
		pools: pools,

		cyclesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "cycles_total"),
			"Send/receive cycles run",
			nil, nil,
		),
		sdusDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sdus_total"),
			"SDUs by delivery outcome",
			[]string{"outcome"}, nil,
		),
		bytesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "bytes_total"),
			"SDU bytes sent into and delivered out of the stack",
			[]string{"direction"}, nil,
		),
		eventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "events_total"),
			"Protocol events by layer and kind",
			[]string{"layer", "kind"}, nil,
		),
		warningsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "layer_warnings_total"),
			"Warning-level events per layer",
			[]string{"layer"}, nil,
		),
		errorsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "layer_errors_total"),
			"Error-level events per layer",
			[]string{"layer"}, nil,
		),
		latencyDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "cycle_latency_seconds"),
			"Latency of delivered SDUs",
			[]string{"stat"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "uptime_seconds"),
			"Time since statistics collection started",
			nil, nil,
		),
		procsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "harq", "processes"),
			"Configured HARQ processes",
			[]string{"direction"}, nil,
		),
		procsBusyDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "harq", "processes_busy"),
			"HARQ processes waiting for feedback",
			[]string{"direction"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cyclesDesc
	ch <- c.sdusDesc
	ch <- c.bytesDesc
	ch <- c.eventsDesc
	ch <- c.warningsDesc
	ch <- c.errorsDesc
	ch <- c.latencyDesc
	ch <- c.uptimeDesc
	ch <- c.procsDesc
	ch <- c.procsBusyDesc
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.cyclesDesc, prometheus.CounterValue, float64(snap.Cycles))
	ch <- prometheus.MustNewConstMetric(c.sdusDesc, prometheus.CounterValue, float64(snap.Delivered), "delivered")
	ch <- prometheus.MustNewConstMetric(c.sdusDesc, prometheus.CounterValue, float64(snap.Lost), "lost")
	ch <- prometheus.MustNewConstMetric(c.sdusDesc, prometheus.CounterValue, float64(snap.Corrupted), "corrupted")
	ch <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue, float64(snap.BytesSent), "sent")
	ch <- prometheus.MustNewConstMetric(c.bytesDesc, prometheus.CounterValue, float64(snap.BytesDelivered), "delivered")

	for layer, ls := range snap.Layers {
		for kind, n := range ls.Events {
			ch <- prometheus.MustNewConstMetric(c.eventsDesc, prometheus.CounterValue, float64(n), layer, kind)
		}
		ch <- prometheus.MustNewConstMetric(c.warningsDesc, prometheus.CounterValue, float64(ls.Warnings), layer)
		ch <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.CounterValue, float64(ls.Errors), layer)
	}

	min, avg, max, p99 := snap.LatencyStats()
	ch <- prometheus.MustNewConstMetric(c.latencyDesc, prometheus.GaugeValue, min.Seconds(), "min")
	ch <- prometheus.MustNewConstMetric(c.latencyDesc, prometheus.GaugeValue, avg.Seconds(), "avg")
	ch <- prometheus.MustNewConstMetric(c.latencyDesc, prometheus.GaugeValue, max.Seconds(), "max")
	ch <- prometheus.MustNewConstMetric(c.latencyDesc, prometheus.GaugeValue, p99.Seconds(), "p99")

	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, snap.Duration().Seconds())

	for dir, pool := range c.pools {
		ch <- prometheus.MustNewConstMetric(c.procsDesc, prometheus.GaugeValue, float64(pool.Size()), dir)
		ch <- prometheus.MustNewConstMetric(c.procsBusyDesc, prometheus.GaugeValue, float64(pool.Busy()), dir)
	}
}
