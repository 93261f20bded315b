// Package metrics exports allocator statistics to Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shivam-909/gofullymanual/alloc"
)

const namespace = "binned"

// Collector reads a fresh snapshot from its source on every scrape.
type Collector struct {
	src alloc.StatsReporter

	osBytes       *prometheus.Desc
	osPeakBytes   *prometheus.Desc
	usedBytes     *prometheus.Desc
	usedPeakBytes *prometheus.Desc
	wasteBytes    *prometheus.Desc
	overheadBytes *prometheus.Desc
	cachedBytes   *prometheus.Desc
	currentAllocs *prometheus.Desc
	totalAllocs   *prometheus.Desc

	activePools    *prometheus.Desc
	activeRequests *prometheus.Desc
	totalRequests  *prometheus.Desc
	tableWaste     *prometheus.Desc
}

// NewCollector returns a collector over src. Register it with a
// prometheus.Registerer to expose it.
func NewCollector(src alloc.StatsReporter) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		src: src,

		osBytes:       desc("os_bytes", "Bytes currently reserved from the page source"),
		osPeakBytes:   desc("os_peak_bytes", "Peak bytes reserved from the page source"),
		usedBytes:     desc("used_bytes", "Bytes currently handed out"),
		usedPeakBytes: desc("used_peak_bytes", "Peak bytes handed out"),
		wasteBytes:    desc("waste_bytes", "Reserved bytes that can never be handed out"),
		overheadBytes: desc("index_overhead_bytes", "Go memory spent on the address index"),
		cachedBytes:   desc("cached_bytes", "Bytes held by the page source cache"),
		currentAllocs: desc("allocations", "Live allocations"),
		totalAllocs:   desc("allocations_total", "Allocations made since start"),

		activePools:    desc("table_pools", "Pools currently held by a table", "block_size"),
		activeRequests: desc("table_requests", "Live requests served by a table", "block_size"),
		totalRequests:  desc("table_requests_total", "Requests served by a table since start", "block_size"),
		tableWaste:     desc("table_waste_bytes_total", "Block bytes beyond the requested size, summed over requests", "block_size"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.osBytes, c.osPeakBytes, c.usedBytes, c.usedPeakBytes, c.wasteBytes,
		c.overheadBytes, c.cachedBytes, c.currentAllocs, c.totalAllocs,
		c.activePools, c.activeRequests, c.totalRequests, c.tableWaste,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	gauge(c.osBytes, float64(s.OSCurrent))
	gauge(c.osPeakBytes, float64(s.OSPeak))
	gauge(c.usedBytes, float64(s.UsedCurrent))
	gauge(c.usedPeakBytes, float64(s.UsedPeak))
	gauge(c.wasteBytes, float64(s.WasteCurrent))
	gauge(c.overheadBytes, float64(s.Overhead))
	gauge(c.cachedBytes, float64(s.CachedBytes))
	gauge(c.currentAllocs, float64(s.CurrentAllocs))
	counter(c.totalAllocs, float64(s.TotalAllocs))

	for _, ts := range s.Tables {
		if ts.TotalRequests == 0 {
			continue
		}
		size := strconv.FormatUint(uint64(ts.BlockSize), 10)
		gauge(c.activePools, float64(ts.ActivePools), size)
		gauge(c.activeRequests, float64(ts.ActiveRequests), size)
		counter(c.totalRequests, float64(ts.TotalRequests), size)
		counter(c.tableWaste, float64(ts.TotalWaste), size)
	}
}
