package exporter

import (
	"time"

	"codeberg.org/mutker/amdgpumon/internal/errors"
	"codeberg.org/mutker/amdgpumon/internal/poller"
	"codeberg.org/mutker/amdgpumon/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "amdgpumon"

var fieldMetrics = map[telemetry.Field]struct {
	name string
	help string
}{
	telemetry.FieldPowerDraw:    {"apu_power_draw_watts", "Current STAPM power draw in watts."},
	telemetry.FieldPowerLimit:   {"apu_power_limit_watts", "STAPM power limit in watts."},
	telemetry.FieldPackagePower: {"gpu_package_power_watts", "GPU socket graphics package power in watts."},
	telemetry.FieldTemperature:  {"gpu_temperature_celsius", "GPU temperature in degrees Celsius."},
	telemetry.FieldUtilization:  {"gpu_utilization_percent", "GPU utilization in percent."},
	telemetry.FieldVRAMUsed:     {"gpu_vram_used_bytes", "Used VRAM in bytes."},
	telemetry.FieldVRAMTotal:    {"gpu_vram_total_bytes", "Total VRAM in bytes."},
	telemetry.FieldCoreClock:    {"gpu_sclk_megahertz", "GPU core clock in MHz."},
}

// Metrics holds the Prometheus metrics for the exporter on a custom
// registry. It also records collection results as a poller.Observer.
type Metrics struct {
	Registry *prometheus.Registry

	CollectDuration *prometheus.HistogramVec
	CollectTotal    *prometheus.CounterVec
	WSClients       prometheus.Gauge
}

var _ poller.Observer = (*Metrics)(nil)

// NewMetrics registers the poller metrics and a collector that reads
// snapshot on every scrape.
func NewMetrics(snapshot func() telemetry.Snapshot) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		CollectDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collect_duration_seconds",
			Help:      "Duration of source collections in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		CollectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collect_total",
			Help:      "Total number of source collections by result.",
		}, []string{"source", "status"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Current number of WebSocket clients.",
		}),
	}

	reg.MustRegister(
		m.CollectDuration,
		m.CollectTotal,
		m.WSClients,
		newSnapshotCollector(snapshot),
	)

	return m
}

func (m *Metrics) ObserveCollect(source string, d time.Duration, err error) {
	m.CollectDuration.WithLabelValues(source).Observe(d.Seconds())

	status := "ok"
	if err != nil {
		status = string(errors.CodeOf(err))
		if status == "" {
			status = "error"
		}
	}
	m.CollectTotal.WithLabelValues(source, status).Inc()
}

type snapshotCollector struct {
	snapshot func() telemetry.Snapshot

	values   map[telemetry.Field]*prometheus.Desc
	stale    *prometheus.Desc
	updated  *prometheus.Desc
	failures *prometheus.Desc
	healthy  *prometheus.Desc
}

func newSnapshotCollector(snapshot func() telemetry.Snapshot) *snapshotCollector {
	c := &snapshotCollector{
		snapshot: snapshot,
		values:   make(map[telemetry.Field]*prometheus.Desc, len(fieldMetrics)),
		stale: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "reading_stale"),
			"Whether the last collection of a field failed (1) or succeeded (0).",
			[]string{"field"}, nil),
		updated: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "reading_updated_timestamp_seconds"),
			"Time of the last successful collection of a field.",
			[]string{"field"}, nil),
		failures: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "source_consecutive_failures"),
			"Consecutive failed collections per source.",
			[]string{"source"}, nil),
		healthy: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "source_healthy"),
			"Whether the last collection of a source succeeded.",
			[]string{"source"}, nil),
	}
	for field, meta := range fieldMetrics {
		c.values[field] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", meta.name), meta.help, []string{"source"}, nil)
	}

	return c
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.values {
		ch <- d
	}
	ch <- c.stale
	ch <- c.updated
	ch <- c.failures
	ch <- c.healthy
}

// Collect emits only known fields. A field that was never collected has no
// series.
func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.snapshot()

	for field, r := range snap.Readings {
		desc, ok := c.values[field]
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, r.Value, r.Source)
		ch <- prometheus.MustNewConstMetric(c.stale, prometheus.GaugeValue, boolToFloat(r.Stale), string(field))
		ch <- prometheus.MustNewConstMetric(c.updated, prometheus.GaugeValue,
			float64(r.UpdatedAt.UnixMilli())/1e3, string(field))
	}

	for source, st := range snap.Sources {
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(st.ConsecutiveFailures), source)
		ch <- prometheus.MustNewConstMetric(c.healthy, prometheus.GaugeValue, boolToFloat(st.Healthy()), source)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}

	return 0
}
