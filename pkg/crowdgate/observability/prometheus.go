package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const promNamespace = "crowdgate"

// ZoneGauge is the scrape-time view of one zone.
type ZoneGauge struct {
	ZoneID      int64
	Name        string
	Count       int
	Density     float64
	Overcrowded bool
	Redirected  bool
}

// ZoneSource returns the current zone gauges.
type ZoneSource func(ctx context.Context) ([]ZoneGauge, error)

// ZoneCollector is a prometheus.Collector that reads zone state on every
// scrape instead of mirroring it into gauges.
type ZoneCollector struct {
	source  ZoneSource
	timeout time.Duration

	occupancy   *prometheus.Desc
	density     *prometheus.Desc
	overcrowded *prometheus.Desc
	redirected  *prometheus.Desc
	scrapeError *prometheus.Desc
}

// Compile-time interface check.
var _ prometheus.Collector = (*ZoneCollector)(nil)

// NewZoneCollector creates a collector over source.
func NewZoneCollector(source ZoneSource) *ZoneCollector {
	labels := []string{"zone_id", "zone"}
	return &ZoneCollector{
		source:  source,
		timeout: 2 * time.Second,
		occupancy: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "zone", "occupancy"),
			"Current number of people in the zone.", labels, nil),
		density: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "zone", "density"),
			"Current people per square metre.", labels, nil),
		overcrowded: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "zone", "overcrowded"),
			"1 when the zone is classified OVERCROWDED.", labels, nil),
		redirected: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "zone", "redirect_active"),
			"1 when the zone has an active redirect.", labels, nil),
		scrapeError: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "zone", "scrape_error"),
			"1 when reading zone state failed during the scrape.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *ZoneCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.occupancy
	ch <- c.density
	ch <- c.overcrowded
	ch <- c.redirected
	ch <- c.scrapeError
}

// Collect implements prometheus.Collector.
func (c *ZoneCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	gauges, err := c.source(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.scrapeError, prometheus.GaugeValue, 1)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.scrapeError, prometheus.GaugeValue, 0)

	for _, g := range gauges {
		id := strconv.FormatInt(g.ZoneID, 10)
		ch <- prometheus.MustNewConstMetric(c.occupancy, prometheus.GaugeValue, float64(g.Count), id, g.Name)
		ch <- prometheus.MustNewConstMetric(c.density, prometheus.GaugeValue, g.Density, id, g.Name)
		ch <- prometheus.MustNewConstMetric(c.overcrowded, prometheus.GaugeValue, boolGauge(g.Overcrowded), id, g.Name)
		ch <- prometheus.MustNewConstMetric(c.redirected, prometheus.GaugeValue, boolGauge(g.Redirected), id, g.Name)
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// HTTPMetrics counts and times HTTP requests by route.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics creates the request metrics and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewHTTPMetrics(reg prometheus.Registerer) (*HTTPMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: promNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe records one request.
func (m *HTTPMetrics) Observe(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}
