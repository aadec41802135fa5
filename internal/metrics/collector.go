package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the poller's Prometheus metrics on a private registry.
type Collector struct {
	reg *prometheus.Registry

	Cycles          prometheus.Counter
	CycleDuration   prometheus.Histogram
	TrackedTrains   prometheus.Gauge
	TrainsListed    prometheus.Gauge
	DetailFetches   *prometheus.CounterVec // result label: tracked|arrived|vanished|failed|transport_error
	SessionRenewals *prometheus.CounterVec // result label: ok|error
	SessionExpiries prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poller_cycles_total",
			Help: "Total completed poll cycles.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "poller_cycle_duration_seconds",
			Help:    "Duration of one poll cycle including request pauses.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		TrackedTrains: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poller_tracked_trains",
			Help: "Number of trains currently tracked.",
		}),
		TrainsListed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poller_trains_listed",
			Help: "Number of trains in the last feed listing.",
		}),
		DetailFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poller_detail_fetches_total",
			Help: "Detail fetches by outcome.",
		}, []string{"result"}),
		SessionRenewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poller_session_renewals_total",
			Help: "Session token renewals by result.",
		}, []string{"result"}),
		SessionExpiries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poller_session_expiries_total",
			Help: "Times the feed returned an empty train list.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poller_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poller_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poller_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
	}

	reg.MustRegister(
		c.Cycles, c.CycleDuration, c.TrackedTrains, c.TrainsListed,
		c.DetailFetches, c.SessionRenewals, c.SessionExpiries,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
	)
	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// ObserveCycle records a finished cycle.
func (c *Collector) ObserveCycle(d time.Duration, tracked, listed int) {
	c.Cycles.Inc()
	c.CycleDuration.Observe(d.Seconds())
	c.TrackedTrains.Set(float64(tracked))
	c.TrainsListed.Set(float64(listed))
}

func (c *Collector) DetailFetched(result string) { c.DetailFetches.WithLabelValues(result).Inc() }

func (c *Collector) SessionRenewed(ok bool) {
	if ok {
		c.SessionRenewals.WithLabelValues("ok").Inc()
		return
	}
	c.SessionRenewals.WithLabelValues("error").Inc()
}

func (c *Collector) NATSPublishedInc() { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }
func (c *Collector) NATSSetConnected(v bool) {
	if v {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}
