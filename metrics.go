package masswhois

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and gauges the dispatcher updates as it runs.
// They are registered against the Registerer passed to NewMetrics, so a
// caller exposes that registry (e.g. with promhttp.HandlerFor) on whatever
// address it chooses.
type Metrics struct {
	ActiveSlots     prometheus.Gauge
	QueriesTotal    prometheus.Counter
	ReferralsTotal  prometheus.Counter
	ResultsTotal    *prometheus.CounterVec
	DNSCacheTotal   *prometheus.CounterVec
	QueryDuration   prometheus.Histogram
}

// NewMetrics constructs and registers a Metrics instance. It is safe to
// call at most once per process per registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "masswhois",
			Name:      "active_slots",
			Help:      "Number of worker slots currently mid-conversation.",
		}),
		QueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "masswhois",
			Name:      "queries_total",
			Help:      "Total number of top-level queries dispatched.",
		}),
		ReferralsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "masswhois",
			Name:      "referrals_total",
			Help:      "Total number of referral hops followed.",
		}),
		ResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "masswhois",
			Name:      "results_total",
			Help:      "Total number of completed queries by outcome.",
		}, []string{"outcome"}),
		DNSCacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "masswhois",
			Name:      "dns_cache_total",
			Help:      "DNS resolver cache lookups by result.",
		}, []string{"result"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "masswhois",
			Name:      "query_duration_seconds",
			Help:      "Time to drive one top-level query to completion, including referrals.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.ActiveSlots, m.QueriesTotal, m.ReferralsTotal, m.ResultsTotal, m.DNSCacheTotal, m.QueryDuration)
	return m
}

func (m *Metrics) recordResult(r Result) {
	if m == nil {
		return
	}
	m.ReferralsTotal.Add(float64(r.Hops))
	switch {
	case r.Err != nil:
		m.ResultsTotal.WithLabelValues("error").Inc()
	default:
		m.ResultsTotal.WithLabelValues(r.Availability.String()).Inc()
	}
}

func (m *Metrics) recordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.DNSCacheTotal.WithLabelValues("hit").Inc()
	} else {
		m.DNSCacheTotal.WithLabelValues("miss").Inc()
	}
}
