package peer

import "github.com/prometheus/client_golang/prometheus"

// metrics bundles the manager's Prometheus instruments, grounded on
// the teacher's lib/api metrics surface but kept on a private registry
// returned via Manager.Metrics rather than the default global one, so
// a process embedding more than one Manager never collides.
type metrics struct {
	registry        *prometheus.Registry
	cacheSize       prometheus.Gauge
	raceOutcome     *prometheus.CounterVec
	waiterTimeouts  prometheus.Counter
	supersessions   prometheus.Counter
	duplicateTokens prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "slskpeer",
			Subsystem: "pcm",
			Name:      "cache_size",
			Help:      "Number of username slots currently held in the message connection cache.",
		}),
		raceOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slskpeer",
			Subsystem: "pcm",
			Name:      "race_outcome_total",
			Help:      "Outcome of direct/indirect connection establishment races.",
		}, []string{"winner"}),
		waiterTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "slskpeer",
			Subsystem: "pcm",
			Name:      "waiter_timeouts_total",
			Help:      "Waiters that resolved via timeout rather than completion.",
		}),
		supersessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "slskpeer",
			Subsystem: "pcm",
			Name:      "supersessions_total",
			Help:      "Cached connections replaced by a newer inbound connection for the same username.",
		}),
		duplicateTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "slskpeer",
			Subsystem: "pcm",
			Name:      "duplicate_tokens_total",
			Help:      "Late or duplicate PierceFirewall arrivals dropped via the resolved-token cache.",
		}),
	}
	reg.MustRegister(m.cacheSize, m.raceOutcome, m.waiterTimeouts, m.supersessions, m.duplicateTokens)
	return m
}
