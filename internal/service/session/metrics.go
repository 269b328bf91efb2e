package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's prometheus collectors. A nil *Metrics
// disables instrumentation entirely.
type Metrics struct {
	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter
	ForcedCleanups  prometheus.Counter
	Degradations    *prometheus.CounterVec
}

// NewMetrics builds and registers the engine collectors against the given
// registerer. Re-registration reuses the existing collectors so repeated
// construction in tests stays safe.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "perfcheck",
			Subsystem: "engine",
			Name:      "sessions_started_total",
			Help:      "Number of sessions successfully started",
		}),
		SessionsStopped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "perfcheck",
			Subsystem: "engine",
			Name:      "sessions_stopped_total",
			Help:      "Number of sessions stopped with a report",
		}),
		ForcedCleanups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "perfcheck",
			Subsystem: "engine",
			Name:      "forced_cleanups_total",
			Help:      "Number of sessions released without a stop request",
		}),
	}
	m.Degradations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perfcheck",
		Subsystem: "engine",
		Name:      "degraded_steps_total",
		Help:      "Number of non-fatal session step failures by reason",
	}, []string{"reason"})
	if reg == nil {
		return m
	}
	for i, collector := range []prometheus.Collector{m.SessionsStarted, m.SessionsStopped, m.ForcedCleanups, m.Degradations} {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch existing := already.ExistingCollector.(type) {
				case prometheus.Counter:
					switch i {
					case 0:
						m.SessionsStarted = existing
					case 1:
						m.SessionsStopped = existing
					case 2:
						m.ForcedCleanups = existing
					}
				case *prometheus.CounterVec:
					m.Degradations = existing
				}
			}
		}
	}
	return m
}
