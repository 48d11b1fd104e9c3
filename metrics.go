package tlsminer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	live      prometheus.Gauge
	opened    prometheus.Counter
	released  *prometheus.CounterVec
	solutions prometheus.Counter
	duration  prometheus.Histogram
}

// newMetrics creates the pool's collectors. If reg is nil, they are not registered anywhere.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		live: f.NewGauge(prometheus.GaugeOpts{
			Name: "tlsminer_live_attempts", Help: "Attempts currently in flight",
		}),
		opened: f.NewCounter(prometheus.CounterOpts{
			Name: "tlsminer_attempts_opened_total", Help: "Attempts opened",
		}),
		released: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tlsminer_attempts_released_total", Help: "Attempts released by reason",
		}, []string{"reason"}),
		solutions: f.NewCounter(prometheus.CounterOpts{
			Name: "tlsminer_solutions_total", Help: "Trials meeting the difficulty",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "tlsminer_trial_duration_seconds",
			Help:    "Time from opening an attempt to evaluating its trial",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
	}
}

func (m *metrics) onOpen() {
	m.live.Inc()
	m.opened.Inc()
}

func (m *metrics) onRelease(reason Reason, elapsed time.Duration) {
	m.live.Dec()
	m.released.WithLabelValues(string(reason)).Inc()
	if reason == ReasonCompleted {
		m.duration.Observe(elapsed.Seconds())
	}
}

// onConstructionFailure counts an attempt which never went live.
func (m *metrics) onConstructionFailure(reason Reason) {
	m.released.WithLabelValues(string(reason)).Inc()
}
