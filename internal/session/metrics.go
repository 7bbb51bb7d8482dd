package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a snapshot of the per-session counters. It is informational
// and never feeds back into control flow.
type Metrics struct {
	Attempts            int
	DirectSuccesses     int
	FallbackActivations int
	// TimeToConnect is measured from the start of negotiation to the most
	// recent transition into a connected state.
	TimeToConnect time.Duration
}

// Recorder exports session counters to Prometheus. One Recorder may be
// shared by many sessions.
type Recorder struct {
	attempts  prometheus.Counter
	direct    prometheus.Counter
	fallbacks prometheus.Counter
	failures  prometheus.Counter
	connect   *prometheus.HistogramVec
}

// NewRecorder creates the collectors and registers them with reg when reg
// is not nil.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pairlink",
			Subsystem: "session",
			Name:      "attempts_total",
			Help:      "Direct negotiation attempts started.",
		}),
		direct: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pairlink",
			Subsystem: "session",
			Name:      "direct_successes_total",
			Help:      "Transitions into connected-direct.",
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pairlink",
			Subsystem: "session",
			Name:      "fallback_activations_total",
			Help:      "Downgrades to the relayed path.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pairlink",
			Subsystem: "session",
			Name:      "failures_total",
			Help:      "Sessions that ended in the failed state.",
		}),
		connect: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pairlink",
			Subsystem: "session",
			Name:      "time_to_connect_seconds",
			Help:      "Time from negotiation start to a connected state.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 45, 60, 120},
		}, []string{"path"}),
	}
	if reg != nil {
		reg.MustRegister(r.attempts, r.direct, r.fallbacks, r.failures, r.connect)
	}
	return r
}

func (r *Recorder) attempt() {
	if r != nil {
		r.attempts.Inc()
	}
}

func (r *Recorder) connected(path State, d time.Duration) {
	if r == nil {
		return
	}
	switch path {
	case ConnectedDirect:
		r.direct.Inc()
		r.connect.WithLabelValues("direct").Observe(d.Seconds())
	case ConnectedRelayed:
		r.fallbacks.Inc()
		r.connect.WithLabelValues("relayed").Observe(d.Seconds())
	}
}

func (r *Recorder) failed() {
	if r != nil {
		r.failures.Inc()
	}
}
