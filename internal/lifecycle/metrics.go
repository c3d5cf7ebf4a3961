package lifecycle

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"pkt.systems/abtray/internal/managed"
)

// Metrics counts shutdown activity. A nil *Metrics records nothing.
type Metrics struct {
	requests  *prometheus.CounterVec
	sequences prometheus.Counter
	outcomes  *prometheus.CounterVec
}

// NewMetrics registers the lifecycle collectors on reg. When probe is non-nil
// a gauge reports whether the managed process is running at scrape time.
func NewMetrics(reg prometheus.Registerer, probe Probe) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "abtray",
			Name:      "shutdown_requests_total",
			Help:      "Shutdown requests by trigger, including ignored duplicates.",
		}, []string{"trigger"}),
		sequences: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abtray",
			Name:      "shutdown_sequences_total",
			Help:      "Shutdown sequences actually executed.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "abtray",
			Name:      "managed_outcomes_total",
			Help:      "Managed process outcomes observed at shutdown.",
		}, []string{"outcome"}),
	}
	collectors := []prometheus.Collector{m.requests, m.sequences, m.outcomes}
	if probe != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "abtray",
			Name:      "managed_process_running",
			Help:      "1 when the managed process is running.",
		}, func() float64 {
			if probe.Running(context.Background()) {
				return 1
			}
			return 0
		}))
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	for _, t := range []Trigger{TriggerSignal, TriggerUser, TriggerServerExit} {
		m.requests.WithLabelValues(string(t))
	}
	for _, o := range managed.Outcomes() {
		m.outcomes.WithLabelValues(o.String())
	}
	return m, nil
}

func (m *Metrics) request(t Trigger) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) sequence() {
	if m == nil {
		return
	}
	m.sequences.Inc()
}

func (m *Metrics) outcome(o managed.Outcome) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(o.String()).Inc()
}
