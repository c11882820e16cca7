// Package metrics records what a vaultsync run did, for the node_exporter
// textfile collector.
//
// Each Recorder owns a private registry; nothing is registered globally.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeDeclined = "declined"
)

// Recorder holds the run's metrics.
type Recorder struct {
	registry *prometheus.Registry

	actions     *prometheus.CounterVec
	items       *prometheus.GaugeVec
	callLatency *prometheus.HistogramVec
	lastRun     *prometheus.GaugeVec
	lastSuccess *prometheus.GaugeVec
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		actions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultsync_sync_actions_total",
				Help: "Pull and push actions executed, by direction, action and outcome",
			},
			[]string{"direction", "action", "outcome"},
		),
		items: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vaultsync_items",
				Help: "Tracked items by drift status at the end of the run",
			},
			[]string{"status"},
		),
		callLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vaultsync_backend_call_duration_seconds",
				Help:    "Duration of backend calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"backend", "op"},
		),
		lastRun: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vaultsync_last_run_timestamp_seconds",
				Help: "Unix time of the last run, by command",
			},
			[]string{"command"},
		),
		lastSuccess: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vaultsync_last_run_success",
				Help: "1 if the last run of the command succeeded",
			},
			[]string{"command"},
		),
	}
}

// Registry exposes the private registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Action counts one executed pull or push action.
func (r *Recorder) Action(direction, action, outcome string) {
	if r == nil {
		return
	}
	r.actions.WithLabelValues(direction, action, outcome).Inc()
}

// Items sets the number of items in each status.
func (r *Recorder) Items(counts map[string]int) {
	if r == nil {
		return
	}
	for status, n := range counts {
		r.items.WithLabelValues(status).Set(float64(n))
	}
}

// ObserveCall records the duration of one backend call.
func (r *Recorder) ObserveCall(backendName, op string, d time.Duration) {
	if r == nil {
		return
	}
	r.callLatency.WithLabelValues(backendName, op).Observe(d.Seconds())
}

// MarkRun records that command finished at t.
func (r *Recorder) MarkRun(command string, ok bool, t time.Time) {
	if r == nil {
		return
	}
	r.lastRun.WithLabelValues(command).Set(float64(t.Unix()))
	success := 0.0
	if ok {
		success = 1
	}
	r.lastSuccess.WithLabelValues(command).Set(success)
}

// WriteToTextfile writes the registry in the text exposition format,
// replacing path atomically.
func (r *Recorder) WriteToTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
