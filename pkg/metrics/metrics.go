package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counters and gauges mirroring model.Counters. The orchestrator's
	// handlers update them as each change happens; Collector also resets
	// the gauges from a Counters snapshot on every tick.
	JobsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "batsim_jobs_submitted_total",
			Help: "Total number of jobs that reached the SUBMITTED state",
		},
	)

	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batsim_jobs_completed_total",
			Help: "Total number of jobs that reached a terminal state, by outcome",
		},
		[]string{"status"}, // success, killed, rejected
	)

	JobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "batsim_jobs_running",
			Help: "Number of jobs currently RUNNING",
		},
	)

	MachinesSwitching = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "batsim_machines_switching",
			Help: "Number of machines currently transitioning pstate",
		},
	)

	MachinesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "batsim_machines_by_state",
			Help: "Number of machines in each MachineState",
		},
		[]string{"state"},
	)

	WaitersArmed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "batsim_waiters_armed",
			Help: "Number of CALL_ME_LATER waiters currently armed",
		},
	)

	SchedulerRoundtripDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batsim_scheduler_roundtrip_seconds",
			Help:    "Wall-clock duration of one C5 request/reply exchange with the external scheduler",
			Buckets: prometheus.DefBuckets,
		},
	)

	EnergyConsumedJoules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "batsim_energy_consumed_joules",
			Help: "Cumulative simulated energy consumption",
		},
	)

	PolicyViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "batsim_policy_violations_total",
			Help: "Total number of fatal policy violations encountered",
		},
	)
)

func init() {
	prometheus.MustRegister(
		JobsSubmittedTotal,
		JobsCompletedTotal,
		JobsRunning,
		MachinesSwitching,
		MachinesByState,
		WaitersArmed,
		SchedulerRoundtripDuration,
		EnergyConsumedJoules,
		PolicyViolationsTotal,
	)
}

// Handler returns the Prometheus HTTP handler, served on -metrics-addr.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
