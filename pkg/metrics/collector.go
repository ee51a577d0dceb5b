package metrics

import (
	"time"

	"github.com/batsim-go/batsim/pkg/model"
)

// Snapshot is the minimal view of simulator state the collector needs.
// The orchestrator implements this without exposing its internals.
type Snapshot interface {
	CountersSnapshot() model.Counters
	MachineStateCounts() map[model.MachineState]int
	EnergyConsumedJoules() float64
}

// Collector periodically samples simulator state into the Prometheus
// gauges, the same ticker-driven shape as the teacher's metrics collector.
type Collector struct {
	source Snapshot
	period time.Duration
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector sampling src every period.
func NewCollector(src Snapshot, period time.Duration) *Collector {
	if period <= 0 {
		period = 5 * time.Second
	}
	return &Collector{source: src, period: period, stopCh: make(chan struct{})}
}

// Start begins collecting metrics in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.period)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	counters := c.source.CountersSnapshot()
	JobsRunning.Set(float64(counters.JobsRunning))
	MachinesSwitching.Set(float64(counters.MachinesSwitching))
	WaitersArmed.Set(float64(counters.WaitersArmed))

	for state, count := range c.source.MachineStateCounts() {
		MachinesByState.WithLabelValues(string(state)).Set(float64(count))
	}

	EnergyConsumedJoules.Set(c.source.EnergyConsumedJoules())
}
