package metrics

import (
	"testing"
	"time"

	"github.com/batsim-go/batsim/pkg/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeSnapshot struct {
	counters model.Counters
	states   map[model.MachineState]int
	energy   float64
}

func (f fakeSnapshot) CountersSnapshot() model.Counters                { return f.counters }
func (f fakeSnapshot) MachineStateCounts() map[model.MachineState]int { return f.states }
func (f fakeSnapshot) EnergyConsumedJoules() float64                  { return f.energy }

func TestCollectorSamplesSnapshotIntoGauges(t *testing.T) {
	src := fakeSnapshot{
		counters: model.Counters{JobsRunning: 3, MachinesSwitching: 1, WaitersArmed: 2},
		states:   map[model.MachineState]int{model.MachineIdle: 4, model.MachineComputing: 3},
		energy:   1234.5,
	}

	c := NewCollector(src, time.Hour) // long period: call collect directly rather than wait on the ticker
	c.collect()

	require.Equal(t, 3.0, testutil.ToFloat64(JobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(MachinesSwitching))
	require.Equal(t, 2.0, testutil.ToFloat64(WaitersArmed))
	require.Equal(t, 4.0, testutil.ToFloat64(MachinesByState.WithLabelValues(string(model.MachineIdle))))
	require.Equal(t, 3.0, testutil.ToFloat64(MachinesByState.WithLabelValues(string(model.MachineComputing))))
	require.Equal(t, 1234.5, testutil.ToFloat64(EnergyConsumedJoules))
}

func TestCollectorDefaultsPeriodWhenNonPositive(t *testing.T) {
	c := NewCollector(fakeSnapshot{}, 0)
	require.Equal(t, 5*time.Second, c.period)
}

func TestCollectorStartStopDoesNotPanic(t *testing.T) {
	c := NewCollector(fakeSnapshot{states: map[model.MachineState]int{}}, time.Millisecond)
	c.Start()
	time.Sleep(5 * time.Millisecond)
	c.Stop()
}
