package machine

import (
	"testing"

	"github.com/batsim-go/batsim/pkg/kernel"
	"github.com/batsim-go/batsim/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestSwitcherRunSleepsThenAppliesPstate(t *testing.T) {
	reg, err := NewRegistry(testPlatform("node1"), "master_host", Options{})
	require.NoError(t, err)
	k := kernel.New()
	sw := NewSwitcher(k, reg)

	var result SwitchResult
	k.Spawn(func() {
		result = sw.Run(0, 1, 2, SwitchToSleep)
	})
	<-k.Idle()

	require.Equal(t, 2.0, k.Now())
	require.Equal(t, SwitchResult{MachineID: 0, Pstate: 1, Direction: SwitchToSleep}, result)

	m, ok := reg.Lookup(0)
	require.True(t, ok)
	require.Equal(t, 1, m.Pstate)
	require.Equal(t, model.MachineSleeping, m.State)
}

func TestSwitcherRunToComputeSettlesIdle(t *testing.T) {
	reg, err := NewRegistry(testPlatform("node1"), "master_host", Options{})
	require.NoError(t, err)
	k := kernel.New()
	sw := NewSwitcher(k, reg)

	k.Spawn(func() {
		sw.Run(0, 0, 2, SwitchToCompute)
	})
	<-k.Idle()

	m, ok := reg.Lookup(0)
	require.True(t, ok)
	require.Equal(t, model.MachineIdle, m.State)
}
