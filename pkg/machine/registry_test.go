package machine

import (
	"testing"

	"github.com/batsim-go/batsim/pkg/model"
	"github.com/batsim-go/batsim/pkg/platform"
	"github.com/stretchr/testify/require"
)

func testPlatform(names ...string) *platform.Platform {
	hosts := make([]platform.HostDescription, 0, len(names)+1)
	for _, n := range names {
		hosts = append(hosts, platform.HostDescription{
			Name:          n,
			DefaultPstate: 0,
			Pstates: map[string]platform.PstateDescription{
				"0": {Kind: model.PstateCompute, PowerWatts: 100},
				"1": {Kind: model.PstateSleep, PowerWatts: 5, TransitionTime: 2},
			},
		})
	}
	hosts = append(hosts, platform.HostDescription{
		Name:          "master_host",
		DefaultPstate: 0,
		Pstates:       map[string]platform.PstateDescription{"0": {Kind: model.PstateCompute, PowerWatts: 50}},
	})
	return &platform.Platform{Hosts: hosts}
}

func TestNewRegistrySeparatesMasterFromComputePool(t *testing.T) {
	reg, err := NewRegistry(testPlatform("node2", "node1"), "master_host", Options{})
	require.NoError(t, err)

	require.Equal(t, 2, reg.Count())
	require.Equal(t, "master_host", reg.MasterMachine().Name)
	// sorted by name ascending: node1 before node2
	require.Equal(t, "node1", reg.All()[0].Name)
	require.Equal(t, "node2", reg.All()[1].Name)
}

func TestNewRegistryRequiresMasterHost(t *testing.T) {
	_, err := NewRegistry(testPlatform("node1"), "does_not_exist", Options{})
	require.Error(t, err)
}

func TestNewRegistryLimitMachineCount(t *testing.T) {
	reg, err := NewRegistry(testPlatform("node1", "node2", "node3"), "master_host", Options{LimitMachineCount: 2})
	require.NoError(t, err)
	require.Equal(t, 2, reg.Count())
}

func TestOnJobRunAndOnJobEndTransitionState(t *testing.T) {
	reg, err := NewRegistry(testPlatform("node1"), "master_host", Options{})
	require.NoError(t, err)

	job := model.JobID{Workload: "static", Number: 0}
	alloc := model.NewMachineRange(0)

	require.NoError(t, reg.OnJobRun(job, alloc, 0))
	m, _ := reg.Lookup(0)
	require.Equal(t, model.MachineComputing, m.State)

	require.NoError(t, reg.OnJobEnd(job, alloc, 10))
	m, _ = reg.Lookup(0)
	require.Equal(t, model.MachineIdle, m.State)
}

func TestTotalConsumedEnergyAccruesOverTime(t *testing.T) {
	reg, err := NewRegistry(testPlatform("node1"), "master_host", Options{EnergyEnabled: true})
	require.NoError(t, err)

	require.Equal(t, 0.0, reg.TotalConsumedEnergy(0))
	// 100W for 10s on one machine = 1000 J
	require.Equal(t, 1000.0, reg.TotalConsumedEnergy(10))
}

func TestOnTopJobChangeNotifiesOnFirstAndLastJob(t *testing.T) {
	var events []string
	reg, err := NewRegistry(testPlatform("node1"), "master_host", Options{
		SpaceSharingAllowed: true,
		OnTopJobChange: func(machineID int, top *model.JobID, at float64) {
			if top == nil {
				events = append(events, "cleared")
			} else {
				events = append(events, top.String())
			}
		},
	})
	require.NoError(t, err)

	j0 := model.JobID{Workload: "static", Number: 0}
	j1 := model.JobID{Workload: "static", Number: 1}
	alloc := model.NewMachineRange(0)

	require.NoError(t, reg.OnJobRun(j0, alloc, 0))
	require.NoError(t, reg.OnJobRun(j1, alloc, 1))
	require.NoError(t, reg.OnJobEnd(j0, alloc, 2))
	require.NoError(t, reg.OnJobEnd(j1, alloc, 3))

	require.Equal(t, []string{"static!0", "static!1", "cleared"}, events)
}
