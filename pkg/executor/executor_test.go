package executor

import (
	"testing"

	"github.com/batsim-go/batsim/pkg/kernel"
	"github.com/batsim-go/batsim/pkg/machine"
	"github.com/batsim-go/batsim/pkg/model"
	"github.com/batsim-go/batsim/pkg/platform"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *machine.Registry {
	t.Helper()
	plat := &platform.Platform{Hosts: []platform.HostDescription{
		{Name: "master_host", DefaultPstate: 0, Pstates: map[string]platform.PstateDescription{
			"0": {Kind: model.PstateCompute},
		}},
		{Name: "node0", DefaultPstate: 0, Pstates: map[string]platform.PstateDescription{
			"0": {Kind: model.PstateCompute, PowerWatts: 100},
		}},
		{Name: "node1", DefaultPstate: 0, Pstates: map[string]platform.PstateDescription{
			"0": {Kind: model.PstateCompute, PowerWatts: 100},
		}},
	}}
	reg, err := machine.NewRegistry(plat, "master_host", machine.Options{})
	require.NoError(t, err)
	return reg
}

func TestExecutorDelaySuccess(t *testing.T) {
	k := kernel.New()
	reg := testRegistry(t)
	lookup := func(name string) (*model.Profile, error) {
		return &model.Profile{Name: name, Type: model.ProfileDelay, DelaySeconds: 5}, nil
	}
	ex := New(k, reg, lookup)

	job := &model.Job{ID: model.JobID{Workload: "static", Number: 0}, RequiredResources: 1, Walltime: 10, Profile: "p0"}
	alloc := model.NewMachineRange(0)

	var result Result
	var runErr error
	k.Spawn(func() {
		result, runErr = ex.Run(job, alloc)
	})
	<-k.Idle()

	require.NoError(t, runErr)
	require.Equal(t, model.JobCompletedSuccess, result.Status)
	require.Equal(t, 5.0, result.ActualRuntime)
}

func TestExecutorRejectsSMPITraceCountMismatch(t *testing.T) {
	k := kernel.New()
	reg := testRegistry(t)
	lookup := func(name string) (*model.Profile, error) {
		return &model.Profile{Name: name, Type: model.ProfileSMPI, Traces: []string{"rank0.trace"}}, nil
	}
	ex := New(k, reg, lookup)

	// required_nb_res is 2 but the profile only declares one trace.
	job := &model.Job{ID: model.JobID{Workload: "static", Number: 0}, RequiredResources: 2, Walltime: 10, Profile: "smpi0"}
	alloc := model.NewMachineRange(0, 1)

	var runErr error
	k.Spawn(func() {
		_, runErr = ex.Run(job, alloc)
	})
	<-k.Idle()

	require.Error(t, runErr)
}

func TestExecutorWalltimeKill(t *testing.T) {
	k := kernel.New()
	reg := testRegistry(t)
	lookup := func(name string) (*model.Profile, error) {
		return &model.Profile{Name: name, Type: model.ProfileDelay, DelaySeconds: 10}, nil
	}
	ex := New(k, reg, lookup)

	job := &model.Job{ID: model.JobID{Workload: "static", Number: 1}, RequiredResources: 1, Walltime: 3, Profile: "p0"}
	alloc := model.NewMachineRange(0)

	var result Result
	k.Spawn(func() {
		result, _ = ex.Run(job, alloc)
	})
	<-k.Idle()

	require.Equal(t, model.JobCompletedKilled, result.Status)
	require.Equal(t, 3.0, result.ActualRuntime)
}

func TestExecutorParallelWalltimeKill(t *testing.T) {
	k := kernel.New()
	reg := testRegistry(t)
	lookup := func(name string) (*model.Profile, error) {
		return &model.Profile{Name: name, Type: model.ProfileParallelHomogeneous, ComputeScalar: 100}, nil
	}
	ex := New(k, reg, lookup)

	job := &model.Job{ID: model.JobID{Workload: "static", Number: 2}, RequiredResources: 1, Walltime: 2, Profile: "p0"}
	alloc := model.NewMachineRange(0)

	var result Result
	k.Spawn(func() {
		result, _ = ex.Run(job, alloc)
	})
	<-k.Idle()

	require.Equal(t, model.JobCompletedKilled, result.Status)
	require.Equal(t, 2.0, result.ActualRuntime)
}

func TestExecutorZeroWalltimeKillsImmediately(t *testing.T) {
	k := kernel.New()
	reg := testRegistry(t)
	lookup := func(name string) (*model.Profile, error) {
		return &model.Profile{Name: name, Type: model.ProfileParallelHomogeneous, ComputeScalar: 50}, nil
	}
	ex := New(k, reg, lookup)

	job := &model.Job{ID: model.JobID{Workload: "static", Number: 3}, RequiredResources: 1, Walltime: 0, Profile: "p0"}
	alloc := model.NewMachineRange(0)

	var result Result
	k.Spawn(func() {
		result, _ = ex.Run(job, alloc)
	})
	<-k.Idle()

	require.Equal(t, model.JobCompletedKilled, result.Status)
	require.Equal(t, 0.0, result.ActualRuntime)
}

func TestExecutorSequenceKillPropagates(t *testing.T) {
	k := kernel.New()
	reg := testRegistry(t)
	profiles := map[string]*model.Profile{
		"inner1": {Name: "inner1", Type: model.ProfileDelay, DelaySeconds: 2},
		"inner2": {Name: "inner2", Type: model.ProfileDelay, DelaySeconds: 10},
		"seq":    {Name: "seq", Type: model.ProfileSequence, Sequence: []string{"inner1", "inner2"}, Repeat: 1},
	}
	lookup := func(name string) (*model.Profile, error) { return profiles[name], nil }
	ex := New(k, reg, lookup)

	job := &model.Job{ID: model.JobID{Workload: "static", Number: 4}, RequiredResources: 1, Walltime: 5, Profile: "seq"}
	alloc := model.NewMachineRange(0)

	var result Result
	k.Spawn(func() {
		result, _ = ex.Run(job, alloc)
	})
	<-k.Idle()

	require.Equal(t, model.JobCompletedKilled, result.Status)
	// inner1 consumes 2s, leaving 3s of walltime for inner2 which needs 10s.
	require.Equal(t, 5.0, result.ActualRuntime)
}
