// Package machine implements the machine registry (spec.md §4.2, C2)
// and the pstate switcher (spec.md §4.4, C4). The registry is mutated by
// kernel tasks (the orchestrator loop, executors through OnJobRun/OnJobEnd,
// switchers through SetPstate), and the kernel's run baton lets only one
// of them execute at a time, so it carries no locks of its own.
package machine

import (
	"fmt"
	"sort"

	"github.com/batsim-go/batsim/pkg/model"
	"github.com/batsim-go/batsim/pkg/platform"
)

// TopJobObserver is notified whenever a machine's top job changes (a new
// job becomes the top, or the top job is removed), so a schedule tracer
// can stay accurate even under space-sharing. Grounded on spec.md §4.2's
// "tracer is notified" requirement.
type TopJobObserver func(machineID int, top *model.JobID, at float64)

// Registry holds every machine and the designated master host.
type Registry struct {
	machines     []*model.Machine
	byID         map[int]*model.Machine
	master       *model.Machine
	powerDraw    map[int]map[int]float64 // machine id -> pstate -> watts
	transitions  map[int]map[int]float64 // machine id -> pstate -> transition seconds
	spaceSharing bool
	energy       bool
	onTopChange  TopJobObserver
}

// Options configures registry construction.
type Options struct {
	SpaceSharingAllowed bool
	EnergyEnabled       bool
	// LimitMachineCount truncates the compute pool to the first N hosts
	// by ascending name order, per spec.md §4.2. -1 (or 0) means no limit.
	LimitMachineCount int
	OnTopJobChange    TopJobObserver
}

// NewRegistry builds machines from a platform description. The host
// whose name matches masterName is removed from the compute pool and
// kept as the master machine; if absent this is a fatal configuration
// error (spec.md §4.2).
func NewRegistry(plat *platform.Platform, masterName string, opts Options) (*Registry, error) {
	r := &Registry{
		byID:         make(map[int]*model.Machine),
		powerDraw:    make(map[int]map[int]float64),
		transitions:  make(map[int]map[int]float64),
		spaceSharing: opts.SpaceSharingAllowed,
		energy:       opts.EnergyEnabled,
		onTopChange:  opts.OnTopJobChange,
	}

	var masterHost *platform.HostDescription
	compute := make([]platform.HostDescription, 0, len(plat.Hosts))
	for i, h := range plat.Hosts {
		if h.Name == masterName {
			host := plat.Hosts[i]
			masterHost = &host
			continue
		}
		compute = append(compute, h)
	}
	if masterHost == nil {
		return nil, fmt.Errorf("master host %q not found in platform description", masterName)
	}

	sort.Slice(compute, func(i, j int) bool { return compute[i].Name < compute[j].Name })
	if opts.LimitMachineCount >= 1 && opts.LimitMachineCount < len(compute) {
		compute = compute[:opts.LimitMachineCount]
	}

	for id, h := range compute {
		m := &model.Machine{
			ID:          id,
			Name:        h.Name,
			State:       model.MachineIdle,
			Pstate:      h.DefaultPstate,
			PstateKinds: make(map[int]model.PstateKind, len(h.Pstates)),
		}
		draw := make(map[int]float64, len(h.Pstates))
		transitionSecs := make(map[int]float64, len(h.Pstates))
		for key, pd := range h.Pstates {
			var pstate int
			if _, err := fmt.Sscanf(key, "%d", &pstate); err != nil {
				return nil, fmt.Errorf("host %q: invalid pstate key %q: %w", h.Name, key, err)
			}
			m.PstateKinds[pstate] = pd.Kind
			draw[pstate] = pd.PowerWatts
			transitionSecs[pstate] = pd.TransitionTime
		}
		if _, ok := m.PstateKinds[m.Pstate]; !ok {
			return nil, fmt.Errorf("host %q: default pstate %d not declared", h.Name, m.Pstate)
		}
		r.machines = append(r.machines, m)
		r.byID[id] = m
		r.powerDraw[id] = draw
		r.transitions[id] = transitionSecs
	}

	masterPstates := make(map[int]model.PstateKind, len(masterHost.Pstates))
	for key, pd := range masterHost.Pstates {
		var pstate int
		fmt.Sscanf(key, "%d", &pstate)
		masterPstates[pstate] = pd.Kind
	}
	r.master = &model.Machine{
		ID:          -1,
		Name:        masterHost.Name,
		State:       model.MachineIdle,
		Pstate:      masterHost.DefaultPstate,
		PstateKinds: masterPstates,
	}

	return r, nil
}

// Lookup returns the machine with the given id.
func (r *Registry) Lookup(id int) (*model.Machine, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// Exists reports whether a machine with the given id exists.
func (r *Registry) Exists(id int) bool {
	_, ok := r.byID[id]
	return ok
}

// MasterMachine returns the designated master host.
func (r *Registry) MasterMachine() *model.Machine {
	return r.master
}

// All returns every compute machine (not the master).
func (r *Registry) All() []*model.Machine {
	return r.machines
}

// Count returns the number of compute machines.
func (r *Registry) Count() int {
	return len(r.machines)
}

// OnJobRun marks every machine in the allocation as COMPUTING with this
// job added to its job set (spec.md §4.2).
func (r *Registry) OnJobRun(jobID model.JobID, alloc model.MachineRange, at float64) error {
	for _, id := range alloc.Elements() {
		m, ok := r.byID[id]
		if !ok {
			return fmt.Errorf("on_job_run: machine %d does not exist", id)
		}
		r.accrueEnergy(m, at)
		becameTop := m.AddJob(jobID)
		if becameTop && r.onTopChange != nil {
			top := jobID
			r.onTopChange(id, &top, at)
		}
	}
	return nil
}

// OnJobEnd removes the job from every machine in the allocation and
// transitions any machine whose job set empties back to IDLE.
func (r *Registry) OnJobEnd(jobID model.JobID, alloc model.MachineRange, at float64) error {
	for _, id := range alloc.Elements() {
		m, ok := r.byID[id]
		if !ok {
			return fmt.Errorf("on_job_end: machine %d does not exist", id)
		}
		r.accrueEnergy(m, at)
		wasTop := m.RemoveJob(jobID)
		if wasTop && r.onTopChange != nil {
			if top, ok := m.TopJob(); ok {
				r.onTopChange(id, &top, at)
			} else {
				r.onTopChange(id, nil, at)
			}
		}
	}
	return nil
}

// SpaceSharingAllowed reports the configured space-sharing policy.
func (r *Registry) SpaceSharingAllowed() bool {
	return r.spaceSharing
}

// EnergyEnabled reports whether energy accounting is active.
func (r *Registry) EnergyEnabled() bool {
	return r.energy
}

// accrueEnergy integrates power draw over elapsed simulated time into the
// machine's running total. A no-op when energy accounting is disabled.
func (r *Registry) accrueEnergy(m *model.Machine, at float64) {
	if !r.energy {
		return
	}
	elapsed := at - m.EnergyUpdatedAt
	if elapsed > 0 {
		watts := r.powerDraw[m.ID][m.Pstate]
		m.EnergyJoules += watts * elapsed
	}
	m.EnergyUpdatedAt = at
}

// SetPstate applies a new pstate value after a direct or completed
// transition switch and re-settles its energy accounting at the switch
// instant.
func (r *Registry) SetPstate(machineID, pstate int, at float64) error {
	m, ok := r.byID[machineID]
	if !ok {
		return fmt.Errorf("set_pstate: machine %d does not exist", machineID)
	}
	r.accrueEnergy(m, at)
	m.Pstate = pstate
	return nil
}

// TotalConsumedEnergy sums every machine's accrued energy as of `at`
// (first settling each machine's running total to that instant).
func (r *Registry) TotalConsumedEnergy(at float64) float64 {
	var total float64
	for _, m := range r.machines {
		r.accrueEnergy(m, at)
		total += m.EnergyJoules
	}
	return total
}

// TransitionTime returns how long it takes machineID to transition into
// pstate, per the platform description.
func (r *Registry) TransitionTime(machineID, pstate int) (float64, bool) {
	byPstate, ok := r.transitions[machineID]
	if !ok {
		return 0, false
	}
	t, ok := byPstate[pstate]
	return t, ok
}

// StateCounts returns the number of machines in each MachineState, for metrics.
func (r *Registry) StateCounts() map[model.MachineState]int {
	counts := make(map[model.MachineState]int)
	for _, m := range r.machines {
		counts[m.State]++
	}
	return counts
}
