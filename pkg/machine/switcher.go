package machine

import (
	"github.com/batsim-go/batsim/pkg/kernel"
	"github.com/batsim-go/batsim/pkg/model"
)

// SwitchDirection is the kind of pstate transition a Switcher performs.
type SwitchDirection int

const (
	// SwitchToCompute drives a machine from SLEEP to a COMPUTE pstate
	// (TRANSITING_FROM_SLEEPING_TO_COMPUTING).
	SwitchToCompute SwitchDirection = iota
	// SwitchToSleep drives a machine from COMPUTE to a SLEEP pstate
	// (TRANSITING_FROM_COMPUTING_TO_SLEEPING).
	SwitchToSleep
)

// SwitchResult is posted back to the orchestrator when a Switcher
// completes, as SWITCHED_ON / SWITCHED_OFF in spec.md §4.1.
type SwitchResult struct {
	MachineID int
	Pstate    int
	Direction SwitchDirection
}

// Switcher drives one machine through an OFF->ON or ON->OFF transition
// (spec.md §4.4, C4). It must be the sole mutator of that machine's
// pstate during its lifetime; the orchestrator enforces this by gating
// new allocations on TRANSIT_* state before spawning one.
type Switcher struct {
	kernel   *kernel.Kernel
	registry *Registry
}

// NewSwitcher builds a Switcher bound to the given kernel and registry.
func NewSwitcher(k *kernel.Kernel, reg *Registry) *Switcher {
	return &Switcher{kernel: k, registry: reg}
}

// Run sleeps for the platform-defined transition time, then applies the
// new pstate and settles the machine into its resting state (IDLE for a
// compute pstate, SLEEPING for a sleep pstate). It returns the result the
// caller should post to the orchestrator's mailbox.
func (s *Switcher) Run(machineID, newPstate int, transitionTime float64, dir SwitchDirection) SwitchResult {
	s.kernel.Sleep(transitionTime)

	at := s.kernel.Now()
	_ = s.registry.SetPstate(machineID, newPstate, at)

	if m, ok := s.registry.Lookup(machineID); ok {
		switch dir {
		case SwitchToCompute:
			m.State = model.MachineIdle
		case SwitchToSleep:
			m.State = model.MachineSleeping
		}
	}

	return SwitchResult{MachineID: machineID, Pstate: newPstate, Direction: dir}
}
