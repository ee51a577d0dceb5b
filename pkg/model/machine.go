package model

import "fmt"

// MachineState is one of the five states a Machine can be in.
type MachineState string

const (
	MachineSleeping                   MachineState = "SLEEPING"
	MachineIdle                       MachineState = "IDLE"
	MachineComputing                  MachineState = "COMPUTING"
	MachineTransitSleepingToComputing MachineState = "TRANSITING_FROM_SLEEPING_TO_COMPUTING"
	MachineTransitComputingToSleeping MachineState = "TRANSITING_FROM_COMPUTING_TO_SLEEPING"
)

// PstateKind classifies a power state number.
type PstateKind string

const (
	PstateCompute    PstateKind = "COMPUTE"
	PstateSleep      PstateKind = "SLEEP"
	PstateTransition PstateKind = "TRANSITION"
)

// Machine is a simulated compute node, identified by an integer id in [0,N).
type Machine struct {
	ID    int
	Name  string
	State MachineState

	Pstate      int
	PstateKinds map[int]PstateKind // pstate number -> kind

	// JobsComputing is the multiset of jobs currently running on this
	// machine, ordered by insertion so index 0 is the deterministic
	// "top job" the tracer observes. Under the default (space-sharing
	// forbidden) policy this never holds more than one entry.
	JobsComputing []JobID

	// EnergyJoules is the cumulative simulated energy consumed by this
	// machine, integrated from its pstate's power draw over time.
	// Maintained by the machine registry; only meaningful when the
	// simulation runs with energy accounting enabled.
	EnergyJoules float64

	// EnergyUpdatedAt is the simulated time of the last EnergyJoules
	// integration step.
	EnergyUpdatedAt float64
}

// KindOf returns the kind of the given pstate number.
func (m *Machine) KindOf(pstate int) (PstateKind, bool) {
	k, ok := m.PstateKinds[pstate]
	return k, ok
}

// TopJob returns the first (oldest) job in the computing set, if any.
func (m *Machine) TopJob() (JobID, bool) {
	if len(m.JobsComputing) == 0 {
		return JobID{}, false
	}
	return m.JobsComputing[0], true
}

// AddJob appends a job to the computing set and returns true if it became
// the new top job (i.e. the set was empty before).
func (m *Machine) AddJob(id JobID) (becameTop bool) {
	becameTop = len(m.JobsComputing) == 0
	m.JobsComputing = append(m.JobsComputing, id)
	if m.State != MachineComputing {
		m.State = MachineComputing
	}
	return becameTop
}

// RemoveJob removes a job from the computing set and returns true if the
// removed job was the top job (so the tracer must be notified of a new
// top, or of the set becoming empty).
func (m *Machine) RemoveJob(id JobID) (wasTop bool) {
	for i, j := range m.JobsComputing {
		if j == id {
			wasTop = i == 0
			m.JobsComputing = append(m.JobsComputing[:i], m.JobsComputing[i+1:]...)
			break
		}
	}
	if len(m.JobsComputing) == 0 {
		m.State = MachineIdle
	}
	return wasTop
}

func (m *Machine) String() string {
	return fmt.Sprintf("machine[%d:%s state=%s pstate=%d jobs=%d]", m.ID, m.Name, m.State, m.Pstate, len(m.JobsComputing))
}
