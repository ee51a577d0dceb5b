package model

// Counters tracks the simulation-wide counts used by the termination
// predicate and by metrics. All fields are non-negative.
type Counters struct {
	SubmittersActive   int
	SubmittersFinished int
	JobsSubmitted      int
	JobsCompleted      int
	JobsRunning        int
	JobsScheduled      int
	MachinesSwitching  int
	WaitersArmed       int
}

// TerminationReady reports whether the termination predicate from
// spec.md §4.1 holds, given the channel's ready flag.
func (c *Counters) TerminationReady(schedulerReady bool) bool {
	return c.SubmittersActive > 0 &&
		c.SubmittersFinished == c.SubmittersActive &&
		c.JobsCompleted == c.JobsSubmitted &&
		schedulerReady &&
		c.MachinesSwitching == 0 &&
		c.WaitersArmed == 0
}
