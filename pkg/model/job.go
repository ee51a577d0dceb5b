// Package model holds the data model shared by every component: jobs,
// profiles, machines, machine ranges and the simulation counters.
package model

import "fmt"

// JobState is the lifecycle state of a Job.
type JobState string

const (
	JobNotSubmitted     JobState = "NOT_SUBMITTED"
	JobSubmitted        JobState = "SUBMITTED"
	JobRejected         JobState = "REJECTED"
	JobRunning          JobState = "RUNNING"
	JobCompletedSuccess JobState = "COMPLETED_SUCCESSFULLY"
	JobCompletedKilled  JobState = "COMPLETED_KILLED"
)

// IsTerminal reports whether a job has reached a state that counts
// towards jobs_completed for the termination predicate.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobRejected, JobCompletedSuccess, JobCompletedKilled:
		return true
	default:
		return false
	}
}

// DefaultWorkloadName is the workload part ParseJobID assumes for an id
// written without a "WORKLOAD!" prefix, per spec.md §4.5.
const DefaultWorkloadName = "static"

// JobID uniquely identifies a job by its owning workload and job number.
type JobID struct {
	Workload string
	Number   int
}

func (id JobID) String() string {
	return fmt.Sprintf("%s!%d", id.Workload, id.Number)
}

// ParseJobID parses the "WORKLOAD_NAME!JOB_NUMBER" syntax from spec.md
// §4.5. A missing workload name (no "!") defaults to DefaultWorkloadName.
func ParseJobID(s string) (JobID, error) {
	name := DefaultWorkloadName
	rest := s
	for i := 0; i < len(s); i++ {
		if s[i] == '!' {
			name = s[:i]
			rest = s[i+1:]
			break
		}
	}
	var num int
	if _, err := fmt.Sscanf(rest, "%d", &num); err != nil {
		return JobID{}, fmt.Errorf("invalid job identifier %q: %w", s, err)
	}
	return JobID{Workload: name, Number: num}, nil
}

// Job is a unit of work: resource count + walltime + profile.
type Job struct {
	ID JobID

	// Static attributes, fixed once loaded from the workload file.
	RequiredResources int
	Walltime          float64 // seconds; -1 means unbounded
	Profile           string
	SubmissionTime    float64

	// Runtime fields.
	State           JobState
	StartingTime    float64
	ActualRuntime   float64
	EnergyBefore    float64
	EnergyAfter     float64
	Allocation      []int // machine IDs, len == RequiredResources once RUNNING

	// Origin bookkeeping: which submitter asked to be notified on completion.
	SubmitterOrigin string
	WantsCallback   bool
}

// Unbounded reports whether the job has no walltime limit.
func (j *Job) Unbounded() bool {
	return j.Walltime < 0
}

// Validate checks invariants that must hold whenever the job transitions.
func (j *Job) Validate() error {
	if j.RequiredResources <= 0 {
		return fmt.Errorf("job %s: required resource count must be positive, got %d", j.ID, j.RequiredResources)
	}
	return nil
}
