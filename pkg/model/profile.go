package model

import "fmt"

// ProfileType identifies one of the five profile variants from spec.md §3.
type ProfileType string

const (
	ProfileDelay              ProfileType = "delay"
	ProfileParallel           ProfileType = "parallel"
	ProfileParallelHomogeneous ProfileType = "parallel_homogeneous"
	ProfileSequence           ProfileType = "sequence"
	ProfileSMPI               ProfileType = "smpi"
)

// Profile is a named recipe describing how a job consumes resources.
// The json tags are this repo's own workload wire format (spec.md §1
// treats workload parsing as an out-of-scope external collaborator; see
// pkg/workload), not a transcription of any upstream format.
type Profile struct {
	Name string      `json:"-"`
	Type ProfileType `json:"type"`

	// delay
	DelaySeconds float64 `json:"delay"`

	// parallel: explicit per-resource compute vector and resource x
	// resource communication matrix, both of length RequiredResources
	// (resp. RequiredResources^2, row-major).
	ComputeVector []float64 `json:"compute_vector,omitempty"`
	CommMatrix    []float64 `json:"comm_matrix,omitempty"`

	// parallel_homogeneous: scalar compute and scalar pairwise comm,
	// expanded into a ComputeVector/CommMatrix at execution time.
	ComputeScalar float64 `json:"compute,omitempty"`
	CommScalar    float64 `json:"comm,omitempty"`

	// sequence: ordered list of profile names, executed in a loop.
	Sequence []string `json:"sequence,omitempty"`
	Repeat   int      `json:"repeat,omitempty"`

	// smpi: one trace file path per rank.
	Traces []string `json:"trace_files,omitempty"`
}

// maxSequenceDepth bounds recursive sequence expansion so a pathological
// workload (a profile referencing itself, directly or via a cycle) cannot
// blow the goroutine stack. See spec.md §9 "Dynamic dispatch on profile type".
const maxSequenceDepth = 64

// Validate checks the acyclic/reference invariants from spec.md §3. lookup
// resolves a profile name to its definition (nil if unknown).
func (p *Profile) Validate(lookup func(name string) *Profile) error {
	switch p.Type {
	case ProfileSequence:
		return p.validateSequence(lookup, map[string]bool{p.Name: true}, 0)
	case ProfileSMPI:
		if len(p.Traces) == 0 {
			return fmt.Errorf("profile %q: smpi profile must declare at least one trace", p.Name)
		}
		// The stronger rule from spec.md §3 — trace count must equal the
		// job's required_nb_res — needs a job in scope and is checked in
		// pkg/executor.Executor.Run just before dispatch, since a profile
		// is shared across every job that references it by name.
	case ProfileDelay:
		if p.DelaySeconds < 0 {
			return fmt.Errorf("profile %q: delay must be non-negative", p.Name)
		}
	case ProfileParallel, ProfileParallelHomogeneous:
		// nothing further to validate structurally; vector/matrix sizing
		// is checked against the job's resource count at execution time.
	default:
		return fmt.Errorf("profile %q: unknown type %q", p.Name, p.Type)
	}
	return nil
}

func (p *Profile) validateSequence(lookup func(string) *Profile, seen map[string]bool, depth int) error {
	if depth > maxSequenceDepth {
		return fmt.Errorf("profile %q: sequence nesting exceeds depth %d, likely cyclic", p.Name, maxSequenceDepth)
	}
	if p.Repeat < 0 {
		return fmt.Errorf("profile %q: repeat must be non-negative", p.Name)
	}
	for _, childName := range p.Sequence {
		child := lookup(childName)
		if child == nil {
			return fmt.Errorf("profile %q: references unknown profile %q", p.Name, childName)
		}
		if seen[childName] {
			return fmt.Errorf("profile %q: cyclic reference to %q", p.Name, childName)
		}
		if child.Type == ProfileSequence {
			seen[childName] = true
			if err := child.validateSequence(lookup, seen, depth+1); err != nil {
				return err
			}
			delete(seen, childName)
		}
	}
	return nil
}

// ExpandResources returns the per-resource compute vector and the
// resource x resource communication matrix for a parallel or
// parallel_homogeneous profile run on nbRes hosts.
func (p *Profile) ExpandResources(nbRes int) (compute []float64, comm []float64, err error) {
	switch p.Type {
	case ProfileParallel:
		if len(p.ComputeVector) != nbRes || len(p.CommMatrix) != nbRes*nbRes {
			return nil, nil, fmt.Errorf("profile %q: vector/matrix size mismatch for %d resources", p.Name, nbRes)
		}
		return p.ComputeVector, p.CommMatrix, nil
	case ProfileParallelHomogeneous:
		compute = make([]float64, nbRes)
		comm = make([]float64, nbRes*nbRes)
		for i := range compute {
			compute[i] = p.ComputeScalar
		}
		for i := range comm {
			comm[i] = p.CommScalar
		}
		return compute, comm, nil
	default:
		return nil, nil, fmt.Errorf("profile %q: not a parallel profile", p.Name)
	}
}
