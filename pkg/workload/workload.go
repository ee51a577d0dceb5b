// Package workload loads the JSON workload file format spec.md §6
// describes: an object with a `jobs` array and a `profiles` object
// keyed by name. This is one of the "supplemented features" in
// SPEC_FULL.md §12 — spec.md's core treats workload parsing as an
// out-of-scope external collaborator, but a runnable repository needs a
// concrete loader, grounded on the same read-validate-index shape as
// pkg/platform.Load.
package workload

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/batsim-go/batsim/pkg/model"
)

// rawJob is the on-disk shape of one entry in the `jobs` array.
type rawJob struct {
	ID       int     `json:"id"`
	Subtime  float64 `json:"subtime"`
	Walltime float64 `json:"walltime"`
	Res      int     `json:"res"`
	Profile  string  `json:"profile"`
}

// rawFile is the JSON root.
type rawFile struct {
	Jobs     []rawJob                  `json:"jobs"`
	Profiles map[string]*model.Profile `json:"profiles"`
}

// Workload is one loaded workload file, addressed by a short name unique
// within a simulation run (spec.md §4.5's job-identifier syntax).
type Workload struct {
	Name     string
	jobs     map[int]*model.Job
	profiles map[string]*model.Profile
}

// Load reads and validates a workload file, binding every job to its
// named workload and checking that every profile reference resolves and
// every sequence profile is well-formed.
func Load(name, path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workload %q: %w", name, err)
	}

	var raw rawFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("workload %q: invalid JSON: %w", name, err)
	}

	w := &Workload{Name: name, jobs: make(map[int]*model.Job), profiles: raw.Profiles}
	if w.profiles == nil {
		w.profiles = make(map[string]*model.Profile)
	}
	for profName, p := range w.profiles {
		p.Name = profName
		if err := p.Validate(w.lookupProfile); err != nil {
			return nil, fmt.Errorf("workload %q: profile %q: %w", name, profName, err)
		}
	}

	for _, rj := range raw.Jobs {
		if _, ok := w.profiles[rj.Profile]; !ok {
			return nil, fmt.Errorf("workload %q: job %d references unknown profile %q", name, rj.ID, rj.Profile)
		}
		job := &model.Job{
			ID:                model.JobID{Workload: name, Number: rj.ID},
			RequiredResources: rj.Res,
			Walltime:          rj.Walltime,
			Profile:           rj.Profile,
			SubmissionTime:    rj.Subtime,
			State:             model.JobNotSubmitted,
		}
		if err := job.Validate(); err != nil {
			return nil, fmt.Errorf("workload %q: %w", name, err)
		}
		w.jobs[rj.ID] = job
	}
	return w, nil
}

// OffsetSubmissionTimes shifts every job's submission time by delta,
// for a `-W FILE:t` workflow file whose jobs all start t seconds into
// the run (spec.md §6).
func (w *Workload) OffsetSubmissionTimes(delta float64) {
	if delta == 0 {
		return
	}
	for _, j := range w.jobs {
		j.SubmissionTime += delta
	}
}

func (w *Workload) lookupProfile(name string) *model.Profile {
	return w.profiles[name]
}

// Job returns the job with the given number within this workload.
func (w *Workload) Job(number int) (*model.Job, error) {
	j, ok := w.jobs[number]
	if !ok {
		return nil, fmt.Errorf("workload %q: unknown job number %d", w.Name, number)
	}
	return j, nil
}

// Profile resolves a profile by name within this workload.
func (w *Workload) Profile(name string) (*model.Profile, error) {
	p, ok := w.profiles[name]
	if !ok {
		return nil, fmt.Errorf("workload %q: unknown profile %q", w.Name, name)
	}
	return p, nil
}

// Jobs returns every job in the workload, in no defined order (map
// iteration); the batexec and static-dispatch callers sort the result by
// submission time themselves.
func (w *Workload) Jobs() []*model.Job {
	out := make([]*model.Job, 0, len(w.jobs))
	for _, j := range w.jobs {
		out = append(out, j)
	}
	return out
}

// Set is a registry of workloads keyed by their short name, used to
// resolve the "WORKLOAD_NAME!JOB_NUMBER" syntax of spec.md §4.5 across
// however many `-w` files were loaded.
type Set struct {
	byName map[string]*Workload
}

// NewSet builds an empty Set.
func NewSet() *Set {
	return &Set{byName: make(map[string]*Workload)}
}

// Add registers a loaded workload, rejecting a duplicate name.
func (s *Set) Add(w *Workload) error {
	if _, exists := s.byName[w.Name]; exists {
		return fmt.Errorf("workload %q already registered", w.Name)
	}
	s.byName[w.Name] = w
	return nil
}

// Lookup resolves a job id, rejecting unknown workloads and unknown jobs
// as spec.md §4.5 requires.
func (s *Set) Lookup(id model.JobID) (*model.Job, error) {
	w, ok := s.byName[id.Workload]
	if !ok {
		return nil, fmt.Errorf("unknown workload %q", id.Workload)
	}
	return w.Job(id.Number)
}

// ProfileLookup returns a resolver for the profiles of the one workload
// named workloadName. It does not search other workloads; an unknown
// workload name is reported when the resolver is called.
func (s *Set) ProfileLookup(workloadName string) func(string) (*model.Profile, error) {
	return func(profileName string) (*model.Profile, error) {
		w, ok := s.byName[workloadName]
		if !ok {
			return nil, fmt.Errorf("unknown workload %q", workloadName)
		}
		return w.Profile(profileName)
	}
}

// All returns every registered workload.
func (s *Set) All() []*Workload {
	out := make([]*Workload, 0, len(s.byName))
	for _, w := range s.byName {
		out = append(out, w)
	}
	return out
}
