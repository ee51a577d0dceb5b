package main

import (
	"sort"

	"github.com/batsim-go/batsim/pkg/executor"
	"github.com/batsim-go/batsim/pkg/kernel"
	"github.com/batsim-go/batsim/pkg/machine"
	"github.com/batsim-go/batsim/pkg/model"
	"github.com/batsim-go/batsim/pkg/orchestrator"
	"github.com/batsim-go/batsim/pkg/workload"
)

// batexecAllocator is the minimal in-process "scheduler" for -c/--batexec
// mode: it submits and allocates one job at a time, in submission-time
// order, waiting for each to finish before moving to the next. This is
// what "run all jobs sequentially without an external scheduler" (spec.md
// §6) means concretely: no space-sharing decisions to make, since at
// most one job's allocation is ever outstanding.
type batexecAllocator struct {
	registry *machine.Registry
	mailbox  chan<- orchestrator.Message
	done     chan model.JobID
}

func newBatexecAllocator(reg *machine.Registry, mailbox chan<- orchestrator.Message) *batexecAllocator {
	return &batexecAllocator{registry: reg, mailbox: mailbox, done: make(chan model.JobID, 1)}
}

const batexecSubmitterName = "batexec"

// JobCompleted satisfies orchestrator.Tracer: batexec has no scheduler
// to tell it a job finished, so it watches every completion itself and
// wakes run's loop once the job it is currently waiting on lands. Wire
// this alongside the real tracer (see multiTracer in main.go).
func (a *batexecAllocator) JobCompleted(job *model.Job, _ executor.Result) {
	a.done <- job.ID
}

// PstateChanged satisfies orchestrator.Tracer; batexec never issues
// SCHED_PSTATE_CHANGE, so there is nothing to observe.
func (a *batexecAllocator) PstateChanged(int, int, float64) {}

func (a *batexecAllocator) run(k *kernel.Kernel, workloads *workload.Set) {
	const name = batexecSubmitterName
	a.mailbox <- orchestrator.Message{Kind: orchestrator.SubmitterHello, Submitter: name}

	var jobs []*model.Job
	for _, w := range workloads.All() {
		jobs = append(jobs, w.Jobs()...)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].SubmissionTime < jobs[j].SubmissionTime })

	last := 0.0
	for _, job := range jobs {
		if wait := job.SubmissionTime - last; wait > 0 {
			k.Sleep(wait)
		}
		last = job.SubmissionTime

		a.mailbox <- orchestrator.Message{Kind: orchestrator.JobSubmitted, JobID: job.ID, Submitter: name}

		ids := a.pickMachines(job.RequiredResources)
		a.mailbox <- orchestrator.Message{
			Kind: orchestrator.SchedAllocation,
			Allocations: []orchestrator.Allocation{
				{JobID: job.ID, Machines: model.NewMachineRange(ids...)},
			},
		}

		<-a.done
	}

	a.mailbox <- orchestrator.Message{Kind: orchestrator.SubmitterBye, Submitter: name}
}

// pickMachines takes the first n idle compute machines by ascending id,
// sufficient under strictly sequential execution where the whole pool is
// idle between jobs.
func (a *batexecAllocator) pickMachines(n int) []int {
	ids := make([]int, 0, n)
	for _, m := range a.registry.All() {
		if len(ids) == n {
			break
		}
		if m.State == model.MachineIdle {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
