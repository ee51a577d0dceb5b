// Package orchestrator implements the server loop (spec.md §4.1, C1):
// the single central actor that owns the counters and machine registry,
// receives every internal event on one mailbox, and drives the
// synchronous request/reply protocol with the external scheduler
// through the C5 protocol adapter.
package orchestrator

import (
	"github.com/batsim-go/batsim/pkg/executor"
	"github.com/batsim-go/batsim/pkg/model"
)

// Kind tags a Message the way spec.md §4.1's tagged union does.
type Kind int

const (
	SubmitterHello Kind = iota
	SubmitterBye
	JobSubmitted
	JobCompleted
	SchedAllocation
	SchedRejection
	SchedCallMeLater
	SchedPstateChange
	SchedQueryEnergy
	SchedReady
	WaitingDone
	SwitchedOn
	SwitchedOff
)

// Allocation is one scheduler-proposed job placement within a
// SCHED_ALLOCATION message.
type Allocation struct {
	JobID    model.JobID
	Machines model.MachineRange
}

// Message is the single tagged-union envelope carried on the server
// mailbox. Only the fields relevant to Kind are populated; this mirrors
// spec.md §5's "express as a channel of tagged events."
type Message struct {
	Kind Kind

	// SubmitterHello / SubmitterBye / JobSubmitted origin tracking.
	Submitter    string
	WantCallback bool

	// JobSubmitted.
	JobID model.JobID

	// JobCompleted: result of an executor run.
	Result executor.Result

	// SchedAllocation.
	Allocations []Allocation

	// SchedRejection.
	RejectedJob model.JobID

	// SchedCallMeLater.
	CallAt float64

	// SchedPstateChange.
	Range     model.MachineRange
	NewPstate int

	// SwitchedOn / SwitchedOff.
	MachineID      int
	SwitchedPstate int
}
