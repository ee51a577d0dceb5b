package orchestrator

import (
	"fmt"

	"github.com/batsim-go/batsim/pkg/executor"
	"github.com/batsim-go/batsim/pkg/kernel"
	"github.com/batsim-go/batsim/pkg/log"
	"github.com/batsim-go/batsim/pkg/machine"
	"github.com/batsim-go/batsim/pkg/metrics"
	"github.com/batsim-go/batsim/pkg/model"
	"github.com/batsim-go/batsim/pkg/protocol"
	"github.com/batsim-go/batsim/pkg/simerrors"
)

// JobLookup materializes a job by id, loading it on demand from its
// workload (spec.md §4.1: "materialize the job (load-on-demand allowed)").
type JobLookup func(model.JobID) (*model.Job, error)

// Tracer receives the events the output tracers (out of scope per
// spec.md §1) need to stay accurate. A nil Tracer is a valid no-op.
type Tracer interface {
	JobCompleted(job *model.Job, result executor.Result)
	PstateChanged(machineID, pstate int, at float64)
}

// Submitter is a registered job source: a workload reader, a dynamic
// submission client, or the batexec in-process driver.
type Submitter struct {
	Name         string
	WantCallback bool
	// Callback, if non-nil, is invoked when a job this submitter cares
	// about reaches a terminal state (SUBMITTER_CALLBACK in spec.md §4.1).
	Callback func(model.JobID, model.JobState)
}

// pstateBatch aggregates a single SCHED_PSTATE_CHANGE request across
// however many machines it targets, direct and switcher-driven alike,
// so exactly one RESOURCE_STATE_CHANGED event is emitted when the whole
// batch completes (spec.md §4.1).
type pstateBatch struct {
	rangeStr string
	pstate   int
	pending  int
}

// Server is the C1 server loop.
type Server struct {
	kernel   *kernel.Kernel
	registry *machine.Registry
	switcher *machine.Switcher
	adapter  *protocol.Adapter
	jobs     JobLookup
	profiles executor.ProfileLookup
	tracer   Tracer

	mailbox chan Message

	counters      model.Counters
	readyFlag     bool
	submitters    map[string]*Submitter
	loaded        map[model.JobID]*model.Job
	batches       map[int]*pstateBatch
	machineBatch  map[int]int
	nextBatchID   int
	jobOrigin     map[model.JobID]string
}

// New builds a Server. tracer may be nil. ready_flag starts true, per
// spec.md §4.1's definition ("true iff no request is outstanding") —
// nothing is outstanding before the first flush.
func New(k *kernel.Kernel, reg *machine.Registry, sw *machine.Switcher, adapter *protocol.Adapter, jobs JobLookup, profiles executor.ProfileLookup, tracer Tracer) *Server {
	return &Server{
		kernel:       k,
		registry:     reg,
		switcher:     sw,
		adapter:      adapter,
		jobs:         jobs,
		profiles:     profiles,
		tracer:       tracer,
		mailbox:      make(chan Message, 64),
		readyFlag:    true,
		submitters:   make(map[string]*Submitter),
		loaded:       make(map[model.JobID]*model.Job),
		batches:      make(map[int]*pstateBatch),
		machineBatch: make(map[int]int),
		jobOrigin:    make(map[model.JobID]string),
	}
}

// Mailbox returns the channel producers (submitters, executors,
// switchers, the protocol adapter) send Messages on.
func (s *Server) Mailbox() chan<- Message {
	return s.mailbox
}

// Counters returns a snapshot of the run's termination-predicate counts,
// for the final summary written once Run returns.
func (s *Server) Counters() model.Counters {
	return s.counters
}

// CountersSnapshot implements metrics.Snapshot, letting a metrics.Collector
// sample the running server's counters without reaching into its internals.
func (s *Server) CountersSnapshot() model.Counters {
	return s.counters
}

// MachineStateCounts implements metrics.Snapshot, tallying the registry's
// machines by their current model.MachineState for the
// batsim_machines_by_state gauge.
func (s *Server) MachineStateCounts() map[model.MachineState]int {
	counts := make(map[model.MachineState]int)
	for _, m := range s.registry.All() {
		counts[m.State]++
	}
	return counts
}

// EnergyConsumedJoules implements metrics.Snapshot, reporting the
// registry's cumulative simulated energy as of the current kernel time.
// It is 0 when energy accounting is disabled.
func (s *Server) EnergyConsumedJoules() float64 {
	if !s.registry.EnergyEnabled() {
		return 0
	}
	return s.registry.TotalConsumedEnergy(s.kernel.Now())
}

// Run processes mailbox messages until the termination predicate holds.
// It must itself be started via kernel.Spawn (directly or transitively):
// the mailbox receive is a blocking wait on work produced by other
// kernel tasks (executors, switchers, the protocol adapter), so it
// Deactivates around it the same way those tasks deactivate around
// their own waits, letting the clock advance while the server is idle
// and handing off the kernel's run baton instead of holding it.
func (s *Server) Run() error {
	for {
		s.kernel.Deactivate()
		msg := <-s.mailbox
		s.kernel.Reactivate()
		if err := s.handle(msg); err != nil {
			return err
		}
		if s.counters.TerminationReady(s.readyFlag) {
			log.Info("termination predicate satisfied, server loop exiting")
			return nil
		}
	}
}

func (s *Server) handle(msg Message) error {
	switch msg.Kind {
	case SubmitterHello:
		return s.handleSubmitterHello(msg)
	case SubmitterBye:
		return s.handleSubmitterBye(msg)
	case JobSubmitted:
		return s.handleJobSubmitted(msg)
	case JobCompleted:
		return s.handleJobCompleted(msg)
	case SchedAllocation:
		return s.handleSchedAllocation(msg)
	case SchedRejection:
		return s.handleSchedRejection(msg)
	case SchedCallMeLater:
		return s.handleSchedCallMeLater(msg)
	case WaitingDone:
		return s.handleWaitingDone(msg)
	case SchedPstateChange:
		return s.handleSchedPstateChange(msg)
	case SwitchedOn, SwitchedOff:
		return s.handleSwitched(msg)
	case SchedQueryEnergy:
		return s.handleSchedQueryEnergy(msg)
	case SchedReady:
		s.readyFlag = true
		return s.flush()
	default:
		return simerrors.NewProtocolError("unknown mailbox message kind %d", msg.Kind)
	}
}

func (s *Server) handleSubmitterHello(msg Message) error {
	if _, exists := s.submitters[msg.Submitter]; exists {
		return simerrors.NewProtocolError("duplicate submitter name %q", msg.Submitter)
	}
	s.submitters[msg.Submitter] = &Submitter{Name: msg.Submitter, WantCallback: msg.WantCallback}
	s.counters.SubmittersActive++
	return s.flush()
}

func (s *Server) handleSubmitterBye(msg Message) error {
	if _, exists := s.submitters[msg.Submitter]; !exists {
		return simerrors.NewProtocolError("SUBMITTER_BYE from unknown submitter %q", msg.Submitter)
	}
	s.counters.SubmittersFinished++
	if s.counters.SubmittersFinished == s.counters.SubmittersActive {
		s.adapter.Append(protocol.OutEvent{Timestamp: s.kernel.Now(), Type: protocol.OutSimulationEnds})
	}
	return s.flush()
}

func (s *Server) handleJobSubmitted(msg Message) error {
	job, err := s.jobs(msg.JobID)
	if err != nil {
		return simerrors.NewConfigError("loading job %s: %v", msg.JobID, err)
	}
	job.State = model.JobSubmitted
	s.loaded[msg.JobID] = job
	s.counters.JobsSubmitted++
	metrics.JobsSubmittedTotal.Inc()

	if msg.Submitter != "" {
		if sub, ok := s.submitters[msg.Submitter]; ok && sub.WantCallback {
			s.jobOrigin[msg.JobID] = msg.Submitter
		}
	}

	s.adapter.Append(protocol.NewJobSubmitted(s.kernel.Now(), []string{msg.JobID.String()}))
	return s.flush()
}

func (s *Server) handleJobCompleted(msg Message) error {
	job, ok := s.loaded[msg.Result.JobID]
	if !ok {
		return simerrors.NewProtocolError("JOB_COMPLETED for unknown job %s", msg.Result.JobID)
	}
	job.State = msg.Result.Status
	job.StartingTime = msg.Result.StartingTime
	job.ActualRuntime = msg.Result.ActualRuntime
	job.EnergyBefore = msg.Result.EnergyBefore
	job.EnergyAfter = msg.Result.EnergyAfter

	s.counters.JobsRunning--
	s.counters.JobsCompleted++
	metrics.JobsRunning.Dec()
	status := protocol.JobStatusSuccess
	if msg.Result.Killed {
		status = protocol.JobStatusKilled
		metrics.JobsCompletedTotal.WithLabelValues("killed").Inc()
	} else {
		metrics.JobsCompletedTotal.WithLabelValues("success").Inc()
	}

	if s.tracer != nil {
		s.tracer.JobCompleted(job, msg.Result)
	}

	s.adapter.Append(protocol.NewJobCompleted(s.kernel.Now(), msg.Result.JobID.String(), status))

	if origin, ok := s.jobOrigin[msg.Result.JobID]; ok {
		if sub, ok := s.submitters[origin]; ok && sub.Callback != nil {
			sub.Callback(msg.Result.JobID, job.State)
		}
		delete(s.jobOrigin, msg.Result.JobID)
	}
	return s.flush()
}

func (s *Server) handleSchedAllocation(msg Message) error {
	for _, alloc := range msg.Allocations {
		job, ok := s.loaded[alloc.JobID]
		if !ok {
			return simerrors.NewProtocolError("SCHED_ALLOCATION for unknown job %s", alloc.JobID)
		}
		if job.State != model.JobSubmitted {
			return simerrors.NewProtocolError("SCHED_ALLOCATION for job %s in state %s, want SUBMITTED", alloc.JobID, job.State)
		}
		if alloc.Machines.Cardinality() != job.RequiredResources {
			return simerrors.NewProtocolError("SCHED_ALLOCATION for job %s: allocation cardinality %d != required %d",
				alloc.JobID, alloc.Machines.Cardinality(), job.RequiredResources)
		}
		for _, id := range alloc.Machines.Elements() {
			m, ok := s.registry.Lookup(id)
			if !ok {
				return simerrors.NewProtocolError("SCHED_ALLOCATION references unknown machine %d", id)
			}
			if !s.registry.SpaceSharingAllowed() && m.State != model.MachineIdle {
				metrics.PolicyViolationsTotal.Inc()
				if len(m.JobsComputing) > 0 {
					return simerrors.NewPolicyError("allocation for job %s targets non-idle machine %d (space sharing disabled): already running job %s",
						alloc.JobID, id, m.JobsComputing[0])
				}
				return simerrors.NewPolicyError("allocation for job %s targets non-idle machine %d (space sharing disabled)", alloc.JobID, id)
			}
			if m.State == model.MachineTransitSleepingToComputing || m.State == model.MachineTransitComputingToSleeping {
				metrics.PolicyViolationsTotal.Inc()
				return simerrors.NewPolicyError("allocation for job %s targets transitioning machine %d", alloc.JobID, id)
			}
			if s.registry.EnergyEnabled() {
				kind, _ := m.KindOf(m.Pstate)
				if kind != model.PstateCompute {
					metrics.PolicyViolationsTotal.Inc()
					return simerrors.NewPolicyError("allocation for job %s targets machine %d not in a COMPUTE pstate", alloc.JobID, id)
				}
			}
		}

		job.State = model.JobRunning
		job.Allocation = alloc.Machines.Elements()
		s.counters.JobsRunning++
		s.counters.JobsScheduled++
		metrics.JobsRunning.Inc()

		ex := executor.New(s.kernel, s.registry, s.profiles)
		mailbox := s.mailbox
		j, a := job, alloc.Machines
		s.kernel.Spawn(func() {
			result, err := ex.Run(j, a)
			if err != nil {
				log.Logger.Error().Err(err).Str("job", j.ID.String()).Msg("executor failed")
				return
			}
			mailbox <- Message{Kind: JobCompleted, Result: result}
		})
	}
	return s.flush()
}

func (s *Server) handleSchedRejection(msg Message) error {
	job, ok := s.loaded[msg.RejectedJob]
	if !ok {
		return simerrors.NewProtocolError("SCHED_REJECTION for unknown job %s", msg.RejectedJob)
	}
	if job.State != model.JobSubmitted {
		return simerrors.NewProtocolError("SCHED_REJECTION for job %s in state %s, want SUBMITTED", msg.RejectedJob, job.State)
	}
	job.State = model.JobRejected
	s.counters.JobsCompleted++
	metrics.JobsCompletedTotal.WithLabelValues("rejected").Inc()
	return s.flush()
}

func (s *Server) handleSchedCallMeLater(msg Message) error {
	now := s.kernel.Now()
	if msg.CallAt <= now {
		log.Logger.Warn().Float64("requested", msg.CallAt).Float64("now", now).
			Msg("CALL_ME_LATER for a past or current time, ignoring (resource-event race)")
		return s.flush()
	}
	s.counters.WaitersArmed++
	metrics.WaitersArmed.Set(float64(s.counters.WaitersArmed))
	waiter := protocol.NewWaiter(s.kernel)
	mailbox := s.mailbox
	waiter.Arm(msg.CallAt, func() {
		mailbox <- Message{Kind: WaitingDone}
	})
	return s.flush()
}

func (s *Server) handleWaitingDone(msg Message) error {
	s.counters.WaitersArmed--
	metrics.WaitersArmed.Set(float64(s.counters.WaitersArmed))
	s.adapter.Append(protocol.NewNOP(s.kernel.Now()))
	return s.flush()
}

func (s *Server) handleSchedQueryEnergy(msg Message) error {
	total := s.registry.TotalConsumedEnergy(s.kernel.Now())
	s.adapter.Append(protocol.NewQueryReply(s.kernel.Now(), total))
	return s.flush()
}

// handleSchedPstateChange implements the power-state transition matrix
// from spec.md §4.1.
func (s *Server) handleSchedPstateChange(msg Message) error {
	batchID := s.nextBatchID
	s.nextBatchID++
	batch := &pstateBatch{rangeStr: msg.Range.String(), pstate: msg.NewPstate, pending: msg.Range.Cardinality()}
	s.batches[batchID] = batch

	for _, id := range msg.Range.Elements() {
		m, ok := s.registry.Lookup(id)
		if !ok {
			return simerrors.NewProtocolError("SCHED_PSTATE_CHANGE references unknown machine %d", id)
		}
		requestedKind, ok := m.KindOf(msg.NewPstate)
		if !ok {
			return simerrors.NewProtocolError("machine %d has no pstate %d", id, msg.NewPstate)
		}
		currentKind, _ := m.KindOf(m.Pstate)

		switch {
		case m.State == model.MachineTransitSleepingToComputing || m.State == model.MachineTransitComputingToSleeping:
			return simerrors.NewPolicyError("SCHED_PSTATE_CHANGE on machine %d already transitioning", id)

		case currentKind == model.PstateCompute && requestedKind == model.PstateCompute:
			if err := s.registry.SetPstate(id, msg.NewPstate, s.kernel.Now()); err != nil {
				return err
			}
			s.completeBatchMember(batchID)

		case currentKind == model.PstateCompute && requestedKind == model.PstateSleep:
			m.State = model.MachineTransitComputingToSleeping
			s.spawnSwitch(id, msg.NewPstate, machine.SwitchToSleep, batchID)

		case currentKind == model.PstateSleep && requestedKind == model.PstateCompute:
			m.State = model.MachineTransitSleepingToComputing
			s.spawnSwitch(id, msg.NewPstate, machine.SwitchToCompute, batchID)

		default:
			return simerrors.NewProtocolError("machine %d: unsupported pstate transition %s -> %s", id, currentKind, requestedKind)
		}
	}
	return s.flush()
}

func (s *Server) spawnSwitch(machineID, pstate int, dir machine.SwitchDirection, batchID int) {
	s.counters.MachinesSwitching++
	metrics.MachinesSwitching.Inc()
	s.machineBatch[machineID] = batchID

	transitionTime, _ := s.registry.TransitionTime(machineID, pstate)
	sw, mailbox := s.switcher, s.mailbox
	s.kernel.Spawn(func() {
		result := sw.Run(machineID, pstate, transitionTime, dir)
		kind := SwitchedOn
		if dir == machine.SwitchToSleep {
			kind = SwitchedOff
		}
		mailbox <- Message{Kind: kind, MachineID: result.MachineID, SwitchedPstate: result.Pstate}
	})
}

func (s *Server) handleSwitched(msg Message) error {
	s.counters.MachinesSwitching--
	metrics.MachinesSwitching.Dec()

	if s.tracer != nil {
		s.tracer.PstateChanged(msg.MachineID, msg.SwitchedPstate, s.kernel.Now())
	}

	batchID, ok := s.machineBatch[msg.MachineID]
	if ok {
		delete(s.machineBatch, msg.MachineID)
		s.completeBatchMember(batchID)
	}
	return s.flush()
}

func (s *Server) completeBatchMember(batchID int) {
	batch, ok := s.batches[batchID]
	if !ok {
		return
	}
	batch.pending--
	if batch.pending <= 0 {
		s.adapter.Append(protocol.NewResourceStateChanged(s.kernel.Now(), batch.rangeStr, batch.pstate))
		delete(s.batches, batchID)
	}
}

// flush implements spec.md §4.1's flush rule: if the scheduler is ready
// and there's something to tell it, spawn the protocol round trip and
// clear ready_flag until it replies.
func (s *Server) flush() error {
	if !s.readyFlag || !s.adapter.Pending() {
		return nil
	}
	s.readyFlag = false

	timer := metrics.NewTimer()

	var injectErr error
	inject := func(e protocol.InEvent) {
		if injectErr == nil {
			injectErr = s.injectReply(e)
		}
	}
	err := s.adapter.RequestReply(inject)
	timer.ObserveDuration(metrics.SchedulerRoundtripDuration)
	if err != nil {
		return fmt.Errorf("orchestrator: scheduler round trip: %w", err)
	}
	if injectErr != nil {
		return injectErr
	}
	s.mailbox <- Message{Kind: SchedReady}

	s.detectDeadlock()
	return nil
}

// injectReply turns one decoded scheduler reply event into the
// corresponding mailbox message, delivered synchronously to this same
// handler loop (the adapter's RequestReply call is made from within the
// handler, so this recurses into handle directly rather than round-
// tripping through the channel).
func (s *Server) injectReply(e protocol.InEvent) error {
	switch e.Type {
	case protocol.InExecuteJob:
		d := e.Data.(protocol.ExecuteJobData)
		jobID, err := model.ParseJobID(d.JobID)
		if err != nil {
			return simerrors.NewProtocolError("EXECUTE_JOB: %v", err)
		}
		alloc, err := model.ParseMachineRange(d.Alloc)
		if err != nil {
			return simerrors.NewProtocolError("EXECUTE_JOB: %v", err)
		}
		return s.handle(Message{Kind: SchedAllocation, Allocations: []Allocation{{JobID: jobID, Machines: alloc}}})

	case protocol.InRejectJob:
		d := e.Data.(protocol.RejectJobData)
		jobID, err := model.ParseJobID(d.JobID)
		if err != nil {
			return simerrors.NewProtocolError("REJECT_JOB: %v", err)
		}
		return s.handle(Message{Kind: SchedRejection, RejectedJob: jobID})

	case protocol.InCallMeLater:
		d := e.Data.(protocol.CallMeLaterData)
		return s.handle(Message{Kind: SchedCallMeLater, CallAt: d.Timestamp})

	case protocol.InSetResourceState:
		d := e.Data.(protocol.SetResourceStateData)
		r, err := model.ParseMachineRange(d.Resources)
		if err != nil {
			return simerrors.NewProtocolError("SET_RESOURCE_STATE: %v", err)
		}
		return s.handle(Message{Kind: SchedPstateChange, Range: r, NewPstate: d.State})

	case protocol.InQueryRequest:
		return s.handle(Message{Kind: SchedQueryEnergy})

	case protocol.InKillJob:
		return simerrors.NewProtocolError("KILL_JOB is reserved and not implemented")

	case protocol.InSubmitJob, protocol.InNotify:
		return simerrors.NewProtocolError("%s is reserved and not implemented", e.Type)

	default:
		return simerrors.NewProtocolError("unknown reply event type %q", e.Type)
	}
}

// detectDeadlock implements spec.md §4.1's deadlock warning: the
// scheduler replied with nothing actionable, nothing is running, but
// jobs remain submitted-but-unscheduled.
func (s *Server) detectDeadlock() {
	if s.adapter.Pending() || s.counters.JobsRunning > 0 || s.counters.MachinesSwitching > 0 || s.counters.WaitersArmed > 0 {
		return
	}
	var stuck []string
	for id, job := range s.loaded {
		if job.State == model.JobSubmitted {
			stuck = append(stuck, id.String())
		}
	}
	if len(stuck) > 0 {
		log.Logger.Warn().Strs("jobs", stuck).Msg("scheduler appears idle with submitted-but-unscheduled jobs (possible deadlock)")
	}
}
