// Package protocol implements the protocol adapter (spec.md §4.5, C5):
// encoding outgoing events into a batched message for the external
// scheduler, decoding its reply into discrete typed events, and the
// wait-before-injection timing rule that preserves the scheduler's
// decision-time semantics.
//
// Two wire forms are supported, per spec.md §9's "replacing the
// stringly-typed sched_message buffer": the JSON envelope is the
// preferred form; the legacy colon-delimited line form is kept as an
// optional decoder/encoder pair for compatibility. Internally the
// outbound buffer is always a slice of typed OutEvent values — never a
// concatenated string — so serialization is a pure function of that
// slice plus the current time, in either wire form.
package protocol

import "fmt"

// OutType is the tag of an outgoing (simulator -> scheduler) event.
type OutType string

const (
	OutSimulationBegins    OutType = "SIMULATION_BEGINS"
	OutSimulationEnds      OutType = "SIMULATION_ENDS"
	OutJobSubmitted        OutType = "JOB_SUBMITTED"
	OutJobCompleted        OutType = "JOB_COMPLETED"
	OutJobKilled           OutType = "JOB_KILLED"
	OutResourceStateChange OutType = "RESOURCE_STATE_CHANGED"
	OutQueryReply          OutType = "QUERY_REPLY"
	OutNOP                 OutType = "NOP"
)

// legacyTag maps an OutType to its single-letter tag in the line format
// (spec.md §4.5). Event types with no legacy tag (SIMULATION_BEGINS/ENDS,
// JOB_KILLED) cannot round-trip through the line encoder; EncodeLegacy
// skips them.
var legacyTag = map[OutType]byte{
	OutJobSubmitted:        'S',
	OutJobCompleted:        'C',
	OutNOP:                 'N',
	OutResourceStateChange: 'p',
	OutQueryReply:          'e',
}

// OutEvent is one outgoing event, tagged by Type with a Data payload
// whose concrete type depends on Type (see the *Data types below).
type OutEvent struct {
	Timestamp float64
	Type      OutType
	Data      any
}

// JobSubmittedData is the payload for OutJobSubmitted.
type JobSubmittedData struct {
	JobIDs []string `json:"job_ids"`
}

// JobStatus is the terminal status reported in OutJobCompleted.
type JobStatus string

const (
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusKilled  JobStatus = "KILLED"
)

// JobCompletedData is the payload for OutJobCompleted.
type JobCompletedData struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}

// JobKilledData is the payload for OutJobKilled.
type JobKilledData struct {
	JobIDs []string `json:"job_ids"`
}

// ResourceStateChangedData is the payload for OutResourceStateChange,
// reporting a completed (possibly batched) pstate switch.
type ResourceStateChangedData struct {
	Resources string `json:"resources"` // machine range, space-separated form
	State     int    `json:"state"`     // new pstate number
}

// QueryReplyData is the payload for OutQueryReply.
type QueryReplyData struct {
	EnergyConsumed float64 `json:"energy_consumed"`
}

// NewJobSubmitted builds a JOB_SUBMITTED event for one or more job ids.
func NewJobSubmitted(at float64, jobIDs []string) OutEvent {
	return OutEvent{Timestamp: at, Type: OutJobSubmitted, Data: JobSubmittedData{JobIDs: jobIDs}}
}

// NewJobCompleted builds a JOB_COMPLETED event.
func NewJobCompleted(at float64, jobID string, status JobStatus) OutEvent {
	return OutEvent{Timestamp: at, Type: OutJobCompleted, Data: JobCompletedData{JobID: jobID, Status: status}}
}

// NewResourceStateChanged builds a RESOURCE_STATE_CHANGED event.
func NewResourceStateChanged(at float64, resources string, state int) OutEvent {
	return OutEvent{Timestamp: at, Type: OutResourceStateChange, Data: ResourceStateChangedData{Resources: resources, State: state}}
}

// NewQueryReply builds a QUERY_REPLY event.
func NewQueryReply(at float64, energy float64) OutEvent {
	return OutEvent{Timestamp: at, Type: OutQueryReply, Data: QueryReplyData{EnergyConsumed: energy}}
}

// NewNOP builds a NOP event (waiter fired, nothing else to report).
func NewNOP(at float64) OutEvent {
	return OutEvent{Timestamp: at, Type: OutNOP}
}

// InType is the tag of an incoming (scheduler -> simulator) event.
type InType string

const (
	InQueryRequest     InType = "QUERY_REQUEST"
	InRejectJob        InType = "REJECT_JOB"
	InExecuteJob       InType = "EXECUTE_JOB"
	InCallMeLater      InType = "CALL_ME_LATER"
	InSetResourceState InType = "SET_RESOURCE_STATE"
	InKillJob          InType = "KILL_JOB"
	InSubmitJob        InType = "SUBMIT_JOB" // reserved, see Open Questions in DESIGN.md
	InNotify           InType = "NOTIFY"     // reserved, see Open Questions in DESIGN.md
)

// InEvent is one decoded incoming event.
type InEvent struct {
	Timestamp float64
	Type      InType
	Data      any
}

// QueryRequestData is the payload of QUERY_REQUEST; only consumed_energy
// is a defined request kind.
type QueryRequestData struct {
	Requests struct {
		ConsumedEnergy *struct{} `json:"consumed_energy,omitempty"`
	} `json:"requests"`
}

// RejectJobData is the payload of REJECT_JOB.
type RejectJobData struct {
	JobID string `json:"job_id"`
}

// ExecuteJobData is the payload of EXECUTE_JOB.
type ExecuteJobData struct {
	JobID   string         `json:"job_id"`
	Alloc   string         `json:"alloc"`
	Mapping map[string]int `json:"mapping,omitempty"`
}

// CallMeLaterData is the payload of CALL_ME_LATER.
type CallMeLaterData struct {
	Timestamp float64 `json:"timestamp"`
}

// SetResourceStateData is the payload of SET_RESOURCE_STATE.
type SetResourceStateData struct {
	Resources string `json:"resources"`
	State     int    `json:"state"`
}

// KillJobData is the payload of KILL_JOB.
type KillJobData struct {
	JobIDs []string `json:"job_ids"`
}

// ErrReserved is returned when a reserved-but-unimplemented inbound event
// (SUBMIT_JOB, NOTIFY) is decoded.
type ErrReserved struct {
	Type InType
}

func (e *ErrReserved) Error() string {
	return fmt.Sprintf("protocol: event type %q is reserved and not implemented", e.Type)
}
