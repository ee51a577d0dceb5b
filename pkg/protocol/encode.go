package protocol

import (
	"encoding/json"
	"fmt"
)

// wireEvent is the JSON shape of one event inside an envelope.
type wireEvent struct {
	Timestamp float64         `json:"timestamp"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// envelope is the JSON root: {"now": t, "events": [...]}.
type envelope struct {
	Now    float64     `json:"now"`
	Events []wireEvent `json:"events"`
}

// EncodeJSON serializes a batch of outgoing events as the preferred JSON
// envelope form. Events must already be in non-decreasing timestamp
// order; EncodeJSON asserts this (spec.md §4.5's monotonicity rule is a
// programming error if violated, not a recoverable condition).
func EncodeJSON(now float64, events []OutEvent) ([]byte, error) {
	wire := make([]wireEvent, 0, len(events))
	last := 0.0
	for i, e := range events {
		if i > 0 && e.Timestamp < last {
			return nil, fmt.Errorf("protocol: outgoing event %d (%s) at %g precedes prior event at %g: non-monotone timestamps",
				i, e.Type, e.Timestamp, last)
		}
		last = e.Timestamp

		var raw json.RawMessage
		if e.Data != nil {
			b, err := json.Marshal(e.Data)
			if err != nil {
				return nil, fmt.Errorf("protocol: encoding %s data: %w", e.Type, err)
			}
			raw = b
		}
		wire = append(wire, wireEvent{Timestamp: e.Timestamp, Type: string(e.Type), Data: raw})
	}
	if len(events) > 0 && now < last {
		return nil, fmt.Errorf("protocol: envelope now=%g precedes last event timestamp %g", now, last)
	}
	return json.Marshal(envelope{Now: now, Events: wire})
}

// EncodeLegacy serializes a batch of outgoing events as the legacy
// colon-delimited line form (spec.md §4.5):
//
//	<protocol_version>:<now>|<ts_1>:<tag_1>:<args_1>|...|<now>:T
//
// Event types with no legacy tag (SIMULATION_BEGINS/ENDS, JOB_KILLED) are
// silently omitted: they have no representation in this wire form.
func EncodeLegacy(version int, now float64, events []OutEvent) (string, error) {
	out := fmt.Sprintf("%d:%s", version, formatTime(now))
	last := 0.0
	for i, e := range events {
		if i > 0 && e.Timestamp < last {
			return "", fmt.Errorf("protocol: outgoing event %d (%s) at %g precedes prior event at %g: non-monotone timestamps",
				i, e.Type, e.Timestamp, last)
		}
		last = e.Timestamp

		tag, ok := legacyTag[e.Type]
		if !ok {
			continue
		}
		args, err := legacyArgs(e)
		if err != nil {
			return "", err
		}
		out += fmt.Sprintf("|%s:%c:%s", formatTime(e.Timestamp), tag, args)
	}
	out += fmt.Sprintf("|%s:T", formatTime(now))
	return out, nil
}

func legacyArgs(e OutEvent) (string, error) {
	switch d := e.Data.(type) {
	case JobSubmittedData:
		return joinComma(d.JobIDs), nil
	case JobCompletedData:
		return d.JobID, nil
	case ResourceStateChangedData:
		return fmt.Sprintf("%s=%d", d.Resources, d.State), nil
	case QueryReplyData:
		return formatTime(d.EnergyConsumed), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("protocol: event type %s has no legacy encoding for data %T", e.Type, d)
	}
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func formatTime(t float64) string {
	return fmt.Sprintf("%g", t)
}
