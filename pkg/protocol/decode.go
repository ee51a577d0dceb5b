package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DecodeJSON parses a scheduler reply envelope and returns its events in
// order. Each event's timestamp must be <= now (spec.md §4.5); a
// violation is returned as an error, which Adapter.RequestReply wraps
// and returns to its caller.
func DecodeJSON(payload []byte) (now float64, events []InEvent, err error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return 0, nil, fmt.Errorf("protocol: malformed JSON envelope: %w", err)
	}
	events = make([]InEvent, 0, len(env.Events))
	for i, w := range env.Events {
		if w.Timestamp > env.Now {
			return 0, nil, fmt.Errorf("protocol: event %d (%s) at %g is after envelope now=%g", i, w.Type, w.Timestamp, env.Now)
		}
		data, err := decodeInData(InType(w.Type), w.Data)
		if err != nil {
			return 0, nil, err
		}
		events = append(events, InEvent{Timestamp: w.Timestamp, Type: InType(w.Type), Data: data})
	}
	return env.Now, events, nil
}

func decodeInData(t InType, raw json.RawMessage) (any, error) {
	switch t {
	case InQueryRequest:
		var d QueryRequestData
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, fmt.Errorf("protocol: decoding %s: %w", t, err)
			}
		}
		return d, nil
	case InRejectJob:
		var d RejectJobData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("protocol: decoding %s: %w", t, err)
		}
		return d, nil
	case InExecuteJob:
		var d ExecuteJobData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("protocol: decoding %s: %w", t, err)
		}
		return d, nil
	case InCallMeLater:
		var d CallMeLaterData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("protocol: decoding %s: %w", t, err)
		}
		return d, nil
	case InSetResourceState:
		var d SetResourceStateData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("protocol: decoding %s: %w", t, err)
		}
		return d, nil
	case InKillJob:
		var d KillJobData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("protocol: decoding %s: %w", t, err)
		}
		return d, nil
	case InSubmitJob, InNotify:
		return nil, &ErrReserved{Type: t}
	default:
		return nil, fmt.Errorf("protocol: unknown event type %q", t)
	}
}

// DecodeLegacy parses a scheduler reply in the legacy line form. Only the
// subset of inbound tags the original format actually carries is
// supported: `j` execute, `r` reject, `k` kill, `w` call-me-later,
// `s` set-resource-state, `q` query-request. Unknown tags are a protocol
// error.
func DecodeLegacy(line string) (now float64, events []InEvent, err error) {
	fields := strings.Split(strings.TrimSpace(line), "|")
	if len(fields) < 2 {
		return 0, nil, fmt.Errorf("protocol: malformed legacy message %q", line)
	}

	header := strings.SplitN(fields[0], ":", 2)
	if len(header) != 2 {
		return 0, nil, fmt.Errorf("protocol: malformed legacy header %q", fields[0])
	}
	now, err = strconv.ParseFloat(header[1], 64)
	if err != nil {
		return 0, nil, fmt.Errorf("protocol: malformed legacy timestamp %q: %w", header[1], err)
	}

	middle := fields[1 : len(fields)-1]
	events = make([]InEvent, 0, len(middle))
	last := 0.0
	for i, f := range middle {
		parts := strings.SplitN(f, ":", 3)
		if len(parts) < 2 {
			return 0, nil, fmt.Errorf("protocol: malformed legacy event %q", f)
		}
		ts, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return 0, nil, fmt.Errorf("protocol: malformed legacy event timestamp %q: %w", parts[0], err)
		}
		if ts < last {
			return 0, nil, fmt.Errorf("protocol: legacy event %d at %g precedes prior event at %g", i, ts, last)
		}
		if ts > now {
			return 0, nil, fmt.Errorf("protocol: legacy event %d at %g is after now=%g", i, ts, now)
		}
		last = ts

		var args string
		if len(parts) == 3 {
			args = parts[2]
		}
		typ, data, err := decodeLegacyTag(parts[1], args)
		if err != nil {
			return 0, nil, err
		}
		events = append(events, InEvent{Timestamp: ts, Type: typ, Data: data})
	}
	return now, events, nil
}

func decodeLegacyTag(tag, args string) (InType, any, error) {
	switch tag {
	case "j":
		alloc := args
		jobID := args
		if idx := strings.IndexByte(args, '='); idx >= 0 {
			jobID, alloc = args[:idx], args[idx+1:]
		}
		return InExecuteJob, ExecuteJobData{JobID: jobID, Alloc: alloc}, nil
	case "r":
		return InRejectJob, RejectJobData{JobID: args}, nil
	case "k":
		return InKillJob, KillJobData{JobIDs: strings.Split(args, ",")}, nil
	case "w":
		t, err := strconv.ParseFloat(args, 64)
		if err != nil {
			return "", nil, fmt.Errorf("protocol: malformed call-me-later arg %q: %w", args, err)
		}
		return InCallMeLater, CallMeLaterData{Timestamp: t}, nil
	case "s":
		idx := strings.IndexByte(args, '=')
		if idx < 0 {
			return "", nil, fmt.Errorf("protocol: malformed set-resource-state arg %q", args)
		}
		state, err := strconv.Atoi(args[idx+1:])
		if err != nil {
			return "", nil, fmt.Errorf("protocol: malformed set-resource-state pstate %q: %w", args[idx+1:], err)
		}
		return InSetResourceState, SetResourceStateData{Resources: args[:idx], State: state}, nil
	case "q":
		return InQueryRequest, QueryRequestData{}, nil
	default:
		return "", nil, fmt.Errorf("protocol: unknown legacy tag %q", tag)
	}
}
