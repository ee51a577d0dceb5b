package protocol

import (
	"fmt"

	"github.com/batsim-go/batsim/pkg/kernel"
	"github.com/batsim-go/batsim/pkg/log"
	"github.com/batsim-go/batsim/pkg/transport"
)

// Version is the protocol version field stamped into legacy-form outgoing
// messages.
const Version = 1

// Encoding selects the wire form a deployment uses (spec.md §6: "Two
// encodings supported; an implementation must pick one per deployment").
type Encoding int

const (
	EncodingJSON Encoding = iota
	EncodingLegacy
)

// Injector delivers one decoded inbound event to the orchestrator.
// Implemented by pkg/orchestrator, which hands it straight to its
// message handler rather than to its mailbox.
type Injector func(InEvent)

// Adapter is the protocol adapter (C5): it owns the outbound buffer
// between flushes, performs the synchronous round trip, and re-injects
// each reply event into the server at its own timestamp.
type Adapter struct {
	conn     *transport.Conn
	kernel   *kernel.Kernel
	encoding Encoding
	buffer   []OutEvent
}

// New builds an Adapter over an already-accepted connection.
func New(conn *transport.Conn, k *kernel.Kernel, encoding Encoding) *Adapter {
	return &Adapter{conn: conn, kernel: k, encoding: encoding}
}

// Append adds an event to the outbound buffer. The server calls this
// as events occur; the adapter drains the buffer on the next RequestReply.
func (a *Adapter) Append(e OutEvent) {
	a.buffer = append(a.buffer, e)
}

// Pending reports whether the outbound buffer holds anything to flush.
func (a *Adapter) Pending() bool {
	return len(a.buffer) > 0
}

// RequestReply performs one synchronous round trip: encodes and sends
// the buffered outbound events, reads and decodes the scheduler's reply,
// and re-injects each reply event into inject at its own timestamp per
// the wait-before-injection rule (spec.md §4.5) — the adapter sleeps
// until the kernel's clock reaches that event's timestamp before handing
// it off, which is what lets a scheduler's decision latency consume
// simulated time.
//
// A nil conn (batexec mode, see cmd/batsimd) just drains the outbound
// buffer: there is no external scheduler to send it to or receive a
// reply from, and no InEvents are ever produced that way.
func (a *Adapter) RequestReply(inject Injector) error {
	now := a.kernel.Now()
	outgoing := a.buffer
	a.buffer = nil

	if a.conn == nil {
		return nil
	}

	payload, err := a.encode(now, outgoing)
	if err != nil {
		return fmt.Errorf("protocol: encode: %w", err)
	}

	log.WithComponent("protocol").Debug().
		Str("session", a.conn.SessionID).
		Int("events", len(outgoing)).
		Float64("now", now).
		Msg("protocol round trip: request")

	reply, err := a.conn.RequestReply(payload)
	if err != nil {
		return fmt.Errorf("protocol: round trip: %w", err)
	}

	replyNow, events, err := a.decode(reply)
	if err != nil {
		return fmt.Errorf("protocol: decode reply: %w", err)
	}
	if replyNow < now {
		return fmt.Errorf("protocol: reply now=%g precedes request now=%g", replyNow, now)
	}

	for _, e := range events {
		if wait := e.Timestamp - a.kernel.Now(); wait > 0 {
			a.kernel.Sleep(wait)
		}
		inject(e)
	}
	return nil
}

func (a *Adapter) encode(now float64, events []OutEvent) ([]byte, error) {
	switch a.encoding {
	case EncodingLegacy:
		s, err := EncodeLegacy(Version, now, events)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	default:
		return EncodeJSON(now, events)
	}
}

func (a *Adapter) decode(payload []byte) (float64, []InEvent, error) {
	switch a.encoding {
	case EncodingLegacy:
		return DecodeLegacy(string(payload))
	default:
		return DecodeJSON(payload)
	}
}
