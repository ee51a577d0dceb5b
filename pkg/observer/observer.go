// Package observer exposes a read-only websocket stream of simulation
// events (job completions, pstate changes), for dashboards and debugging
// tooling that want to watch a run live without participating in the
// scheduler protocol. Grounded on the teacher's pkg/events in-memory
// broker (non-blocking publish, per-subscriber buffered channel,
// skip-on-full-buffer delivery), adapted from Warren's
// service/task/node event vocabulary to this domain's job/machine
// events and exposed over gorilla/websocket instead of an in-process Go
// channel API, since here the subscribers are external processes.
package observer

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/batsim-go/batsim/pkg/executor"
	"github.com/batsim-go/batsim/pkg/log"
	"github.com/batsim-go/batsim/pkg/model"
)

// Event is one observer-stream message, JSON-encoded to subscribers.
type Event struct {
	Kind      string  `json:"kind"` // "job_completed" or "pstate_changed"
	Timestamp float64 `json:"timestamp"`
	JobID     string  `json:"job_id,omitempty"`
	Status    string  `json:"status,omitempty"`
	MachineID int     `json:"machine_id,omitempty"`
	Pstate    int     `json:"pstate,omitempty"`
}

const subscriberBuffer = 50

// Broker fans simulation events out to any number of websocket
// subscribers. Publish is non-blocking: an event that finds a
// subscriber's buffer full is skipped for that subscriber (which stays
// subscribed) rather than allowed to stall the simulation.
type Broker struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}

	upgrader websocket.Upgrader
}

// NewBroker builds an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		subs:     make(map[chan Event]struct{}),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

// JobCompleted publishes a job_completed event, satisfying
// orchestrator.Tracer so a Broker can be composed alongside (or instead
// of) the CSV/Pajé tracer.
func (b *Broker) JobCompleted(job *model.Job, result executor.Result) {
	status := "SUCCESS"
	if result.Killed {
		status = "KILLED"
	}
	b.publish(Event{
		Kind:      "job_completed",
		Timestamp: result.StartingTime + result.ActualRuntime,
		JobID:     job.ID.String(),
		Status:    status,
	})
}

// PstateChanged publishes a pstate_changed event.
func (b *Broker) PstateChanged(machineID, pstate int, at float64) {
	b.publish(Event{Kind: "pstate_changed", Timestamp: at, MachineID: machineID, Pstate: pstate})
}

func (b *Broker) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow; drop rather than block the simulation
		}
	}
}

func (b *Broker) subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}

// ServeHTTP upgrades the connection to a websocket and streams events to
// it until the client disconnects.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithComponent("observer").Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := b.subscribe()
	defer b.unsubscribe(sub)

	for e := range sub {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
