// Package kernel provides the minimal contract spec.md §1 leaves "out of
// scope": a discrete-event simulation kernel offering a virtual clock,
// cooperative tasks, and sleeping. It has no notion of jobs, machines or
// protocols — those live in the packages built on top of it.
//
// The clock only advances when every spawned task is either finished or
// blocked in Sleep; this is what makes the simulation deterministic and
// instantaneous in wall-clock time regardless of how many simulated
// seconds elapse. Several tasks can be woken for the same simulated
// instant at once, but only one of them ever runs its own code at a
// time: a single baton (run) is handed from task to task, acquired
// before a task's function body executes and released at every point
// the task yields (Sleep, Deactivate) or exits. This is what makes it
// safe for packages built on top of the kernel (pkg/machine,
// pkg/orchestrator) to mutate shared state such as the machine registry
// without their own locking — spec.md §5's "only one task runs at a
// time" holds for real, not just for the active-count bookkeeping.
package kernel

import (
	"container/heap"
	"sync"
)

type pendingSleep struct {
	at   float64
	seq  int // insertion order, for deterministic tie-breaking
	wake chan struct{}
}

type sleepHeap []*pendingSleep

func (h sleepHeap) Len() int { return len(h) }
func (h sleepHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}
func (h sleepHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *sleepHeap) Push(x interface{}) { *h = append(*h, x.(*pendingSleep)) }
func (h *sleepHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Kernel is a cooperative, virtual-clock task scheduler. The zero value
// is not usable; construct with New.
type Kernel struct {
	mu     sync.Mutex
	now    float64
	active int
	timers sleepHeap
	seq    int
	done   chan struct{}

	// run is the baton: whichever task holds it is the only one
	// permitted to execute its own code. advanceLocked may wake several
	// tasks at the same simulated instant, but each must acquire run
	// before resuming, so exactly one runs at a time.
	run sync.Mutex
}

// New creates a Kernel whose clock starts at 0.
func New() *Kernel {
	return &Kernel{done: make(chan struct{})}
}

// Now returns the current simulated time.
func (k *Kernel) Now() float64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.now
}

// Spawn runs fn as a new task. Callers must Spawn the top-level task(s)
// through the kernel rather than `go`-ing them directly, so the kernel
// can tell when every task has gone idle. fn does not begin executing
// until it acquires the run baton, so it never overlaps another task's
// code even if both were woken for the same instant.
func (k *Kernel) Spawn(fn func()) {
	k.mu.Lock()
	k.active++
	k.mu.Unlock()
	go func() {
		k.run.Lock()
		defer k.exit()
		fn()
	}()
}

// exit retires this task and then releases the run baton, in that order:
// the baton must already be held by the calling goroutine.
func (k *Kernel) exit() {
	k.mu.Lock()
	k.active--
	k.advanceLocked()
	k.mu.Unlock()
	k.run.Unlock()
}

// Sleep blocks the calling task for d simulated seconds (d<=0 returns
// immediately without yielding, keeping the baton). It must only be
// called from a task started via Spawn, while holding the baton.
func (k *Kernel) Sleep(d float64) {
	if d <= 0 {
		return
	}
	wake := make(chan struct{})
	k.mu.Lock()
	k.seq++
	heap.Push(&k.timers, &pendingSleep{at: k.now + d, seq: k.seq, wake: wake})
	k.active--
	k.advanceLocked()
	k.mu.Unlock()

	// Give up the baton while parked: some other task woken for the
	// current instant (or freshly Spawned) may run in the meantime.
	k.run.Unlock()
	<-wake
	k.run.Lock()
}

// advanceLocked must be called with mu held. When no task is active, the
// clock jumps to the earliest pending sleep and wakes every task sleeping
// at that instant (there may be several, simultaneously) by closing
// their wake channels; each still has to win the run baton before its
// code actually resumes.
func (k *Kernel) advanceLocked() {
	if k.active > 0 || len(k.timers) == 0 {
		if k.active == 0 && len(k.timers) == 0 {
			select {
			case <-k.done:
			default:
				close(k.done)
			}
		}
		return
	}
	next := k.timers[0].at
	k.now = next
	for len(k.timers) > 0 && k.timers[0].at == next {
		t := heap.Pop(&k.timers).(*pendingSleep)
		k.active++
		close(t.wake)
	}
}

// Deactivate marks the calling task as not-running and releases the run
// baton, without registering a timer of its own. Use this when a task
// must wait on some other synchronization primitive (e.g. a channel fed
// by other kernel-spawned tasks) rather than sleeping directly, so the
// clock can still advance while it waits. Must be paired with a later
// call to Reactivate, which re-acquires the baton before returning.
func (k *Kernel) Deactivate() {
	k.mu.Lock()
	k.active--
	k.advanceLocked()
	k.mu.Unlock()
	k.run.Unlock()
}

// Reactivate marks the calling task as running again after Deactivate,
// blocking until it wins the run baton back.
func (k *Kernel) Reactivate() {
	k.run.Lock()
	k.mu.Lock()
	k.active++
	k.mu.Unlock()
}

// Idle returns a channel that is closed once the kernel has no active
// task and no pending timer — i.e. the simulation has quiesced.
func (k *Kernel) Idle() <-chan struct{} {
	return k.done
}
