package protocol

import "github.com/batsim-go/batsim/pkg/kernel"

// Waiter implements the CALL_ME_LATER deferred wake-up (spec.md §4.5's
// "hosts a waiter task"): a single kernel-spawned sleep that, on firing,
// invokes onDone. The server is responsible for decrementing
// waiters_armed and emitting the NOP/"N" event once onDone runs.
type Waiter struct {
	kernel *kernel.Kernel
}

// NewWaiter binds a Waiter to a kernel.
func NewWaiter(k *kernel.Kernel) *Waiter {
	return &Waiter{kernel: k}
}

// Arm spawns a task that sleeps until `at` (an absolute simulated time,
// already validated by the caller to be strictly in the future) and then
// calls onDone.
func (w *Waiter) Arm(at float64, onDone func()) {
	now := w.kernel.Now()
	w.kernel.Spawn(func() {
		if d := at - now; d > 0 {
			w.kernel.Sleep(d)
		}
		onDone()
	})
}
