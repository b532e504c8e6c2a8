// Package ipc owns the shared state region and the primitives that
// serialize access to it across process boundaries: two binary mutexes
// (belt, dock), the empty/full counting pair of the bounded belt buffer,
// and a message queue addressed by recipient PID.
//
// Two implementations exist: SysV binds to OS shared memory, semaphores and
// a message queue for the real multi-process simulation; Memory keeps
// everything in-process for tests. Components depend only on Backend.
package ipc

import "github.com/dockline/warehouse/internal/shared/state"

// Backend is the synchronization facade every component is built on.
//
// Lock/wait methods do not return errors: an interrupted wait is retried
// transparently, and any other primitive failure is unrecoverable by
// contract (the shared region can no longer be trusted), so implementations
// log and terminate the process instead.
type Backend interface {
	// State returns the shared region. Callers must hold the mutex
	// guarding the fields they touch.
	State() *state.SharedState

	LockBelt()
	UnlockBelt()

	LockDock()
	UnlockDock()

	// WaitEmptySlot blocks until a belt slot is free.
	WaitEmptySlot()
	// SignalSlotFreed releases one belt slot.
	SignalSlotFreed()

	// WaitFull blocks until the belt holds at least one package.
	WaitFull()
	// SignalFull announces one new package on the belt.
	SignalFull()

	// Send enqueues cmd in the mailbox of the process identified by
	// target. Delivery failure is reported, not fatal.
	Send(target int32, cmd state.Command) error

	// ReceiveBlocking waits for the next command addressed to self.
	// Returns CmdEndWork when the mailbox infrastructure is torn down.
	ReceiveBlocking(self int32) state.Command

	// ReceiveNonBlocking drains one command addressed to self, if any.
	ReceiveNonBlocking(self int32) (state.Command, bool)

	// Close detaches from the region. The owner additionally removes the
	// OS-level resources.
	Close() error
}
