package ipc

import (
	"errors"
	"sync"

	"github.com/dockline/warehouse/internal/shared/state"
)

const mailboxDepth = 32

var errClosed = errors.New("ipc: backend closed")

// Memory implements Backend with in-process primitives: mutexes for the
// two critical sections, token channels for the counting pair, and buffered
// channels as per-PID mailboxes. It exists so component behavior can be
// tested without touching OS resources.
type Memory struct {
	st *state.SharedState

	beltMu sync.Mutex
	dockMu sync.Mutex

	empty chan struct{}
	full  chan struct{}

	mu     sync.Mutex
	mail   map[int32]chan state.Command
	closed bool
}

// NewMemory creates a zeroed region with the run flag set and the counting
// pair initialized exactly like the owner initializes the SysV set.
func NewMemory() *Memory {
	m := &Memory{
		st:    &state.SharedState{},
		empty: make(chan struct{}, state.BeltCapacity),
		full:  make(chan struct{}, state.BeltCapacity),
		mail:  make(map[int32]chan state.Command),
	}
	for i := 0; i < state.BeltCapacity; i++ {
		m.empty <- struct{}{}
	}
	m.st.SetRunning(true)
	return m
}

// State returns the in-process region.
func (m *Memory) State() *state.SharedState { return m.st }

func (m *Memory) LockBelt()   { m.beltMu.Lock() }
func (m *Memory) UnlockBelt() { m.beltMu.Unlock() }

func (m *Memory) LockDock()   { m.dockMu.Lock() }
func (m *Memory) UnlockDock() { m.dockMu.Unlock() }

func (m *Memory) WaitEmptySlot() { <-m.empty }

func (m *Memory) SignalSlotFreed() {
	select {
	case m.empty <- struct{}{}:
	default:
	}
}

func (m *Memory) WaitFull() { <-m.full }

func (m *Memory) SignalFull() {
	select {
	case m.full <- struct{}{}:
	default:
	}
}

func (m *Memory) mailbox(pid int32) chan state.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	box, ok := m.mail[pid]
	if !ok {
		box = make(chan state.Command, mailboxDepth)
		if m.closed {
			close(box)
		}
		m.mail[pid] = box
	}
	return box
}

// Send enqueues cmd in target's mailbox.
func (m *Memory) Send(target int32, cmd state.Command) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return errClosed
	}
	m.mailbox(target) <- cmd
	return nil
}

// ReceiveBlocking waits for the next command addressed to self. A closed
// backend reads as END_WORK, matching SysV teardown behavior.
func (m *Memory) ReceiveBlocking(self int32) state.Command {
	cmd, ok := <-m.mailbox(self)
	if !ok {
		return state.CmdEndWork
	}
	return cmd
}

// ReceiveNonBlocking drains one pending command addressed to self.
func (m *Memory) ReceiveNonBlocking(self int32) (state.Command, bool) {
	select {
	case cmd, ok := <-m.mailbox(self):
		if !ok {
			return state.CmdNone, false
		}
		return cmd, true
	default:
		return state.CmdNone, false
	}
}

// Close wakes every parked receiver.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, box := range m.mail {
		close(box)
	}
	return nil
}
