//go:build linux

package ipc

import (
	"fmt"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/dockline/warehouse/internal/config"
	"github.com/dockline/warehouse/internal/logging"
	"github.com/dockline/warehouse/internal/shared/state"
)

// Semaphore set layout. Order is part of the cross-process contract.
const (
	semBeltMutex = 0
	semEmpty     = 1
	semFull      = 2
	semDockMutex = 3
	semCount     = 4
)

// semctl SETVAL command; x/sys/unix wraps SysV shm but not semaphores.
const semSetVal = 16

// sembuf mirrors the kernel's struct sembuf for semop(2).
type sembuf struct {
	Num uint16
	Op  int16
	Flg int16
}

// msgbuf is the on-queue layout of state.Message: mtype followed by the
// command payload.
type msgbuf struct {
	Mtype int64
	Cmd   int64
}

const msgPayloadSize = int(unsafe.Sizeof(msgbuf{}) - unsafe.Sizeof(int64(0)))

// SysV implements Backend on SysV shared memory, semaphores and a message
// queue. Exactly one process per simulation is the owner: it creates and
// initializes the resources and removes them on Close; everyone else
// attaches and only detaches.
type SysV struct {
	log   *logging.Logger
	owner bool

	shmID int
	semID int
	msgID int

	seg []byte
	st  *state.SharedState
}

// NewSysV creates (owner) or attaches to (non-owner) the shared resources.
func NewSysV(cfg config.IPCConfig, owner bool, log *logging.Logger) (*SysV, error) {
	perm := 0o600
	flags := perm
	if owner {
		flags |= unix.IPC_CREAT
	}

	shmID, err := unix.SysvShmGet(cfg.ShmKey, state.Size(), flags)
	if err != nil {
		return nil, fmt.Errorf("shmget key %d: %w", cfg.ShmKey, err)
	}

	seg, err := unix.SysvShmAttach(shmID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("shmat id %d: %w", shmID, err)
	}

	nsems := 0
	if owner {
		nsems = semCount
	}
	semID, _, errno := unix.Syscall(unix.SYS_SEMGET, uintptr(cfg.SemKey), uintptr(nsems), uintptr(flags))
	if errno != 0 {
		_ = unix.SysvShmDetach(seg)
		return nil, fmt.Errorf("semget key %d: %w", cfg.SemKey, errno)
	}

	msgID, _, errno := unix.Syscall(unix.SYS_MSGGET, uintptr(cfg.MsgKey), uintptr(flags), 0)
	if errno != 0 {
		_ = unix.SysvShmDetach(seg)
		return nil, fmt.Errorf("msgget key %d: %w", cfg.MsgKey, errno)
	}

	s := &SysV{
		log:   log,
		owner: owner,
		shmID: shmID,
		semID: int(semID),
		msgID: int(msgID),
		seg:   seg,
		st:    (*state.SharedState)(unsafe.Pointer(&seg[0])),
	}

	if owner {
		for i := range seg {
			seg[i] = 0
		}
		s.st.SetRunning(true)

		if err := s.setSemValue(semBeltMutex, 1); err != nil {
			return nil, err
		}
		if err := s.setSemValue(semDockMutex, 1); err != nil {
			return nil, err
		}
		if err := s.setSemValue(semEmpty, state.BeltCapacity); err != nil {
			return nil, err
		}
		if err := s.setSemValue(semFull, 0); err != nil {
			return nil, err
		}

		log.Info("IPC resources initialized",
			zap.Int("shm_id", shmID),
			zap.Int("sem_id", s.semID),
			zap.Int("msg_id", s.msgID),
			zap.Int("region_bytes", state.Size()))
	}

	return s, nil
}

// State returns the mapped shared region.
func (s *SysV) State() *state.SharedState { return s.st }

// semOp performs one semaphore operation, retrying interrupted waits. Any
// other failure means the shared synchronization state cannot be trusted,
// so the process terminates.
func (s *SysV) semOp(idx int, op int) {
	sb := sembuf{Num: uint16(idx), Op: int16(op)}
	for {
		_, _, errno := unix.Syscall(unix.SYS_SEMOP, uintptr(s.semID), uintptr(unsafe.Pointer(&sb)), 1)
		if errno == 0 {
			return
		}
		if errno == unix.EINTR {
			continue
		}
		s.log.Fatal("semop failed",
			zap.Int("sem", idx),
			zap.Int("op", op),
			zap.Error(errno))
	}
}

func (s *SysV) setSemValue(idx, val int) error {
	_, _, errno := unix.Syscall6(unix.SYS_SEMCTL,
		uintptr(s.semID), uintptr(idx), semSetVal, uintptr(val), 0, 0)
	if errno != 0 {
		return fmt.Errorf("semctl SETVAL sem %d: %w", idx, errno)
	}
	return nil
}

func (s *SysV) LockBelt()   { s.semOp(semBeltMutex, -1) }
func (s *SysV) UnlockBelt() { s.semOp(semBeltMutex, 1) }

func (s *SysV) LockDock()   { s.semOp(semDockMutex, -1) }
func (s *SysV) UnlockDock() { s.semOp(semDockMutex, 1) }

func (s *SysV) WaitEmptySlot()   { s.semOp(semEmpty, -1) }
func (s *SysV) SignalSlotFreed() { s.semOp(semEmpty, 1) }

func (s *SysV) WaitFull()   { s.semOp(semFull, -1) }
func (s *SysV) SignalFull() { s.semOp(semFull, 1) }

// Send enqueues cmd in target's mailbox.
func (s *SysV) Send(target int32, cmd state.Command) error {
	mb := msgbuf{Mtype: int64(target), Cmd: int64(cmd)}
	for {
		_, _, errno := unix.Syscall6(unix.SYS_MSGSND,
			uintptr(s.msgID), uintptr(unsafe.Pointer(&mb)), uintptr(msgPayloadSize), 0, 0, 0)
		if errno == 0 {
			return nil
		}
		if errno == unix.EINTR {
			continue
		}
		s.log.Error("msgsnd failed",
			zap.Int32("target", target),
			zap.Stringer("command", cmd),
			zap.Error(errno))
		return fmt.Errorf("msgsnd to %d: %w", target, errno)
	}
}

// ReceiveBlocking waits for the next command addressed to self. A removed
// queue reads as END_WORK: only owner teardown removes it, so the two are
// equivalent and parked receivers still wake up.
func (s *SysV) ReceiveBlocking(self int32) state.Command {
	var mb msgbuf
	for {
		_, _, errno := unix.Syscall6(unix.SYS_MSGRCV,
			uintptr(s.msgID), uintptr(unsafe.Pointer(&mb)), uintptr(msgPayloadSize),
			uintptr(self), 0, 0)
		if errno == 0 {
			return state.Command(mb.Cmd)
		}
		if errno == unix.EINTR {
			continue
		}
		if errno == unix.EIDRM || errno == unix.EINVAL {
			return state.CmdEndWork
		}
		s.log.Fatal("msgrcv failed", zap.Int32("self", self), zap.Error(errno))
	}
}

// ReceiveNonBlocking drains one pending command addressed to self.
func (s *SysV) ReceiveNonBlocking(self int32) (state.Command, bool) {
	var mb msgbuf
	for {
		_, _, errno := unix.Syscall6(unix.SYS_MSGRCV,
			uintptr(s.msgID), uintptr(unsafe.Pointer(&mb)), uintptr(msgPayloadSize),
			uintptr(self), unix.IPC_NOWAIT, 0)
		if errno == 0 {
			return state.Command(mb.Cmd), true
		}
		if errno == unix.EINTR {
			continue
		}
		if errno == unix.ENOMSG || errno == unix.EAGAIN || errno == unix.EIDRM || errno == unix.EINVAL {
			return state.CmdNone, false
		}
		s.log.Fatal("msgrcv (nowait) failed", zap.Int32("self", self), zap.Error(errno))
	}
}

// Close detaches the mapping; the owner also removes the OS resources.
func (s *SysV) Close() error {
	var firstErr error

	if err := unix.SysvShmDetach(s.seg); err != nil {
		s.log.Warn("shmdt failed", zap.Error(err))
		firstErr = err
	}
	s.seg = nil
	s.st = nil

	if !s.owner {
		return firstErr
	}

	s.log.Info("removing IPC resources")
	if _, err := unix.SysvShmCtl(s.shmID, unix.IPC_RMID, nil); err != nil {
		s.log.Warn("shmctl RMID failed", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	if _, _, errno := unix.Syscall6(unix.SYS_SEMCTL,
		uintptr(s.semID), 0, unix.IPC_RMID, 0, 0, 0); errno != 0 {
		s.log.Warn("semctl RMID failed", zap.Error(errno))
		if firstErr == nil {
			firstErr = errno
		}
	}
	if _, _, errno := unix.Syscall(unix.SYS_MSGCTL,
		uintptr(s.msgID), unix.IPC_RMID, 0); errno != 0 {
		s.log.Warn("msgctl RMID failed", zap.Error(errno))
		if firstErr == nil {
			firstErr = errno
		}
	}
	return firstErr
}
