// Package state defines the fixed-layout data structures that live in the
// shared memory region. Every process maps the same bytes, so these structs
// hold only fixed-size fields; the struct layout is the wire format.
//
// Mutation rules: belt fields, counters, the session table and the worker
// count are written only under the belt mutex; the dock descriptor only
// under the dock mutex. Running is read without locking by design
// (best-effort monitoring) and is therefore a uint32 touched atomically.
package state

import (
	"bytes"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/dockline/warehouse/internal/shared/flags"
)

// Layout constants. These size shared arrays and are compiled into every
// process binary; they are deliberately not runtime-configurable.
const (
	BeltCapacity      = 10
	MaxPackageHistory = 6
	MaxSessions       = 5
	UsernameSize      = 32
)

// Fixed volumes derived from a package kind.
const (
	VolumeSmall  = 19.5
	VolumeMedium = 46.2
	VolumeLarge  = 99.7
)

// VolumeFor returns the fixed volume for a package kind.
func VolumeFor(k flags.Kind) float64 {
	switch k {
	case flags.KindSmall:
		return VolumeSmall
	case flags.KindMedium:
		return VolumeMedium
	case flags.KindLarge:
		return VolumeLarge
	}
	return 0
}

// Command identifies a mailbox message.
type Command int64

const (
	CmdNone        Command = 0
	CmdDeparture   Command = 1
	CmdExpressLoad Command = 2
	CmdEndWork     Command = 3
)

func (c Command) String() string {
	switch c {
	case CmdNone:
		return "none"
	case CmdDeparture:
		return "departure"
	case CmdExpressLoad:
		return "express-load"
	case CmdEndWork:
		return "end-work"
	}
	return "unknown"
}

// Message is the fixed message-queue record. RoutingKey is the recipient
// process ID: one queue carries a private mailbox per process.
type Message struct {
	RoutingKey int64
	Command    Command
}

// ActionRecord is one audit log entry on a package.
type ActionRecord struct {
	Action    flags.Action
	ActorPID  int32
	Timestamp int64
}

// Package is a unit of cargo. ID zero is the "no package" sentinel; real
// IDs are minted monotonically under the belt mutex.
type Package struct {
	ID         int64
	CreatorPID int32
	EditorPID  int32

	Kind   flags.Kind
	Status flags.Status

	Weight float64
	Volume float64

	CreatedAt int64
	UpdatedAt int64

	History    [MaxPackageHistory]ActionRecord
	HistoryLen int32
}

// PushAction appends an audit entry. Appends beyond capacity are silently
// dropped; the log is intentionally small.
func (p *Package) PushAction(action flags.Action, actor int32) {
	if p.HistoryLen >= MaxPackageHistory {
		return
	}
	now := time.Now().Unix()
	p.History[p.HistoryLen] = ActionRecord{Action: action, ActorPID: actor, Timestamp: now}
	p.HistoryLen++
	p.UpdatedAt = now
	p.EditorPID = actor
}

// UserSession is one slot of the session table.
type UserSession struct {
	Active   bool
	Username [UsernameSize]byte
	PID      int32

	Role  flags.Role
	OrgID int32

	MaxProcesses     int32
	CurrentProcesses int32
}

// SetUsername stores name truncated to the slot size, NUL-terminated.
func (u *UserSession) SetUsername(name string) {
	u.Username = [UsernameSize]byte{}
	copy(u.Username[:UsernameSize-1], name)
}

// UsernameString returns the stored username without trailing NULs.
func (u *UserSession) UsernameString() string {
	if i := bytes.IndexByte(u.Username[:], 0); i >= 0 {
		return string(u.Username[:i])
	}
	return string(u.Username[:])
}

// TruckState describes whatever vehicle currently occupies the dock.
type TruckState struct {
	Present bool
	PID     int32
	Plate   [16]byte // uuid bytes, log-friendly occupancy label

	CurrentLoad int32
	MaxLoad     int32

	CurrentWeight float64
	MaxWeight     float64

	CurrentVolume float64
	MaxVolume     float64
}

// SharedState is the entire cross-process region. Field order and sizes
// must match exactly in every attaching process.
type SharedState struct {
	Belt [BeltCapacity]Package
	Head int32
	Tail int32

	Count       int32
	TotalWeight float64

	Running        uint32
	TrucksDeparted int64
	TotalCreated   int64

	ActiveWorkers int32

	Users [MaxSessions]UserSession
	Dock  TruckState
}

// Size returns the byte size of the shared region.
func Size() int {
	return int(unsafe.Sizeof(SharedState{}))
}

// IsRunning reports the global run flag without taking a lock.
func (s *SharedState) IsRunning() bool {
	return atomic.LoadUint32(&s.Running) == 1
}

// SetRunning flips the global run flag.
func (s *SharedState) SetRunning(v bool) {
	var n uint32
	if v {
		n = 1
	}
	atomic.StoreUint32(&s.Running, n)
}
