// Package session manages the shared registry of logged-in process
// identities, their roles and their sub-process quotas.
package session

import (
	"os"

	"go.uber.org/zap"

	"github.com/dockline/warehouse/internal/ipc"
	"github.com/dockline/warehouse/internal/logging"
	"github.com/dockline/warehouse/internal/shared/flags"
	"github.com/dockline/warehouse/internal/shared/state"
)

// Manager handles one process's slot in the shared session table. The
// table lives in the shared region and is guarded by the belt mutex; no
// code path holds it together with the dock mutex.
type Manager struct {
	backend ipc.Backend
	log     *logging.Logger
	slot    int
}

// New creates a session manager with no active session.
func New(backend ipc.Backend, log *logging.Logger) *Manager {
	return &Manager{
		backend: backend,
		log:     log,
		slot:    -1,
	}
}

// Login claims a free table slot for name. Fails when the username is
// already active or the table is full; no partial state is created.
func (m *Manager) Login(name string, role flags.Role, orgID int32, maxProcs int32) bool {
	m.backend.LockBelt()
	defer m.backend.UnlockBelt()

	st := m.backend.State()

	for i := range st.Users {
		if st.Users[i].Active && st.Users[i].UsernameString() == name {
			m.log.Warn("user already logged in", zap.String("user", name))
			return false
		}
	}

	free := -1
	for i := range st.Users {
		if !st.Users[i].Active {
			free = i
			break
		}
	}
	if free == -1 {
		m.log.Error("session table full",
			zap.String("user", name),
			zap.Int("slots", state.MaxSessions))
		return false
	}

	u := &st.Users[free]
	*u = state.UserSession{}
	u.Active = true
	u.SetUsername(name)
	u.PID = int32(os.Getpid())
	u.Role = role
	u.OrgID = orgID
	u.MaxProcesses = maxProcs

	m.slot = free

	m.log.Info("logged in",
		zap.String("user", name),
		zap.Int32("org", orgID),
		zap.Stringer("role", role),
		zap.Int("slot", free))
	return true
}

// Logout clears this process's slot, including role bits and the
// sub-process counter.
func (m *Manager) Logout() {
	if m.slot == -1 {
		return
	}

	m.backend.LockBelt()
	defer m.backend.UnlockBelt()

	u := &m.backend.State().Users[m.slot]
	m.log.Info("logging out", zap.String("user", u.UsernameString()))

	u.Active = false
	u.Role = flags.RoleNone
	u.OrgID = 0
	u.CurrentProcesses = 0
	m.slot = -1
}

// TrySpawnProcess reserves one sub-process against the session quota.
func (m *Manager) TrySpawnProcess() bool {
	if m.slot == -1 {
		return false
	}

	m.backend.LockBelt()
	defer m.backend.UnlockBelt()

	u := &m.backend.State().Users[m.slot]
	if u.CurrentProcesses >= u.MaxProcesses {
		return false
	}
	u.CurrentProcesses++
	return true
}

// ReportProcessFinished returns one reserved sub-process. Clamped at zero.
func (m *Manager) ReportProcessFinished() {
	if m.slot == -1 {
		return
	}

	m.backend.LockBelt()
	defer m.backend.UnlockBelt()

	u := &m.backend.State().Users[m.slot]
	if u.CurrentProcesses > 0 {
		u.CurrentProcesses--
	}
}

// CurrentRole returns this session's role mask, RoleNone when not logged
// in. Used by external authorization (the terminal).
func (m *Manager) CurrentRole() flags.Role {
	if m.slot == -1 {
		return flags.RoleNone
	}
	return m.backend.State().Users[m.slot].Role
}

// Slot returns the claimed table index, -1 when not logged in.
func (m *Manager) Slot() int { return m.slot }

// ActiveCount returns the number of active sessions.
func (m *Manager) ActiveCount() int {
	m.backend.LockBelt()
	defer m.backend.UnlockBelt()

	st := m.backend.State()
	n := 0
	for i := range st.Users {
		if st.Users[i].Active {
			n++
		}
	}
	return n
}
