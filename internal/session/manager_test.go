package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockline/warehouse/internal/ipc"
	"github.com/dockline/warehouse/internal/logging"
	"github.com/dockline/warehouse/internal/shared/flags"
	"github.com/dockline/warehouse/internal/shared/state"
)

func TestLogin(t *testing.T) {
	t.Run("claims the first free slot", func(t *testing.T) {
		backend := ipc.NewMemory()
		m := New(backend, logging.NewNop())

		require.True(t, m.Login("Worker_1", flags.RoleOperator, 1, 10))
		assert.Equal(t, 0, m.Slot())

		u := backend.State().Users[0]
		assert.True(t, u.Active)
		assert.Equal(t, "Worker_1", u.UsernameString())
		assert.Equal(t, flags.RoleOperator, u.Role)
		assert.Equal(t, int32(10), u.MaxProcesses)
		assert.Equal(t, int32(0), u.CurrentProcesses)
	})

	t.Run("rejects a duplicate active username", func(t *testing.T) {
		backend := ipc.NewMemory()
		first := New(backend, logging.NewNop())
		second := New(backend, logging.NewNop())

		require.True(t, first.Login("Worker_1", flags.RoleOperator, 1, 10))
		assert.False(t, second.Login("Worker_1", flags.RoleOperator, 1, 10))
		assert.Equal(t, -1, second.Slot())
	})

	t.Run("rejects when the table is full, accepts after a logout", func(t *testing.T) {
		backend := ipc.NewMemory()

		managers := make([]*Manager, state.MaxSessions)
		for i := range managers {
			managers[i] = New(backend, logging.NewNop())
			require.True(t, managers[i].Login(fmt.Sprintf("user-%d", i), flags.RoleViewer, 1, 1))
		}

		late := New(backend, logging.NewNop())
		assert.False(t, late.Login("late", flags.RoleViewer, 1, 1))

		managers[2].Logout()
		require.True(t, late.Login("late", flags.RoleViewer, 1, 1))
		assert.Equal(t, 2, late.Slot())
	})
}

func TestLogout(t *testing.T) {
	backend := ipc.NewMemory()
	m := New(backend, logging.NewNop())

	require.True(t, m.Login("Worker_1", flags.RoleOperator|flags.RoleOrgAdmin, 3, 10))
	require.True(t, m.TrySpawnProcess())
	m.Logout()

	u := backend.State().Users[0]
	assert.False(t, u.Active)
	assert.Equal(t, flags.RoleNone, u.Role)
	assert.Equal(t, int32(0), u.OrgID)
	assert.Equal(t, int32(0), u.CurrentProcesses)
	assert.Equal(t, -1, m.Slot())

	// Logout without a session is a no-op.
	m.Logout()
}

func TestProcessQuota(t *testing.T) {
	t.Run("never exceeds the maximum", func(t *testing.T) {
		backend := ipc.NewMemory()
		m := New(backend, logging.NewNop())
		require.True(t, m.Login("Worker_1", flags.RoleOperator, 1, 2))

		assert.True(t, m.TrySpawnProcess())
		assert.True(t, m.TrySpawnProcess())
		assert.False(t, m.TrySpawnProcess())
		assert.Equal(t, int32(2), backend.State().Users[0].CurrentProcesses)

		m.ReportProcessFinished()
		assert.True(t, m.TrySpawnProcess())
	})

	t.Run("finish clamps at zero", func(t *testing.T) {
		backend := ipc.NewMemory()
		m := New(backend, logging.NewNop())
		require.True(t, m.Login("Worker_1", flags.RoleOperator, 1, 2))

		m.ReportProcessFinished()
		m.ReportProcessFinished()
		assert.Equal(t, int32(0), backend.State().Users[0].CurrentProcesses)
	})

	t.Run("fails without a session", func(t *testing.T) {
		m := New(ipc.NewMemory(), logging.NewNop())
		assert.False(t, m.TrySpawnProcess())
	})
}

func TestCurrentRole(t *testing.T) {
	backend := ipc.NewMemory()
	m := New(backend, logging.NewNop())

	assert.Equal(t, flags.RoleNone, m.CurrentRole())

	require.True(t, m.Login("admin", flags.RoleSysAdmin, 0, 1))
	assert.True(t, m.CurrentRole().Has(flags.RoleSysAdmin))

	m.Logout()
	assert.Equal(t, flags.RoleNone, m.CurrentRole())
}

func TestActiveCount(t *testing.T) {
	backend := ipc.NewMemory()
	a := New(backend, logging.NewNop())
	b := New(backend, logging.NewNop())

	require.True(t, a.Login("a", flags.RoleViewer, 1, 1))
	require.True(t, b.Login("b", flags.RoleViewer, 1, 1))
	assert.Equal(t, 2, a.ActiveCount())

	b.Logout()
	assert.Equal(t, 1, a.ActiveCount())
}
