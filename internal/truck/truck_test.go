package truck

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockline/warehouse/internal/config"
	"github.com/dockline/warehouse/internal/ipc"
	"github.com/dockline/warehouse/internal/logging"
	"github.com/dockline/warehouse/internal/shared/state"
)

const testPID = 42

func testConfig() config.TruckConfig {
	return config.TruckConfig{
		MaxLoad:    100,
		MinWeight:  50,
		MaxWeight:  150,
		MinVolume:  200,
		MaxVolume:  500,
		DockRetry:  time.Millisecond,
		TransitMin: time.Millisecond,
		TransitMax: 2 * time.Millisecond,
	}
}

func newTestTruck() (*Truck, *ipc.Memory) {
	backend := ipc.NewMemory()
	tr := New(backend, testConfig(), logging.NewNop()).WithPID(testPID)
	return tr, backend
}

func runTruck(t *testing.T, tr *Truck) chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		tr.Run()
		close(done)
	}()
	return done
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("truck did not stop")
	}
}

func TestRun(t *testing.T) {
	t.Run("docks, departs on order, stops on end-of-work", func(t *testing.T) {
		tr, backend := newTestTruck()
		require.NoError(t, backend.Send(testPID, state.CmdDeparture))
		require.NoError(t, backend.Send(testPID, state.CmdEndWork))

		waitDone(t, runTruck(t, tr))

		st := backend.State()
		assert.Equal(t, int64(1), st.TrucksDeparted)
		assert.False(t, st.Dock.Present)
	})

	t.Run("rolls fresh limits within the configured ranges", func(t *testing.T) {
		tr, backend := newTestTruck()

		done := runTruck(t, tr)
		require.Eventually(t, func() bool {
			return backend.State().Dock.Present
		}, time.Second, time.Millisecond)

		backend.LockDock()
		dock := backend.State().Dock
		backend.UnlockDock()

		assert.Equal(t, int32(testPID), dock.PID)
		assert.Equal(t, int32(100), dock.MaxLoad)
		assert.GreaterOrEqual(t, dock.MaxWeight, 50.0)
		assert.Less(t, dock.MaxWeight, 150.0)
		assert.GreaterOrEqual(t, dock.MaxVolume, 200.0)
		assert.Less(t, dock.MaxVolume, 500.0)
		assert.NotEqual(t, [16]byte{}, dock.Plate)

		require.NoError(t, backend.Send(testPID, state.CmdEndWork))
		waitDone(t, done)
	})

	t.Run("waits while another vehicle holds the dock", func(t *testing.T) {
		tr, backend := newTestTruck()

		backend.LockDock()
		backend.State().Dock = state.TruckState{Present: true, PID: 99}
		backend.UnlockDock()

		done := runTruck(t, tr)

		time.Sleep(10 * time.Millisecond)
		backend.LockDock()
		holder := backend.State().Dock.PID
		backend.UnlockDock()
		assert.Equal(t, int32(99), holder, "dock must not change hands while held")

		backend.LockDock()
		backend.State().Dock.Present = false
		backend.UnlockDock()

		require.Eventually(t, func() bool {
			backend.LockDock()
			defer backend.UnlockDock()
			d := backend.State().Dock
			return d.Present && d.PID == testPID
		}, time.Second, time.Millisecond)

		require.NoError(t, backend.Send(testPID, state.CmdEndWork))
		waitDone(t, done)
		assert.False(t, backend.State().Dock.Present, "dock released on shutdown")
	})

	t.Run("ignores a departure order for a dock it does not hold", func(t *testing.T) {
		tr, backend := newTestTruck()

		done := runTruck(t, tr)
		require.Eventually(t, func() bool {
			return backend.State().Dock.Present
		}, time.Second, time.Millisecond)

		// Another process takes over the dock descriptor underneath the
		// parked truck.
		backend.LockDock()
		backend.State().Dock.PID = 99
		backend.UnlockDock()

		require.NoError(t, backend.Send(testPID, state.CmdDeparture))
		time.Sleep(20 * time.Millisecond)

		st := backend.State()
		assert.Equal(t, int64(0), st.TrucksDeparted, "mismatched departure must not count")
		assert.True(t, st.Dock.Present, "mismatched departure must not vacate the dock")

		backend.LockDock()
		backend.State().Dock.PID = testPID
		backend.UnlockDock()

		require.NoError(t, backend.Send(testPID, state.CmdDeparture))
		require.NoError(t, backend.Send(testPID, state.CmdEndWork))
		waitDone(t, done)

		assert.Equal(t, int64(1), backend.State().TrucksDeparted)
	})

	t.Run("returns immediately when the run flag is down", func(t *testing.T) {
		tr, backend := newTestTruck()
		backend.State().SetRunning(false)

		waitDone(t, runTruck(t, tr))
		assert.False(t, backend.State().Dock.Present)
	})
}
