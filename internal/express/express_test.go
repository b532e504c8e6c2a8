package express

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockline/warehouse/internal/config"
	"github.com/dockline/warehouse/internal/ipc"
	"github.com/dockline/warehouse/internal/logging"
	"github.com/dockline/warehouse/internal/shared/flags"
	"github.com/dockline/warehouse/internal/shared/state"
)

const truckPID = 77

func newTestExpress() (*Express, *ipc.Memory) {
	backend := ipc.NewMemory()
	e := New(backend, config.ExpressConfig{MinWeight: 1, MaxWeight: 5}, logging.NewNop())
	return e, backend
}

func dockTruck(backend *ipc.Memory, maxLoad int32, maxWeight, maxVolume float64) {
	backend.LockDock()
	backend.State().Dock = state.TruckState{
		Present:   true,
		PID:       truckPID,
		MaxLoad:   maxLoad,
		MaxWeight: maxWeight,
		MaxVolume: maxVolume,
	}
	backend.UnlockDock()
}

func TestDeliverVIP(t *testing.T) {
	t.Run("loads into a roomy truck without ordering departure", func(t *testing.T) {
		e, backend := newTestExpress()
		dockTruck(backend, 10, 100, 1000)

		require.True(t, e.DeliverVIP())

		dock := backend.State().Dock
		assert.Equal(t, int32(1), dock.CurrentLoad)
		assert.GreaterOrEqual(t, dock.CurrentWeight, 1.0)
		assert.LessOrEqual(t, dock.CurrentWeight, 5.0)
		assert.Equal(t, state.VolumeLarge, dock.CurrentVolume)

		_, ok := backend.ReceiveNonBlocking(truckPID)
		assert.False(t, ok, "no departure expected while the truck has room")
	})

	t.Run("mints IDs from the shared counter", func(t *testing.T) {
		e, backend := newTestExpress()
		dockTruck(backend, 10, 100, 1000)

		backend.State().TotalCreated = 41
		require.True(t, e.DeliverVIP())
		assert.Equal(t, int64(42), backend.State().TotalCreated)
	})

	t.Run("drops the package when no truck is docked", func(t *testing.T) {
		e, backend := newTestExpress()

		assert.False(t, e.DeliverVIP())
		assert.Equal(t, int32(0), backend.State().Dock.CurrentLoad)
		// The drop still consumed an ID.
		assert.Equal(t, int64(1), backend.State().TotalCreated)
	})

	t.Run("filling the last slot orders departure", func(t *testing.T) {
		e, backend := newTestExpress()
		dockTruck(backend, 1, 100, 1000)

		require.True(t, e.DeliverVIP())

		cmd, ok := backend.ReceiveNonBlocking(truckPID)
		require.True(t, ok)
		assert.Equal(t, state.CmdDeparture, cmd)
	})

	t.Run("rejection orders departure without retrying", func(t *testing.T) {
		e, backend := newTestExpress()
		// VIP weight is at least 1, so this truck can never take it.
		dockTruck(backend, 10, 0.5, 1000)

		assert.False(t, e.DeliverVIP())
		assert.Equal(t, int32(0), backend.State().Dock.CurrentLoad)

		cmd, ok := backend.ReceiveNonBlocking(truckPID)
		require.True(t, ok)
		assert.Equal(t, state.CmdDeparture, cmd)
	})
}

func TestDeliverBatch(t *testing.T) {
	t.Run("delivers a full burst into a roomy truck", func(t *testing.T) {
		e, backend := newTestExpress()
		dockTruck(backend, 100, 1000, 1000)

		loaded := e.DeliverBatch()
		assert.GreaterOrEqual(t, loaded, 3)
		assert.LessOrEqual(t, loaded, 5)
		assert.Equal(t, int32(loaded), backend.State().Dock.CurrentLoad)
	})

	t.Run("stops at the first misfit and orders departure", func(t *testing.T) {
		e, backend := newTestExpress()
		// No batch package fits this volume limit, whatever its kind.
		dockTruck(backend, 100, 1000, state.VolumeSmall-1)

		loaded := e.DeliverBatch()
		assert.Equal(t, 0, loaded)
		assert.Equal(t, int32(0), backend.State().Dock.CurrentLoad)

		cmd, ok := backend.ReceiveNonBlocking(truckPID)
		require.True(t, ok)
		assert.Equal(t, state.CmdDeparture, cmd)
	})

	t.Run("batch cargo is express-tagged with kind-derived volume", func(t *testing.T) {
		e, _ := newTestExpress()

		for i := 0; i < 50; i++ {
			pkg := e.mintBatchItem()
			assert.True(t, pkg.Status.Has(flags.StatusExpress))
			assert.Equal(t, state.VolumeFor(pkg.Kind), pkg.Volume)
			assert.Greater(t, pkg.Weight, 0.0)
			assert.LessOrEqual(t, pkg.Weight, batchLargeMax)
		}
	})

	t.Run("loads nothing with an empty dock", func(t *testing.T) {
		e, backend := newTestExpress()

		assert.Equal(t, 0, e.DeliverBatch())
		assert.Equal(t, int32(0), backend.State().Dock.CurrentLoad)
	})
}

func TestVIPPackageShape(t *testing.T) {
	e, backend := newTestExpress()
	dockTruck(backend, 10, 100, 1000)

	pkg := e.mintVIP()
	assert.Equal(t, flags.KindLarge, pkg.Kind)
	assert.True(t, pkg.Status.Has(flags.StatusExpress))
	assert.Equal(t, state.VolumeLarge, pkg.Volume)
	require.Equal(t, int32(1), pkg.HistoryLen)
	assert.True(t, pkg.History[0].Action.Has(flags.ActionCreated|flags.ActionByExpress))
}
