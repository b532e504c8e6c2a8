package belt

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockline/warehouse/internal/ipc"
	"github.com/dockline/warehouse/internal/logging"
	"github.com/dockline/warehouse/internal/monitoring"
	"github.com/dockline/warehouse/internal/shared/flags"
	"github.com/dockline/warehouse/internal/shared/state"
)

func newTestBelt() (*Belt, *ipc.Memory) {
	backend := ipc.NewMemory()
	b := New(backend, logging.NewNop()).
		WithMetrics(monitoring.New(prometheus.NewRegistry()))
	return b, backend
}

func TestPush(t *testing.T) {
	t.Run("places package and mints the first ID", func(t *testing.T) {
		b, backend := newTestBelt()

		pkg := state.Package{Kind: flags.KindMedium, Weight: 10.5, Volume: state.VolumeMedium}
		require.True(t, b.Push(&pkg))

		st := backend.State()
		assert.Equal(t, int64(1), pkg.ID)
		assert.Equal(t, int32(1), st.Count)
		assert.Equal(t, int32(1), st.Tail)
		assert.Equal(t, int32(0), st.Head)
		assert.Equal(t, 10.5, st.TotalWeight)
		assert.Equal(t, int64(1), st.Belt[0].ID)
	})

	t.Run("IDs are strictly increasing", func(t *testing.T) {
		b, _ := newTestBelt()

		var ids []int64
		for i := 0; i < 3; i++ {
			pkg := state.Package{Kind: flags.KindSmall, Weight: 1, Volume: state.VolumeSmall}
			require.True(t, b.Push(&pkg))
			ids = append(ids, pkg.ID)
		}
		assert.Equal(t, []int64{1, 2, 3}, ids)
	})

	t.Run("records the belt placement in the audit log", func(t *testing.T) {
		b, backend := newTestBelt()

		pkg := state.Package{Kind: flags.KindSmall, Weight: 2, Volume: state.VolumeSmall}
		pkg.PushAction(flags.ActionCreated|flags.ActionByWorker, 1)
		require.True(t, b.Push(&pkg))

		stored := backend.State().Belt[0]
		require.Equal(t, int32(2), stored.HistoryLen)
		assert.True(t, stored.History[1].Action.Has(flags.ActionPlacedOnBelt))
	})

	t.Run("rejects when counter disagrees with the slot grant", func(t *testing.T) {
		b, backend := newTestBelt()

		// Corrupt the counter so the re-check under the mutex fires.
		backend.State().Count = state.BeltCapacity

		pkg := state.Package{Kind: flags.KindSmall, Weight: 1, Volume: state.VolumeSmall}
		assert.False(t, b.Push(&pkg))
		assert.Equal(t, int64(0), backend.State().TotalCreated)
	})
}

func TestPop(t *testing.T) {
	t.Run("drains the oldest package first", func(t *testing.T) {
		b, _ := newTestBelt()

		first := state.Package{Kind: flags.KindSmall, Weight: 5.0, Volume: state.VolumeSmall}
		second := state.Package{Kind: flags.KindLarge, Weight: 20.0, Volume: state.VolumeLarge}
		require.True(t, b.Push(&first))
		require.True(t, b.Push(&second))

		got := b.Pop()
		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, 5.0, got.Weight)

		got = b.Pop()
		assert.Equal(t, second.ID, got.ID)
	})

	t.Run("clears the slot and the weight", func(t *testing.T) {
		b, backend := newTestBelt()

		pkg := state.Package{Kind: flags.KindSmall, Weight: 5.0, Volume: state.VolumeSmall}
		require.True(t, b.Push(&pkg))
		b.Pop()

		st := backend.State()
		assert.Equal(t, int32(0), st.Count)
		assert.Equal(t, 0.0, st.TotalWeight)
		assert.Equal(t, int64(0), st.Belt[0].ID)
		assert.Equal(t, int32(1), st.Head)
	})

	t.Run("returns the sentinel when counter disagrees with the grant", func(t *testing.T) {
		b, backend := newTestBelt()

		// A full-slot grant with nothing on the belt.
		backend.SignalFull()

		got := b.Pop()
		assert.Equal(t, int64(0), got.ID)
	})
}

func TestWrapAround(t *testing.T) {
	b, backend := newTestBelt()

	// March head and tail to the last slot, then push across the seam.
	for i := 0; i < state.BeltCapacity-1; i++ {
		pkg := state.Package{Kind: flags.KindSmall, Weight: 1, Volume: state.VolumeSmall}
		require.True(t, b.Push(&pkg))
		b.Pop()
	}
	st := backend.State()
	require.Equal(t, int32(state.BeltCapacity-1), st.Tail)

	pkg := state.Package{Kind: flags.KindSmall, Weight: 1, Volume: state.VolumeSmall}
	require.True(t, b.Push(&pkg))
	assert.Equal(t, int32(0), st.Tail)
	assert.Equal(t, int64(state.BeltCapacity), st.Belt[state.BeltCapacity-1].ID)

	got := b.Pop()
	assert.Equal(t, pkg.ID, got.ID)
	assert.Equal(t, int32(0), st.Head)
}

func TestTotalWeightInvariant(t *testing.T) {
	b, backend := newTestBelt()

	weights := []float64{1.5, 22.0, 7.25}
	sum := 0.0
	for _, w := range weights {
		pkg := state.Package{Kind: flags.KindMedium, Weight: w, Volume: state.VolumeMedium}
		require.True(t, b.Push(&pkg))
		sum += w
	}
	assert.InDelta(t, sum, backend.State().TotalWeight, 1e-9)

	got := b.Pop()
	sum -= got.Weight
	assert.InDelta(t, sum, backend.State().TotalWeight, 1e-9)
}

func TestWorkerRegistry(t *testing.T) {
	t.Run("caps registered producers", func(t *testing.T) {
		b, _ := newTestBelt()
		b.WithWorkerCap(2)

		assert.True(t, b.RegisterWorker())
		assert.True(t, b.RegisterWorker())
		assert.False(t, b.RegisterWorker())
		assert.Equal(t, 2, b.WorkerCount())
	})

	t.Run("unregister clamps at zero", func(t *testing.T) {
		b, _ := newTestBelt()

		require.True(t, b.RegisterWorker())
		b.UnregisterWorker()
		b.UnregisterWorker()
		assert.Equal(t, 0, b.WorkerCount())
	})
}
