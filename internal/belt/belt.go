// Package belt implements the bounded conveyor buffer connecting producer
// processes to the dispatcher.
package belt

import (
	"os"

	"go.uber.org/zap"

	"github.com/dockline/warehouse/internal/ipc"
	"github.com/dockline/warehouse/internal/logging"
	"github.com/dockline/warehouse/internal/monitoring"
	"github.com/dockline/warehouse/internal/shared/flags"
	"github.com/dockline/warehouse/internal/shared/state"
)

// DefaultWorkerCap bounds concurrently registered producers.
const DefaultWorkerCap = 3

// Belt is the ring-buffer producer/consumer pair over the shared region.
// Blocking is delegated to the backend's counting semaphores; all field
// mutation happens under the belt mutex.
type Belt struct {
	backend   ipc.Backend
	log       *logging.Logger
	metrics   *monitoring.Metrics
	workerCap int
}

// New creates a belt over the given backend.
func New(backend ipc.Backend, log *logging.Logger) *Belt {
	return &Belt{
		backend:   backend,
		log:       log,
		workerCap: DefaultWorkerCap,
	}
}

// WithMetrics adds metrics tracking to the belt.
func (b *Belt) WithMetrics(m *monitoring.Metrics) *Belt {
	b.metrics = m
	return b
}

// WithWorkerCap overrides the registered-producer bound.
func (b *Belt) WithWorkerCap(cap int) *Belt {
	b.workerCap = cap
	return b
}

// Push places pkg on the belt, blocking until a slot is free. The package
// ID is minted here, under the belt mutex, so IDs are globally unique and
// strictly increasing. Returns false only when the semaphore grant and the
// protected counter disagree; the slot token is restored in that case.
func (b *Belt) Push(pkg *state.Package) bool {
	b.backend.WaitEmptySlot()
	b.backend.LockBelt()

	st := b.backend.State()

	if st.Count >= state.BeltCapacity {
		// Semaphore granted a slot the counter says we don't have.
		b.log.Warn("belt full despite empty-slot grant; rejecting push",
			zap.Int32("count", st.Count))
		b.backend.UnlockBelt()
		b.backend.SignalSlotFreed()
		if b.metrics != nil {
			b.metrics.BeltAnomalies.Inc()
		}
		return false
	}

	st.TotalCreated++
	pkg.ID = st.TotalCreated
	pkg.PushAction(flags.ActionPlacedOnBelt, int32(os.Getpid()))

	slot := st.Tail
	st.Belt[slot] = *pkg
	st.Tail = (slot + 1) % state.BeltCapacity
	st.Count++
	st.TotalWeight += pkg.Weight

	count, weight := st.Count, st.TotalWeight

	b.log.Info("pushed package",
		zap.Int64("id", pkg.ID),
		zap.Int32("slot", slot),
		zap.Int32("count", count),
		zap.Int("capacity", state.BeltCapacity))

	b.backend.UnlockBelt()
	b.backend.SignalFull()

	if b.metrics != nil {
		b.metrics.PackagesCreated.Inc()
		b.metrics.RecordBelt(int(count), weight)
	}
	return true
}

// Pop removes the oldest package, blocking until one exists. Returns the
// zero Package (ID 0) when the semaphore grant and the protected counter
// disagree; callers treat that sentinel as "no work yet".
func (b *Belt) Pop() state.Package {
	b.backend.WaitFull()
	b.backend.LockBelt()

	st := b.backend.State()

	if st.Count <= 0 {
		// Semaphore granted an item the counter says is not there.
		b.log.Warn("belt empty despite full-slot grant; returning sentinel")
		b.backend.UnlockBelt()
		if b.metrics != nil {
			b.metrics.BeltAnomalies.Inc()
		}
		return state.Package{}
	}

	slot := st.Head
	pkg := st.Belt[slot]

	st.Belt[slot] = state.Package{}
	st.Head = (slot + 1) % state.BeltCapacity
	st.Count--
	st.TotalWeight -= pkg.Weight

	count, weight := st.Count, st.TotalWeight

	b.log.Info("popped package",
		zap.Int64("id", pkg.ID),
		zap.Int32("slot", slot),
		zap.Int32("count", count),
		zap.Int("capacity", state.BeltCapacity))

	b.backend.UnlockBelt()
	b.backend.SignalSlotFreed()

	if b.metrics != nil {
		b.metrics.RecordBelt(int(count), weight)
	}
	return pkg
}

// Count returns the number of packages currently on the belt. Lock-free
// read, monitoring only.
func (b *Belt) Count() int {
	return int(b.backend.State().Count)
}

// WorkerCount returns the number of registered producers. Lock-free read,
// used for the cosmetic production pacing.
func (b *Belt) WorkerCount() int {
	return int(b.backend.State().ActiveWorkers)
}

// RegisterWorker claims a producer slot, failing when the cap is reached.
func (b *Belt) RegisterWorker() bool {
	b.backend.LockBelt()
	defer b.backend.UnlockBelt()

	st := b.backend.State()
	if int(st.ActiveWorkers) >= b.workerCap {
		return false
	}
	st.ActiveWorkers++
	if b.metrics != nil {
		b.metrics.ActiveWorkers.Set(float64(st.ActiveWorkers))
	}
	return true
}

// UnregisterWorker releases a producer slot. Clamped at zero.
func (b *Belt) UnregisterWorker() {
	b.backend.LockBelt()
	defer b.backend.UnlockBelt()

	st := b.backend.State()
	if st.ActiveWorkers > 0 {
		st.ActiveWorkers--
	}
	if b.metrics != nil {
		b.metrics.ActiveWorkers.Set(float64(st.ActiveWorkers))
	}
}
