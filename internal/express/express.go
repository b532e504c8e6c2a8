// Package express implements the VIP path that loads packages directly
// into the docked truck, bypassing the belt.
package express

import (
	"math/rand"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/dockline/warehouse/internal/config"
	"github.com/dockline/warehouse/internal/ipc"
	"github.com/dockline/warehouse/internal/logging"
	"github.com/dockline/warehouse/internal/monitoring"
	"github.com/dockline/warehouse/internal/shared/flags"
	"github.com/dockline/warehouse/internal/shared/state"
)

// Express mints VIP packages and places them straight into the truck.
// Unlike the dispatcher it never retries: a VIP delivery that finds no
// room is dropped and counted.
type Express struct {
	backend ipc.Backend
	cfg     config.ExpressConfig
	log     *logging.Logger
	metrics *monitoring.Metrics
	pid     int32
	rng     *rand.Rand
}

// New creates an express handler.
func New(backend ipc.Backend, cfg config.ExpressConfig, log *logging.Logger) *Express {
	return &Express{
		backend: backend,
		cfg:     cfg,
		log:     log,
		pid:     int32(os.Getpid()),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(os.Getpid()))),
	}
}

// WithMetrics adds metrics tracking to the handler.
func (e *Express) WithMetrics(m *monitoring.Metrics) *Express {
	e.metrics = m
	return e
}

// mintVIP builds one VIP package with a globally unique ID. VIP cargo is
// always large-class but deliberately light.
func (e *Express) mintVIP() state.Package {
	weight := e.cfg.MinWeight + e.rng.Float64()*(e.cfg.MaxWeight-e.cfg.MinWeight)
	return e.mint(flags.KindLarge, weight)
}

// Weight bands per package kind for batch cargo, kilograms.
const (
	batchWeightMin = 0.1
	batchSmallMax  = 8.0
	batchMediumMax = 16.0
	batchLargeMax  = 25.0
)

// mintBatchItem builds one express package with randomized kind and
// weight, for batch mode.
func (e *Express) mintBatchItem() state.Package {
	var kind flags.Kind
	var weight float64
	switch e.rng.Intn(3) {
	case 0:
		kind = flags.KindSmall
		weight = batchWeightMin + e.rng.Float64()*(batchSmallMax-batchWeightMin)
	case 1:
		kind = flags.KindMedium
		weight = batchSmallMax + e.rng.Float64()*(batchMediumMax-batchSmallMax)
	default:
		kind = flags.KindLarge
		weight = batchMediumMax + e.rng.Float64()*(batchLargeMax-batchMediumMax)
	}
	return e.mint(kind, weight)
}

func (e *Express) mint(kind flags.Kind, weight float64) state.Package {
	pkg := state.Package{
		CreatorPID: e.pid,
		Kind:       kind,
		Status:     flags.StatusExpress,
		Weight:     weight,
		Volume:     state.VolumeFor(kind),
		CreatedAt:  time.Now().Unix(),
	}
	pkg.PushAction(flags.ActionCreated|flags.ActionByExpress, e.pid)

	// IDs come from the same counter the belt uses, under the same lock.
	e.backend.LockBelt()
	st := e.backend.State()
	st.TotalCreated++
	pkg.ID = st.TotalCreated
	e.backend.UnlockBelt()

	return pkg
}

// DeliverVIP loads one freshly minted VIP package into the docked truck.
// Returns false when the delivery is dropped: no truck present, or the
// truck cannot take the package. A blocked truck is ordered to depart.
func (e *Express) DeliverVIP() bool {
	pkg := e.mintVIP()
	return e.loadDirect(&pkg)
}

// DeliverBatch delivers a burst of 3 to 5 randomized express packages,
// stopping at the first one that does not fit. Returns the number loaded.
func (e *Express) DeliverBatch() int {
	n := 3 + e.rng.Intn(3)
	e.log.Info("express batch starting", zap.Int("size", n))

	loaded := 0
	for i := 0; i < n; i++ {
		pkg := e.mintBatchItem()
		if !e.loadDirect(&pkg) {
			break
		}
		loaded++
	}

	e.log.Info("express batch done", zap.Int("loaded", loaded), zap.Int("size", n))
	return loaded
}

func (e *Express) loadDirect(pkg *state.Package) bool {
	e.backend.LockDock()

	st := e.backend.State()
	dock := &st.Dock
	if !dock.Present {
		e.backend.UnlockDock()
		e.log.Warn("no truck at dock, VIP package dropped", zap.Int64("id", pkg.ID))
		if e.metrics != nil {
			e.metrics.VIPRejected.Inc()
		}
		return false
	}

	fitQty := dock.CurrentLoad < dock.MaxLoad
	fitWeight := dock.CurrentWeight+pkg.Weight <= dock.MaxWeight
	fitVolume := dock.CurrentVolume+pkg.Volume <= dock.MaxVolume

	if fitQty && fitWeight && fitVolume {
		dock.CurrentLoad++
		dock.CurrentWeight += pkg.Weight
		dock.CurrentVolume += pkg.Volume
		pkg.Status |= flags.StatusLoaded
		pkg.PushAction(flags.ActionLoadedToTruck|flags.ActionByExpress, e.pid)

		target := dock.PID
		nowFull := dock.CurrentLoad >= dock.MaxLoad
		load := dock.CurrentLoad
		e.backend.UnlockDock()

		e.log.Info("VIP package loaded",
			zap.Int64("id", pkg.ID),
			zap.Int32("truck", target),
			zap.Int32("load", load))
		if e.metrics != nil {
			e.metrics.PackagesLoaded.Inc()
		}

		if nowFull {
			e.log.Info("truck filled by VIP load, sending departure", zap.Int32("truck", target))
			if err := e.backend.Send(target, state.CmdDeparture); err != nil {
				e.log.Error("departure signal failed", zap.Int32("truck", target), zap.Error(err))
			}
		}
		return true
	}

	target := dock.PID
	e.backend.UnlockDock()

	e.log.Warn("truck cannot take VIP package, dropped and departure sent",
		zap.Int64("id", pkg.ID),
		zap.Int32("truck", target))
	if err := e.backend.Send(target, state.CmdDeparture); err != nil {
		e.log.Error("departure signal failed", zap.Int32("truck", target), zap.Error(err))
	}
	if e.metrics != nil {
		e.metrics.VIPRejected.Inc()
	}
	return false
}
