// Package dispatch implements the consumer that drains the belt into the
// docked truck.
package dispatch

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/dockline/warehouse/internal/belt"
	"github.com/dockline/warehouse/internal/config"
	"github.com/dockline/warehouse/internal/ipc"
	"github.com/dockline/warehouse/internal/logging"
	"github.com/dockline/warehouse/internal/monitoring"
	"github.com/dockline/warehouse/internal/shared/flags"
	"github.com/dockline/warehouse/internal/shared/state"
)

// Dispatcher pops packages off the belt and loads them into whichever
// truck occupies the dock, enforcing weight and volume limits. A package
// that has been popped is never dropped: the load-retry loop holds it
// until a truck takes it or the system stops.
type Dispatcher struct {
	belt    *belt.Belt
	backend ipc.Backend
	log     *logging.Logger
	metrics *monitoring.Metrics
	cfg     config.DispatcherConfig
}

// New creates a dispatcher.
func New(b *belt.Belt, backend ipc.Backend, cfg config.DispatcherConfig, log *logging.Logger) *Dispatcher {
	return &Dispatcher{
		belt:    b,
		backend: backend,
		log:     log,
		cfg:     cfg,
	}
}

// WithMetrics adds metrics tracking to the dispatcher.
func (d *Dispatcher) WithMetrics(m *monitoring.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// Run processes packages until the global run flag clears.
func (d *Dispatcher) Run() {
	d.log.Info("ready to route packages")
	for d.backend.State().IsRunning() {
		d.ProcessNext()
	}
	d.log.Info("dispatcher stopped")
}

// ProcessNext pops one package and loads it. Returns false for the
// "no package" sentinel, which distinguishes an idle belt from real work
// while the run flag is polled.
func (d *Dispatcher) ProcessNext() bool {
	pkg := d.belt.Pop()
	if pkg.ID == 0 {
		time.Sleep(d.cfg.IdleDelay)
		return false
	}
	pkg.PushAction(flags.ActionPickedUp, int32(os.Getpid()))
	d.load(&pkg)
	return true
}

// load places pkg into the docked truck, retrying until it fits somewhere
// or the system stops. The package stays in memory across retries.
func (d *Dispatcher) load(pkg *state.Package) {
	st := d.backend.State()

	for st.IsRunning() {
		d.backend.LockDock()

		dock := &st.Dock
		if !dock.Present {
			d.backend.UnlockDock()
			d.log.Warn("no truck at dock, package waiting", zap.Int64("id", pkg.ID))
			time.Sleep(d.cfg.RetryDelay)
			continue
		}

		overWeight := dock.CurrentWeight+pkg.Weight > dock.MaxWeight
		overVolume := dock.CurrentVolume+pkg.Volume > dock.MaxVolume

		if !overWeight && !overVolume {
			dock.CurrentLoad++
			dock.CurrentWeight += pkg.Weight
			dock.CurrentVolume += pkg.Volume
			pkg.Status |= flags.StatusLoaded
			pkg.PushAction(flags.ActionLoadedToTruck, int32(os.Getpid()))

			target := dock.PID
			full := dock.CurrentLoad >= dock.MaxLoad ||
				dock.CurrentWeight >= d.cfg.NearFullThreshold*dock.MaxWeight ||
				dock.CurrentVolume >= d.cfg.NearFullThreshold*dock.MaxVolume

			load, maxLoad := dock.CurrentLoad, dock.MaxLoad
			d.backend.UnlockDock()

			d.log.Info("loaded package into truck",
				zap.Int64("id", pkg.ID),
				zap.Int32("truck", target),
				zap.Int32("load", load),
				zap.Int32("max_load", maxLoad))
			if d.metrics != nil {
				d.metrics.PackagesLoaded.Inc()
			}

			if full {
				d.log.Info("truck near capacity, sending departure", zap.Int32("truck", target))
				if err := d.backend.Send(target, state.CmdDeparture); err != nil {
					d.log.Error("departure signal failed", zap.Int32("truck", target), zap.Error(err))
				}
			}
			return
		}

		target := dock.PID
		d.backend.UnlockDock()

		d.log.Warn("truck cannot take package, forcing departure",
			zap.Int64("id", pkg.ID),
			zap.Int32("truck", target),
			zap.String("limit", limitReason(overWeight, overVolume)))
		if err := d.backend.Send(target, state.CmdDeparture); err != nil {
			d.log.Error("departure signal failed", zap.Int32("truck", target), zap.Error(err))
		}
		if d.metrics != nil {
			d.metrics.DispatchRetries.Inc()
		}
		time.Sleep(d.cfg.RetryDelay)
	}

	d.log.Warn("shutdown with undelivered package", zap.Int64("id", pkg.ID))
}

// limitReason names which limit blocked a load, for the logs only.
func limitReason(overWeight, overVolume bool) string {
	switch {
	case overWeight && overVolume:
		return "both"
	case overWeight:
		return "weight"
	default:
		return "volume"
	}
}
