// Package truck implements the vehicle lifecycle: dock, wait for a
// departure order, drive, return.
package truck

import (
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dockline/warehouse/internal/config"
	"github.com/dockline/warehouse/internal/ipc"
	"github.com/dockline/warehouse/internal/logging"
	"github.com/dockline/warehouse/internal/monitoring"
	"github.com/dockline/warehouse/internal/shared/state"
)

// Truck cycles between the dock and transit. While docked it owns the
// dock descriptor and is addressed through its mailbox; departure is
// always ordered externally, the truck never decides to leave on its own.
type Truck struct {
	backend ipc.Backend
	cfg     config.TruckConfig
	log     *logging.Logger
	metrics *monitoring.Metrics
	pid     int32
	rng     *rand.Rand
}

// New creates a truck identified by this process's PID.
func New(backend ipc.Backend, cfg config.TruckConfig, log *logging.Logger) *Truck {
	return &Truck{
		backend: backend,
		cfg:     cfg,
		log:     log,
		pid:     int32(os.Getpid()),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(os.Getpid()))),
	}
}

// WithMetrics adds metrics tracking to the truck.
func (t *Truck) WithMetrics(m *monitoring.Metrics) *Truck {
	t.metrics = m
	return t
}

// WithPID overrides the truck identity. Tests drive several trucks from
// one process with this.
func (t *Truck) WithPID(pid int32) *Truck {
	t.pid = pid
	return t
}

// Run executes dock-and-depart cycles until END_WORK arrives or the run
// flag clears. The dock is released on the way out if still held.
func (t *Truck) Run() {
	defer t.releaseDock()

	for t.backend.State().IsRunning() {
		if !t.seekDock() {
			return
		}

		departed := false
		for !departed {
			switch cmd := t.backend.ReceiveBlocking(t.pid); cmd {
			case state.CmdEndWork:
				t.log.Info("end of work received at dock")
				return
			case state.CmdDeparture:
				departed = t.depart()
			default:
				t.log.Warn("unexpected command at dock", zap.Stringer("command", cmd))
			}
		}

		t.transit()
	}
}

// seekDock occupies the dock, polling while another vehicle holds it.
// Weight and volume limits are rolled fresh for every visit.
func (t *Truck) seekDock() bool {
	for t.backend.State().IsRunning() {
		t.backend.LockDock()

		dock := &t.backend.State().Dock
		if dock.Present {
			holder := dock.PID
			t.backend.UnlockDock()
			t.log.Debug("dock occupied, waiting", zap.Int32("holder", holder))
			time.Sleep(t.cfg.DockRetry)
			continue
		}

		*dock = state.TruckState{}
		dock.Present = true
		dock.PID = t.pid
		dock.Plate = [16]byte(uuid.New())
		dock.MaxLoad = int32(t.cfg.MaxLoad)
		dock.MaxWeight = t.cfg.MinWeight + t.rng.Float64()*(t.cfg.MaxWeight-t.cfg.MinWeight)
		dock.MaxVolume = t.cfg.MinVolume + t.rng.Float64()*(t.cfg.MaxVolume-t.cfg.MinVolume)

		plate := uuid.UUID(dock.Plate).String()
		maxW, maxV := dock.MaxWeight, dock.MaxVolume
		t.backend.UnlockDock()

		t.log.Info("docked",
			zap.String("plate", plate),
			zap.Int("max_load", t.cfg.MaxLoad),
			zap.Float64("max_weight", maxW),
			zap.Float64("max_volume", maxV))
		if t.metrics != nil {
			t.metrics.SetDockOccupied(true)
		}
		return true
	}
	return false
}

// depart vacates the dock and counts the trip. The occupant is
// re-verified under the lock: a departure order that arrives after the
// dock changed hands must not release someone else's hold.
func (t *Truck) depart() bool {
	t.backend.LockDock()

	dock := &t.backend.State().Dock
	if !dock.Present || dock.PID != t.pid {
		holder := dock.PID
		t.backend.UnlockDock()
		t.log.Error("departure order for a dock this truck does not hold",
			zap.Int32("holder", holder))
		return false
	}

	load, weight, volume := dock.CurrentLoad, dock.CurrentWeight, dock.CurrentVolume
	dock.Present = false
	t.backend.State().TrucksDeparted++
	t.backend.UnlockDock()

	t.log.Info("departing",
		zap.Int32("load", load),
		zap.Float64("weight", weight),
		zap.Float64("volume", volume))
	if t.metrics != nil {
		t.metrics.TrucksDeparted.Inc()
		t.metrics.SetDockOccupied(false)
	}
	return true
}

// transit simulates the delivery round trip.
func (t *Truck) transit() {
	span := t.cfg.TransitMax - t.cfg.TransitMin
	d := t.cfg.TransitMin
	if span > 0 {
		d += time.Duration(t.rng.Int63n(int64(span)))
	}
	t.log.Info("in transit", zap.Duration("duration", d))
	time.Sleep(d)
}

// releaseDock clears the dock if this truck still holds it, so a
// shutdown mid-dock does not strand a phantom vehicle.
func (t *Truck) releaseDock() {
	t.backend.LockDock()
	defer t.backend.UnlockDock()

	dock := &t.backend.State().Dock
	if dock.Present && dock.PID == t.pid {
		dock.Present = false
		t.log.Info("released dock on shutdown")
		if t.metrics != nil {
			t.metrics.SetDockOccupied(false)
		}
	}
}
