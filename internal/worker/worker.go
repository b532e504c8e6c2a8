// Package worker implements the producer process that mints packages and
// pushes them onto the belt.
package worker

import (
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dockline/warehouse/internal/belt"
	"github.com/dockline/warehouse/internal/config"
	"github.com/dockline/warehouse/internal/ipc"
	"github.com/dockline/warehouse/internal/logging"
	"github.com/dockline/warehouse/internal/session"
	"github.com/dockline/warehouse/internal/shared/flags"
	"github.com/dockline/warehouse/internal/shared/state"
)

// Weight bands per package kind, kilograms.
const (
	smallWeightMin  = 0.1
	smallWeightMax  = 8.0
	mediumWeightMax = 16.0
	largeWeightMax  = 25.0
)

// Worker produces packages in a paced loop. Each produced package counts
// against the session's sub-process quota while it is being made.
type Worker struct {
	belt     *belt.Belt
	sessions *session.Manager
	backend  ipc.Backend
	cfg      config.WorkerConfig
	log      *logging.Logger
	id       int
	pid      int32
	stopped  atomic.Bool
	rng      *rand.Rand
}

// New creates a worker with the given fleet index.
func New(b *belt.Belt, sessions *session.Manager, backend ipc.Backend, id int, cfg config.WorkerConfig, log *logging.Logger) *Worker {
	return &Worker{
		belt:     b,
		sessions: sessions,
		backend:  backend,
		cfg:      cfg,
		log:      log,
		id:       id,
		pid:      int32(os.Getpid()),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(os.Getpid()) ^ int64(id))),
	}
}

// Run produces packages until the run flag clears or Stop is called.
func (w *Worker) Run() error {
	if !w.belt.RegisterWorker() {
		return fmt.Errorf("worker %d: producer cap reached", w.id)
	}
	defer w.belt.UnregisterWorker()

	w.log.Info("producing", zap.Int("worker", w.id))

	for w.backend.State().IsRunning() && !w.stopped.Load() {
		if !w.sessions.TrySpawnProcess() {
			w.log.Debug("quota exhausted, backing off", zap.Int("worker", w.id))
			time.Sleep(w.cfg.QuotaRetry)
			continue
		}

		pkg := w.randomPackage()
		w.belt.Push(&pkg)
		w.sessions.ReportProcessFinished()

		// More registered producers, slower each one runs.
		time.Sleep(w.cfg.ProduceDelay * time.Duration(w.belt.WorkerCount()))
	}

	w.log.Info("worker stopped", zap.Int("worker", w.id))
	return nil
}

// Stop makes Run return after the current package.
func (w *Worker) Stop() {
	w.stopped.Store(true)
}

// randomPackage mints an unidentified package: kind rolled uniformly,
// weight drawn from the kind's band, volume fixed by kind. The belt
// assigns the ID on push.
func (w *Worker) randomPackage() state.Package {
	var kind flags.Kind
	var weight float64

	switch w.rng.Intn(3) {
	case 0:
		kind = flags.KindSmall
		weight = smallWeightMin + w.rng.Float64()*(smallWeightMax-smallWeightMin)
	case 1:
		kind = flags.KindMedium
		weight = smallWeightMax + w.rng.Float64()*(mediumWeightMax-smallWeightMax)
	default:
		kind = flags.KindLarge
		weight = mediumWeightMax + w.rng.Float64()*(largeWeightMax-mediumWeightMax)
	}

	pkg := state.Package{
		CreatorPID: w.pid,
		Kind:       kind,
		Weight:     weight,
		Volume:     state.VolumeFor(kind),
		CreatedAt:  time.Now().Unix(),
	}
	pkg.PushAction(flags.ActionCreated|flags.ActionByWorker, w.pid)
	return pkg
}
