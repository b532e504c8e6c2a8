// Command master owns the simulation: it creates the IPC resources,
// spawns the fleet, reports status, and tears everything down.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dockline/warehouse/internal/config"
	"github.com/dockline/warehouse/internal/ipc"
	"github.com/dockline/warehouse/internal/logging"
	"github.com/dockline/warehouse/internal/monitoring"
	"github.com/dockline/warehouse/internal/shared/state"
)

const statusInterval = time.Second

type child struct {
	name string
	cmd  *exec.Cmd
}

func main() {
	planPath := flag.String("plan", "", "fleet plan YAML (default: built-in plan)")
	flag.Parse()

	cfg := config.LoadOrDefault()

	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log = log.Named("master")

	plan := config.DefaultPlan()
	if *planPath != "" {
		plan, err = config.LoadPlan(*planPath)
		if err != nil {
			log.Fatal("fleet plan rejected", zap.Error(err))
		}
	}

	runID := uuid.New().String()
	log.Info("simulation starting",
		zap.String("run_id", runID),
		zap.Int("workers", plan.Workers),
		zap.Int("trucks", plan.Trucks),
		zap.Bool("dispatcher", plan.Dispatcher),
		zap.Bool("express", plan.Express))

	backend, err := ipc.NewSysV(cfg.IPC, true, log)
	if err != nil {
		log.Fatal("IPC setup failed", zap.Error(err))
	}

	var metrics *monitoring.Metrics
	if cfg.Metrics.Addr != "" {
		metrics = monitoring.New(prometheus.DefaultRegisterer)
		go func() {
			log.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
			if err := http.ListenAndServe(cfg.Metrics.Addr, promhttp.Handler()); err != nil {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	children, err := spawnFleet(plan, log)
	if err != nil {
		log.Error("fleet startup failed, shutting down", zap.Error(err))
		stopFleet(backend, children, log)
		if cerr := backend.Close(); cerr != nil {
			log.Warn("IPC teardown incomplete", zap.Error(cerr))
		}
		os.Exit(1)
	}

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	st := backend.State()
loop:
	for {
		select {
		case sig := <-sigC:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
			break loop
		case <-ticker.C:
			log.Info("status",
				zap.Int32("belt", st.Count),
				zap.Float64("belt_weight", st.TotalWeight),
				zap.Int32("workers", st.ActiveWorkers),
				zap.Int64("created", st.TotalCreated),
				zap.Int64("departed", st.TrucksDeparted),
				zap.Bool("dock_occupied", st.Dock.Present))
			if metrics != nil {
				metrics.RecordBelt(int(st.Count), st.TotalWeight)
				metrics.ActiveWorkers.Set(float64(st.ActiveWorkers))
				metrics.SetDockOccupied(st.Dock.Present)
			}
		}
	}

	stopFleet(backend, children, log)

	log.Info("simulation finished",
		zap.String("run_id", runID),
		zap.Int64("packages_created", st.TotalCreated),
		zap.Int64("trucks_departed", st.TrucksDeparted))

	if err := backend.Close(); err != nil {
		log.Warn("IPC teardown incomplete", zap.Error(err))
	}
}

// spawnFleet launches every process the plan asks for. Children inherit
// the master's environment, so the whole fleet shares one IPC key set.
func spawnFleet(plan *config.FleetPlan, log *logging.Logger) ([]child, error) {
	var children []child

	start := func(name string, extraEnv ...string) error {
		cmd := exec.Command(filepath.Join(plan.BinDir, name))
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = append(os.Environ(), extraEnv...)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
		log.Info("process started", zap.String("name", name), zap.Int("pid", cmd.Process.Pid))
		children = append(children, child{name: name, cmd: cmd})
		return nil
	}

	if plan.Dispatcher {
		if err := start("warehouse-dispatcher"); err != nil {
			return children, err
		}
	}
	for i := 0; i < plan.Trucks; i++ {
		if err := start("warehouse-truck", fmt.Sprintf("WH_TRUCK_ID=%d", i+1)); err != nil {
			return children, err
		}
	}
	if plan.Express {
		if err := start("warehouse-express"); err != nil {
			return children, err
		}
	}
	for i := 0; i < plan.Workers; i++ {
		if err := start("warehouse-worker", fmt.Sprintf("WH_WORKER_ID=%d", i+1)); err != nil {
			return children, err
		}
	}

	return children, nil
}

// stopFleet clears the run flag, wakes every parked mailbox receiver with
// END_WORK, and reaps the children.
func stopFleet(backend ipc.Backend, children []child, log *logging.Logger) {
	backend.State().SetRunning(false)

	// Wake consumers parked on an empty belt and producers parked on a
	// full one so they can observe the cleared run flag. A spurious grant
	// trips the belt's defensive re-check, which tolerates it.
	for range children {
		backend.SignalFull()
		backend.SignalSlotFreed()
	}

	for _, c := range children {
		pid := int32(c.cmd.Process.Pid)
		if err := backend.Send(pid, state.CmdEndWork); err != nil {
			log.Warn("end-of-work signal failed",
				zap.String("name", c.name),
				zap.Int32("pid", pid),
				zap.Error(err))
		}
	}

	for _, c := range children {
		if err := c.cmd.Wait(); err != nil {
			log.Warn("process exited with error",
				zap.String("name", c.name),
				zap.Error(err))
			continue
		}
		log.Info("process exited", zap.String("name", c.name))
	}
}
