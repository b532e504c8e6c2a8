// Command warehouse-worker runs one producer process.
package main

import (
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/dockline/warehouse/internal/belt"
	"github.com/dockline/warehouse/internal/config"
	"github.com/dockline/warehouse/internal/ipc"
	"github.com/dockline/warehouse/internal/logging"
	"github.com/dockline/warehouse/internal/session"
	"github.com/dockline/warehouse/internal/shared/flags"
	"github.com/dockline/warehouse/internal/worker"
)

const workerQuota = 10

func main() {
	cfg := config.LoadOrDefault()

	id := 1
	if v := os.Getenv("WH_WORKER_ID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			id = n
		}
	}

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
	log = log.Named(fmt.Sprintf("worker-%d", id))

	backend, err := ipc.NewSysV(cfg.IPC, false, log)
	if err != nil {
		log.Fatal("IPC attach failed", zap.Error(err))
	}
	defer backend.Close()

	sessions := session.New(backend, log)
	name := fmt.Sprintf("Worker_%d", id)
	if !sessions.Login(name, flags.RoleOperator, 1, workerQuota) {
		log.Fatal("login rejected", zap.String("user", name))
	}
	defer sessions.Logout()

	b := belt.New(backend, log).WithWorkerCap(cfg.Worker.Cap)
	w := worker.New(b, sessions, backend, id, cfg.Worker, log)
	if err := w.Run(); err != nil {
		log.Error("worker finished with error", zap.Error(err))
	}
}
