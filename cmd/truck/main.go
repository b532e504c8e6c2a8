// Command warehouse-truck runs one vehicle process.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/dockline/warehouse/internal/config"
	"github.com/dockline/warehouse/internal/ipc"
	"github.com/dockline/warehouse/internal/logging"
	"github.com/dockline/warehouse/internal/session"
	"github.com/dockline/warehouse/internal/shared/flags"
	"github.com/dockline/warehouse/internal/shared/state"
	"github.com/dockline/warehouse/internal/truck"
)

func main() {
	cfg := config.LoadOrDefault()

	id := 1
	if v := os.Getenv("WH_TRUCK_ID"); v != "" {
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
	log = log.Named(fmt.Sprintf("truck-%d", id))

	backend, err := ipc.NewSysV(cfg.IPC, false, log)
	if err != nil {
		log.Fatal("IPC attach failed", zap.Error(err))
	}
	defer backend.Close()

	sessions := session.New(backend, log)
	name := fmt.Sprintf("Truck_%d", id)
	if !sessions.Login(name, flags.RoleOperator, 2, 1) {
		log.Fatal("login rejected", zap.String("user", name))
	}
	defer sessions.Logout()

	// A direct signal converts to a self-addressed END_WORK so the
	// mailbox wait unblocks.
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigC
		if err := backend.Send(int32(os.Getpid()), state.CmdEndWork); err != nil {
			log.Warn("self end-of-work failed", zap.Error(err))
		}
	}()

	truck.New(backend, cfg.Truck, log).Run()
}
