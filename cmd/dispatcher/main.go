// Command warehouse-dispatcher runs the belt consumer.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/dockline/warehouse/internal/belt"
	"github.com/dockline/warehouse/internal/config"
	"github.com/dockline/warehouse/internal/dispatch"
	"github.com/dockline/warehouse/internal/ipc"
	"github.com/dockline/warehouse/internal/logging"
	"github.com/dockline/warehouse/internal/session"
	"github.com/dockline/warehouse/internal/shared/flags"
)

func main() {
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
	log = log.Named("dispatcher")

	backend, err := ipc.NewSysV(cfg.IPC, false, log)
	if err != nil {
		log.Fatal("IPC attach failed", zap.Error(err))
	}
	defer backend.Close()

	sessions := session.New(backend, log)
	if !sessions.Login("System-Dispatcher", flags.RoleSysAdmin, 0, 1) {
		log.Fatal("login rejected")
	}
	defer sessions.Logout()

	b := belt.New(backend, log)
	dispatch.New(b, backend, cfg.Dispatcher, log).Run()
}
