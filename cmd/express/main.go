// Command warehouse-express runs the VIP delivery process. It sits on
// its mailbox and delivers a batch for every EXPRESS_LOAD order.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dockline/warehouse/internal/config"
	"github.com/dockline/warehouse/internal/express"
	"github.com/dockline/warehouse/internal/ipc"
	"github.com/dockline/warehouse/internal/logging"
	"github.com/dockline/warehouse/internal/session"
	"github.com/dockline/warehouse/internal/shared/flags"
	"github.com/dockline/warehouse/internal/shared/state"
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
	log = log.Named("express")

	backend, err := ipc.NewSysV(cfg.IPC, false, log)
	if err != nil {
		log.Fatal("IPC attach failed", zap.Error(err))
	}
	defer backend.Close()

	sessions := session.New(backend, log)
	if !sessions.Login("System-Express", flags.RoleSysAdmin, 0, 1) {
		log.Fatal("login rejected")
	}
	defer sessions.Logout()

	pid := int32(os.Getpid())

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigC
		if err := backend.Send(pid, state.CmdEndWork); err != nil {
			log.Warn("self end-of-work failed", zap.Error(err))
		}
	}()

	e := express.New(backend, cfg.Express, log)

	log.Info("waiting for express orders", zap.Int32("pid", pid))
	for backend.State().IsRunning() {
		switch cmd := backend.ReceiveBlocking(pid); cmd {
		case state.CmdExpressLoad:
			e.DeliverBatch()
		case state.CmdEndWork:
			log.Info("end of work received")
			return
		default:
			log.Warn("unexpected command", zap.Stringer("command", cmd))
		}
	}
}
