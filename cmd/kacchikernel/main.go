// Command kacchikernel boots the hosted kacchiOS simulator: memory
// allocator, process manager, scheduler, a demo workload matching the
// original firmware's boot sequence, and three concurrent front ends —
// the serial-style shell on stdio, the virtual-clock tick driver, and the
// debug HTTP API — coordinated with golang.org/x/sync/errgroup so any one
// of them exiting tears down the other two.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/kacchi-os/kernel/internal/debugapi"
	"github.com/kacchi-os/kernel/internal/debugapi/middleware"
	"github.com/kacchi-os/kernel/internal/kernel/config"
	"github.com/kacchi-os/kernel/internal/kernel/console"
	"github.com/kacchi-os/kernel/internal/kernel/driver"
	"github.com/kacchi-os/kernel/internal/kernel/memory"
	"github.com/kacchi-os/kernel/internal/kernel/processmgr"
	"github.com/kacchi-os/kernel/internal/kernel/shell"
	"github.com/kacchi-os/kernel/internal/sessionstore"
	"github.com/kacchi-os/kernel/pkg/fmtt"
)

func main() {
	log := buildLogger()
	defer log.Sync()
	log = log.Named("main")

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	klog := processmgr.NewEventLog()
	alloc := memory.New(log, cfg.HeapStart, cfg.HeapSize)
	procs := processmgr.NewManager(log, alloc, klog)
	sched := processmgr.NewScheduler(log, procs, klog)
	sched.Init(cfg.Algorithm, cfg.QuantumTicks)

	con := console.New(os.Stdout, os.Stdin)

	printBootBanner(con)
	runDemoWorkload(con, procs, sched)

	sh := shell.New(log, con, shell.Kernel{
		Memory:    alloc,
		Processes: procs,
		Scheduler: sched,
		Events:    klog,
	})

	tickDriver := driver.New(log, sched, cfg.TickInterval, cfg.AgingEveryTick)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return tickDriver.Run(gctx)
	})

	g.Go(func() error {
		sh.Start()
		select {
		case <-sh.Done():
			stop() // shell exit (EOF on stdin) ends the whole program
			return nil
		case <-gctx.Done():
			sh.Close()
			return nil
		}
	})

	if cfg.DebugAPIEnabled {
		sessionSecret := []byte(envOrDefault("KACCHI_SESSION_SECRET", "kacchi-dev-session-secret-change-me"))
		store := sessionstore.New(log, cfg.RedisAddr, sessionSecret)
		creds := middleware.CredentialsFromEnv()

		srv := debugapi.NewServer(log, cfg.DebugAPIAddr, debugapi.Kernel{
			Memory:    alloc,
			Processes: procs,
			Scheduler: sched,
			Events:    klog,
			Driver:    tickDriver,
		}, store, creds)

		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Warn("kacchikernel exited with error", zap.Error(err))
		fmtt.PrintErrChain(err)
	}
	log.Info("kacchikernel shutdown complete")
}

func printBootBanner(con *console.Console) {
	con.PutString("\n")
	con.PutString("========================================\n")
	con.PutString("    kacchiOS - Minimal Baremetal OS\n")
	con.PutString("========================================\n")
	con.PutString("Hello from kacchiOS!\n")
	con.PutString("Running null process...\n\n")
}

// runDemoWorkload reproduces the original firmware's boot demo: ten
// processes at a small spread of priorities, then a handful of scheduler
// ticks to show rotation, before handing control to the interactive shell.
func runDemoWorkload(con *console.Console, procs *processmgr.Manager, sched *processmgr.Scheduler) {
	pids := make([]uint32, 10)
	for i := range pids {
		priority := uint32(i%4) + 1
		pid, ok := procs.Create(priority, 4096, 8192, sched.CurrentTime())
		if !ok {
			con.PutString("demo workload: process creation failed\n")
			return
		}
		pids[i] = pid
	}

	con.PutString("Created 10 processes: ")
	for i, pid := range pids {
		con.PutDecimal(pid)
		if i != len(pids)-1 {
			con.PutString(", ")
		}
	}
	con.PutString("\n")

	for tick := 0; tick < 12; tick++ {
		sched.UpdateTime()
		con.PutString(fmt.Sprintf("[tick %d] current PID: %d\n", tick, sched.CurrentPID()))
	}

	procs.PrintTable(con.Writer())
}

func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	return zap.Must(logConfig.Build())
}
