// Package shell implements the kernel's "null process" — the command-line
// read-print loop kacchiOS runs once boot completes. It is not a real
// scheduled process (the spec's process table has no slot for it); it is
// the host program's own control thread, styled after the teacher's
// supervised-process lifecycle (Start → Ready → Done → Close).
package shell

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/davecgh/go-spew/spew"
	"go.uber.org/zap"

	"github.com/kacchi-os/kernel/internal/kernel/console"
	"github.com/kacchi-os/kernel/internal/kernel/memory"
	"github.com/kacchi-os/kernel/internal/kernel/processmgr"
)

const maxInputLine = 128

// Kernel is the narrow set of subsystems the shell dispatches commands to.
type Kernel struct {
	Memory    *memory.Allocator
	Processes *processmgr.Manager
	Scheduler *processmgr.Scheduler
	Events    *processmgr.EventLog
}

// Shell is the null-process REPL. Its lifecycle mirrors the teacher's
// supervised-process type: Start() launches the read loop in a goroutine,
// Ready() fires once the prompt has been written at least once, Done()
// fires when the read loop exits: at the end of the input stream, or, after
// Close(), once the pending line read returns.
type Shell struct {
	log     *zap.Logger
	console *console.Console
	kernel  Kernel

	started atomic.Bool

	ready     chan struct{}
	readyOnce sync.Once

	done      chan struct{}
	doneOnce  sync.Once
	startOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a shell over console, dispatching commands against kernel.
func New(log *zap.Logger, con *console.Console, kernel Kernel) *Shell {
	ctx, cancel := context.WithCancel(context.Background())
	return &Shell{
		log:     log.Named("shell"),
		console: con,
		kernel:  kernel,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the read-print loop exactly once.
func (s *Shell) Start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.loop()
	})
}

// Ready fires after the first prompt is printed.
func (s *Shell) Ready() <-chan struct{} { return s.ready }

// Done fires once the shell's input loop exits (EOF, or Close was called).
func (s *Shell) Done() <-chan struct{} { return s.done }

// Close requests the shell stop reading further input. Idempotent.
func (s *Shell) Close() {
	s.doneOnce.Do(func() {
		s.cancel()
	})
}

func (s *Shell) loop() {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.console.PutString("kacchiOS> ")
		s.readyOnce.Do(func() { close(s.ready) })

		line, err := s.readLine()
		if err != nil {
			s.log.Info("shell input stream closed", zap.Error(err))
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s.dispatch(line)
	}
}

// readLine echoes typed characters and handles backspace, matching the
// line-editing behavior of kacchiOS's original serial command loop.
func (s *Shell) readLine() (string, error) {
	var sb strings.Builder
	for sb.Len() < maxInputLine-1 {
		b, err := s.console.GetByte()
		if err != nil {
			return "", err
		}
		switch {
		case b == '\r' || b == '\n':
			s.console.PutString("\n")
			return sb.String(), nil
		case (b == '\b' || b == 0x7F) && sb.Len() > 0:
			trimmed := sb.String()[:sb.Len()-1]
			sb.Reset()
			sb.WriteString(trimmed)
			s.console.PutString("\b \b")
		case b >= 32 && b < 127:
			sb.WriteByte(b)
			s.console.PutByte(b)
		}
	}
	return sb.String(), nil
}

func (s *Shell) dispatch(line string) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "ps":
		s.kernel.Processes.PrintTable(s.console.Writer())
	case "mem":
		s.kernel.Memory.PrintStatus(s.console.Writer())
	case "sched":
		s.kernel.Scheduler.PrintStatus(s.console.Writer())
		s.console.PutString("Running 5 scheduler ticks...\n")
		s.runTicks(5)
	case "tick":
		n := 1
		if len(args) > 0 {
			if v, err := strconv.Atoi(args[0]); err == nil && v > 0 {
				n = v
			}
		}
		s.runTicks(n)
	case "age":
		s.kernel.Scheduler.ApplyAging()
		s.console.PutString("Aging pass applied.\n")
	case "dmesg":
		s.printEvents()
	case "dump":
		s.dumpPCB(args)
	case "create":
		priority := uint32(2)
		if len(args) > 0 {
			if v, err := strconv.ParseUint(args[0], 10, 32); err == nil {
				priority = uint32(v)
			}
		}
		now := s.kernel.Scheduler.CurrentTime()
		pid, ok := s.kernel.Processes.Create(priority, 4096, 8192, now)
		if !ok {
			s.console.PutString("Process creation failed.\n")
			return
		}
		s.console.PutString("Created new process with PID: ")
		s.console.PutDecimal(pid)
		s.console.PutString("\n")
		s.kernel.Processes.PrintTable(s.console.Writer())
	case "terminate":
		if len(args) == 0 {
			s.console.PutString("usage: terminate <pid>\n")
			return
		}
		pid, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			s.console.PutString("invalid pid\n")
			return
		}
		s.kernel.Processes.Terminate(uint32(pid))
		s.console.PutString("Terminated.\n")
	case "help":
		s.printHelp()
	default:
		s.console.PutString("Unknown command: " + line + "\nType 'help' for available commands.\n")
	}
}

func (s *Shell) runTicks(n int) {
	for i := 0; i < n; i++ {
		s.kernel.Scheduler.UpdateTime()
		s.console.PutString(fmt.Sprintf("[tick %d] current PID: %d\n", i, s.kernel.Scheduler.CurrentPID()))
	}
}

// dumpPCB spews the full field-by-field layout of one process's control
// block — the operator's escape hatch when "ps" summary rows aren't enough.
func (s *Shell) dumpPCB(args []string) {
	if len(args) == 0 {
		s.console.PutString("usage: dump <pid>\n")
		return
	}
	pid, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		s.console.PutString("invalid pid\n")
		return
	}
	pcb, ok := s.kernel.Processes.GetPCB(uint32(pid))
	if !ok {
		s.console.PutString("no such process\n")
		return
	}
	s.console.PutString(spew.Sdump(pcb))
}

func (s *Shell) printEvents() {
	lines := s.kernel.Events.Read(20)
	s.console.PutString("\n=== Kernel Event Log (newest first) ===\n")
	for _, l := range lines {
		s.console.PutString(l + "\n")
	}
	s.console.PutString("\n")
}

func (s *Shell) printHelp() {
	s.console.PutString("\n=== kacchiOS Commands ===\n")
	s.console.PutString("ps        - Show process table\n")
	s.console.PutString("mem       - Show memory status\n")
	s.console.PutString("sched     - Show scheduler status & run 5 ticks\n")
	s.console.PutString("tick [n]  - Advance the virtual clock by n ticks (default 1)\n")
	s.console.PutString("age       - Apply the aging pass (not automatic)\n")
	s.console.PutString("dmesg     - Show recent kernel events\n")
	s.console.PutString("dump <pid> - Full field dump of one process's control block\n")
	s.console.PutString("create [priority] - Create a new process\n")
	s.console.PutString("terminate <pid>   - Terminate a process\n")
	s.console.PutString("help      - Show this help message\n\n")
}
