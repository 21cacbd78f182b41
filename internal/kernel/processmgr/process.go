// Package processmgr implements the process manager and scheduler — the
// two kernel components that share a process table. They live in one
// package (as the teacher's own processmgr package does) so the scheduler
// can mutate PCB state/wait-time fields through the table's own mutex
// instead of reaching across a package boundary with a second lock.
package processmgr

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kacchi-os/kernel/internal/kernel/memory"
)

// MaxProcesses bounds the process table's capacity (spec: MAX_PROCESSES).
const MaxProcesses = 256

// State is a PCB's lifecycle state.
type State int

const (
	Terminated State = iota
	Ready
	Current
)

func (s State) String() string {
	switch s {
	case Current:
		return "CURRENT"
	case Ready:
		return "READY"
	default:
		return "TERM."
	}
}

// Context is a placeholder CPU register record. The design mandates the
// fields exist on the PCB; it does not require faithful save/restore —
// there is no real CPU here to save registers from.
type Context struct {
	GeneralRegs [8]uint64
	StackPtr    uint64
	BasePtr     uint64
	InstrPtr    uint64
	Flags       uint64
}

// PCB is one process control block.
type PCB struct {
	ProcessID    uint32
	State        State
	Priority     uint32
	StackBase    uint64
	StackSize    uint64
	HeapBase     uint64
	HeapSize     uint64
	Context      Context
	CreationTime uint32
	WaitTime     uint32
}

// Allocator is the narrow dependency the process manager needs from
// internal/kernel/memory — it never sees anything else the allocator does.
type Allocator interface {
	Allocate(size uint64, owner uint32) (memory.Region, bool)
	FreeOwner(owner uint32)
}

// Manager owns the process table exclusively. PIDs double as table indices:
// because they're assigned strictly increasing from 1, never reused, and
// PCBs are appended in creation order, slot index == PID for every
// non-idle process. That gives O(1) lookup without an extra map.
type Manager struct {
	mu   sync.RWMutex
	log  *zap.Logger
	alloc Allocator
	klog *EventLog

	processes     [MaxProcesses]PCB
	processCount  uint32
	nextProcessID uint32
}

// NewManager builds a process manager backed by alloc. klog may be nil.
func NewManager(log *zap.Logger, alloc Allocator, klog *EventLog) *Manager {
	m := &Manager{
		log:   log.Named("process"),
		alloc: alloc,
		klog:  klog,
	}
	m.Init()
	return m
}

// Init installs the idle PCB (PID 0) in slot 0 and resets bookkeeping.
func (m *Manager) Init() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.processes = [MaxProcesses]PCB{}
	m.processes[0] = PCB{
		ProcessID: 0,
		State:     Current,
		Priority:  0,
		StackBase: 0x20000,
		StackSize: 0x1000,
		HeapBase:  0x21000,
		HeapSize:  0x2000,
	}
	m.processCount = 1
	m.nextProcessID = 1

	m.log.Info("process manager initialized")
	m.note("process manager initialized")
}

// Create allocates a stack and heap region tagged with a new PID, installs
// a Ready PCB, and returns the PID. now is the caller-supplied virtual-clock
// reading (see SPEC_FULL.md's open-question resolution): the manager never
// calls the scheduler, so whoever holds both passes the current tick in.
//
// Returns (0, false) on table-full or either allocation failing. On a
// stack-then-heap allocation where only the heap fails, the stack region
// is left orphaned — this is the documented imperfection spec.md §9 calls
// out, kept faithfully rather than silently patched.
func (m *Manager) Create(priority uint32, stackSize, heapSize uint64, now uint32) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.processCount >= MaxProcesses {
		m.log.Warn("process table full")
		m.note("process creation failed: table full")
		return 0, false
	}

	pid := m.nextProcessID

	stackReg, ok := m.alloc.Allocate(stackSize, pid)
	if !ok {
		m.log.Warn("failed to allocate stack for process", zap.Uint32("pid", pid))
		m.note(fmt.Sprintf("process creation failed: stack allocation for pid %d", pid))
		return 0, false
	}
	heapReg, ok := m.alloc.Allocate(heapSize, pid)
	if !ok {
		m.log.Warn("failed to allocate heap for process", zap.Uint32("pid", pid))
		m.note(fmt.Sprintf("process creation failed: heap allocation for pid %d", pid))
		return 0, false
	}

	pcb := PCB{
		ProcessID:    pid,
		State:        Ready,
		Priority:     priority,
		StackBase:    stackReg.Base,
		StackSize:    stackReg.Size,
		HeapBase:     heapReg.Base,
		HeapSize:     heapReg.Size,
		CreationTime: now,
	}
	pcb.Context.StackPtr = pcb.StackBase + pcb.StackSize
	pcb.Context.BasePtr = pcb.Context.StackPtr
	pcb.Context.InstrPtr = 0

	m.processes[pid] = pcb
	m.processCount++
	m.nextProcessID++

	m.log.Info("process created", zap.Uint32("pid", pid), zap.Uint32("priority", priority))
	m.note(fmt.Sprintf("process %d created (priority %d)", pid, priority))
	return pid, true
}

// Terminate marks pid Terminated and releases every memory block it owns.
// The PCB slot is never compacted or reused. Idempotent: terminating an
// already-terminated (or unknown) pid is a harmless no-op.
func (m *Manager) Terminate(pid uint32) {
	m.mu.Lock()
	pcb := m.pcbAtLocked(pid)
	if pcb == nil {
		m.mu.Unlock()
		m.log.Warn("terminate: unknown pid", zap.Uint32("pid", pid))
		return
	}
	pcb.State = Terminated
	m.mu.Unlock()

	m.alloc.FreeOwner(pid)
	m.log.Info("process terminated", zap.Uint32("pid", pid))
	m.note(fmt.Sprintf("process %d terminated", pid))
}

// SetState overwrites pid's state. No-op (with a warning) for unknown pids.
func (m *Manager) SetState(pid uint32, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pcb := m.pcbAtLocked(pid)
	if pcb == nil {
		m.log.Warn("set_state: unknown pid", zap.Uint32("pid", pid))
		return
	}
	pcb.State = s
}

// GetState returns pid's state, or Terminated if pid is unknown.
func (m *Manager) GetState(pid uint32) State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pcb := m.pcbAtLocked(pid)
	if pcb == nil {
		return Terminated
	}
	return pcb.State
}

// GetPCB returns a defensive copy of pid's PCB, or (PCB{}, false).
//
// The spec describes this as returning "an interior handle" to the live
// PCB; this Go port instead copies under the table's lock so external
// callers (console dumps, the debug HTTP surface, tests) never race a
// concurrent mutation. The scheduler, which genuinely needs to mutate
// State/WaitTime/Priority in place, lives in this same package and goes
// through the unexported pcbAtLocked accessor under the same mutex instead.
func (m *Manager) GetPCB(pid uint32) (PCB, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pcb := m.pcbAtLocked(pid)
	if pcb == nil {
		return PCB{}, false
	}
	return *pcb, true
}

// ProcessCount returns the number of live table slots (including idle).
func (m *Manager) ProcessCount() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.processCount
}

// pcbAtLocked returns the live PCB pointer for pid, or nil. Callers must
// hold m.mu (read or write).
func (m *Manager) pcbAtLocked(pid uint32) *PCB {
	if pid >= MaxProcesses || pid >= m.processCount {
		return nil
	}
	return &m.processes[pid]
}

// note appends a line to the kernel event log, if one is attached.
func (m *Manager) note(line string) {
	if m.klog != nil {
		m.klog.Append(line)
	}
}

// PrintTable writes the process table to w.
func (m *Manager) PrintTable(w writer) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fmt.Fprint(w, "\n=== Process Table ===\n")
	fmt.Fprint(w, "PID | State    | Priority | Stack Base | Heap Base | Wait Time\n")
	fmt.Fprint(w, "-----------------------------------------------------------\n")
	for i := uint32(0); i < m.processCount; i++ {
		pcb := &m.processes[i]
		fmt.Fprintf(w, "%d   | %-8s | %d       | 0x%x | 0x%x | %d\n",
			pcb.ProcessID, pcb.State, pcb.Priority, pcb.StackBase, pcb.HeapBase, pcb.WaitTime)
	}
	fmt.Fprint(w, "-----------------------------------------------------------\n\n")
}

// writer is the narrow io.Writer-shaped dependency status dumps need.
type writer interface {
	Write(p []byte) (n int, err error)
}
