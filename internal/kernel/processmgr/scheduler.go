package processmgr

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// AgingThreshold is the wait_time (in ticks) past which ApplyAging boosts
// a Ready process's effective priority (spec: AGING_THRESHOLD).
const AgingThreshold = 1000

// Algorithm selects the scheduling policy.
type Algorithm int

const (
	FCFS Algorithm = iota
	RR
)

func (a Algorithm) String() string {
	if a == RR {
		return "Round Robin"
	}
	return "FCFS"
}

// Scheduler picks the next runnable process and drives the kernel's single
// virtual clock. It does not own the process table — it mutates PCB
// State/WaitTime/Priority fields through Manager's own lock.
type Scheduler struct {
	mu  sync.Mutex
	log *zap.Logger
	pm  *Manager
	klog *EventLog

	algorithm       Algorithm
	quantum         uint32
	currentTime     uint32
	currentPID      uint32
	timeSinceSwitch uint32
}

// NewScheduler builds a scheduler over pm. klog may be nil.
func NewScheduler(log *zap.Logger, pm *Manager, klog *EventLog) *Scheduler {
	s := &Scheduler{log: log.Named("scheduler"), pm: pm, klog: klog}
	return s
}

// Init sets the algorithm and quantum and resets the virtual clock.
func (s *Scheduler) Init(algorithm Algorithm, quantum uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.algorithm = algorithm
	s.quantum = quantum
	s.currentTime = 0
	s.timeSinceSwitch = 0
	s.currentPID = 0

	if algorithm == FCFS {
		s.log.Info("scheduler initialized", zap.String("algorithm", "FCFS"))
	} else {
		s.log.Info("scheduler initialized", zap.String("algorithm", "RR"), zap.Uint32("quantum_ms", quantum))
	}
}

// CurrentTime returns the current virtual-clock reading in ticks.
func (s *Scheduler) CurrentTime() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTime
}

// CurrentPID returns the PID currently marked Current (0 = idle).
func (s *Scheduler) CurrentPID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPID
}

// GetNextProcess selects the next pid to run per the configured policy. It
// does not mutate PCBs except for RR's one documented side effect: if the
// time quantum has expired for the recorded current pid, that PCB is
// demoted from Current to Ready before selection runs.
func (s *Scheduler) GetNextProcess() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pm.mu.Lock()
	defer s.pm.mu.Unlock()

	if s.algorithm == RR {
		if s.timeSinceSwitch >= s.quantum {
			if cur := s.pm.pcbAtLocked(s.currentPID); cur != nil && cur.State == Current {
				cur.State = Ready
			}
		}
		return s.selectRRLocked()
	}
	return s.selectFCFSLocked()
}

// selectFCFSLocked picks the Ready PCB with lowest priority, tie-broken by
// lowest pid. Caller must hold s.mu and s.pm.mu.
func (s *Scheduler) selectFCFSLocked() uint32 {
	var nextPID uint32
	var found bool
	var bestPriority uint32

	for pid := uint32(1); pid < MaxProcesses; pid++ {
		pcb := s.pm.pcbAtLocked(pid)
		if pcb == nil || pcb.State != Ready {
			continue
		}
		if !found || pcb.Priority < bestPriority {
			bestPriority = pcb.Priority
			nextPID = pid
			found = true
		}
	}
	if !found {
		return 0
	}
	return nextPID
}

// selectRRLocked picks the Ready PCB with lowest wait_time, tie-broken by
// lowest priority, then lowest pid. Caller must hold s.mu and s.pm.mu.
func (s *Scheduler) selectRRLocked() uint32 {
	var nextPID uint32
	var found bool
	var bestWait, bestPriority uint32

	for pid := uint32(1); pid < MaxProcesses; pid++ {
		pcb := s.pm.pcbAtLocked(pid)
		if pcb == nil || pcb.State != Ready {
			continue
		}
		if !found || pcb.WaitTime < bestWait ||
			(pcb.WaitTime == bestWait && pcb.Priority < bestPriority) {
			bestWait = pcb.WaitTime
			bestPriority = pcb.Priority
			nextPID = pid
			found = true
		}
	}
	if !found {
		return 0
	}
	return nextPID
}

// ContextSwitch demotes from (if Current) to Ready, then promotes to (if it
// exists) to Current and records it as the current pid.
func (s *Scheduler) ContextSwitch(from, to uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pm.mu.Lock()
	defer s.pm.mu.Unlock()

	// Demote first, then promote — two PCBs can both read Current only in
	// the gap between these two statements, never after (spec.md §9).
	if fromPCB := s.pm.pcbAtLocked(from); fromPCB != nil && fromPCB.State == Current {
		fromPCB.State = Ready
	}
	if toPCB := s.pm.pcbAtLocked(to); toPCB != nil {
		toPCB.State = Current
		s.currentPID = to
		s.timeSinceSwitch = 0
	}

	if s.klog != nil && from != to {
		s.klog.Append(fmt.Sprintf("context switch: %d -> %d", from, to))
	}
}

// Schedule computes the next pid and performs a context switch if it
// differs from the currently recorded pid.
func (s *Scheduler) Schedule() {
	next := s.GetNextProcess()
	cur := s.CurrentPID()
	if next != cur {
		s.ContextSwitch(cur, next)
	}
}

// UpdateTime is the sole driver of virtual time: it advances current_time
// and time_since_switch by one tick, ages every Ready PCB's wait_time by
// one, and triggers a scheduling decision if RR's quantum has expired.
func (s *Scheduler) UpdateTime() {
	s.mu.Lock()
	s.currentTime++
	s.timeSinceSwitch++
	quantumExpired := s.algorithm == RR && s.timeSinceSwitch >= s.quantum
	s.mu.Unlock()

	s.pm.mu.Lock()
	for pid := uint32(1); pid < MaxProcesses; pid++ {
		pcb := s.pm.pcbAtLocked(pid)
		if pcb == nil {
			continue
		}
		if pcb.State == Ready {
			pcb.WaitTime++
		}
	}
	s.pm.mu.Unlock()

	if quantumExpired {
		s.Schedule()
	}
}

// ApplyAging decrements (clamped at 0) the priority of every Ready PCB
// that has waited more than AgingThreshold ticks, and resets its wait_time.
// Independent of UpdateTime — callers invoke it explicitly.
func (s *Scheduler) ApplyAging() {
	s.pm.mu.Lock()
	defer s.pm.mu.Unlock()

	for pid := uint32(1); pid < MaxProcesses; pid++ {
		pcb := s.pm.pcbAtLocked(pid)
		if pcb == nil {
			continue
		}
		if pcb.State == Ready && pcb.WaitTime > AgingThreshold {
			if pcb.Priority > 0 {
				pcb.Priority--
			}
			pcb.WaitTime = 0
		}
	}
}

// PrintStatus writes the scheduler's state to w.
func (s *Scheduler) PrintStatus(w writer) {
	s.mu.Lock()
	algorithm := s.algorithm
	quantum := s.quantum
	currentTime := s.currentTime
	currentPID := s.currentPID
	timeSinceSwitch := s.timeSinceSwitch
	s.mu.Unlock()

	fmt.Fprint(w, "\n=== Scheduler Status ===\n")
	if algorithm == FCFS {
		fmt.Fprint(w, "Algorithm: FCFS\n")
	} else {
		fmt.Fprintf(w, "Algorithm: Round Robin (%dms)\n", quantum)
	}
	fmt.Fprintf(w, "Current Time: %dms\n", currentTime)
	fmt.Fprintf(w, "Current Process: %d\n", currentPID)
	fmt.Fprintf(w, "Time Since Switch: %dms\n\n", timeSinceSwitch)
}
