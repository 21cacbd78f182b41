package processmgr

import (
	"testing"

	"go.uber.org/zap"

	"github.com/kacchi-os/kernel/internal/kernel/memory"
)

func newTestManager(t *testing.T) (*Manager, *memory.Allocator) {
	t.Helper()
	alloc := memory.New(zap.NewNop(), 0x10000, 1<<20)
	return NewManager(zap.NewNop(), alloc, nil), alloc
}

func TestInitInstallsIdleProcess(t *testing.T) {
	m, _ := newTestManager(t)

	pcb, ok := m.GetPCB(0)
	if !ok {
		t.Fatal("expected idle pcb 0 to exist")
	}
	if pcb.State != Current {
		t.Fatalf("expected idle pcb to be Current, got %s", pcb.State)
	}
	if m.ProcessCount() != 1 {
		t.Fatalf("expected process count 1 after init, got %d", m.ProcessCount())
	}
}

func TestCreateAssignsSequentialPIDs(t *testing.T) {
	m, _ := newTestManager(t)

	pid1, ok := m.Create(5, 4096, 4096, 0)
	if !ok || pid1 != 1 {
		t.Fatalf("expected first created pid to be 1, got %d ok=%v", pid1, ok)
	}
	pid2, ok := m.Create(5, 4096, 4096, 0)
	if !ok || pid2 != 2 {
		t.Fatalf("expected second created pid to be 2, got %d ok=%v", pid2, ok)
	}
}

func TestCreatedProcessIsReady(t *testing.T) {
	m, _ := newTestManager(t)

	pid, ok := m.Create(1, 4096, 4096, 42)
	if !ok {
		t.Fatal("create failed")
	}
	pcb, _ := m.GetPCB(pid)
	if pcb.State != Ready {
		t.Fatalf("expected new process to be Ready, got %s", pcb.State)
	}
	if pcb.CreationTime != 42 {
		t.Fatalf("expected creation_time 42, got %d", pcb.CreationTime)
	}
}

func TestTerminateFreesMemoryAndIsIdempotent(t *testing.T) {
	m, alloc := newTestManager(t)

	pid, _ := m.Create(1, 1024, 1024, 0)
	m.Terminate(pid)

	pcb, _ := m.GetPCB(pid)
	if pcb.State != Terminated {
		t.Fatalf("expected Terminated, got %s", pcb.State)
	}

	st := alloc.Snapshot()
	for _, b := range st.Blocks {
		if b.Owner == pid && b.State != memory.Free {
			t.Fatalf("expected all blocks owned by pid %d to be freed", pid)
		}
	}

	m.Terminate(pid) // idempotent
	m.Terminate(999) // unknown pid, must not panic
}

func TestGetPCBUnknownPIDFails(t *testing.T) {
	m, _ := newTestManager(t)
	if _, ok := m.GetPCB(200); ok {
		t.Fatal("expected unknown pid lookup to fail")
	}
}

func TestProcessTableExhaustion(t *testing.T) {
	alloc := memory.New(zap.NewNop(), 0x10000, 1<<30)
	m := NewManager(zap.NewNop(), alloc, nil)

	// Each process takes two allocator blocks and the block table holds only
	// memory.MaxBlocks, so terminate each one to release its blocks; the
	// terminated PCB keeps its table slot.
	for i := 0; i < MaxProcesses-1; i++ {
		pid, ok := m.Create(1, 64, 64, 0)
		if !ok {
			t.Fatalf("create %d should have succeeded", i)
		}
		m.Terminate(pid)
	}
	if _, ok := m.Create(1, 64, 64, 0); ok {
		t.Fatal("expected process table exhaustion to fail creation")
	}
}

func TestCreateOrphansStackOnHeapFailure(t *testing.T) {
	// Heap region sized so the stack allocation succeeds but the heap
	// allocation cannot: the documented imperfection, not silently patched.
	alloc := memory.New(zap.NewNop(), 0x10000, 1024)
	m := NewManager(zap.NewNop(), alloc, nil)

	pid, ok := m.Create(1, 512, 4096, 0)
	if ok {
		t.Fatalf("expected creation to fail when heap allocation fails, got pid %d", pid)
	}

	st := alloc.Snapshot()
	if len(st.Blocks) != 1 || st.Blocks[0].State != memory.Allocated {
		t.Fatal("expected the orphaned stack block to remain allocated")
	}
}
