package memory

import (
	"testing"

	"go.uber.org/zap"
)

func newTestAllocator(t *testing.T, size uint64) *Allocator {
	t.Helper()
	return New(zap.NewNop(), 0x1000, size)
}

func TestAllocateZeroSizeFails(t *testing.T) {
	a := newTestAllocator(t, 1<<20)
	if _, ok := a.Allocate(0, 1); ok {
		t.Fatal("expected zero-size allocation to fail")
	}
}

func TestReuseAfterFree(t *testing.T) {
	// init; a = allocate(1024, 1); b = allocate(512, 1); free(a); c = allocate(512, 1)
	// c must equal a (first-fit reuse of the 1024-byte Free block).
	a := newTestAllocator(t, 1<<20)

	regA, ok := a.Allocate(1024, 1)
	if !ok {
		t.Fatal("allocate a failed")
	}
	if _, ok := a.Allocate(512, 1); !ok {
		t.Fatal("allocate b failed")
	}
	a.Free(regA.Base)

	regC, ok := a.Allocate(512, 1)
	if !ok {
		t.Fatal("allocate c failed")
	}
	if regC.Base != regA.Base {
		t.Fatalf("expected reuse at %#x, got %#x", regA.Base, regC.Base)
	}
	if regC.Size != 1024 {
		t.Fatalf("expected reused block to keep its original size 1024, got %d", regC.Size)
	}
}

func TestTailCompaction(t *testing.T) {
	// init; a = allocate(1024,1); b = allocate(2048,1); free(b)
	// => bump_ptr == heap_start + 1024, block_count == 1.
	a := newTestAllocator(t, 1<<20)

	regA, ok := a.Allocate(1024, 1)
	if !ok {
		t.Fatal("allocate a failed")
	}
	regB, ok := a.Allocate(2048, 1)
	if !ok {
		t.Fatal("allocate b failed")
	}

	a.Free(regB.Base)

	st := a.Snapshot()
	if len(st.Blocks) != 1 {
		t.Fatalf("expected 1 block after tail compaction, got %d", len(st.Blocks))
	}
	wantBump := regA.Base + regA.Size
	if st.BumpPtr != wantBump {
		t.Fatalf("expected bump_ptr %#x, got %#x", wantBump, st.BumpPtr)
	}
}

func TestTailFreeStrictlyDecreasesBumpPtr(t *testing.T) {
	a := newTestAllocator(t, 1<<20)
	reg, ok := a.Allocate(256, 1)
	if !ok {
		t.Fatal("allocate failed")
	}
	before := a.Snapshot().BumpPtr
	a.Free(reg.Base)
	after := a.Snapshot().BumpPtr
	if !(after < before) {
		t.Fatalf("expected bump_ptr to strictly decrease, before=%#x after=%#x", before, after)
	}
}

func TestInteriorHoleNotCoalesced(t *testing.T) {
	a := newTestAllocator(t, 1<<20)
	regA, _ := a.Allocate(64, 1)
	_, _ = a.Allocate(64, 1)
	regC, _ := a.Allocate(64, 1)

	a.Free(regA.Base) // interior free, not the tail
	st := a.Snapshot()
	if len(st.Blocks) != 3 {
		t.Fatalf("interior free must not compact; expected 3 blocks, got %d", len(st.Blocks))
	}

	// A later fitting allocation should reuse the interior hole, not bump.
	bumpBefore := st.BumpPtr
	regD, ok := a.Allocate(64, 2)
	if !ok {
		t.Fatal("allocate d failed")
	}
	if regD.Base != regA.Base {
		t.Fatalf("expected reuse of interior hole at %#x, got %#x", regA.Base, regD.Base)
	}
	if a.Snapshot().BumpPtr != bumpBefore {
		t.Fatal("bump_ptr must not move when reusing an interior hole")
	}
	_ = regC
}

func TestFreeUnknownAddressIsNoop(t *testing.T) {
	a := newTestAllocator(t, 1<<20)
	reg, _ := a.Allocate(64, 1)
	before := a.Snapshot()

	a.Free(reg.Base + 4096) // unknown address

	after := a.Snapshot()
	if len(after.Blocks) != len(before.Blocks) || after.Blocks[0].State != before.Blocks[0].State {
		t.Fatal("free of unknown address must not change state")
	}
}

func TestDoubleFreeIsNoop(t *testing.T) {
	a := newTestAllocator(t, 1<<20)
	reg, _ := a.Allocate(64, 1)
	a.Free(reg.Base)

	// Allocate something else so the freed block isn't the tail anymore,
	// then double-free the original address.
	_, _ = a.Allocate(64, 2)
	a.Free(reg.Base)
	a.Free(reg.Base) // double free

	st := a.Snapshot()
	if st.Blocks[0].State != Free {
		t.Fatal("double free must leave block state unchanged (Free)")
	}
}

func TestAllocateExactTailThenFails(t *testing.T) {
	a := newTestAllocator(t, 128)
	if _, ok := a.Allocate(128, 1); !ok {
		t.Fatal("exact-fit allocation should succeed")
	}
	if _, ok := a.Allocate(1, 1); ok {
		t.Fatal("next allocation should fail: heap exhausted")
	}
}

func TestFreeOwnerReleasesAllBlocks(t *testing.T) {
	a := newTestAllocator(t, 1<<20)
	r1, _ := a.Allocate(4096, 7)
	r2, _ := a.Allocate(8192, 7)

	a.FreeOwner(7)

	st := a.Snapshot()
	for _, b := range st.Blocks {
		if b.Address == r1.Base || b.Address == r2.Base {
			if b.State != Free {
				t.Fatalf("expected block at %#x to be Free after FreeOwner", b.Address)
			}
		}
	}
	// After tail compaction the freed pool should include at least both regions.
	if st.UnallocatedTail < r1.Size+r2.Size {
		t.Fatalf("expected free pool >= %d, got %d", r1.Size+r2.Size, st.UnallocatedTail)
	}
}

func TestBlockTableExhaustion(t *testing.T) {
	a := newTestAllocator(t, uint64(MaxBlocks)*16+1024)
	for i := 0; i < MaxBlocks; i++ {
		if _, ok := a.Allocate(16, uint32(i)); !ok {
			t.Fatalf("allocation %d should have succeeded", i)
		}
	}
	if _, ok := a.Allocate(16, 999); ok {
		t.Fatal("expected failure once block table is exhausted")
	}
}
