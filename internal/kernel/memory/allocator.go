// Package memory implements the kernel's bump-with-reuse byte-region
// allocator. It hands out address ranges tagged by owner id; it never
// looks at what the owner id means (that's the process manager's job).
package memory

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// MaxBlocks bounds the block table's capacity (spec: MAX_MEMORY_BLOCKS).
const MaxBlocks = 256

// State is a memory block's allocation state.
type State int

const (
	Free State = iota
	Allocated
)

func (s State) String() string {
	if s == Allocated {
		return "ALLOCATED"
	}
	return "FREE"
}

// Block is one entry in the allocator's ordered block sequence. Address and
// Size are fixed at creation; only State and Owner ever mutate.
type Block struct {
	Address uint64
	Size    uint64
	Owner   uint32
	State   State
}

// Region is the handle returned to a caller on successful allocation — the
// typed replacement for a bare address (spec.md §9, "raw-address allocator
// → typed region handles").
type Region struct {
	Base uint64
	Size uint64
}

// Allocator is a single bounded heap region, scanned first-fit for reuse
// and bumped for fresh space. No splitting, no interior coalescing — only
// trailing Free blocks are ever reclaimed (tail compaction).
//
// Safe for concurrent use: every public method holds mu for its duration,
// matching the "one mutex per subsystem" discipline this kernel follows on
// a hosted, multi-goroutine build.
type Allocator struct {
	mu  sync.Mutex
	log *zap.Logger

	blocks    []Block
	heapStart uint64
	heapEnd   uint64
	bumpPtr   uint64
}

// New builds an allocator over [heapStart, heapStart+size).
func New(log *zap.Logger, heapStart, size uint64) *Allocator {
	a := &Allocator{
		log:       log.Named("memory"),
		heapStart: heapStart,
		heapEnd:   heapStart + size,
	}
	a.Init()
	return a
}

// Init resets the block sequence to empty and rewinds the bump pointer.
func (a *Allocator) Init() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.blocks = make([]Block, 0, MaxBlocks)
	a.bumpPtr = a.heapStart
	a.log.Info("memory allocator initialized",
		zap.Uint64("heap_start", a.heapStart),
		zap.Uint64("heap_end", a.heapEnd))
}

// Allocate reserves size bytes tagged with owner. Returns the zero Region
// and false on any failure (zero size, table exhausted, heap exhausted).
//
// First-fit reuse is attempted before bumping: a Free block whose size is
// already >= the request is re-tagged in place and returned unsplit.
func (a *Allocator) Allocate(size uint64, owner uint32) (Region, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if size == 0 {
		a.log.Warn("zero-size allocation requested", zap.Uint32("owner_id", owner))
		return Region{}, false
	}

	for i := range a.blocks {
		b := &a.blocks[i]
		if b.State == Free && b.Size >= size {
			b.State = Allocated
			b.Owner = owner
			return Region{Base: b.Address, Size: b.Size}, true
		}
	}

	if len(a.blocks) >= MaxBlocks {
		a.log.Warn("memory block table exhausted", zap.Int("max_blocks", MaxBlocks))
		return Region{}, false
	}

	if a.bumpPtr+size > a.heapEnd {
		a.log.Warn("heap exhausted",
			zap.Uint64("bump_ptr", a.bumpPtr),
			zap.Uint64("requested", size),
			zap.Uint64("heap_end", a.heapEnd))
		return Region{}, false
	}

	addr := a.bumpPtr
	a.blocks = append(a.blocks, Block{Address: addr, Size: size, Owner: owner, State: Allocated})
	a.bumpPtr += size
	return Region{Base: addr, Size: size}, true
}

// Free marks the block starting at address as Free. Unknown addresses and
// double frees are logged and otherwise ignored.
func (a *Allocator) Free(address uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.find(address)
	if b == nil {
		a.log.Warn("free of unknown address", zap.Uint64("address", address))
		return
	}
	if b.State == Free {
		a.log.Warn("double free detected", zap.Uint64("address", address))
		return
	}

	b.State = Free
	a.compactTail()
}

// FreeOwner marks every Allocated block owned by owner as Free. A no-op
// (with a warning) if owner holds nothing.
func (a *Allocator) FreeOwner(owner uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var freedCount, freedBytes uint64
	for i := range a.blocks {
		b := &a.blocks[i]
		if b.Owner == owner && b.State == Allocated {
			b.State = Free
			freedCount++
			freedBytes += b.Size
		}
	}
	if freedCount == 0 {
		a.log.Warn("free_owner: no allocated blocks found", zap.Uint32("owner_id", owner))
		return
	}
	a.compactTail()
	a.log.Info("freed blocks for owner",
		zap.Uint32("owner_id", owner),
		zap.Uint64("blocks", freedCount),
		zap.Uint64("bytes", freedBytes))
}

// find returns a pointer to the block at address, or nil.
func (a *Allocator) find(address uint64) *Block {
	for i := range a.blocks {
		if a.blocks[i].Address == address {
			return &a.blocks[i]
		}
	}
	return nil
}

// compactTail pops trailing Free blocks and rewinds bumpPtr. This is the
// only coalescing the allocator ever performs; interior holes persist.
func (a *Allocator) compactTail() {
	for len(a.blocks) > 0 && a.blocks[len(a.blocks)-1].State == Free {
		a.blocks = a.blocks[:len(a.blocks)-1]
	}
	if len(a.blocks) == 0 {
		a.bumpPtr = a.heapStart
		return
	}
	last := a.blocks[len(a.blocks)-1]
	a.bumpPtr = last.Address + last.Size
}

// Status is a point-in-time, lock-free snapshot suitable for printing or
// JSON-encoding (the debug HTTP surface uses the latter).
type Status struct {
	Blocks          []Block
	TotalAllocated  uint64
	TotalFree       uint64
	UnallocatedTail uint64
	BumpPtr         uint64
	HeapStart       uint64
	HeapEnd         uint64
}

// Snapshot returns the current Status.
func (a *Allocator) Snapshot() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Status{
		Blocks:          append([]Block(nil), a.blocks...),
		BumpPtr:         a.bumpPtr,
		HeapStart:       a.heapStart,
		HeapEnd:         a.heapEnd,
		UnallocatedTail: a.heapEnd - a.bumpPtr,
	}
	for _, b := range st.Blocks {
		if b.State == Allocated {
			st.TotalAllocated += b.Size
		} else {
			st.TotalFree += b.Size
		}
	}
	return st
}

// PrintStatus writes the block table to w, mirroring the operator dump
// format of the original kacchiOS memory manager.
func (a *Allocator) PrintStatus(w writer) {
	st := a.Snapshot()

	fmt.Fprint(w, "\n=== Memory Status ===\n")
	fmt.Fprint(w, "Block Address | Size      | State    | Owner ID\n")
	fmt.Fprint(w, "----------------------------------------------\n")
	for _, b := range st.Blocks {
		fmt.Fprintf(w, "0x%x | %d bytes | %-9s| %d\n", b.Address, b.Size, b.State, b.Owner)
	}
	fmt.Fprint(w, "----------------------------------------------\n")
	fmt.Fprintf(w, "Total Allocated: %d bytes\n", st.TotalAllocated)
	fmt.Fprintf(w, "Total Free: %d bytes\n", st.TotalFree+st.UnallocatedTail)
	fmt.Fprintf(w, "Unallocated Heap: %d bytes\n", st.UnallocatedTail)
	fmt.Fprintf(w, "Bump Pointer: 0x%x\n\n", st.BumpPtr)
}

// writer is the narrow io.Writer-shaped dependency status dumps need; kept
// local so this package doesn't have to import the console collaborator.
type writer interface {
	Write(p []byte) (n int, err error)
}
