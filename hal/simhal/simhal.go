// Package simhal is a reference hal implementation backed by ordinary Go
// runtime facilities, for tests and the demo command where no real hardware
// is available. It trades fidelity for determinism: CycleCounter is a
// plain atomic counter rather than a real TSC, and its HaltAndCatchFire
// ends the calling goroutine (runtime.Goexit) instead of halting a core.
package simhal

import (
	"crypto/rand"
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/roscopeco/anoscore/hal"
)

// Clock is a monotonically increasing cycle counter shared by every CPU in
// a simulated host, incremented once per read.
type Clock struct {
	n uint64
}

// ReadCycles implements hal.CycleCounter.
func (c *Clock) ReadCycles() uint64 {
	return atomic.AddUint64(&c.n, 1)
}

// Entropy reads from crypto/rand, standing in for a hardware RNG
// instruction. TryRead never fails in this implementation; Available
// toggles it off to exercise the internal/mix fallback path in callers.
type Entropy struct {
	Available bool
}

// TryRead implements hal.Entropy.
func (e *Entropy) TryRead() (uint64, bool) {
	if !e.Available {
		return 0, false
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, false
	}
	return binary.LittleEndian.Uint64(buf[:]), true
}

// Interrupts is a per-CPU interrupt mask stack, modeled as a simple nesting
// depth counter rather than a real flags register; good enough to assert
// masking discipline in tests.
type Interrupts struct {
	mu     sync.Mutex
	depth  map[int]int
	hartID func() int
}

// NewInterrupts returns an Interrupts controller that looks up the calling
// CPU via hartID (pass a fixed-id func in single-goroutine tests).
func NewInterrupts(hartID func() int) *Interrupts {
	return &Interrupts{depth: make(map[int]int), hartID: hartID}
}

// SaveDisableInterrupts implements hal.InterruptController.
func (ic *Interrupts) SaveDisableInterrupts() hal.InterruptFlags {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	cpu := ic.hartID()
	prev := ic.depth[cpu]
	ic.depth[cpu] = prev + 1
	return hal.InterruptFlags(prev)
}

// RestoreInterrupts implements hal.InterruptController.
func (ic *Interrupts) RestoreInterrupts(saved hal.InterruptFlags) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	cpu := ic.hartID()
	ic.depth[cpu] = int(saved)
}

// Notifier is an IPINotifier that invokes each peer CPU's handler directly
// and synchronously, rather than through a real interrupt. nCPU is the
// table size; handler is called once per peer with its CPU id.
type Notifier struct {
	NCPU    int
	Handler func(cpu int)
}

// NotifyAllExceptCurrent implements hal.IPINotifier.
func (n *Notifier) NotifyAllExceptCurrent(currentCPU int) {
	for cpu := 0; cpu < n.NCPU; cpu++ {
		if cpu == currentCPU {
			continue
		}
		n.Handler(cpu)
	}
}

// Halter records that it was invoked and terminates the calling goroutine
// with runtime.Goexit, standing in for a real core halt.
type Halter struct {
	halted atomic.Bool
}

// HaltAndCatchFire implements hal.Halter.
func (h *Halter) HaltAndCatchFire() {
	h.halted.Store(true)
	runtime.Goexit()
}

// Halted reports whether HaltAndCatchFire has been called.
func (h *Halter) Halted() bool {
	return h.halted.Load()
}

// pageEntry is a single simulated page-table mapping.
type pageEntry struct {
	phys  uintptr
	flags uint64
}

// VMM is an in-memory simulation of a page-table mutator, keyed by
// (rootTablePhys, vaddr) rather than a real multi-level table walk.
type VMM struct {
	mu          sync.Mutex
	tables      map[uintptr]map[uintptr]pageEntry
	roots       map[uintptr]struct{}
	invalidated []InvalidatedRange
}

// NewVMM returns an empty simulated VMM. knownRoots lists the root table
// physical addresses PhysToVirt will resolve; anything else reports failure,
// modeling an address that doesn't correspond to a live process.
func NewVMM(knownRoots ...uintptr) *VMM {
	roots := make(map[uintptr]struct{}, len(knownRoots))
	for _, r := range knownRoots {
		roots[r] = struct{}{}
	}
	return &VMM{tables: make(map[uintptr]map[uintptr]pageEntry), roots: roots}
}

// AddRoot marks rootTablePhys as resolvable by PhysToVirt.
func (v *VMM) AddRoot(rootTablePhys uintptr) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.roots[rootTablePhys] = struct{}{}
}

func (v *VMM) table(rootPhys uintptr) map[uintptr]pageEntry {
	t, ok := v.tables[rootPhys]
	if !ok {
		t = make(map[uintptr]pageEntry)
		v.tables[rootPhys] = t
	}
	return t
}

// MapPageIn implements hal.VMM.
func (v *VMM) MapPageIn(rootPhys, vaddr, phys uintptr, flags uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.table(rootPhys)[vaddr] = pageEntry{phys: phys, flags: flags}
	return true
}

// UnmapPageIn implements hal.VMM.
func (v *VMM) UnmapPageIn(rootPhys, vaddr uintptr) uintptr {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := v.table(rootPhys)
	e := t[vaddr]
	delete(t, vaddr)
	return e.phys
}

const simPageSize = 1 << 12

// MapPagesIn implements hal.VMM.
func (v *VMM) MapPagesIn(rootPhys, vaddr, phys uintptr, flags uint64, n int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := v.table(rootPhys)
	for i := 0; i < n; i++ {
		off := uintptr(i) * simPageSize
		t[vaddr+off] = pageEntry{phys: phys + off, flags: flags}
	}
	return true
}

// UnmapPagesIn implements hal.VMM.
func (v *VMM) UnmapPagesIn(rootPhys, vaddr uintptr, n int) uintptr {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := v.table(rootPhys)
	first := t[vaddr].phys
	for i := 0; i < n; i++ {
		off := uintptr(i) * simPageSize
		delete(t, vaddr+off)
	}
	return first
}

// PhysToVirt implements hal.VMM. For any root registered via NewVMM/AddRoot
// it reports success with a non-nil sentinel pointer (never dereferenced by
// anoscore); for anything else it returns (nil, false).
func (v *VMM) PhysToVirt(phys uintptr) (unsafe.Pointer, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.roots[phys]; !ok {
		return nil, false
	}
	return unsafe.Pointer(&v.roots), true
}

// InvalidatedRange is one recorded call to (*VMM).InvalidateRange.
type InvalidatedRange struct {
	VAddr     uintptr
	PageCount uint64
}

// InvalidateRange implements hal.TLBInvalidator. The simulated host has no
// real per-core TLB cache to purge -- every simulated CPU reads the same
// in-memory table map -- so there's nothing to do but record the call for
// tests to assert against.
func (v *VMM) InvalidateRange(vaddr uintptr, pageCount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.invalidated = append(v.invalidated, InvalidatedRange{VAddr: vaddr, PageCount: pageCount})
}

// Invalidated returns every range InvalidateRange has recorded, in call
// order.
func (v *VMM) Invalidated() []InvalidatedRange {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]InvalidatedRange, len(v.invalidated))
	copy(out, v.invalidated)
	return out
}
