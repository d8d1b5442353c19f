// Package hal defines the services a host kernel must provide to anoscore,
// and the hooks anoscore provides back to the host. None of the types here
// are implemented by anoscore itself — see hal/simhal for a reference
// implementation suitable for tests and the demo command.
package hal

import "unsafe"

// CycleCounter reads a free-running monotonic cycle counter. Per spec it
// need not be globally synchronized across CPUs; a per-hart TSC is fine.
type CycleCounter interface {
	ReadCycles() uint64
}

// Entropy is a nonblocking hardware RNG read. TryRead reports false when no
// hardware source is available, in which case callers fall back to
// internal/mix over the cycle counter.
type Entropy interface {
	TryRead() (uint64, bool)
}

// HartID reports the calling execution context's dense CPU id, < NCPU.
type HartID interface {
	CurrentHartID() int
}

// InterruptFlags is an opaque token returned by SaveDisable and consumed by
// Restore. Hosts decide its representation (e.g. a saved EFLAGS/SSTATUS
// value); anoscore only ever threads it through unchanged.
type InterruptFlags uint64

// InterruptController lets the façade bracket a local edit + cross-CPU
// publish with interrupts masked on the current CPU only.
type InterruptController interface {
	SaveDisableInterrupts() InterruptFlags
	RestoreInterrupts(InterruptFlags)
}

// IPINotifier delivers the IPWI IPI vector to every CPU except the caller's.
// It must not block waiting for peers to run their handlers.
type IPINotifier interface {
	NotifyAllExceptCurrent(currentCPU int)
}

// Halter stops the calling CPU permanently, for PANIC_HALT work items.
type Halter interface {
	HaltAndCatchFire()
}

// PauseHint yields the current core for one spin iteration (the x86_64
// PAUSE instruction, WFE/YIELD on arm, or an empty hint where the arch has
// none). Throttle's escalating spin-delay calls this once per poll of the
// cycle counter so a throttled hart doesn't monopolize its execution unit
// while it waits out its delay.
type PauseHint func()

// VMM is the local (non-shootdown) page-table mutator. Implementations
// maintain the *local* TLB only; remote invalidation is vmmshootdown's job.
type VMM interface {
	MapPageIn(rootPhys, vaddr, phys uintptr, flags uint64) bool
	UnmapPageIn(rootPhys, vaddr uintptr) uintptr
	MapPagesIn(rootPhys, vaddr, phys uintptr, flags uint64, n int) bool
	UnmapPagesIn(rootPhys, vaddr uintptr, n int) uintptr

	// PhysToVirt resolves a physical address (typically a foreign process's
	// root table) to a kernel-visible pointer, or (nil, false) on failure.
	PhysToVirt(phys uintptr) (unsafe.Pointer, bool)
}

// TLBInvalidator purges a range of translations from the *local* TLB of the
// CPU it's called on. This is what a TLB_SHOOTDOWN work item's IPI handler
// calls on the receiving CPU (spec.md §4.3's dispatch pseudocode,
// `TLB_SHOOTDOWN -> invalidate(item.payload as Shootdown)`) -- it purges
// cached translations only, and never touches the page table itself, which
// is shared memory the originating CPU already edited.
type TLBInvalidator interface {
	InvalidateRange(vaddr uintptr, pageCount uint64)
}

// PerCPUTempPageAddr mirrors the original arch layer's per-CPU temporary
// mapping window (original_source/kernel/include/vmm/vmmapper.h). It is not
// used by vmmshootdown itself -- it's a VMM-internal concern -- but is
// exposed here so a concrete VMM implementation has a conventional slot to
// hang per-CPU scratch mappings from, the same way the original arch code
// does.
func PerCPUTempPageAddr(base uintptr, cpu uint8) uintptr {
	const pageSize = 1 << 12
	return base + uintptr(cpu)*pageSize
}
