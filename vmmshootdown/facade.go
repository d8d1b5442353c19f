// Package vmmshootdown implements the shootdown-coherent VM mutation
// façade: every operation performs a local page-table edit, then publishes
// a TLB_SHOOTDOWN work item to every other CPU so their stale translations
// are invalidated (spec.md §4.4). Callers get no synchronous acknowledgement
// that a peer has applied the invalidation -- that tradeoff is spec.md's
// explicit Non-goal, not an oversight here.
package vmmshootdown

import (
	"github.com/roscopeco/anoscore/hal"
	"github.com/roscopeco/anoscore/ipwi"
	"github.com/roscopeco/anoscore/process"
	"github.com/roscopeco/anoscore/workitem"
)

// Facade sequences a local VMM mutation with a shootdown publish. One
// Facade serves the whole process.
type Facade struct {
	vmm hal.VMM
	bus *ipwi.Bus
	irq hal.InterruptController
}

// New returns a Facade driving vmm locally and publishing shootdowns
// through bus.
func New(vmm hal.VMM, bus *ipwi.Bus, irq hal.InterruptController) *Facade {
	return &Facade{vmm: vmm, bus: bus, irq: irq}
}

// publish brackets localOp with interrupt masking and, on success, enqueues
// and announces the shootdown item to every other CPU. rootTablePhys is
// resolved to a kernel-visible pointer before interrupts are masked: on
// x86_64 this walk is comparatively slow (recursive paging), so it must not
// run with interrupts disabled (original_source/kernel/vmm/vmm_shootdown.c).
// Translation failure aborts before any local or remote state changes.
func (f *Facade) publish(rootTablePhys uintptr, payload workitem.TLBShootdownPayload, currentCPU int, localOp func() bool) bool {
	if _, ok := f.vmm.PhysToVirt(rootTablePhys); !ok {
		return false
	}

	flags := f.irq.SaveDisableInterrupts()
	defer f.irq.RestoreInterrupts(flags)

	if !localOp() {
		return false
	}

	item := workitem.EncodeTLBShootdown(payload)
	f.bus.EnqueueAllExceptCurrent(item, currentCPU)
	f.bus.NotifyAllExceptCurrent(currentCPU)
	return true
}

func (f *Facade) publishUnmap(rootTablePhys uintptr, payload workitem.TLBShootdownPayload, currentCPU int, localOp func() uintptr) (uintptr, bool) {
	var unmapped uintptr
	ok := f.publish(rootTablePhys, payload, currentCPU, func() bool {
		unmapped = localOp()
		return true
	})
	if !ok {
		return 0, false
	}
	return unmapped, true
}

// MapPageInProcess maps vaddr to phys in proc's address space and
// shoots down that translation on every other CPU.
func (f *Facade) MapPageInProcess(proc *process.Process, vaddr, phys uintptr, flags uint64, currentCPU int) bool {
	root := uintptr(proc.RootTablePhys)
	payload := workitem.TLBShootdownPayload{StartVAddr: uint64(vaddr), PageCount: 1, TargetPID: proc.PID}
	return f.publish(root, payload, currentCPU, func() bool {
		return f.vmm.MapPageIn(root, vaddr, phys, flags)
	})
}

// MapPageInRoot is MapPageInProcess for callers that address an address
// space by its raw root table physical address rather than a Process (e.g.
// the kernel's own root table, not owned by any single process).
func (f *Facade) MapPageInRoot(rootTablePhys, vaddr, phys uintptr, flags uint64, currentCPU int) bool {
	payload := workitem.TLBShootdownPayload{StartVAddr: uint64(vaddr), PageCount: 1, TargetRootTablePhys: uint64(rootTablePhys)}
	return f.publish(rootTablePhys, payload, currentCPU, func() bool {
		return f.vmm.MapPageIn(rootTablePhys, vaddr, phys, flags)
	})
}

// MapPagesInProcess is MapPageInProcess for a contiguous run of n pages.
func (f *Facade) MapPagesInProcess(proc *process.Process, vaddr, phys uintptr, flags uint64, n int, currentCPU int) bool {
	root := uintptr(proc.RootTablePhys)
	payload := workitem.TLBShootdownPayload{StartVAddr: uint64(vaddr), PageCount: uint64(n), TargetPID: proc.PID}
	return f.publish(root, payload, currentCPU, func() bool {
		return f.vmm.MapPagesIn(root, vaddr, phys, flags, n)
	})
}

// MapPagesInRoot is MapPagesInProcess addressed by raw root table phys.
func (f *Facade) MapPagesInRoot(rootTablePhys, vaddr, phys uintptr, flags uint64, n int, currentCPU int) bool {
	payload := workitem.TLBShootdownPayload{StartVAddr: uint64(vaddr), PageCount: uint64(n), TargetRootTablePhys: uint64(rootTablePhys)}
	return f.publish(rootTablePhys, payload, currentCPU, func() bool {
		return f.vmm.MapPagesIn(rootTablePhys, vaddr, phys, flags, n)
	})
}

// UnmapPageInProcess unmaps vaddr from proc's address space, returning the
// physical page that was mapped there, and shoots down the translation on
// every other CPU.
func (f *Facade) UnmapPageInProcess(proc *process.Process, vaddr uintptr, currentCPU int) (uintptr, bool) {
	root := uintptr(proc.RootTablePhys)
	payload := workitem.TLBShootdownPayload{StartVAddr: uint64(vaddr), PageCount: 1, TargetPID: proc.PID}
	return f.publishUnmap(root, payload, currentCPU, func() uintptr {
		return f.vmm.UnmapPageIn(root, vaddr)
	})
}

// UnmapPageInRoot is UnmapPageInProcess addressed by raw root table phys.
func (f *Facade) UnmapPageInRoot(rootTablePhys, vaddr uintptr, currentCPU int) (uintptr, bool) {
	payload := workitem.TLBShootdownPayload{StartVAddr: uint64(vaddr), PageCount: 1, TargetRootTablePhys: uint64(rootTablePhys)}
	return f.publishUnmap(rootTablePhys, payload, currentCPU, func() uintptr {
		return f.vmm.UnmapPageIn(rootTablePhys, vaddr)
	})
}

// UnmapPagesInProcess is UnmapPageInProcess for a contiguous run of n pages.
func (f *Facade) UnmapPagesInProcess(proc *process.Process, vaddr uintptr, n int, currentCPU int) (uintptr, bool) {
	root := uintptr(proc.RootTablePhys)
	payload := workitem.TLBShootdownPayload{StartVAddr: uint64(vaddr), PageCount: uint64(n), TargetPID: proc.PID}
	return f.publishUnmap(root, payload, currentCPU, func() uintptr {
		return f.vmm.UnmapPagesIn(root, vaddr, n)
	})
}

// UnmapPagesInRoot is UnmapPagesInProcess addressed by raw root table phys.
func (f *Facade) UnmapPagesInRoot(rootTablePhys, vaddr uintptr, n int, currentCPU int) (uintptr, bool) {
	payload := workitem.TLBShootdownPayload{StartVAddr: uint64(vaddr), PageCount: uint64(n), TargetRootTablePhys: uint64(rootTablePhys)}
	return f.publishUnmap(rootTablePhys, payload, currentCPU, func() uintptr {
		return f.vmm.UnmapPagesIn(rootTablePhys, vaddr, n)
	})
}
