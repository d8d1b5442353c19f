// Package process defines the subject type that abuse throttling and the
// shootdown façade act against. It holds no behavior of its own beyond the
// bookkeeping the kernel core needs from a process: its capability-failure
// history and its root page table's physical address.
package process

import "sync/atomic"

// Process is the subset of kernel process state that anoscore consumes. The
// host owns the rest of a real process (scheduling state, address space,
// open capabilities); anoscore only ever sees this view.
type Process struct {
	// PID identifies the process for TLB shootdowns scoped to it rather than
	// to a bare root table (see workitem.TLBShootdownPayload).
	PID uint64

	// RootTablePhys is the physical address of this process's top-level page
	// table (PML4 on x86_64, the root table on riscv64).
	RootTablePhys uint64

	capFailures uint64
}

// New returns a Process with zeroed failure history.
func New(pid, rootTablePhys uint64) *Process {
	return &Process{PID: pid, RootTablePhys: rootTablePhys}
}

// CapFailures returns the current capability-check failure count.
func (p *Process) CapFailures() uint64 {
	return atomic.LoadUint64(&p.capFailures)
}

// RecordCapFailure increments the failure count and returns the new value.
// Called once per rejected capability check: throttle.Abuse computes its
// delay from the count as it stands, spins, and then calls this.
func (p *Process) RecordCapFailure() uint64 {
	return atomic.AddUint64(&p.capFailures, 1)
}

// ResetCapFailures zeroes the failure count. Only reachable when the host
// was built with its syscall-throttle-reset option enabled (spec.md §4.2);
// hosts that don't offer that path simply never call it.
func (p *Process) ResetCapFailures() {
	atomic.StoreUint64(&p.capFailures, 0)
}
