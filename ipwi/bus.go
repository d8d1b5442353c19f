// Package ipwi implements the inter-processor work item bus: per-CPU queues
// of fixed-size work items, published by any CPU and drained only by their
// owning CPU from IPI context (spec.md §4.3).
package ipwi

import (
	"github.com/roscopeco/anoscore/hal"
	"github.com/roscopeco/anoscore/internal/klog"
	"github.com/roscopeco/anoscore/smp"
	"github.com/roscopeco/anoscore/workitem"
)

// IPIVectorHint is the interrupt vector the original x86_64 kernel repurposes
// for IPWI delivery (it reuses the NMI vector rather than allocating a
// dedicated one). anoscore never programs an interrupt controller itself --
// hal.IPINotifier hides that entirely -- but a host wiring a real APIC can
// use this as the vector to route to Bus.IPIHandler. A later hardware
// generation with Remote Action Request support could let a host satisfy
// IPINotifier without an IPI at all; that hardware path is not implemented
// here.
const IPIVectorHint = 0x02

// Bus is the inter-processor work item bus. One Bus serves the whole
// process; Table already holds one queue per CPU.
type Bus struct {
	table       *smp.Table
	irq         hal.InterruptController
	notifier    hal.IPINotifier
	halter      hal.Halter
	registry    *Registry
	invalidator hal.TLBInvalidator

	// maxQueueLen bounds per-CPU queue depth; 0 means unbounded (the queue
	// still grows geometrically, it just never refuses an enqueue). Spec.md
	// §9's open question on queue capacity is left to the host: anoscore
	// supplies the growable queue and this optional ceiling, not a fixed
	// bound baked into the wire format.
	maxQueueLen int
}

// Option configures a Bus constructed by New.
type Option func(*Bus)

// WithMaxQueueLen caps each per-CPU queue at n pending items; Enqueue reports
// false for a CPU at capacity, and EnqueueAllExceptCurrent leaves such a CPU
// out of the count it returns, rather than growing its queue without bound.
// n <= 0 means unbounded (the default).
func WithMaxQueueLen(n int) Option {
	return func(b *Bus) { b.maxQueueLen = n }
}

// WithTLBInvalidator wires inv as the local-TLB purge primitive a
// TLB_SHOOTDOWN item's IPI handler calls. Without it, TLB_SHOOTDOWN items
// are drained but not acted on -- fine for hosts (and tests) that drive
// invalidation themselves from the decoded payload, but a real kernel build
// should always supply one.
func WithTLBInvalidator(inv hal.TLBInvalidator) Option {
	return func(b *Bus) { b.invalidator = inv }
}

// New returns a Bus over table, using notifier to deliver the IPWI IPI and
// halter to service PANIC_HALT items.
func New(table *smp.Table, irq hal.InterruptController, notifier hal.IPINotifier, halter hal.Halter, opts ...Option) *Bus {
	b := &Bus{
		table:    table,
		irq:      irq,
		notifier: notifier,
		halter:   halter,
		registry: NewRegistry(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Registry returns the bus's RemoteFunc registry, for hosts to populate
// before dispatching REMOTE_EXEC work items.
func (b *Bus) Registry() *Registry {
	return b.registry
}

// InitThisCPU marks cpuID's slot initialized. It must be called exactly
// once per CPU, before that CPU's queue is used; a second call reports
// false rather than silently succeeding (spec.md §7's "double init" error).
func (b *Bus) InitThisCPU(cpuID int) bool {
	slot := b.table.Slot(cpuID)
	if slot == nil {
		return false
	}
	return slot.MarkInitialized()
}

// Enqueue appends item to cpuID's queue. It reports false if cpuID is out
// of range, cpuID's slot has not yet called InitThisCPU (spec.md §4.3:
// enqueue "fails if ... the target CPU's state is not yet initialized"), or
// (with WithMaxQueueLen set) the queue is already at capacity; none of
// these is a panic, since a racing CPU count, a not-yet-booted peer, or a
// loaded peer are all conditions a caller may want to handle rather than
// crash on.
func (b *Bus) Enqueue(item workitem.Item, cpuID int) bool {
	slot := b.table.Slot(cpuID)
	if slot == nil || !slot.Initialized() {
		return false
	}

	flags := b.irq.SaveDisableInterrupts()
	defer b.irq.RestoreInterrupts(flags)

	slot.QueueMu.Lock()
	defer slot.QueueMu.Unlock()

	if b.maxQueueLen > 0 && slot.Queue.Len() >= b.maxQueueLen {
		return false
	}
	slot.Queue.PushTail(item)
	return true
}

// EnqueueAllExceptCurrent publishes item to every CPU's queue except
// currentCPU's own. It returns the number of CPUs the item was actually
// queued to.
func (b *Bus) EnqueueAllExceptCurrent(item workitem.Item, currentCPU int) int {
	n := 0
	for cpu := 0; cpu < b.table.Len(); cpu++ {
		if cpu == currentCPU {
			continue
		}
		if b.Enqueue(item, cpu) {
			n++
		}
	}
	return n
}

// NotifyAllExceptCurrent delivers the IPWI IPI to every CPU but the
// caller's, prompting each to run IPIHandler. It does not itself enqueue
// anything -- callers publish first, then notify, matching the original
// ipwi_enqueue_all_except_current / ipwi_notify_all_except_current split.
func (b *Bus) NotifyAllExceptCurrent(currentCPU int) {
	b.notifier.NotifyAllExceptCurrent(currentCPU)
}

// DequeueThisCPU removes and returns the head of cpuID's queue. Only the
// owning CPU (or, in tests, a stand-in for it) should call this.
func (b *Bus) DequeueThisCPU(cpuID int) (workitem.Item, bool) {
	slot := b.table.Slot(cpuID)
	if slot == nil {
		return workitem.Item{}, false
	}

	flags := b.irq.SaveDisableInterrupts()
	defer b.irq.RestoreInterrupts(flags)

	slot.QueueMu.Lock()
	defer slot.QueueMu.Unlock()

	return slot.Queue.PopHead()
}

// IPIHandler drains cpuID's queue, dispatching each item by type. It runs
// on receipt of the IPWI IPI; callers wire it as that interrupt's handler.
func (b *Bus) IPIHandler(cpuID int) {
	for {
		item, ok := b.DequeueThisCPU(cpuID)
		if !ok {
			return
		}
		b.dispatch(item)
	}
}

func (b *Bus) dispatch(item workitem.Item) {
	switch item.Type {
	case workitem.TLBShootdown:
		p := workitem.DecodeTLBShootdown(item)
		if b.invalidator == nil {
			klog.L().Debug().
				Uint64("start_vaddr", p.StartVAddr).
				Log("ipwi: tlb shootdown received with no invalidator wired")
			return
		}
		b.invalidator.InvalidateRange(uintptr(p.StartVAddr), p.PageCount)
	case workitem.RemoteExec:
		p := workitem.DecodeRemoteExec(item)
		fn, ok := b.registry.Lookup(p.FuncID)
		if !ok {
			klog.L().Debug().
				Uint64("func_id", p.FuncID).
				Log("ipwi: remote exec with unregistered func id")
			return
		}
		fn(p.Args)
	case workitem.PanicHalt:
		b.halter.HaltAndCatchFire()
	default:
		klog.L().Debug().
			Uint64("type", uint64(item.Type)).
			Log("ipwi: unknown work item type")
	}
}
