// Package smp holds the per-CPU state table shared by cookie minting and
// the IPWI bus. It is the Go realization of spec.md §3's "Per-CPU State":
// a process-lifetime table, initialized once per boot, with per-CPU slots
// populated at CPU bring-up and lock scope confined to the slot.
package smp

import (
	"sync"
	"sync/atomic"

	"github.com/roscopeco/anoscore/internal/ringbuf"
	"github.com/roscopeco/anoscore/workitem"
)

const defaultQueueCapacity = 16

// Slot is one CPU's state. Never copy a Slot; always hold it by pointer via
// Table.Slot.
type Slot struct {
	// CPUID is this slot's dense index in [0, Table.Len()).
	CPUID int

	// cookieCounter is incremented once per Cookie Mint call on this CPU that
	// takes the cycle-counter path (not when hardware entropy supplies the
	// input), and once more for each re-mint of a zero result; only this CPU
	// ever writes it (relaxed atomic per spec.md §3).
	cookieCounter uint64

	// QueueMu guards Queue. Acquire with interrupts saved-and-disabled on
	// both the producer (remote enqueue) and consumer (local dequeue, from
	// IPI context) paths -- see spec.md invariant I2.
	QueueMu sync.Mutex

	// Queue holds pending work items; ipwi.Bus owns their interpretation.
	// Stored here (rather than in package ipwi) so smp.Table remains the
	// single owner of all per-CPU state, per the "global per-CPU state
	// table" redesign note in spec.md §9. Access only while holding QueueMu.
	Queue *ringbuf.Deque[workitem.Item]

	// initialized is read from any CPU via Enqueue (targeting this slot) and
	// written once by the owning CPU via MarkInitialized, so it needs atomic
	// access rather than QueueMu (enqueue must reject an uninitialized slot
	// before ever touching the queue lock).
	initialized atomic.Bool
}

// NextCookieCounter atomically increments and returns this slot's cookie
// counter. Only the CPU that owns this slot should call it.
func (s *Slot) NextCookieCounter() uint64 {
	return atomic.AddUint64(&s.cookieCounter, 1)
}

// MarkInitialized records that ipwi.Bus.InitThisCPU has run for this slot.
// Returns false if it had already been called -- double-init is a
// programmer error, reported per spec.md §7 rather than silently tolerated.
func (s *Slot) MarkInitialized() bool {
	return s.initialized.CompareAndSwap(false, true)
}

// Initialized reports whether MarkInitialized has succeeded for this slot.
func (s *Slot) Initialized() bool {
	return s.initialized.Load()
}

// Table is the process-wide array of per-CPU slots, indexed [0, N_CPU).
type Table struct {
	slots []Slot
}

// NewTable allocates a table for nCPU dense CPU ids. Panics if nCPU <= 0,
// mirroring the constructor-time validation style of the teacher's own
// catrate.NewLimiter and microbatch.NewBatcher.
func NewTable(nCPU int) *Table {
	if nCPU <= 0 {
		panic("smp: nCPU must be positive")
	}
	t := &Table{slots: make([]Slot, nCPU)}
	for i := range t.slots {
		t.slots[i].CPUID = i
		t.slots[i].Queue = ringbuf.New[workitem.Item](defaultQueueCapacity)
	}
	return t
}

// Len returns N_CPU for this table.
func (t *Table) Len() int {
	return len(t.slots)
}

// Slot returns the slot for cpuID, or nil if cpuID is out of range.
func (t *Table) Slot(cpuID int) *Slot {
	if cpuID < 0 || cpuID >= len(t.slots) {
		return nil
	}
	return &t.slots[cpuID]
}
