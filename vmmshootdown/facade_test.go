package vmmshootdown

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/roscopeco/anoscore/hal"
	"github.com/roscopeco/anoscore/ipwi"
	"github.com/roscopeco/anoscore/process"
	"github.com/roscopeco/anoscore/smp"
	"github.com/roscopeco/anoscore/workitem"
)

type fakeVMM struct {
	mapped         map[uintptr]uintptr
	translateFails bool
	mapFails       bool
}

func newFakeVMM() *fakeVMM {
	return &fakeVMM{mapped: make(map[uintptr]uintptr)}
}

func (f *fakeVMM) MapPageIn(rootPhys, vaddr, phys uintptr, flags uint64) bool {
	if f.mapFails {
		return false
	}
	f.mapped[vaddr] = phys
	return true
}

func (f *fakeVMM) UnmapPageIn(rootPhys, vaddr uintptr) uintptr {
	phys := f.mapped[vaddr]
	delete(f.mapped, vaddr)
	return phys
}

func (f *fakeVMM) MapPagesIn(rootPhys, vaddr, phys uintptr, flags uint64, n int) bool {
	if f.mapFails {
		return false
	}
	for i := 0; i < n; i++ {
		f.mapped[vaddr+uintptr(i)*0x1000] = phys + uintptr(i)*0x1000
	}
	return true
}

func (f *fakeVMM) UnmapPagesIn(rootPhys, vaddr uintptr, n int) uintptr {
	first := f.mapped[vaddr]
	for i := 0; i < n; i++ {
		delete(f.mapped, vaddr+uintptr(i)*0x1000)
	}
	return first
}

func (f *fakeVMM) PhysToVirt(phys uintptr) (unsafe.Pointer, bool) {
	if f.translateFails {
		return nil, false
	}
	return unsafe.Pointer(&struct{}{}), true
}

type countingIRQ struct {
	disableCalls int
	restoreCalls int
	restoreOrder []hal.InterruptFlags
}

func (c *countingIRQ) SaveDisableInterrupts() hal.InterruptFlags {
	c.disableCalls++
	return hal.InterruptFlags(c.disableCalls)
}

func (c *countingIRQ) RestoreInterrupts(f hal.InterruptFlags) {
	c.restoreCalls++
	c.restoreOrder = append(c.restoreOrder, f)
}

type noopNotifier struct{}

func (noopNotifier) NotifyAllExceptCurrent(currentCPU int) {}

type noopHalter struct{}

func (noopHalter) HaltAndCatchFire() {}

func newFacadeHarness(nCPU int) (*Facade, *fakeVMM, *ipwi.Bus, *smp.Table, *countingIRQ) {
	tbl := smp.NewTable(nCPU)
	vmm := newFakeVMM()
	irq := &countingIRQ{}
	bus := ipwi.New(tbl, irq, noopNotifier{}, noopHalter{})
	for cpu := 0; cpu < tbl.Len(); cpu++ {
		if !bus.InitThisCPU(cpu) {
			panic("newFacadeHarness: init failed")
		}
	}
	f := New(vmm, bus, irq)
	return f, vmm, bus, tbl, irq
}

// TestMapPageInProcessShootsDownPeers mirrors end-to-end scenario 4 from
// spec.md §8: a 4-CPU system where CPU 2 maps a page into a process, and
// CPUs 0, 1, 3 each receive the shootdown item while CPU 2's own queue is
// untouched.
func TestMapPageInProcessShootsDownPeers(t *testing.T) {
	f, vmm, bus, tbl, _ := newFacadeHarness(4)
	proc := process.New(7, 0x9000)

	ok := f.MapPageInProcess(proc, 0x2000, 0x3000, 0, 2)
	require.True(t, ok)
	require.Equal(t, uintptr(0x3000), vmm.mapped[0x2000])

	for cpu := 0; cpu < tbl.Len(); cpu++ {
		item, got := bus.DequeueThisCPU(cpu)
		if cpu == 2 {
			require.False(t, got, "the broadcasting CPU must not receive its own shootdown")
			continue
		}
		require.True(t, got)
		require.Equal(t, workitem.TLBShootdown, item.Type)
		payload := workitem.DecodeTLBShootdown(item)
		require.EqualValues(t, 0x2000, payload.StartVAddr)
		require.EqualValues(t, 1, payload.PageCount)
		require.EqualValues(t, 7, payload.TargetPID)
		require.Zero(t, payload.TargetRootTablePhys)
	}
}

// TestTranslationFailureAbortsCleanly mirrors end-to-end scenario 5: when
// the root table cannot be resolved to a kernel pointer, the façade makes
// no local or remote changes and reports failure.
func TestTranslationFailureAbortsCleanly(t *testing.T) {
	f, vmm, bus, _, irq := newFacadeHarness(2)
	vmm.translateFails = true
	proc := process.New(1, 0x9000)

	ok := f.MapPageInProcess(proc, 0x1000, 0x2000, 0, 0)
	require.False(t, ok)
	require.Empty(t, vmm.mapped)
	require.Zero(t, irq.disableCalls, "interrupts must never be masked for a translation that can't succeed")

	_, got := bus.DequeueThisCPU(1)
	require.False(t, got)
}

func TestLocalMapFailureDoesNotPublish(t *testing.T) {
	f, vmm, bus, _, irq := newFacadeHarness(2)
	vmm.mapFails = true
	proc := process.New(1, 0x9000)

	ok := f.MapPageInProcess(proc, 0x1000, 0x2000, 0, 0)
	require.False(t, ok)
	require.Equal(t, 1, irq.disableCalls)
	require.Equal(t, 1, irq.restoreCalls, "interrupts must be restored even when the local mutation fails")

	_, got := bus.DequeueThisCPU(1)
	require.False(t, got)
}

// TestUnmapRoundTrip is the round-trip law from spec.md §8:
// unmap(map(v, p)) returns p.
func TestUnmapRoundTrip(t *testing.T) {
	f, _, _, _, _ := newFacadeHarness(2)
	proc := process.New(1, 0x9000)

	require.True(t, f.MapPageInProcess(proc, 0x4000, 0x5000, 0, 0))
	phys, ok := f.UnmapPageInProcess(proc, 0x4000, 0)
	require.True(t, ok)
	require.EqualValues(t, 0x5000, phys)
}

func TestMapPageInRootUsesRootTablePhysNotPID(t *testing.T) {
	f, _, bus, _, _ := newFacadeHarness(2)

	require.True(t, f.MapPageInRoot(0xA000, 0x1000, 0x2000, 0, 0))

	item, got := bus.DequeueThisCPU(1)
	require.True(t, got)
	payload := workitem.DecodeTLBShootdown(item)
	require.Zero(t, payload.TargetPID)
	require.EqualValues(t, 0xA000, payload.TargetRootTablePhys)
}

func TestMapPagesInProcessMultiPage(t *testing.T) {
	f, vmm, bus, _, _ := newFacadeHarness(2)
	proc := process.New(3, 0x9000)

	require.True(t, f.MapPagesInProcess(proc, 0x1000, 0x2000, 0, 4, 0))
	require.Len(t, vmm.mapped, 4)

	item, got := bus.DequeueThisCPU(1)
	require.True(t, got)
	payload := workitem.DecodeTLBShootdown(item)
	require.EqualValues(t, 4, payload.PageCount)
}

func TestInterruptsRestoredOnSuccessPath(t *testing.T) {
	f, _, _, _, irq := newFacadeHarness(2)
	proc := process.New(1, 0x9000)
	require.True(t, f.MapPageInProcess(proc, 0x1000, 0x2000, 0, 0))
	require.Equal(t, irq.disableCalls, irq.restoreCalls)
}
