// Command anosim wires Cookie Mint, Throttle, the IPWI bus, and the
// shootdown VMM façade together over the simulated host in hal/simhal, and
// walks through one TLB shootdown publication end to end. It exists to
// demonstrate the wiring, not to exercise real hardware.
package main

import (
	"fmt"
	"runtime"

	"github.com/roscopeco/anoscore/cookie"
	"github.com/roscopeco/anoscore/hal/simhal"
	"github.com/roscopeco/anoscore/internal/klog"
	"github.com/roscopeco/anoscore/ipwi"
	"github.com/roscopeco/anoscore/process"
	"github.com/roscopeco/anoscore/smp"
	"github.com/roscopeco/anoscore/throttle"
	"github.com/roscopeco/anoscore/vmmshootdown"
)

// nCPU uses runtime.NumCPU rather than go.uber.org/automaxprocs: the latter
// tunes GOMAXPROCS to a cgroup CPU quota, which has no meaning for this
// in-process hart simulation -- every simulated CPU is just a dense table
// index, never an OS thread pinned to a real core.
func nCPU() int {
	if n := runtime.NumCPU(); n > 1 {
		return n
	}
	return 2
}

func main() {
	n := nCPU()
	table := smp.NewTable(n)
	clock := &simhal.Clock{}
	entropy := &simhal.Entropy{Available: false}
	irq := simhal.NewInterrupts(func() int { return 0 })
	halter := &simhal.Halter{}

	proc := process.New(1, 0x9000)
	vmm := simhal.NewVMM(uintptr(proc.RootTablePhys))

	var bus *ipwi.Bus
	notifier := &simhal.Notifier{NCPU: n, Handler: func(cpu int) { bus.IPIHandler(cpu) }}
	bus = ipwi.New(table, irq, notifier, halter, ipwi.WithTLBInvalidator(vmm))

	for cpu := 0; cpu < n; cpu++ {
		if !bus.InitThisCPU(cpu) {
			panic("anosim: double init of CPU slot")
		}
	}

	facade := vmmshootdown.New(vmm, bus, irq)

	klog.L().Info().Int("ncpu", n).Log("anosim: booted")

	for cpu := 0; cpu < n; cpu++ {
		slot := table.Slot(cpu)
		c := cookie.Mint(slot, clock, entropy)
		fmt.Printf("cpu %d minted cookie %#016x\n", cpu, c)
	}

	// simhal.Notifier invokes IPIHandler synchronously for every peer, so by
	// the time MapPageInProcess returns every peer's queue has already been
	// drained and its shootdown dispatched to vmm.InvalidateRange; report
	// what was invalidated rather than re-dequeuing an already-empty queue.
	const publisherCPU = 0
	ok := facade.MapPageInProcess(proc, 0x40000, 0x50000, 0, publisherCPU)
	fmt.Printf("map_page_in_process ok=%v\n", ok)

	for _, r := range vmm.Invalidated() {
		fmt.Printf("invalidated vaddr=%#x pages=%d\n", r.VAddr, r.PageCount)
	}

	throttle.Abuse(proc, clock, entropy, func() {})
	fmt.Printf("process %d cap_failures now %d\n", proc.PID, proc.CapFailures())
}
