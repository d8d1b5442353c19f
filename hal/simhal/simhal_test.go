package simhal

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClockMonotonic(t *testing.T) {
	c := &Clock{}
	a := c.ReadCycles()
	b := c.ReadCycles()
	require.Less(t, a, b)
}

func TestEntropyUnavailable(t *testing.T) {
	e := &Entropy{Available: false}
	_, ok := e.TryRead()
	require.False(t, ok)
}

func TestEntropyAvailable(t *testing.T) {
	e := &Entropy{Available: true}
	v1, ok := e.TryRead()
	require.True(t, ok)
	v2, _ := e.TryRead()
	require.NotEqual(t, v1, v2)
}

func TestInterruptsNesting(t *testing.T) {
	ic := NewInterrupts(func() int { return 0 })
	f1 := ic.SaveDisableInterrupts()
	f2 := ic.SaveDisableInterrupts()
	ic.RestoreInterrupts(f2)
	ic.RestoreInterrupts(f1)
}

func TestNotifierCallsAllButCurrent(t *testing.T) {
	var mu sync.Mutex
	var called []int
	n := &Notifier{NCPU: 4, Handler: func(cpu int) {
		mu.Lock()
		defer mu.Unlock()
		called = append(called, cpu)
	}}
	n.NotifyAllExceptCurrent(2)
	require.ElementsMatch(t, []int{0, 1, 3}, called)
}

func TestVMMMapUnmapRoundTrip(t *testing.T) {
	v := NewVMM(0x1000)
	require.True(t, v.MapPageIn(0x1000, 0x2000, 0x3000, 0))
	require.EqualValues(t, 0x3000, v.UnmapPageIn(0x1000, 0x2000))
}

func TestVMMPhysToVirtUnknownRootFails(t *testing.T) {
	v := NewVMM()
	_, ok := v.PhysToVirt(0xdead)
	require.False(t, ok)
}

func TestVMMPhysToVirtKnownRootSucceeds(t *testing.T) {
	v := NewVMM()
	v.AddRoot(0x9000)
	_, ok := v.PhysToVirt(0x9000)
	require.True(t, ok)
}

func TestVMMMultiPageRoundTrip(t *testing.T) {
	v := NewVMM(0x1000)
	require.True(t, v.MapPagesIn(0x1000, 0x2000, 0x3000, 0, 3))
	first := v.UnmapPagesIn(0x1000, 0x2000, 3)
	require.EqualValues(t, 0x3000, first)
}

func TestVMMInvalidateRangeRecordsCalls(t *testing.T) {
	v := NewVMM(0x1000)
	v.InvalidateRange(0x2000, 3)
	v.InvalidateRange(0x5000, 1)
	require.Equal(t, []InvalidatedRange{
		{VAddr: 0x2000, PageCount: 3},
		{VAddr: 0x5000, PageCount: 1},
	}, v.Invalidated())
}

func TestHalterGoexitsCallingGoroutine(t *testing.T) {
	h := &Halter{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.HaltAndCatchFire()
		t.Error("unreachable: HaltAndCatchFire must not return")
	}()
	<-done
	require.True(t, h.Halted())
}
