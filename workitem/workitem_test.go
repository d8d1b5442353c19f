package workitem

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestSizes(t *testing.T) {
	require.EqualValues(t, 64, unsafe.Sizeof(Item{}), "Item must be exactly 64 bytes")
	require.EqualValues(t, 56, unsafe.Sizeof(Item{}.Payload), "Payload must be exactly 56 bytes")
}

func TestTLBShootdownRoundTrip(t *testing.T) {
	p := TLBShootdownPayload{StartVAddr: 0x1000, PageCount: 3, TargetPID: 7}
	item := EncodeTLBShootdown(p)
	require.Equal(t, TLBShootdown, item.Type)

	got := DecodeTLBShootdown(item)
	require.Equal(t, p, got)
}

func TestTLBShootdownXORInvariant(t *testing.T) {
	require.Panics(t, func() {
		EncodeTLBShootdown(TLBShootdownPayload{StartVAddr: 1, TargetPID: 0, TargetRootTablePhys: 0})
	}, "neither target set must panic")

	require.Panics(t, func() {
		EncodeTLBShootdown(TLBShootdownPayload{StartVAddr: 1, TargetPID: 7, TargetRootTablePhys: 0x2000})
	}, "both targets set must panic")

	require.NotPanics(t, func() {
		EncodeTLBShootdown(TLBShootdownPayload{TargetRootTablePhys: 0x2000})
	})
}

func TestRemoteExecRoundTrip(t *testing.T) {
	p := RemoteExecPayload{FuncID: 42, Args: [6]uint64{1, 2, 3, 4, 5, 6}}
	item := EncodeRemoteExec(p)
	require.Equal(t, RemoteExec, item.Type)
	require.Equal(t, p, DecodeRemoteExec(item))
}

func TestPanicHaltItem(t *testing.T) {
	item := PanicHaltItem()
	require.Equal(t, PanicHalt, item.Type)
}

func TestTypeString(t *testing.T) {
	require.Equal(t, "REMOTE_EXEC", RemoteExec.String())
	require.Equal(t, "TLB_SHOOTDOWN", TLBShootdown.String())
	require.Equal(t, "PANIC_HALT", PanicHalt.String())
	require.Equal(t, "UNKNOWN", Type(999).String())
}
