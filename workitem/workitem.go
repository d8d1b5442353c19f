// Package workitem defines the fixed-layout inter-processor work item
// copied by value into per-CPU queues (spec.md §3, §4.3). It is a leaf
// package: no locking, no dispatch, just the wire shape and its codecs, so
// that both package smp (which stores the queues) and package ipwi (which
// dispatches on them) can depend on it without a cycle.
package workitem

import "encoding/binary"

// Type tags the 56-byte Payload's interpretation.
type Type uint32

const (
	// RemoteExec requests a registered function be invoked on the target
	// CPU with the given arguments.
	RemoteExec Type = iota + 1
	// TLBShootdown invalidates a page range in a victim address space.
	TLBShootdown
	// PanicHalt halts the receiving CPU; no payload.
	PanicHalt
)

func (t Type) String() string {
	switch t {
	case RemoteExec:
		return "REMOTE_EXEC"
	case TLBShootdown:
		return "TLB_SHOOTDOWN"
	case PanicHalt:
		return "PANIC_HALT"
	default:
		return "UNKNOWN"
	}
}

// Item is exactly 64 bytes, copied by value into and out of per-CPU queues.
// See workitem_test.go for the static size assertions required by spec.md
// §6 ("IPWI item size: 64 bytes; payload size: 56 bytes").
type Item struct {
	Type    Type
	Flags   uint32
	Payload [56]byte
}

// TLBShootdownPayload is the 56-byte decoded form of a TLBShootdown item's
// Payload. Exactly one of TargetPID / TargetRootTablePhys is non-zero
// (spec.md invariant I3); the zero-sentinel encoding matches the original C
// IpwiPayloadTLBShootdown layout byte-for-byte (reserved0, start_vaddr,
// page_count, target_pid, target_pml4, reserved1[2]).
type TLBShootdownPayload struct {
	StartVAddr          uint64
	PageCount           uint64
	TargetPID           uint64
	TargetRootTablePhys uint64
}

// EncodeTLBShootdown packs p into a 64-byte Item. It panics if p does not
// satisfy the pid-XOR-root-table invariant (I3): that invariant is a
// construction-time contract, not a runtime possibility this package should
// silently tolerate.
func EncodeTLBShootdown(p TLBShootdownPayload) Item {
	if (p.TargetPID == 0) == (p.TargetRootTablePhys == 0) {
		panic("workitem: exactly one of TargetPID or TargetRootTablePhys must be non-zero")
	}
	var item Item
	item.Type = TLBShootdown
	binary.LittleEndian.PutUint64(item.Payload[0:8], 0) // reserved0
	binary.LittleEndian.PutUint64(item.Payload[8:16], p.StartVAddr)
	binary.LittleEndian.PutUint64(item.Payload[16:24], p.PageCount)
	binary.LittleEndian.PutUint64(item.Payload[24:32], p.TargetPID)
	binary.LittleEndian.PutUint64(item.Payload[32:40], p.TargetRootTablePhys)
	return item
}

// DecodeTLBShootdown unpacks a TLBShootdown item's payload. The caller must
// have already checked item.Type == TLBShootdown.
func DecodeTLBShootdown(item Item) TLBShootdownPayload {
	return TLBShootdownPayload{
		StartVAddr:          binary.LittleEndian.Uint64(item.Payload[8:16]),
		PageCount:           binary.LittleEndian.Uint64(item.Payload[16:24]),
		TargetPID:           binary.LittleEndian.Uint64(item.Payload[24:32]),
		TargetRootTablePhys: binary.LittleEndian.Uint64(item.Payload[32:40]),
	}
}

// MaxRemoteExecArgs is the number of uint64 arguments a RemoteExec payload
// carries, mirroring the original IpwiPayloadRemoteExec's args[6].
const MaxRemoteExecArgs = 6

// RemoteExecPayload is the 56-byte decoded form of a RemoteExec item's
// payload. A Go func value cannot be packed into a fixed byte buffer the
// way a C function pointer can, so FuncID indirects through a registry
// (see ipwi.Registry) rather than embedding a closure -- this is the "sum type
// / discriminant plus uninterpreted bytes" option spec.md §9 allows.
type RemoteExecPayload struct {
	FuncID uint64
	Args   [MaxRemoteExecArgs]uint64
}

// EncodeRemoteExec packs p into a 64-byte Item.
func EncodeRemoteExec(p RemoteExecPayload) Item {
	var item Item
	item.Type = RemoteExec
	binary.LittleEndian.PutUint64(item.Payload[0:8], p.FuncID)
	for i, a := range p.Args {
		binary.LittleEndian.PutUint64(item.Payload[8+i*8:16+i*8], a)
	}
	return item
}

// DecodeRemoteExec unpacks a RemoteExec item's payload. The caller must have
// already checked item.Type == RemoteExec.
func DecodeRemoteExec(item Item) RemoteExecPayload {
	var p RemoteExecPayload
	p.FuncID = binary.LittleEndian.Uint64(item.Payload[0:8])
	for i := range p.Args {
		p.Args[i] = binary.LittleEndian.Uint64(item.Payload[8+i*8 : 16+i*8])
	}
	return p
}

// PanicHaltItem builds the (payload-less) PANIC_HALT item.
func PanicHaltItem() Item {
	return Item{Type: PanicHalt}
}
