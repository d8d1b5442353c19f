// Package cookie mints non-forgeable 64-bit capability tokens, per spec.md
// §4.1. It is a leaf component: no locks, no allocation, no dependency on
// any other core component.
package cookie

import (
	"github.com/roscopeco/anoscore/internal/mix"
	"github.com/roscopeco/anoscore/smp"
)

// hartMultiplier disambiguates cookies minted on different harts at the
// same cycle count. It is not the constant the x86_64 capability cookie
// generator uses (original_source/kernel/arch/x86_64/capabilities/cookies.c
// uses 0x9e3779b97f4a7c15 for the same purpose, against the TSC and cpu_id);
// spec.md §4.1 specifies this exact multiplier for the algorithm it
// describes.
const hartMultiplier = 0x517cc1b727220a95

// Mint returns a cookie that is never zero and is unique, with high
// probability, against every other cookie minted on this boot. It requires
// no dynamic allocation and blocks on no other subsystem (spec.md §4.1
// contract (a)-(d)).
//
// slot must be the calling hart's own smp.Slot -- only the owning CPU may
// call Mint against a given slot, since NextCookieCounter assumes a single
// writer. clock is the per-hart cycle counter; entropy is optional hardware
// RNG support (nil is treated as "unavailable").
func Mint(slot *smp.Slot, clock CycleCounter, entropy Entropy) uint64 {
	var raw uint64

	if hw, ok := tryEntropy(entropy); ok {
		raw = hw
	} else {
		c := clock.ReadCycles()
		n := slot.NextCookieCounter()
		k := uint64(slot.CPUID)
		raw = (c << 1) ^ (n << 3) ^ (k * hartMultiplier)
	}

	cookie := mix.Finalize(raw)
	for cookie == 0 {
		// astronomically unlikely (spec.md I1); re-mint by perturbing the
		// input with another counter tick rather than looping on the same
		// dead input forever.
		cookie = mix.Finalize(raw ^ slot.NextCookieCounter())
	}
	return cookie
}

func tryEntropy(entropy Entropy) (uint64, bool) {
	if entropy == nil {
		return 0, false
	}
	return entropy.TryRead()
}

// CycleCounter is the subset of hal.CycleCounter this package consumes.
type CycleCounter interface {
	ReadCycles() uint64
}

// Entropy is the subset of hal.Entropy this package consumes.
type Entropy interface {
	TryRead() (uint64, bool)
}
