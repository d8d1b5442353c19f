// Package throttle implements the escalating spin-delay abuse penalty
// described in spec.md §4.2. Each capability-check failure a process
// accumulates raises the floor of the delay the next failure incurs, up to
// a fixed ceiling; a jittered component on top defeats a timing side
// channel built on the delay itself.
package throttle

import (
	"github.com/roscopeco/anoscore/internal/mix"
	"github.com/roscopeco/anoscore/process"
)

const (
	baseDelay  = 50000
	perFailure = 5000
	ceiling    = 1000000
)

// CycleCounter is the subset of hal.CycleCounter this package consumes.
type CycleCounter interface {
	ReadCycles() uint64
}

// Entropy is the subset of hal.Entropy this package consumes.
type Entropy interface {
	TryRead() (uint64, bool)
}

// delayFor computes the base spin-delay cycle count for a process with the
// given capability-failure count: 50000 cycles plus 5000 per prior failure,
// capped at 1000000 (spec.md §4.2).
func delayFor(capFailures uint64) uint64 {
	d := uint64(baseDelay) + perFailure*capFailures
	if d > ceiling {
		return ceiling
	}
	return d
}

func jitter(entropy Entropy, clock CycleCounter, base uint64) uint64 {
	if entropy != nil {
		if hw, ok := entropy.TryRead(); ok {
			return hw % base
		}
	}
	return mix.Finalize(clock.ReadCycles()) % base
}

// Abuse increments p's capability-failure count and busy-spins the calling
// hart for base+jitter cycles, where base escalates with p's failure
// history and jitter is drawn from entropy (falling back to the cycle
// counter mixed through internal/mix when no hardware RNG is available).
// pause is called once per poll of the cycle counter so the spin yields the
// execution unit each iteration; pass a no-op if the host has no such
// instruction.
//
// Abuse never blocks on a lock or another subsystem: it is meant to be
// safely callable from the capability-check failure path itself, which may
// run with interrupts disabled.
//
// The delay is derived from p's failure count as it stands *before* this
// call (spec.md §4.2: "blocks ... for a delay derived from the subject's
// failure count, then increments the counter by 1") -- the first abuse call
// against a fresh subject always spins the base-floor delay, not
// base+perFailure.
func Abuse(p *process.Process, clock CycleCounter, entropy Entropy, pause func()) {
	base := delayFor(p.CapFailures())
	delay := base + jitter(entropy, clock, base)

	start := clock.ReadCycles()
	for clock.ReadCycles()-start < delay {
		if pause != nil {
			pause()
		}
	}

	p.RecordCapFailure()
}

// Reset clears p's capability-failure count, returning its delay escalation
// to the floor. Only reachable when the host exposes a reset path; spec.md
// §4.2 notes the original kernel guards this behind a build-time switch
// disabled by default, since an unconditionally-reachable reset would
// defeat the escalation it's gating.
func Reset(p *process.Process) {
	p.ResetCapFailures()
}
