// Package mix implements the avalanche finalizer shared by cookie minting
// and abuse throttling. It is not a cryptographic primitive.
package mix

// Finalize applies the 64-bit finalizer from Murmur3 (fmix64): three
// xor-shift/multiply rounds that decorrelate monotonic inputs. It must not
// be swapped for a cryptographic hash without revisiting its role in both
// cookie uniqueness and throttle jitter derivation.
func Finalize(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}
