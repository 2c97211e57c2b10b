// SPDX-License-Identifier: MIT

/*
Package bitint provides the small set of power-of-two helpers used when
sizing capture buffers. Capture backends only accept power-of-two buffer
lengths for the analysis tap, so configuration is validated with
IsPowerOfTwo and user supplied sizes are rounded with NextPowerOfTwo.

All functions are allocation free and safe to call from the real-time
audio callback.

	size := bitint.NextPowerOfTwo(6000) // 8192
	ok := bitint.IsPowerOfTwo(size)     // true
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size. Values <= 0
// return 1. The size-1 step keeps exact powers of two unchanged.
func NextPowerOfTwo(size int) int {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Log2 returns log2(n) for a power of two n, and -1 otherwise.
func Log2(n int) int {
	if !IsPowerOfTwo(n) {
		return -1
	}
	return bits.TrailingZeros(uint(n))
}
