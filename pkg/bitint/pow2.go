// SPDX-License-Identifier: MIT
/*
Package bitint holds the power-of-two arithmetic used to size transform
frames. Frame sizes come from user configuration, so validation needs to
both reject a bad size and suggest the closest usable one.

All functions are allocation free and safe to call from the capture path.
*/
package bitint

import "math/bits"

// IsPowerOfTwo reports whether n is a positive power of two.
// A power of two has a single bit set, so clearing the lowest set bit
// with n&(n-1) leaves zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// NextPowerOfTwo returns the smallest power of two >= n.
// Values <= 1 return 1.
//
//	Input  Output
//	1000   1024
//	1024   1024
//	0      1
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// PrevPowerOfTwo returns the largest power of two <= n.
// Values <= 1 return 1.
func PrevPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << (bits.Len(uint(n)) - 1)
}

// NearestPowerOfTwo returns whichever of PrevPowerOfTwo and NextPowerOfTwo
// is closer to n. Ties go to the larger value, which gives the finer
// frequency resolution.
func NearestPowerOfTwo(n int) int {
	lo, hi := PrevPowerOfTwo(n), NextPowerOfTwo(n)
	if n-lo < hi-n {
		return lo
	}
	return hi
}

// Log2 returns the exponent of a power of two, or -1 if n is not one.
func Log2(n int) int {
	if !IsPowerOfTwo(n) {
		return -1
	}
	return bits.TrailingZeros(uint(n))
}
