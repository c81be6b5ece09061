// SPDX-License-Identifier: MIT
/*
Package bitint provides the bit manipulation helpers used to validate and
suggest transform frame sizes. Every function is O(1), allocation free and
safe to call from the audio callback.

Usage:

	// Reject a frame size the radix-4 transform cannot take
	if !bitint.IsPowerOfFour(size) {
		return fmt.Errorf("size %d, try %d", size, bitint.NextPowerOfFour(size))
	}

----------------------------------------------------------------------

What this code does:

	NextPowerOfTwo returns the next power of 2 greater than or equal
	to size. The subtraction (size-1) keeps exact powers of 2 stable:

	- For input 8: size-1 = 7 (0111), bits.Len(7) = 3, 1 << 3 = 8
	- Without it:  bits.Len(8) = 4, 1 << 4 = 16 (doubled)

	A power of 4 is a power of 2 whose single set bit sits at an even
	position, so IsPowerOfFour masks with 0x5555... after the power of 2
	check, and NextPowerOfFour rounds an odd exponent up by one.
*/
package bitint

import "math/bits"

// evenBits has every even bit position set (1, 4, 16, 64, ...).
const evenBits = 0x5555555555555555

// NextPowerOfTwo returns the next power of 2 >= size.
//
// Examples:
//
//	Input  Output  Explanation
//	4      4      Already power of 2 (preserved)
//	5      8      Next power after 5
//	0      1      Handle zero case
//	-1     1      Handle negative case
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// NextPowerOfFour returns the next power of 4 >= size.
//
// Examples:
//
//	Input  Output
//	4      4
//	5      16
//	512    1024
//	0      1
func NextPowerOfFour(size int) int {
	if size <= 0 {
		return 1
	}
	shift := bits.Len(uint(size - 1))
	if shift%2 != 0 {
		shift++
	}
	return 1 << shift
}

// IsPowerOfTwo checks if n is a power of 2 using bit manipulation.
// The expression (n & (n-1)) == 0 works because:
//   - Powers of 2 have exactly one bit set
//   - Subtracting 1 from a power of 2 sets all lower bits
//   - AND operation will be 0 only for powers of 2
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// IsPowerOfFour reports whether n is 4^k for some k >= 0.
//
//	Input  Output  Binary
//	16     true    10000 (bit 4, even)
//	8      false   1000  (bit 3, odd)
//	1      true    1     (4^0)
func IsPowerOfFour(n int) bool {
	return IsPowerOfTwo(n) && uint64(n)&evenBits != 0
}

// IsPowerOfRadix reports whether n is a positive integer power of radix.
// Only the radices a split-radix FFT kernel is built from (2 and 4) are
// recognised, any other radix reports false.
func IsPowerOfRadix(n, radix int) bool {
	switch radix {
	case 2:
		return IsPowerOfTwo(n)
	case 4:
		return IsPowerOfFour(n)
	default:
		return false
	}
}

// NextPowerOfRadix returns the next power of radix >= size, or 0 when the
// radix is not supported.
func NextPowerOfRadix(size, radix int) int {
	switch radix {
	case 2:
		return NextPowerOfTwo(size)
	case 4:
		return NextPowerOfFour(size)
	default:
		return 0
	}
}
