package math

import "golang.org/x/exp/constraints"

// AlignUp rounds x up to the next multiple of a. The alignment must be a
// power of two; zero leaves x unchanged.
func AlignUp[T constraints.Unsigned](x, a T) T {
	if a == 0 {
		return x
	}
	return (x + a - 1) &^ (a - 1)
}

// IsPowerOfTwo reports whether x is a non-zero power of two.
func IsPowerOfTwo[T constraints.Unsigned](x T) bool {
	return x != 0 && x&(x-1) == 0
}
