package utils

import "golang.org/x/exp/constraints"

// AlignTo rounds val up to the next multiple of align, which must be a
// power of two; the mask arithmetic does not round to other alignments.
// A zero alignment leaves val unchanged.
func AlignTo[T constraints.Unsigned](val, align T) T {
	if align == 0 {
		return val
	}
	return (val + align - 1) &^ (align - 1)
}

// ScanDecimal reads a leading decimal run the way the ar format stores
// numbers: digits up to the first space, NUL or other non-digit.
func ScanDecimal[T constraints.Unsigned](field []byte) T {
	var value T
	for _, c := range field {
		if c < '0' || c > '9' {
			break
		}
		value = value*10 + T(c-'0')
	}
	return value
}
