package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uint64 | ~uintptr
}

// CheckPow2 returns an error unless number is a nonzero power of two.
func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment. Alignment
// must be a power of two.
func AlignUp(value uint64, alignment uint) uint64 {
	return (value + uint64(alignment) - 1) &^ (uint64(alignment) - 1)
}

// AlignDown rounds value down to the previous multiple of alignment.
// Alignment must be a power of two.
func AlignDown(value uint64, alignment uint) uint64 {
	return value &^ (uint64(alignment) - 1)
}
