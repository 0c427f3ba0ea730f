package memutils

import (
	"github.com/cockroachdb/errors"
)

// ErrNotPowerOfTwo is returned from CheckPow2 when the tested value is not a power of two
var ErrNotPowerOfTwo error = errors.New("number must be a power of two")

type Number interface {
	~int | ~uint
}

// CheckPow2 verifies that number is a power of two and returns an error naming the
// offending value otherwise.
func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return errors.Wrapf(ErrNotPowerOfTwo, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the nearest multiple of alignment. Alignment must be
// a power of two.
func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}
