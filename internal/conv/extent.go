package conv

import (
	"errors"
	"fmt"
	"math"
)

// ErrOverflow reports a size that does not fit in int64.
var ErrOverflow = errors.New("integer overflow")

// Extent multiplies non-negative factors (columns, rows, channels, sample
// size) and fails instead of wrapping around.
func Extent(factors ...int64) (int64, error) {
	n := int64(1)
	for _, f := range factors {
		if f < 0 {
			return 0, fmt.Errorf("%w: negative factor %d", ErrOverflow, f)
		}
		if f != 0 && n > math.MaxInt64/f {
			return 0, fmt.Errorf("%w: extent %v", ErrOverflow, factors)
		}
		n *= f
	}
	return n, nil
}
