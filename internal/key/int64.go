package key

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
)

const signBit = uint64(1) << 63

// Compile-time checks that Int64 implements Range and Discrete.
var (
	_ Range[Int64]    = Int64(0)
	_ Discrete[Int64] = Int64(0)
)

// Int64 is a discrete range key over signed 64-bit integers.
type Int64 int64

// Compare orders keys numerically.
func (k Int64) Compare(other Int64) int { return cmp.Compare(k, other) }

// RangeMin returns math.MinInt64.
func (k Int64) RangeMin() Int64 { return math.MinInt64 }

// RangeMax returns math.MaxInt64.
func (k Int64) RangeMax() Int64 { return math.MaxInt64 }

// Key returns 16 lowercase hex digits of the value with its sign bit
// flipped, which sorts like the integers themselves.
func (k Int64) Key() string {
	return fmt.Sprintf("%016x", uint64(k)^signBit)
}

// Next returns k+1.
func (k Int64) Next() (Int64, bool) {
	if k == math.MaxInt64 {
		return k, false
	}
	return k + 1, true
}

// Prev returns k-1.
func (k Int64) Prev() (Int64, bool) {
	if k == math.MinInt64 {
		return k, false
	}
	return k - 1, true
}

// ParseInt64 rebuilds an Int64 from its Key() encoding.
func ParseInt64(encoded string) (Int64, error) {
	if len(encoded) != 16 {
		return 0, invalid("int64", encoded)
	}
	u, err := strconv.ParseUint(encoded, 16, 64)
	if err != nil {
		return 0, invalid("int64", encoded)
	}
	return Int64(u ^ signBit), nil
}
