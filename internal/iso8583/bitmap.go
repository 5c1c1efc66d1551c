package iso8583

import (
	"fmt"
	"strconv"
)

// bitmap holds the primary (index 0) and secondary (index 1) bitmaps.
// Bit n is counted from 1 at the most significant bit of the primary word.
type bitmap [2]uint64

func (b *bitmap) set(n int) {
	b[(n-1)/64] |= 1 << (63 - uint((n-1)%64))
}

func (b bitmap) isSet(n int) bool {
	return b[(n-1)/64]&(1<<(63-uint((n-1)%64))) != 0
}

func (b bitmap) hex(word int) string {
	return fmt.Sprintf("%016X", b[word])
}

func parseBitmapWord(s string) (uint64, error) {
	if len(s) != bitmapLen {
		return 0, fmt.Errorf("bitmap must be %d hex characters, got %d", bitmapLen, len(s))
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid bitmap %q", s)
	}
	return v, nil
}

// Bits returns the bit positions set in a primary and optional secondary
// bitmap, in ascending order. It is meant for diagnostics.
func Bits(primary, secondary string) ([]int, error) {
	var b bitmap
	var err error
	if b[0], err = parseBitmapWord(primary); err != nil {
		return nil, err
	}
	if secondary != "" {
		if b[1], err = parseBitmapWord(secondary); err != nil {
			return nil, err
		}
	}
	var bits []int
	for n := 1; n <= maxField; n++ {
		if b.isSet(n) {
			bits = append(bits, n)
		}
	}
	return bits, nil
}
