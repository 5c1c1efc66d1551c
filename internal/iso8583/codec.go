package iso8583

import (
	"fmt"
	"strings"
)

// Encode renders m as a wire body: MTI, bitmaps, then the present field
// values in ascending field order.
//
// The secondary bitmap is always derived from the fields present. A
// caller-supplied SecondaryBitmap (e.g. copied from a request) must agree
// with the derived one.
func Encode(m Message) (string, error) {
	if !validMTI(m.MTI) {
		return "", fmt.Errorf("%w: invalid MTI %q", ErrEncoding, m.MTI)
	}

	var bm bitmap
	size := mtiLen + bitmapLen
	for _, f := range Dictionary[1:] {
		v := m.Get(f)
		if v == "" {
			continue
		}
		want, _ := f.Length()
		if len(v) != want {
			return "", fmt.Errorf("%w: field %d has length %d, want %d", ErrEncoding, int(f), len(v), want)
		}
		bm.set(int(f))
		size += want
	}

	secondary := m.needsSecondary()
	if secondary {
		bm.set(int(FieldSecondaryBitmap))
		size += bitmapLen
		if m.SecondaryBitmap != "" {
			if len(m.SecondaryBitmap) != bitmapLen {
				return "", fmt.Errorf("%w: field 1 has length %d, want %d", ErrEncoding, len(m.SecondaryBitmap), bitmapLen)
			}
			if !strings.EqualFold(m.SecondaryBitmap, bm.hex(1)) {
				return "", fmt.Errorf("%w: secondary bitmap %s does not match fields present (%s)", ErrEncoding, m.SecondaryBitmap, bm.hex(1))
			}
		}
	}

	var sb strings.Builder
	sb.Grow(size)
	sb.WriteString(m.MTI)
	sb.WriteString(bm.hex(0))
	if secondary {
		sb.WriteString(bm.hex(1))
	}
	for _, f := range Dictionary[1:] {
		sb.WriteString(m.Get(f))
	}
	return sb.String(), nil
}

// Decode parses a wire body produced by Encode. It is the exact left
// inverse of Encode for messages drawn from the dictionary; trailing bytes
// after the last field are rejected.
func Decode(body string) (Message, error) {
	var m Message
	if len(body) < mtiLen+bitmapLen {
		return m, fmt.Errorf("%w: message too short (%d bytes)", ErrDecoding, len(body))
	}
	m.MTI = body[:mtiLen]
	if !validMTI(m.MTI) {
		return m, fmt.Errorf("%w: invalid MTI %q", ErrDecoding, m.MTI)
	}

	var bm bitmap
	var err error
	pos := mtiLen
	if bm[0], err = parseBitmapWord(body[pos : pos+bitmapLen]); err != nil {
		return m, fmt.Errorf("%w: primary %v", ErrDecoding, err)
	}
	pos += bitmapLen

	if bm.isSet(int(FieldSecondaryBitmap)) {
		if len(body) < pos+bitmapLen {
			return m, fmt.Errorf("%w: secondary bitmap truncated", ErrDecoding)
		}
		m.SecondaryBitmap = body[pos : pos+bitmapLen]
		if bm[1], err = parseBitmapWord(m.SecondaryBitmap); err != nil {
			return m, fmt.Errorf("%w: secondary %v", ErrDecoding, err)
		}
		pos += bitmapLen
	}

	for n := 2; n <= maxField; n++ {
		if !bm.isSet(n) {
			continue
		}
		f := Field(n)
		length, ok := f.Length()
		if !ok {
			return m, fmt.Errorf("%w: unsupported field %d", ErrDecoding, n)
		}
		if pos+length > len(body) {
			return m, fmt.Errorf("%w: field %d truncated (need %d bytes at offset %d, have %d)", ErrDecoding, n, length, pos, len(body)-pos)
		}
		// Set cannot fail here, f is in the dictionary.
		_ = m.Set(f, body[pos:pos+length])
		pos += length
	}

	if pos != len(body) {
		return m, fmt.Errorf("%w: %d unexpected trailing bytes", ErrDecoding, len(body)-pos)
	}
	return m, nil
}
