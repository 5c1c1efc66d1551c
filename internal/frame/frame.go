// Package frame implements the ASCII length-prefixed framing used on the
// echo test wire: a 4-digit zero-padded decimal length followed by the body.
package frame

import (
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderLen is the size of the decimal length header.
	HeaderLen = 4
	// MaxBodyLen is the largest body a 4-digit header can describe.
	MaxBodyLen = 9999
)

// ErrFraming reports an oversize body, a malformed header or a truncated frame.
var ErrFraming = errors.New("frame: framing error")

// Wrap prefixes body with its length header.
func Wrap(body []byte) ([]byte, error) {
	if len(body) > MaxBodyLen {
		return nil, fmt.Errorf("%w: body of %d bytes exceeds %d", ErrFraming, len(body), MaxBodyLen)
	}
	out := make([]byte, HeaderLen+len(body))
	writeHeader(out[:HeaderLen], len(body))
	copy(out[HeaderLen:], body)
	return out, nil
}

// Unwrap returns the body of a single complete frame. A frame shorter than its
// header announces, or carrying bytes past the announced body, is rejected;
// streams should be read with a Reader instead.
func Unwrap(frame []byte) ([]byte, error) {
	if len(frame) < HeaderLen {
		return nil, fmt.Errorf("%w: truncated header (%d bytes)", ErrFraming, len(frame))
	}
	n, err := parseHeader(frame[:HeaderLen])
	if err != nil {
		return nil, err
	}
	rest := frame[HeaderLen:]
	if len(rest) < n {
		return nil, fmt.Errorf("%w: truncated frame, header says %d bytes, have %d", ErrFraming, n, len(rest))
	}
	if len(rest) > n {
		return nil, fmt.Errorf("%w: %d bytes after frame end", ErrFraming, len(rest)-n)
	}
	return rest, nil
}

func writeHeader(dst []byte, n int) {
	for i := HeaderLen - 1; i >= 0; i-- {
		dst[i] = byte('0' + n%10)
		n /= 10
	}
}

func parseHeader(h []byte) (int, error) {
	n := 0
	for _, c := range h {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: invalid length header %q", ErrFraming, h)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// Writer writes framed bodies to an underlying writer.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame wraps body and writes the whole frame with a single Write.
func (w *Writer) WriteFrame(body []byte) error {
	f, err := Wrap(body)
	if err != nil {
		return err
	}
	_, err = w.w.Write(f)
	return err
}
