package frame

import (
	"fmt"
	"io"
)

const readChunk = 4096

// Reader extracts frames from a byte stream. TCP may split a frame across
// reads or deliver several frames in one, so Reader accumulates bytes until a
// whole frame is buffered.
//
// Bytes already received are kept when the underlying Read fails, so a read
// that hits a deadline can be retried without losing stream alignment.
type Reader struct {
	r     io.Reader
	buf   []byte
	chunk []byte
}

// NewReader returns a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, chunk: make([]byte, readChunk)}
}

// ReadFrame returns the next frame body. A malformed header yields ErrFraming
// and leaves the stream unusable. End of stream in the middle of a frame is
// reported as io.ErrUnexpectedEOF.
func (r *Reader) ReadFrame() ([]byte, error) {
	for {
		body, ok, err := r.next()
		if err != nil {
			return nil, err
		}
		if ok {
			return body, nil
		}

		n, err := r.r.Read(r.chunk)
		r.buf = append(r.buf, r.chunk[:n]...)
		if n > 0 {
			continue
		}
		if err == io.EOF && len(r.buf) > 0 {
			return nil, fmt.Errorf("stream ended inside a frame (%d bytes buffered): %w", len(r.buf), io.ErrUnexpectedEOF)
		}
		if err != nil {
			return nil, err
		}
	}
}

// Buffered returns the number of bytes received but not yet returned.
func (r *Reader) Buffered() int {
	return len(r.buf)
}

func (r *Reader) next() ([]byte, bool, error) {
	if len(r.buf) < HeaderLen {
		return nil, false, nil
	}
	n, err := parseHeader(r.buf[:HeaderLen])
	if err != nil {
		return nil, false, err
	}
	end := HeaderLen + n
	if len(r.buf) < end {
		return nil, false, nil
	}
	body := make([]byte, n)
	copy(body, r.buf[HeaderLen:end])

	remaining := copy(r.buf, r.buf[end:])
	r.buf = r.buf[:remaining]
	return body, true, nil
}
