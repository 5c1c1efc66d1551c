package iso8583

import "errors"

var (
	// ErrEncoding reports a message that cannot be put on the wire, e.g. a
	// value whose width does not match the dictionary.
	ErrEncoding = errors.New("iso8583: encoding error")

	// ErrDecoding reports a truncated or malformed body, or a bitmap naming a
	// field outside the dictionary.
	ErrDecoding = errors.New("iso8583: decoding error")
)
