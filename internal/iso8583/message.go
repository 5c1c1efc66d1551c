package iso8583

import (
	"fmt"
	"strconv"
)

// Message is an echo test message. Every supported field has its own member;
// an empty string means the field is absent.
type Message struct {
	MTI string

	SecondaryBitmap      string
	TransmissionDateTime string
	STAN                 string
	RRN                  string
	ResponseCode         string
	NetworkMgmtCode      string
}

// Get returns the value of f, or "" when f is absent or unsupported.
func (m *Message) Get(f Field) string {
	switch f {
	case FieldSecondaryBitmap:
		return m.SecondaryBitmap
	case FieldTransmissionDateTime:
		return m.TransmissionDateTime
	case FieldSTAN:
		return m.STAN
	case FieldRRN:
		return m.RRN
	case FieldResponseCode:
		return m.ResponseCode
	case FieldNetworkMgmtCode:
		return m.NetworkMgmtCode
	}
	return ""
}

// Set assigns the value of f. Setting a field outside the dictionary fails.
func (m *Message) Set(f Field, value string) error {
	switch f {
	case FieldSecondaryBitmap:
		m.SecondaryBitmap = value
	case FieldTransmissionDateTime:
		m.TransmissionDateTime = value
	case FieldSTAN:
		m.STAN = value
	case FieldRRN:
		m.RRN = value
	case FieldResponseCode:
		m.ResponseCode = value
	case FieldNetworkMgmtCode:
		m.NetworkMgmtCode = value
	default:
		return fmt.Errorf("unsupported field %d", int(f))
	}
	return nil
}

// PresentFields returns the fields that would be encoded, in ascending order.
// Field 1 is included whenever a secondary bitmap is needed.
func (m *Message) PresentFields() []Field {
	var fields []Field
	if m.needsSecondary() {
		fields = append(fields, FieldSecondaryBitmap)
	}
	for _, f := range Dictionary[1:] {
		if m.Get(f) != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// FieldMap returns the non-empty fields keyed by field number, plus the MTI
// under "MTI". It is the shape handed to reporting and logging.
func (m *Message) FieldMap() map[string]string {
	out := map[string]string{"MTI": m.MTI}
	for _, f := range Dictionary {
		if v := m.Get(f); v != "" {
			out[strconv.Itoa(int(f))] = v
		}
	}
	return out
}

func (m *Message) needsSecondary() bool {
	if m.SecondaryBitmap != "" {
		return true
	}
	for _, f := range Dictionary {
		if f > 64 && m.Get(f) != "" {
			return true
		}
	}
	return false
}

func validMTI(mti string) bool {
	if len(mti) != mtiLen {
		return false
	}
	for i := 0; i < len(mti); i++ {
		if mti[i] < '0' || mti[i] > '9' {
			return false
		}
	}
	return true
}
