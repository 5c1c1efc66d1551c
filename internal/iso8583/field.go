package iso8583

import "strconv"

// Field identifies a data element of the echo test dictionary.
type Field int

const (
	FieldSecondaryBitmap      Field = 1
	FieldTransmissionDateTime Field = 7
	FieldSTAN                 Field = 11
	FieldRRN                  Field = 37
	FieldResponseCode         Field = 39
	FieldNetworkMgmtCode      Field = 70
)

// Message type indicators
const (
	MTINetworkMgmtRequest  = "0800"
	MTINetworkMgmtResponse = "0810"
)

// Response codes (field 39)
const (
	ResponseApproved          = "00"
	ResponseSystemMalfunction = "96"
)

// NetworkMgmtEchoTest is the field 70 value of an echo test.
const NetworkMgmtEchoTest = "301"

const (
	mtiLen    = 4
	bitmapLen = 16
	maxField  = 128
)

// Dictionary lists the supported fields in wire order.
var Dictionary = []Field{
	FieldSecondaryBitmap,
	FieldTransmissionDateTime,
	FieldSTAN,
	FieldRRN,
	FieldResponseCode,
	FieldNetworkMgmtCode,
}

// Length returns the fixed width of f. ok is false for fields outside the dictionary.
func (f Field) Length() (length int, ok bool) {
	switch f {
	case FieldSecondaryBitmap:
		return bitmapLen, true
	case FieldTransmissionDateTime:
		return 10, true
	case FieldSTAN:
		return 6, true
	case FieldRRN:
		return 12, true
	case FieldResponseCode:
		return 2, true
	case FieldNetworkMgmtCode:
		return 3, true
	}
	return 0, false
}

// Supported reports whether f is part of the dictionary.
func (f Field) Supported() bool {
	_, ok := f.Length()
	return ok
}

func (f Field) String() string {
	switch f {
	case FieldSecondaryBitmap:
		return "secondary_bitmap"
	case FieldTransmissionDateTime:
		return "transmission_datetime"
	case FieldSTAN:
		return "stan"
	case FieldRRN:
		return "rrn"
	case FieldResponseCode:
		return "response_code"
	case FieldNetworkMgmtCode:
		return "network_mgmt_code"
	}
	return "field_" + strconv.Itoa(int(f))
}
