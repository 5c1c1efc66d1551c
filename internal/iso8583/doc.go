/*
Package iso8583 encodes and decodes the subset of ISO 8583 used by the
network management echo test.

# Wire layout

A message body is

	MTI (4 digits) | primary bitmap (16 hex) | [secondary bitmap (16 hex)] | field values

Field values follow the bitmaps in ascending field-number order, each at the
fixed width declared in the field dictionary. Bit 1 of the primary bitmap
announces the secondary bitmap and is never a data field of its own.

# Field dictionary

	 1  secondary bitmap                     16
	 7  transmission date and time           10
	11  systems trace audit number (STAN)     6
	37  retrieval reference number (RRN)     12
	39  response code                         2
	70  network management information code   3

Only fixed-width fields are supported. Any other bit set in a bitmap is a
decoding error.
*/
package iso8583
