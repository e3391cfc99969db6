// Package bin provides small big-endian integer helpers shared by the
// framed message codec.
package bin

import "encoding/binary"

// PutU16BE writes v into b[0:2] as big-endian.
func PutU16BE(b []byte, v uint16) {
	binary.BigEndian.PutUint16(b, v)
}

// PutU32BE writes v into b[0:4] as big-endian.
func PutU32BE(b []byte, v uint32) {
	binary.BigEndian.PutUint32(b, v)
}

// U16BE reads a big-endian uint16 from b[0:2].
func U16BE(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

// U32BE reads a big-endian uint32 from b[0:4].
func U32BE(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}
