// Package bf16 converts between float32 and the 16-bit brain floating point
// format stored as raw little-endian uint16 values.
//
// Narrowing truncates: the low 16 bits of the IEEE-754 single precision
// representation are dropped with no rounding. Consumers of the merged shards
// expect exactly this bit pattern.
package bf16

import (
	"encoding/binary"
	"math"
)

// Size is the encoded width of one BF16 element in bytes.
const Size = 2

// FromBits narrows the raw bits of a float32 to BF16 by truncation.
func FromBits(u uint32) uint16 {
	return uint16(u >> 16)
}

// FromFloat32 narrows f to BF16 by truncation.
func FromFloat32(f float32) uint16 {
	return FromBits(math.Float32bits(f))
}

// ToFloat32 widens a BF16 value. The conversion is exact.
func ToFloat32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

// PutSlice encodes vals into dst as little-endian BF16. dst must hold
// len(vals)*Size bytes.
func PutSlice(dst []byte, vals []uint16) {
	for i, v := range vals {
		binary.LittleEndian.PutUint16(dst[i*Size:], v)
	}
}

// Bytes returns vals encoded as little-endian BF16.
func Bytes(vals []uint16) []byte {
	out := make([]byte, len(vals)*Size)
	PutSlice(out, vals)
	return out
}

// NarrowF32Bytes narrows little-endian float32 elements in src into dst.
// It returns the number of elements converted, which is len(src)/4 limited
// by the room in dst.
func NarrowF32Bytes(dst, src []byte) int {
	n := min(len(src)/4, len(dst)/Size)
	for i := range n {
		u := binary.LittleEndian.Uint32(src[i*4:])
		binary.LittleEndian.PutUint16(dst[i*Size:], FromBits(u))
	}
	return n
}
