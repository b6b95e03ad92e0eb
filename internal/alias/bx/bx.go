// stand for bytes helper
package bx

import (
	"encoding/binary"
	"math"
)

var LE = binary.LittleEndian

// --- LE: read ---
func U16(b []byte) uint16 { return LE.Uint16(b) }
func U32(b []byte) uint32 { return LE.Uint32(b) }
func U64(b []byte) uint64 { return LE.Uint64(b) }
func I32(b []byte) int32  { return int32(U32(b)) }
func I64(b []byte) int64  { return int64(U64(b)) }
func F64(b []byte) float64 {
	return math.Float64frombits(U64(b))
}

// --- LE: write ---
func PutU16(b []byte, v uint16)  { LE.PutUint16(b, v) }
func PutU32(b []byte, v uint32)  { LE.PutUint32(b, v) }
func PutU64(b []byte, v uint64)  { LE.PutUint64(b, v) }
func PutI32(b []byte, v int32)   { PutU32(b, uint32(v)) }
func PutI64(b []byte, v int64)   { PutU64(b, uint64(v)) }
func PutF64(b []byte, v float64) { PutU64(b, math.Float64bits(v)) }

// --- LE: At (offset) ---
func U16At(b []byte, off int) uint16       { return U16(b[off:]) }
func U32At(b []byte, off int) uint32       { return U32(b[off:]) }
func PutU16At(b []byte, off int, v uint16) { PutU16(b[off:], v) }
func PutU32At(b []byte, off int, v uint32) { PutU32(b[off:], v) }

// Zero clears b in place.
func Zero(b []byte) {
	clear(b)
}
