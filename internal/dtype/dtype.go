// Package dtype encodes the JLS data-type descriptor: basetype, bit
// width, and the packing/promotion rules a signal's samples follow on
// disk and in memory.
package dtype

import (
	"fmt"
	"math"
)

// Base identifies the arithmetic kind a DataType's bits represent.
type Base uint8

const (
	BaseUnsigned Base = iota
	BaseInt
	BaseFloat
)

// DataType describes how one sample is laid out on disk.
type DataType struct {
	Base     Base
	BitWidth uint8
}

var (
	U1  = DataType{BaseUnsigned, 1}
	U4  = DataType{BaseUnsigned, 4}
	U8  = DataType{BaseUnsigned, 8}
	U16 = DataType{BaseUnsigned, 16}
	U24 = DataType{BaseUnsigned, 24}
	U32 = DataType{BaseUnsigned, 32}
	U64 = DataType{BaseUnsigned, 64}
	I4  = DataType{BaseInt, 4}
	I8  = DataType{BaseInt, 8}
	I16 = DataType{BaseInt, 16}
	I24 = DataType{BaseInt, 24}
	I32 = DataType{BaseInt, 32}
	I64 = DataType{BaseInt, 64}
	F32 = DataType{BaseFloat, 32}
	F64 = DataType{BaseFloat, 64}
)

// Validate rejects bit widths or base/width combinations the format
// doesn't support (floats are only allowed at 32/64 bits).
func (d DataType) Validate() error {
	switch d.BitWidth {
	case 1, 4, 8, 16, 24, 32, 64:
	default:
		return fmt.Errorf("dtype: unsupported bit width %d", d.BitWidth)
	}
	if d.Base == BaseFloat && d.BitWidth != 32 && d.BitWidth != 64 {
		return fmt.Errorf("dtype: float only supported at 32/64 bits, got %d", d.BitWidth)
	}
	return nil
}

// IsPacked reports whether samples of this type are bit-packed
// (sub-byte or non-power-of-two byte widths), requiring bit-level
// arithmetic to read or write a single sample at an arbitrary index.
func (d DataType) IsPacked() bool {
	switch d.BitWidth {
	case 1, 4, 24:
		return true
	default:
		return false
	}
}

// BytesForSamples returns the number of bytes needed to store n
// consecutive samples of this type starting at a byte boundary.
func (d DataType) BytesForSamples(n int) int {
	bits := int(d.BitWidth) * n
	return (bits + 7) / 8
}

// ParseDataType parses a type name in the conventional JLS notation
// (U1, I24, F64, ...), the inverse of String, for callers that accept
// a data type as text (cmd/jlsd's RESP SIGNAL command).
func ParseDataType(s string) (DataType, error) {
	if len(s) < 2 {
		return DataType{}, fmt.Errorf("dtype: invalid type name %q", s)
	}
	var base Base
	switch s[0] {
	case 'U', 'u':
		base = BaseUnsigned
	case 'I', 'i':
		base = BaseInt
	case 'F', 'f':
		base = BaseFloat
	default:
		return DataType{}, fmt.Errorf("dtype: invalid type name %q", s)
	}
	var width int
	if _, err := fmt.Sscanf(s[1:], "%d", &width); err != nil {
		return DataType{}, fmt.Errorf("dtype: invalid type name %q", s)
	}
	d := DataType{Base: base, BitWidth: uint8(width)}
	if err := d.Validate(); err != nil {
		return DataType{}, err
	}
	return d, nil
}

// String implements fmt.Stringer with the conventional JLS type name
// (U1, I24, F64, ...).
func (d DataType) String() string {
	switch d.Base {
	case BaseFloat:
		return fmt.Sprintf("F%d", d.BitWidth)
	case BaseInt:
		return fmt.Sprintf("I%d", d.BitWidth)
	default:
		return fmt.Sprintf("U%d", d.BitWidth)
	}
}

// ReadSample unpacks the sample at the given index from raw and
// promotes it to float64 for statistics computation. index is a
// sample offset from the start of raw, not a byte offset.
func (d DataType) ReadSample(raw []byte, index int) float64 {
	switch d.BitWidth {
	case 1, 4, 24:
		return d.readPacked(raw, index)
	case 8:
		v := raw[index]
		if d.Base == BaseInt {
			return float64(int8(v))
		}
		return float64(v)
	case 16:
		v := le16(raw[index*2:])
		if d.Base == BaseInt {
			return float64(int16(v))
		}
		return float64(v)
	case 32:
		v := le32(raw[index*4:])
		if d.Base == BaseFloat {
			return float64(math.Float32frombits(v))
		}
		if d.Base == BaseInt {
			return float64(int32(v))
		}
		return float64(v)
	case 64:
		v := le64(raw[index*8:])
		if d.Base == BaseFloat {
			return math.Float64frombits(v)
		}
		if d.Base == BaseInt {
			return float64(int64(v))
		}
		return float64(v)
	default:
		panic(fmt.Sprintf("dtype: unsupported bit width %d", d.BitWidth))
	}
}

// WriteSample packs v into raw at the given sample index, truncating
// toward zero for integer types. raw must already be sized to hold
// at least index+1 samples (see BytesForSamples).
func (d DataType) WriteSample(raw []byte, index int, v float64) {
	switch d.BitWidth {
	case 1, 4, 24:
		d.writePacked(raw, index, v)
	case 8:
		if d.Base == BaseInt {
			raw[index] = byte(int8(v))
		} else {
			raw[index] = byte(uint8(v))
		}
	case 16:
		var u uint16
		if d.Base == BaseInt {
			u = uint16(int16(v))
		} else {
			u = uint16(v)
		}
		putLE16(raw[index*2:], u)
	case 32:
		var u uint32
		switch d.Base {
		case BaseFloat:
			u = math.Float32bits(float32(v))
		case BaseInt:
			u = uint32(int32(v))
		default:
			u = uint32(v)
		}
		putLE32(raw[index*4:], u)
	case 64:
		var u uint64
		switch d.Base {
		case BaseFloat:
			u = math.Float64bits(v)
		case BaseInt:
			u = uint64(int64(v))
		default:
			u = uint64(v)
		}
		putLE64(raw[index*8:], u)
	default:
		panic(fmt.Sprintf("dtype: unsupported bit width %d", d.BitWidth))
	}
}

// ZeroFill writes the sample-skip fill value at index: bit-pattern
// zero for every integer type, NaN for float types.
func (d DataType) ZeroFill(raw []byte, index int) {
	if d.Base == BaseFloat {
		d.WriteSample(raw, index, math.NaN())
		return
	}
	d.writeZeroBits(raw, index)
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func le64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func putLE16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
