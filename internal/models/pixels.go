package models

import "fmt"

// DType is the storage type of a pixel buffer.
type DType int

const (
	Uint8 DType = iota
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Float32
)

func (d DType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Int8:
		return "int8"
	case Uint16:
		return "uint16"
	case Int16:
		return "int16"
	case Uint32:
		return "uint32"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

// DTypeFor maps bits allocated and pixel representation (0 unsigned, 1 signed)
// to a DType. Unknown depths fall back to 16 bit.
func DTypeFor(bitsAllocated, pixelRepresentation int) DType {
	signed := pixelRepresentation == 1
	switch bitsAllocated {
	case 8:
		if signed {
			return Int8
		}
		return Uint8
	case 32:
		if signed {
			return Int32
		}
		return Uint32
	default:
		if signed {
			return Int16
		}
		return Uint16
	}
}

// Sample is any pixel storage type.
type Sample interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~float32
}

// PixelBuffer is a typed, flat, row-major pixel array.
type PixelBuffer interface {
	Len() int
	DType() DType
	Value(i int) float64
	SetValue(i int, v float64)
}

// Buffer is the generic PixelBuffer implementation.
type Buffer[T Sample] []T

func (b Buffer[T]) Len() int                  { return len(b) }
func (b Buffer[T]) Value(i int) float64       { return float64(b[i]) }
func (b Buffer[T]) SetValue(i int, v float64) { b[i] = T(v) }

func (b Buffer[T]) DType() DType {
	switch any(b).(type) {
	case Buffer[uint8]:
		return Uint8
	case Buffer[int8]:
		return Int8
	case Buffer[uint16]:
		return Uint16
	case Buffer[int16]:
		return Int16
	case Buffer[uint32]:
		return Uint32
	case Buffer[int32]:
		return Int32
	default:
		return Float32
	}
}

// NewPixelBuffer allocates a zeroed buffer of n pixels.
func NewPixelBuffer(d DType, n int) PixelBuffer {
	switch d {
	case Uint8:
		return make(Buffer[uint8], n)
	case Int8:
		return make(Buffer[int8], n)
	case Uint16:
		return make(Buffer[uint16], n)
	case Int16:
		return make(Buffer[int16], n)
	case Uint32:
		return make(Buffer[uint32], n)
	case Int32:
		return make(Buffer[int32], n)
	default:
		return make(Buffer[float32], n)
	}
}

// MinMax scans a buffer for its extreme values. Empty buffers return 0, 0.
func MinMax(b PixelBuffer) (min, max float64) {
	if b == nil || b.Len() == 0 {
		return 0, 0
	}
	min, max = b.Value(0), b.Value(0)
	for i := 1; i < b.Len(); i++ {
		v := b.Value(i)
		if v < min {
			min = v
		} else if v > max {
			max = v
		}
	}
	return min, max
}
