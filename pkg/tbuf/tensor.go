package tbuf

import (
	"encoding/binary"
	"fmt"
)

// Tensor is a fetched payload together with its metadata. Data may alias a
// memory mapping and is only valid until the Reader is closed.
type Tensor struct {
	Metadata TensorMetadata
	Data     []byte
}

// Number is the set of element types a tensor can hold.
type Number interface {
	~float32 | ~float64 | ~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func (t Tensor) Name() string       { return t.Metadata.Name }
func (t Tensor) Shape() []uint64    { return t.Metadata.Shape }
func (t Tensor) DataType() DataType { return t.Metadata.DataType }

// NumElements returns the element count implied by the shape.
func (t Tensor) NumElements() uint64 {
	return t.Metadata.NumElements()
}

func decodeAs[T Number](t Tensor, dt DataType) ([]T, error) {
	if t.Metadata.DataType != dt {
		return nil, fmt.Errorf("%w: tensor %q is %s, not %s", ErrDataTypeMismatch, t.Metadata.Name, t.Metadata.DataType, dt)
	}
	out := make([]T, len(t.Data)/dt.Size())
	if len(out) == 0 {
		return out, nil
	}
	if _, err := binary.Decode(t.Data, binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("%w: decode tensor %q: %w", ErrShapeMismatch, t.Metadata.Name, err)
	}
	return out, nil
}

func (t Tensor) Float32() ([]float32, error) { return decodeAs[float32](t, Float32) }
func (t Tensor) Float64() ([]float64, error) { return decodeAs[float64](t, Float64) }
func (t Tensor) Int8() ([]int8, error)       { return decodeAs[int8](t, Int8) }
func (t Tensor) Int16() ([]int16, error)     { return decodeAs[int16](t, Int16) }
func (t Tensor) Int32() ([]int32, error)     { return decodeAs[int32](t, Int32) }
func (t Tensor) Int64() ([]int64, error)     { return decodeAs[int64](t, Int64) }
func (t Tensor) Uint8() ([]uint8, error)     { return decodeAs[uint8](t, UInt8) }
func (t Tensor) Uint16() ([]uint16, error)   { return decodeAs[uint16](t, UInt16) }
func (t Tensor) Uint32() ([]uint32, error)   { return decodeAs[uint32](t, UInt32) }
func (t Tensor) Uint64() ([]uint64, error)   { return decodeAs[uint64](t, UInt64) }

// Encode returns the little-endian payload bytes of values.
func Encode[T Number](values []T) []byte {
	if len(values) == 0 {
		return []byte{}
	}
	out, err := binary.Append(nil, binary.LittleEndian, values)
	if err != nil {
		// values is a slice of fixed-size numbers.
		panic(err)
	}
	return out
}
