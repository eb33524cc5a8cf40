package gguf

import (
	"fmt"
	"math/bits"
	"slices"
)

// TensorByName returns the tensor info for the given name.
func (f *File) TensorByName(name string) (TensorInfo, bool) {
	i, ok := f.byName[name]
	if !ok {
		return TensorInfo{}, false
	}
	return f.Tensors[i], true
}

// Shape returns the dims in row-major order, outermost first.
func (t TensorInfo) Shape() []uint64 {
	shape := slices.Clone(t.Dims)
	slices.Reverse(shape)
	return shape
}

// NumElements returns the element count of t.
func (t TensorInfo) NumElements() (uint64, error) {
	n := uint64(1)
	for _, d := range t.Dims {
		hi, lo := bits.Mul64(n, d)
		if hi != 0 {
			return 0, fmt.Errorf("tensor %s: element count overflows", t.Name)
		}
		n = lo
	}
	return n, nil
}

// ByteSize returns the payload size of an unquantized tensor.
func (t TensorInfo) ByteSize() (uint64, error) {
	size, ok := t.Type.ElementSize()
	if !ok {
		return 0, fmt.Errorf("%w: tensor %s is %s", ErrUnsupportedType, t.Name, t.Type)
	}
	n, err := t.NumElements()
	if err != nil {
		return 0, err
	}
	hi, lo := bits.Mul64(n, uint64(size))
	if hi != 0 {
		return 0, fmt.Errorf("tensor %s: byte size overflows", t.Name)
	}
	return lo, nil
}

// TensorData returns the raw payload of t as a view into the mapping. The
// slice is valid until Close.
func (f *File) TensorData(t TensorInfo) ([]byte, error) {
	size, err := t.ByteSize()
	if err != nil {
		return nil, err
	}
	start := f.DataOffset + t.Offset
	if start < f.DataOffset || start > uint64(len(f.Data)) || size > uint64(len(f.Data))-start {
		return nil, fmt.Errorf("%w: tensor %s payload [%d, +%d) beyond file size %d", ErrCorruptFile, t.Name, start, size, len(f.Data))
	}
	return f.Data[start : start+size : start+size], nil
}
