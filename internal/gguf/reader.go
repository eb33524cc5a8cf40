package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// reader decodes little-endian GGUF primitives from an in-memory file image.
type reader struct {
	data []byte
	off  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) remaining() int {
	return len(r.data) - r.off
}

func (r *reader) readN(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("invalid read length %d", n)
	}
	if n > r.remaining() {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) readU8() (uint8, error) {
	b, err := r.readN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) readI8() (int8, error) {
	v, err := r.readU8()
	return int8(v), err
}

func (r *reader) readU16() (uint16, error) {
	b, err := r.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) readI16() (int16, error) {
	v, err := r.readU16()
	return int16(v), err
}

func (r *reader) readU32() (uint32, error) {
	b, err := r.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) readI32() (int32, error) {
	v, err := r.readU32()
	return int32(v), err
}

func (r *reader) readU64() (uint64, error) {
	b, err := r.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) readI64() (int64, error) {
	v, err := r.readU64()
	return int64(v), err
}

func (r *reader) readF32() (float32, error) {
	u, err := r.readU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(u), nil
}

func (r *reader) readF64() (float64, error) {
	u, err := r.readU64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(u), nil
}

// readString copies a length-prefixed string out of the mapping.
func (r *reader) readString() (string, error) {
	n, err := r.readU64()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if n > uint64(r.remaining()) {
		return "", fmt.Errorf("string length too large: %d", n)
	}
	b, err := r.readN(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
