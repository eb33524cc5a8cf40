// Package gguf reads the tensor directory and payloads of GGUF model files.
package gguf

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	magicGGUF        = "GGUF"
	defaultAlignment = 32
)

var (
	ErrInvalidMagic    = errors.New("gguf: invalid magic")
	ErrUnsupportedType = errors.New("gguf: unsupported tensor type")
	ErrCorruptFile     = errors.New("gguf: corrupt file")
)

type ValueType uint32

const (
	TypeUint8   ValueType = 0
	TypeInt8    ValueType = 1
	TypeUint16  ValueType = 2
	TypeInt16   ValueType = 3
	TypeUint32  ValueType = 4
	TypeInt32   ValueType = 5
	TypeFloat32 ValueType = 6
	TypeBool    ValueType = 7
	TypeString  ValueType = 8
	TypeArray   ValueType = 9
	TypeUint64  ValueType = 10
	TypeInt64   ValueType = 11
	TypeFloat64 ValueType = 12
)

func (t ValueType) String() string {
	switch t {
	case TypeUint8:
		return "u8"
	case TypeInt8:
		return "i8"
	case TypeUint16:
		return "u16"
	case TypeInt16:
		return "i16"
	case TypeUint32:
		return "u32"
	case TypeInt32:
		return "i32"
	case TypeUint64:
		return "u64"
	case TypeInt64:
		return "i64"
	case TypeFloat32:
		return "f32"
	case TypeFloat64:
		return "f64"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeArray:
		return "array"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

type ArrayValue struct {
	ElemType ValueType
	Values   []any
}

type Value struct {
	Type  ValueType
	Value any
}

type Header struct {
	Version     uint32
	TensorCount uint64
	KVCount     uint64
}

// TensorType is a GGML tensor element type.
type TensorType uint32

const (
	GGMLTypeF32  TensorType = 0
	GGMLTypeF16  TensorType = 1
	GGMLTypeQ4_0 TensorType = 2
	GGMLTypeQ4_1 TensorType = 3
	GGMLTypeQ5_0 TensorType = 6
	GGMLTypeQ5_1 TensorType = 7
	GGMLTypeQ8_0 TensorType = 8
	GGMLTypeQ8_1 TensorType = 9
	GGMLTypeQ2_K TensorType = 10
	GGMLTypeQ3_K TensorType = 11
	GGMLTypeQ4_K TensorType = 12
	GGMLTypeQ5_K TensorType = 13
	GGMLTypeQ6_K TensorType = 14
	GGMLTypeQ8_K TensorType = 15
	GGMLTypeI8   TensorType = 24
	GGMLTypeI16  TensorType = 25
	GGMLTypeI32  TensorType = 26
	GGMLTypeI64  TensorType = 27
	GGMLTypeF64  TensorType = 28
	GGMLTypeBF16 TensorType = 30
)

var tensorTypeNames = map[TensorType]string{
	GGMLTypeF32:  "F32",
	GGMLTypeF16:  "F16",
	GGMLTypeQ4_0: "Q4_0",
	GGMLTypeQ4_1: "Q4_1",
	GGMLTypeQ5_0: "Q5_0",
	GGMLTypeQ5_1: "Q5_1",
	GGMLTypeQ8_0: "Q8_0",
	GGMLTypeQ8_1: "Q8_1",
	GGMLTypeQ2_K: "Q2_K",
	GGMLTypeQ3_K: "Q3_K",
	GGMLTypeQ4_K: "Q4_K",
	GGMLTypeQ5_K: "Q5_K",
	GGMLTypeQ6_K: "Q6_K",
	GGMLTypeQ8_K: "Q8_K",
	GGMLTypeI8:   "I8",
	GGMLTypeI16:  "I16",
	GGMLTypeI32:  "I32",
	GGMLTypeI64:  "I64",
	GGMLTypeF64:  "F64",
	GGMLTypeBF16: "BF16",
}

func (t TensorType) String() string {
	if s, ok := tensorTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", uint32(t))
}

// ElementSize returns the byte size of one element for unquantized types.
// Block-quantized types report false.
func (t TensorType) ElementSize() (int, bool) {
	switch t {
	case GGMLTypeI8:
		return 1, true
	case GGMLTypeF16, GGMLTypeBF16, GGMLTypeI16:
		return 2, true
	case GGMLTypeF32, GGMLTypeI32:
		return 4, true
	case GGMLTypeF64, GGMLTypeI64:
		return 8, true
	default:
		return 0, false
	}
}

// TensorInfo is one entry of the tensor directory. Dims are stored
// innermost first, as in the file.
type TensorInfo struct {
	Name   string
	Dims   []uint64
	Type   TensorType
	Offset uint64
}

type File struct {
	Path       string
	Header     Header
	KV         map[string]Value
	Tensors    []TensorInfo
	Alignment  uint64
	DataOffset uint64
	Data       []byte // mmap data

	byName map[string]int
}

// Open maps a GGUF file read-only and parses its header, key/value table
// and tensor directory.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size <= 0 || size > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%w: size %d", ErrCorruptFile, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("gguf: mmap %s: %w", path, err)
	}
	gf, err := parse(data)
	if err != nil {
		_ = unix.Munmap(data)
		return nil, err
	}
	gf.Path = path
	return gf, nil
}

func parse(data []byte) (*File, error) {
	r := newReader(data)

	magic, err := r.readN(4)
	if err != nil {
		return nil, err
	}
	if string(magic) != magicGGUF {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMagic, string(magic))
	}

	version, err := r.readU32()
	if err != nil {
		return nil, err
	}
	tensorCount, err := r.readU64()
	if err != nil {
		return nil, err
	}
	kvCount, err := r.readU64()
	if err != nil {
		return nil, err
	}
	if tensorCount > uint64(len(data)) || kvCount > uint64(len(data)) {
		return nil, fmt.Errorf("%w: %d tensors, %d keys", ErrCorruptFile, tensorCount, kvCount)
	}

	kv := make(map[string]Value, kvCount)
	for i := range kvCount {
		key, err := r.readString()
		if err != nil {
			return nil, fmt.Errorf("read key %d: %w", i, err)
		}
		vtypeU32, err := r.readU32()
		if err != nil {
			return nil, fmt.Errorf("read value type for %s: %w", key, err)
		}
		vtype := ValueType(vtypeU32)
		val, err := readValue(r, vtype)
		if err != nil {
			return nil, fmt.Errorf("read value for %s: %w", key, err)
		}
		kv[key] = Value{Type: vtype, Value: val}
	}

	tensors := make([]TensorInfo, 0, tensorCount)
	byName := make(map[string]int, tensorCount)
	for i := range tensorCount {
		name, err := r.readString()
		if err != nil {
			return nil, fmt.Errorf("read tensor name %d: %w", i, err)
		}
		nDim, err := r.readU32()
		if err != nil {
			return nil, fmt.Errorf("read tensor dims %s: %w", name, err)
		}
		if nDim > 8 {
			return nil, fmt.Errorf("%w: tensor %s has %d dims", ErrCorruptFile, name, nDim)
		}
		dims := make([]uint64, nDim)
		for d := range nDim {
			if dims[d], err = r.readU64(); err != nil {
				return nil, fmt.Errorf("read tensor dim %s[%d]: %w", name, d, err)
			}
		}
		ttypeU32, err := r.readU32()
		if err != nil {
			return nil, fmt.Errorf("read tensor type %s: %w", name, err)
		}
		offset, err := r.readU64()
		if err != nil {
			return nil, fmt.Errorf("read tensor offset %s: %w", name, err)
		}
		byName[name] = len(tensors)
		tensors = append(tensors, TensorInfo{
			Name:   name,
			Dims:   dims,
			Type:   TensorType(ttypeU32),
			Offset: offset,
		})
	}

	alignment := uint64(defaultAlignment)
	if u, ok := GetUint64(kv, "general.alignment"); ok && u > 0 {
		alignment = u
	}

	return &File{
		Header:     Header{Version: version, TensorCount: tensorCount, KVCount: kvCount},
		KV:         kv,
		Tensors:    tensors,
		Alignment:  alignment,
		DataOffset: align(uint64(r.off), alignment),
		Data:       data,
		byName:     byName,
	}, nil
}

func (f *File) Close() error {
	if f.Data == nil {
		return nil
	}
	data := f.Data
	f.Data = nil
	return unix.Munmap(data)
}

func readValue(r *reader, vtype ValueType) (any, error) {
	switch vtype {
	case TypeUint8:
		return r.readU8()
	case TypeInt8:
		return r.readI8()
	case TypeUint16:
		return r.readU16()
	case TypeInt16:
		return r.readI16()
	case TypeUint32:
		return r.readU32()
	case TypeInt32:
		return r.readI32()
	case TypeUint64:
		return r.readU64()
	case TypeInt64:
		return r.readI64()
	case TypeFloat32:
		return r.readF32()
	case TypeFloat64:
		return r.readF64()
	case TypeBool:
		v, err := r.readU8()
		if err != nil {
			return false, err
		}
		return v != 0, nil
	case TypeString:
		return r.readString()
	case TypeArray:
		elemTypeU32, err := r.readU32()
		if err != nil {
			return nil, err
		}
		elemType := ValueType(elemTypeU32)
		count, err := r.readU64()
		if err != nil {
			return nil, err
		}
		if count > uint64(r.remaining()) {
			return nil, fmt.Errorf("%w: array of %d elements", ErrCorruptFile, count)
		}
		values := make([]any, 0, count)
		for range count {
			v, err := readValue(r, elemType)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return ArrayValue{ElemType: elemType, Values: values}, nil
	default:
		return nil, fmt.Errorf("unsupported value type %d", uint32(vtype))
	}
}

func align(offset, alignment uint64) uint64 {
	if alignment == 0 {
		return offset
	}
	rem := offset % alignment
	if rem == 0 {
		return offset
	}
	return offset + (alignment - rem)
}

func asUint64(v any) (uint64, bool) {
	switch t := v.(type) {
	case uint8:
		return uint64(t), true
	case uint16:
		return uint64(t), true
	case uint32:
		return uint64(t), true
	case uint64:
		return t, true
	case int8:
		if t < 0 {
			return 0, false
		}
		return uint64(t), true
	case int16:
		if t < 0 {
			return 0, false
		}
		return uint64(t), true
	case int32:
		if t < 0 {
			return 0, false
		}
		return uint64(t), true
	case int64:
		if t < 0 {
			return 0, false
		}
		return uint64(t), true
	default:
		return 0, false
	}
}
