// Package gguftest writes small GGUF files for tests.
package gguftest

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/samcharles93/tensorbuffers/internal/gguf"
)

const alignment = 32

// KeyValue is one metadata entry for Write. Value must be a string, bool,
// a fixed-size integer or a float.
type KeyValue struct {
	Key   string
	Value any
}

// TensorPayload is one tensor for Write. Dims are innermost first.
type TensorPayload struct {
	Name string
	Dims []uint64
	Type gguf.TensorType
	Data []byte
}

// Write emits a version 3 GGUF file with the default alignment.
func Write(w io.Writer, kv []KeyValue, tensors []TensorPayload) error {
	bw := bufio.NewWriter(w)
	le := binary.LittleEndian

	var off uint64
	put := func(v any) {
		_ = binary.Write(bw, le, v)
		off += uint64(binary.Size(v))
	}
	putString := func(s string) {
		put(uint64(len(s)))
		_, _ = bw.WriteString(s)
		off += uint64(len(s))
	}

	_, _ = bw.WriteString("GGUF")
	off += 4
	put(uint32(3))
	put(uint64(len(tensors)))
	put(uint64(len(kv)))

	for _, e := range kv {
		putString(e.Key)
		switch v := e.Value.(type) {
		case string:
			put(uint32(gguf.TypeString))
			putString(v)
		case bool:
			put(uint32(gguf.TypeBool))
			if v {
				put(uint8(1))
			} else {
				put(uint8(0))
			}
		case uint8:
			put(uint32(gguf.TypeUint8))
			put(v)
		case int8:
			put(uint32(gguf.TypeInt8))
			put(v)
		case uint16:
			put(uint32(gguf.TypeUint16))
			put(v)
		case int16:
			put(uint32(gguf.TypeInt16))
			put(v)
		case uint32:
			put(uint32(gguf.TypeUint32))
			put(v)
		case int32:
			put(uint32(gguf.TypeInt32))
			put(v)
		case uint64:
			put(uint32(gguf.TypeUint64))
			put(v)
		case int64:
			put(uint32(gguf.TypeInt64))
			put(v)
		case float32:
			put(uint32(gguf.TypeFloat32))
			put(math.Float32bits(v))
		case float64:
			put(uint32(gguf.TypeFloat64))
			put(math.Float64bits(v))
		default:
			return fmt.Errorf("gguf: unsupported value %T for key %s", e.Value, e.Key)
		}
	}

	var dataOff uint64
	offsets := make([]uint64, len(tensors))
	for i, t := range tensors {
		dataOff = alignUp(dataOff, alignment)
		offsets[i] = dataOff
		dataOff += uint64(len(t.Data))
	}
	for i, t := range tensors {
		putString(t.Name)
		put(uint32(len(t.Dims)))
		for _, d := range t.Dims {
			put(d)
		}
		put(uint32(t.Type))
		put(offsets[i])
	}

	pad := func(to uint64) {
		for off < to {
			_ = bw.WriteByte(0)
			off++
		}
	}
	base := alignUp(off, alignment)
	pad(base)
	for i, t := range tensors {
		pad(base + offsets[i])
		_, _ = bw.Write(t.Data)
		off += uint64(len(t.Data))
	}
	return bw.Flush()
}

func alignUp(offset, to uint64) uint64 {
	if rem := offset % to; rem != 0 {
		return offset + to - rem
	}
	return offset
}
