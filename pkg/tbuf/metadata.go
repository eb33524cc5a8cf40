package tbuf

import (
	"fmt"
	"hash/fnv"
	"math/bits"
	"slices"
)

// TensorMetadata describes one stored tensor.
type TensorMetadata struct {
	ID         uint64   `json:"id"`
	Name       string   `json:"name"`
	Shape      []uint64 `json:"shape"`
	DataType   DataType `json:"data_type"`
	DataOffset uint64   `json:"data_offset"`
	DataSize   uint64   `json:"data_size"`
}

// OperationMetadata describes one node of the operation graph. It is
// bookkeeping only; nothing in this package executes operations.
type OperationMetadata struct {
	ID              uint64    `json:"id"`
	Operation       Operation `json:"operation"`
	Output          uint64    `json:"output"`
	InputOperations []uint64  `json:"input_operations"`
}

// Metadata is the root index stored in the container footer.
// A nil Operations slice means the container carries no graph.
type Metadata struct {
	Version    string              `json:"version"`
	Model      string              `json:"model,omitempty"`
	Tensors    []TensorMetadata    `json:"tensors"`
	Operations []OperationMetadata `json:"operations,omitempty"`
}

// HashName returns the tensor id for name: 64-bit FNV-1a over the name bytes
// followed by a single 0xff terminator.
func HashName(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	_, _ = h.Write([]byte{0xff})
	return h.Sum64()
}

// NumElements returns the element count of shape. An empty shape is a scalar.
func NumElements(shape []uint64) (uint64, bool) {
	n := uint64(1)
	for _, d := range shape {
		hi, lo := bits.Mul64(n, d)
		if hi != 0 {
			return 0, false
		}
		n = lo
	}
	return n, true
}

// PayloadSize returns the exact byte length of a tensor of the given shape and type.
func PayloadSize(shape []uint64, dt DataType) (uint64, error) {
	if !dt.Valid() {
		return 0, fmt.Errorf("%w: data type %s", ErrInvalidArgument, dt)
	}
	n, ok := NumElements(shape)
	if !ok {
		return 0, fmt.Errorf("%w: shape %v overflows", ErrShapeMismatch, shape)
	}
	hi, size := bits.Mul64(n, uint64(dt.Size()))
	if hi != 0 {
		return 0, fmt.Errorf("%w: shape %v overflows", ErrShapeMismatch, shape)
	}
	return size, nil
}

// End returns the offset one past the last payload byte.
func (t TensorMetadata) End() uint64 {
	return t.DataOffset + t.DataSize
}

// NumElements returns the element count of the tensor.
func (t TensorMetadata) NumElements() uint64 {
	n, _ := NumElements(t.Shape)
	return n
}

func (t TensorMetadata) clone() TensorMetadata {
	t.Shape = slices.Clone(t.Shape)
	return t
}

func (o OperationMetadata) clone() OperationMetadata {
	o.InputOperations = slices.Clone(o.InputOperations)
	return o
}

// Clone returns a deep copy of m.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	out := &Metadata{Version: m.Version, Model: m.Model}
	out.Tensors = make([]TensorMetadata, len(m.Tensors))
	for i, t := range m.Tensors {
		out.Tensors[i] = t.clone()
	}
	if m.Operations != nil {
		out.Operations = make([]OperationMetadata, len(m.Operations))
		for i, op := range m.Operations {
			out.Operations[i] = op.clone()
		}
	}
	return out
}
