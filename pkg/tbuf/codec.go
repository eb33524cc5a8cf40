package tbuf

import (
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/samcharles93/tensorbuffers/internal/schema"
)

// Codec serializes the metadata table stored in the container footer.
type Codec interface {
	Encode(m *Metadata) ([]byte, error)
	Decode(b []byte) (*Metadata, error)
}

// FlatCodec encodes metadata as a FlatBuffers TensorBuffersMetadata table.
type FlatCodec struct{}

// vtable slot of TensorBuffersMetadata.operations
const opsSlot = 4 + 2*3

var errShortTable = errors.New("flatbuffers table truncated")

func (FlatCodec) Encode(m *Metadata) ([]byte, error) {
	if m == nil {
		return nil, errors.New("tbuf: nil metadata")
	}
	b := flatbuffers.NewBuilder(256 + 64*len(m.Tensors))

	tensors := make([]flatbuffers.UOffsetT, len(m.Tensors))
	for i, t := range m.Tensors {
		name := b.CreateString(t.Name)
		schema.TensorMetadataStartShapeVector(b, len(t.Shape))
		for j := len(t.Shape) - 1; j >= 0; j-- {
			b.PrependUint64(t.Shape[j])
		}
		shape := b.EndVector(len(t.Shape))

		schema.TensorMetadataStart(b)
		schema.TensorMetadataAddId(b, t.ID)
		schema.TensorMetadataAddName(b, name)
		schema.TensorMetadataAddShape(b, shape)
		schema.TensorMetadataAddDataType(b, schema.DataType(t.DataType))
		schema.TensorMetadataAddDataOffset(b, t.DataOffset)
		schema.TensorMetadataAddDataSize(b, t.DataSize)
		tensors[i] = schema.TensorMetadataEnd(b)
	}

	var ops []flatbuffers.UOffsetT
	if m.Operations != nil {
		ops = make([]flatbuffers.UOffsetT, len(m.Operations))
		for i, op := range m.Operations {
			schema.OperationMetadataStartInputOperationsVector(b, len(op.InputOperations))
			for j := len(op.InputOperations) - 1; j >= 0; j-- {
				b.PrependUint64(op.InputOperations[j])
			}
			inputs := b.EndVector(len(op.InputOperations))

			schema.OperationMetadataStart(b)
			schema.OperationMetadataAddId(b, op.ID)
			schema.OperationMetadataAddOperation(b, schema.Operation(op.Operation))
			schema.OperationMetadataAddOutput(b, op.Output)
			schema.OperationMetadataAddInputOperations(b, inputs)
			ops[i] = schema.OperationMetadataEnd(b)
		}
	}

	version := b.CreateString(m.Version)
	var model flatbuffers.UOffsetT
	if m.Model != "" {
		model = b.CreateString(m.Model)
	}

	schema.TensorBuffersMetadataStartTensorsVector(b, len(tensors))
	for i := len(tensors) - 1; i >= 0; i-- {
		b.PrependUOffsetT(tensors[i])
	}
	tensorVec := b.EndVector(len(tensors))

	var opVec flatbuffers.UOffsetT
	if ops != nil {
		schema.TensorBuffersMetadataStartOperationsVector(b, len(ops))
		for i := len(ops) - 1; i >= 0; i-- {
			b.PrependUOffsetT(ops[i])
		}
		opVec = b.EndVector(len(ops))
	}

	schema.TensorBuffersMetadataStart(b)
	schema.TensorBuffersMetadataAddVersion(b, version)
	if model != 0 {
		schema.TensorBuffersMetadataAddModel(b, model)
	}
	schema.TensorBuffersMetadataAddTensors(b, tensorVec)
	if ops != nil {
		schema.TensorBuffersMetadataAddOperations(b, opVec)
	}
	schema.FinishTensorBuffersMetadataBuffer(b, schema.TensorBuffersMetadataEnd(b))
	return b.FinishedBytes(), nil
}

// Decode parses b. Malformed input yields an error, never a panic.
func (FlatCodec) Decode(b []byte) (m *Metadata, err error) {
	if len(b) < flatbuffers.SizeUOffsetT {
		return nil, errShortTable
	}
	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = fmt.Errorf("decode flatbuffers table: %v", r)
		}
	}()

	root := schema.GetRootAsTensorBuffersMetadata(b, 0)
	m = &Metadata{
		Version: string(root.Version()),
		Model:   string(root.Model()),
	}

	// Vectors may alias one another, so a single element budget covers all
	// of them. Each counted element stands for at least eight bytes of table.
	budget := elementBudget(len(b) / 8)

	n := root.TensorsLength()
	if !budget.take(n) {
		return nil, fmt.Errorf("tensor vector length %d exceeds table size", n)
	}
	m.Tensors = make([]TensorMetadata, n)
	var tm schema.TensorMetadata
	for i := range n {
		root.Tensors(&tm, i)
		t := TensorMetadata{
			ID:         tm.Id(),
			Name:       string(tm.Name()),
			DataType:   DataType(tm.DataType()),
			DataOffset: tm.DataOffset(),
			DataSize:   tm.DataSize(),
		}
		dims := tm.ShapeLength()
		if !budget.take(dims) {
			return nil, fmt.Errorf("tensor %d shape length %d exceeds table size", i, dims)
		}
		t.Shape = make([]uint64, dims)
		for j := range dims {
			t.Shape[j] = tm.Shape(j)
		}
		m.Tensors[i] = t
	}

	tab := root.Table()
	if tab.Offset(opsSlot) == 0 {
		return m, nil
	}
	n = root.OperationsLength()
	if !budget.take(n) {
		return nil, fmt.Errorf("operation vector length %d exceeds table size", n)
	}
	m.Operations = make([]OperationMetadata, n)
	var om schema.OperationMetadata
	for i := range n {
		root.Operations(&om, i)
		op := OperationMetadata{
			ID:        om.Id(),
			Operation: Operation(om.Operation()),
			Output:    om.Output(),
		}
		ins := om.InputOperationsLength()
		if !budget.take(ins) {
			return nil, fmt.Errorf("operation %d input length %d exceeds table size", i, ins)
		}
		op.InputOperations = make([]uint64, ins)
		for j := range ins {
			op.InputOperations[j] = om.InputOperations(j)
		}
		m.Operations[i] = op
	}
	return m, nil
}

// elementBudget is the number of vector elements a table may still decode.
type elementBudget int

func (b *elementBudget) take(n int) bool {
	if n < 0 || n > int(*b) {
		return false
	}
	*b -= elementBudget(n)
	return true
}
