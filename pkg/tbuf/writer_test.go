package tbuf

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func newBufferWriter(t *testing.T, opts ...Option) (*Writer, *Buffer) {
	t.Helper()
	buf := &Buffer{}
	w, err := NewWriter(buf, opts...)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	return w, buf
}

func mustAdd(t *testing.T, w *Writer, name string, shape []uint64, dt DataType, payload []byte) TensorMetadata {
	t.Helper()
	tm, err := w.AddTensor(name, shape, dt, payload)
	if err != nil {
		t.Fatalf("add tensor %q: %v", name, err)
	}
	return tm
}

func openBuffer(t *testing.T, buf *Buffer) *Reader {
	t.Helper()
	r, err := NewReader(context.Background(), buf.Source())
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestWriterConcreteScenario(t *testing.T) {
	t.Parallel()

	w, buf := newBufferWriter(t)
	mustAdd(t, w, "w1", []uint64{2, 2}, Float32, Encode([]float32{1, 2, 3, 4}))
	mustAdd(t, w, "w2", []uint64{4}, Int8, Encode([]int8{9, 8, 7, 6}))
	if err := w.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	r := openBuffer(t, buf)
	tm, err := r.TensorByName("w2")
	if err != nil {
		t.Fatalf("tensor by name: %v", err)
	}
	if tm.DataSize != 4 {
		t.Fatalf("w2 data size = %d, want 4", tm.DataSize)
	}
	tensor, err := r.Fetch(context.Background(), tm)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !bytes.Equal(tensor.Data, []byte{9, 8, 7, 6}) {
		t.Fatalf("w2 payload = %v", tensor.Data)
	}
	vals, err := tensor.Int8()
	if err != nil {
		t.Fatalf("decode int8: %v", err)
	}
	if diff := cmp.Diff([]int8{9, 8, 7, 6}, vals); diff != "" {
		t.Fatalf("w2 values (-want +got):\n%s", diff)
	}

	w1, err := r.FetchByName(context.Background(), "w1")
	if err != nil {
		t.Fatalf("fetch w1: %v", err)
	}
	floats, err := w1.Float32()
	if err != nil {
		t.Fatalf("decode float32: %v", err)
	}
	if diff := cmp.Diff([]float32{1, 2, 3, 4}, floats); diff != "" {
		t.Fatalf("w1 values (-want +got):\n%s", diff)
	}
	if _, err := w1.Int8(); !errors.Is(err, ErrDataTypeMismatch) {
		t.Fatalf("decoding float32 as int8: got %v, want ErrDataTypeMismatch", err)
	}

	if _, err := r.TensorByName("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing tensor: got %v, want ErrNotFound", err)
	}
	if _, err := r.TensorByID(HashName("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing id: got %v, want ErrNotFound", err)
	}
}

func TestWriterRoundTripPreservesMetadata(t *testing.T) {
	t.Parallel()

	type input struct {
		name  string
		shape []uint64
		dt    DataType
		data  []byte
	}
	inputs := []input{
		{"scalar", nil, Float64, Encode([]float64{3.5})},
		{"empty", []uint64{0, 3}, Int32, nil},
		{"u16", []uint64{3}, UInt16, Encode([]uint16{1, 2, 65535})},
		{"i64", []uint64{1, 2}, Int64, Encode([]int64{-1, 1 << 40})},
		{"u32", []uint64{2}, UInt32, Encode([]uint32{7, 8})},
	}

	w, buf := newBufferWriter(t, WithModel("round-trip"))
	for _, in := range inputs {
		mustAdd(t, w, in.name, in.shape, in.dt, in.data)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	r := openBuffer(t, buf)
	if r.Version() != SchemaVersion || r.Model() != "round-trip" {
		t.Fatalf("version/model = %q/%q", r.Version(), r.Model())
	}
	if r.HasOperations() {
		t.Fatalf("container without operations reported a graph")
	}
	for _, in := range inputs {
		tensor, err := r.FetchByName(context.Background(), in.name)
		if err != nil {
			t.Fatalf("fetch %q: %v", in.name, err)
		}
		if !bytes.Equal(tensor.Data, in.data) {
			t.Fatalf("%q payload = %v, want %v", in.name, tensor.Data, in.data)
		}
		if diff := cmp.Diff(in.shape, tensor.Shape(), cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("%q shape (-want +got):\n%s", in.name, diff)
		}
		if tensor.DataType() != in.dt {
			t.Fatalf("%q data type = %s, want %s", in.name, tensor.DataType(), in.dt)
		}
	}
	if diff := cmp.Diff(w.Tensors(), r.Tensors(), cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("reader tensors differ from writer (-writer +reader):\n%s", diff)
	}
}

func TestFooterLocatability(t *testing.T) {
	t.Parallel()

	w, buf := newBufferWriter(t)
	mustAdd(t, w, "a", []uint64{3}, UInt8, []byte{1, 2, 3})
	if err := w.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	data := buf.Bytes()
	l := len(data)
	s := int(binary.LittleEndian.Uint32(data[l-8 : l-4]))

	if string(data[:4]) != Magic || string(data[l-4:]) != Magic {
		t.Fatalf("magic missing: head %q tail %q", data[:4], data[l-4:])
	}
	if _, err := (FlatCodec{}).Decode(data[l-8-s : l-8]); err != nil {
		t.Fatalf("metadata is not at L-8-S: %v", err)
	}

	r := openBuffer(t, buf)
	if r.MetadataOffset() != int64(l-8-s) || r.MetadataSize() != int64(s) {
		t.Fatalf("metadata at %d+%d, want %d+%d", r.MetadataOffset(), r.MetadataSize(), l-8-s, s)
	}

	for _, pos := range []int{0, 3, l - 4, l - 1} {
		corrupt := bytes.Clone(data)
		corrupt[pos] ^= 0xff
		if _, err := NewReader(context.Background(), NewBytesSource(corrupt)); !errors.Is(err, ErrInvalidFormat) {
			t.Fatalf("corrupt byte %d: got %v, want ErrInvalidFormat", pos, err)
		}
	}
}

func TestReaderRejectsBadEnvelopes(t *testing.T) {
	t.Parallel()

	w, buf := newBufferWriter(t)
	mustAdd(t, w, "a", []uint64{2}, Float32, Encode([]float32{1, 2}))
	if err := w.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	data := buf.Bytes()
	l := len(data)

	short := []byte("TBUF\x00\x00\x00TBUF")
	if _, err := NewReader(context.Background(), NewBytesSource(short)); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("short container: got %v, want ErrInvalidFormat", err)
	}

	huge := bytes.Clone(data)
	binary.LittleEndian.PutUint32(huge[l-8:], uint32(l))
	if _, err := NewReader(context.Background(), NewBytesSource(huge)); !errors.Is(err, ErrCorruptMetadata) {
		t.Fatalf("oversized metadata length: got %v, want ErrCorruptMetadata", err)
	}

	garbled := bytes.Clone(data)
	s := int(binary.LittleEndian.Uint32(data[l-8:]))
	for i := l - 8 - s; i < l-8; i++ {
		garbled[i] = 0xee
	}
	if _, err := NewReader(context.Background(), NewBytesSource(garbled)); !errors.Is(err, ErrCorruptMetadata) {
		t.Fatalf("garbled metadata: got %v, want ErrCorruptMetadata", err)
	}
}

func TestAppendKeepsExistingPayloads(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "model.tbuf")
	w, err := Create(path, WithModel("base"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a := mustAdd(t, w, "a", []uint64{2}, Int16, Encode([]int16{-5, 5}))
	if _, err := w.AddOperation(1, OpRelu, a.ID, nil); err != nil {
		t.Fatalf("add operation: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}

	aw, err := OpenAppend(context.Background(), path)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if aw.Offset() != int64(a.End()) {
		t.Fatalf("append offset = %d, want %d", aw.Offset(), a.End())
	}
	b := mustAdd(t, aw, "b", []uint64{3}, UInt8, []byte{7, 8, 9})
	if b.DataOffset != a.End() {
		t.Fatalf("b offset = %d, want %d", b.DataOffset, a.End())
	}
	if _, err := aw.AddOperation(2, OpSoftmax, b.ID, []uint64{1}); err != nil {
		t.Fatalf("add operation after append: %v", err)
	}
	if _, err := aw.AddTensor("a", []uint64{2}, Int16, Encode([]int16{0, 0})); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("re-adding a: got %v, want ErrDuplicateName", err)
	}
	if err := aw.Finalize(); err != nil {
		t.Fatalf("finalize append: %v", err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !bytes.Equal(before[:a.End()], after[:a.End()]) {
		t.Fatalf("bytes before the append point changed")
	}

	r, err := OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = r.Close() }()

	gotA, err := r.TensorByName("a")
	if err != nil {
		t.Fatalf("a: %v", err)
	}
	if diff := cmp.Diff(a, gotA); diff != "" {
		t.Fatalf("a metadata changed (-before +after):\n%s", diff)
	}
	tensor, err := r.Fetch(context.Background(), gotA)
	if err != nil {
		t.Fatalf("fetch a: %v", err)
	}
	if !bytes.Equal(tensor.Data, Encode([]int16{-5, 5})) {
		t.Fatalf("a payload = %v", tensor.Data)
	}
	tensor, err = r.FetchByName(context.Background(), "b")
	if err != nil {
		t.Fatalf("fetch b: %v", err)
	}
	if !bytes.Equal(tensor.Data, []byte{7, 8, 9}) {
		t.Fatalf("b payload = %v", tensor.Data)
	}
	if r.Model() != "base" {
		t.Fatalf("model = %q, want base", r.Model())
	}
	if got := len(r.Operations()); got != 2 {
		t.Fatalf("operations = %d, want 2", got)
	}
}

func TestAppendToBuffer(t *testing.T) {
	t.Parallel()

	w, buf := newBufferWriter(t)
	mustAdd(t, w, "x", []uint64{1}, Float32, Encode([]float32{1}))
	if err := w.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	oldLen := buf.Len()

	aw, err := NewAppendWriter(context.Background(), buf, buf.Source())
	if err != nil {
		t.Fatalf("append writer: %v", err)
	}
	mustAdd(t, aw, "y", nil, UInt64, Encode([]uint64{42}))
	if err := aw.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if buf.Len() <= oldLen-8 {
		t.Fatalf("container did not grow: %d -> %d", oldLen, buf.Len())
	}

	r := openBuffer(t, buf)
	if r.NumTensors() != 2 {
		t.Fatalf("tensors = %d, want 2", r.NumTensors())
	}
	y, err := r.FetchByName(context.Background(), "y")
	if err != nil {
		t.Fatalf("fetch y: %v", err)
	}
	vals, err := y.Uint64()
	if err != nil || len(vals) != 1 || vals[0] != 42 {
		t.Fatalf("y = %v, %v", vals, err)
	}
}

func TestWriterRejectsBadTensors(t *testing.T) {
	t.Parallel()

	w, _ := newBufferWriter(t)
	first := mustAdd(t, w, "w", []uint64{2}, Float32, Encode([]float32{1, 2}))

	cases := []struct {
		name    string
		tname   string
		shape   []uint64
		dt      DataType
		payload []byte
		want    error
	}{
		{"empty name", "", []uint64{1}, Float32, make([]byte, 4), ErrInvalidArgument},
		{"none type", "n", []uint64{1}, DataTypeNone, make([]byte, 4), ErrInvalidArgument},
		{"duplicate", "w", []uint64{2}, Float32, make([]byte, 8), ErrDuplicateName},
		{"short payload", "s", []uint64{2, 2}, Float32, make([]byte, 15), ErrShapeMismatch},
		{"long payload", "l", []uint64{2}, Int8, make([]byte, 3), ErrShapeMismatch},
	}
	for _, tc := range cases {
		if _, err := w.AddTensor(tc.tname, tc.shape, tc.dt, tc.payload); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}

	tensors := w.Tensors()
	if len(tensors) != 1 {
		t.Fatalf("failed adds mutated state: %d tensors", len(tensors))
	}
	if diff := cmp.Diff(first, tensors[0]); diff != "" {
		t.Fatalf("first tensor changed (-want +got):\n%s", diff)
	}
	if w.Offset() != int64(first.End()) {
		t.Fatalf("offset moved to %d after failed adds", w.Offset())
	}
}

func TestAddTensorFromStreams(t *testing.T) {
	t.Parallel()

	w, buf := newBufferWriter(t)
	payload := Encode([]float64{1, 2, 3})
	if _, err := w.AddTensorFrom("stream", []uint64{3}, Float64, bytes.NewReader(payload)); err != nil {
		t.Fatalf("add from reader: %v", err)
	}
	if _, err := w.AddTensorFrom("short", []uint64{4}, Float64, bytes.NewReader(payload)); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("short reader: got %v, want ErrShapeMismatch", err)
	}
	if _, err := w.AddTensorFrom("broken", []uint64{1}, Float64, iotestErrReader{}); !errors.Is(err, ErrIO) {
		t.Fatalf("failing reader: got %v, want ErrIO", err)
	}
	if len(w.Tensors()) != 1 {
		t.Fatalf("failed streams were recorded")
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	r := openBuffer(t, buf)
	tensor, err := r.FetchByName(context.Background(), "stream")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !bytes.Equal(tensor.Data, payload) {
		t.Fatalf("payload mismatch")
	}
}

type iotestErrReader struct{}

func (iotestErrReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestOperationGraphChecks(t *testing.T) {
	t.Parallel()

	w, buf := newBufferWriter(t)
	out := mustAdd(t, w, "out", []uint64{1}, Float32, Encode([]float32{0}))

	if _, err := w.AddOperation(1, OpMatMul, out.ID, nil); err != nil {
		t.Fatalf("add root operation: %v", err)
	}
	if _, err := w.AddOperation(2, OpRelu, out.ID, []uint64{1}); err != nil {
		t.Fatalf("add dependent operation: %v", err)
	}

	cases := []struct {
		name   string
		id     uint64
		kind   Operation
		output uint64
		inputs []uint64
		want   error
	}{
		{"invalid kind", 3, OperationNone, out.ID, nil, ErrInvalidArgument},
		{"duplicate id", 2, OpAdd, out.ID, nil, ErrDuplicateOperation},
		{"unknown output", 3, OpAdd, HashName("nope"), nil, ErrUnknownTensor},
		{"self reference", 3, OpAdd, out.ID, []uint64{1, 3}, ErrCycleDetected},
		{"unknown input", 3, OpAdd, out.ID, []uint64{1, 99}, ErrUnknownOperation},
	}
	for _, tc := range cases {
		if _, err := w.AddOperation(tc.id, tc.kind, tc.output, tc.inputs); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
	if got := len(w.Operations()); got != 2 {
		t.Fatalf("operations = %d after rejected adds, want 2", got)
	}

	if _, err := w.AddOperation(3, OpAdd, out.ID, []uint64{2, 1}); err != nil {
		t.Fatalf("add join operation: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	r := openBuffer(t, buf)
	order := r.OperationOrder()
	pos := make(map[uint64]int, len(order))
	for i, op := range order {
		pos[op.ID] = i
	}
	for _, op := range order {
		for _, in := range op.InputOperations {
			if pos[in] >= pos[op.ID] {
				t.Fatalf("operation %d ordered before its input %d", op.ID, in)
			}
		}
	}
	op, err := r.OperationByID(3)
	if err != nil {
		t.Fatalf("operation by id: %v", err)
	}
	if diff := cmp.Diff([]uint64{2, 1}, op.InputOperations); diff != "" {
		t.Fatalf("inputs (-want +got):\n%s", diff)
	}
	if _, err := r.OperationByID(42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing operation: got %v, want ErrNotFound", err)
	}
}

func TestWriterInvalidStateAfterFinalize(t *testing.T) {
	t.Parallel()

	w, _ := newBufferWriter(t)
	out := mustAdd(t, w, "t", nil, UInt8, []byte{1})
	if err := w.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := w.AddTensor("u", nil, UInt8, []byte{1}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("add tensor after finalize: got %v", err)
	}
	if _, err := w.AddOperation(1, OpAdd, out.ID, nil); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("add operation after finalize: got %v", err)
	}
	if err := w.SetModel("x"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("set model after finalize: got %v", err)
	}
	if err := w.Finalize(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second finalize: got %v", err)
	}
}

func TestReaderRejectsInconsistentMetadata(t *testing.T) {
	t.Parallel()

	build := func(m *Metadata, payload int) []byte {
		raw, err := (FlatCodec{}).Encode(m)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		out := []byte(Magic)
		out = append(out, make([]byte, payload)...)
		out = append(out, raw...)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(raw)))
		return append(out, Magic...)
	}
	tensor := func(name string, off uint64) TensorMetadata {
		return TensorMetadata{ID: HashName(name), Name: name, Shape: []uint64{2}, DataType: Float32, DataOffset: off, DataSize: 8}
	}

	cases := []struct {
		name string
		meta *Metadata
		want error
	}{
		{"missing version", &Metadata{Tensors: []TensorMetadata{tensor("a", 4)}}, ErrCorruptMetadata},
		{"overlap", &Metadata{Version: "1", Tensors: []TensorMetadata{tensor("a", 4), tensor("b", 8)}}, ErrCorruptMetadata},
		{"past data region", &Metadata{Version: "1", Tensors: []TensorMetadata{tensor("a", 16)}}, ErrCorruptMetadata},
		{"id mismatch", &Metadata{Version: "1", Tensors: []TensorMetadata{{ID: 1, Name: "a", Shape: []uint64{2}, DataType: Float32, DataOffset: 4, DataSize: 8}}}, ErrCorruptMetadata},
		{"size mismatch", &Metadata{Version: "1", Tensors: []TensorMetadata{{ID: HashName("a"), Name: "a", Shape: []uint64{3}, DataType: Float32, DataOffset: 4, DataSize: 8}}}, ErrCorruptMetadata},
		{"op unknown output", &Metadata{Version: "1", Tensors: []TensorMetadata{tensor("a", 4)}, Operations: []OperationMetadata{{ID: 1, Operation: OpAdd, Output: 5}}}, ErrMalformedGraph},
		{"op unknown input", &Metadata{Version: "1", Tensors: []TensorMetadata{tensor("a", 4)}, Operations: []OperationMetadata{{ID: 1, Operation: OpAdd, Output: HashName("a"), InputOperations: []uint64{2}}}}, ErrMalformedGraph},
		{"op cycle", &Metadata{Version: "1", Tensors: []TensorMetadata{tensor("a", 4)}, Operations: []OperationMetadata{
			{ID: 1, Operation: OpAdd, Output: HashName("a"), InputOperations: []uint64{2}},
			{ID: 2, Operation: OpMul, Output: HashName("a"), InputOperations: []uint64{1}},
		}}, ErrMalformedGraph},
	}
	for _, tc := range cases {
		data := build(tc.meta, 16)
		_, err := NewReader(context.Background(), NewBytesSource(data))
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestNewReaderClosesSourceOnFailure(t *testing.T) {
	t.Parallel()

	src := &closeCounter{Source: NewBytesSource([]byte(strings.Repeat("x", 32)))}
	if _, err := NewReader(context.Background(), src); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("got %v, want ErrInvalidFormat", err)
	}
	if src.closed != 1 {
		t.Fatalf("source closed %d times, want 1", src.closed)
	}
}

type closeCounter struct {
	Source
	closed int
}

func (c *closeCounter) Close() error {
	c.closed++
	return c.Source.Close()
}

func TestFetchOutsideDataRegion(t *testing.T) {
	t.Parallel()

	w, buf := newBufferWriter(t)
	tm := mustAdd(t, w, "a", []uint64{2}, UInt8, []byte{1, 2})
	if err := w.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	r := openBuffer(t, buf)

	tm.DataSize = 1 << 20
	_, err := r.Fetch(context.Background(), tm)
	var rerr *RangeError
	if !errors.As(err, &rerr) || !errors.Is(err, ErrRange) {
		t.Fatalf("got %v, want *RangeError", err)
	}
	if rerr.Offset != int64(tm.DataOffset) || rerr.Length != 1<<20 {
		t.Fatalf("range error context = %+v", rerr)
	}
}
