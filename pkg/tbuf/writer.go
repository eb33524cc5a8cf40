package tbuf

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"sync"
)

const writerCopyBufSize = 1 << 20 // 1 MiB

// Target is a destination a Writer can patch in place.
type Target interface {
	io.WriterAt
	Truncate(size int64) error
}

// Writer adds tensors and operations to a container and writes the footer
// on Finalize. Payloads go straight to the target at the next free offset;
// metadata stays in memory until Finalize.
//
// A destination must have at most one Writer. Appending overwrites the
// previous footer before Finalize rewrites it, so an interrupted append
// leaves the container unreadable.
type Writer struct {
	target Target
	owned  io.Closer
	codec  Codec

	model   string
	tensors *tensorIndex
	ops     *opGraph
	hasOps  bool
	next    uint64
	closed  bool

	copyBuf []byte

	mu sync.Mutex
}

// NewWriter starts a fresh container on target, discarding its contents.
func NewWriter(target Target, opts ...Option) (*Writer, error) {
	if target == nil {
		return nil, fmt.Errorf("%w: nil target", ErrInvalidArgument)
	}
	o := buildOptions(opts)
	if err := target.Truncate(0); err != nil {
		return nil, fmt.Errorf("%w: truncate target: %w", ErrIO, err)
	}
	if _, err := target.WriteAt([]byte(Magic), 0); err != nil {
		return nil, fmt.Errorf("%w: write magic: %w", ErrIO, err)
	}
	return &Writer{
		target:  target,
		codec:   o.codec,
		model:   o.model,
		tensors: newTensorIndex(0),
		ops:     newOpGraph(0),
		next:    dataStart,
	}, nil
}

// Create creates or truncates path and starts a fresh container in it.
// The file is closed by Finalize or Close.
func Create(path string, opts ...Option) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	w, err := NewWriter(f, opts...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w.owned = f
	return w, nil
}

// NewAppendWriter adopts the container read from src and positions new
// payloads after the highest recorded payload end. src is closed before
// returning. target must hold the same bytes as src.
func NewAppendWriter(ctx context.Context, target Target, src Source, opts ...Option) (*Writer, error) {
	if target == nil {
		_ = src.Close()
		return nil, fmt.Errorf("%w: nil target", ErrInvalidArgument)
	}
	o := buildOptions(opts)
	r, err := NewReader(ctx, src, opts...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	w := &Writer{
		target:  target,
		codec:   o.codec,
		model:   r.model,
		tensors: newTensorIndex(r.tensors.len()),
		ops:     newOpGraph(0),
		hasOps:  r.ops != nil,
	}
	if o.model != "" {
		w.model = o.model
	}
	for _, t := range r.tensors.entries {
		w.tensors.insert(t.clone())
	}
	if r.ops != nil {
		for _, op := range r.ops.entries {
			w.ops.insert(op.clone())
		}
	}
	w.next = w.tensors.end()
	return w, nil
}

// OpenAppend opens an existing container file for appending.
func OpenAppend(ctx context.Context, path string, opts ...Option) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrIO, path, err)
	}
	w, err := NewAppendWriter(ctx, f, NewReaderAtSource(f, st.Size()), opts...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w.owned = f
	return w, nil
}

// SetModel sets the model identifier written by Finalize.
func (w *Writer) SetModel(model string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrInvalidState
	}
	w.model = model
	return nil
}

// Offset returns where the next payload will be written.
func (w *Writer) Offset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int64(w.next)
}

// Tensors returns the tensor entries recorded so far.
func (w *Writer) Tensors() []TensorMetadata {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tensors.snapshot()
}

// Operations returns the operation entries recorded so far.
func (w *Writer) Operations() []OperationMetadata {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ops.snapshot()
}

// prepare validates a new tensor and returns its metadata entry.
func (w *Writer) prepare(name string, shape []uint64, dt DataType) (TensorMetadata, error) {
	if w.closed {
		return TensorMetadata{}, ErrInvalidState
	}
	if name == "" {
		return TensorMetadata{}, fmt.Errorf("%w: empty tensor name", ErrInvalidArgument)
	}
	if !dt.Valid() {
		return TensorMetadata{}, fmt.Errorf("%w: tensor %q has data type %s", ErrInvalidArgument, name, dt)
	}
	id := HashName(name)
	if prev, ok := w.tensors.get(id); ok {
		if prev.Name != name {
			return TensorMetadata{}, fmt.Errorf("%w: %q collides with %q (id %#x)", ErrDuplicateName, name, prev.Name, id)
		}
		return TensorMetadata{}, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	size, err := PayloadSize(shape, dt)
	if err != nil {
		return TensorMetadata{}, fmt.Errorf("tensor %q: %w", name, err)
	}
	if size > math.MaxInt64-w.next {
		return TensorMetadata{}, fmt.Errorf("%w: tensor %q of %d bytes does not fit after offset %d", ErrShapeMismatch, name, size, w.next)
	}
	return TensorMetadata{
		ID:         id,
		Name:       name,
		Shape:      slices.Clone(shape),
		DataType:   dt,
		DataOffset: w.next,
		DataSize:   size,
	}, nil
}

func (w *Writer) commit(t TensorMetadata) TensorMetadata {
	w.tensors.insert(t)
	w.next = t.End()
	return t.clone()
}

// AddTensor writes payload and records the tensor. payload must hold exactly
// product(shape) elements of dt in little-endian order. A failed call leaves
// the recorded metadata unchanged.
func (w *Writer) AddTensor(name string, shape []uint64, dt DataType, payload []byte) (TensorMetadata, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, err := w.prepare(name, shape, dt)
	if err != nil {
		return TensorMetadata{}, err
	}
	if uint64(len(payload)) != t.DataSize {
		return TensorMetadata{}, fmt.Errorf("%w: tensor %q shape %v of %s needs %d bytes, got %d", ErrShapeMismatch, name, shape, dt, t.DataSize, len(payload))
	}
	if len(payload) > 0 {
		if _, err := w.target.WriteAt(payload, int64(t.DataOffset)); err != nil {
			return TensorMetadata{}, fmt.Errorf("%w: write tensor %q at %d: %w", ErrIO, name, t.DataOffset, err)
		}
	}
	return w.commit(t), nil
}

// errSourceRead marks a failure of the payload reader, as opposed to the target.
type errSourceRead struct{ err error }

func (e *errSourceRead) Error() string { return e.err.Error() }
func (e *errSourceRead) Unwrap() error { return e.err }

// AddTensorFrom streams the payload from r, reading exactly the expected
// number of bytes.
func (w *Writer) AddTensorFrom(name string, shape []uint64, dt DataType, r io.Reader) (TensorMetadata, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, err := w.prepare(name, shape, dt)
	if err != nil {
		return TensorMetadata{}, err
	}
	if r == nil {
		return TensorMetadata{}, fmt.Errorf("%w: nil reader for tensor %q", ErrInvalidArgument, name)
	}
	if w.copyBuf == nil {
		w.copyBuf = make([]byte, writerCopyBufSize)
	}

	written, err := copyAt(w.target, int64(t.DataOffset), r, int64(t.DataSize), w.copyBuf)
	var readErr *errSourceRead
	switch {
	case err == nil:
	case errors.As(err, &readErr) && errors.Is(err, io.EOF):
		return TensorMetadata{}, fmt.Errorf("%w: tensor %q needs %d bytes, reader ended after %d", ErrShapeMismatch, name, t.DataSize, written)
	case errors.As(err, &readErr):
		return TensorMetadata{}, fmt.Errorf("%w: read tensor %q: %w", ErrIO, name, readErr.err)
	default:
		return TensorMetadata{}, fmt.Errorf("%w: write tensor %q at %d: %w", ErrIO, name, t.DataOffset, err)
	}
	return w.commit(t), nil
}

// copyAt copies exactly n bytes from src to dst starting at off.
func copyAt(dst io.WriterAt, off int64, src io.Reader, n int64, buf []byte) (int64, error) {
	var written int64
	for written < n {
		chunk := buf[:min(int64(len(buf)), n-written)]
		read, err := io.ReadFull(src, chunk)
		if read > 0 {
			if _, werr := dst.WriteAt(chunk[:read], off+written); werr != nil {
				return written, werr
			}
			written += int64(read)
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			return written, &errSourceRead{err: err}
		}
	}
	return written, nil
}

// AddOperation records a graph node producing tensor output from the given
// input operations. Ids are chosen by the caller.
func (w *Writer) AddOperation(id uint64, kind Operation, output uint64, inputs []uint64) (OperationMetadata, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return OperationMetadata{}, ErrInvalidState
	}
	if !kind.Valid() {
		return OperationMetadata{}, fmt.Errorf("%w: operation %d has kind %s", ErrInvalidArgument, id, kind)
	}
	if w.ops.has(id) {
		return OperationMetadata{}, fmt.Errorf("%w: %d", ErrDuplicateOperation, id)
	}
	if !w.tensors.has(output) {
		return OperationMetadata{}, fmt.Errorf("%w: operation %d outputs tensor id %#x", ErrUnknownTensor, id, output)
	}
	for _, in := range inputs {
		if w.ops.reaches(in, id) {
			return OperationMetadata{}, fmt.Errorf("%w: operation %d would depend on itself through %d", ErrCycleDetected, id, in)
		}
	}
	for _, in := range inputs {
		if !w.ops.has(in) {
			return OperationMetadata{}, fmt.Errorf("%w: operation %d consumes operation %d", ErrUnknownOperation, id, in)
		}
	}

	op := OperationMetadata{
		ID:              id,
		Operation:       kind,
		Output:          output,
		InputOperations: slices.Clone(inputs),
	}
	if op.InputOperations == nil {
		op.InputOperations = []uint64{}
	}
	w.ops.insert(op)
	w.hasOps = true
	return op.clone(), nil
}

func (w *Writer) metadata() *Metadata {
	m := &Metadata{
		Version: SchemaVersion,
		Model:   w.model,
		Tensors: w.tensors.entries,
	}
	if w.hasOps {
		m.Operations = w.ops.entries
	}
	return m
}

// Finalize writes the metadata table and trailer after the last payload,
// truncates anything beyond it and closes the Writer. An owned file is
// synced and closed.
func (w *Writer) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrInvalidState
	}
	raw, err := w.codec.Encode(w.metadata())
	if err != nil {
		return fmt.Errorf("tbuf: encode metadata: %w", err)
	}
	if uint64(len(raw)) > math.MaxUint32 {
		return fmt.Errorf("%w: metadata table of %d bytes exceeds 4 GiB", ErrInvalidArgument, len(raw))
	}

	footer := make([]byte, 0, len(raw)+trailerSize)
	footer = append(footer, raw...)
	footer = binary.LittleEndian.AppendUint32(footer, uint32(len(raw)))
	footer = append(footer, Magic...)

	if _, err := w.target.WriteAt(footer, int64(w.next)); err != nil {
		return fmt.Errorf("%w: write footer at %d: %w", ErrIO, w.next, err)
	}
	end := int64(w.next) + int64(len(footer))
	if err := w.target.Truncate(end); err != nil {
		return fmt.Errorf("%w: truncate to %d: %w", ErrIO, end, err)
	}
	if s, ok := w.target.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			return fmt.Errorf("%w: sync: %w", ErrIO, err)
		}
	}

	w.closed = true
	return w.closeOwned()
}

// Close abandons the Writer without writing a footer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.closeOwned()
}

func (w *Writer) closeOwned() error {
	if w.owned == nil {
		return nil
	}
	c := w.owned
	w.owned = nil
	if err := c.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrIO, err)
	}
	return nil
}
