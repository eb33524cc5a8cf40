package tbuf

import (
	"context"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
)

// Option configures a Reader or Writer.
type Option func(*options)

type options struct {
	codec Codec
	model string
}

func buildOptions(opts []Option) options {
	o := options{codec: FlatCodec{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithCodec replaces the FlatBuffers metadata codec.
func WithCodec(c Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithModel sets the model identifier recorded by a Writer.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// Reader resolves tensors in a container. Metadata is loaded and validated
// once at construction; payloads are read on demand on every Fetch.
// All methods are safe for concurrent use, but Close must not race with
// in-flight fetches.
type Reader struct {
	src     Source
	version string
	model   string
	tensors *tensorIndex
	ops     *opGraph // nil when the container has no graph
	order   []int

	metaOffset int64
	metaSize   int64
}

// NewReader bootstraps a Reader from src and takes ownership of it. If
// bootstrap fails src is closed before returning.
func NewReader(ctx context.Context, src Source, opts ...Option) (*Reader, error) {
	o := buildOptions(opts)
	r, err := bootstrap(ctx, src, o.codec)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return r, nil
}

func bootstrap(ctx context.Context, src Source, codec Codec) (*Reader, error) {
	size := src.Size()
	if size < minContainerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the %d byte envelope", ErrInvalidFormat, size, minContainerSize)
	}

	head, err := src.ReadRange(ctx, 0, magicSize)
	if err != nil {
		return nil, err
	}
	if string(head) != Magic {
		return nil, fmt.Errorf("%w: leading magic %q", ErrInvalidFormat, head)
	}

	trailer, err := src.ReadRange(ctx, size-trailerSize, trailerSize)
	if err != nil {
		return nil, err
	}
	if string(trailer[4:]) != Magic {
		return nil, fmt.Errorf("%w: trailing magic %q", ErrInvalidFormat, trailer[4:])
	}

	metaSize := int64(binary.LittleEndian.Uint32(trailer[:4]))
	metaOffset := size - trailerSize - metaSize
	if metaOffset < dataStart {
		return nil, fmt.Errorf("%w: metadata size %d exceeds container size %d", ErrCorruptMetadata, metaSize, size)
	}

	raw, err := src.ReadRange(ctx, metaOffset, metaSize)
	if err != nil {
		return nil, err
	}
	meta, err := codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptMetadata, err)
	}
	if meta.Version == "" {
		return nil, fmt.Errorf("%w: missing schema version", ErrCorruptMetadata)
	}

	tensors, err := loadTensorIndex(meta.Tensors, uint64(metaOffset))
	if err != nil {
		return nil, err
	}
	r := &Reader{
		src:        src,
		version:    meta.Version,
		model:      meta.Model,
		tensors:    tensors,
		metaOffset: metaOffset,
		metaSize:   metaSize,
	}
	if meta.Operations != nil {
		ops, err := loadOpGraph(meta.Operations, tensors)
		if err != nil {
			return nil, err
		}
		order, err := ops.order()
		if err != nil {
			return nil, err
		}
		r.ops, r.order = ops, order
	}
	return r, nil
}

// OpenFile opens a local container, memory mapped where possible.
func OpenFile(path string, opts ...Option) (*Reader, error) {
	src, err := OpenFileSource(path)
	if err != nil {
		return nil, err
	}
	return NewReader(context.Background(), src, opts...)
}

// OpenURL opens a remote container served with HTTP range support.
func OpenURL(ctx context.Context, rawURL string, httpOpts HTTPOptions, opts ...Option) (*Reader, error) {
	src, err := OpenHTTP(ctx, rawURL, httpOpts)
	if err != nil {
		return nil, err
	}
	return NewReader(ctx, src, opts...)
}

// Open dispatches on location: http and https URLs are read remotely,
// file URLs and plain paths locally.
func Open(ctx context.Context, location string, httpOpts HTTPOptions, opts ...Option) (*Reader, error) {
	switch {
	case IsRemote(location):
		return OpenURL(ctx, location, httpOpts, opts...)
	case strings.HasPrefix(location, "file://"):
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("%w: location %q: %w", ErrInvalidArgument, location, err)
		}
		return OpenFile(u.Path, opts...)
	default:
		return OpenFile(location, opts...)
	}
}

// IsRemote reports whether location is an http or https URL.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

// Close releases the underlying source.
func (r *Reader) Close() error {
	return r.src.Close()
}

// Source returns the byte source the Reader was built on.
func (r *Reader) Source() Source { return r.src }

func (r *Reader) Version() string { return r.version }
func (r *Reader) Model() string   { return r.model }

// Size is the total container length.
func (r *Reader) Size() int64 { return r.src.Size() }

// MetadataOffset is where the metadata table starts, which is also the end
// of the payload region.
func (r *Reader) MetadataOffset() int64 { return r.metaOffset }
func (r *Reader) MetadataSize() int64   { return r.metaSize }

// NumTensors returns the number of tensors in the container.
func (r *Reader) NumTensors() int { return r.tensors.len() }

// TensorByID looks up a tensor by id.
func (r *Reader) TensorByID(id uint64) (TensorMetadata, error) {
	t, ok := r.tensors.get(id)
	if !ok {
		return TensorMetadata{}, fmt.Errorf("%w: tensor id %#x", ErrNotFound, id)
	}
	return t.clone(), nil
}

// TensorByName looks up a tensor by name.
func (r *Reader) TensorByName(name string) (TensorMetadata, error) {
	t, ok := r.tensors.get(HashName(name))
	if !ok || t.Name != name {
		return TensorMetadata{}, fmt.Errorf("%w: tensor %q", ErrNotFound, name)
	}
	return t.clone(), nil
}

// Tensors returns all tensor entries in metadata order.
func (r *Reader) Tensors() []TensorMetadata {
	return r.tensors.snapshot()
}

// HasOperations reports whether the container carries graph metadata.
func (r *Reader) HasOperations() bool { return r.ops != nil }

// Operations returns operation entries in metadata order, or nil.
func (r *Reader) Operations() []OperationMetadata {
	if r.ops == nil {
		return nil
	}
	return r.ops.snapshot()
}

// OperationByID looks up an operation by id.
func (r *Reader) OperationByID(id uint64) (OperationMetadata, error) {
	if r.ops != nil {
		if op, ok := r.ops.get(id); ok {
			return op.clone(), nil
		}
	}
	return OperationMetadata{}, fmt.Errorf("%w: operation %d", ErrNotFound, id)
}

// OperationOrder returns operations so that every operation follows the
// operations it consumes.
func (r *Reader) OperationOrder() []OperationMetadata {
	if r.ops == nil {
		return nil
	}
	out := make([]OperationMetadata, len(r.order))
	for i, pos := range r.order {
		out[i] = r.ops.entries[pos].clone()
	}
	return out
}

// Metadata returns a copy of the decoded metadata.
func (r *Reader) Metadata() *Metadata {
	return &Metadata{
		Version:    r.version,
		Model:      r.model,
		Tensors:    r.Tensors(),
		Operations: r.Operations(),
	}
}

// Fetch reads the payload described by tm. Nothing is cached.
func (r *Reader) Fetch(ctx context.Context, tm TensorMetadata) (Tensor, error) {
	if tm.DataOffset < dataStart || tm.DataOffset > uint64(r.metaOffset) || tm.DataSize > uint64(r.metaOffset)-tm.DataOffset {
		return Tensor{}, &RangeError{Offset: int64(tm.DataOffset), Length: int64(tm.DataSize), Size: r.metaOffset}
	}
	data, err := r.src.ReadRange(ctx, int64(tm.DataOffset), int64(tm.DataSize))
	if err != nil {
		return Tensor{}, fmt.Errorf("fetch tensor %q: %w", tm.Name, err)
	}
	return Tensor{Metadata: tm, Data: data}, nil
}

// FetchByName resolves name and fetches its payload.
func (r *Reader) FetchByName(ctx context.Context, name string) (Tensor, error) {
	tm, err := r.TensorByName(name)
	if err != nil {
		return Tensor{}, err
	}
	return r.Fetch(ctx, tm)
}
