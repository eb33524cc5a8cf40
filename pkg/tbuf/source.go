package tbuf

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Source is random access to the bytes of one container. Implementations
// must be safe for concurrent ReadRange calls.
type Source interface {
	// Size returns the total length in bytes.
	Size() int64
	// ReadRange returns exactly n bytes starting at off. Ranges outside
	// [0, Size()) fail with a *RangeError. The returned slice may alias
	// source memory and must not be modified or kept past Close.
	ReadRange(ctx context.Context, off, n int64) ([]byte, error)
	Close() error
}

// ReaderAtSource reads through an io.ReaderAt, allocating a fresh slice per read.
type ReaderAtSource struct {
	r      io.ReaderAt
	size   int64
	closer io.Closer
}

// NewReaderAtSource wraps r, which must expose at least size bytes.
// Close does not close r.
func NewReaderAtSource(r io.ReaderAt, size int64) *ReaderAtSource {
	return &ReaderAtSource{r: r, size: size}
}

func (s *ReaderAtSource) Size() int64 { return s.size }

func (s *ReaderAtSource) ReadRange(ctx context.Context, off, n int64) ([]byte, error) {
	if err := checkRange(off, n, s.size); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	read, err := s.r.ReadAt(buf, off)
	if read == len(buf) {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return nil, fmt.Errorf("%w: read %d bytes at %d: %w", ErrIO, n, off, err)
}

func (s *ReaderAtSource) Close() error {
	if s.closer != nil {
		c := s.closer
		s.closer = nil
		return c.Close()
	}
	return nil
}

// BytesSource serves ranges of an in-memory container without copying.
type BytesSource struct {
	data []byte
}

func NewBytesSource(data []byte) *BytesSource {
	return &BytesSource{data: data}
}

func (s *BytesSource) Size() int64 { return int64(len(s.data)) }

func (s *BytesSource) ReadRange(_ context.Context, off, n int64) ([]byte, error) {
	if err := checkRange(off, n, int64(len(s.data))); err != nil {
		return nil, err
	}
	return s.data[off : off+n : off+n], nil
}

func (s *BytesSource) Close() error { return nil }

// SourceReaderAt adapts src to io.ReaderAt. Reads that run past the end
// return the available bytes and io.EOF.
func SourceReaderAt(ctx context.Context, src Source) io.ReaderAt {
	return &sourceReaderAt{ctx: ctx, src: src}
}

type sourceReaderAt struct {
	ctx context.Context
	src Source
}

func (r *sourceReaderAt) ReadAt(p []byte, off int64) (int, error) {
	size := r.src.Size()
	if off < 0 {
		return 0, &RangeError{Offset: off, Length: int64(len(p)), Size: size}
	}
	if off >= size {
		return 0, io.EOF
	}
	n := min(int64(len(p)), size-off)
	b, err := r.src.ReadRange(r.ctx, off, n)
	if err != nil {
		return 0, err
	}
	copied := copy(p, b)
	if copied < len(p) {
		return copied, io.EOF
	}
	return copied, nil
}
