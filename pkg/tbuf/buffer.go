package tbuf

import (
	"fmt"
	"io"
	"sync"
)

// Buffer is an in-memory Target. The zero value is ready to use.
type Buffer struct {
	mu   sync.Mutex
	data []byte
}

func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrInvalidArgument, off)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	end := int(off) + len(p)
	if n := len(b.data); end > n {
		if end > cap(b.data) {
			grown := make([]byte, end, max(end, 2*cap(b.data)))
			copy(grown, b.data)
			b.data = grown
		} else {
			b.data = b.data[:end]
			clear(b.data[n:])
		}
	}
	return copy(b.data[off:], p), nil
}

func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrInvalidArgument, off)
	}
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *Buffer) Truncate(size int64) error {
	if size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrInvalidArgument, size)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if int(size) <= len(b.data) {
		b.data = b.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, b.data)
	b.data = grown
	return nil
}

// Len returns the current length.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Bytes returns a copy of the contents.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

// Source returns a BytesSource over a snapshot of the contents.
func (b *Buffer) Source() *BytesSource {
	return NewBytesSource(b.Bytes())
}
