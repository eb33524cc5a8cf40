package tbuf

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// MmapSource serves ranges of a read-only shared file mapping. Reads return
// views into the mapping and take no locks.
type MmapSource struct {
	data   []byte
	closed atomic.Bool
	once   sync.Once
	err    error
}

// OpenMmap maps path read-only.
func OpenMmap(path string) (*MmapSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", ErrIO, path, err)
	}
	size := st.Size()
	if size <= 0 || size > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%w: cannot map %s of size %d", ErrIO, path, size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %s: %w", ErrIO, path, err)
	}
	return &MmapSource{data: data}, nil
}

func (s *MmapSource) Size() int64 { return int64(len(s.data)) }

func (s *MmapSource) ReadRange(_ context.Context, off, n int64) ([]byte, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: read from closed mapping", ErrIO)
	}
	if err := checkRange(off, n, int64(len(s.data))); err != nil {
		return nil, err
	}
	return s.data[off : off+n : off+n], nil
}

// Close unmaps the file. It is safe to call more than once.
func (s *MmapSource) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		if err := unix.Munmap(s.data); err != nil {
			s.err = fmt.Errorf("%w: munmap: %w", ErrIO, err)
		}
	})
	return s.err
}

// OpenFileSource maps path, falling back to ReadAt-based access when the
// file cannot be mapped. The fallback source owns the open file.
func OpenFileSource(path string) (Source, error) {
	if src, err := OpenMmap(path); err == nil {
		return src, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrIO, path, err)
	}
	src := NewReaderAtSource(f, st.Size())
	src.closer = f
	return src, nil
}
