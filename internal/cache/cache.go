// Package cache keeps recently fetched tensor payloads in memory so that
// repeated reads of a remote container do not hit the network again.
package cache

import (
	"context"
	"strconv"
	"sync"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"

	"github.com/samcharles93/tensorbuffers/pkg/tbuf"
)

const (
	DefaultMaxEntries = 1024
	DefaultMaxBytes   = 256 << 20
)

// Observer is told about every fetch and whether the cache served it.
type Observer interface {
	ObserveFetch(n int, cached bool)
}

// Options bounds the cache. Zero values select the defaults; a negative
// MaxBytes disables caching.
type Options struct {
	MaxEntries int
	MaxBytes   int64
	Observer   Observer
}

// Fetcher reads tensor payloads through a Reader with an LRU in front of
// it. Concurrent misses for the same tensor share one read.
type Fetcher struct {
	r        *tbuf.Reader
	observer Observer
	maxBytes int64

	mu    sync.Mutex
	lru   *lru.Cache
	bytes int64

	group singleflight.Group
}

func New(r *tbuf.Reader, opts Options) *Fetcher {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	f := &Fetcher{
		r:        r,
		observer: opts.Observer,
		maxBytes: opts.MaxBytes,
		lru:      lru.New(opts.MaxEntries),
	}
	f.lru.OnEvicted = func(_ lru.Key, value any) {
		f.bytes -= int64(len(value.([]byte)))
	}
	return f
}

// Reader returns the underlying reader.
func (f *Fetcher) Reader() *tbuf.Reader { return f.r }

// Fetch returns the payload of tm, from memory when possible.
func (f *Fetcher) Fetch(ctx context.Context, tm tbuf.TensorMetadata) (tbuf.Tensor, error) {
	if data, ok := f.get(tm.ID); ok {
		f.observe(len(data), true)
		return tbuf.Tensor{Metadata: tm, Data: data}, nil
	}

	v, err, _ := f.group.Do(strconv.FormatUint(tm.ID, 16), func() (any, error) {
		t, err := f.r.Fetch(ctx, tm)
		if err != nil {
			return nil, err
		}
		f.add(tm.ID, t.Data)
		return t.Data, nil
	})
	if err != nil {
		return tbuf.Tensor{}, err
	}
	data := v.([]byte)
	f.observe(len(data), false)
	return tbuf.Tensor{Metadata: tm, Data: data}, nil
}

// FetchByName resolves name and fetches its payload.
func (f *Fetcher) FetchByName(ctx context.Context, name string) (tbuf.Tensor, error) {
	tm, err := f.r.TensorByName(name)
	if err != nil {
		return tbuf.Tensor{}, err
	}
	return f.Fetch(ctx, tm)
}

// Len reports the number of cached payloads.
func (f *Fetcher) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lru.Len()
}

// Bytes reports the total size of cached payloads.
func (f *Fetcher) Bytes() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bytes
}

// Purge drops every cached payload.
func (f *Fetcher) Purge() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lru.Clear()
	f.bytes = 0
}

func (f *Fetcher) get(id uint64) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.lru.Get(id)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (f *Fetcher) add(id uint64, data []byte) {
	size := int64(len(data))
	if f.maxBytes < 0 || size > f.maxBytes {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.lru.Get(id); ok {
		return
	}
	f.lru.Add(id, data)
	f.bytes += size
	for f.bytes > f.maxBytes && f.lru.Len() > 1 {
		f.lru.RemoveOldest()
	}
}

func (f *Fetcher) observe(n int, cached bool) {
	if f.observer != nil {
		f.observer.ObserveFetch(n, cached)
	}
}
