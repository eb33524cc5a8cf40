package tbuf

import (
	"fmt"
	"slices"
)

// tensorIndex stores tensor entries contiguously in insertion order with an
// id to position map on top.
type tensorIndex struct {
	entries []TensorMetadata
	byID    map[uint64]int
}

func newTensorIndex(capacity int) *tensorIndex {
	return &tensorIndex{
		entries: make([]TensorMetadata, 0, capacity),
		byID:    make(map[uint64]int, capacity),
	}
}

// loadTensorIndex validates entries decoded from a container whose metadata
// table starts at metaStart and indexes them.
func loadTensorIndex(entries []TensorMetadata, metaStart uint64) (*tensorIndex, error) {
	idx := newTensorIndex(len(entries))
	for i, t := range entries {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: tensor %d has an empty name", ErrCorruptMetadata, i)
		}
		if t.ID != HashName(t.Name) {
			return nil, fmt.Errorf("%w: tensor %q id %#x does not match its name hash", ErrCorruptMetadata, t.Name, t.ID)
		}
		if _, ok := idx.byID[t.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate tensor %q (id %#x)", ErrCorruptMetadata, t.Name, t.ID)
		}
		if !t.DataType.Valid() {
			return nil, fmt.Errorf("%w: tensor %q has data type %s", ErrCorruptMetadata, t.Name, t.DataType)
		}
		want, err := PayloadSize(t.Shape, t.DataType)
		if err != nil || want != t.DataSize {
			return nil, fmt.Errorf("%w: tensor %q data size %d does not match shape %v of %s", ErrCorruptMetadata, t.Name, t.DataSize, t.Shape, t.DataType)
		}
		if t.DataOffset < dataStart || t.DataOffset > metaStart || t.DataSize > metaStart-t.DataOffset {
			return nil, fmt.Errorf("%w: tensor %q payload [%d, %d) outside data region [%d, %d)", ErrCorruptMetadata, t.Name, t.DataOffset, t.DataOffset+t.DataSize, dataStart, metaStart)
		}
		idx.insert(t)
	}
	if err := idx.checkOverlap(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *tensorIndex) insert(t TensorMetadata) {
	idx.byID[t.ID] = len(idx.entries)
	idx.entries = append(idx.entries, t)
}

func (idx *tensorIndex) get(id uint64) (TensorMetadata, bool) {
	i, ok := idx.byID[id]
	if !ok {
		return TensorMetadata{}, false
	}
	return idx.entries[i], true
}

func (idx *tensorIndex) has(id uint64) bool {
	_, ok := idx.byID[id]
	return ok
}

func (idx *tensorIndex) len() int {
	return len(idx.entries)
}

// end returns the first free payload offset.
func (idx *tensorIndex) end() uint64 {
	end := uint64(dataStart)
	for _, t := range idx.entries {
		end = max(end, t.End())
	}
	return end
}

func (idx *tensorIndex) snapshot() []TensorMetadata {
	out := make([]TensorMetadata, len(idx.entries))
	for i, t := range idx.entries {
		out[i] = t.clone()
	}
	return out
}

func (idx *tensorIndex) checkOverlap() error {
	order := make([]int, 0, len(idx.entries))
	for i, t := range idx.entries {
		if t.DataSize > 0 {
			order = append(order, i)
		}
	}
	slices.SortFunc(order, func(a, b int) int {
		switch ea, eb := idx.entries[a].DataOffset, idx.entries[b].DataOffset; {
		case ea < eb:
			return -1
		case ea > eb:
			return 1
		}
		return 0
	})
	for i := 1; i < len(order); i++ {
		prev, cur := idx.entries[order[i-1]], idx.entries[order[i]]
		if prev.End() > cur.DataOffset {
			return fmt.Errorf("%w: payloads of %q and %q overlap", ErrCorruptMetadata, prev.Name, cur.Name)
		}
	}
	return nil
}
