package tbuf

import "fmt"

// opGraph stores operations contiguously with an id to position map.
// Edges point from an operation to the operations it consumes.
type opGraph struct {
	entries []OperationMetadata
	byID    map[uint64]int
}

func newOpGraph(capacity int) *opGraph {
	return &opGraph{
		entries: make([]OperationMetadata, 0, capacity),
		byID:    make(map[uint64]int, capacity),
	}
}

// loadOpGraph validates decoded operations against the tensor index.
// Acyclicity is checked by order.
func loadOpGraph(ops []OperationMetadata, tensors *tensorIndex) (*opGraph, error) {
	g := newOpGraph(len(ops))
	for _, op := range ops {
		if _, ok := g.byID[op.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate operation id %d", ErrMalformedGraph, op.ID)
		}
		if !op.Operation.Valid() {
			return nil, fmt.Errorf("%w: operation %d has kind %s", ErrMalformedGraph, op.ID, op.Operation)
		}
		if !tensors.has(op.Output) {
			return nil, fmt.Errorf("%w: operation %d outputs unknown tensor %#x", ErrMalformedGraph, op.ID, op.Output)
		}
		g.insert(op)
	}
	for _, op := range g.entries {
		for _, in := range op.InputOperations {
			if !g.has(in) {
				return nil, fmt.Errorf("%w: operation %d consumes unknown operation %d", ErrMalformedGraph, op.ID, in)
			}
		}
	}
	return g, nil
}

func (g *opGraph) insert(op OperationMetadata) {
	g.byID[op.ID] = len(g.entries)
	g.entries = append(g.entries, op)
}

func (g *opGraph) get(id uint64) (OperationMetadata, bool) {
	i, ok := g.byID[id]
	if !ok {
		return OperationMetadata{}, false
	}
	return g.entries[i], true
}

func (g *opGraph) has(id uint64) bool {
	_, ok := g.byID[id]
	return ok
}

// reaches reports whether target is reachable from start by following input edges.
func (g *opGraph) reaches(start, target uint64) bool {
	if start == target {
		return true
	}
	seen := make(map[uint64]struct{})
	stack := []uint64{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		op, ok := g.get(id)
		if !ok {
			continue
		}
		for _, in := range op.InputOperations {
			if in == target {
				return true
			}
			stack = append(stack, in)
		}
	}
	return false
}

// order returns positions in topological order, producers before consumers.
// Ties keep insertion order.
func (g *opGraph) order() ([]int, error) {
	n := len(g.entries)
	pending := make([]int, n)
	consumers := make([][]int, n)
	for i, op := range g.entries {
		pending[i] = len(op.InputOperations)
		for _, in := range op.InputOperations {
			j := g.byID[in]
			consumers[j] = append(consumers[j], i)
		}
	}
	queue := make([]int, 0, n)
	for i := range n {
		if pending[i] == 0 {
			queue = append(queue, i)
		}
	}
	out := make([]int, 0, n)
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		out = append(out, i)
		for _, c := range consumers[i] {
			pending[c]--
			if pending[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	if len(out) != n {
		return nil, fmt.Errorf("%w: %d operations form a cycle", ErrMalformedGraph, n-len(out))
	}
	return out, nil
}

func (g *opGraph) snapshot() []OperationMetadata {
	out := make([]OperationMetadata, len(g.entries))
	for i, op := range g.entries {
		out[i] = op.clone()
	}
	return out
}
