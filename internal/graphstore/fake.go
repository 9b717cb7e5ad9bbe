package graphstore

import (
	"context"
	"sync"
)

// Fake is an in-memory Client for worker tests: records committed
// batches and can be made to fail on demand, without requiring a real
// graph database.
type Fake struct {
	mu         sync.Mutex
	NodeBatches []NodeBatch
	EdgeBatches []EdgeBatch
	FailNodes   bool
	FailEdges   bool
	FailErr     error
}

func (f *Fake) CommitNodes(ctx context.Context, batch NodeBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailNodes {
		return f.FailErr
	}
	f.NodeBatches = append(f.NodeBatches, batch)
	return nil
}

func (f *Fake) CommitEdges(ctx context.Context, batch EdgeBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailEdges {
		return f.FailErr
	}
	f.EdgeBatches = append(f.EdgeBatches, batch)
	return nil
}

func (f *Fake) NodeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.NodeBatches {
		n += len(b.Nodes)
	}
	return n
}

func (f *Fake) EdgeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.EdgeBatches {
		n += len(b.Edges)
	}
	return n
}
