// Package graphstore defines the collaborator interface
// internal/graphbuilder drains batches into, plus a concrete HTTP/JSON
// adapter. The graph database itself is an out-of-scope external system
// (spec.md §1, §6): this package only has to agree with it on a batch
// request/response shape.
package graphstore

import "context"

// NodeBatch is one UNWIND-able batch of same-label node upserts.
type NodeBatch struct {
	Label string
	Nodes []NodeProperties
}

// NodeProperties is one node's MERGE key plus the properties applied on
// both create and match (spec.md §4.9: "SET n += p.properties").
type NodeProperties struct {
	QualifiedName string
	Properties    map[string]any
}

// EdgeBatch is one UNWIND-able batch of same-type edge upserts.
type EdgeBatch struct {
	Type  string
	Edges []EdgeProperties
}

// EdgeProperties is one edge's endpoint qualified names plus the
// properties applied on both create and match.
type EdgeProperties struct {
	SourceQN   string
	TargetQN   string
	Properties map[string]any
}

// Client commits batches to the graph store using idempotent MERGE
// semantics (spec.md §4.9): re-submitting the same batch after a crash
// or duplicate outbox delivery must never create duplicate nodes or
// edges.
type Client interface {
	CommitNodes(ctx context.Context, batch NodeBatch) error
	CommitEdges(ctx context.Context, batch EdgeBatch) error
}
