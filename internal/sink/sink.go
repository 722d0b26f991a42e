// Package sink defines the graph persistence contract: batched,
// ordered, reversible node/relationship changes. The backing store is
// not transactional across a node+relationship pair, so every batch
// must be applied as one ordered unit and must be unwindable by id.
package sink

import (
	"context"
	"fmt"
)

// OpKind tags an operation.
type OpKind string

const (
	OpAdd    OpKind = "add"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// EntityKind distinguishes nodes from relationships.
type EntityKind string

const (
	EntityNode         EntityKind = "node"
	EntityRelationship EntityKind = "relationship"
)

// Entity is one node or relationship payload. Relationships carry From
// and To node ids; nodes leave them empty.
type Entity struct {
	Kind       EntityKind
	ID         string
	Label      string
	From       string
	To         string
	Properties map[string]string
}

// Operation is one tagged change. Prior holds the pre-application
// snapshot for update and delete operations; the sink fills it in while
// applying so the batch can later be reversed.
type Operation struct {
	Kind   OpKind
	Entity Entity
	Prior  *Entity
}

// GraphBatch is an ordered unit of graph changes identified for
// rollback.
type GraphBatch struct {
	ID  string
	Ops []Operation
}

// Empty reports whether the batch carries no operations.
func (b *GraphBatch) Empty() bool { return len(b.Ops) == 0 }

// AddNode appends a node addition.
func (b *GraphBatch) AddNode(id, label string, props map[string]string) {
	b.Ops = append(b.Ops, Operation{Kind: OpAdd, Entity: Entity{Kind: EntityNode, ID: id, Label: label, Properties: props}})
}

// UpdateNode appends a node update.
func (b *GraphBatch) UpdateNode(id, label string, props map[string]string) {
	b.Ops = append(b.Ops, Operation{Kind: OpUpdate, Entity: Entity{Kind: EntityNode, ID: id, Label: label, Properties: props}})
}

// DeleteNode appends a node deletion.
func (b *GraphBatch) DeleteNode(id string) {
	b.Ops = append(b.Ops, Operation{Kind: OpDelete, Entity: Entity{Kind: EntityNode, ID: id}})
}

// AddRelationship appends a relationship addition.
func (b *GraphBatch) AddRelationship(id, label, from, to string) {
	b.Ops = append(b.Ops, Operation{Kind: OpAdd, Entity: Entity{Kind: EntityRelationship, ID: id, Label: label, From: from, To: to}})
}

// DeleteRelationship appends a relationship deletion.
func (b *GraphBatch) DeleteRelationship(id string) {
	b.Ops = append(b.Ops, Operation{Kind: OpDelete, Entity: Entity{Kind: EntityRelationship, ID: id}})
}

// GraphSink applies batches to a graph store. ApplyBatch must process
// deletions first, then updates, then additions; within a phase,
// relationships are deleted before their nodes and added after them,
// so a relationship is never written against a node that does not
// exist. A batch that fails partway must leave no partial mutations
// behind, either by unwinding in place or by staying rollback-able by
// id. RollbackBatch
// reverses a previously applied batch by inverse operations: added
// entities are deleted, deleted entities are restored, updated entities
// get their prior snapshot back.
type GraphSink interface {
	ApplyBatch(ctx context.Context, batch *GraphBatch) error
	RollbackBatch(ctx context.Context, batchID string) error
}

// ErrUnknownBatch is returned when rolling back a batch id the sink has
// never applied.
type ErrUnknownBatch struct {
	BatchID string
}

func (e *ErrUnknownBatch) Error() string {
	return fmt.Sprintf("unknown batch %q", e.BatchID)
}
