package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/debug"
)

// MemorySink is the in-process reference implementation of GraphSink.
// It keeps applied batches so they can be unwound by id.
type MemorySink struct {
	mu            sync.Mutex
	nodes         map[string]Entity
	relationships map[string]Entity
	applied       map[string]*GraphBatch
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		nodes:         make(map[string]Entity),
		relationships: make(map[string]Entity),
		applied:       make(map[string]*GraphBatch),
	}
}

// applyOrder sequences a batch's operations: deletions first with
// relationships ahead of the nodes they touch, then updates, then
// additions with nodes ahead of the relationships that reference them.
// The listed order inside the batch never matters.
var applyOrder = []struct {
	op  OpKind
	ent EntityKind
}{
	{OpDelete, EntityRelationship},
	{OpDelete, EntityNode},
	{OpUpdate, EntityNode},
	{OpUpdate, EntityRelationship},
	{OpAdd, EntityNode},
	{OpAdd, EntityRelationship},
}

func orderedOps(batch *GraphBatch) []*Operation {
	ops := make([]*Operation, 0, len(batch.Ops))
	for _, phase := range applyOrder {
		for i := range batch.Ops {
			op := &batch.Ops[i]
			if op.Kind == phase.op && op.Entity.Kind == phase.ent {
				ops = append(ops, op)
			}
		}
	}
	return ops
}

// ApplyBatch applies the batch in delete, update, add order and records
// prior snapshots on the batch's operations for rollback. A mid-batch
// failure unwinds the operations already applied, so a rejected batch
// leaves the store untouched.
func (s *MemorySink) ApplyBatch(ctx context.Context, batch *GraphBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.applied[batch.ID]; dup {
		return fmt.Errorf("batch %q already applied", batch.ID)
	}

	ops := orderedOps(batch)
	for i, op := range ops {
		if err := s.apply(op); err != nil {
			for j := i - 1; j >= 0; j-- {
				s.revert(ops[j])
			}
			return err
		}
	}

	s.applied[batch.ID] = batch
	debug.LogGraph("sink applied batch %s: %d ops\n", batch.ID, len(batch.Ops))
	return nil
}

func (s *MemorySink) apply(op *Operation) error {
	store := s.storeFor(op.Entity.Kind)

	switch op.Kind {
	case OpAdd:
		if op.Entity.Kind == EntityRelationship {
			if _, ok := s.nodes[op.Entity.From]; !ok {
				return fmt.Errorf("relationship %q references missing node %q", op.Entity.ID, op.Entity.From)
			}
			if _, ok := s.nodes[op.Entity.To]; !ok {
				return fmt.Errorf("relationship %q references missing node %q", op.Entity.ID, op.Entity.To)
			}
		}
		store[op.Entity.ID] = op.Entity
	case OpUpdate:
		prior, ok := store[op.Entity.ID]
		if !ok {
			return fmt.Errorf("update of unknown %s %q", op.Entity.Kind, op.Entity.ID)
		}
		op.Prior = &prior
		store[op.Entity.ID] = op.Entity
	case OpDelete:
		if prior, ok := store[op.Entity.ID]; ok {
			op.Prior = &prior
		}
		delete(store, op.Entity.ID)
	default:
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
	return nil
}

// revert applies the inverse of one already-applied operation.
func (s *MemorySink) revert(op *Operation) {
	store := s.storeFor(op.Entity.Kind)

	switch op.Kind {
	case OpAdd:
		delete(store, op.Entity.ID)
	case OpUpdate, OpDelete:
		if op.Prior != nil {
			store[op.Prior.ID] = *op.Prior
		}
	}
}

// RollbackBatch unwinds an applied batch: operations run in reverse
// application order with adds deleted, deletes restored from their
// prior snapshot and updates reverted to it.
func (s *MemorySink) RollbackBatch(ctx context.Context, batchID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.applied[batchID]
	if !ok {
		return &ErrUnknownBatch{BatchID: batchID}
	}

	ops := orderedOps(batch)
	for i := len(ops) - 1; i >= 0; i-- {
		s.revert(ops[i])
	}

	delete(s.applied, batchID)
	debug.LogGraph("sink rolled back batch %s\n", batchID)
	return nil
}

// Node returns a stored node by id.
func (s *MemorySink) Node(id string) (Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.nodes[id]
	return e, ok
}

// Relationship returns a stored relationship by id.
func (s *MemorySink) Relationship(id string) (Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.relationships[id]
	return e, ok
}

// Size returns the stored node and relationship counts.
func (s *MemorySink) Size() (nodes, relationships int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes), len(s.relationships)
}

func (s *MemorySink) storeFor(kind EntityKind) map[string]Entity {
	if kind == EntityRelationship {
		return s.relationships
	}
	return s.nodes
}
