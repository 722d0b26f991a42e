// Package invalidation implements the cache invalidation service: given
// one or more changed files it computes the invalidation set by
// propagating through the dependency graph and tells every registered
// cache handler which keys to drop.
//
// The service exclusively owns the runtime dependency graph. Graph
// mutations and invalidation passes are serialized on an internal lock,
// so at most one pass per workspace is ever in flight; handlers are the
// only pieces that may be touched from other goroutines.
package invalidation

import (
	"sort"
	"sync"
	"time"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/config"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/debug"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/graph"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/types"
)

// Type classifies an invalidation event.
type Type string

const (
	// TypeDirect is the synchronous event for the changed file itself.
	TypeDirect Type = "direct"
	// TypeDependency marks a file reached by walking dependents edges.
	TypeDependency Type = "dependency"
	// TypeSymbol marks a file registered against a symbol the changed
	// file defines, with no explicit file edge between the two.
	TypeSymbol Type = "symbol"
)

// Event records one invalidated file within a propagation pass.
type Event struct {
	Path             string
	Type             Type
	TriggeredBy      string
	Timestamp        time.Time
	PropagationDepth int
	AffectedSymbols  []string
}

// Service propagates invalidation through the dependency graph and
// notifies registered cache handlers.
type Service struct {
	mu       sync.Mutex
	graph    *graph.DependencyGraph
	cfg      config.Invalidation
	registry *HandlerRegistry
	history  *historyRing
	metrics  metricsState
}

// NewService creates an invalidation service owning a fresh graph.
func NewService(cfg config.Invalidation) *Service {
	if cfg.MaxPropagationDepth <= 0 {
		cfg.MaxPropagationDepth = config.DefaultMaxPropagationDepth
	}
	if cfg.CascadeThreshold <= 0 {
		cfg.CascadeThreshold = config.DefaultCascadeThreshold
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = config.DefaultHistorySize
	}
	return &Service{
		graph:    graph.NewDependencyGraph(),
		cfg:      cfg,
		registry: NewHandlerRegistry(),
		history:  newHistoryRing(cfg.HistorySize),
	}
}

// RegisterHandler adds a cache handler to the observer registry.
func (s *Service) RegisterHandler(h CacheHandler) {
	s.registry.Register(h)
}

// UnregisterHandler removes a handler by name.
func (s *Service) UnregisterHandler(name string) {
	s.registry.Unregister(name)
}

// HandlerCount returns the number of registered handlers.
func (s *Service) HandlerCount() int {
	return s.registry.Len()
}

// RebuildGraph replaces the runtime graph from a full project snapshot.
func (s *Service) RebuildGraph(snapshot *types.ProjectSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph.BuildFromSnapshot(snapshot)
}

// UpdateFile patches the graph node for one re-analyzed file.
func (s *Service) UpdateFile(analysis *types.FileAnalysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph.UpdateFile(analysis)
}

// RemoveFile drops a file's node from the graph. Callers invalidate the
// file first so its dependents are reached while the edges still exist.
func (s *Service) RemoveFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph.RemoveFile(path)
}

// OptimizeGraph prunes graph nodes whose files no longer exist on disk,
// resolving relative node paths against root. This is the periodic
// maintenance sweep that reconciles drift caused by truncated
// propagation passes.
func (s *Service) OptimizeGraph(root string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Optimize(root)
}

// DependencyInfo returns the graph view of one file.
func (s *Service) DependencyInfo(path string) (*graph.DependencyInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Info(path)
}

// InvalidateFileCache emits and executes the invalidation events for one
// changed file. The direct event is executed synchronously: every
// registered handler has purged the key by the time the call returns.
// Propagation walks dependents breadth-first, bounded by the depth and
// cascade caps, then applies symbol propagation if enabled.
func (s *Service) InvalidateFileCache(path string, kind types.ChangeKind, propagate bool) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	processed := make(map[string]struct{})
	return s.invalidateLocked(path, kind, propagate, processed)
}

// InvalidateMultipleFiles processes a batch of change events. Deletions
// are handled first: their dependents are invalidated through the
// dependents edges while those edges still exist, the deleted file's own
// outgoing edges are never traversed, and the node is then removed from
// the graph. Remaining changes are processed with full propagation. A
// processed-file set deduplicates work across the whole batch.
func (s *Service) InvalidateMultipleFiles(changes []types.ChangeEvent) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	processed := make(map[string]struct{})
	var all []Event

	for _, ch := range changes {
		if ch.Kind != types.ChangeDeleted {
			continue
		}
		all = append(all, s.invalidateLocked(ch.Path, ch.Kind, true, processed)...)
		s.graph.RemoveFile(ch.Path)
	}

	for _, ch := range changes {
		switch ch.Kind {
		case types.ChangeDeleted:
			continue
		case types.ChangeMoved, types.ChangeRenamed:
			if ch.OldPath != "" {
				all = append(all, s.invalidateLocked(ch.OldPath, types.ChangeDeleted, true, processed)...)
				s.graph.RemoveFile(ch.OldPath)
			}
		}
		all = append(all, s.invalidateLocked(ch.Path, ch.Kind, true, processed)...)
	}

	return all
}

// invalidateLocked runs one propagation pass. Caller holds s.mu.
func (s *Service) invalidateLocked(path string, kind types.ChangeKind, propagate bool, processed map[string]struct{}) []Event {
	if _, done := processed[path]; done {
		return nil
	}
	processed[path] = struct{}{}

	events := make([]Event, 0, 4)

	direct := Event{
		Path:             path,
		Type:             TypeDirect,
		TriggeredBy:      path,
		Timestamp:        time.Now(),
		PropagationDepth: 0,
	}
	s.execute(direct)
	events = append(events, direct)

	id, inGraph := s.graph.Lookup(path)
	if !propagate || !inGraph {
		return events
	}

	events = s.propagateDependents(id, path, events, processed)

	// Symbol propagation catches usage that is not expressed as an
	// explicit file edge. A deleted file's symbols are gone; only its
	// recorded dependents matter.
	if s.cfg.EnableSymbolPropagation && kind != types.ChangeDeleted {
		events = s.propagateSymbols(id, path, events, processed)
	}

	debug.LogInvalidation("%s (%s): %d events\n", path, kind, len(events))
	return events
}

// propagateDependents walks the dependents edges breadth-first from the
// origin. Hard stops: BFS distance beyond MaxPropagationDepth, or the
// pass already holding CascadeThreshold events. Once a cap is hit no
// further descendants are enqueued; the truncation is recorded in
// metrics, never treated as an error.
func (s *Service) propagateDependents(origin types.FileID, originPath string, events []Event, processed map[string]struct{}) []Event {
	type frontier struct {
		id    types.FileID
		depth int
	}

	visited := map[types.FileID]struct{}{origin: {}}
	queue := []frontier{{origin, 0}}
	depthTruncated := false
	cascadeTruncated := false

	for len(queue) > 0 && !cascadeTruncated {
		cur := queue[0]
		queue = queue[1:]

		// Queue depth is nondecreasing under BFS: once one expansion
		// would exceed the cap, every later one would too. A chain that
		// ends exactly at the cap is not a truncation, so only count
		// when some unvisited dependent was actually cut off.
		if cur.depth+1 > s.cfg.MaxPropagationDepth {
			capped := append([]frontier{cur}, queue...)
			for _, f := range capped {
				for _, dep := range s.graph.Dependents(f.id) {
					if _, seen := visited[dep]; !seen {
						depthTruncated = true
					}
				}
				if depthTruncated {
					break
				}
			}
			break
		}

		for _, dep := range s.graph.Dependents(cur.id) {
			if _, seen := visited[dep]; seen {
				continue
			}
			if len(events) >= s.cfg.CascadeThreshold {
				cascadeTruncated = true
				break
			}
			visited[dep] = struct{}{}

			depPath := s.graph.PathOf(dep)
			ev := Event{
				Path:             depPath,
				Type:             TypeDependency,
				TriggeredBy:      originPath,
				Timestamp:        time.Now(),
				PropagationDepth: cur.depth + 1,
			}
			s.execute(ev)
			events = append(events, ev)
			processed[depPath] = struct{}{}
			queue = append(queue, frontier{dep, cur.depth + 1})
		}
	}

	if depthTruncated {
		s.metrics.DepthTruncations++
	}
	if cascadeTruncated {
		s.metrics.CascadeTruncations++
	}
	return events
}

// propagateSymbols emits one deduplicated symbol event per file that is
// registered against any symbol the origin defines and was not already
// reached in this pass.
func (s *Service) propagateSymbols(origin types.FileID, originPath string, events []Event, processed map[string]struct{}) []Event {
	affected := make(map[types.FileID][]string)
	for _, sym := range s.graph.SymbolsOf(origin) {
		for _, fid := range s.graph.FilesForSymbol(sym) {
			if fid == origin {
				continue
			}
			if _, done := processed[s.graph.PathOf(fid)]; done {
				continue
			}
			affected[fid] = append(affected[fid], sym)
		}
	}

	// Deterministic order regardless of map iteration.
	ids := make([]types.FileID, 0, len(affected))
	for fid := range affected {
		ids = append(ids, fid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, fid := range ids {
		if len(events) >= s.cfg.CascadeThreshold {
			s.metrics.CascadeTruncations++
			break
		}
		symbols := affected[fid]
		sort.Strings(symbols)

		fidPath := s.graph.PathOf(fid)
		ev := Event{
			Path:             fidPath,
			Type:             TypeSymbol,
			TriggeredBy:      originPath,
			Timestamp:        time.Now(),
			PropagationDepth: 1,
			AffectedSymbols:  symbols,
		}
		s.execute(ev)
		events = append(events, ev)
		processed[fidPath] = struct{}{}
	}
	return events
}

// execute purges the event's key on every handler, appends it to the
// bounded history and updates the rolling metrics. Invalidation is
// idempotent, so partial progress from a cancelled pass is always safe
// to keep.
func (s *Service) execute(ev Event) {
	failures := s.registry.clearAll(ev.Path)
	s.metrics.HandlerFailures += uint64(failures)
	s.metrics.recordEvent(ev)
	s.history.append(ev)
}

// Metrics returns a snapshot of the rolling counters plus graph size.
func (s *Service) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.metrics.Metrics
	m.GraphNodes, m.GraphEdges = s.graph.Size()
	return m
}

// History returns the buffered events, oldest first.
func (s *Service) History() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.snapshot()
}
