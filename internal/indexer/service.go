// Package indexer orchestrates the incremental project index: scanning,
// hashing, analysis, the durable snapshot, the dependency graph and
// cache invalidation, one service per workspace.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/analyzer"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/config"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/debug"
	pkgerrors "github.com/LeanVibe/leanvibe-ai-sub004/internal/errors"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/graph"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/invalidation"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/sink"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/snapshot"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/types"
)

var errBinaryFile = errors.New("binary content")

// Options tune one GetOrCreateProjectIndex call.
type Options struct {
	ForceFullReindex bool
	Include          []string
	Exclude          []string
}

// Service is the per-workspace indexing context. All reindex and
// invalidation passes are serialized on its lock: at most one pass per
// workspace is ever in flight.
type Service struct {
	mu          sync.Mutex
	root        string
	cfg         *config.Config
	provider    analyzer.Provider
	invalidator *invalidation.Service
	store       *snapshot.Store
	graphSink   sink.GraphSink

	project *types.ProjectSnapshot
	cache   *snapshot.IndexSnapshot

	batchSeq atomic.Uint64
}

// NewService creates the indexing service for a workspace root.
func NewService(root string, cfg *config.Config, provider analyzer.Provider) (*Service, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, pkgerrors.NewIndexingError("resolve root", err)
	}

	cacheDir := cfg.Index.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "pidx-cache")
	}
	store, err := snapshot.NewStore(cacheDir)
	if err != nil {
		return nil, err
	}

	return &Service{
		root:        abs,
		cfg:         cfg,
		provider:    provider,
		invalidator: invalidation.NewService(cfg.Invalidation),
		store:       store,
	}, nil
}

// SetGraphSink attaches a persistence sink; every applied index pass is
// then mirrored as one rollback-capable batch.
func (s *Service) SetGraphSink(gs sink.GraphSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphSink = gs
}

// RegisterHandler registers a cache handler with the invalidation
// service.
func (s *Service) RegisterHandler(h invalidation.CacheHandler) {
	s.invalidator.RegisterHandler(h)
}

// UnregisterHandler removes a cache handler by name.
func (s *Service) UnregisterHandler(name string) {
	s.invalidator.UnregisterHandler(name)
}

// Root returns the absolute workspace path.
func (s *Service) Root() string { return s.root }

// GetOrCreateProjectIndex builds or refreshes the project index. The
// persisted cache decides between a full reindex and an incremental
// update; force skips that decision.
func (s *Service) GetOrCreateProjectIndex(ctx context.Context, opts Options) (*types.ProjectSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scanner := NewScanner(s.root, s.cfg, opts.Include, opts.Exclude)
	paths, err := scanner.Scan()
	if err != nil {
		return nil, err
	}

	supported := paths[:0:len(paths)]
	for _, rel := range paths {
		if s.provider.Supports(rel) {
			supported = append(supported, rel)
		}
	}

	if s.cache == nil {
		if cached, ok := s.store.Load(s.root); ok {
			s.cache = cached
		}
	}

	decision := snapshot.Decide(
		s.cache,
		supported,
		time.Now(),
		time.Duration(s.cfg.Index.FullIndexIntervalMin)*time.Minute,
		s.cfg.Index.DriftThreshold,
	)
	if opts.ForceFullReindex {
		decision = snapshot.Decision{FullReindex: true, Reason: snapshot.ReasonForced}
	}
	debug.LogIndexing("index decision for %s: full=%v reason=%s\n", s.root, decision.FullReindex, decision.Reason)

	hashes, err := s.hashAll(ctx, scanner, supported)
	if err != nil {
		return nil, err
	}

	if decision.FullReindex {
		return s.fullReindex(ctx, scanner, supported, hashes)
	}
	return s.incrementalReindex(ctx, scanner, supported, hashes)
}

// UpdateFromFileChanges applies watcher change events to an existing
// index. Returns nil without error when no index has been built yet;
// the caller should run GetOrCreateProjectIndex first.
func (s *Service) UpdateFromFileChanges(ctx context.Context, changes []types.ChangeEvent) (*types.ProjectSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.project == nil {
		return nil, nil
	}

	scanner := NewScanner(s.root, s.cfg, nil, nil)
	return s.applyChangesLocked(ctx, scanner, changes)
}

// applyChangesLocked is the shared change-application path. Caller
// holds s.mu.
func (s *Service) applyChangesLocked(ctx context.Context, scanner *Scanner, changes []types.ChangeEvent) (*types.ProjectSnapshot, error) {
	relevant := make([]types.ChangeEvent, 0, len(changes))
	for _, ch := range changes {
		ch.Path = s.normalize(ch.Path)
		if ch.OldPath != "" {
			ch.OldPath = s.normalize(ch.OldPath)
		}
		if !s.provider.Supports(ch.Path) || !scanner.Matches(ch.Path) {
			continue
		}
		// Timestamp noise: a write that leaves the bytes identical is
		// not a change.
		if ch.Kind == types.ChangeModified {
			if entry, ok := s.cache.Files[ch.Path]; ok {
				if hash, err := snapshot.HashFile(s.abs(ch.Path)); err == nil && hash == entry.ContentHash {
					continue
				}
			}
		}
		relevant = append(relevant, ch)
	}
	if len(relevant) == 0 {
		return s.project, nil
	}

	prevProject := s.project.Clone()

	// Propagate invalidation over the pre-change edges, then patch the
	// snapshot, cache and graph.
	events := s.invalidator.InvalidateMultipleFiles(relevant)
	debug.LogInvalidation("batch of %d changes produced %d events\n", len(relevant), len(events))

	for _, ch := range relevant {
		switch ch.Kind {
		case types.ChangeDeleted:
			delete(s.project.Files, ch.Path)
			s.cache.Forget(ch.Path)
		case types.ChangeMoved, types.ChangeRenamed:
			if ch.OldPath != "" {
				delete(s.project.Files, ch.OldPath)
				s.cache.Forget(ch.OldPath)
			}
			if err := s.reanalyze(ctx, scanner, ch.Path); err != nil {
				return nil, err
			}
		default:
			if err := s.reanalyze(ctx, scanner, ch.Path); err != nil {
				return nil, err
			}
		}
	}

	s.resolveAll()
	s.rebuildChangedNodes(prevProject, relevant)
	s.cache.RefreshAggregates(s.project)

	if err := s.persist(prevProject); err != nil {
		return nil, err
	}
	return s.project, nil
}

// GetDependencyInfo returns the graph view of one file.
func (s *Service) GetDependencyInfo(path string) (*graph.DependencyInfo, bool) {
	return s.invalidator.DependencyInfo(s.normalize(path))
}

// OptimizeGraph runs the graph maintenance sweep and returns the number
// of dead nodes pruned.
func (s *Service) OptimizeGraph() int {
	return s.invalidator.OptimizeGraph(s.root)
}

// GetMetrics returns the invalidation and graph counters.
func (s *Service) GetMetrics() invalidation.Metrics {
	return s.invalidator.Metrics()
}

// History returns recent invalidation events, oldest first.
func (s *Service) History() []invalidation.Event {
	return s.invalidator.History()
}

// InvalidateFile runs one manual invalidation pass for a file.
func (s *Service) InvalidateFile(path string, kind types.ChangeKind, propagate bool) []invalidation.Event {
	return s.invalidator.InvalidateFileCache(s.normalize(path), kind, propagate)
}

// InvalidateFiles runs one invalidation pass over a batch of changes
// without touching the index itself. Used by hosts that manage their
// own analysis but share the dependency graph.
func (s *Service) InvalidateFiles(changes []types.ChangeEvent) []invalidation.Event {
	normalized := make([]types.ChangeEvent, len(changes))
	for i, ch := range changes {
		ch.Path = s.normalize(ch.Path)
		if ch.OldPath != "" {
			ch.OldPath = s.normalize(ch.OldPath)
		}
		normalized[i] = ch
	}
	return s.invalidator.InvalidateMultipleFiles(normalized)
}

// Project returns the current in-memory snapshot, nil before the first
// index pass.
func (s *Service) Project() *types.ProjectSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project
}

// fullReindex analyzes every supported file from scratch.
func (s *Service) fullReindex(ctx context.Context, scanner *Scanner, paths []string, hashes map[string]uint64) (*types.ProjectSnapshot, error) {
	start := time.Now()
	prevProject := s.project

	project := types.NewProjectSnapshot(s.root)
	analyses, err := s.analyzeBatch(ctx, scanner, paths)
	if err != nil {
		return nil, err
	}
	for path, analysis := range analyses {
		project.Files[path] = analysis
	}

	fileSet := make(map[string]struct{}, len(project.Files))
	for path := range project.Files {
		fileSet[path] = struct{}{}
	}
	for _, analysis := range project.Files {
		analyzer.ResolveImports(analysis, fileSet)
	}

	cache := snapshot.NewIndexSnapshot(s.root)
	cache.LastFullIndex = time.Now()
	for path, analysis := range project.Files {
		info, statErr := os.Stat(s.abs(path))
		var size int64
		var mod time.Time
		if statErr == nil {
			size, mod = info.Size(), info.ModTime()
		}
		cache.Record(analysis, hashes[path], size, mod)
	}
	cache.RefreshAggregates(project)

	s.project = project
	s.cache = cache
	s.invalidator.RebuildGraph(project)

	if err := s.persist(prevProject); err != nil {
		return nil, err
	}

	nodes, edges := s.invalidator.Metrics().GraphNodes, s.invalidator.Metrics().GraphEdges
	debug.LogIndexing("full reindex of %s: %d files, %d nodes, %d edges in %s\n",
		s.root, len(project.Files), nodes, edges, time.Since(start))
	return project, nil
}

// incrementalReindex re-analyzes only what the hash comparison flags.
func (s *Service) incrementalReindex(ctx context.Context, scanner *Scanner, paths []string, hashes map[string]uint64) (*types.ProjectSnapshot, error) {
	plan := snapshot.Diff(s.cache, paths, hashes)

	// First run against a warm cache still needs the in-memory side
	// rebuilt from scratch.
	if s.project == nil {
		return s.fullReindex(ctx, scanner, paths, hashes)
	}
	if plan.Empty() {
		return s.project, nil
	}

	changes := make([]types.ChangeEvent, 0, len(plan.New)+len(plan.Modified)+len(plan.Removed))
	now := time.Now()
	for _, path := range plan.Removed {
		changes = append(changes, types.ChangeEvent{Path: path, Kind: types.ChangeDeleted, Timestamp: now})
	}
	for _, path := range plan.Modified {
		changes = append(changes, types.ChangeEvent{Path: path, Kind: types.ChangeModified, Timestamp: now})
	}
	for _, path := range plan.New {
		changes = append(changes, types.ChangeEvent{Path: path, Kind: types.ChangeCreated, Timestamp: now})
	}

	project, err := s.applyChangesLocked(ctx, scanner, changes)
	if err != nil {
		return nil, err
	}
	// Maintenance sweep: reconcile any graph drift left by changes that
	// never reached us as events.
	s.invalidator.OptimizeGraph(s.root)
	return project, nil
}

// reanalyze refreshes one file's analysis, cache entry and hash.
func (s *Service) reanalyze(ctx context.Context, scanner *Scanner, rel string) error {
	content, err := scanner.ReadFile(rel)
	if err != nil {
		// Unreadable this cycle: keep the previous analysis and retry
		// on the next change event.
		debug.LogIndexing("skipping unreadable file %s: %v\n", rel, err)
		return nil
	}

	analysis, err := s.provider.Analyze(ctx, rel, content)
	if err != nil {
		return err
	}
	s.project.Files[rel] = analysis

	info, statErr := os.Stat(s.abs(rel))
	var size int64
	var mod time.Time
	if statErr == nil {
		size, mod = info.Size(), info.ModTime()
	}
	hash, hashErr := snapshot.HashFile(s.abs(rel))
	if hashErr != nil {
		hash = 0
	}
	s.cache.Record(analysis, hash, size, mod)
	return nil
}

// resolveAll re-resolves imports across the whole snapshot; a new file
// can turn a previously external import into an edge, and a deleted
// file turns its inbound edges back into external imports.
func (s *Service) resolveAll() {
	fileSet := make(map[string]struct{}, len(s.project.Files))
	for path := range s.project.Files {
		fileSet[path] = struct{}{}
	}
	for _, analysis := range s.project.Files {
		for i := range analysis.Dependencies {
			dep := &analysis.Dependencies[i]
			if dep.TargetFile != "" {
				if _, exists := fileSet[dep.TargetFile]; exists {
					continue
				}
			}
			dep.IsExternal = false
			dep.TargetFile = ""
		}
		analyzer.ResolveImports(analysis, fileSet)
	}
}

// rebuildChangedNodes patches graph nodes touched by a batch. Deleted
// files were already removed by the invalidation pass. A change can
// also re-resolve an unchanged file's imports (a created sibling turns
// an external import into an edge), so any file whose dependency set
// moved gets its node rebuilt as well.
func (s *Service) rebuildChangedNodes(prevProject *types.ProjectSnapshot, changes []types.ChangeEvent) {
	touched := make(map[string]struct{}, len(changes))
	for _, ch := range changes {
		if ch.Kind == types.ChangeDeleted {
			continue
		}
		if analysis, ok := s.project.Files[ch.Path]; ok {
			s.invalidator.UpdateFile(analysis)
			touched[ch.Path] = struct{}{}
		}
	}

	for path, analysis := range s.project.Files {
		if _, done := touched[path]; done {
			continue
		}
		prev, ok := prevProject.Files[path]
		if !ok || !dependenciesEqual(prev.Dependencies, analysis.Dependencies) {
			s.invalidator.UpdateFile(analysis)
		}
	}
}

func dependenciesEqual(a, b []types.Dependency) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// persist saves the durable snapshot and mirrors the pass to the graph
// sink when one is attached.
func (s *Service) persist(prevProject *types.ProjectSnapshot) error {
	if err := s.store.Save(s.cache); err != nil {
		return err
	}

	if s.graphSink != nil {
		batchID := fmt.Sprintf("idx-%d", s.batchSeq.Add(1))
		batch := sink.DiffSnapshots(batchID, prevProject, s.project)
		if batch.Empty() {
			return nil
		}
		if err := s.graphSink.ApplyBatch(context.Background(), batch); err != nil {
			// A partially applied batch must be unwound; the index
			// itself stays authoritative. A sink that already unwound
			// in place reports the batch as unknown, which is fine.
			if rbErr := s.graphSink.RollbackBatch(context.Background(), batch.ID); rbErr != nil {
				var unknown *sink.ErrUnknownBatch
				if !errors.As(rbErr, &unknown) {
					debug.LogGraph("sink rollback of %s failed: %v\n", batch.ID, rbErr)
				}
			}
			debug.LogGraph("sink batch %s rejected: %v\n", batch.ID, err)
		}
	}
	return nil
}

// hashAll hashes the supported files on the configured worker pool and
// maps absolute results back to relative keys.
func (s *Service) hashAll(ctx context.Context, scanner *Scanner, paths []string) (map[string]uint64, error) {
	workers := s.cfg.Performance.HashWorkers
	if workers <= 0 {
		workers = config.DefaultWorkerCount()
	}

	abs := make([]string, len(paths))
	for i, rel := range paths {
		abs[i] = s.abs(rel)
	}
	byAbs, err := snapshot.HashFiles(ctx, abs, workers)
	if err != nil {
		return nil, err
	}

	hashes := make(map[string]uint64, len(byAbs))
	for i, rel := range paths {
		if h, ok := byAbs[abs[i]]; ok {
			hashes[rel] = h
		}
	}
	return hashes, nil
}

// analyzeBatch runs the analysis provider over a batch of files on a
// bounded worker pool.
func (s *Service) analyzeBatch(ctx context.Context, scanner *Scanner, paths []string) (map[string]*types.FileAnalysis, error) {
	workers := s.cfg.Performance.AnalysisWorkers
	if workers <= 0 {
		workers = config.DefaultWorkerCount()
	}

	var mu sync.Mutex
	analyses := make(map[string]*types.FileAnalysis, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, rel := range paths {
		g.Go(func() error {
			content, err := scanner.ReadFile(rel)
			if err != nil {
				debug.LogIndexing("skipping unreadable file %s: %v\n", rel, err)
				return nil
			}
			analysis, err := s.provider.Analyze(ctx, rel, content)
			if err != nil {
				return err
			}
			mu.Lock()
			analyses[rel] = analysis
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return analyses, nil
}

func (s *Service) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// normalize converts any incoming path to the workspace-relative slash
// form used as the index key.
func (s *Service) normalize(path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
