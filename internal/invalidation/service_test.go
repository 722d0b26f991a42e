package invalidation

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/config"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/types"
)

// recordingHandler captures every key it is asked to purge.
type recordingHandler struct {
	mu      sync.Mutex
	name    string
	cleared []string
}

func (h *recordingHandler) Name() string { return h.name }

func (h *recordingHandler) ClearCache(key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleared = append(h.cleared, key)
	return nil
}

func (h *recordingHandler) keys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.cleared...)
}

// failingHandler always reports a purge failure.
type failingHandler struct{ name string }

func (h *failingHandler) Name() string                { return h.name }
func (h *failingHandler) ClearCache(key string) error { return errors.New("cache backend down") }

func testConfig() config.Invalidation {
	return config.Invalidation{
		MaxPropagationDepth:     config.DefaultMaxPropagationDepth,
		CascadeThreshold:        config.DefaultCascadeThreshold,
		EnableSymbolPropagation: true,
		HistorySize:             config.DefaultHistorySize,
	}
}

func fileWithImport(path, target string) *types.FileAnalysis {
	return &types.FileAnalysis{
		Path:     path,
		Language: "python",
		Dependencies: []types.Dependency{
			{SourceFile: path, TargetFile: target, Kind: types.DependencyImport},
		},
	}
}

// chainService builds a.py <- b.py <- c.py: b imports a, c imports b.
// a.py defines process_data.
func chainService(t *testing.T, cfg config.Invalidation) *Service {
	t.Helper()

	snapshot := types.NewProjectSnapshot("/workspace")
	snapshot.Files["a.py"] = &types.FileAnalysis{
		Path:     "a.py",
		Language: "python",
		Symbols: []types.Symbol{
			{ID: "a.py:process_data", Name: "process_data", Kind: types.SymbolKindFunction, LineStart: 1, LineEnd: 4},
		},
	}
	snapshot.Files["b.py"] = fileWithImport("b.py", "a.py")
	snapshot.Files["c.py"] = fileWithImport("c.py", "b.py")

	svc := NewService(cfg)
	svc.RebuildGraph(snapshot)
	return svc
}

func TestInvalidateFileCacheDirectOnly(t *testing.T) {
	svc := chainService(t, testConfig())
	handler := &recordingHandler{name: "memory"}
	svc.RegisterHandler(handler)

	events := svc.InvalidateFileCache("a.py", types.ChangeModified, false)

	require.Len(t, events, 1)
	assert.Equal(t, TypeDirect, events[0].Type)
	assert.Equal(t, "a.py", events[0].Path)
	assert.Equal(t, 0, events[0].PropagationDepth)
	// The direct purge is synchronous: the handler has already run.
	assert.Equal(t, []string{"a.py"}, handler.keys())
}

func TestInvalidateFileCachePropagationChain(t *testing.T) {
	svc := chainService(t, testConfig())

	events := svc.InvalidateFileCache("a.py", types.ChangeModified, true)

	require.Len(t, events, 3)

	assert.Equal(t, "a.py", events[0].Path)
	assert.Equal(t, TypeDirect, events[0].Type)
	assert.Equal(t, 0, events[0].PropagationDepth)

	assert.Equal(t, "b.py", events[1].Path)
	assert.Equal(t, TypeDependency, events[1].Type)
	assert.Equal(t, 1, events[1].PropagationDepth)
	assert.Equal(t, "a.py", events[1].TriggeredBy)

	assert.Equal(t, "c.py", events[2].Path)
	assert.Equal(t, TypeDependency, events[2].Type)
	assert.Equal(t, 2, events[2].PropagationDepth)
	assert.Equal(t, "a.py", events[2].TriggeredBy)
}

func TestInvalidateFileCacheIdempotent(t *testing.T) {
	svc := chainService(t, testConfig())

	first := svc.InvalidateFileCache("a.py", types.ChangeModified, true)
	second := svc.InvalidateFileCache("a.py", types.ChangeModified, true)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Path, second[i].Path)
		assert.Equal(t, first[i].Type, second[i].Type)
		assert.Equal(t, first[i].PropagationDepth, second[i].PropagationDepth)
		assert.Equal(t, first[i].AffectedSymbols, second[i].AffectedSymbols)
	}
}

func TestInvalidateFileCacheUnknownFile(t *testing.T) {
	svc := chainService(t, testConfig())

	events := svc.InvalidateFileCache("missing.py", types.ChangeModified, true)

	// Still emits the direct event so stale keys for untracked files
	// get purged, but nothing propagates.
	require.Len(t, events, 1)
	assert.Equal(t, TypeDirect, events[0].Type)
}

func TestPropagationDepthCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPropagationDepth = 3
	cfg.CascadeThreshold = 100

	snapshot := types.NewProjectSnapshot("/workspace")
	snapshot.Files["f0.py"] = &types.FileAnalysis{Path: "f0.py", Language: "python"}
	for i := 1; i <= 8; i++ {
		path := fmt.Sprintf("f%d.py", i)
		snapshot.Files[path] = fileWithImport(path, fmt.Sprintf("f%d.py", i-1))
	}

	svc := NewService(cfg)
	svc.RebuildGraph(snapshot)

	events := svc.InvalidateFileCache("f0.py", types.ChangeModified, true)

	// Direct plus exactly MaxPropagationDepth hops down the chain.
	require.Len(t, events, 4)
	assert.Equal(t, 3, events[3].PropagationDepth)

	m := svc.Metrics()
	assert.Equal(t, uint64(1), m.DepthTruncations)
	assert.Equal(t, uint64(0), m.CascadeTruncations)
}

func TestChainEndingAtDepthCapIsNotTruncated(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPropagationDepth = 3
	cfg.CascadeThreshold = 100

	// The chain is exactly MaxPropagationDepth hops deep: everything is
	// reached, so nothing was cut off.
	snapshot := types.NewProjectSnapshot("/workspace")
	snapshot.Files["f0.py"] = &types.FileAnalysis{Path: "f0.py", Language: "python"}
	for i := 1; i <= 3; i++ {
		path := fmt.Sprintf("f%d.py", i)
		snapshot.Files[path] = fileWithImport(path, fmt.Sprintf("f%d.py", i-1))
	}

	svc := NewService(cfg)
	svc.RebuildGraph(snapshot)

	events := svc.InvalidateFileCache("f0.py", types.ChangeModified, true)
	require.Len(t, events, 4)

	m := svc.Metrics()
	assert.Equal(t, uint64(0), m.DepthTruncations)
}

func TestCascadeThresholdCap(t *testing.T) {
	cfg := testConfig()
	cfg.CascadeThreshold = 5

	snapshot := types.NewProjectSnapshot("/workspace")
	snapshot.Files["hub.py"] = &types.FileAnalysis{Path: "hub.py", Language: "python"}
	for i := 0; i < 10; i++ {
		path := fmt.Sprintf("leaf%02d.py", i)
		snapshot.Files[path] = fileWithImport(path, "hub.py")
	}

	svc := NewService(cfg)
	svc.RebuildGraph(snapshot)

	events := svc.InvalidateFileCache("hub.py", types.ChangeModified, true)

	// The pass never exceeds the threshold, direct event included.
	require.Len(t, events, 5)

	m := svc.Metrics()
	assert.Equal(t, uint64(1), m.CascadeTruncations)
}

func TestSymbolPropagation(t *testing.T) {
	svc := chainService(t, testConfig())

	// d.py uses process_data without any recorded file edge to a.py.
	svc.UpdateFile(&types.FileAnalysis{
		Path:     "d.py",
		Language: "python",
		Dependencies: []types.Dependency{
			{SourceFile: "d.py", TargetSymbol: "process_data", Kind: types.DependencyUsage},
		},
	})

	events := svc.InvalidateFileCache("a.py", types.ChangeModified, true)

	require.Len(t, events, 4)
	last := events[3]
	assert.Equal(t, "d.py", last.Path)
	assert.Equal(t, TypeSymbol, last.Type)
	assert.Equal(t, []string{"process_data"}, last.AffectedSymbols)

	// b.py was already reached through its file edge: one event per
	// file per pass, the dependency event wins.
	seen := make(map[string]int)
	for _, ev := range events {
		seen[ev.Path]++
	}
	for path, count := range seen {
		assert.Equal(t, 1, count, "file %s invalidated more than once in one pass", path)
	}
}

func TestSymbolPropagationDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.EnableSymbolPropagation = false
	svc := chainService(t, cfg)

	svc.UpdateFile(&types.FileAnalysis{
		Path:     "d.py",
		Language: "python",
		Dependencies: []types.Dependency{
			{SourceFile: "d.py", TargetSymbol: "process_data", Kind: types.DependencyUsage},
		},
	})

	events := svc.InvalidateFileCache("a.py", types.ChangeModified, true)

	for _, ev := range events {
		assert.NotEqual(t, TypeSymbol, ev.Type)
		assert.NotEqual(t, "d.py", ev.Path)
	}
}

func TestDeletionInvalidatesDependents(t *testing.T) {
	svc := chainService(t, testConfig())

	events := svc.InvalidateMultipleFiles([]types.ChangeEvent{
		{Path: "a.py", Kind: types.ChangeDeleted},
	})

	// Dependents are reached while the edges still exist; the deleted
	// file's own symbols no longer propagate.
	require.Len(t, events, 3)
	assert.Equal(t, TypeDirect, events[0].Type)
	assert.Equal(t, "b.py", events[1].Path)
	assert.Equal(t, TypeDependency, events[1].Type)
	assert.Equal(t, "c.py", events[2].Path)

	_, ok := svc.DependencyInfo("a.py")
	assert.False(t, ok, "deleted file should be gone from the graph")
}

func TestBatchDeduplicatesAcrossChanges(t *testing.T) {
	svc := chainService(t, testConfig())

	events := svc.InvalidateMultipleFiles([]types.ChangeEvent{
		{Path: "a.py", Kind: types.ChangeModified},
		{Path: "b.py", Kind: types.ChangeModified},
	})

	// b.py is reached while propagating from a.py; its own change entry
	// must not produce a second event.
	seen := make(map[string]int)
	for _, ev := range events {
		seen[ev.Path]++
	}
	assert.Equal(t, 1, seen["b.py"])
	assert.Equal(t, 1, seen["c.py"])
}

func TestRenameInvalidatesOldAndNewPath(t *testing.T) {
	svc := chainService(t, testConfig())

	events := svc.InvalidateMultipleFiles([]types.ChangeEvent{
		{Path: "a2.py", OldPath: "a.py", Kind: types.ChangeRenamed},
	})

	paths := make(map[string]bool)
	for _, ev := range events {
		paths[ev.Path] = true
	}
	assert.True(t, paths["a.py"], "old path must be purged")
	assert.True(t, paths["a2.py"], "new path must be purged")
	assert.True(t, paths["b.py"], "dependents of the old path must be purged")

	_, ok := svc.DependencyInfo("a.py")
	assert.False(t, ok)
}

func TestHandlerFailureIsolation(t *testing.T) {
	svc := chainService(t, testConfig())
	good := &recordingHandler{name: "good"}
	svc.RegisterHandler(&failingHandler{name: "broken"})
	svc.RegisterHandler(good)

	events := svc.InvalidateFileCache("a.py", types.ChangeModified, true)

	// One handler failing never aborts the pass or starves the others.
	require.Len(t, events, 3)
	assert.Equal(t, []string{"a.py", "b.py", "c.py"}, good.keys())

	m := svc.Metrics()
	assert.Equal(t, uint64(3), m.HandlerFailures)
}

func TestHandlerRegistryReplaceAndRemove(t *testing.T) {
	svc := chainService(t, testConfig())

	first := &recordingHandler{name: "memory"}
	second := &recordingHandler{name: "memory"}
	svc.RegisterHandler(first)
	svc.RegisterHandler(second)
	require.Equal(t, 1, svc.HandlerCount())

	svc.InvalidateFileCache("a.py", types.ChangeModified, false)
	assert.Empty(t, first.keys(), "replaced handler must not be notified")
	assert.Equal(t, []string{"a.py"}, second.keys())

	svc.UnregisterHandler("memory")
	assert.Equal(t, 0, svc.HandlerCount())
}

func TestMemoryCacheHandlerPurge(t *testing.T) {
	svc := chainService(t, testConfig())

	handler, err := NewMemoryCacheHandler[string]("results", 32)
	require.NoError(t, err)
	handler.Put("a.py", "cached analysis")
	handler.Put("b.py", "cached analysis")
	svc.RegisterHandler(handler)

	svc.InvalidateFileCache("a.py", types.ChangeModified, true)

	_, ok := handler.Get("a.py")
	assert.False(t, ok)
	_, ok = handler.Get("b.py")
	assert.False(t, ok)

	// Purging a key that was never cached is a no-op, not an error.
	require.NoError(t, handler.ClearCache("never-cached.py"))
}

func TestMetricsAndHistory(t *testing.T) {
	cfg := testConfig()
	cfg.HistorySize = 2
	svc := chainService(t, cfg)

	svc.InvalidateFileCache("a.py", types.ChangeModified, true)

	m := svc.Metrics()
	assert.Equal(t, uint64(3), m.TotalInvalidations)
	assert.Equal(t, uint64(1), m.DirectEvents)
	assert.Equal(t, uint64(2), m.DependencyEvents)
	assert.Greater(t, m.AvgPropagationDepth, 0.0)
	assert.Equal(t, 3, m.GraphNodes)
	assert.Equal(t, 2, m.GraphEdges)

	// History is a bounded ring: only the most recent events survive.
	history := svc.History()
	require.Len(t, history, 2)
	assert.Equal(t, "b.py", history[0].Path)
	assert.Equal(t, "c.py", history[1].Path)
}
