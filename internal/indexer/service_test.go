package indexer

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/analyzer"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/config"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/sink"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/types"
)

// countingProvider wraps the real provider so tests can assert how many
// files a pass actually re-analyzed.
type countingProvider struct {
	analyzer.Provider
	calls atomic.Int64
}

func (c *countingProvider) Analyze(ctx context.Context, path string, content []byte) (*types.FileAnalysis, error) {
	c.calls.Add(1)
	return c.Provider.Analyze(ctx, path, content)
}

func testServiceConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Index.CacheDir = t.TempDir()
	cfg.Performance.HashWorkers = 2
	cfg.Performance.AnalysisWorkers = 2
	return cfg
}

func writeWorkspaceFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

// pythonWorkspace lays out app.py -> utils.py.
func pythonWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeWorkspaceFile(t, root, "utils.py", "def helper():\n    return 1\n")
	writeWorkspaceFile(t, root, "app.py", "import utils\n\ndef main():\n    return utils.helper()\n")
	return root
}

func newTestService(t *testing.T, root string) (*Service, *countingProvider) {
	t.Helper()
	provider := &countingProvider{Provider: analyzer.NewTreeSitterProvider()}
	svc, err := NewService(root, testServiceConfig(t), provider)
	require.NoError(t, err)
	return svc, provider
}

func TestFullIndexBuildsProjectAndGraph(t *testing.T) {
	root := pythonWorkspace(t)
	svc, _ := newTestService(t, root)

	project, err := svc.GetOrCreateProjectIndex(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, project.Files, 2)

	app := project.Files["app.py"]
	require.NotNil(t, app)
	require.Len(t, app.Dependencies, 1)
	assert.Equal(t, "utils.py", app.Dependencies[0].TargetFile)
	assert.False(t, app.Dependencies[0].IsExternal)

	info, ok := svc.GetDependencyInfo("utils.py")
	require.True(t, ok)
	assert.Equal(t, []string{"app.py"}, info.Dependents)

	metrics := svc.GetMetrics()
	assert.Equal(t, 2, metrics.GraphNodes)
	assert.Equal(t, 1, metrics.GraphEdges)
}

func TestRepeatedIndexPassSkipsAnalysis(t *testing.T) {
	root := pythonWorkspace(t)
	svc, provider := newTestService(t, root)

	_, err := svc.GetOrCreateProjectIndex(context.Background(), Options{})
	require.NoError(t, err)
	firstPass := provider.calls.Load()
	assert.Equal(t, int64(2), firstPass)

	// Unchanged workspace: content hashes match the persisted snapshot,
	// so nothing is re-analyzed.
	project, err := svc.GetOrCreateProjectIndex(context.Background(), Options{})
	require.NoError(t, err)
	assert.Len(t, project.Files, 2)
	assert.Equal(t, firstPass, provider.calls.Load())
}

func TestIncrementalPassReanalyzesOnlyModifiedFile(t *testing.T) {
	root := pythonWorkspace(t)
	svc, provider := newTestService(t, root)

	_, err := svc.GetOrCreateProjectIndex(context.Background(), Options{})
	require.NoError(t, err)
	before := provider.calls.Load()

	writeWorkspaceFile(t, root, "utils.py", "def helper():\n    return 1\n\ndef helper_two():\n    return 2\n")

	project, err := svc.GetOrCreateProjectIndex(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, before+1, provider.calls.Load())
	assert.Equal(t, 2, project.Files["utils.py"].SymbolCount())
}

func TestForceFullReindex(t *testing.T) {
	root := pythonWorkspace(t)
	svc, provider := newTestService(t, root)

	_, err := svc.GetOrCreateProjectIndex(context.Background(), Options{})
	require.NoError(t, err)
	before := provider.calls.Load()

	_, err = svc.GetOrCreateProjectIndex(context.Background(), Options{ForceFullReindex: true})
	require.NoError(t, err)
	assert.Equal(t, before+2, provider.calls.Load())
}

func TestUpdateFromFileChangesModification(t *testing.T) {
	root := pythonWorkspace(t)
	svc, _ := newTestService(t, root)

	_, err := svc.GetOrCreateProjectIndex(context.Background(), Options{})
	require.NoError(t, err)

	writeWorkspaceFile(t, root, "utils.py", "def renamed_helper():\n    return 1\n")
	project, err := svc.UpdateFromFileChanges(context.Background(), []types.ChangeEvent{
		{Path: filepath.Join(root, "utils.py"), Kind: types.ChangeModified, Timestamp: time.Now()},
	})
	require.NoError(t, err)
	require.NotNil(t, project)
	assert.Equal(t, "renamed_helper", project.Files["utils.py"].Symbols[0].Name)

	// The dependent was invalidated alongside the direct change.
	metrics := svc.GetMetrics()
	assert.GreaterOrEqual(t, metrics.TotalInvalidations, uint64(2))
}

func TestUpdateFromFileChangesIgnoresTimestampNoise(t *testing.T) {
	root := pythonWorkspace(t)
	svc, provider := newTestService(t, root)

	_, err := svc.GetOrCreateProjectIndex(context.Background(), Options{})
	require.NoError(t, err)
	before := provider.calls.Load()

	// Rewrite identical bytes; only the mtime moves.
	writeWorkspaceFile(t, root, "utils.py", "def helper():\n    return 1\n")
	_, err = svc.UpdateFromFileChanges(context.Background(), []types.ChangeEvent{
		{Path: filepath.Join(root, "utils.py"), Kind: types.ChangeModified, Timestamp: time.Now()},
	})
	require.NoError(t, err)
	assert.Equal(t, before, provider.calls.Load())
}

func TestDeletionPurgesIndexAndGraph(t *testing.T) {
	root := pythonWorkspace(t)
	svc, _ := newTestService(t, root)

	_, err := svc.GetOrCreateProjectIndex(context.Background(), Options{})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "utils.py")))
	project, err := svc.UpdateFromFileChanges(context.Background(), []types.ChangeEvent{
		{Path: filepath.Join(root, "utils.py"), Kind: types.ChangeDeleted, Timestamp: time.Now()},
	})
	require.NoError(t, err)

	_, gone := project.Files["utils.py"]
	assert.False(t, gone)
	_, inGraph := svc.GetDependencyInfo("utils.py")
	assert.False(t, inGraph)

	// The survivor's import falls back to external.
	app := project.Files["app.py"]
	require.Len(t, app.Dependencies, 1)
	assert.True(t, app.Dependencies[0].IsExternal)
	assert.Empty(t, app.Dependencies[0].TargetFile)
}

func TestOptimizeGraphPrunesFilesDeletedBehindOurBack(t *testing.T) {
	root := pythonWorkspace(t)
	svc, _ := newTestService(t, root)

	_, err := svc.GetOrCreateProjectIndex(context.Background(), Options{})
	require.NoError(t, err)

	// Delete without telling the service, as an external tool would.
	require.NoError(t, os.Remove(filepath.Join(root, "utils.py")))

	pruned := svc.OptimizeGraph()
	assert.Equal(t, 1, pruned)
	_, inGraph := svc.GetDependencyInfo("utils.py")
	assert.False(t, inGraph)

	info, ok := svc.GetDependencyInfo("app.py")
	require.True(t, ok)
	assert.Empty(t, info.Dependencies)
}

func TestCreatedFileResolvesExistingExternalImport(t *testing.T) {
	root := t.TempDir()
	writeWorkspaceFile(t, root, "app.py", "import utils\n")
	svc, _ := newTestService(t, root)

	project, err := svc.GetOrCreateProjectIndex(context.Background(), Options{})
	require.NoError(t, err)
	require.True(t, project.Files["app.py"].Dependencies[0].IsExternal)

	writeWorkspaceFile(t, root, "utils.py", "def helper():\n    return 1\n")
	project, err = svc.UpdateFromFileChanges(context.Background(), []types.ChangeEvent{
		{Path: filepath.Join(root, "utils.py"), Kind: types.ChangeCreated, Timestamp: time.Now()},
	})
	require.NoError(t, err)

	app := project.Files["app.py"]
	assert.Equal(t, "utils.py", app.Dependencies[0].TargetFile)
	assert.False(t, app.Dependencies[0].IsExternal)

	info, ok := svc.GetDependencyInfo("utils.py")
	require.True(t, ok)
	assert.Equal(t, []string{"app.py"}, info.Dependents)
}

func TestUpdateBeforeFirstIndexIsNoop(t *testing.T) {
	root := pythonWorkspace(t)
	svc, _ := newTestService(t, root)

	project, err := svc.UpdateFromFileChanges(context.Background(), []types.ChangeEvent{
		{Path: "app.py", Kind: types.ChangeModified},
	})
	require.NoError(t, err)
	assert.Nil(t, project)
}

func TestWarmCacheSurvivesRestart(t *testing.T) {
	root := pythonWorkspace(t)
	cfg := testServiceConfig(t)

	first, err := NewService(root, cfg, analyzer.NewTreeSitterProvider())
	require.NoError(t, err)
	_, err = first.GetOrCreateProjectIndex(context.Background(), Options{})
	require.NoError(t, err)

	// Same cache dir, fresh process. The persisted snapshot keeps the
	// decision incremental even though memory starts cold.
	second, err := NewService(root, cfg, analyzer.NewTreeSitterProvider())
	require.NoError(t, err)
	project, err := second.GetOrCreateProjectIndex(context.Background(), Options{})
	require.NoError(t, err)
	assert.Len(t, project.Files, 2)
}

func TestGraphSinkReceivesIndexBatches(t *testing.T) {
	root := pythonWorkspace(t)
	svc, _ := newTestService(t, root)
	mem := sink.NewMemorySink()
	svc.SetGraphSink(mem)

	_, err := svc.GetOrCreateProjectIndex(context.Background(), Options{})
	require.NoError(t, err)
	nodes, rels := mem.Size()
	assert.Equal(t, 2, nodes)
	assert.Equal(t, 1, rels)

	require.NoError(t, os.Remove(filepath.Join(root, "utils.py")))
	_, err = svc.UpdateFromFileChanges(context.Background(), []types.ChangeEvent{
		{Path: filepath.Join(root, "utils.py"), Kind: types.ChangeDeleted, Timestamp: time.Now()},
	})
	require.NoError(t, err)
	nodes, rels = mem.Size()
	assert.Equal(t, 1, nodes)
	assert.Equal(t, 0, rels)
}
