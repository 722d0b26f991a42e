package indexer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/config"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/types"
)

func watcherConfig() *config.Config {
	cfg := config.Default()
	cfg.Index.WatchDebounceMs = 50
	return cfg
}

func startWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := NewWatcher(root, watcherConfig())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func awaitBatch(t *testing.T, w *Watcher) []types.ChangeEvent {
	t.Helper()
	select {
	case batch := <-w.Changes():
		return batch
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change batch")
		return nil
	}
}

func eventFor(batch []types.ChangeEvent, path string) (types.ChangeEvent, bool) {
	for _, ev := range batch {
		if ev.Path == path {
			return ev, true
		}
	}
	return types.ChangeEvent{}, false
}

func TestWatcherEmitsCreateAndModify(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	root := t.TempDir()
	w := startWatcher(t, root)

	target := filepath.Join(root, "app.py")
	require.NoError(t, os.WriteFile(target, []byte("x = 1\n"), 0o644))

	batch := awaitBatch(t, w)
	ev, ok := eventFor(batch, target)
	require.True(t, ok)
	assert.Equal(t, types.ChangeCreated, ev.Kind)

	require.NoError(t, os.WriteFile(target, []byte("x = 2\n"), 0o644))
	batch = awaitBatch(t, w)
	ev, ok = eventFor(batch, target)
	require.True(t, ok)
	assert.Equal(t, types.ChangeModified, ev.Kind)
}

func TestWatcherEmitsDelete(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	root := t.TempDir()
	target := filepath.Join(root, "gone.py")
	require.NoError(t, os.WriteFile(target, []byte("x = 1\n"), 0o644))

	w := startWatcher(t, root)
	require.NoError(t, os.Remove(target))

	batch := awaitBatch(t, w)
	ev, ok := eventFor(batch, target)
	require.True(t, ok)
	assert.Equal(t, types.ChangeDeleted, ev.Kind)
}

func TestWatcherCoalescesBursts(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	root := t.TempDir()
	w := startWatcher(t, root)

	// Create followed by rapid writes within one debounce window stays a
	// single creation event.
	target := filepath.Join(root, "burst.py")
	require.NoError(t, os.WriteFile(target, []byte("a = 1\n"), 0o644))
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(target, []byte("a = 2\n"), 0o644))
	}

	batch := awaitBatch(t, w)
	assert.Len(t, batch, 1)
	assert.Equal(t, types.ChangeCreated, batch[0].Kind)
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	root := t.TempDir()
	w := startWatcher(t, root)

	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// The new directory gains its own watch before this write lands, or
	// on a later retry within the timeout.
	target := filepath.Join(sub, "mod.py")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(target, []byte("y = 1\n"), 0o644)
		select {
		case batch := <-w.Changes():
			_, ok := eventFor(batch, target)
			return ok
		default:
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)
}

func TestWatcherIgnoresExcludedPaths(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "node_modules"), 0o755))
	w := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "dep.js"), []byte("x\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "kept.py"), []byte("x = 1\n"), 0o644))

	batch := awaitBatch(t, w)
	require.Len(t, batch, 1)
	assert.Equal(t, filepath.Join(root, "kept.py"), batch[0].Path)
}

func TestWatcherStopClosesChannel(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	root := t.TempDir()
	w, err := NewWatcher(root, watcherConfig())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())

	_, open := <-w.Changes()
	assert.False(t, open)

	_, _, active := w.Stats()
	assert.False(t, active)
}
