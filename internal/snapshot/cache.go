// Package snapshot persists the per-workspace index cache and decides
// between full and incremental reindexing. The durable snapshot is the
// source of truth across process restarts; the runtime dependency graph
// is always derived from it, never the other way around.
package snapshot

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/debug"
	pkgerrors "github.com/LeanVibe/leanvibe-ai-sub004/internal/errors"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/types"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/version"
)

// CacheVersion invalidates every persisted snapshot when the on-disk
// layout or the analysis semantics change. Bump on any incompatible
// change; a mismatch on load is a cache miss, never an error.
const CacheVersion = 1

// FileIndexEntry is the cached fingerprint of one analyzed file.
type FileIndexEntry struct {
	Path            string
	ContentHash     uint64
	LastModified    time.Time
	Size            int64
	AnalyzedAt      time.Time
	SymbolCount     int
	DependencyCount int
	Language        string
	ParseErrorCount int
}

// IndexSnapshot is the durable per-workspace index cache.
type IndexSnapshot struct {
	ProjectPath       string
	CacheVersion      int
	BuildID           string
	LastFullIndex     time.Time
	Files             map[string]FileIndexEntry
	TotalSymbols      int
	TotalDependencies int
	DependencyHash    uint64
	SymbolHash        uint64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewIndexSnapshot creates an empty snapshot for a workspace.
func NewIndexSnapshot(projectPath string) *IndexSnapshot {
	now := time.Now()
	return &IndexSnapshot{
		ProjectPath:  projectPath,
		CacheVersion: CacheVersion,
		BuildID:      version.BuildID(),
		Files:        make(map[string]FileIndexEntry),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Record updates the entry for one analyzed file.
func (s *IndexSnapshot) Record(analysis *types.FileAnalysis, hash uint64, size int64, modTime time.Time) {
	s.Files[analysis.Path] = FileIndexEntry{
		Path:            analysis.Path,
		ContentHash:     hash,
		LastModified:    modTime,
		Size:            size,
		AnalyzedAt:      analysis.AnalyzedAt,
		SymbolCount:     len(analysis.Symbols),
		DependencyCount: len(analysis.Dependencies),
		Language:        analysis.Language,
		ParseErrorCount: analysis.ParseErrors,
	}
	s.UpdatedAt = time.Now()
}

// Forget drops the entry for a deleted file.
func (s *IndexSnapshot) Forget(path string) {
	delete(s.Files, path)
	s.UpdatedAt = time.Now()
}

// RefreshAggregates recomputes the project-level totals and registry
// hashes from the full analysis snapshot.
func (s *IndexSnapshot) RefreshAggregates(project *types.ProjectSnapshot) {
	s.TotalSymbols = 0
	s.TotalDependencies = 0
	for _, analysis := range project.Files {
		s.TotalSymbols += len(analysis.Symbols)
		s.TotalDependencies += len(analysis.Dependencies)
	}
	s.DependencyHash = DependencyHash(project)
	s.SymbolHash = SymbolHash(project)
	s.UpdatedAt = time.Now()
}

// Store persists snapshots under a cache directory, one opaque binary
// file per workspace keyed by a hash of the absolute workspace path.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, pkgerrors.NewSnapshotError("create cache dir", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the snapshot file for a workspace.
func (st *Store) Path(workspacePath string) string {
	abs, err := filepath.Abs(workspacePath)
	if err != nil {
		abs = workspacePath
	}
	return filepath.Join(st.dir, fmt.Sprintf("pidx-%016x.idx", xxhash.Sum64String(abs)))
}

// Load reads the snapshot for a workspace. Any failure — missing file,
// undecodable bytes, version mismatch — is a cache miss, never an error:
// the caller falls back to a full reindex.
func (st *Store) Load(workspacePath string) (*IndexSnapshot, bool) {
	path := st.Path(workspacePath)

	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var snap IndexSnapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		debug.LogSnapshot("discarding unreadable cache %s: %v\n", path, err)
		return nil, false
	}
	if snap.CacheVersion != CacheVersion {
		debug.LogSnapshot("cache version %d != %d, treating as miss\n", snap.CacheVersion, CacheVersion)
		return nil, false
	}
	if snap.BuildID != version.BuildID() {
		debug.LogSnapshot("cache written by build %s, ours is %s, treating as miss\n", snap.BuildID, version.BuildID())
		return nil, false
	}
	if snap.Files == nil {
		snap.Files = make(map[string]FileIndexEntry)
	}
	return &snap, true
}

// Save writes the snapshot atomically: encode to a temp file in the same
// directory, then rename over the target.
func (st *Store) Save(snap *IndexSnapshot) error {
	path := st.Path(snap.ProjectPath)

	tmp, err := os.CreateTemp(st.dir, "pidx-*.tmp")
	if err != nil {
		return pkgerrors.NewSnapshotError("create temp", snap.ProjectPath, err)
	}
	tmpName := tmp.Name()

	if err := gob.NewEncoder(tmp).Encode(snap); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return pkgerrors.NewSnapshotError("encode", snap.ProjectPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return pkgerrors.NewSnapshotError("flush", snap.ProjectPath, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return pkgerrors.NewSnapshotError("rename", snap.ProjectPath, err)
	}

	debug.LogSnapshot("saved %d entries for %s\n", len(snap.Files), snap.ProjectPath)
	return nil
}

// Delete removes the persisted snapshot for a workspace.
func (st *Store) Delete(workspacePath string) error {
	err := os.Remove(st.Path(workspacePath))
	if err != nil && !os.IsNotExist(err) {
		return pkgerrors.NewSnapshotError("delete", workspacePath, err)
	}
	return nil
}
