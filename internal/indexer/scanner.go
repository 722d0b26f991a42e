package indexer

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/config"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/debug"
	pkgerrors "github.com/LeanVibe/leanvibe-ai-sub004/internal/errors"
)

// Scanner enumerates the indexable files of a workspace: include and
// exclude globs, size ceiling, file-count cap, binary rejection and
// symlink-cycle protection. Paths are returned workspace-relative with
// forward slashes.
type Scanner struct {
	root    string
	cfg     *config.Config
	binary  *binaryDetector
	include []string
	exclude []string
}

// NewScanner creates a scanner for a workspace root. include and
// exclude override the configured patterns when non-empty.
func NewScanner(root string, cfg *config.Config, include, exclude []string) *Scanner {
	s := &Scanner{
		root:    root,
		cfg:     cfg,
		binary:  newBinaryDetector(),
		include: cfg.Include,
		exclude: cfg.Exclude,
	}
	if len(include) > 0 {
		s.include = include
	}
	if len(exclude) > 0 {
		s.exclude = exclude
	}
	return s
}

// Scan walks the workspace and returns the matching files, sorted.
func (s *Scanner) Scan() ([]string, error) {
	var files []string
	visitedDirs := make(map[string]bool)
	truncated := false

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}

		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			// Resolve through symlinks so a cycle never loops the walk.
			realPath, err := filepath.EvalSymlinks(path)
			if err != nil {
				return filepath.SkipDir
			}
			if visitedDirs[realPath] {
				return filepath.SkipDir
			}
			visitedDirs[realPath] = true

			if s.excluded(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&os.ModeSymlink != 0 && !s.cfg.Index.FollowSymlinks {
			return nil
		}
		if !s.matches(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > s.cfg.Index.MaxFileSize {
			debug.LogIndexing("skipping oversized file %s (%d bytes)\n", rel, info.Size())
			return nil
		}
		if s.binary.isBinaryExtension(rel) {
			return nil
		}

		if len(files) >= s.cfg.Index.MaxFileCount {
			truncated = true
			return filepath.SkipAll
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, pkgerrors.NewIndexingError("scan", err)
	}

	if truncated {
		debug.LogIndexing("scan stopped at file cap %d for %s\n", s.cfg.Index.MaxFileCount, s.root)
	}
	sort.Strings(files)
	return files, nil
}

// Matches reports whether a workspace-relative path is indexable.
func (s *Scanner) Matches(rel string) bool {
	return s.matches(rel) && !s.binary.isBinaryExtension(rel)
}

func (s *Scanner) matches(rel string) bool {
	if s.excluded(rel) {
		return false
	}
	if len(s.include) == 0 {
		return true
	}
	for _, pattern := range s.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (s *Scanner) excluded(rel string) bool {
	for _, pattern := range s.exclude {
		if ok, _ := doublestar.Match(pattern, strings.TrimSuffix(rel, "/")); ok {
			return true
		}
		// Directory patterns like "node_modules/**" must also match the
		// directory itself so the walk can skip the whole subtree.
		if dir, found := strings.CutSuffix(pattern, "/**"); found {
			if ok, _ := doublestar.Match(dir, strings.TrimSuffix(rel, "/")); ok {
				return true
			}
		}
	}
	return false
}

// ReadFile loads a workspace-relative file and rejects binary content.
func (s *Scanner) ReadFile(rel string) ([]byte, error) {
	content, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, pkgerrors.NewFileError("read", rel, err)
	}
	if s.binary.isBinary(rel, content) {
		return nil, pkgerrors.NewFileError("read", rel, errBinaryFile)
	}
	return content, nil
}
