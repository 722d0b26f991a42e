package snapshot

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/debug"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/types"
)

// HashFile returns the content hash of one file.
func HashFile(path string) (uint64, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(content), nil
}

// HashFiles hashes a batch of files on a bounded worker pool. A file
// that cannot be read is logged and omitted from the result; treating it
// as changed would trigger a reanalysis loop on transient I/O errors, so
// callers see it as unchanged this cycle and retry on the next.
func HashFiles(ctx context.Context, paths []string, workers int) (map[string]uint64, error) {
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	hashes := make(map[string]uint64, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, path := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			hash, err := HashFile(path)
			if err != nil {
				debug.LogSnapshot("hash skipped %s: %v\n", path, err)
				return nil
			}
			mu.Lock()
			hashes[path] = hash
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// The group context is canceled once Wait returns; only the caller's
	// context decides whether the batch was interrupted.
	return hashes, ctx.Err()
}

// DependencyHash digests the project's dependency list in a stable
// order, so two snapshots with the same edges always agree.
func DependencyHash(project *types.ProjectSnapshot) uint64 {
	lines := make([]string, 0)
	for path, analysis := range project.Files {
		for _, dep := range analysis.Dependencies {
			lines = append(lines, path+"\x00"+dep.TargetFile+"\x00"+dep.TargetSymbol+"\x00"+string(dep.Kind)+"\x00"+dep.ModuleName)
		}
	}
	return hashLines(lines)
}

// SymbolHash digests the symbol registry in a stable order.
func SymbolHash(project *types.ProjectSnapshot) uint64 {
	lines := make([]string, 0)
	for path, analysis := range project.Files {
		for _, sym := range analysis.Symbols {
			lines = append(lines, path+"\x00"+sym.Name+"\x00"+string(sym.Kind))
		}
	}
	return hashLines(lines)
}

func hashLines(lines []string) uint64 {
	sort.Strings(lines)
	digest := xxhash.New()
	for _, line := range lines {
		_, _ = digest.WriteString(line)
		_, _ = digest.WriteString("\n")
	}
	return digest.Sum64()
}
