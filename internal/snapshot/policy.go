package snapshot

import (
	"sort"
	"time"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/debug"
)

// Reason explains a reindex decision.
type Reason string

const (
	ReasonCacheMissing    Reason = "cache_missing"
	ReasonVersionMismatch Reason = "version_mismatch"
	ReasonStaleFullIndex  Reason = "stale_full_index"
	ReasonStructuralDrift Reason = "structural_drift"
	ReasonForced          Reason = "forced"
	ReasonIncremental     Reason = "incremental"
)

// Decision is the outcome of the full-vs-incremental policy.
type Decision struct {
	FullReindex bool
	Reason      Reason
	DriftRatio  float64
}

// Decide applies the reindex policy in order: missing or incompatible
// cache, elapsed full-index interval, then the structural-drift
// heuristic over the symmetric difference of cached and current file
// sets. Anything else proceeds incrementally.
func Decide(prev *IndexSnapshot, currentPaths []string, now time.Time, fullInterval time.Duration, driftThreshold float64) Decision {
	if prev == nil {
		return Decision{FullReindex: true, Reason: ReasonCacheMissing}
	}
	if prev.CacheVersion != CacheVersion {
		return Decision{FullReindex: true, Reason: ReasonVersionMismatch}
	}
	if now.Sub(prev.LastFullIndex) > fullInterval {
		return Decision{FullReindex: true, Reason: ReasonStaleFullIndex}
	}

	current := make(map[string]struct{}, len(currentPaths))
	for _, p := range currentPaths {
		current[p] = struct{}{}
	}

	diff := 0
	for p := range current {
		if _, ok := prev.Files[p]; !ok {
			diff++
		}
	}
	for p := range prev.Files {
		if _, ok := current[p]; !ok {
			diff++
		}
	}

	total := len(current)
	if total == 0 {
		total = len(prev.Files)
	}
	ratio := 0.0
	if total > 0 {
		ratio = float64(diff) / float64(total)
	}
	if ratio > driftThreshold {
		debug.LogSnapshot("structural drift %.2f (%d/%d files), forcing full reindex\n", ratio, diff, total)
		return Decision{FullReindex: true, Reason: ReasonStructuralDrift, DriftRatio: ratio}
	}
	return Decision{FullReindex: false, Reason: ReasonIncremental, DriftRatio: ratio}
}

// Plan lists the per-file work for an incremental pass.
type Plan struct {
	New      []string // on disk, not in cache: analyze
	Modified []string // content hash differs: analyze
	Removed  []string // in cache, gone from disk: purge from index and graph
}

// Empty reports whether the incremental pass has no work.
func (p Plan) Empty() bool {
	return len(p.New) == 0 && len(p.Modified) == 0 && len(p.Removed) == 0
}

// Diff compares current content hashes against the cached entries.
// currentPaths is the scanned on-disk set; hashes holds only the files
// that were successfully read. A file on disk that failed to hash is
// therefore neither modified nor removed: it stays unchanged this cycle
// and is retried on the next.
func Diff(prev *IndexSnapshot, currentPaths []string, hashes map[string]uint64) Plan {
	var plan Plan

	onDisk := make(map[string]struct{}, len(currentPaths))
	for _, path := range currentPaths {
		onDisk[path] = struct{}{}
		hash, hashed := hashes[path]
		if !hashed {
			continue
		}
		entry, cached := prev.Files[path]
		switch {
		case !cached:
			plan.New = append(plan.New, path)
		case entry.ContentHash != hash:
			plan.Modified = append(plan.Modified, path)
		}
	}
	for path := range prev.Files {
		if _, ok := onDisk[path]; !ok {
			plan.Removed = append(plan.Removed, path)
		}
	}

	sort.Strings(plan.New)
	sort.Strings(plan.Modified)
	sort.Strings(plan.Removed)
	return plan
}
