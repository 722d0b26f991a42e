package sink

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/types"
)

// Entity labels used for project snapshots.
const (
	LabelFile      = "File"
	LabelDependsOn = "DEPENDS_ON"
)

func fileNodeID(path string) string { return "file:" + path }

func dependencyID(source, target string) string {
	return fmt.Sprintf("dep:%s->%s", source, target)
}

func fileProperties(analysis *types.FileAnalysis) map[string]string {
	return map[string]string{
		"path":         analysis.Path,
		"language":     analysis.Language,
		"symbols":      strconv.Itoa(len(analysis.Symbols)),
		"dependencies": strconv.Itoa(len(analysis.Dependencies)),
		"parse_errors": strconv.Itoa(analysis.ParseErrors),
	}
}

func propsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

type relEdge struct {
	source, target string
}

func edgeSet(project *types.ProjectSnapshot) map[relEdge]struct{} {
	edges := make(map[relEdge]struct{})
	if project == nil {
		return edges
	}
	for path, analysis := range project.Files {
		for _, dep := range analysis.Dependencies {
			if dep.IsExternal || dep.TargetFile == "" {
				continue
			}
			if _, ok := project.Files[dep.TargetFile]; !ok {
				continue
			}
			edges[relEdge{source: path, target: dep.TargetFile}] = struct{}{}
		}
	}
	return edges
}

// DiffSnapshots builds the persistence batch that moves the stored
// graph from prev to next. prev may be nil for the initial index. The
// resulting operations are tagged; ordering within the batch is the
// sink's job (deletions, then updates, then additions).
func DiffSnapshots(batchID string, prev, next *types.ProjectSnapshot) *GraphBatch {
	batch := &GraphBatch{ID: batchID}

	prevFiles := map[string]*types.FileAnalysis{}
	if prev != nil {
		prevFiles = prev.Files
	}

	prevEdges := edgeSet(prev)
	nextEdges := edgeSet(next)

	// Relationship deletions come from edges that vanished, including
	// every edge touching a removed file.
	removedEdges := make([]relEdge, 0)
	for edge := range prevEdges {
		if _, ok := nextEdges[edge]; !ok {
			removedEdges = append(removedEdges, edge)
		}
	}
	sort.Slice(removedEdges, func(i, j int) bool {
		if removedEdges[i].source != removedEdges[j].source {
			return removedEdges[i].source < removedEdges[j].source
		}
		return removedEdges[i].target < removedEdges[j].target
	})
	for _, edge := range removedEdges {
		batch.DeleteRelationship(dependencyID(edge.source, edge.target))
	}

	// Node changes.
	paths := make([]string, 0, len(next.Files)+len(prevFiles))
	for path := range next.Files {
		paths = append(paths, path)
	}
	for path := range prevFiles {
		if _, ok := next.Files[path]; !ok {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	for _, path := range paths {
		analysis, inNext := next.Files[path]
		prevAnalysis, inPrev := prevFiles[path]
		switch {
		case inNext && !inPrev:
			batch.AddNode(fileNodeID(path), LabelFile, fileProperties(analysis))
		case !inNext && inPrev:
			batch.DeleteNode(fileNodeID(path))
		case !propsEqual(fileProperties(analysis), fileProperties(prevAnalysis)):
			batch.UpdateNode(fileNodeID(path), LabelFile, fileProperties(analysis))
		}
	}

	// Relationship additions, after the nodes they reference.
	addedEdges := make([]relEdge, 0)
	for edge := range nextEdges {
		if _, ok := prevEdges[edge]; !ok {
			addedEdges = append(addedEdges, edge)
		}
	}
	sort.Slice(addedEdges, func(i, j int) bool {
		if addedEdges[i].source != addedEdges[j].source {
			return addedEdges[i].source < addedEdges[j].source
		}
		return addedEdges[i].target < addedEdges[j].target
	})
	for _, edge := range addedEdges {
		batch.AddRelationship(dependencyID(edge.source, edge.target), LabelDependsOn, fileNodeID(edge.source), fileNodeID(edge.target))
	}

	return batch
}
