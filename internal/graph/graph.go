// Package graph maintains the in-memory dependency graph for one
// workspace: file-to-file edges, symbol and import reverse maps, and the
// per-node metadata the invalidation service propagates over.
//
// Paths are interned to FileIDs once on first sight; all adjacency is
// stored as ID sets so the hot propagation path never hashes strings.
// The graph is intentionally lock-free: it is owned by a single service
// per workspace and mutated only from that service's context. Neither
// BuildFromSnapshot nor the per-file patch operations are reentrant.
package graph

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/debug"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/types"
)

type idSet map[types.FileID]struct{}

type stringSet map[string]struct{}

// node holds the per-file graph state. Dependents are always maintained
// as the transpose of the dependencies sets of the other nodes.
type node struct {
	dependencies idSet
	dependents   idSet
	symbols      stringSet
	usages       stringSet // symbol names this file references by usage
	external     stringSet
	lastModified time.Time
	present      bool // false after RemoveFile until the ID is reused
}

// DependencyGraph is the runtime graph for one workspace.
type DependencyGraph struct {
	idByPath map[string]types.FileID
	pathByID []string // index = FileID; slot 0 is reserved
	nodes    []*node  // parallel to pathByID

	// Reverse maps for symbol- and import-based invalidation.
	// symbolIndex holds every file registered against a symbol name,
	// whether it defines the symbol or references it by usage.
	symbolIndex map[string]idSet
	importIndex map[string]idSet

	edgeCount int
}

// NewDependencyGraph creates an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		idByPath:    make(map[string]types.FileID),
		pathByID:    []string{""}, // FileID 0 is invalid
		nodes:       []*node{nil},
		symbolIndex: make(map[string]idSet),
		importIndex: make(map[string]idSet),
	}
}

// Intern returns the FileID for a path, assigning one on first sight.
func (g *DependencyGraph) Intern(path string) types.FileID {
	if id, ok := g.idByPath[path]; ok {
		return id
	}
	id := types.FileID(len(g.pathByID))
	g.idByPath[path] = id
	g.pathByID = append(g.pathByID, path)
	g.nodes = append(g.nodes, newNode())
	return id
}

// Lookup returns the FileID for a path without interning it.
func (g *DependencyGraph) Lookup(path string) (types.FileID, bool) {
	id, ok := g.idByPath[path]
	if !ok || !g.nodes[id].present {
		return types.InvalidFileID, false
	}
	return id, true
}

// PathOf returns the path for an interned FileID.
func (g *DependencyGraph) PathOf(id types.FileID) string {
	if int(id) >= len(g.pathByID) {
		return ""
	}
	return g.pathByID[id]
}

func newNode() *node {
	return &node{
		dependencies: make(idSet),
		dependents:   make(idSet),
		symbols:      make(stringSet),
		usages:       make(stringSet),
		external:     make(stringSet),
	}
}

// BuildFromSnapshot clears the graph and repopulates it from a full
// project snapshot in O(files + dependencies). One rebuild per workspace
// at a time; the call is not reentrant.
func (g *DependencyGraph) BuildFromSnapshot(snapshot *types.ProjectSnapshot) {
	g.clear()

	// First pass: intern every file so dependency targets resolve.
	for path := range snapshot.Files {
		id := g.Intern(path)
		g.nodes[id].present = true
	}

	// Second pass: edges, symbols, imports.
	for path, analysis := range snapshot.Files {
		g.populateNode(g.idByPath[path], analysis)
	}

	// Derive dependents as the transpose of all dependency sets.
	g.rebuildDependents()

	nodes, edges := g.Size()
	debug.LogGraph("rebuilt graph: %d nodes, %d edges, %d symbols\n", nodes, edges, len(g.symbolIndex))
}

// UpdateFile patches a single node in place after an incremental
// re-analysis, keeping the reverse maps and transpose consistent.
func (g *DependencyGraph) UpdateFile(analysis *types.FileAnalysis) {
	id := g.Intern(analysis.Path)
	g.detachNode(id)
	g.nodes[id].present = true
	g.populateNode(id, analysis)

	// Re-derive the dependents sets touched by this node's new edges.
	for dep := range g.nodes[id].dependencies {
		g.nodes[dep].dependents[id] = struct{}{}
	}
}

// RemoveFile deletes a node and every edge referencing it. The dependents
// of the removed file keep their own recorded edges; invalidating them is
// the invalidation service's job, driven by the dependents set returned
// before removal.
func (g *DependencyGraph) RemoveFile(path string) {
	id, ok := g.Lookup(path)
	if !ok {
		return
	}
	g.detachNode(id)

	// Drop incoming edges: every dependent loses this dependency.
	for dependent := range g.nodes[id].dependents {
		delete(g.nodes[dependent].dependencies, id)
		g.edgeCount--
	}
	g.nodes[id] = newNode() // present = false
}

// populateNode fills a node from an analysis record. A dependency whose
// target is not an interned workspace file is dropped from the edge set
// but retained as an external import so symbol-based invalidation still
// sees it.
func (g *DependencyGraph) populateNode(id types.FileID, analysis *types.FileAnalysis) {
	n := g.nodes[id]
	n.lastModified = analysis.AnalyzedAt

	for _, sym := range analysis.Symbols {
		n.symbols[sym.Name] = struct{}{}
		g.registerSymbol(sym.Name, id)
	}

	for _, dep := range analysis.Dependencies {
		if dep.TargetSymbol != "" {
			// Usage registration: this file is affected when the symbol's
			// definition changes, even without a resolved file edge.
			n.usages[dep.TargetSymbol] = struct{}{}
			g.registerSymbol(dep.TargetSymbol, id)
		}

		if !dep.IsExternal && dep.TargetFile != "" {
			if target, ok := g.idByPath[dep.TargetFile]; ok && g.nodes[target].present && target != id {
				if _, dup := n.dependencies[target]; !dup {
					n.dependencies[target] = struct{}{}
					g.edgeCount++
				}
				continue
			}
		}

		if dep.ModuleName != "" {
			n.external[dep.ModuleName] = struct{}{}
			g.registerImport(dep.ModuleName, id)
		}
	}
}

// detachNode removes a node's contributions to the reverse maps and its
// outgoing edges, leaving the node ready for repopulation.
func (g *DependencyGraph) detachNode(id types.FileID) {
	n := g.nodes[id]

	for dep := range n.dependencies {
		delete(g.nodes[dep].dependents, id)
		g.edgeCount--
	}
	n.dependencies = make(idSet)

	for sym := range n.symbols {
		g.unregisterSymbol(sym, id)
	}
	n.symbols = make(stringSet)

	for mod := range n.external {
		g.unregisterImport(mod, id)
	}
	n.external = make(stringSet)

	for sym := range n.usages {
		g.unregisterSymbol(sym, id)
	}
	n.usages = make(stringSet)
}

func (g *DependencyGraph) registerSymbol(name string, id types.FileID) {
	set, ok := g.symbolIndex[name]
	if !ok {
		set = make(idSet)
		g.symbolIndex[name] = set
	}
	set[id] = struct{}{}
}

func (g *DependencyGraph) unregisterSymbol(name string, id types.FileID) {
	if set, ok := g.symbolIndex[name]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(g.symbolIndex, name)
		}
	}
}

func (g *DependencyGraph) registerImport(module string, id types.FileID) {
	set, ok := g.importIndex[module]
	if !ok {
		set = make(idSet)
		g.importIndex[module] = set
	}
	set[id] = struct{}{}
}

func (g *DependencyGraph) unregisterImport(module string, id types.FileID) {
	if set, ok := g.importIndex[module]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(g.importIndex, module)
		}
	}
}

// rebuildDependents recomputes every dependents set as the transpose of
// the dependencies sets.
func (g *DependencyGraph) rebuildDependents() {
	for _, n := range g.nodes {
		if n != nil {
			n.dependents = make(idSet)
		}
	}
	for id, n := range g.nodes {
		if n == nil || !n.present {
			continue
		}
		for dep := range n.dependencies {
			g.nodes[dep].dependents[types.FileID(id)] = struct{}{}
		}
	}
}

func (g *DependencyGraph) clear() {
	g.idByPath = make(map[string]types.FileID)
	g.pathByID = g.pathByID[:1]
	g.nodes = g.nodes[:1]
	g.symbolIndex = make(map[string]idSet)
	g.importIndex = make(map[string]idSet)
	g.edgeCount = 0
}

// Contains reports whether a path is an active node in the graph.
func (g *DependencyGraph) Contains(path string) bool {
	_, ok := g.Lookup(path)
	return ok
}

// Dependents returns the IDs of files that depend on the given file.
func (g *DependencyGraph) Dependents(id types.FileID) []types.FileID {
	if int(id) >= len(g.nodes) || !g.nodes[id].present {
		return nil
	}
	return sortedIDs(g.nodes[id].dependents)
}

// Dependencies returns the IDs of files the given file depends on.
func (g *DependencyGraph) Dependencies(id types.FileID) []types.FileID {
	if int(id) >= len(g.nodes) || !g.nodes[id].present {
		return nil
	}
	return sortedIDs(g.nodes[id].dependencies)
}

// SymbolsOf returns the symbol names defined in the given file.
func (g *DependencyGraph) SymbolsOf(id types.FileID) []string {
	if int(id) >= len(g.nodes) || !g.nodes[id].present {
		return nil
	}
	return sortedStrings(g.nodes[id].symbols)
}

// FilesForSymbol returns every file registered against a symbol name,
// defining files and referencing files alike.
func (g *DependencyGraph) FilesForSymbol(name string) []types.FileID {
	set, ok := g.symbolIndex[name]
	if !ok {
		return nil
	}
	return sortedIDs(set)
}

// FilesForImport returns every file importing an external module.
func (g *DependencyGraph) FilesForImport(module string) []types.FileID {
	set, ok := g.importIndex[module]
	if !ok {
		return nil
	}
	return sortedIDs(set)
}

// DependencyInfo is the consumer-facing view of one node.
type DependencyInfo struct {
	Path            string
	Dependencies    []string
	Dependents      []string
	Symbols         []string
	ExternalImports []string
	LastModified    time.Time
}

// Info returns the dependency information for a path, or false if the
// file is not in the graph.
func (g *DependencyGraph) Info(path string) (*DependencyInfo, bool) {
	id, ok := g.Lookup(path)
	if !ok {
		return nil, false
	}
	n := g.nodes[id]

	info := &DependencyInfo{
		Path:            path,
		Dependencies:    g.paths(n.dependencies),
		Dependents:      g.paths(n.dependents),
		Symbols:         sortedStrings(n.symbols),
		ExternalImports: sortedStrings(n.external),
		LastModified:    n.lastModified,
	}
	return info, true
}

// Size returns the number of active nodes and edges.
func (g *DependencyGraph) Size() (nodes, edges int) {
	for _, n := range g.nodes {
		if n != nil && n.present {
			nodes++
		}
	}
	return nodes, g.edgeCount
}

// Optimize prunes nodes whose file no longer exists on disk, then
// rebuilds the dependents sets. Relative node paths are resolved
// against root. Intended for the periodic maintenance sweep that
// reconciles drift from truncated propagation passes.
func (g *DependencyGraph) Optimize(root string) int {
	pruned := 0
	for id := 1; id < len(g.nodes); id++ {
		n := g.nodes[id]
		if n == nil || !n.present {
			continue
		}
		path := g.pathByID[id]
		onDisk := path
		if !filepath.IsAbs(path) {
			onDisk = filepath.Join(root, filepath.FromSlash(path))
		}
		if _, err := os.Stat(onDisk); os.IsNotExist(err) {
			g.RemoveFile(path)
			pruned++
		}
	}
	if pruned > 0 {
		g.rebuildDependents()
		debug.LogGraph("optimize sweep pruned %d dead nodes\n", pruned)
	}
	return pruned
}

func (g *DependencyGraph) paths(set idSet) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, g.pathByID[id])
	}
	sort.Strings(out)
	return out
}

func sortedIDs(set idSet) []types.FileID {
	out := make([]types.FileID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedStrings(set stringSet) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
