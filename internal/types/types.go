package types

import (
	"time"
)

// Common system-wide constants
const (
	// File size limits
	DefaultMaxFileSize = 10 * 1024 * 1024 // 10MB per file - standard limit for indexing
	// Rationale: Prevents memory exhaustion from large
	// generated files while covering 99.9% of source files.
	// Large files are typically binaries or generated code.

	// Performance limits
	DefaultMaxFileCount = 10000 // Maximum files to index in a single operation
	// Rationale: Covers most application codebases while
	// preventing runaway indexing of node_modules or
	// vendor directories. Enterprise projects can increase.

	// Binary detection optimization threshold
	BinaryPreCheckBytes = 512 // Number of bytes to read for binary magic number detection
)

// FileID is an interned identifier for a workspace file. IDs are assigned
// by the dependency graph's path table; 0 is never a valid ID.
type FileID uint32

// InvalidFileID marks a path that has not been interned.
const InvalidFileID FileID = 0

// ChangeKind classifies a filesystem change event.
type ChangeKind uint8

const (
	ChangeCreated ChangeKind = iota
	ChangeModified
	ChangeDeleted
	ChangeMoved
	ChangeRenamed
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	case ChangeMoved:
		return "moved"
	case ChangeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// ChangeEvent is a discrete file change produced by the watcher (or any
// external driver). Debouncing/coalescing is the producer's responsibility.
type ChangeEvent struct {
	Path      string
	Kind      ChangeKind
	OldPath   string // set for moved/renamed events
	Timestamp time.Time
}

// SymbolKind classifies an extracted symbol.
type SymbolKind string

const (
	SymbolKindFunction  SymbolKind = "function"
	SymbolKindMethod    SymbolKind = "method"
	SymbolKindClass     SymbolKind = "class"
	SymbolKindStruct    SymbolKind = "struct"
	SymbolKindInterface SymbolKind = "interface"
	SymbolKindType      SymbolKind = "type"
	SymbolKindEnum      SymbolKind = "enum"
	SymbolKindVariable  SymbolKind = "variable"
	SymbolKindModule    SymbolKind = "module"
)

// Symbol is a single definition extracted from a source file.
type Symbol struct {
	ID         string
	Name       string
	Kind       SymbolKind
	LineStart  int
	LineEnd    int
	Signature  string
	Complexity int
}

// DependencyKind classifies how a file references another.
type DependencyKind string

const (
	DependencyImport  DependencyKind = "import"
	DependencyInclude DependencyKind = "include"
	DependencyUsage   DependencyKind = "usage"
)

// Dependency is one outgoing reference recorded during analysis.
// TargetFile is empty when the reference could not be resolved to a
// workspace file; ModuleName then carries the external module name.
type Dependency struct {
	SourceFile   string
	TargetFile   string
	TargetSymbol string
	Kind         DependencyKind
	IsExternal   bool
	ModuleName   string
}

// FileAnalysis is the per-file record produced by an analysis provider.
// A file that failed to parse still gets an analysis with empty symbols
// and a non-zero ParseErrors count so its dependents stay in the graph.
type FileAnalysis struct {
	Path         string
	Language     string
	Symbols      []Symbol
	Dependencies []Dependency
	ParseErrors  int
	AnalyzedAt   time.Time
}

// SymbolCount returns the number of symbols defined in the file.
func (fa *FileAnalysis) SymbolCount() int {
	return len(fa.Symbols)
}

// InternalDependencies returns the dependencies resolved to workspace files.
func (fa *FileAnalysis) InternalDependencies() []Dependency {
	deps := make([]Dependency, 0, len(fa.Dependencies))
	for _, d := range fa.Dependencies {
		if !d.IsExternal && d.TargetFile != "" {
			deps = append(deps, d)
		}
	}
	return deps
}

// ExternalImports returns the unresolved/external module names, deduplicated.
func (fa *FileAnalysis) ExternalImports() []string {
	seen := make(map[string]bool)
	names := make([]string, 0)
	for _, d := range fa.Dependencies {
		if d.IsExternal && d.ModuleName != "" && !seen[d.ModuleName] {
			seen[d.ModuleName] = true
			names = append(names, d.ModuleName)
		}
	}
	return names
}

// ProjectSnapshot is the full analysis result for one workspace: every
// indexed file with its symbols and dependencies. The dependency graph
// and the durable index cache are both derived from this structure.
type ProjectSnapshot struct {
	WorkspacePath string
	Files         map[string]*FileAnalysis
	UpdatedAt     time.Time
}

// NewProjectSnapshot creates an empty snapshot for a workspace.
func NewProjectSnapshot(workspacePath string) *ProjectSnapshot {
	return &ProjectSnapshot{
		WorkspacePath: workspacePath,
		Files:         make(map[string]*FileAnalysis),
		UpdatedAt:     time.Now(),
	}
}

// Clone returns a copy safe to diff against the original after further
// mutation. Dependency records are copied because import resolution
// rewrites them in place; symbols are immutable and shared.
func (ps *ProjectSnapshot) Clone() *ProjectSnapshot {
	if ps == nil {
		return nil
	}
	files := make(map[string]*FileAnalysis, len(ps.Files))
	for path, fa := range ps.Files {
		dup := *fa
		dup.Dependencies = append([]Dependency(nil), fa.Dependencies...)
		files[path] = &dup
	}
	return &ProjectSnapshot{
		WorkspacePath: ps.WorkspacePath,
		Files:         files,
		UpdatedAt:     ps.UpdatedAt,
	}
}

// Symbols returns all symbols across the snapshot keyed by symbol ID.
func (ps *ProjectSnapshot) Symbols() map[string]Symbol {
	out := make(map[string]Symbol)
	for _, fa := range ps.Files {
		for _, sym := range fa.Symbols {
			out[sym.ID] = sym
		}
	}
	return out
}

// Dependencies returns every dependency record across the snapshot.
func (ps *ProjectSnapshot) Dependencies() []Dependency {
	var out []Dependency
	for _, fa := range ps.Files {
		out = append(out, fa.Dependencies...)
	}
	return out
}
