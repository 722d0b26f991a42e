package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/types"
)

func TestAnalyzeGo(t *testing.T) {
	source := []byte(`package web

import (
	"fmt"
	"net/http"
)

type Server struct {
	addr string
}

func NewServer(addr string) *Server {
	return &Server{addr: addr}
}

func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		fmt.Fprintln(w, "nope")
		return
	}
	fmt.Fprintln(w, s.addr)
}
`)

	p := NewTreeSitterProvider()
	analysis, err := p.Analyze(context.Background(), "server.go", source)
	require.NoError(t, err)
	assert.Equal(t, "go", analysis.Language)
	assert.Zero(t, analysis.ParseErrors)

	names := make(map[string]types.SymbolKind)
	for _, sym := range analysis.Symbols {
		names[sym.Name] = sym.Kind
	}
	assert.Equal(t, types.SymbolKindType, names["Server"])
	assert.Equal(t, types.SymbolKindFunction, names["NewServer"])
	assert.Equal(t, types.SymbolKindMethod, names["Handle"])

	modules := make([]string, 0)
	for _, dep := range analysis.Dependencies {
		modules = append(modules, dep.ModuleName)
	}
	assert.ElementsMatch(t, []string{"fmt", "net/http"}, modules)
}

func TestAnalyzePython(t *testing.T) {
	source := []byte(`import os
from utils import helper

class DataProcessor:
    def process(self, items):
        for item in items:
            if item:
                yield item

def process_data(raw):
    return DataProcessor().process(raw)
`)

	p := NewTreeSitterProvider()
	analysis, err := p.Analyze(context.Background(), "pipeline.py", source)
	require.NoError(t, err)
	assert.Equal(t, "python", analysis.Language)

	names := make(map[string]types.SymbolKind)
	for _, sym := range analysis.Symbols {
		names[sym.Name] = sym.Kind
	}
	assert.Equal(t, types.SymbolKindClass, names["DataProcessor"])
	assert.Equal(t, types.SymbolKindFunction, names["process_data"])
	assert.Equal(t, types.SymbolKindMethod, names["process"])

	require.NotEmpty(t, analysis.Dependencies)
}

func TestAnalyzeBrokenSourceStillYieldsAnalysis(t *testing.T) {
	source := []byte("package broken\n\nfunc Incomplete(\n\nfunc Working() {}\n")

	p := NewTreeSitterProvider()
	analysis, err := p.Analyze(context.Background(), "broken.go", source)
	require.NoError(t, err)

	// Parse failure degrades, never breaks: the file keeps an analysis
	// record so its dependents stay connected in the graph.
	assert.Equal(t, "broken.go", analysis.Path)
	assert.Positive(t, analysis.ParseErrors)
}

func TestAnalyzeUnsupportedExtension(t *testing.T) {
	p := NewTreeSitterProvider()
	require.False(t, p.Supports("notes.txt"))

	_, err := p.Analyze(context.Background(), "notes.txt", []byte("hello"))
	assert.Error(t, err)
}

func TestSymbolComplexity(t *testing.T) {
	source := []byte(`package c

func Classify(n int) string {
	if n < 0 {
		return "negative"
	}
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			continue
		}
	}
	return "done"
}
`)

	p := NewTreeSitterProvider()
	analysis, err := p.Analyze(context.Background(), "c.go", source)
	require.NoError(t, err)

	require.NotEmpty(t, analysis.Symbols)
	sym := analysis.Symbols[0]
	assert.Equal(t, "Classify", sym.Name)
	// Base 1 plus two ifs and one for loop.
	assert.Equal(t, 4, sym.Complexity)
	assert.Contains(t, sym.Signature, "func Classify")
}

func TestResolveImports(t *testing.T) {
	files := map[string]struct{}{
		"app/main.py":        {},
		"app/utils.py":       {},
		"app/models/user.py": {},
		"web/index.js":       {},
		"web/api/client.js":  {},
	}

	t.Run("python sibling and package", func(t *testing.T) {
		analysis := &types.FileAnalysis{
			Path:     "app/main.py",
			Language: "python",
			Dependencies: []types.Dependency{
				{SourceFile: "app/main.py", Kind: types.DependencyImport, ModuleName: "utils"},
				{SourceFile: "app/main.py", Kind: types.DependencyImport, ModuleName: "models.user"},
				{SourceFile: "app/main.py", Kind: types.DependencyImport, ModuleName: "os"},
			},
		}
		ResolveImports(analysis, files)

		assert.Equal(t, "app/utils.py", analysis.Dependencies[0].TargetFile)
		assert.Equal(t, "app/models/user.py", analysis.Dependencies[1].TargetFile)
		assert.True(t, analysis.Dependencies[2].IsExternal)
		assert.Empty(t, analysis.Dependencies[2].TargetFile)
	})

	t.Run("javascript relative and index", func(t *testing.T) {
		analysis := &types.FileAnalysis{
			Path:     "web/api/client.js",
			Language: "javascript",
			Dependencies: []types.Dependency{
				{SourceFile: "web/api/client.js", Kind: types.DependencyImport, ModuleName: "../index"},
				{SourceFile: "web/api/client.js", Kind: types.DependencyImport, ModuleName: "react"},
			},
		}
		ResolveImports(analysis, files)

		assert.Equal(t, "web/index.js", analysis.Dependencies[0].TargetFile)
		assert.True(t, analysis.Dependencies[1].IsExternal)
	})
}
