// Package analyzer extracts symbols and dependencies from source files
// using tree-sitter grammars. It is the analysis provider behind the
// index: one FileAnalysis per file, language-aware, resilient to broken
// input.
package analyzer

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/debug"
	pkgerrors "github.com/LeanVibe/leanvibe-ai-sub004/internal/errors"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/types"
)

// Provider turns file content into a FileAnalysis.
type Provider interface {
	Analyze(ctx context.Context, path string, content []byte) (*types.FileAnalysis, error)
	Supports(path string) bool
}

// TreeSitterProvider implements Provider with per-extension tree-sitter
// parsers. Grammars load lazily on first use to keep startup memory
// proportional to the languages actually present in the workspace.
type TreeSitterProvider struct {
	mu          sync.RWMutex
	parsers     map[string]*tree_sitter.Parser
	queries     map[string]*tree_sitter.Query
	languages   map[string]string
	lazyInit    map[string]func()
	initialized map[string]bool
}

// NewTreeSitterProvider registers every supported language for lazy
// initialization.
func NewTreeSitterProvider() *TreeSitterProvider {
	p := &TreeSitterProvider{
		parsers:     make(map[string]*tree_sitter.Parser),
		queries:     make(map[string]*tree_sitter.Query),
		languages:   make(map[string]string),
		lazyInit:    make(map[string]func()),
		initialized: make(map[string]bool),
	}

	p.registerLazyInit([]string{".go"}, p.setupGo, "go")
	p.registerLazyInit([]string{".py"}, p.setupPython, "python")
	p.registerLazyInit([]string{".js", ".jsx"}, p.setupJavaScript, "javascript")
	p.registerLazyInit([]string{".ts", ".tsx"}, p.setupTypeScript, "typescript")
	p.registerLazyInit([]string{".rs"}, p.setupRust, "rust")
	p.registerLazyInit([]string{".java"}, p.setupJava, "java")
	p.registerLazyInit([]string{".cpp", ".cc", ".cxx", ".c", ".h", ".hpp"}, p.setupCpp, "cpp")
	p.registerLazyInit([]string{".cs"}, p.setupCSharp, "csharp")
	p.registerLazyInit([]string{".php", ".phtml"}, p.setupPHP, "php")
	p.registerLazyInit([]string{".zig"}, p.setupZig, "zig")

	return p
}

func (p *TreeSitterProvider) registerLazyInit(extensions []string, initFunc func(), language string) {
	for _, ext := range extensions {
		p.lazyInit[ext] = initFunc
		p.languages[ext] = language
	}
}

// Supports reports whether the provider has a grammar for the file.
func (p *TreeSitterProvider) Supports(path string) bool {
	_, ok := p.lazyInit[filepath.Ext(path)]
	return ok
}

// SupportedExtensions returns the registered extensions, sorted.
func (p *TreeSitterProvider) SupportedExtensions() []string {
	exts := make([]string, 0, len(p.lazyInit))
	for ext := range p.lazyInit {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// ensureInitialized loads the grammar for an extension on first use.
func (p *TreeSitterProvider) ensureInitialized(ext string) bool {
	p.mu.RLock()
	if p.initialized[ext] {
		p.mu.RUnlock()
		return true
	}
	initFunc, ok := p.lazyInit[ext]
	p.mu.RUnlock()
	if !ok {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized[ext] {
		return true
	}
	initFunc()
	p.initialized[ext] = true
	return p.parsers[ext] != nil
}

// Analyze parses one file and extracts its symbols and imports. A file
// whose parse tree contains errors still produces an analysis with
// whatever was extracted and a non-zero ParseErrors count, so the graph
// keeps the file and its dependents connected.
func (p *TreeSitterProvider) Analyze(ctx context.Context, path string, content []byte) (analysis *types.FileAnalysis, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext := filepath.Ext(path)
	if !p.ensureInitialized(ext) {
		return nil, pkgerrors.NewAnalysisError(path, "", 0, fmt.Errorf("no grammar for %q files", ext))
	}

	p.mu.RLock()
	parser := p.parsers[ext]
	query := p.queries[ext]
	language := p.languages[ext]
	p.mu.RUnlock()

	// The tree-sitter C library mutates input buffers via CGO; parse a
	// defensive copy so the caller's bytes stay pristine.
	buffer := make([]byte, len(content))
	copy(buffer, content)

	defer func() {
		if r := recover(); r != nil {
			debug.LogIndexing("tree-sitter panic in %s: %v\n", path, r)
			analysis = emptyAnalysis(path, language, 1)
			err = nil
		}
	}()

	tree := parser.Parse(buffer, nil)
	if tree == nil {
		return emptyAnalysis(path, language, 1), nil
	}
	defer tree.Close()

	analysis = &types.FileAnalysis{
		Path:       path,
		Language:   language,
		AnalyzedAt: time.Now(),
	}
	analysis.ParseErrors = countErrorNodes(tree.RootNode())

	if query != nil {
		p.extract(tree, query, buffer, analysis)
	}
	return analysis, nil
}

func emptyAnalysis(path, language string, parseErrors int) *types.FileAnalysis {
	return &types.FileAnalysis{
		Path:        path,
		Language:    language,
		ParseErrors: parseErrors,
		AnalyzedAt:  time.Now(),
	}
}

// extract runs the symbol query and converts captures into symbols and
// raw import dependencies.
func (p *TreeSitterProvider) extract(tree *tree_sitter.Tree, query *tree_sitter.Query, content []byte, analysis *types.FileAnalysis) {
	qc := tree_sitter.NewQueryCursor()
	defer qc.Close()

	matches := qc.Matches(query, tree.RootNode(), content)
	captureNames := query.CaptureNames()

	capturedNames := make(map[string]string, 4)
	seen := make(map[string]struct{})

	for {
		match := matches.Next()
		if match == nil {
			break
		}

		for k := range capturedNames {
			delete(capturedNames, k)
		}
		for _, c := range match.Captures {
			name := captureNames[c.Index]
			if strings.Contains(name, ".name") || strings.Contains(name, ".source") || strings.Contains(name, ".path") {
				capturedNames[name] = nodeText(&c.Node, content)
			}
		}

		for _, c := range match.Captures {
			captureName := captureNames[c.Index]
			if strings.Contains(captureName, ".") {
				continue
			}
			node := c.Node

			if captureName == "import" {
				if module := importModule(&node, content, capturedNames); module != "" {
					analysis.Dependencies = append(analysis.Dependencies, types.Dependency{
						SourceFile: analysis.Path,
						Kind:       types.DependencyImport,
						ModuleName: module,
					})
				}
				continue
			}

			kind, ok := symbolKindForCapture(captureName)
			if !ok {
				continue
			}
			name := capturedNames[captureName+".name"]
			if name == "" {
				continue
			}

			start := int(node.StartPosition().Row) + 1
			end := int(node.EndPosition().Row) + 1
			key := fmt.Sprintf("%s:%d", name, start)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			analysis.Symbols = append(analysis.Symbols, types.Symbol{
				ID:         fmt.Sprintf("%s:%s:%d", analysis.Path, name, start),
				Name:       name,
				Kind:       kind,
				LineStart:  start,
				LineEnd:    end,
				Signature:  signatureOf(&node, content),
				Complexity: cyclomaticComplexity(&node),
			})
		}
	}
}

func symbolKindForCapture(capture string) (types.SymbolKind, bool) {
	switch capture {
	case "function":
		return types.SymbolKindFunction, true
	case "method", "constructor":
		return types.SymbolKindMethod, true
	case "class", "record":
		return types.SymbolKindClass, true
	case "struct":
		return types.SymbolKindStruct, true
	case "interface", "trait":
		return types.SymbolKindInterface, true
	case "type":
		return types.SymbolKindType, true
	case "enum":
		return types.SymbolKindEnum, true
	case "variable", "field", "property":
		return types.SymbolKindVariable, true
	case "module", "namespace":
		return types.SymbolKindModule, true
	default:
		return "", false
	}
}

func nodeText(node *tree_sitter.Node, content []byte) string {
	return string(content[node.StartByte():node.EndByte()])
}

// importModule extracts the imported module string from an import
// capture, preferring the explicit source/path sub-capture and falling
// back to stripping the statement keyword.
func importModule(node *tree_sitter.Node, content []byte, captured map[string]string) string {
	for _, key := range []string{"import.source", "import.path"} {
		if raw, ok := captured[key]; ok {
			return strings.Trim(raw, `"'`)
		}
	}

	text := strings.TrimSpace(nodeText(node, content))
	for _, prefix := range []string{"import", "from", "use", "using", "#include", "require"} {
		if rest, ok := strings.CutPrefix(text, prefix); ok {
			text = strings.TrimSpace(rest)
			break
		}
	}
	text = strings.TrimSuffix(text, ";")
	if idx := strings.IndexAny(text, " \n\t"); idx > 0 {
		text = text[:idx]
	}
	return strings.Trim(text, `"'<>`)
}

// signatureOf returns the declaration's first line, which is a usable
// signature for every supported grammar.
func signatureOf(node *tree_sitter.Node, content []byte) string {
	text := nodeText(node, content)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "{"))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

// branchKinds are the decision points counted toward cyclomatic
// complexity, shared across grammars.
var branchKinds = map[string]struct{}{
	"if_statement":            {},
	"if_expression":           {},
	"elif_clause":             {},
	"else_if_clause":          {},
	"for_statement":           {},
	"for_expression":          {},
	"for_in_statement":        {},
	"while_statement":         {},
	"while_expression":        {},
	"do_statement":            {},
	"case_clause":             {},
	"switch_case":             {},
	"match_arm":               {},
	"except_clause":           {},
	"catch_clause":            {},
	"conditional_expression":  {},
	"ternary_expression":      {},
	"binary_expression_and":   {},
	"boolean_operator":        {},
	"conditional_access_expr": {},
}

// cyclomaticComplexity walks the declaration subtree counting decision
// points, starting from a base of one.
func cyclomaticComplexity(node *tree_sitter.Node) int {
	complexity := 1
	var walk func(n *tree_sitter.Node)
	walk = func(n *tree_sitter.Node) {
		if _, ok := branchKinds[n.Kind()]; ok {
			complexity++
		}
		count := n.ChildCount()
		for i := uint(0); i < count; i++ {
			if child := n.Child(i); child != nil {
				walk(child)
			}
		}
	}
	walk(node)
	return complexity
}

// countErrorNodes counts ERROR nodes in the parse tree.
func countErrorNodes(root *tree_sitter.Node) int {
	errors := 0
	var walk func(n *tree_sitter.Node)
	walk = func(n *tree_sitter.Node) {
		if n.IsError() {
			errors++
			return
		}
		count := n.ChildCount()
		for i := uint(0); i < count; i++ {
			if child := n.Child(i); child != nil {
				walk(child)
			}
		}
	}
	walk(root)
	return errors
}
