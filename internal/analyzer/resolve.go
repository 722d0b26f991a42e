package analyzer

import (
	"path"
	"strings"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/types"
)

// ResolveImports binds each raw import dependency to a workspace file
// where possible. files is the set of indexed paths, slash-separated and
// relative to the workspace root, and analysis paths use the same form.
// Anything that does not resolve stays an external import keyed by its
// module name; the graph turns those into the import→files reverse
// index instead of file edges.
func ResolveImports(analysis *types.FileAnalysis, files map[string]struct{}) {
	dir := path.Dir(analysis.Path)
	for i := range analysis.Dependencies {
		dep := &analysis.Dependencies[i]
		if dep.TargetFile != "" || dep.ModuleName == "" {
			continue
		}
		if target, ok := resolveModule(dir, dep.ModuleName, analysis.Language, files); ok {
			dep.TargetFile = target
		} else {
			dep.IsExternal = true
		}
	}
}

// extensionsByLanguage lists the extensions tried when an import omits
// one, module-resolution style.
var extensionsByLanguage = map[string][]string{
	"python":     {".py"},
	"javascript": {".js", ".jsx"},
	"typescript": {".ts", ".tsx", ".js"},
	"php":        {".php"},
	"rust":       {".rs"},
	"zig":        {".zig"},
}

func resolveModule(dir, module, language string, files map[string]struct{}) (string, bool) {
	module = strings.TrimSpace(module)
	if module == "" {
		return "", false
	}

	// Dotted and double-colon module paths become slash paths.
	slashed := module
	if language == "python" || language == "csharp" || language == "java" {
		slashed = strings.ReplaceAll(module, ".", "/")
	}
	slashed = strings.ReplaceAll(slashed, "::", "/")

	var candidates []string
	if strings.HasPrefix(module, "./") || strings.HasPrefix(module, "../") {
		candidates = append(candidates, path.Join(dir, module))
	} else {
		// Try both sibling and workspace-root resolution.
		candidates = append(candidates, path.Join(dir, slashed), slashed)
	}

	exts := extensionsByLanguage[language]
	for _, candidate := range candidates {
		candidate = path.Clean(candidate)
		if _, ok := files[candidate]; ok && path.Ext(candidate) != "" {
			return candidate, true
		}
		for _, ext := range exts {
			if _, ok := files[candidate+ext]; ok {
				return candidate + ext, true
			}
		}
		// index-file convention for javascript and typescript
		for _, ext := range exts {
			if _, ok := files[path.Join(candidate, "index"+ext)]; ok {
				return path.Join(candidate, "index"+ext), true
			}
		}
	}
	return "", false
}
