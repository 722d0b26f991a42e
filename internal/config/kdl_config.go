package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// LoadKDL attempts to load configuration from a .pidx.kdl file
func LoadKDL(projectRoot string) (*Config, error) {
	kdlPath := filepath.Join(projectRoot, ".pidx.kdl")

	// Check if .pidx.kdl exists
	if _, err := os.Stat(kdlPath); os.IsNotExist(err) {
		return nil, nil // No KDL config found, use defaults
	}

	content, err := os.ReadFile(kdlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read .pidx.kdl: %v", err)
	}

	cfg, err := parseKDL(string(content))
	if err != nil {
		return nil, err
	}

	// Ensure root path is absolute for consistent path handling
	// Resolve relative paths relative to the directory containing the .pidx.kdl file
	if cfg != nil && cfg.Project.Root != "" {
		var absRoot string
		if filepath.IsAbs(cfg.Project.Root) {
			absRoot = cfg.Project.Root
		} else {
			absRoot = filepath.Join(projectRoot, cfg.Project.Root)
		}
		cfg.Project.Root = filepath.Clean(absRoot)
	} else if cfg != nil {
		// If no root specified in KDL, use the projectRoot parameter
		absRoot, err := filepath.Abs(projectRoot)
		if err == nil {
			cfg.Project.Root = absRoot
		} else {
			cfg.Project.Root = projectRoot
		}
	}

	return cfg, nil
}

// parseKDL parses a .pidx.kdl document into a Config, starting from defaults.
func parseKDL(content string) (*Config, error) {
	// Default to absolute current working directory
	defaultRoot, _ := os.Getwd()
	if defaultRoot == "" {
		defaultRoot = "."
	}

	cfg := Default()
	cfg.Project.Root = defaultRoot

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "project":
			for _, cn := range n.Children { // project { root "." name "foo" }
				assignSimpleString(cn, "root", func(v string) { cfg.Project.Root = v })
				assignSimpleString(cn, "name", func(v string) { cfg.Project.Name = v })
			}
		case "index":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "max_file_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.Index.MaxFileSize = int64(v)
					}
					if s, ok := firstStringArg(cn); ok {
						sz, err := parseSize(s)
						if err != nil {
							return nil, fmt.Errorf("index max_file_size: %w", err)
						}
						cfg.Index.MaxFileSize = sz
					}
				case "max_file_count":
					if v, ok := firstIntArg(cn); ok {
						cfg.Index.MaxFileCount = v
					}
				case "follow_symlinks":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Index.FollowSymlinks = b
					}
				case "watch_mode":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Index.WatchMode = b
					}
				case "watch_debounce_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Index.WatchDebounceMs = v
					}
				case "full_index_interval_min":
					if v, ok := firstIntArg(cn); ok {
						cfg.Index.FullIndexIntervalMin = v
					}
				case "drift_threshold":
					if v, ok := firstFloatArg(cn); ok {
						cfg.Index.DriftThreshold = v
					}
				case "cache_dir":
					if s, ok := firstStringArg(cn); ok {
						cfg.Index.CacheDir = s
					}
				}
			}
		case "invalidation":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "max_propagation_depth":
					if v, ok := firstIntArg(cn); ok {
						cfg.Invalidation.MaxPropagationDepth = v
					}
				case "cascade_threshold":
					if v, ok := firstIntArg(cn); ok {
						cfg.Invalidation.CascadeThreshold = v
					}
				case "symbol_propagation":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Invalidation.EnableSymbolPropagation = b
					}
				case "history_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.Invalidation.HistorySize = v
					}
				}
			}
		case "performance":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "hash_workers":
					if v, ok := firstIntArg(cn); ok {
						cfg.Performance.HashWorkers = v
					}
				case "analysis_workers":
					if v, ok := firstIntArg(cn); ok {
						cfg.Performance.AnalysisWorkers = v
					}
				case "debounce_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Performance.DebounceMs = v
					}
				}
			}
		case "include":
			cfg.Include = append(cfg.Include, collectStringArgs(n)...)
		case "exclude":
			// Replace default exclusions if exclude block is present
			// This allows global config to specify its own exclusions
			cfg.Exclude = collectStringArgs(n)
		}
	}

	// Enrich exclusions with language-specific build artifacts
	cfg.EnrichExclusionsWithBuildArtifacts()

	return cfg, nil
}

// Helper functions leveraging the kdl-go document model
func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func firstFloatArg(n *document.Node) (float64, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	// First try to collect from arguments (for inline format)
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}

	// If no arguments, collect from children (for block format like exclude { "pattern" })
	// In KDL block format, strings are child nodes where the node name is the string value
	if len(out) == 0 && len(n.Children) > 0 {
		out = make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			// Try to get string from arguments first
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				// If no arguments, the node name itself is the string value
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}

	return out
}

func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}

// parseSize handles size strings like "10MB", "500KB", "1GB"
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "KB")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(strings.TrimSpace(numStr), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	return num * multiplier, nil
}
