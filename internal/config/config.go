package config

import (
	"fmt"
	"os"
	"runtime"

	pkgerrors "github.com/LeanVibe/leanvibe-ai-sub004/internal/errors"
	"github.com/LeanVibe/leanvibe-ai-sub004/internal/types"
)

// Propagation cap defaults. These are pragmatic values carried over from
// production use rather than derived from a measured workload; they exist
// as configurable constants so operators can tune them.
const (
	DefaultMaxPropagationDepth = 10
	DefaultCascadeThreshold    = 5
	DefaultHistorySize         = 256

	// Full reindex policy defaults
	DefaultFullIndexIntervalMin = 60  // one hour between forced full reindexes
	DefaultDriftThreshold       = 0.3 // fraction of changed files that forces a full reindex
)

type Config struct {
	Version      int
	Project      Project
	Index        Index
	Invalidation Invalidation
	Performance  Performance
	Include      []string
	Exclude      []string
}

type Project struct {
	Root string
	Name string
}

type Index struct {
	MaxFileSize          int64
	MaxFileCount         int
	FollowSymlinks       bool
	WatchMode            bool    // Enable file system watching for automatic reindexing
	WatchDebounceMs      int     // Debounce time for file change events
	FullIndexIntervalMin int     // Minutes between forced full reindexes
	DriftThreshold       float64 // Changed-file ratio that forces a full reindex
	CacheDir             string  // Directory for persisted index snapshots ("" = default)
}

// Invalidation holds the propagation caps for the cache invalidation
// service. Depth and cascade caps bound a single propagation pass so one
// change can never block indefinitely.
type Invalidation struct {
	MaxPropagationDepth     int
	CascadeThreshold        int
	EnableSymbolPropagation bool
	HistorySize             int
}

type Performance struct {
	HashWorkers     int // Concurrent file hashing workers (0 = auto)
	AnalysisWorkers int // Concurrent analysis workers (0 = auto)
	DebounceMs      int // Debounce time in milliseconds for internal rebuilds
}

// Load builds the effective configuration for a workspace: the global
// ~/.pidx.kdl base merged with the workspace's own .pidx.kdl.
func Load(rootDir string) (*Config, error) {
	searchDir := "."
	if rootDir != "" {
		searchDir = rootDir
	}

	// Step 1: Load global base config from ~/.pidx.kdl (if exists)
	homeDir, err := os.UserHomeDir()
	var baseConfig *Config
	if err == nil {
		if globalCfg, err := LoadKDL(homeDir); err == nil && globalCfg != nil {
			baseConfig = globalCfg
		}
	}

	// Step 2: Load project-specific config from project directory
	var projectConfig *Config
	if kdlCfg, err := LoadKDL(searchDir); err == nil && kdlCfg != nil {
		projectConfig = kdlCfg
	} else if err != nil {
		return nil, err
	}

	// Step 3: Merge configs (project overrides base, but preserve base exclusions)
	if baseConfig != nil && projectConfig != nil {
		return mergeConfigs(baseConfig, projectConfig), nil
	} else if projectConfig != nil {
		return projectConfig, nil
	} else if baseConfig != nil {
		// Use base config but update project root
		baseConfig.Project.Root = searchDir
		return baseConfig, nil
	}

	// Default config
	// Use current working directory as absolute path for consistency
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "." // Fallback to relative if we can't get absolute
	}

	cfg := Default()
	cfg.Project.Root = cwd

	// Enrich exclusions with language-specific build artifacts
	cfg.EnrichExclusionsWithBuildArtifacts()

	return cfg, nil
}

// Default returns a config populated with the built-in defaults. The
// project root is left empty; callers set it before use.
func Default() *Config {
	return &Config{
		Version: 1,
		Index: Index{
			MaxFileSize:          types.DefaultMaxFileSize,
			MaxFileCount:         types.DefaultMaxFileCount,
			FollowSymlinks:       false,
			WatchMode:            true, // Enable file watching by default
			WatchDebounceMs:      300,  // 300ms debounce for file changes
			FullIndexIntervalMin: DefaultFullIndexIntervalMin,
			DriftThreshold:       DefaultDriftThreshold,
		},
		Invalidation: Invalidation{
			MaxPropagationDepth:     DefaultMaxPropagationDepth,
			CascadeThreshold:        DefaultCascadeThreshold,
			EnableSymbolPropagation: true,
			HistorySize:             DefaultHistorySize,
		},
		Performance: Performance{
			HashWorkers:     DefaultWorkerCount(),
			AnalysisWorkers: DefaultWorkerCount(),
			DebounceMs:      100,
		},
		Include: []string{},
		Exclude: []string{
			// Git metadata (never indexable)
			"**/.git/**",

			// Hidden directories (catch-all for dot directories)
			"**/.*/**",

			// Package managers & dependencies
			"**/node_modules/**",
			"**/vendor/**",

			// Build artifacts & output
			"**/dist/**",
			"**/build/**",
			"**/out/**",
			"**/target/**",
			"**/bin/**",
			"**/obj/**",
			"**/*.min.js",
			"**/*.min.css",

			// Python compiled files
			"**/__pycache__/**",
			"**/*.pyc",

			// Editor temp files
			"**/*.swp",
			"**/*.swo",
			"**/*~",

			// Logs
			"**/logs/**",
			"**/*.log",
		},
	}
}

// DefaultWorkerCount caps the worker pool at 6 to limit parser memory even
// on large machines, while still scaling down on small ones.
func DefaultWorkerCount() int {
	n := runtime.NumCPU()
	if n > 6 {
		return 6
	}
	if n < 2 {
		return 2
	}
	return n
}

// Validate checks the configuration for values that would break indexing.
func (c *Config) Validate() error {
	if err := c.validateIndex(); err != nil {
		return pkgerrors.NewConfigError("index", "", err)
	}
	if err := c.validateInvalidation(); err != nil {
		return pkgerrors.NewConfigError("invalidation", "", err)
	}
	if err := c.validatePerformance(); err != nil {
		return pkgerrors.NewConfigError("performance", "", err)
	}
	return nil
}

func (c *Config) validateIndex() error {
	if c.Index.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive, got %d", c.Index.MaxFileSize)
	}
	if c.Index.DriftThreshold <= 0 || c.Index.DriftThreshold > 1 {
		return fmt.Errorf("drift_threshold must be in (0, 1], got %v", c.Index.DriftThreshold)
	}
	return nil
}

func (c *Config) validateInvalidation() error {
	if c.Invalidation.MaxPropagationDepth < 1 {
		return fmt.Errorf("max_propagation_depth must be at least 1, got %d", c.Invalidation.MaxPropagationDepth)
	}
	if c.Invalidation.CascadeThreshold < 1 {
		return fmt.Errorf("cascade_threshold must be at least 1, got %d", c.Invalidation.CascadeThreshold)
	}
	return nil
}

func (c *Config) validatePerformance() error {
	if c.Performance.HashWorkers < 0 {
		return fmt.Errorf("hash_workers must not be negative, got %d", c.Performance.HashWorkers)
	}
	if c.Performance.AnalysisWorkers < 0 {
		return fmt.Errorf("analysis_workers must not be negative, got %d", c.Performance.AnalysisWorkers)
	}
	return nil
}

// mergeConfigs merges a base config with a project config
// Project config takes precedence, but base exclusions are preserved
func mergeConfigs(base, project *Config) *Config {
	// Start with a copy of the project config
	merged := *project

	// Merge exclusions: combine base and project exclusions
	if len(base.Exclude) > 0 {
		// Use a map to deduplicate
		excludeMap := make(map[string]bool)

		// Add base exclusions first
		for _, pattern := range base.Exclude {
			excludeMap[pattern] = true
		}

		// Add project exclusions
		for _, pattern := range project.Exclude {
			excludeMap[pattern] = true
		}

		// Convert back to slice
		merged.Exclude = make([]string, 0, len(excludeMap))
		for pattern := range excludeMap {
			merged.Exclude = append(merged.Exclude, pattern)
		}
	}

	// Merge inclusions: project overrides base completely if specified
	if len(project.Include) == 0 && len(base.Include) > 0 {
		merged.Include = base.Include
	}

	// Use project settings for everything else (already copied above)

	return &merged
}

// EnrichExclusionsWithBuildArtifacts detects build output directories from language configs
// and adds them to the exclusion list
func (c *Config) EnrichExclusionsWithBuildArtifacts() {
	if c.Project.Root == "" {
		return // No project root set, skip detection
	}

	detector := NewBuildArtifactDetector(c.Project.Root)
	detectedPatterns := detector.DetectOutputDirectories()

	if len(detectedPatterns) > 0 {
		// Append detected patterns to exclusions
		c.Exclude = append(c.Exclude, detectedPatterns...)
		// Deduplicate
		c.Exclude = DeduplicatePatterns(c.Exclude)
	}
}

// DeduplicatePatterns removes duplicate glob patterns while preserving order.
func DeduplicatePatterns(patterns []string) []string {
	seen := make(map[string]bool, len(patterns))
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
