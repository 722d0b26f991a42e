// Build artifact detection from language-specific configuration files.
// Parses package.json, tsconfig.json, Cargo.toml and pyproject.toml to find
// output directories that should never be indexed.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// BuildArtifactDetector finds language-specific build output directories
type BuildArtifactDetector struct {
	projectRoot string
}

// NewBuildArtifactDetector creates a new build artifact detector
func NewBuildArtifactDetector(projectRoot string) *BuildArtifactDetector {
	return &BuildArtifactDetector{projectRoot: projectRoot}
}

// DetectOutputDirectories scans for build configuration files and extracts output directories.
// Returns glob patterns to exclude (e.g., "**/dist/**", "**/target/**").
func (bad *BuildArtifactDetector) DetectOutputDirectories() []string {
	var patterns []string

	// JavaScript/TypeScript: package.json, tsconfig.json
	patterns = append(patterns, bad.detectJavaScriptOutputs()...)

	// Rust: Cargo.toml
	patterns = append(patterns, bad.detectRustOutputs()...)

	// Python: pyproject.toml
	patterns = append(patterns, bad.detectPythonOutputs()...)

	return patterns
}

// detectJavaScriptOutputs finds JS/TS build outputs
func (bad *BuildArtifactDetector) detectJavaScriptOutputs() []string {
	var patterns []string

	// Check package.json build scripts for explicit --outDir flags
	packageJSON := filepath.Join(bad.projectRoot, "package.json")
	if data, err := os.ReadFile(packageJSON); err == nil {
		var pkg struct {
			Scripts map[string]string `json:"scripts"`
		}
		if json.Unmarshal(data, &pkg) == nil {
			for _, script := range pkg.Scripts {
				if !strings.Contains(script, "outDir") {
					continue
				}
				parts := strings.Fields(script)
				for i, part := range parts {
					if (part == "--outDir" || part == "-outDir") && i+1 < len(parts) {
						outDir := strings.Trim(parts[i+1], "\"'")
						patterns = append(patterns, "**/"+outDir+"/**")
					}
				}
			}
		}
	}

	// Check tsconfig.json compilerOptions.outDir
	tsconfigJSON := filepath.Join(bad.projectRoot, "tsconfig.json")
	if data, err := os.ReadFile(tsconfigJSON); err == nil {
		var tsconfig struct {
			CompilerOptions struct {
				OutDir string `json:"outDir"`
			} `json:"compilerOptions"`
		}
		if json.Unmarshal(data, &tsconfig) == nil && tsconfig.CompilerOptions.OutDir != "" {
			patterns = append(patterns, "**/"+tsconfig.CompilerOptions.OutDir+"/**")
		}
	}

	return patterns
}

// detectRustOutputs finds Rust build outputs (Cargo.toml)
func (bad *BuildArtifactDetector) detectRustOutputs() []string {
	var patterns []string

	cargoTOML := filepath.Join(bad.projectRoot, "Cargo.toml")
	if data, err := os.ReadFile(cargoTOML); err == nil {
		var cargo map[string]interface{}
		if toml.Unmarshal(data, &cargo) == nil {
			// Check for custom target directory
			if profile, ok := cargo["profile"].(map[string]interface{}); ok {
				if release, ok := profile["release"].(map[string]interface{}); ok {
					if targetDir, ok := release["target-dir"].(string); ok {
						patterns = append(patterns, "**/"+targetDir+"/**")
					}
				}
			}
			// Rust's default target/ is already in the default exclusions
		}
	}

	return patterns
}

// detectPythonOutputs finds Python build outputs
func (bad *BuildArtifactDetector) detectPythonOutputs() []string {
	var patterns []string

	pyprojectTOML := filepath.Join(bad.projectRoot, "pyproject.toml")
	if data, err := os.ReadFile(pyprojectTOML); err == nil {
		var pyproject map[string]interface{}
		if toml.Unmarshal(data, &pyproject) == nil {
			if tool, ok := pyproject["tool"].(map[string]interface{}); ok {
				// Poetry custom build target
				if poetry, ok := tool["poetry"].(map[string]interface{}); ok {
					if build, ok := poetry["build"].(map[string]interface{}); ok {
						if targetDir, ok := build["target-dir"].(string); ok {
							patterns = append(patterns, "**/"+targetDir+"/**")
						}
					}
				}
			}
		}
	}

	return patterns
}
