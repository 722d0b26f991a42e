package pathutil

import (
	"path/filepath"
	"runtime"
	"testing"
)

func TestToRelative(t *testing.T) {
	tests := []struct {
		name     string
		absPath  string
		rootDir  string
		expected string
	}{
		{
			name:     "simple relative path",
			absPath:  "/home/user/project/src/main.go",
			rootDir:  "/home/user/project",
			expected: "src/main.go",
		},
		{
			name:     "nested relative path",
			absPath:  "/home/user/project/internal/graph/graph.go",
			rootDir:  "/home/user/project",
			expected: "internal/graph/graph.go",
		},
		{
			name:     "root level file",
			absPath:  "/home/user/project/README.md",
			rootDir:  "/home/user/project",
			expected: "README.md",
		},
		{
			name:     "same directory",
			absPath:  "/home/user/project",
			rootDir:  "/home/user/project",
			expected: ".",
		},
		{
			name:     "already relative path",
			absPath:  "src/main.go",
			rootDir:  "/home/user/project",
			expected: "src/main.go", // Should return as-is if already relative
		},
		{
			name:     "path outside root - fallback to absolute",
			absPath:  "/other/location/file.go",
			rootDir:  "/home/user/project",
			expected: "/other/location/file.go", // Should return absolute if outside root
		},
		{
			name:     "empty root directory",
			absPath:  "/home/user/project/file.go",
			rootDir:  "",
			expected: "/home/user/project/file.go", // Fallback to absolute
		},
		{
			name:     "empty path",
			absPath:  "",
			rootDir:  "/home/user/project",
			expected: "",
		},
		{
			name:     "trailing separator on root",
			absPath:  "/home/user/project/src/main.go",
			rootDir:  "/home/user/project/",
			expected: "src/main.go",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if runtime.GOOS == "windows" && filepath.IsAbs(tt.absPath) {
				t.Skip("unix-style absolute paths")
			}
			got := ToRelative(tt.absPath, tt.rootDir)
			if got != tt.expected {
				t.Errorf("ToRelative(%q, %q) = %q, want %q", tt.absPath, tt.rootDir, got, tt.expected)
			}
		})
	}
}

func TestToSlashRelative(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix-style absolute paths")
	}
	got := ToSlashRelative("/home/user/project/pkg/a.py", "/home/user/project")
	if got != "pkg/a.py" {
		t.Errorf("ToSlashRelative returned %q", got)
	}
}

func TestToRelativePaths(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix-style absolute paths")
	}
	input := []string{
		"/home/user/project/a.py",
		"relative.py",
		"/elsewhere/b.py",
	}
	got := ToRelativePaths(input, "/home/user/project")

	want := []string{"a.py", "relative.py", "/elsewhere/b.py"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, got[i], want[i])
		}
	}
	if input[0] != "/home/user/project/a.py" {
		t.Error("input slice was modified")
	}
}
