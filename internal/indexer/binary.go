package indexer

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/types"
)

// binaryDetector rejects non-text files before they reach the analysis
// provider. Extension check first, then a magic-number sniff of the
// first bytes for ambiguous names.
type binaryDetector struct {
	extensions map[string]bool
}

func newBinaryDetector() *binaryDetector {
	return &binaryDetector{
		extensions: map[string]bool{
			".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
			".bmp": true, ".ico": true, ".webp": true, ".tiff": true,
			".woff": true, ".woff2": true, ".ttf": true, ".otf": true,
			".zip": true, ".tar": true, ".gz": true, ".bz2": true,
			".xz": true, ".7z": true, ".jar": true,
			".exe": true, ".dll": true, ".so": true, ".dylib": true,
			".a": true, ".o": true, ".bin": true,
			".mp3": true, ".mp4": true, ".avi": true, ".mov": true,
			".wav": true, ".ogg": true,
			".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
			".db": true, ".sqlite": true, ".sqlite3": true,
			".pyc": true, ".pyo": true, ".class": true, ".pickle": true,
		},
	}
}

func (bd *binaryDetector) isBinaryExtension(path string) bool {
	return bd.extensions[strings.ToLower(filepath.Ext(path))]
}

var magicNumbers = [][]byte{
	{0x1F, 0x8B},             // gzip
	{0x50, 0x4B, 0x03, 0x04}, // zip
	{0x89, 0x50, 0x4E, 0x47}, // png
	{0xFF, 0xD8, 0xFF},       // jpeg
	{0x47, 0x49, 0x46, 0x38}, // gif
	{0x25, 0x50, 0x44, 0x46}, // pdf
	{0x7F, 0x45, 0x4C, 0x46}, // elf
	{0x4D, 0x5A},             // dos/windows executable
	{0xCA, 0xFE, 0xBA, 0xBE}, // mach-o
}

// isBinaryContent sniffs the leading bytes: known magic numbers, then a
// null-byte and non-printable heuristic tuned to not flag UTF-8 text.
func (bd *binaryDetector) isBinaryContent(content []byte) bool {
	if len(content) == 0 {
		return false
	}
	sample := content
	if len(sample) > types.BinaryPreCheckBytes {
		sample = sample[:types.BinaryPreCheckBytes]
	}

	for _, magic := range magicNumbers {
		if bytes.HasPrefix(sample, magic) {
			return true
		}
	}

	nullBytes, nonPrintable := 0, 0
	for _, b := range sample {
		if b == 0 {
			nullBytes++
		}
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			nonPrintable++
		}
	}
	if nullBytes > len(sample)/100 {
		return true
	}
	return nonPrintable > len(sample)*30/100
}

func (bd *binaryDetector) isBinary(path string, content []byte) bool {
	if bd.isBinaryExtension(path) {
		return true
	}
	return bd.isBinaryContent(content)
}
