package errors

import (
	"fmt"
	"time"

	"github.com/LeanVibe/leanvibe-ai-sub004/internal/types"
)

// Error types for the project index system
type ErrorType string

const (
	// Indexing errors
	ErrorTypeIndexing ErrorType = "indexing"
	ErrorTypeAnalysis ErrorType = "analysis"

	// File errors
	ErrorTypeFileNotFound ErrorType = "file_not_found"
	ErrorTypeFileTooLarge ErrorType = "file_too_large"
	ErrorTypePermission   ErrorType = "permission"

	// Snapshot cache errors
	ErrorTypeSnapshot ErrorType = "snapshot"

	// Invalidation errors
	ErrorTypeHandler ErrorType = "handler"

	// Configuration errors
	ErrorTypeConfig ErrorType = "config"

	// Internal errors
	ErrorTypeInternal ErrorType = "internal"
)

// IndexingError represents an error during the indexing process
type IndexingError struct {
	Type        ErrorType
	FileID      types.FileID
	FilePath    string
	Operation   string
	Underlying  error
	Timestamp   time.Time
	Recoverable bool
}

// NewIndexingError creates a new indexing error with context
func NewIndexingError(op string, err error) *IndexingError {
	return &IndexingError{
		Type:       ErrorTypeIndexing,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// WithFile adds file information to the error
func (e *IndexingError) WithFile(fileID types.FileID, path string) *IndexingError {
	e.FileID = fileID
	e.FilePath = path
	return e
}

// WithRecoverable marks the error as recoverable
func (e *IndexingError) WithRecoverable(recoverable bool) *IndexingError {
	e.Recoverable = recoverable
	return e
}

// Error implements the error interface
func (e *IndexingError) Error() string {
	if e.FilePath != "" {
		return fmt.Sprintf("%s %s failed for %s: %v", e.Type, e.Operation, e.FilePath, e.Underlying)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Type, e.Operation, e.Underlying)
}

// Unwrap returns the underlying error for errors.Is/As
func (e *IndexingError) Unwrap() error {
	return e.Underlying
}

// IsRecoverable checks if the error can be retried
func (e *IndexingError) IsRecoverable() bool {
	return e.Recoverable
}

// AnalysisError represents a failure while analyzing a single file.
// Files carrying an AnalysisError are still indexed with an empty-symbol
// record so their dependents remain reachable in the graph.
type AnalysisError struct {
	Type       ErrorType
	FilePath   string
	Language   string
	ErrorCount int
	Underlying error
	Timestamp  time.Time
}

// NewAnalysisError creates a new analysis error
func NewAnalysisError(path, language string, errorCount int, err error) *AnalysisError {
	return &AnalysisError{
		Type:       ErrorTypeAnalysis,
		FilePath:   path,
		Language:   language,
		ErrorCount: errorCount,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis of %s (%s) produced %d errors: %v",
		e.FilePath, e.Language, e.ErrorCount, e.Underlying)
}

// Unwrap returns the underlying error
func (e *AnalysisError) Unwrap() error {
	return e.Underlying
}

// SnapshotError represents a failure loading or persisting the durable
// index snapshot. Version mismatches are modeled separately because they
// are treated as cache misses, never as hard failures.
type SnapshotError struct {
	Type          ErrorType
	WorkspacePath string
	Operation     string
	Underlying    error
	Timestamp     time.Time
}

// NewSnapshotError creates a new snapshot error
func NewSnapshotError(op, workspacePath string, err error) *SnapshotError {
	return &SnapshotError{
		Type:          ErrorTypeSnapshot,
		WorkspacePath: workspacePath,
		Operation:     op,
		Underlying:    err,
		Timestamp:     time.Now(),
	}
}

// Error implements the error interface
func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot %s failed for workspace %s: %v", e.Operation, e.WorkspacePath, e.Underlying)
}

// Unwrap returns the underlying error
func (e *SnapshotError) Unwrap() error {
	return e.Underlying
}

// HandlerError represents a cache handler failing to purge a key.
// These are always caught and logged; invalidation of remaining
// handlers continues regardless.
type HandlerError struct {
	Type        ErrorType
	HandlerName string
	Key         string
	Underlying  error
	Timestamp   time.Time
}

// NewHandlerError creates a new handler error
func NewHandlerError(handlerName, key string, err error) *HandlerError {
	return &HandlerError{
		Type:        ErrorTypeHandler,
		HandlerName: handlerName,
		Key:         key,
		Underlying:  err,
		Timestamp:   time.Now(),
	}
}

// Error implements the error interface
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed to clear %s: %v", e.HandlerName, e.Key, e.Underlying)
}

// Unwrap returns the underlying error
func (e *HandlerError) Unwrap() error {
	return e.Underlying
}

// FileError represents a file-related error
type FileError struct {
	Type       ErrorType
	Path       string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewFileError creates a new file error
func NewFileError(op, path string, err error) *FileError {
	errorType := ErrorTypeFileNotFound
	if isPermissionError(err) {
		errorType = ErrorTypePermission
	}

	return &FileError{
		Type:       errorType,
		Path:       path,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// isPermissionError checks if the error is a permission error
func isPermissionError(err error) bool {
	errStr := err.Error()
	return errStr == "permission denied" || errStr == "access denied"
}

// Error implements the error interface
func (e *FileError) Error() string {
	return fmt.Sprintf("file %s failed for %s: %v", e.Operation, e.Path, e.Underlying)
}

// Unwrap returns the underlying error
func (e *FileError) Unwrap() error {
	return e.Underlying
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a new config error
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{
		Field:      field,
		Value:      value,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Underlying
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error
}

// NewMultiError creates a new multi-error
func NewMultiError(errs []error) *MultiError {
	// Filter out nil errors
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

// Error implements the error interface
func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

// Unwrap returns all errors
func (e *MultiError) Unwrap() []error {
	return e.Errors
}
