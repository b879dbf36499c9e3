package models

import "fmt"

// ErrorType represents different categories of errors
type ErrorType int

const (
	ErrFileSystem ErrorType = iota
	ErrMetadata
	ErrSigning
	ErrArchive
	ErrInvalidConfig
	ErrPackageParse
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrFileSystem:
		return "FileSystem"
	case ErrMetadata:
		return "Metadata"
	case ErrSigning:
		return "Signing"
	case ErrArchive:
		return "Archive"
	case ErrInvalidConfig:
		return "InvalidConfig"
	case ErrPackageParse:
		return "PackageParse"
	default:
		return "Unknown"
	}
}

// BuildError represents an error during package assembly. Every BuildError is
// fatal for the build that produced it.
type BuildError struct {
	Type ErrorType
	Path string
	Err  error
}

// Error implements the error interface
func (e *BuildError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Path, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Type, e.Err)
}

// Unwrap returns the wrapped error
func (e *BuildError) Unwrap() error {
	return e.Err
}

// NewError wraps err into a BuildError of the given type. A nil err yields nil.
func NewError(t ErrorType, path string, err error) error {
	if err == nil {
		return nil
	}
	return &BuildError{Type: t, Path: path, Err: err}
}
