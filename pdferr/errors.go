// Package pdferr defines the error kinds shared by the parser, the
// assembler and the serializer.
package pdferr

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptDocument is returned when input cannot be interpreted as a
	// PDF even after a recovery scan.
	ErrCorruptDocument = errors.New("corrupt document")

	// ErrDanglingReference is returned when a reference points at an object
	// that is neither loaded nor loadable.
	ErrDanglingReference = errors.New("dangling reference")

	// ErrUnsupportedFeature is returned for encryption and for filters that
	// must be decoded but cannot be.
	ErrUnsupportedFeature = errors.New("unsupported feature")

	// ErrIndexOutOfRange is returned for page or source indices outside the
	// valid range.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrEmptyInput is returned when an operation is given nothing to work on.
	ErrEmptyInput = errors.New("empty input")

	// ErrSealed is returned when a document is mutated after serialization.
	ErrSealed = errors.New("document sealed")
)

// UnsupportedFeatureError names the feature that caused the rejection.
type UnsupportedFeatureError struct {
	Feature string
}

func (e *UnsupportedFeatureError) Error() string {
	return "unsupported feature: " + e.Feature
}

func (e *UnsupportedFeatureError) Is(target error) bool { return target == ErrUnsupportedFeature }

// Unsupported builds an UnsupportedFeatureError.
func Unsupported(feature string) error {
	return &UnsupportedFeatureError{Feature: feature}
}

// IndexError describes an out-of-range source or page index.
type IndexError struct {
	Kind  string // "page" or "source"
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	if e.Len == 0 {
		return fmt.Sprintf("%s %d out of range (none available)", e.Kind, e.Index)
	}
	return fmt.Sprintf("%s %d out of range (0-%d)", e.Kind, e.Index, e.Len-1)
}

func (e *IndexError) Is(target error) bool { return target == ErrIndexOutOfRange }

// OutOfRange builds an IndexError.
func OutOfRange(kind string, index, length int) error {
	return &IndexError{Kind: kind, Index: index, Len: length}
}

// DanglingReferenceError records the reference that could not be resolved
// and, when known, the object that held it.
type DanglingReferenceError struct {
	Num, Gen int
	From     string
}

func (e *DanglingReferenceError) Error() string {
	if e.From != "" {
		return fmt.Sprintf("dangling reference %d %d R (from %s)", e.Num, e.Gen, e.From)
	}
	return fmt.Sprintf("dangling reference %d %d R", e.Num, e.Gen)
}

func (e *DanglingReferenceError) Is(target error) bool { return target == ErrDanglingReference }

// Corrupt wraps a cause as ErrCorruptDocument.
func Corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptDocument, fmt.Sprintf(format, args...))
}

// ItemError reports the failure of one input within a batch operation.
type ItemError struct {
	Index int
	Total int
	Name  string
	Err   error
}

func (e *ItemError) Error() string {
	name := e.Name
	if name == "" {
		name = "input"
	}
	return fmt.Sprintf("failed to process %s (%d of %d): %v", name, e.Index+1, e.Total, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }
