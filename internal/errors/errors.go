// Package errors defines the closed error-kind set surfaced by the engine.
//
// Callers outside the engine see exactly one of these kinds:
//   - KindNotFound: the repository path does not exist or is not a directory
//   - KindNotIndexed: the repository id is unknown to the sync manager
//   - KindEmptyRepository: indexing produced zero chunks
//   - KindInternal: everything else
//
// Degradable failures (lexical search unavailable, single-file re-index
// errors) are absorbed and logged inside the engine and never reach callers.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind int

const (
	// KindInternal indicates an unexpected engine failure.
	KindInternal Kind = iota
	// KindNotFound indicates a repository path that does not exist.
	KindNotFound
	// KindNotIndexed indicates an unknown repository id.
	KindNotIndexed
	// KindEmptyRepository indicates indexing found nothing to index.
	KindEmptyRepository
)

// String returns the stable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindNotIndexed:
		return "NOT_INDEXED"
	case KindEmptyRepository:
		return "EMPTY_REPOSITORY"
	default:
		return "INTERNAL"
	}
}

// Error is the structured error type crossing the engine boundary.
type Error struct {
	// Kind is the error classification.
	Kind Kind

	// Message is the human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by kind, enabling errors.Is against sentinel values.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// NotFound creates a not-found error for a repository path.
func NotFound(path string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("repository path not found: %s", path)}
}

// NotIndexed creates a not-indexed error for a repository id.
func NotIndexed(repoID string) *Error {
	return &Error{Kind: KindNotIndexed, Message: fmt.Sprintf("repository not indexed: %s", repoID)}
}

// EmptyRepository creates an empty-repository error.
func EmptyRepository(path string) *Error {
	return &Error{Kind: KindEmptyRepository, Message: fmt.Sprintf("repository produced zero chunks: %s", path)}
}

// Internal wraps an unexpected failure.
func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}

// Internalf wraps an unexpected failure with a formatted message.
func Internalf(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the kind from an error chain.
// Plain errors map to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return isKind(err, KindNotFound)
}

// IsNotIndexed reports whether err is a not-indexed error.
func IsNotIndexed(err error) bool {
	return isKind(err, KindNotIndexed)
}

// IsEmptyRepository reports whether err is an empty-repository error.
func IsEmptyRepository(err error) bool {
	return isKind(err, KindEmptyRepository)
}

func isKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
