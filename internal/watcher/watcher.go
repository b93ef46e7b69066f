// Package watcher observes a repository working tree and emits debounced
// batches of file events for incremental index updates.
package watcher

import (
	"context"
	"time"
)

// Operation is a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted.
	OpDelete
	// OpRename indicates a file was renamed away from its path.
	OpRename
	// OpGitignoreChange indicates a .gitignore file changed. The index
	// needs reconciliation against the new ignore rules.
	OpGitignoreChange
	// OpRescan indicates events were lost and the consumer must walk
	// the tree to resynchronize the index.
	OpRescan
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpGitignoreChange:
		return "GITIGNORE_CHANGE"
	case OpRescan:
		return "RESCAN"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a single file system event.
type FileEvent struct {
	// Path is relative to the watched root.
	Path string

	// Operation is the type of change.
	Operation Operation

	// IsDir indicates the event is for a directory.
	IsDir bool

	// Timestamp is when the event was detected.
	Timestamp time.Time
}

// Watcher observes a directory tree.
type Watcher interface {
	// Start begins watching the given directory recursively. It blocks
	// until Stop is called or the context is cancelled.
	Start(ctx context.Context, path string) error

	// Stop stops the watcher and releases resources. Safe to call
	// multiple times.
	Stop() error

	// Events returns the channel of debounced event batches. Closed
	// when the watcher stops.
	Events() <-chan []FileEvent

	// Errors returns the channel of non-fatal watcher errors. Closed
	// when the watcher stops.
	Errors() <-chan error
}

// Options configures the watcher.
type Options struct {
	// DebounceWindow is the quiet period before coalesced events are
	// emitted. Default: 500ms.
	DebounceWindow time.Duration

	// EventBufferSize is the output channel buffer. Default: 1000.
	EventBufferSize int

	// IgnorePatterns are extra gitignore-syntax patterns beyond the
	// built-in defaults and the tree's .gitignore files.
	IgnorePatterns []string
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		EventBufferSize: 1000,
	}
}

// WithDefaults fills zero values with defaults.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}
