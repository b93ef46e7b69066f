// Package chunk splits source files into retrievable units. Files in a
// language with a registered grammar are partitioned at top-level
// declaration boundaries so that every line of the file belongs to a
// partition; everything else is cut into fixed overlapping line windows.
package chunk

import "context"

// Default partition bounds in lines.
const (
	DefaultMinLines     = 5   // Partitions below this are merged forward
	DefaultMaxLines     = 160 // Partitions above this are split into windows
	DefaultWindowLines  = 120 // Window height when splitting or falling back
	DefaultOverlapLines = 16  // Overlap between adjacent windows
)

// Kind classifies what a chunk contains.
type Kind string

const (
	KindFunction  Kind = "function"
	KindMethod    Kind = "method"
	KindClass     Kind = "class"
	KindInterface Kind = "interface"
	KindType      Kind = "type"
	KindConstant  Kind = "constant"
	KindVariable  Kind = "variable"
	KindWindow    Kind = "window"
)

// Chunk is a retrievable unit of file content.
type Chunk struct {
	ID        string // SHA256(file_path + content hash)[:16]
	FilePath  string // Relative to repository root
	Content   string // The covered lines, verbatim
	Language  string // go, typescript, python, etc.
	StartLine int    // 1-indexed
	EndLine   int    // Inclusive
	Kind      Kind
	Symbol    string // Declared name when known, "" for windows
}

// Lines returns the number of lines the chunk spans.
func (c *Chunk) Lines() int {
	return c.EndLine - c.StartLine + 1
}

// Contains reports whether the chunk covers the given 1-indexed line.
func (c *Chunk) Contains(line int) bool {
	return line >= c.StartLine && line <= c.EndLine
}

// FileInput is the input to a Chunker.
type FileInput struct {
	Path     string // Relative path
	Content  []byte // File content
	Language string // Detected language, "" when unknown
}

// Chunker splits files into chunks.
type Chunker interface {
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)
}

// Options configures partition bounds.
type Options struct {
	MinLines     int
	MaxLines     int
	WindowLines  int
	OverlapLines int
}

func (o Options) withDefaults() Options {
	if o.MinLines == 0 {
		o.MinLines = DefaultMinLines
	}
	if o.MaxLines == 0 {
		o.MaxLines = DefaultMaxLines
	}
	if o.WindowLines == 0 {
		o.WindowLines = DefaultWindowLines
	}
	if o.OverlapLines == 0 {
		o.OverlapLines = DefaultOverlapLines
	}
	return o
}

// Tree is a parsed syntax tree.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node is a node in the syntax tree.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point is a position in the source.
type Point struct {
	Row    uint32 // 0-indexed
	Column uint32
}

// LanguageConfig describes how a language's top-level declarations map to
// chunk kinds.
type LanguageConfig struct {
	Name       string
	Extensions []string

	// DeclarationKinds maps top-level node types to the chunk kind they
	// produce. Nodes not in this map are treated as gap text and attached
	// to the following declaration.
	DeclarationKinds map[string]Kind
}
