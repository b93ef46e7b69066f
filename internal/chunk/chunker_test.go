package chunk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkGoFile(t *testing.T, c *CodeChunker, path, content string) []*Chunk {
	t.Helper()
	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:     path,
		Content:  []byte(content),
		Language: "go",
	})
	require.NoError(t, err)
	return chunks
}

// assertFullCoverage verifies every line of the file is covered by at
// least one chunk.
func assertFullCoverage(t *testing.T, chunks []*Chunk, totalLines int) {
	t.Helper()
	covered := make([]bool, totalLines+1)
	for _, c := range chunks {
		require.GreaterOrEqual(t, c.StartLine, 1)
		require.LessOrEqual(t, c.EndLine, totalLines)
		for l := c.StartLine; l <= c.EndLine; l++ {
			covered[l] = true
		}
	}
	for l := 1; l <= totalLines; l++ {
		assert.True(t, covered[l], "line %d not covered by any chunk", l)
	}
}

func TestChunkGoDeclarations(t *testing.T) {
	// Given: a Go file with a mix of top-level declarations
	source := `package demo

import "fmt"

// Greeter greets people.
type Greeter struct {
	prefix string
}

// Greet returns a greeting.
func (g *Greeter) Greet(name string) string {
	return g.prefix + name
}

func NewGreeter(prefix string) *Greeter {
	fmt.Println("creating greeter")
	return &Greeter{prefix: prefix}
}
`
	c := NewCodeChunker()
	defer c.Close()

	// When: the file is chunked
	chunks := chunkGoFile(t, c, "demo/greeter.go", source)

	// Then: every line belongs to a chunk and symbols are attributed
	require.NotEmpty(t, chunks)
	assertFullCoverage(t, chunks, len(splitLines(source)))

	symbols := make(map[string]Kind)
	for _, ch := range chunks {
		if ch.Symbol != "" {
			symbols[ch.Symbol] = ch.Kind
		}
	}
	assert.Equal(t, KindMethod, symbols["Greet"])
	assert.Equal(t, KindFunction, symbols["NewGreeter"])
}

func TestChunkAttachesLeadingGapToFirstDeclaration(t *testing.T) {
	// Given: a file whose declarations are preceded by package and imports
	source := `package demo

import (
	"fmt"
	"strings"
)

func First() {
	fmt.Println(strings.ToUpper("hi"))
}
`
	c := NewCodeChunker()
	defer c.Close()

	chunks := chunkGoFile(t, c, "demo/first.go", source)

	// Then: the first chunk starts at line 1, carrying the header
	require.NotEmpty(t, chunks)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Contains(t, chunks[0].Content, "package demo")
}

func TestChunkMergesSmallPartitions(t *testing.T) {
	// Given: several one-line declarations, each below the minimum
	source := `package demo

const A = 1

const B = 2

const C = 3

func Real() {
	x := A + B + C
	_ = x
	y := 10
	_ = y
}
`
	c := NewCodeChunkerWithOptions(Options{MinLines: 5})
	defer c.Close()

	chunks := chunkGoFile(t, c, "demo/consts.go", source)

	// Then: the tiny partitions fold into their neighbors
	require.NotEmpty(t, chunks)
	assertFullCoverage(t, chunks, len(splitLines(source)))
	for _, ch := range chunks {
		assert.GreaterOrEqual(t, ch.Lines(), 5,
			"chunk %s spans fewer lines than the minimum", ch.ID)
	}
}

func TestChunkSplitsOversizedPartition(t *testing.T) {
	// Given: a single function far above the maximum partition size
	var b strings.Builder
	b.WriteString("package demo\n\nfunc Huge() {\n")
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&b, "\t_ = %d\n", i)
	}
	b.WriteString("}\n")
	source := b.String()

	c := NewCodeChunkerWithOptions(Options{MaxLines: 160, WindowLines: 120, OverlapLines: 16})
	defer c.Close()

	chunks := chunkGoFile(t, c, "demo/huge.go", source)

	// Then: it splits into overlapping windows that keep the symbol
	require.GreaterOrEqual(t, len(chunks), 2)
	assertFullCoverage(t, chunks, len(splitLines(source)))

	for i := 1; i < len(chunks); i++ {
		assert.LessOrEqual(t, chunks[i].StartLine, chunks[i-1].EndLine,
			"adjacent windows should overlap")
	}
	for _, ch := range chunks {
		assert.Equal(t, "Huge", ch.Symbol)
		assert.Equal(t, KindFunction, ch.Kind)
	}
}

func TestChunkUnknownLanguageFallsBackToWindows(t *testing.T) {
	// Given: content in a language without a grammar
	var b strings.Builder
	for i := 0; i < 300; i++ {
		fmt.Fprintf(&b, "line %d of plain text\n", i)
	}
	source := b.String()

	c := NewCodeChunker()
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:     "notes.txt",
		Content:  []byte(source),
		Language: "",
	})
	require.NoError(t, err)

	// Then: fixed overlapping windows cover the whole file
	require.GreaterOrEqual(t, len(chunks), 2)
	assertFullCoverage(t, chunks, len(splitLines(source)))
	for _, ch := range chunks {
		assert.Equal(t, KindWindow, ch.Kind)
		assert.Empty(t, ch.Symbol)
	}
}

func TestChunkEmptyFile(t *testing.T) {
	c := NewCodeChunker()
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:     "empty.go",
		Content:  nil,
		Language: "go",
	})
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = c.Chunk(context.Background(), &FileInput{
		Path:     "blank.txt",
		Content:  []byte("\n\n\n"),
		Language: "",
	})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkIDStability(t *testing.T) {
	// Same content at the same position in the same file keeps its ID
	a := generateChunkID("pkg/a.go", "func A() {}", 3, 3)
	b := generateChunkID("pkg/a.go", "func A() {}", 3, 3)
	assert.Equal(t, a, b)

	// Different content, file, or span changes it
	assert.NotEqual(t, a, generateChunkID("pkg/a.go", "func B() {}", 3, 3))
	assert.NotEqual(t, a, generateChunkID("pkg/b.go", "func A() {}", 3, 3))
	assert.NotEqual(t, a, generateChunkID("pkg/a.go", "func A() {}", 7, 7))
	assert.Len(t, a, 16)
}

func TestChunkRepeatedContentKeepsDistinctIDs(t *testing.T) {
	// Given a file of identical lines that falls back to fixed windows
	content := strings.Repeat("data data data\n", 400)
	c := NewCodeChunker()
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:    "fixtures/repeated.txt",
		Content: []byte(content),
	})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	// Then every window carries its own ID despite identical content
	ids := make(map[string]bool)
	for _, ch := range chunks {
		ids[ch.ID] = true
	}
	assert.Len(t, ids, len(chunks))
}

func TestChunkIdempotent(t *testing.T) {
	// Given: the same file chunked twice
	source := `package demo

func One() int { return 1 }

func Two() int { return 2 }

func Three() int { return 3 }
`
	c := NewCodeChunker()
	defer c.Close()

	first := chunkGoFile(t, c, "demo/nums.go", source)
	second := chunkGoFile(t, c, "demo/nums.go", source)

	// Then: spans and IDs are identical
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].StartLine, second[i].StartLine)
		assert.Equal(t, first[i].EndLine, second[i].EndLine)
	}
}

func TestChunkPython(t *testing.T) {
	source := `import os


def read_config(path):
    with open(path) as f:
        return f.read()


class Loader:
    def __init__(self, root):
        self.root = root

    def load(self, name):
        return read_config(os.path.join(self.root, name))
`
	c := NewCodeChunker()
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:     "loader.py",
		Content:  []byte(source),
		Language: "python",
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assertFullCoverage(t, chunks, len(splitLines(source)))

	symbols := make(map[string]Kind)
	for _, ch := range chunks {
		if ch.Symbol != "" {
			symbols[ch.Symbol] = ch.Kind
		}
	}
	assert.Contains(t, symbols, "Loader")
	assert.Equal(t, KindClass, symbols["Loader"])
}

func TestChunkConcurrentCallers(t *testing.T) {
	// Given one chunker shared by many goroutines, as during a full
	// repository build
	c := NewCodeChunker()
	defer c.Close()

	var source strings.Builder
	source.WriteString("package demo\n\n")
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&source, "func Handler%d(w int) int {\n\tx := w + %d\n\ty := x * 2\n\treturn y\n}\n\n", i, i)
	}
	content := []byte(source.String())

	// When 16 goroutines chunk files at the same time
	var wg sync.WaitGroup
	errs := make(chan error, 16*8)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				_, err := c.Chunk(context.Background(), &FileInput{
					Path:     fmt.Sprintf("worker%d/file%d.go", g, i),
					Content:  content,
					Language: "go",
				})
				if err != nil {
					errs <- err
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)

	// Then every call completes without error
	for err := range errs {
		require.NoError(t, err)
	}
}
