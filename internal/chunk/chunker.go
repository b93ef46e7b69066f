package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// partition is a contiguous line range produced by structural analysis.
type partition struct {
	startLine int // 1-indexed
	endLine   int // Inclusive
	kind      Kind
	symbol    string
}

func (p partition) lines() int { return p.endLine - p.startLine + 1 }

// CodeChunker partitions files at top-level declaration boundaries.
// Every line of the input ends up in at least one chunk; gap text between
// declarations is attached to the declaration that follows it.
type CodeChunker struct {
	parser   *Parser
	registry *LanguageRegistry
	opts     Options
}

// NewCodeChunker creates a chunker with default options.
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithOptions(Options{})
}

// NewCodeChunkerWithOptions creates a chunker with custom partition bounds.
func NewCodeChunkerWithOptions(opts Options) *CodeChunker {
	registry := DefaultRegistry()
	return &CodeChunker{
		parser:   NewParserWithRegistry(registry),
		registry: registry,
		opts:     opts.withDefaults(),
	}
}

// Close releases parser resources.
func (c *CodeChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// Chunk splits a file into chunks. It never fails on malformed input:
// unknown languages and unparsable files fall back to fixed overlapping
// line windows.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	lines := splitLines(string(file.Content))

	config, ok := c.registry.GetByName(file.Language)
	if !ok {
		return c.windowChunks(file, lines, 1, len(lines)), nil
	}

	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		return c.windowChunks(file, lines, 1, len(lines)), nil
	}

	parts := c.partitionTree(tree, config, len(lines))
	if len(parts) == 0 {
		return c.windowChunks(file, lines, 1, len(lines)), nil
	}

	parts = mergeSmall(parts, c.opts.MinLines)

	var chunks []*Chunk
	for _, p := range parts {
		if p.lines() > c.opts.MaxLines {
			chunks = append(chunks, c.splitPartition(file, lines, p)...)
			continue
		}
		chunks = append(chunks, c.makeChunk(file, lines, p))
	}

	return chunks, nil
}

// partitionTree builds line partitions from the top-level declarations.
// Each partition starts where the previous one ended, so gap text (blank
// lines, comments, directives) rides with the following declaration. Text
// after the last declaration extends the final partition.
func (c *CodeChunker) partitionTree(tree *Tree, config *LanguageConfig, totalLines int) []partition {
	var parts []partition
	prevEnd := 0

	for _, node := range tree.Root.Children {
		kind, ok := config.DeclarationKinds[node.Type]
		if !ok {
			continue
		}

		decl := unwrapDeclaration(node, config)
		if decl != node {
			if k, ok := config.DeclarationKinds[decl.Type]; ok {
				kind = k
			}
		}

		endLine := int(node.EndPoint.Row) + 1
		if endLine > totalLines {
			endLine = totalLines
		}
		if endLine <= prevEnd {
			continue
		}

		parts = append(parts, partition{
			startLine: prevEnd + 1,
			endLine:   endLine,
			kind:      kind,
			symbol:    symbolName(decl, tree.Source, tree.Language),
		})
		prevEnd = endLine
	}

	if len(parts) > 0 && prevEnd < totalLines {
		parts[len(parts)-1].endLine = totalLines
	}

	return parts
}

// unwrapDeclaration drills through wrapper nodes such as TypeScript export
// statements and Python decorated definitions to the declaration inside.
func unwrapDeclaration(node *Node, config *LanguageConfig) *Node {
	if node.Type != "export_statement" && node.Type != "decorated_definition" {
		return node
	}
	for _, child := range node.Children {
		if _, ok := config.DeclarationKinds[child.Type]; ok && child.Type != node.Type {
			return unwrapDeclaration(child, config)
		}
	}
	return node
}

// mergeSmall folds partitions below the minimum into their neighbor. A
// small partition joins the one after it; a small trailing partition joins
// the one before it.
func mergeSmall(parts []partition, minLines int) []partition {
	if len(parts) <= 1 {
		return parts
	}

	merged := make([]partition, 0, len(parts))
	var pending *partition

	for i := range parts {
		p := parts[i]
		if pending != nil {
			p.startLine = pending.startLine
			pending = nil
		}
		if p.lines() < minLines && i < len(parts)-1 {
			pending = &p
			continue
		}
		merged = append(merged, p)
	}

	if pending != nil {
		// Trailing small partition with nothing after it
		if len(merged) > 0 {
			merged[len(merged)-1].endLine = pending.endLine
		} else {
			merged = append(merged, *pending)
		}
	}

	if len(merged) > 1 {
		last := merged[len(merged)-1]
		if last.lines() < minLines {
			merged[len(merged)-2].endLine = last.endLine
			merged = merged[:len(merged)-1]
		}
	}

	return merged
}

// splitPartition cuts an oversized partition into overlapping windows,
// keeping the declaration's kind and symbol on every window.
func (c *CodeChunker) splitPartition(file *FileInput, lines []string, p partition) []*Chunk {
	step := c.opts.WindowLines - c.opts.OverlapLines
	if step < 1 {
		step = 1
	}

	var chunks []*Chunk
	for start := p.startLine; start <= p.endLine; start += step {
		end := start + c.opts.WindowLines - 1
		if end > p.endLine {
			end = p.endLine
		}

		chunks = append(chunks, c.makeChunk(file, lines, partition{
			startLine: start,
			endLine:   end,
			kind:      p.kind,
			symbol:    p.symbol,
		}))

		if end >= p.endLine {
			break
		}
	}
	return chunks
}

// windowChunks is the fallback for unknown languages and parse failures.
func (c *CodeChunker) windowChunks(file *FileInput, lines []string, startLine, endLine int) []*Chunk {
	if strings.TrimSpace(strings.Join(lines[startLine-1:endLine], "\n")) == "" {
		return nil
	}

	step := c.opts.WindowLines - c.opts.OverlapLines
	if step < 1 {
		step = 1
	}

	var chunks []*Chunk
	for start := startLine; start <= endLine; start += step {
		end := start + c.opts.WindowLines - 1
		if end > endLine {
			end = endLine
		}

		chunks = append(chunks, c.makeChunk(file, lines, partition{
			startLine: start,
			endLine:   end,
			kind:      KindWindow,
		}))

		if end >= endLine {
			break
		}
	}
	return chunks
}

func (c *CodeChunker) makeChunk(file *FileInput, lines []string, p partition) *Chunk {
	content := strings.Join(lines[p.startLine-1:p.endLine], "\n")
	return &Chunk{
		ID:        generateChunkID(file.Path, content, p.startLine, p.endLine),
		FilePath:  file.Path,
		Content:   content,
		Language:  file.Language,
		StartLine: p.startLine,
		EndLine:   p.endLine,
		Kind:      p.kind,
		Symbol:    p.symbol,
	}
}

// symbolName extracts the declared name from a declaration node.
func symbolName(n *Node, source []byte, language string) string {
	switch language {
	case "go":
		return goSymbolName(n, source)
	case "typescript", "tsx", "javascript", "jsx":
		return jsSymbolName(n, source)
	case "python":
		return firstChildContent(n, source, "identifier")
	}
	return firstChildContent(n, source, "identifier")
}

func goSymbolName(n *Node, source []byte) string {
	switch n.Type {
	case "function_declaration":
		return firstChildContent(n, source, "identifier")
	case "method_declaration":
		return firstChildContent(n, source, "field_identifier")
	case "type_declaration":
		if spec := n.FindChildByType("type_spec"); spec != nil {
			return firstChildContent(spec, source, "type_identifier")
		}
	case "const_declaration":
		if spec := n.FindChildByType("const_spec"); spec != nil {
			return firstChildContent(spec, source, "identifier")
		}
	case "var_declaration":
		if spec := n.FindChildByType("var_spec"); spec != nil {
			return firstChildContent(spec, source, "identifier")
		}
	}
	return ""
}

func jsSymbolName(n *Node, source []byte) string {
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
		if decl := n.FindChildByType("variable_declarator"); decl != nil {
			return firstChildContent(decl, source, "identifier")
		}
		return ""
	}
	for _, child := range n.Children {
		if child.Type == "identifier" || child.Type == "type_identifier" {
			return child.GetContent(source)
		}
	}
	return ""
}

func firstChildContent(n *Node, source []byte, nodeType string) string {
	if child := n.FindChildByType(nodeType); child != nil {
		return child.GetContent(source)
	}
	return ""
}

// splitLines splits content into lines without dropping a trailing newline
// into a phantom empty line.
func splitLines(content string) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// generateChunkID derives a chunk ID from the file path, the line span,
// and a hash of the content. The span keeps repeated content within one
// file distinct, so every chunk maps to its own index entry.
func generateChunkID(filePath, content string, startLine, endLine int) string {
	contentHash := sha256.Sum256([]byte(content))
	input := fmt.Sprintf("%s:%d-%d:%s", filePath, startLine, endLine,
		hex.EncodeToString(contentHash[:])[:16])
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}
