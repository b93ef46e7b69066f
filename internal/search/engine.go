package search

import (
	"context"
	"fmt"
	"log/slog"

	"codescout/internal/embed"
	"codescout/internal/lexical"
	"codescout/internal/store"
)

// vectorCandidateFactor over-fetches vector hits relative to the result
// limit so fusion has enough candidates to reorder.
const vectorCandidateFactor = 3

// Engine runs one hybrid query end to end against a single repository's
// stores. It holds no mutable state; the owning repository handle
// serializes index mutations around it.
type Engine struct {
	embedder embed.Embedder
	vectors  store.VectorIndex
	meta     store.MetadataStore
	lexical  lexical.Searcher
	fusion   *Fusion
}

// NewEngine wires a query engine over a repository's stores.
func NewEngine(embedder embed.Embedder, vectors store.VectorIndex, meta store.MetadataStore, lex lexical.Searcher, cfg FusionConfig) *Engine {
	return &Engine{
		embedder: embedder,
		vectors:  vectors,
		meta:     meta,
		lexical:  lex,
		fusion:   NewFusion(cfg),
	}
}

// Query embeds the query, runs both channels, and fuses the results.
// rootPath is the repository working tree the lexical channel scans.
func (e *Engine) Query(ctx context.Context, rootPath, query string, limit int) ([]*Result, error) {
	if limit <= 0 {
		limit = DefaultMaxResults
	}

	candidates := make(map[string]*candidate)

	if err := e.runVectorChannel(ctx, query, limit, candidates); err != nil {
		return nil, err
	}
	if err := e.runLexicalChannel(ctx, rootPath, query, candidates); err != nil {
		return nil, err
	}

	if err := e.resolveChunks(ctx, candidates); err != nil {
		return nil, err
	}

	return e.fusion.fuse(candidates, limit), nil
}

// runVectorChannel searches the HNSW index for nearest chunks.
func (e *Engine) runVectorChannel(ctx context.Context, query string, limit int, candidates map[string]*candidate) error {
	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("embed query: %w", err)
	}

	hits, err := e.vectors.Search(ctx, queryVec, limit*vectorCandidateFactor)
	if err != nil {
		return fmt.Errorf("vector search: %w", err)
	}

	for _, hit := range hits {
		candidates[hit.ID] = &candidate{
			chunkID:     hit.ID,
			vectorScore: float64(hit.Score),
			inVector:    true,
		}
	}

	return nil
}

// runLexicalChannel scans the working tree and attributes each matching
// line to the chunk covering it. Lines outside any indexed chunk (files
// changed since the last index pass) are dropped.
func (e *Engine) runLexicalChannel(ctx context.Context, rootPath, query string, candidates map[string]*candidate) error {
	hits, err := e.lexical.Search(ctx, rootPath, query)
	if err != nil {
		return fmt.Errorf("lexical search: %w", err)
	}

	for _, hit := range hits {
		c, err := e.meta.GetChunkAtLine(ctx, hit.FilePath, hit.Line)
		if err != nil {
			return fmt.Errorf("attribute lexical hit: %w", err)
		}
		if c == nil {
			slog.Debug("lexical hit outside indexed chunks",
				slog.String("file", hit.FilePath),
				slog.Int("line", hit.Line))
			continue
		}

		cand, ok := candidates[c.ID]
		if !ok {
			cand = &candidate{chunkID: c.ID, chunk: c}
			candidates[c.ID] = cand
		}
		if cand.chunk == nil {
			cand.chunk = c
		}

		cand.inLexical = true
		// Multiple hits in one chunk keep the strongest line score
		if hit.Score > cand.lexicalScore {
			cand.lexicalScore = hit.Score
		}
		cand.matchedLines = append(cand.matchedLines, hit.Line)
	}

	return nil
}

// resolveChunks loads chunk metadata for vector-only candidates. A vector
// hit whose chunk record is gone (deleted between index and query) is
// silently dropped.
func (e *Engine) resolveChunks(ctx context.Context, candidates map[string]*candidate) error {
	var missing []string
	for id, c := range candidates {
		if c.chunk == nil {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	chunks, err := e.meta.GetChunks(ctx, missing)
	if err != nil {
		return fmt.Errorf("load chunk metadata: %w", err)
	}

	for _, c := range chunks {
		if cand, ok := candidates[c.ID]; ok {
			cand.chunk = c
		}
	}

	return nil
}
