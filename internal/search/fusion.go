package search

import (
	"sort"
)

// Fusion combines the two channels with a weighted sum.
//
// A chunk surfaced by both channels scores
//
//	vectorWeight*v + lexicalWeight*l + agreementBonus
//
// while a chunk seen by only one channel scores
//
//	weight * score * (1 - singleChannelPenalty)
//
// Ties break toward the larger covered span, then file path order, then
// chunk ID, so identical inputs always produce identical rankings.
type Fusion struct {
	cfg FusionConfig
}

// NewFusion creates a fusion stage. Zero-valued config fields fall back to
// the defaults.
func NewFusion(cfg FusionConfig) *Fusion {
	if cfg.VectorWeight == 0 && cfg.LexicalWeight == 0 {
		cfg.VectorWeight = DefaultVectorWeight
		cfg.LexicalWeight = DefaultLexicalWeight
	}
	return &Fusion{cfg: cfg}
}

// fuse scores and orders candidates, truncating to limit.
func (f *Fusion) fuse(candidates map[string]*candidate, limit int) []*Result {
	if len(candidates) == 0 {
		return []*Result{}
	}

	results := make([]*Result, 0, len(candidates))
	for _, c := range candidates {
		if c.chunk == nil {
			continue
		}

		var score float64
		switch {
		case c.inVector && c.inLexical:
			score = f.cfg.VectorWeight*c.vectorScore +
				f.cfg.LexicalWeight*c.lexicalScore +
				f.cfg.AgreementBonus
		case c.inVector:
			score = f.cfg.VectorWeight * c.vectorScore * (1 - f.cfg.SingleChannelPenalty)
		default:
			score = f.cfg.LexicalWeight * c.lexicalScore * (1 - f.cfg.SingleChannelPenalty)
		}

		sort.Ints(c.matchedLines)

		results = append(results, &Result{
			Chunk:        c.chunk,
			Score:        score,
			VectorScore:  c.vectorScore,
			LexicalScore: c.lexicalScore,
			InBoth:       c.inVector && c.inLexical,
			MatchedLines: c.matchedLines,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		aSpan := a.Chunk.EndLine - a.Chunk.StartLine
		bSpan := b.Chunk.EndLine - b.Chunk.StartLine
		if aSpan != bSpan {
			return aSpan > bSpan
		}
		if a.Chunk.FilePath != b.Chunk.FilePath {
			return a.Chunk.FilePath < b.Chunk.FilePath
		}
		return a.Chunk.ID < b.Chunk.ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results
}
