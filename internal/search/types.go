// Package search runs hybrid retrieval: a vector channel over the HNSW
// index and a lexical channel over the working tree, fused by weighted
// score combination.
package search

import (
	"codescout/internal/chunk"
)

// Default fusion parameters.
const (
	DefaultVectorWeight         = 0.5
	DefaultLexicalWeight        = 0.5
	DefaultAgreementBonus       = 0.1
	DefaultSingleChannelPenalty = 0.15
	DefaultMaxResults           = 10
)

// FusionConfig holds the weighted-combination parameters.
type FusionConfig struct {
	// VectorWeight scales the vector channel score.
	VectorWeight float64

	// LexicalWeight scales the lexical channel score.
	LexicalWeight float64

	// AgreementBonus is added when both channels surface a chunk.
	AgreementBonus float64

	// SingleChannelPenalty discounts chunks seen by only one channel.
	SingleChannelPenalty float64
}

// DefaultFusionConfig returns the standard fusion parameters.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		VectorWeight:         DefaultVectorWeight,
		LexicalWeight:        DefaultLexicalWeight,
		AgreementBonus:       DefaultAgreementBonus,
		SingleChannelPenalty: DefaultSingleChannelPenalty,
	}
}

// Result is a single fused search result.
type Result struct {
	Chunk *chunk.Chunk

	// Score is the fused relevance score.
	Score float64

	// VectorScore is the vector channel similarity (0 when absent).
	VectorScore float64

	// LexicalScore is the lexical channel score (0 when absent).
	LexicalScore float64

	// InBoth reports whether both channels surfaced the chunk.
	InBoth bool

	// MatchedLines are the 1-indexed lines the lexical channel hit
	// inside the chunk's span.
	MatchedLines []int
}

// candidate accumulates per-chunk channel evidence before fusion.
type candidate struct {
	chunkID      string
	chunk        *chunk.Chunk
	vectorScore  float64
	lexicalScore float64
	inVector     bool
	inLexical    bool
	matchedLines []int
}
