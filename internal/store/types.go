// Package store is the persistence layer: HNSW vector index plus SQLite
// chunk metadata. Each indexed repository owns one store directory.
package store

import (
	"context"
	"fmt"
	"time"

	"codescout/internal/chunk"
)

// State keys recorded in the metadata store. Reload validation compares
// them against the active embedder before trusting persisted vectors.
const (
	StateKeyEmbeddingModel      = "embedding_model"
	StateKeyEmbeddingDimensions = "embedding_dimensions"
)

// Artifact file names inside a repository's store directory.
const (
	VectorFileName   = "vectors.hnsw"
	MetadataFileName = "metadata.db"
)

// Repository is the persisted record of an indexed repository.
type Repository struct {
	ID             string // SHA256(absolute root path)[:16]
	RootPath       string // Absolute path
	EmbeddingModel string // Model the vectors were built with
	Dimensions     int
	ChunkCount     int
	FileCount      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID       string  // Chunk ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorIndexConfig configures the vector index.
type VectorIndexConfig struct {
	// Dimensions is the vector dimension.
	Dimensions int

	// Metric is the distance metric: "cos" (cosine) or "l2" (euclidean).
	Metric string

	// M is the HNSW max connections per layer.
	M int

	// EfSearch is the HNSW query-time search width.
	EfSearch int
}

// DefaultVectorIndexConfig returns sensible defaults for the vector index.
func DefaultVectorIndexConfig(dimensions int) VectorIndexConfig {
	return VectorIndexConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// VectorIndex provides approximate nearest neighbor search over chunk
// embeddings.
type VectorIndex interface {
	// Add inserts vectors with their IDs. An existing ID is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds the k nearest neighbors to the query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns all vector IDs in the index.
	AllIDs() []string

	// Contains reports whether the ID exists.
	Contains(id string) bool

	// Count returns the number of live vectors.
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// MetadataStore persists chunk metadata and the repository record.
type MetadataStore interface {
	// Repository record
	SaveRepository(ctx context.Context, repo *Repository) error
	GetRepository(ctx context.Context) (*Repository, error)
	UpdateRepositoryStats(ctx context.Context, fileCount, chunkCount int) error

	// Chunk operations
	SaveChunks(ctx context.Context, chunks []*chunk.Chunk) error
	GetChunk(ctx context.Context, id string) (*chunk.Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*chunk.Chunk, error)
	GetChunksByFile(ctx context.Context, filePath string) ([]*chunk.Chunk, error)
	GetChunkAtLine(ctx context.Context, filePath string, line int) (*chunk.Chunk, error)
	DeleteChunks(ctx context.Context, ids []string) error
	DeleteChunksByFile(ctx context.Context, filePath string) ([]string, error)
	ChunkCount(ctx context.Context) (int, error)
	FilePaths(ctx context.Context) ([]string, error)

	// State operations (key-value store for index state)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// ErrDimensionMismatch indicates a vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
