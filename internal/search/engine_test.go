package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codescout/internal/chunk"
	"codescout/internal/embed"
	"codescout/internal/lexical"
	"codescout/internal/store"
)

// stubSearcher returns canned lexical hits.
type stubSearcher struct {
	hits []lexical.Hit
}

func (s *stubSearcher) Search(_ context.Context, _, _ string) ([]lexical.Hit, error) {
	return s.hits, nil
}

type engineFixture struct {
	engine   *Engine
	embedder embed.Embedder
	vectors  *store.HNSWIndex
	meta     *store.SQLiteMetadataStore
	lexical  *stubSearcher
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	embedder := embed.NewStaticEmbedder()
	vectors, err := store.NewHNSWIndex(store.DefaultVectorIndexConfig(embedder.Dimensions()))
	require.NoError(t, err)
	meta, err := store.NewSQLiteMetadataStore("")
	require.NoError(t, err)
	lex := &stubSearcher{}

	t.Cleanup(func() {
		_ = vectors.Close()
		_ = meta.Close()
		_ = embedder.Close()
	})

	return &engineFixture{
		engine:   NewEngine(embedder, vectors, meta, lex, DefaultFusionConfig()),
		embedder: embedder,
		vectors:  vectors,
		meta:     meta,
		lexical:  lex,
	}
}

// index stores a chunk in both the metadata store and the vector index.
func (f *engineFixture) index(t *testing.T, c *chunk.Chunk) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.meta.SaveChunks(ctx, []*chunk.Chunk{c}))
	vec, err := f.embedder.Embed(ctx, c.Content)
	require.NoError(t, err)
	require.NoError(t, f.vectors.Add(ctx, []string{c.ID}, [][]float32{vec}))
}

func TestEngineQueryVectorOnly(t *testing.T) {
	// Given: indexed chunks and no lexical hits
	f := newEngineFixture(t)
	f.index(t, &chunk.Chunk{
		ID: "c1", FilePath: "auth.go", StartLine: 1, EndLine: 20,
		Content: "func ValidateToken(token string) error { verify jwt signature }",
	})
	f.index(t, &chunk.Chunk{
		ID: "c2", FilePath: "db.go", StartLine: 1, EndLine: 20,
		Content: "func OpenConnection(dsn string) (*sql.DB, error) { connect to postgres }",
	})

	// When: querying for token validation
	results, err := f.engine.Query(context.Background(), "/tmp", "validate jwt token signature", 5)
	require.NoError(t, err)

	// Then: the auth chunk ranks first, vector channel only
	require.NotEmpty(t, results)
	assert.Equal(t, "c1", results[0].Chunk.ID)
	assert.False(t, results[0].InBoth)
	assert.Greater(t, results[0].VectorScore, 0.0)
	assert.Zero(t, results[0].LexicalScore)
}

func TestEngineQueryFusesBothChannels(t *testing.T) {
	// Given: a chunk surfaced by both channels
	f := newEngineFixture(t)
	f.index(t, &chunk.Chunk{
		ID: "c1", FilePath: "auth.go", StartLine: 10, EndLine: 30,
		Content: "func ValidateToken(token string) error { verify jwt signature }",
	})
	f.lexical.hits = []lexical.Hit{
		{FilePath: "auth.go", Line: 15, Text: "verify jwt signature", Score: 0.75},
		{FilePath: "auth.go", Line: 22, Text: "token check", Score: 0.25},
	}

	results, err := f.engine.Query(context.Background(), "/tmp", "validate jwt token", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	top := results[0]
	assert.Equal(t, "c1", top.Chunk.ID)
	assert.True(t, top.InBoth)
	assert.Equal(t, 0.75, top.LexicalScore, "strongest line score wins")
	assert.Equal(t, []int{15, 22}, top.MatchedLines)

	// Fused score beats what either channel alone would produce
	assert.Greater(t, top.Score, 0.5*top.VectorScore*(1-0.15))
	assert.Greater(t, top.Score, 0.5*0.75*(1-0.15))
}

func TestEngineLexicalHitOutsideIndexDropped(t *testing.T) {
	// Given: a lexical hit in a file with no indexed chunks
	f := newEngineFixture(t)
	f.index(t, &chunk.Chunk{
		ID: "c1", FilePath: "a.go", StartLine: 1, EndLine: 10,
		Content: "func A() {}",
	})
	f.lexical.hits = []lexical.Hit{
		{FilePath: "new_file.go", Line: 3, Text: "anything", Score: 1.0},
	}

	results, err := f.engine.Query(context.Background(), "/tmp", "anything", 5)
	require.NoError(t, err)

	for _, r := range results {
		assert.NotEqual(t, "new_file.go", r.Chunk.FilePath)
	}
}

func TestEngineQueryEmptyIndex(t *testing.T) {
	f := newEngineFixture(t)

	results, err := f.engine.Query(context.Background(), "/tmp", "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngineQueryDeterministic(t *testing.T) {
	f := newEngineFixture(t)
	for _, c := range []*chunk.Chunk{
		{ID: "c1", FilePath: "a.go", StartLine: 1, EndLine: 10, Content: "parse configuration yaml file"},
		{ID: "c2", FilePath: "b.go", StartLine: 1, EndLine: 10, Content: "parse configuration json file"},
		{ID: "c3", FilePath: "c.go", StartLine: 1, EndLine: 10, Content: "open network socket listener"},
	} {
		f.index(t, c)
	}

	first, err := f.engine.Query(context.Background(), "/tmp", "parse configuration", 10)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := f.engine.Query(context.Background(), "/tmp", "parse configuration", 10)
		require.NoError(t, err)
		require.Len(t, again, len(first))
		for j := range first {
			assert.Equal(t, first[j].Chunk.ID, again[j].Chunk.ID)
			assert.Equal(t, first[j].Score, again[j].Score)
		}
	}
}
