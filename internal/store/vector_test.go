package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, dims int) *HNSWIndex {
	t.Helper()
	idx, err := NewHNSWIndex(DefaultVectorIndexConfig(dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestHNSWAddAndSearch(t *testing.T) {
	// Given: three distinct vectors
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	err := idx.Add(ctx,
		[]string{"a", "b", "c"},
		[][]float32{
			{1, 0, 0, 0},
			{0, 1, 0, 0},
			{0, 0, 1, 0},
		})
	require.NoError(t, err)

	// When: searching near the first vector
	results, err := idx.Search(ctx, []float32{0.9, 0.1, 0, 0}, 2)
	require.NoError(t, err)

	// Then: the closest hit is first with the highest score
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].ID)
	assert.Greater(t, results[0].Score, float32(0.9))
	assert.Equal(t, 3, idx.Count())
}

func TestHNSWDimensionMismatch(t *testing.T) {
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	err := idx.Add(ctx, []string{"a"}, [][]float32{{1, 0}})
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	_, err = idx.Search(ctx, []float32{1, 0}, 1)
	require.ErrorAs(t, err, &dimErr)
}

func TestHNSWDeleteExcludesFromResults(t *testing.T) {
	// Given: two vectors, one deleted
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx,
		[]string{"keep", "drop"},
		[][]float32{{1, 0, 0, 0}, {0.9, 0.1, 0, 0}}))
	require.NoError(t, idx.Delete(ctx, []string{"drop"}))

	// When: searching near the deleted vector
	results, err := idx.Search(ctx, []float32{0.9, 0.1, 0, 0}, 5)
	require.NoError(t, err)

	// Then: the deleted ID never appears
	for _, r := range results {
		assert.NotEqual(t, "drop", r.ID)
	}
	assert.False(t, idx.Contains("drop"))
	assert.True(t, idx.Contains("keep"))
	assert.Equal(t, 1, idx.Count())
}

func TestHNSWUpdateReplacesVector(t *testing.T) {
	// Given: a vector re-added under the same ID with new data
	idx := newTestIndex(t, 4)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []string{"x"}, [][]float32{{1, 0, 0, 0}}))
	require.NoError(t, idx.Add(ctx, []string{"x"}, [][]float32{{0, 0, 0, 1}}))

	// Then: only the new position is found
	results, err := idx.Search(ctx, []float32{0, 0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "x", results[0].ID)
	assert.Greater(t, results[0].Score, float32(0.99))
	assert.Equal(t, 1, idx.Count())
}

func TestHNSWEmptySearch(t *testing.T) {
	idx := newTestIndex(t, 4)

	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWSaveLoadRoundtrip(t *testing.T) {
	// Given: a populated index saved to disk
	dir := t.TempDir()
	path := filepath.Join(dir, VectorFileName)
	ctx := context.Background()

	idx := newTestIndex(t, 4)
	require.NoError(t, idx.Add(ctx,
		[]string{"a", "b"},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}))
	require.NoError(t, idx.Delete(ctx, []string{"b"}))
	require.NoError(t, idx.Save(path))

	// When: loading into a fresh index
	loaded, err := NewHNSWIndex(DefaultVectorIndexConfig(4))
	require.NoError(t, err)
	defer func() { _ = loaded.Close() }()
	require.NoError(t, loaded.Load(path))

	// Then: live entries survive, deleted ones stay gone
	assert.Equal(t, 1, loaded.Count())
	assert.True(t, loaded.Contains("a"))
	assert.False(t, loaded.Contains("b"))

	results, err := loaded.Search(ctx, []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)

	// And: the persisted dimensions are readable without a full load
	dims, err := ReadIndexDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 4, dims)
}

func TestReadIndexDimensionsMissingFile(t *testing.T) {
	dims, err := ReadIndexDimensions(filepath.Join(t.TempDir(), "absent.hnsw"))
	require.NoError(t, err)
	assert.Zero(t, dims)
}
