package manager

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codescout/internal/config"
	"codescout/internal/errors"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.BaseDir = t.TempDir()
	cfg.Watch.DebounceWindow = 50 * time.Millisecond
	return cfg
}

func newTestManager(t *testing.T, cfg *config.Config) *Manager {
	t.Helper()
	m, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// writeRepo creates a small Go repository on disk.
func writeRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"auth.go": `package app

import "errors"

// Authenticate validates user credentials against the store.
func Authenticate(username, password string) error {
	if username == "" || password == "" {
		return errors.New("missing credentials")
	}
	return checkPassword(username, password)
}

func checkPassword(username, password string) error {
	return nil
}
`,
		"server.go": `package app

import "net/http"

// StartServer begins listening for requests.
func StartServer(addr string) error {
	return http.ListenAndServe(addr, nil)
}
`,
		"README.md": `# app

A demo application with authentication and an HTTP server.
`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestIndexAndQuery(t *testing.T) {
	// Given an indexed repository
	ctx := context.Background()
	m := newTestManager(t, testConfig(t))
	repoDir := writeRepo(t)

	record, err := m.Index(ctx, repoDir)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 3, record.FileCount)
	assert.Positive(t, record.ChunkCount)
	assert.Len(t, record.ID, 16)

	// When querying for authentication code
	results, err := m.Query(ctx, repoDir, "authenticate user credentials", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// Then the auth chunk ranks first
	assert.Equal(t, "auth.go", results[0].Chunk.FilePath)
	assert.Positive(t, results[0].Score)
}

func TestEnsureIndexedIsIdempotent(t *testing.T) {
	// Given a manager
	ctx := context.Background()
	m := newTestManager(t, testConfig(t))
	repoDir := writeRepo(t)

	// When ensuring the same repository twice
	first, err := m.EnsureIndexed(ctx, repoDir)
	require.NoError(t, err)
	second, err := m.EnsureIndexed(ctx, repoDir)
	require.NoError(t, err)

	// Then the same handle is returned
	assert.Same(t, first, second)
}

func TestQueryUnindexedRepository(t *testing.T) {
	// Given a repository that was never indexed
	ctx := context.Background()
	m := newTestManager(t, testConfig(t))
	repoDir := writeRepo(t)

	// When querying it
	_, err := m.Query(ctx, repoDir, "anything", 5)

	// Then the error kind is NotIndexed
	require.Error(t, err)
	assert.True(t, errors.IsNotIndexed(err))
}

func TestIndexMissingPath(t *testing.T) {
	// Given a path that does not exist
	ctx := context.Background()
	m := newTestManager(t, testConfig(t))

	// When indexing it
	_, err := m.Index(ctx, filepath.Join(t.TempDir(), "nope"))

	// Then the error kind is NotFound
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestIndexEmptyRepository(t *testing.T) {
	// Given a directory with no indexable files
	ctx := context.Background()
	m := newTestManager(t, testConfig(t))
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blob.bin"), []byte{0x00, 0x01, 0x02}, 0o644))

	// When indexing it
	_, err := m.Index(ctx, dir)

	// Then the error kind is EmptyRepository
	require.Error(t, err)
	assert.True(t, errors.IsEmptyRepository(err))
}

func TestPersistedIndexSurvivesRestart(t *testing.T) {
	// Given a repository indexed by one manager
	ctx := context.Background()
	cfg := testConfig(t)
	repoDir := writeRepo(t)

	m1, err := New(cfg)
	require.NoError(t, err)
	_, err = m1.Index(ctx, repoDir)
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	// When a fresh manager with the same storage queries it
	m2 := newTestManager(t, cfg)
	results, err := m2.Query(ctx, repoDir, "authenticate user credentials", 5)

	// Then the persisted index answers without a rebuild
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "auth.go", results[0].Chunk.FilePath)
}

func TestTransientModeWritesNothing(t *testing.T) {
	// Given a transient manager
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Storage.Transient = true
	m := newTestManager(t, cfg)
	repoDir := writeRepo(t)

	// When indexing and querying
	_, err := m.Index(ctx, repoDir)
	require.NoError(t, err)
	results, err := m.Query(ctx, repoDir, "authenticate user credentials", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	// Then the storage directory stays empty
	entries, err := os.ReadDir(cfg.Storage.BaseDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTransientIndexDoesNotSurviveRestart(t *testing.T) {
	// Given a transient manager that indexed a repository
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Storage.Transient = true
	repoDir := writeRepo(t)

	m1, err := New(cfg)
	require.NoError(t, err)
	_, err = m1.Index(ctx, repoDir)
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	// When a fresh manager queries the same repository
	m2 := newTestManager(t, cfg)
	_, err = m2.Query(ctx, repoDir, "anything", 5)

	// Then nothing was persisted
	require.Error(t, err)
	assert.True(t, errors.IsNotIndexed(err))
}

func TestListRepositories(t *testing.T) {
	// Given two indexed repositories
	ctx := context.Background()
	m := newTestManager(t, testConfig(t))
	repoA := writeRepo(t)
	repoB := writeRepo(t)

	_, err := m.Index(ctx, repoA)
	require.NoError(t, err)
	_, err = m.Index(ctx, repoB)
	require.NoError(t, err)

	// When listing
	repos, err := m.ListRepositories(ctx)
	require.NoError(t, err)

	// Then both appear with their root paths
	require.Len(t, repos, 2)
	roots := []string{repos[0].RootPath, repos[1].RootPath}
	absA, _ := filepath.Abs(repoA)
	absB, _ := filepath.Abs(repoB)
	assert.ElementsMatch(t, []string{absA, absB}, roots)
}

func TestListIncludesClosedIndexes(t *testing.T) {
	// Given an index created by an earlier manager instance
	ctx := context.Background()
	cfg := testConfig(t)
	repoDir := writeRepo(t)

	m1, err := New(cfg)
	require.NoError(t, err)
	_, err = m1.Index(ctx, repoDir)
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	// When a fresh manager lists repositories without opening any
	m2 := newTestManager(t, cfg)
	repos, err := m2.ListRepositories(ctx)

	// Then the on-disk index is reported
	require.NoError(t, err)
	require.Len(t, repos, 1)
	abs, _ := filepath.Abs(repoDir)
	assert.Equal(t, abs, repos[0].RootPath)
}

func TestRepoIDIsStable(t *testing.T) {
	// Given the same absolute path
	a := RepoID("/home/user/project")
	b := RepoID("/home/user/project")
	c := RepoID("/home/user/other")

	// Then the ID is deterministic and path-sensitive
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestQueryNeverSeesPartialUpdate(t *testing.T) {
	// Given an indexed repository with a two-chunk file that flips
	// between two variants
	ctx := context.Background()
	m := newTestManager(t, testConfig(t))
	repoDir := writeRepo(t)

	variant := func(marker string) string {
		return `package app

// CollectTelemetry` + marker + ` gathers telemetry pipeline samples.
func CollectTelemetry` + marker + `() error {
	samples := gather()
	_ = samples
	return nil
}

// FlushTelemetry` + marker + ` drains the telemetry pipeline buffer.
func FlushTelemetry` + marker + `() error {
	buf := drain()
	_ = buf
	return nil
}
`
	}

	workerPath := filepath.Join(repoDir, "worker.go")
	require.NoError(t, os.WriteFile(workerPath, []byte(variant("Alpha")), 0o644))

	repo, err := m.EnsureIndexed(ctx, repoDir)
	require.NoError(t, err)

	// When one goroutine keeps swapping the file between variants
	done := make(chan struct{})
	go func() {
		defer close(done)
		markers := []string{"Omega", "Alpha"}
		for i := 0; i < 30; i++ {
			marker := markers[i%2]
			if err := os.WriteFile(workerPath, []byte(variant(marker)), 0o644); err != nil {
				return
			}
			if err := repo.updateFile(ctx, "worker.go"); err != nil {
				return
			}
		}
	}()

	// Then concurrent queries only ever see one variant's chunks
	for {
		select {
		case <-done:
			return
		default:
		}

		results, err := repo.Query(ctx, "telemetry pipeline", 10)
		require.NoError(t, err)

		seen := make(map[string]bool)
		for _, res := range results {
			if res.Chunk.FilePath != "worker.go" {
				continue
			}
			if strings.Contains(res.Chunk.Content, "Alpha") {
				seen["Alpha"] = true
			}
			if strings.Contains(res.Chunk.Content, "Omega") {
				seen["Omega"] = true
			}
		}
		require.LessOrEqual(t, len(seen), 1, "query observed chunks from both variants")
	}
}
