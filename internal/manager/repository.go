package manager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"codescout/internal/chunk"
	"codescout/internal/embed"
	"codescout/internal/errors"
	"codescout/internal/scanner"
	"codescout/internal/search"
	"codescout/internal/store"
)

// lockFileName is the advisory lock guarding a repository's storage
// directory against concurrent processes.
const lockFileName = ".lock"

// Repository is an open handle to one indexed repository. All index
// mutations and queries go through it; the RWMutex keeps queries
// consistent while a file update is in flight.
type Repository struct {
	ID       string
	RootPath string

	dir       string
	transient bool

	mu       sync.RWMutex
	vectors  *store.HNSWIndex
	meta     store.MetadataStore
	embedder embed.Embedder
	engine   *search.Engine
	chunker  chunk.Chunker
	lock     *flock.Flock
}

// Query runs a hybrid search against the repository index.
func (r *Repository) Query(ctx context.Context, query string, limit int) ([]*search.Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results, err := r.engine.Query(ctx, r.RootPath, query, limit)
	if err != nil {
		return nil, errors.Internalf(err, "query repository %s", r.ID)
	}
	return results, nil
}

// Stats returns the repository's metadata record.
func (r *Repository) Stats(ctx context.Context) (*store.Repository, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.meta.GetRepository(ctx)
}

// updateFile replaces a single file's chunks after a create or modify
// event. Old chunks leave both stores before the new ones land, under one
// write lock, so a concurrent query never sees a mix.
func (r *Repository) updateFile(ctx context.Context, relPath string) error {
	absPath := filepath.Join(r.RootPath, relPath)

	info, err := os.Lstat(absPath)
	if err != nil {
		// Gone again already; the delete event will follow
		return nil
	}
	if info.Mode()&os.ModeSymlink != 0 || info.IsDir() {
		return nil
	}
	if info.Size() > scanner.DefaultMaxFileSize {
		slog.Debug("skipping oversized file", slog.String("path", relPath))
		return nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", relPath, err)
	}
	if scanner.IsBinaryContent(content) {
		return nil
	}

	chunks, err := r.chunker.Chunk(ctx, &chunk.FileInput{
		Path:     relPath,
		Content:  content,
		Language: scanner.DetectLanguage(relPath),
	})
	if err != nil {
		return fmt.Errorf("chunk %s: %w", relPath, err)
	}

	var vectors [][]float32
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			texts[i] = ch.Content
		}
		vectors, err = r.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed %s: %w", relPath, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed, err := r.meta.DeleteChunksByFile(ctx, relPath)
	if err != nil {
		return fmt.Errorf("delete old chunks for %s: %w", relPath, err)
	}
	if len(removed) > 0 {
		if err := r.vectors.Delete(ctx, removed); err != nil {
			return fmt.Errorf("delete old vectors for %s: %w", relPath, err)
		}
	}

	if len(chunks) == 0 {
		return nil
	}

	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
	}
	if err := r.vectors.Add(ctx, ids, vectors); err != nil {
		return fmt.Errorf("add vectors for %s: %w", relPath, err)
	}
	if err := r.meta.SaveChunks(ctx, chunks); err != nil {
		return fmt.Errorf("save chunks for %s: %w", relPath, err)
	}
	return nil
}

// removeFile drops a file's chunks from both stores.
func (r *Repository) removeFile(ctx context.Context, relPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed, err := r.meta.DeleteChunksByFile(ctx, relPath)
	if err != nil {
		return fmt.Errorf("delete chunks for %s: %w", relPath, err)
	}
	if len(removed) == 0 {
		return nil
	}
	if err := r.vectors.Delete(ctx, removed); err != nil {
		return fmt.Errorf("delete vectors for %s: %w", relPath, err)
	}
	return nil
}

// refreshStats recomputes the repository's counters from the metadata
// store after incremental updates.
func (r *Repository) refreshStats(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	paths, err := r.meta.FilePaths(ctx)
	if err != nil {
		return err
	}
	count, err := r.meta.ChunkCount(ctx)
	if err != nil {
		return err
	}
	return r.meta.UpdateRepositoryStats(ctx, len(paths), count)
}

// persist writes the vector index to disk. The metadata store persists
// itself through SQLite; only the HNSW graph needs an explicit save.
func (r *Repository) persist() error {
	if r.transient {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	path := filepath.Join(r.dir, store.VectorFileName)
	if err := r.vectors.Save(path); err != nil {
		return fmt.Errorf("save vector index: %w", err)
	}
	return nil
}

// close releases the handle's resources and the directory lock.
func (r *Repository) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	if err := r.vectors.Close(); err != nil {
		firstErr = err
	}
	if err := r.meta.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if r.lock != nil {
		if err := r.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// openRepository opens an existing on-disk index, validating that it was
// built with the active embedding configuration. Returns (nil, nil) when
// no usable index exists and a rebuild is needed.
func (m *Manager) openRepository(ctx context.Context, id, rootPath, dir string) (*Repository, error) {
	vectorPath := filepath.Join(dir, store.VectorFileName)
	dims, err := store.ReadIndexDimensions(vectorPath)
	if err != nil || dims == 0 {
		return nil, nil
	}
	if dims != m.embedder.Dimensions() {
		slog.Info("index dimensions changed, rebuilding",
			slog.String("repo", id),
			slog.Int("indexed", dims),
			slog.Int("active", m.embedder.Dimensions()))
		return nil, nil
	}

	meta, err := store.NewSQLiteMetadataStore(filepath.Join(dir, store.MetadataFileName))
	if err != nil {
		return nil, errors.Internal("open metadata store", err)
	}

	model, err := meta.GetState(ctx, store.StateKeyEmbeddingModel)
	if err != nil {
		_ = meta.Close()
		return nil, errors.Internal("read index state", err)
	}
	if model != m.embedder.ModelName() {
		slog.Info("embedding model changed, rebuilding",
			slog.String("repo", id),
			slog.String("indexed", model),
			slog.String("active", m.embedder.ModelName()))
		_ = meta.Close()
		return nil, nil
	}

	repo, err := meta.GetRepository(ctx)
	if err != nil || repo == nil {
		_ = meta.Close()
		return nil, nil
	}

	vectors, err := store.NewHNSWIndex(store.DefaultVectorIndexConfig(dims))
	if err != nil {
		_ = meta.Close()
		return nil, errors.Internal("create vector index", err)
	}
	if err := vectors.Load(vectorPath); err != nil {
		slog.Warn("vector index unreadable, rebuilding",
			slog.String("repo", id),
			slog.String("error", err.Error()))
		_ = meta.Close()
		_ = vectors.Close()
		return nil, nil
	}

	return m.newHandle(id, rootPath, dir, vectors, meta), nil
}

// newHandle assembles a Repository around open stores.
func (m *Manager) newHandle(id, rootPath, dir string, vectors *store.HNSWIndex, meta store.MetadataStore) *Repository {
	return &Repository{
		ID:        id,
		RootPath:  rootPath,
		dir:       dir,
		transient: m.cfg.Storage.Transient,
		vectors:   vectors,
		meta:      meta,
		embedder:  m.embedder,
		engine:    search.NewEngine(m.embedder, vectors, meta, m.lexical, m.fusionConfig()),
		chunker:   m.chunker,
	}
}

// buildRepository scans, chunks, embeds, and stores a full index.
func (m *Manager) buildRepository(ctx context.Context, id, rootPath, dir string) (*Repository, error) {
	start := time.Now()

	metaPath := ""
	if !m.cfg.Storage.Transient {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Internal("create storage directory", err)
		}
		metaPath = filepath.Join(dir, store.MetadataFileName)
		// Drop any stale artifacts from a previous build
		_ = os.Remove(filepath.Join(dir, store.VectorFileName))
		_ = os.Remove(filepath.Join(dir, store.VectorFileName+".meta"))
		_ = os.Remove(metaPath)
	}

	meta, err := store.NewSQLiteMetadataStore(metaPath)
	if err != nil {
		return nil, errors.Internal("create metadata store", err)
	}

	vectors, err := store.NewHNSWIndex(store.DefaultVectorIndexConfig(m.embedder.Dimensions()))
	if err != nil {
		_ = meta.Close()
		return nil, errors.Internal("create vector index", err)
	}

	cleanup := func() {
		_ = vectors.Close()
		_ = meta.Close()
	}

	chunks, fileCount, err := m.chunkRepository(ctx, rootPath)
	if err != nil {
		cleanup()
		return nil, err
	}
	if len(chunks) == 0 {
		cleanup()
		return nil, errors.EmptyRepository(rootPath)
	}

	if err := m.embedAndStore(ctx, chunks, vectors, meta); err != nil {
		cleanup()
		return nil, err
	}

	now := time.Now()
	record := &store.Repository{
		ID:             id,
		RootPath:       rootPath,
		EmbeddingModel: m.embedder.ModelName(),
		Dimensions:     m.embedder.Dimensions(),
		ChunkCount:     len(chunks),
		FileCount:      fileCount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := meta.SaveRepository(ctx, record); err != nil {
		cleanup()
		return nil, errors.Internal("save repository record", err)
	}
	if err := meta.SetState(ctx, store.StateKeyEmbeddingModel, m.embedder.ModelName()); err != nil {
		cleanup()
		return nil, errors.Internal("save index state", err)
	}
	if err := meta.SetState(ctx, store.StateKeyEmbeddingDimensions, strconv.Itoa(m.embedder.Dimensions())); err != nil {
		cleanup()
		return nil, errors.Internal("save index state", err)
	}

	repo := m.newHandle(id, rootPath, dir, vectors, meta)
	if err := repo.persist(); err != nil {
		cleanup()
		return nil, errors.Internal("persist index", err)
	}

	slog.Info("repository indexed",
		slog.String("repo", id),
		slog.String("path", rootPath),
		slog.Int("files", fileCount),
		slog.Int("chunks", len(chunks)),
		slog.Duration("elapsed", time.Since(start)))

	return repo, nil
}

// chunkRepository scans the working tree and chunks every discovered file
// with a bounded worker pool. Chunks come back ordered by file path so
// rebuilds are deterministic.
func (m *Manager) chunkRepository(ctx context.Context, rootPath string) ([]*chunk.Chunk, int, error) {
	results, err := m.scanner.Scan(ctx, &scanner.ScanOptions{RootDir: rootPath})
	if err != nil {
		return nil, 0, errors.Internal("scan repository", err)
	}

	var (
		mu      sync.Mutex
		byFile  = make(map[string][]*chunk.Chunk)
		skipped int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for result := range results {
		if result.Error != nil {
			return nil, 0, errors.Internal("scan repository", result.Error)
		}
		file := result.File

		g.Go(func() error {
			content, err := os.ReadFile(file.AbsPath)
			if err != nil {
				slog.Warn("skipping unreadable file",
					slog.String("path", file.Path),
					slog.String("error", err.Error()))
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}

			chunks, err := m.chunker.Chunk(gctx, &chunk.FileInput{
				Path:     file.Path,
				Content:  content,
				Language: file.Language,
			})
			if err != nil {
				return fmt.Errorf("chunk %s: %w", file.Path, err)
			}

			mu.Lock()
			byFile[file.Path] = chunks
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, errors.Internal("chunk repository", err)
	}

	paths := make([]string, 0, len(byFile))
	for path := range byFile {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var chunks []*chunk.Chunk
	fileCount := 0
	for _, path := range paths {
		if len(byFile[path]) == 0 {
			continue
		}
		chunks = append(chunks, byFile[path]...)
		fileCount++
	}
	return chunks, fileCount, nil
}

// embedAndStore embeds chunks in batches and writes both stores.
func (m *Manager) embedAndStore(ctx context.Context, chunks []*chunk.Chunk, vectors *store.HNSWIndex, meta store.MetadataStore) error {
	batchSize := m.cfg.Embeddings.BatchSize
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		ids := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Content
			ids[i] = ch.ID
		}

		embeddings, err := m.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return errors.Internal("embed chunks", err)
		}
		if err := vectors.Add(ctx, ids, embeddings); err != nil {
			return errors.Internal("store vectors", err)
		}
		if err := meta.SaveChunks(ctx, batch); err != nil {
			return errors.Internal("store chunk metadata", err)
		}
	}
	return nil
}
