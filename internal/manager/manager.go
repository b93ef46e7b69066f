// Package manager owns repository lifecycles: indexing, querying,
// watching, and persistence. It is the single entry point the CLI talks
// to.
package manager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"

	"codescout/internal/chunk"
	"codescout/internal/config"
	"codescout/internal/embed"
	"codescout/internal/errors"
	"codescout/internal/lexical"
	"codescout/internal/scanner"
	"codescout/internal/search"
	"codescout/internal/store"
)

// Manager coordinates all open repositories. Its mutex guards only the
// maps; long-running work happens against per-repository handles so one
// repository's build never blocks another's query.
type Manager struct {
	cfg      *config.Config
	scanner  *scanner.Scanner
	chunker  chunk.Chunker
	embedder embed.Embedder
	lexical  lexical.Searcher

	mu       sync.Mutex
	repos    map[string]*Repository
	sessions map[string]*watchSession
}

// New creates a manager from the given configuration.
func New(cfg *config.Config) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	sc, err := scanner.New()
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	embedder, err := embed.New(embed.Config{
		Provider:   cfg.Embeddings.Provider,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		BaseURL:    cfg.Embeddings.OpenAIBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	return &Manager{
		cfg:     cfg,
		scanner: sc,
		chunker: chunk.NewCodeChunkerWithOptions(chunk.Options{
			MinLines:     cfg.Chunking.MinLines,
			MaxLines:     cfg.Chunking.MaxLines,
			WindowLines:  cfg.Chunking.WindowLines,
			OverlapLines: cfg.Chunking.OverlapLines,
		}),
		embedder: embedder,
		lexical:  lexical.NewRipgrep(lexicalOptions(cfg)...),
		repos:    make(map[string]*Repository),
		sessions: make(map[string]*watchSession),
	}, nil
}

// RepoID derives the stable repository identifier from its absolute root
// path.
func RepoID(absPath string) string {
	sum := sha256.Sum256([]byte(absPath))
	return hex.EncodeToString(sum[:])[:16]
}

func lexicalOptions(cfg *config.Config) []lexical.Option {
	var opts []lexical.Option
	if cfg.Search.LexicalTimeout > 0 {
		opts = append(opts, lexical.WithTimeout(cfg.Search.LexicalTimeout))
	}
	return opts
}

func (m *Manager) fusionConfig() search.FusionConfig {
	return search.FusionConfig{
		VectorWeight:         m.cfg.Search.VectorWeight,
		LexicalWeight:        m.cfg.Search.LexicalWeight,
		AgreementBonus:       m.cfg.Search.AgreementBonus,
		SingleChannelPenalty: m.cfg.Search.SingleChannelPenalty,
	}
}

// resolveRoot validates the repository path and returns its absolute form
// with the derived ID.
func resolveRoot(path string) (absPath, id string, err error) {
	absPath, err = filepath.Abs(path)
	if err != nil {
		return "", "", errors.NotFound(path)
	}
	info, statErr := os.Stat(absPath)
	if statErr != nil || !info.IsDir() {
		return "", "", errors.NotFound(path)
	}
	return absPath, RepoID(absPath), nil
}

// storageDir returns the per-repository artifact directory.
func (m *Manager) storageDir(id string) string {
	return filepath.Join(m.cfg.Storage.BaseDir, id)
}

// EnsureIndexed returns an open handle for the repository, reusing a live
// handle, reopening a valid persisted index, or building from scratch.
func (m *Manager) EnsureIndexed(ctx context.Context, path string) (*Repository, error) {
	absPath, id, err := resolveRoot(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if repo, ok := m.repos[id]; ok {
		m.mu.Unlock()
		return repo, nil
	}
	m.mu.Unlock()

	repo, err := m.openOrBuild(ctx, id, absPath, false)
	if err != nil {
		return nil, err
	}
	return m.adopt(id, repo), nil
}

// IndexOptions controls what happens after a repository build completes.
type IndexOptions struct {
	// StartWatching starts a watch session on the freshly built index so
	// file changes keep it current.
	StartWatching bool
}

// DefaultIndexOptions returns the options Index applies when none are
// given: watching starts alongside the build.
func DefaultIndexOptions() IndexOptions {
	return IndexOptions{StartWatching: true}
}

// Index builds or rebuilds the repository index from scratch with the
// default options.
func (m *Manager) Index(ctx context.Context, path string) (*store.Repository, error) {
	return m.IndexWithOptions(ctx, path, DefaultIndexOptions())
}

// IndexWithOptions builds or rebuilds the repository index from scratch,
// replacing any existing handle. A live watch session for the repository
// is stopped before the swap and rebound to the new handle afterward, so
// events never keep flowing into a closed index.
func (m *Manager) IndexWithOptions(ctx context.Context, path string, opts IndexOptions) (*store.Repository, error) {
	absPath, id, err := resolveRoot(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	session, watched := m.sessions[id]
	delete(m.sessions, id)
	old := m.repos[id]
	delete(m.repos, id)
	m.mu.Unlock()

	if watched {
		m.stopSession(session)
	}
	if old != nil {
		_ = old.close()
	}

	repo, err := m.openOrBuild(ctx, id, absPath, true)
	if err != nil {
		return nil, err
	}
	repo = m.adopt(id, repo)

	if watched || opts.StartWatching {
		if err := m.StartWatch(ctx, absPath); err != nil {
			return nil, err
		}
	}
	return repo.Stats(ctx)
}

// openOrBuild acquires the directory lock and either reopens the
// persisted index or rebuilds it. force skips the reopen attempt.
func (m *Manager) openOrBuild(ctx context.Context, id, absPath string, force bool) (*Repository, error) {
	var dirLock *flock.Flock
	dir := m.storageDir(id)

	if !m.cfg.Storage.Transient {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Internal("create storage directory", err)
		}
		dirLock = flock.New(filepath.Join(dir, lockFileName))
		locked, err := dirLock.TryLock()
		if err != nil {
			return nil, errors.Internal("acquire repository lock", err)
		}
		if !locked {
			return nil, errors.Internal(
				fmt.Sprintf("repository %s is locked by another process", id), nil)
		}
	}

	release := func() {
		if dirLock != nil {
			_ = dirLock.Unlock()
		}
	}

	if !force && !m.cfg.Storage.Transient {
		repo, err := m.openRepository(ctx, id, absPath, dir)
		if err != nil {
			release()
			return nil, err
		}
		if repo != nil {
			repo.lock = dirLock
			return repo, nil
		}
	}

	repo, err := m.buildRepository(ctx, id, absPath, dir)
	if err != nil {
		release()
		return nil, err
	}
	repo.lock = dirLock
	return repo, nil
}

// adopt registers a freshly opened handle, deferring to a handle another
// goroutine registered first.
func (m *Manager) adopt(id string, repo *Repository) *Repository {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.repos[id]; ok {
		go func() { _ = repo.close() }()
		return existing
	}
	m.repos[id] = repo
	return repo
}

// Query searches an already-indexed repository. It reopens a persisted
// index but never triggers a build; an unindexed repository is an error.
func (m *Manager) Query(ctx context.Context, path, query string, limit int) ([]*search.Result, error) {
	absPath, id, err := resolveRoot(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	repo, ok := m.repos[id]
	m.mu.Unlock()

	if !ok {
		if m.cfg.Storage.Transient {
			return nil, errors.NotIndexed(id)
		}
		opened, err := m.openOrBuildForQuery(ctx, id, absPath)
		if err != nil {
			return nil, err
		}
		repo = m.adopt(id, opened)
	}

	return repo.Query(ctx, query, limit)
}

// openOrBuildForQuery reopens a persisted index for querying. A missing
// or invalid index is NotIndexed rather than a rebuild trigger.
func (m *Manager) openOrBuildForQuery(ctx context.Context, id, absPath string) (*Repository, error) {
	dir := m.storageDir(id)

	dirLock := flock.New(filepath.Join(dir, lockFileName))
	if _, err := os.Stat(dir); err != nil {
		return nil, errors.NotIndexed(id)
	}
	locked, err := dirLock.TryLock()
	if err != nil || !locked {
		return nil, errors.Internal(
			fmt.Sprintf("repository %s is locked by another process", id), err)
	}

	repo, err := m.openRepository(ctx, id, absPath, dir)
	if err != nil {
		_ = dirLock.Unlock()
		return nil, err
	}
	if repo == nil {
		_ = dirLock.Unlock()
		return nil, errors.NotIndexed(id)
	}
	repo.lock = dirLock
	return repo, nil
}

// ListRepositories returns the metadata records of every known
// repository: live handles plus persisted indexes on disk.
func (m *Manager) ListRepositories(ctx context.Context) ([]*store.Repository, error) {
	records := make(map[string]*store.Repository)

	m.mu.Lock()
	open := make([]*Repository, 0, len(m.repos))
	for _, repo := range m.repos {
		open = append(open, repo)
	}
	m.mu.Unlock()

	for _, repo := range open {
		record, err := repo.Stats(ctx)
		if err != nil || record == nil {
			continue
		}
		records[record.ID] = record
	}

	if !m.cfg.Storage.Transient {
		entries, err := os.ReadDir(m.cfg.Storage.BaseDir)
		if err != nil && !os.IsNotExist(err) {
			return nil, errors.Internal("list storage directory", err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if _, ok := records[entry.Name()]; ok {
				continue
			}
			record := m.readRepositoryRecord(ctx, entry.Name())
			if record != nil {
				records[record.ID] = record
			}
		}
	}

	list := make([]*store.Repository, 0, len(records))
	for _, record := range records {
		list = append(list, record)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].RootPath < list[j].RootPath })
	return list, nil
}

// readRepositoryRecord reads the metadata record of a closed on-disk
// index without keeping it open.
func (m *Manager) readRepositoryRecord(ctx context.Context, id string) *store.Repository {
	metaPath := filepath.Join(m.storageDir(id), store.MetadataFileName)
	if _, err := os.Stat(metaPath); err != nil {
		return nil
	}
	meta, err := store.NewSQLiteMetadataStore(metaPath)
	if err != nil {
		return nil
	}
	defer func() { _ = meta.Close() }()

	record, err := meta.GetRepository(ctx)
	if err != nil {
		return nil
	}
	return record
}

// Close stops every watch session and closes every open repository.
func (m *Manager) Close() error {
	_ = m.StopAll()

	m.mu.Lock()
	repos := m.repos
	m.repos = make(map[string]*Repository)
	m.mu.Unlock()

	var firstErr error
	for _, repo := range repos {
		if err := repo.persist(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := repo.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := m.embedder.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
