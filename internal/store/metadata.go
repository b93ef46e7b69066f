package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"codescout/internal/chunk"
)

// SQLiteMetadataStore implements MetadataStore on modernc.org/sqlite.
// One database per indexed repository. An empty path opens an in-memory
// database for transient indexes.
type SQLiteMetadataStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ MetadataStore = (*SQLiteMetadataStore)(nil)

// validateIntegrity checks a database file before opening it for real.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // will be created
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	return nil
}

// NewSQLiteMetadataStore opens (or creates) the metadata database at path.
// A corrupted database is removed and recreated empty; the caller detects
// the loss through the missing repository record and rebuilds.
func NewSQLiteMetadataStore(path string) (*SQLiteMetadataStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}

		if validErr := validateIntegrity(path); validErr != nil {
			slog.Warn("metadata database corrupted, clearing",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("metadata database corrupted at %s and cannot remove: %w", path, removeErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}

		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer connection prevents lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores some DSN params, set pragmas explicitly
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SQLiteMetadataStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteMetadataStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repositories (
		id              TEXT PRIMARY KEY,
		root_path       TEXT NOT NULL,
		embedding_model TEXT NOT NULL,
		dimensions      INTEGER NOT NULL,
		chunk_count     INTEGER NOT NULL DEFAULT 0,
		file_count      INTEGER NOT NULL DEFAULT 0,
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id         TEXT PRIMARY KEY,
		file_path  TEXT NOT NULL,
		start_line INTEGER NOT NULL,
		end_line   INTEGER NOT NULL,
		language   TEXT NOT NULL,
		kind       TEXT NOT NULL,
		symbol     TEXT NOT NULL,
		content    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_file_path ON chunks(file_path);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveRepository upserts the repository record.
func (s *SQLiteMetadataStore) SaveRepository(ctx context.Context, repo *Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (id, root_path, embedding_model, dimensions, chunk_count, file_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			root_path = excluded.root_path,
			embedding_model = excluded.embedding_model,
			dimensions = excluded.dimensions,
			chunk_count = excluded.chunk_count,
			file_count = excluded.file_count,
			updated_at = excluded.updated_at`,
		repo.ID, repo.RootPath, repo.EmbeddingModel, repo.Dimensions,
		repo.ChunkCount, repo.FileCount, repo.CreatedAt, repo.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save repository: %w", err)
	}
	return nil
}

// GetRepository returns the repository record, or nil when none exists.
func (s *SQLiteMetadataStore) GetRepository(ctx context.Context) (*Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	repo := &Repository{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, root_path, embedding_model, dimensions, chunk_count, file_count, created_at, updated_at
		FROM repositories LIMIT 1`).Scan(
		&repo.ID, &repo.RootPath, &repo.EmbeddingModel, &repo.Dimensions,
		&repo.ChunkCount, &repo.FileCount, &repo.CreatedAt, &repo.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return repo, nil
}

// UpdateRepositoryStats refreshes the counters and the updated_at stamp.
func (s *SQLiteMetadataStore) UpdateRepositoryStats(ctx context.Context, fileCount, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE repositories SET file_count = ?, chunk_count = ?, updated_at = ?`,
		fileCount, chunkCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update repository stats: %w", err)
	}
	return nil
}

// SaveChunks upserts chunks in a single transaction.
func (s *SQLiteMetadataStore) SaveChunks(ctx context.Context, chunks []*chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, file_path, start_line, end_line, language, kind, symbol, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_path = excluded.file_path,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			language = excluded.language,
			kind = excluded.kind,
			symbol = excluded.symbol,
			content = excluded.content`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.FilePath, c.StartLine, c.EndLine,
			c.Language, string(c.Kind), c.Symbol, c.Content); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// GetChunk returns a chunk by ID, or nil when absent.
func (s *SQLiteMetadataStore) GetChunk(ctx context.Context, id string) (*chunk.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	c, err := scanChunk(s.db.QueryRowContext(ctx, `
		SELECT id, file_path, start_line, end_line, language, kind, symbol, content
		FROM chunks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// GetChunks returns chunks for the given IDs, omitting missing ones.
func (s *SQLiteMetadataStore) GetChunks(ctx context.Context, ids []string) ([]*chunk.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, file_path, start_line, end_line, language, kind, symbol, content
		FROM chunks WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectChunks(rows)
}

// GetChunksByFile returns all chunks for a file, ordered by start line.
func (s *SQLiteMetadataStore) GetChunksByFile(ctx context.Context, filePath string) ([]*chunk.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_path, start_line, end_line, language, kind, symbol, content
		FROM chunks WHERE file_path = ? ORDER BY start_line`, filePath)
	if err != nil {
		return nil, fmt.Errorf("query chunks by file: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectChunks(rows)
}

// GetChunkAtLine returns the chunk covering the given 1-indexed line of a
// file. When overlapping windows cover the line, the one with the larger
// span wins, with the earlier start as tie-break.
func (s *SQLiteMetadataStore) GetChunkAtLine(ctx context.Context, filePath string, line int) (*chunk.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	c, err := scanChunk(s.db.QueryRowContext(ctx, `
		SELECT id, file_path, start_line, end_line, language, kind, symbol, content
		FROM chunks
		WHERE file_path = ? AND start_line <= ? AND end_line >= ?
		ORDER BY (end_line - start_line) DESC, start_line ASC
		LIMIT 1`, filePath, line, line))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// DeleteChunks removes chunks by ID.
func (s *SQLiteMetadataStore) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM chunks WHERE id IN (%s)", placeholders), args...); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

// DeleteChunksByFile removes all chunks for a file and returns their IDs so
// the caller can evict the matching vectors.
func (s *SQLiteMetadataStore) DeleteChunksByFile(ctx context.Context, filePath string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM chunks WHERE file_path = ?", filePath)
	if err != nil {
		return nil, fmt.Errorf("query chunk ids: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate chunk ids: %w", err)
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE file_path = ?", filePath); err != nil {
		return nil, fmt.Errorf("delete chunks by file: %w", err)
	}

	return ids, nil
}

// ChunkCount returns the number of stored chunks.
func (s *SQLiteMetadataStore) ChunkCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&count); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

// FilePaths returns the distinct file paths with stored chunks.
func (s *SQLiteMetadataStore) FilePaths(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT file_path FROM chunks ORDER BY file_path")
	if err != nil {
		return nil, fmt.Errorf("query file paths: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan file path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// GetState returns a state value, or "" when the key is absent.
func (s *SQLiteMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", fmt.Errorf("store is closed")
	}

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

// SetState upserts a state value.
func (s *SQLiteMetadataStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteMetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*chunk.Chunk, error) {
	c := &chunk.Chunk{}
	var kind string
	err := row.Scan(&c.ID, &c.FilePath, &c.StartLine, &c.EndLine, &c.Language, &kind, &c.Symbol, &c.Content)
	if err != nil {
		return nil, err
	}
	c.Kind = chunk.Kind(kind)
	return c, nil
}

func collectChunks(rows *sql.Rows) ([]*chunk.Chunk, error) {
	var chunks []*chunk.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
