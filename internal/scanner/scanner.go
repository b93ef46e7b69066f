package scanner

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"codescout/internal/gitignore"
)

// matcherCacheSize caps the number of cached per-root ignore matchers so a
// long-running manager does not grow without bound.
const matcherCacheSize = 128

// Scanner discovers indexable files in repository directories.
// A single Scanner is shared across repositories; compiled ignore matchers
// are cached per root with LRU eviction.
type Scanner struct {
	matcherCache *lru.Cache[string, *gitignore.Matcher]
}

// New creates a new Scanner.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *gitignore.Matcher](matcherCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create matcher cache: %w", err)
	}
	return &Scanner{matcherCache: cache}, nil
}

// Scan discovers all indexable files under the root directory, streaming
// results over the returned channel. The channel is closed when the walk
// completes or the context is cancelled.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}

	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}

	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", absRoot)
	}

	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}

	matcher := s.Matcher(absRoot, opts.ExcludePatterns)
	results := make(chan ScanResult, 64)

	go func() {
		defer close(results)
		s.walk(ctx, absRoot, matcher, maxFileSize, results)
	}()

	return results, nil
}

// Matcher returns the ignore matcher for a repository root: built-in
// defaults, extra exclude patterns, then the root and nested .gitignore
// files. Cached per root.
func (s *Scanner) Matcher(absRoot string, extraPatterns []string) *gitignore.Matcher {
	if len(extraPatterns) == 0 {
		if m, ok := s.matcherCache.Get(absRoot); ok {
			return m
		}
	}

	m := gitignore.NewWithDefaults()
	for _, p := range extraPatterns {
		m.AddPattern(p)
	}
	loadGitignoreFiles(m, absRoot)

	if len(extraPatterns) == 0 {
		s.matcherCache.Add(absRoot, m)
	}
	return m
}

// InvalidateMatcher drops the cached matcher for a root, forcing a reload
// of .gitignore content on the next scan.
func (s *Scanner) InvalidateMatcher(absRoot string) {
	s.matcherCache.Remove(absRoot)
}

// loadGitignoreFiles loads the root .gitignore plus nested ones.
func loadGitignoreFiles(m *gitignore.Matcher, absRoot string) {
	rootIgnore := filepath.Join(absRoot, ".gitignore")
	if err := m.AddFromFile(rootIgnore, ""); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load root .gitignore",
			slog.String("path", rootIgnore),
			slog.String("error", err.Error()))
	}

	_ = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			rel, _ := filepath.Rel(absRoot, path)
			if rel != "." && m.Match(filepath.ToSlash(rel), true) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == ".gitignore" && path != rootIgnore {
			base, _ := filepath.Rel(absRoot, filepath.Dir(path))
			if err := m.AddFromFile(path, filepath.ToSlash(base)); err != nil {
				slog.Warn("failed to read nested .gitignore",
					slog.String("path", path),
					slog.String("error", err.Error()))
			}
		}
		return nil
	})
}

// walk traverses the repository tree and emits indexable files.
func (s *Scanner) walk(ctx context.Context, absRoot string, matcher *gitignore.Matcher, maxFileSize int64, results chan<- ScanResult) {
	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return nil // Skip entries we cannot access
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			return nil
		}
		if relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if matcher.Match(relPath, true) {
				return filepath.SkipDir
			}
			return nil
		}

		// Never follow symlinks
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		if matcher.Match(relPath, false) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > maxFileSize {
			slog.Debug("skipping oversized file",
				slog.String("path", relPath),
				slog.Int64("size", info.Size()))
			return nil
		}

		if isBinaryFile(path) {
			return nil
		}

		file := &FileInfo{
			Path:     relPath,
			AbsPath:  path,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Language: DetectLanguage(relPath),
		}

		select {
		case results <- ScanResult{File: file}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && err != context.Canceled {
		select {
		case results <- ScanResult{Error: err}:
		default:
		}
	}
}

// isBinaryFile sniffs the first 8KB for NUL bytes.
func isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 8192)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return false
	}
	return IsBinaryContent(buf[:n])
}

// IsBinaryContent reports whether content looks like binary data.
func IsBinaryContent(content []byte) bool {
	if len(content) > 8192 {
		content = content[:8192]
	}
	return bytes.IndexByte(content, 0) >= 0
}
