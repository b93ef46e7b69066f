package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFile creates a file with parent directories.
func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// collect drains the scan channel into a path set.
func collect(t *testing.T, s *Scanner, root string, opts *ScanOptions) map[string]*FileInfo {
	t.Helper()
	if opts == nil {
		opts = &ScanOptions{}
	}
	opts.RootDir = root

	results, err := s.Scan(context.Background(), opts)
	require.NoError(t, err)

	files := make(map[string]*FileInfo)
	for r := range results {
		require.NoError(t, r.Error)
		files[r.File.Path] = r.File
	}
	return files
}

func TestScanDiscoversFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "docs/readme.md", "# readme\n")
	writeFile(t, root, "data.unknownext", "hello\n")

	s, err := New()
	require.NoError(t, err)

	files := collect(t, s, root, nil)
	require.Len(t, files, 3)

	assert.Equal(t, "go", files["main.go"].Language)
	assert.Equal(t, "markdown", files["docs/readme.md"].Language)
	assert.Equal(t, "", files["data.unknownext"].Language)
}

func TestScanRespectsGitignoreAndDefaults(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "*.secret\n")
	writeFile(t, root, "keep.go", "package keep\n")
	writeFile(t, root, "creds.secret", "hunter2\n")
	writeFile(t, root, "node_modules/pkg/index.js", "module.exports = 1\n")
	writeFile(t, root, ".git/config", "[core]\n")

	s, err := New()
	require.NoError(t, err)

	files := collect(t, s, root, nil)

	assert.Contains(t, files, "keep.go")
	assert.NotContains(t, files, "creds.secret")
	assert.NotContains(t, files, "node_modules/pkg/index.js")
	assert.NotContains(t, files, ".git/config")
}

func TestScanSkipsBinaryAndOversized(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ok.go", "package ok\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, "blob.bin"), []byte{0x00, 0x01, 0x02}, 0o644))
	writeFile(t, root, "big.txt", "x")

	s, err := New()
	require.NoError(t, err)

	files := collect(t, s, root, &ScanOptions{MaxFileSize: 1})

	assert.NotContains(t, files, "blob.bin")
	assert.NotContains(t, files, "big.txt", "over the size cap")
	// ok.go is 11 bytes, over the 1-byte cap too; bump the cap to verify
	files = collect(t, s, root, &ScanOptions{MaxFileSize: 1024})
	assert.Contains(t, files, "ok.go")
}

func TestScanExtraExcludePatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.go", "package app\n")
	writeFile(t, root, "gen/api.go", "package gen\n")

	s, err := New()
	require.NoError(t, err)

	files := collect(t, s, root, &ScanOptions{ExcludePatterns: []string{"gen/"}})

	assert.Contains(t, files, "app.go")
	assert.NotContains(t, files, "gen/api.go")
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "go", DetectLanguage("a/b/c.go"))
	assert.Equal(t, "python", DetectLanguage("script.py"))
	assert.Equal(t, "dockerfile", DetectLanguage("deploy/Dockerfile"))
	assert.Equal(t, "", DetectLanguage("mystery.xyz"))
	assert.Equal(t, "", DetectLanguage("noextension"))
}

func TestMatcherCacheInvalidation(t *testing.T) {
	// Given: a scanned root whose matcher is cached
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")

	s, err := New()
	require.NoError(t, err)
	_ = collect(t, s, root, nil)

	// When: .gitignore appears after the first scan
	writeFile(t, root, ".gitignore", "a.go\n")

	// Then: the stale matcher still admits the file until invalidated
	files := collect(t, s, root, nil)
	assert.Contains(t, files, "a.go")

	s.InvalidateMatcher(root)
	files = collect(t, s, root, nil)
	assert.NotContains(t, files, "a.go")
}
