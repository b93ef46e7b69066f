package gitignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchBasicPatterns(t *testing.T) {
	m := New()
	m.AddPattern("*.log")
	m.AddPattern("temp/")

	assert.True(t, m.Match("debug.log", false))
	assert.True(t, m.Match("sub/dir/trace.log", false))
	assert.False(t, m.Match("debug.log.go", false))

	// Directory-only pattern matches the dir and files inside it
	assert.True(t, m.Match("temp", true))
	assert.True(t, m.Match("temp/file.go", false))
	assert.False(t, m.Match("temp", false))
}

func TestMatchNegation(t *testing.T) {
	m := New()
	m.AddPattern("*.log")
	m.AddPattern("!keep.log")

	assert.True(t, m.Match("debug.log", false))
	assert.False(t, m.Match("keep.log", false))
}

func TestMatchAnchoredPatterns(t *testing.T) {
	m := New()
	m.AddPattern("/build")
	m.AddPattern("doc/frotz")

	assert.True(t, m.Match("build", true))
	assert.False(t, m.Match("sub/build", true))

	// Internal slash anchors at the root
	assert.True(t, m.Match("doc/frotz", false))
	assert.False(t, m.Match("other/doc/frotz", false))
}

func TestMatchDoubleStar(t *testing.T) {
	m := New()
	m.AddPattern("**/logs")
	m.AddPattern("a/**/b")

	assert.True(t, m.Match("logs", true))
	assert.True(t, m.Match("x/y/logs", true))
	assert.True(t, m.Match("a/b", false))
	assert.True(t, m.Match("a/x/y/b", false))
}

func TestDefaultsIgnoreDependencyAndVCSPaths(t *testing.T) {
	m := NewWithDefaults()

	assert.True(t, m.Match(".git/config", false))
	assert.True(t, m.Match("node_modules/left-pad/index.js", false))
	assert.True(t, m.Match("vendor/modernc.org/sqlite/sqlite.go", false))
	assert.True(t, m.Match("dist/bundle.min.js", false))
	assert.True(t, m.Match("__pycache__/mod.pyc", false))

	assert.False(t, m.Match("internal/store/vector.go", false))
	assert.False(t, m.Match("README.md", false))
}

func TestAddFromFile(t *testing.T) {
	// Given: a gitignore file with comments, blanks, and patterns
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	content := "# build output\nbin/\n\n*.tmp\n!important.tmp\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m := New()
	require.NoError(t, m.AddFromFile(path, ""))

	assert.True(t, m.Match("bin/app", false))
	assert.True(t, m.Match("scratch.tmp", false))
	assert.False(t, m.Match("important.tmp", false))
}

func TestAddFromFileWithBase(t *testing.T) {
	// Given: a nested gitignore that only applies under its directory
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("*.gen.go\n"), 0o644))

	m := New()
	require.NoError(t, m.AddFromFile(path, "pkg/api"))

	assert.True(t, m.Match("pkg/api/types.gen.go", false))
	assert.False(t, m.Match("internal/types.gen.go", false))
}
