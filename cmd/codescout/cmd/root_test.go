package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	// When running the version subcommand
	out, err := execute(t, "version")

	// Then the build string is printed
	require.NoError(t, err)
	assert.Contains(t, out, "codescout")
	assert.Contains(t, out, "dev")
}

func TestVersionCommandJSON(t *testing.T) {
	// When requesting JSON output
	out, err := execute(t, "version", "--format", "json")

	// Then structured build info is printed
	require.NoError(t, err)
	assert.Contains(t, out, `"version"`)
	assert.Contains(t, out, `"go_version"`)
}

func TestRootHelpListsCommands(t *testing.T) {
	// When asking for help
	out, err := execute(t, "--help")

	// Then all subcommands are listed
	require.NoError(t, err)
	for _, name := range []string{"index", "search", "watch", "repos", "version"} {
		assert.Contains(t, out, name)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	// When running search with no arguments
	_, err := execute(t, "search")

	// Then argument validation fails
	require.Error(t, err)
}
