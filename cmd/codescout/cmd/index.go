package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"codescout/internal/manager"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Build or rebuild a repository index",
		Long: `Index scans the repository, chunks its source files, embeds them,
and stores the result under the storage directory. An existing index for
the same repository is replaced.

Examples:
  codescout index
  codescout index ~/src/myproject`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndex(cmd, path)
		},
	}
	return cmd
}

func runIndex(cmd *cobra.Command, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(absPath)
	if err != nil {
		return err
	}

	m, err := manager.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	fmt.Fprintf(cmd.OutOrStdout(), "Indexing %s ...\n", absPath)
	start := time.Now()

	// One-shot command; the watch command owns long-lived sessions.
	record, err := m.IndexWithOptions(cmd.Context(), absPath, manager.IndexOptions{StartWatching: false})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d files into %d chunks in %s\n",
		record.FileCount, record.ChunkCount, time.Since(start).Round(time.Millisecond))
	if cfg.Storage.Transient {
		fmt.Fprintln(os.Stderr, "Note: transient mode is on; the index was discarded on exit")
	}
	return nil
}
