package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"codescout/internal/manager"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Watch a repository and keep its index in sync",
		Long: `Watch indexes the repository if needed, then follows file changes:
created and modified files are re-chunked and re-embedded, deleted files
leave the index, and .gitignore edits trigger reconciliation.

Runs until interrupted.

Examples:
  codescout watch
  codescout watch ~/src/myproject`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runWatch(cmd, path)
		},
	}
	return cmd
}

func runWatch(cmd *cobra.Command, path string) error {
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

	if err := m.StartWatch(cmd.Context(), absPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (Ctrl-C to stop)\n", absPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
	case <-cmd.Context().Done():
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Stopping ...")
	return m.StopAll()
}
