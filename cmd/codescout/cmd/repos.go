package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"codescout/internal/config"
	"codescout/internal/manager"
)

func newReposCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "repos",
		Short: "List indexed repositories",
		Long: `Repos lists every repository with a persisted index in the storage
directory, with its file and chunk counts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRepos(cmd, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func runRepos(cmd *cobra.Command, format string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	m, err := manager.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	repos, err := m.ListRepositories(cmd.Context())
	if err != nil {
		return err
	}

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(repos)
	}

	if len(repos) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No indexed repositories.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPATH\tFILES\tCHUNKS\tMODEL\tUPDATED")
	for _, repo := range repos {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			repo.ID, repo.RootPath, repo.FileCount, repo.ChunkCount,
			repo.EmbeddingModel, repo.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
