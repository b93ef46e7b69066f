package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"codescout/internal/manager"
	"codescout/internal/search"
)

const (
	ansiBold  = "\033[1m"
	ansiDim   = "\033[2m"
	ansiReset = "\033[0m"
)

type searchOptions struct {
	path   string
	limit  int
	format string // text or json
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an indexed repository",
		Long: `Search runs a hybrid query: the semantic channel finds chunks whose
embeddings are near the query, the lexical channel finds exact token
matches in the working tree, and the two are fused into one ranking.

Examples:
  codescout search "authentication middleware"
  codescout search "parse config file" --repo ~/src/myproject --limit 5
  codescout search "error handling" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.path, "repo", "r", ".", "Repository path")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	absPath, err := filepath.Abs(opts.path)
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

	results, err := m.Query(cmd.Context(), absPath, query, opts.limit)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		return printJSON(cmd, results)
	}
	printText(cmd, results)
	return nil
}

type jsonResult struct {
	FilePath     string  `json:"file_path"`
	StartLine    int     `json:"start_line"`
	EndLine      int     `json:"end_line"`
	Symbol       string  `json:"symbol,omitempty"`
	Kind         string  `json:"kind"`
	Score        float64 `json:"score"`
	VectorScore  float64 `json:"vector_score"`
	LexicalScore float64 `json:"lexical_score"`
	MatchedLines []int   `json:"matched_lines,omitempty"`
	Content      string  `json:"content"`
}

func printJSON(cmd *cobra.Command, results []*search.Result) error {
	out := make([]jsonResult, len(results))
	for i, res := range results {
		out[i] = jsonResult{
			FilePath:     res.Chunk.FilePath,
			StartLine:    res.Chunk.StartLine,
			EndLine:      res.Chunk.EndLine,
			Symbol:       res.Chunk.Symbol,
			Kind:         string(res.Chunk.Kind),
			Score:        res.Score,
			VectorScore:  res.VectorScore,
			LexicalScore: res.LexicalScore,
			MatchedLines: res.MatchedLines,
			Content:      res.Chunk.Content,
		}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printText(cmd *cobra.Command, results []*search.Result) {
	w := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(w, "No results.")
		return
	}

	bold, dim, reset := "", "", ""
	if useColor() {
		bold, dim, reset = ansiBold, ansiDim, ansiReset
	}

	for i, res := range results {
		location := fmt.Sprintf("%s:%d-%d", res.Chunk.FilePath, res.Chunk.StartLine, res.Chunk.EndLine)
		header := location
		if res.Chunk.Symbol != "" {
			header = fmt.Sprintf("%s  (%s %s)", location, res.Chunk.Kind, res.Chunk.Symbol)
		}
		fmt.Fprintf(w, "%2d. %s%s%s  %sscore %.3f%s\n", i+1, bold, header, reset, dim, res.Score, reset)

		preview := firstLines(res.Chunk.Content, 3)
		for _, line := range preview {
			fmt.Fprintf(w, "    %s\n", line)
		}
		fmt.Fprintln(w)
	}
}

func firstLines(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return lines
}
