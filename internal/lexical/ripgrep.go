// Package lexical runs the keyword channel of hybrid search by shelling
// out to ripgrep. No lexical index is kept; every query scans the working
// tree, so results always reflect the files as they are on disk.
package lexical

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBinary is the search tool invoked for the lexical channel.
	DefaultBinary = "rg"

	// DefaultTimeout bounds a single lexical scan.
	DefaultTimeout = 5 * time.Second

	// DefaultMaxHits caps the number of matching lines returned.
	DefaultMaxHits = 200
)

// Hit is a single matching line.
type Hit struct {
	FilePath string  // Relative to the searched root
	Line     int     // 1-indexed
	Text     string  // The matching line
	Score    float64 // Fraction of query tokens present on the line (0-1]
}

// Searcher runs lexical queries against a directory tree.
type Searcher interface {
	Search(ctx context.Context, root, query string) ([]Hit, error)
}

// RipgrepSearcher implements Searcher with the rg binary. A missing binary,
// a timeout, or a malformed invocation degrades to zero hits rather than
// failing the query; hybrid search then runs on the vector channel alone.
type RipgrepSearcher struct {
	binary  string
	timeout time.Duration
	maxHits int
}

// Option configures a RipgrepSearcher.
type Option func(*RipgrepSearcher)

// WithBinary overrides the search binary.
func WithBinary(binary string) Option {
	return func(s *RipgrepSearcher) { s.binary = binary }
}

// WithTimeout overrides the per-query timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(s *RipgrepSearcher) { s.timeout = timeout }
}

// WithMaxHits overrides the hit cap.
func WithMaxHits(maxHits int) Option {
	return func(s *RipgrepSearcher) { s.maxHits = maxHits }
}

// NewRipgrep creates a ripgrep-backed searcher.
func NewRipgrep(opts ...Option) *RipgrepSearcher {
	s := &RipgrepSearcher{
		binary:  DefaultBinary,
		timeout: DefaultTimeout,
		maxHits: DefaultMaxHits,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// queryTokens extracts the searchable tokens from a free-form query.
func queryTokens(query string) []string {
	seen := make(map[string]bool)
	var tokens []string
	for _, tok := range tokenPattern.FindAllString(query, -1) {
		lower := strings.ToLower(tok)
		if len(lower) < 2 || seen[lower] {
			continue
		}
		seen[lower] = true
		tokens = append(tokens, lower)
	}
	return tokens
}

// Search runs the query under root and returns matching lines. A line
// matching any query token is a hit; its score is the fraction of tokens
// it matches, so lines containing more of the query rank higher.
func (s *RipgrepSearcher) Search(ctx context.Context, root, query string) ([]Hit, error) {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := []string{
		"--line-number",
		"--no-heading",
		"--color", "never",
		"--ignore-case",
		"--fixed-strings",
		"--max-count", "50",
	}
	for _, tok := range tokens {
		args = append(args, "-e", tok)
	}
	args = append(args, "./")

	cmd := exec.CommandContext(ctx, s.binary, args...)
	cmd.Dir = root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Exit code 1 means no matches
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}

		slog.Warn("lexical search unavailable, degrading to vector-only",
			slog.String("binary", s.binary),
			slog.String("error", err.Error()),
			slog.String("stderr", strings.TrimSpace(stderr.String())))
		return nil, nil
	}

	return s.parseOutput(stdout.Bytes(), tokens), nil
}

// parseOutput reads rg's path:line:text output and scores each line.
func (s *RipgrepSearcher) parseOutput(output []byte, tokens []string) []Hit {
	var hits []Hit

	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if len(hits) >= s.maxHits {
			break
		}

		hit, ok := parseLine(scanner.Text(), tokens)
		if !ok {
			continue
		}
		hits = append(hits, hit)
	}

	return hits
}

func parseLine(line string, tokens []string) (Hit, bool) {
	// path:line:text, where text may itself contain colons
	first := strings.IndexByte(line, ':')
	if first <= 0 {
		return Hit{}, false
	}
	second := strings.IndexByte(line[first+1:], ':')
	if second < 0 {
		return Hit{}, false
	}
	second += first + 1

	lineNo, err := strconv.Atoi(line[first+1 : second])
	if err != nil || lineNo < 1 {
		return Hit{}, false
	}

	path := strings.TrimPrefix(line[:first], "./")
	text := line[second+1:]

	lower := strings.ToLower(text)
	matched := 0
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			matched++
		}
	}
	if matched == 0 {
		return Hit{}, false
	}

	return Hit{
		FilePath: path,
		Line:     lineNo,
		Text:     text,
		Score:    float64(matched) / float64(len(tokens)),
	}, true
}

var _ Searcher = (*RipgrepSearcher)(nil)
