// Package scanner discovers indexable files in a repository, respecting
// .gitignore rules and the built-in ignore defaults.
package scanner

import "time"

// FileInfo contains metadata about a discovered file.
type FileInfo struct {
	Path     string    // Relative to the repository root
	AbsPath  string    // Absolute path
	Size     int64     // File size in bytes
	ModTime  time.Time // Last modification time
	Language string    // Detected language ("" when unknown)
}

// ScanOptions configures the scanner behavior.
type ScanOptions struct {
	// RootDir is the repository root directory to scan.
	RootDir string

	// ExcludePatterns are additional gitignore-syntax patterns to exclude.
	ExcludePatterns []string

	// MaxFileSize is the maximum file size to include in bytes (0 = 10MB).
	MaxFileSize int64
}

// ScanResult is streamed from the scanner channel.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// DefaultMaxFileSize is the default maximum file size (10MB).
const DefaultMaxFileSize = 10 * 1024 * 1024

// languageMap maps file extensions to language names. Languages with a
// structural grammar are chunked by declaration; everything else falls back
// to line windows.
var languageMap = map[string]string{
	".go":   "go",
	".js":   "javascript",
	".jsx":  "jsx",
	".mjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "tsx",
	".py":   "python",
	".pyi":  "python",
	".rb":   "ruby",
	".rs":   "rust",
	".java": "java",
	".kt":   "kotlin",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".hpp":  "cpp",
	".cc":   "cpp",
	".cs":   "csharp",
	".php":  "php",
	".sh":   "shell",
	".bash": "shell",
	".md":   "markdown",
	".txt":  "text",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".toml": "toml",
	".sql":  "sql",
	".html": "html",
	".css":  "css",

	"Dockerfile": "dockerfile",
	"Makefile":   "makefile",
}

// DetectLanguage detects the language from a file path.
// Returns "" for unrecognized extensions.
func DetectLanguage(path string) string {
	base := baseName(path)
	if lang, ok := languageMap[base]; ok {
		return lang
	}
	if lang, ok := languageMap[extension(path)]; ok {
		return lang
	}
	return ""
}

// baseName returns the file name component of a path.
func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

// extension returns the file extension including the dot.
func extension(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i:]
		}
		if path[i] == '/' || path[i] == '\\' {
			break
		}
	}
	return ""
}
