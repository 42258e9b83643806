package archive

import (
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is read from the project root when present. It uses
// .gitignore syntax and adds to the default excludes.
const IgnoreFileName = ".deployignore"

// DefaultExcludes keeps virtualenvs, bytecode, secrets and local databases out
// of the archive.
var DefaultExcludes = []string{
	"venv/",
	".venv/",
	"env/",
	"__pycache__/",
	"*.pyc",
	"*.pyo",
	".env",
	".env.*",
	"!.env.example",
	"*.db",
	"*.sqlite",
	"*.sqlite3",
}

// Matcher decides whether a project-relative path is excluded.
type Matcher struct {
	patterns []string
	gi       *ignore.GitIgnore
}

// NewMatcher compiles the default excludes, the extra patterns and, when
// present, the project's ignore file.
func NewMatcher(projectDir string, extra []string, useIgnoreFile bool) (*Matcher, error) {
	patterns := append([]string{}, DefaultExcludes...)
	patterns = append(patterns, extra...)

	if useIgnoreFile {
		content, err := os.ReadFile(filepath.Join(projectDir, IgnoreFileName))
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			for _, line := range strings.Split(string(content), "\n") {
				line = strings.TrimRight(line, "\r")
				if strings.TrimSpace(line) == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
					continue
				}
				patterns = append(patterns, line)
			}
		}
	}

	return &Matcher{
		patterns: patterns,
		gi:       ignore.CompileIgnoreLines(patterns...),
	}, nil
}

// Patterns returns the compiled pattern lines in order.
func (m *Matcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}

// Excluded reports whether rel (slash or OS separated, relative to the
// project root) is excluded.
func (m *Matcher) Excluded(rel string, isDir bool) bool {
	p := filepath.ToSlash(rel)
	// Append slash for directories so patterns ending in '/' match
	if isDir && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return m.gi.MatchesPath(p)
}
