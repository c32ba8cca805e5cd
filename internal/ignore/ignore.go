// Package ignore decides which files a directory walk should skip when
// indexing a document tree. Patterns come from gitignore-style files at
// the tree root, with built-in defaults when none are present.
package ignore

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ignoreFiles are the pattern files consulted at the tree root, in order.
var ignoreFiles = []string{".draftdignore", ".gitignore"}

// defaultPatterns are used when a tree has no ignore files at all.
var defaultPatterns = []string{
	".git/",
	"node_modules/",
	"vendor/",
	"target/",
	"dist/",
	"*.bin",
	"*.exe",
	"*.so",
	"*.dylib",
}

// Matcher reports whether a relative path inside an indexed tree should
// be skipped. Hidden files and directories are always skipped.
type Matcher struct {
	patterns []pattern
}

type pattern struct {
	glob    string
	dirOnly bool
}

// Load builds a Matcher for the tree rooted at root. It reads each known
// ignore file in order and combines their patterns; if none exist the
// built-in defaults apply.
func Load(root string) (*Matcher, error) {
	var lines []string
	found := false

	for _, name := range ignoreFiles {
		filePatterns, err := readPatternFile(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		lines = append(lines, filePatterns...)
		found = true
	}

	if !found {
		lines = defaultPatterns
	}

	return NewMatcher(lines), nil
}

// NewMatcher builds a Matcher from raw gitignore-style pattern lines.
// Comments, blank lines and negations are dropped.
func NewMatcher(lines []string) *Matcher {
	seen := make(map[string]bool)
	var patterns []pattern

	for _, line := range lines {
		p, ok := parseLine(line)
		if !ok || seen[p.glob] {
			continue
		}
		seen[p.glob] = true
		patterns = append(patterns, p)
	}

	return &Matcher{patterns: patterns}
}

// Skip reports whether the file or directory at rel, relative to the tree
// root and slash-separated, should be excluded from indexing.
func (m *Matcher) Skip(rel string, isDir bool) bool {
	rel = strings.TrimPrefix(path.Clean(rel), "./")
	if rel == "." || rel == "" {
		return false
	}

	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}

	base := path.Base(rel)
	for _, p := range m.patterns {
		if p.dirOnly && !isDir {
			// A directory pattern still excludes files beneath that
			// directory; those are caught via their parent components.
			if !matchesComponent(rel, p.glob) {
				continue
			}
			return true
		}
		if ok, _ := path.Match(p.glob, base); ok {
			return true
		}
		if ok, _ := path.Match(p.glob, rel); ok {
			return true
		}
		if matchesComponent(rel, p.glob) {
			return true
		}
	}

	return false
}

// matchesComponent reports whether any path component of rel matches glob.
func matchesComponent(rel, glob string) bool {
	for _, part := range strings.Split(rel, "/") {
		if ok, _ := path.Match(glob, part); ok {
			return true
		}
	}
	return false
}

// parseLine parses one gitignore-style line. Comments, blanks and
// negations yield ok=false.
func parseLine(line string) (pattern, bool) {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return pattern{}, false
	}

	dirOnly := strings.HasSuffix(line, "/")
	line = strings.Trim(line, "/")
	if line == "" {
		return pattern{}, false
	}

	return pattern{glob: line, dirOnly: dirOnly}, true
}

// readPatternFile reads raw lines from one ignore file.
func readPatternFile(name string) ([]string, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
