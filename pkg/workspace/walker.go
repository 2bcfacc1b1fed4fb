package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// ErrInvalidPattern is returned for an ignore pattern that does not compile.
var ErrInvalidPattern = errors.New("invalid ignore pattern")

// StructureHeader starts the text produced by Walker.Structure.
const StructureHeader = "Project structure:"

// DefaultIgnorePatterns are matched against every entry's base name.
var DefaultIgnorePatterns = []string{
	"node_modules",
	".git",
	"dist",
	"build",
	".DS_Store",
	".env",
	"target",
	".mvn",
	".idea",
	".vscode",
	"coverage",
	"*.log",
	"*.tmp",
	"*.cache",
	"*.lock",
}

// Walker lists the files of a project, skipping ignored entries. Patterns
// without a slash match base names; patterns with one match the path
// relative to the project root.
type Walker struct {
	names []glob.Glob
	paths []glob.Glob
}

// NewWalker compiles DefaultIgnorePatterns plus extra.
func NewWalker(extra ...string) (*Walker, error) {
	w := &Walker{}
	patterns := append(append([]string(nil), DefaultIgnorePatterns...), extra...)
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, errors.Join(ErrInvalidPattern, fmt.Errorf("%q: %w", p, err))
		}
		if strings.Contains(p, "/") {
			w.paths = append(w.paths, g)
		} else {
			w.names = append(w.names, g)
		}
	}
	return w, nil
}

// Ignored reports whether the entry at rel should be skipped.
func (w *Walker) Ignored(rel string) bool {
	rel = filepath.ToSlash(rel)
	base := rel
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		base = rel[i+1:]
	}
	for _, g := range w.names {
		if g.Match(base) {
			return true
		}
	}
	for _, g := range w.paths {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// Files returns the relative, slash separated paths of all files under
// root that are not ignored, sorted. A missing root returns ErrNoProject.
func (w *Walker) Files(root string) ([]string, error) {
	if !isDir(root) {
		return nil, fmt.Errorf("%w: %s", ErrNoProject, root)
	}

	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if w.Ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// Structure renders the files under root as a header followed by one
// "- relpath" line per file. It returns "" when root holds no files.
func (w *Walker) Structure(root string) (string, error) {
	files, err := w.Files(root)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}
	var sb strings.Builder
	sb.WriteString(StructureHeader)
	sb.WriteString("\n")
	for _, f := range files {
		sb.WriteString("- ")
		sb.WriteString(f)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
