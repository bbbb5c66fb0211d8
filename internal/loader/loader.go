// Package loader discovers .feature files on disk and parses them into
// the Feature model, optionally watching for changes so a suite can be
// re-run as files are edited.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/halvard/gobdd/internal/lexer"
	"github.com/halvard/gobdd/internal/parser"
)

// LoadedFeature pairs a parsed Feature with the parse error encountered
// while producing it, if any (spec §4.B: a malformed file never aborts
// the suite, it degrades to a synthetic failed scenario upstream).
type LoadedFeature struct {
	Path    string
	Feature *parser.Feature
	Err     *parser.Error
}

// Glob finds and parses every *.feature file matching pattern (a
// filepath.Glob pattern, e.g. "features/**/*.feature" expanded by
// expand below since filepath.Glob itself has no "**" support).
func Glob(pattern string) ([]LoadedFeature, error) {
	paths, err := expand(pattern)
	if err != nil {
		return nil, err
	}
	out := make([]LoadedFeature, 0, len(paths))
	for _, p := range paths {
		lf, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, lf)
	}
	return out, nil
}

// LoadFile reads and parses a single feature file.
func LoadFile(path string) (LoadedFeature, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return LoadedFeature{}, fmt.Errorf("reading feature %s: %w", path, err)
	}
	src := lexer.NewSource(path, string(raw))
	f, perr := parser.Parse(src)
	return LoadedFeature{Path: path, Feature: f, Err: perr}, nil
}

// expand supports a "**" path segment (recursive directory match) on top
// of filepath.Glob, since Go's stdlib glob doesn't: a pattern like
// "features/**/*.feature" walks the tree under "features" looking for
// *.feature leaves, matching the teacher's own recursive feature
// discovery convention.
func expand(pattern string) ([]string, error) {
	if !strings.Contains(pattern, "**") {
		return filepath.Glob(pattern)
	}
	parts := strings.SplitN(pattern, "**", 2)
	root := strings.TrimSuffix(parts[0], string(filepath.Separator))
	if root == "" {
		root = "."
	}
	suffix := strings.TrimPrefix(parts[1], string(filepath.Separator))

	var matches []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if ok, _ := filepath.Match(suffix, filepath.Base(rel)); ok {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}
