package lexer

import (
	"strings"
)

// Source is an immutable handle on one loaded feature file. It lives for
// the duration of the suite.
type Source struct {
	Path        string
	Text        string
	lineOffsets []int
}

// NewSource builds a Source and pre-computes line offsets so Lexer/Parser
// errors can report line/column without rescanning the buffer.
func NewSource(path, text string) *Source {
	offsets := []int{0}
	for i, r := range text {
		if r == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return &Source{Path: path, Text: text, lineOffsets: offsets}
}

// RelativePath strips any directory prefix shared with base.
func (s *Source) RelativePath(base string) string {
	return strings.TrimPrefix(strings.TrimPrefix(s.Path, base), "/")
}

// FileNameWithoutExtension returns the base file name with its extension
// removed, e.g. "login.feature" -> "login".
func (s *Source) FileNameWithoutExtension() string {
	name := s.Path
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	return name
}

// PackageQualifiedName turns a relative path into a dotted package-style
// name, the way a JVM classpath would: "a/b/login.feature" -> "a.b.login".
func (s *Source) PackageQualifiedName(base string) string {
	rel := s.RelativePath(base)
	rel = strings.TrimSuffix(rel, ".feature")
	return strings.ReplaceAll(rel, "/", ".")
}

// LineCol converts a byte offset into a 1-based (line, col) pair.
func (s *Source) LineCol(offset int) (line, col int) {
	line = 1
	for i := len(s.lineOffsets) - 1; i >= 0; i-- {
		if s.lineOffsets[i] <= offset {
			line = i + 1
			col = offset - s.lineOffsets[i] + 1
			return
		}
	}
	return 1, offset + 1
}
