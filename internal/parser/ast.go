// Package parser builds the Feature model (component B of the Feature
// Execution Core) from the lexer's token stream: tag inheritance,
// background composition and (deferred) scenario-outline expansion.
package parser

import (
	"strings"

	"github.com/halvard/gobdd/internal/lexer"
)

// Tag is a `@name` or `@name=v1,v2` marker (spec §3).
type Tag struct {
	Line   int
	Raw    string
	Name   string
	Values []string
}

// ParseTag splits "@name=v1,v2" into name/values; equality is by raw text.
func ParseTag(line int, raw string) Tag {
	body := strings.TrimPrefix(raw, "@")
	name, values := body, []string(nil)
	if i := strings.IndexByte(body, '='); i >= 0 {
		name = body[:i]
		values = strings.Split(body[i+1:], ",")
	}
	return Tag{Line: line, Raw: raw, Name: name, Values: values}
}

// Table is a rectangular grid of strings with a header row.
type Table struct {
	Header []string
	Rows   [][]string
}

// RowsAsMaps exposes each data row as a mapping keyed by the header cell.
func (t Table) RowsAsMaps() []map[string]string {
	out := make([]map[string]string, len(t.Rows))
	for i, row := range t.Rows {
		m := make(map[string]string, len(t.Header))
		for j, h := range t.Header {
			if j < len(row) {
				m[h] = row[j]
			}
		}
		out[i] = m
	}
	return out
}

// DocString is a multiline literal between triple quotes, verbatim minus
// the common leading indent.
type DocString struct {
	Raw string
}

// Step is one executable line of a scenario.
type Step struct {
	Index     int
	Line      int
	EndLine   int
	Prefix    string // Given|When|Then|And|But|*
	Keyword   string // def, match, assert, url, method, ...
	Text      string // expression / sub-keyword RHS
	DocString *DocString
	Table     *Table
	Comments  []string
}

// Scenario is a concrete, runnable unit: either written directly or
// produced by expanding a ScenarioOutline example row.
type Scenario struct {
	FeatureID         string // set by the Feature Runtime at expansion time
	SectionIndex      int
	ExampleIndex       int // -1 when not an outline example
	Line              int
	Tags              []Tag
	Name              string
	Description       string
	Steps             []Step
	DynamicExpression string // non-empty iff the Examples source is an expression
	DynamicError      string // set when evaluating DynamicExpression failed
	ExampleData       map[string]string
}

// UniqueID implements spec §3: package + "_" + (sectionIndex+1) + optional
// "_" + (exampleIndex+1).
func (s Scenario) UniqueID(pkg string) string {
	id := pkg + "_" + itoa(s.SectionIndex+1)
	if s.ExampleIndex >= 0 {
		id += "_" + itoa(s.ExampleIndex+1)
	}
	return id
}

func (s Scenario) IsDynamic() bool { return s.DynamicExpression != "" }

// ExamplesTable is one `Examples:` block attached to a ScenarioOutline.
type ExamplesTable struct {
	Line  int
	Tags  []Tag
	Name  string
	Table Table
}

// ScenarioOutline is a parameterized scenario template; it is expanded
// into N Scenarios at Feature Runtime time (spec §4.B: the Parser does
// NOT expand it, so runtime-generated examples can be supported too).
type ScenarioOutline struct {
	SectionIndex int
	Line         int
	Tags         []Tag
	Name         string
	Description  string
	Steps        []Step
	Examples     []ExamplesTable
	// DynamicExpression is set when the outline carries no literal
	// Examples table but a step computes the example rows at runtime.
	DynamicExpression string
}

// FeatureSection is either a Scenario or a ScenarioOutline.
type FeatureSection struct {
	Index    int
	Scenario *Scenario
	Outline  *ScenarioOutline
}

// Background holds steps prepended to every scenario in the Feature.
type Background struct {
	Line        int
	Description string
	Steps       []Step
}

// Feature is the parsed representation of one Source.
type Feature struct {
	Source      *lexer.Source
	Line        int
	Tags        []Tag
	Name        string
	Description string
	Background  *Background
	Sections    []FeatureSection
	Parallel    bool // false disables intra-feature scenario parallelism
}

// EffectiveTags implements spec Testable Property 3: feature tags union
// scenario tags, order preserved, feature tags first.
func EffectiveTags(feature *Feature, scenarioTags []Tag) []Tag {
	out := make([]Tag, 0, len(feature.Tags)+len(scenarioTags))
	out = append(out, feature.Tags...)
	out = append(out, scenarioTags...)
	return out
}

func HasTag(tags []Tag, name string) bool {
	for _, t := range tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

func LockKey(tags []Tag) (key string, exclusive, shared bool) {
	for _, t := range tags {
		if t.Name != "lock" {
			continue
		}
		if len(t.Values) == 0 {
			return "", false, false
		}
		v := t.Values[0]
		if v == "*" {
			return "*", true, false
		}
		return v, false, true
	}
	return "", false, false
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
