package parser

import (
	"strings"

	"github.com/halvard/gobdd/internal/lexer"
)

// Parser consumes a lexer.Token stream and builds a Feature.
type Parser struct {
	src    *lexer.Source
	toks   []lexer.Token
	pos    int
	errors []*Error
}

// Parse tokenizes and parses src into a Feature. A parse-legal feature
// always returns a non-nil Feature and a nil error; malformed input
// returns the Feature parsed so far (possibly empty) alongside the first
// Error encountered, per spec §4.B ("Parse errors do not abort the
// suite").
func Parse(src *lexer.Source) (*Feature, *Error) {
	toks := lexer.New(src).Tokenize()
	p := &Parser{src: src, toks: toks}
	f := p.parseFeature()
	if len(p.errors) > 0 {
		return f, p.errors[0]
	}
	return f, nil
}

func (p *Parser) peek() lexer.Token {
	for p.pos < len(p.toks) && (p.toks[p.pos].Kind == lexer.WS) {
		p.pos++
	}
	if p.pos >= len(p.toks) {
		return lexer.Token{Kind: lexer.EOF}
	}
	return p.toks[p.pos]
}

func (p *Parser) advance() lexer.Token {
	t := p.peek()
	p.pos++
	return t
}

func (p *Parser) skipBlank() {
	for {
		t := p.peek()
		if t.Kind == lexer.WSLF || t.Kind == lexer.GComment {
			p.pos++
			continue
		}
		break
	}
}

func (p *Parser) fail(kind ErrorKind, msg string) {
	line, col := 1, 1
	if p.pos < len(p.toks) {
		line, col = p.toks[p.pos].Line, p.toks[p.pos].Col
	}
	p.errors = append(p.errors, &Error{Line: line, Col: col, Kind: kind, Message: msg})
}

func (p *Parser) parseFeature() *Feature {
	f := &Feature{Source: p.src, Parallel: true}

	p.skipBlank()
	f.Tags = p.parseTags()
	p.skipBlank()

	t := p.peek()
	if t.Kind != lexer.GFeature {
		p.fail(ErrMissingColon, "expected 'Feature:' header")
		return f
	}
	p.advance()
	f.Line = t.Line
	f.Name = p.parseTitle(t.Line)
	f.Description = p.parseDescription()

	sectionIndex := 0
	for {
		p.skipBlank()
		t = p.peek()
		switch t.Kind {
		case lexer.EOF:
			if len(f.Sections) == 0 && f.Background == nil {
				p.fail(ErrEmptyFeature, "feature has no scenarios")
			}
			return f
		case lexer.GBackground:
			p.advance()
			f.Background = p.parseBackground(t.Line)
		case lexer.GTag, lexer.GScenario, lexer.GScenarioOutline:
			sec := p.parseSection(sectionIndex)
			f.Sections = append(f.Sections, sec)
			sectionIndex++
		default:
			p.fail(ErrUnexpectedToken, "unexpected token in feature body: "+string(t.Kind))
			p.advance()
		}
	}
}

func (p *Parser) parseTags() []Tag {
	var tags []Tag
	for {
		t := p.peek()
		if t.Kind != lexer.GTag {
			break
		}
		p.advance()
		tags = append(tags, ParseTag(t.Line, t.Text))
	}
	return tags
}

// parseTitle consumes the text on a header's own line (after
// `Feature:`/`Scenario:`/`Scenario Outline:`) as that section's name.
func (p *Parser) parseTitle(line int) string {
	if t := p.peek(); t.Kind == lexer.GDesc && t.Line == line {
		p.advance()
		return t.Text
	}
	return ""
}

// parseDescription preserves consecutive description lines as a single
// newline-joined string, stopping the moment a Gherkin construct appears.
func (p *Parser) parseDescription() string {
	var lines []string
	for {
		p.skipBlankLinesOnly()
		t := p.peek()
		if t.Kind != lexer.GDesc {
			break
		}
		p.advance()
		lines = append(lines, t.Text)
	}
	return strings.Join(lines, "\n")
}

// skipBlankLinesOnly consumes WSLF but does not skip comments, so a
// description scan can tell the difference between "more description"
// and "a new section started".
func (p *Parser) skipBlankLinesOnly() {
	for p.peek().Kind == lexer.WSLF {
		p.pos++
	}
}

func (p *Parser) parseBackground(line int) *Background {
	bg := &Background{Line: line}
	bg.Description = p.parseDescription()
	bg.Steps = p.parseSteps()
	return bg
}

func (p *Parser) parseSection(index int) FeatureSection {
	tags := p.parseTags()
	p.skipBlank()
	t := p.peek()

	switch t.Kind {
	case lexer.GScenarioOutline:
		p.advance()
		return FeatureSection{Index: index, Outline: p.parseOutline(index, t.Line, tags)}
	case lexer.GScenario:
		p.advance()
		sc := &Scenario{SectionIndex: index, ExampleIndex: -1, Line: t.Line, Tags: tags}
		sc.Name = p.parseTitle(t.Line)
		sc.Description = p.parseDescription()
		sc.Steps = p.parseSteps()
		return FeatureSection{Index: index, Scenario: sc}
	default:
		p.fail(ErrUnexpectedToken, "expected 'Scenario:' or 'Scenario Outline:'")
		p.advance()
		return FeatureSection{Index: index, Scenario: &Scenario{SectionIndex: index, ExampleIndex: -1, Tags: tags}}
	}
}

func (p *Parser) parseOutline(index, line int, tags []Tag) *ScenarioOutline {
	out := &ScenarioOutline{SectionIndex: index, Line: line, Tags: tags}
	out.Name = p.parseTitle(line)
	out.Description = p.parseDescription()
	out.Steps = p.parseSteps()

	for {
		p.skipBlank()
		exTags := p.parseTags()
		p.skipBlank()
		t := p.peek()
		if t.Kind != lexer.GExamples {
			if len(exTags) > 0 {
				// Tags belonged to the next section; rewind isn't
				// supported over the flattened stream, so treat this
				// as the end of the outline's examples.
				p.pos -= len(exTags)
			}
			break
		}
		p.advance()
		ex := ExamplesTable{Line: t.Line, Tags: exTags}
		ex.Name = p.parseDescription()
		ex.Table = p.parseTable()
		// A single-cell, row-less table is not literal data: its one
		// header cell is an expression evaluated against the feature
		// scope at expansion time, one clone per resulting element
		// (spec §4.G dynamic Examples).
		if out.DynamicExpression == "" && len(ex.Table.Rows) == 0 && len(ex.Table.Header) == 1 {
			out.DynamicExpression = ex.Table.Header[0]
			continue
		}
		out.Examples = append(out.Examples, ex)
	}
	return out
}

func (p *Parser) parseSteps() []Step {
	var steps []Step
	index := 0
	for {
		p.skipBlank()
		t := p.peek()
		if t.Kind != lexer.GPrefix {
			break
		}
		p.advance()
		steps = append(steps, p.parseStep(index, t))
		index++
	}
	return steps
}

func (p *Parser) parseStep(index int, prefixTok lexer.Token) Step {
	step := Step{Index: index, Line: prefixTok.Line, Prefix: prefixTok.Text}

	kw := p.peek()
	if kw.Kind == lexer.GKeyword {
		p.advance()
		step.Keyword = kw.Text
	} else if kw.Kind == lexer.GExpr {
		// Bare expression step, e.g. `* eval(1+1)`: no separate keyword.
		step.Keyword = ""
	}

	var textParts []string
	for {
		t := p.peek()
		if t.Kind == lexer.WSLF || t.Kind == lexer.EOF {
			break
		}
		if t.Kind == lexer.GTripleQuote || t.Kind == lexer.GPipe {
			break
		}
		p.advance()
		textParts = append(textParts, t.Text)
	}
	step.Text = strings.TrimSpace(strings.Join(textParts, " "))
	step.EndLine = prefixTok.Line

	p.skipBlank()
	if p.peek().Kind == lexer.GTripleQuote {
		step.DocString = p.parseDocString()
	} else if p.peek().Kind == lexer.GPipe {
		tbl := p.parseTable()
		step.Table = &tbl
	}
	return step
}

func (p *Parser) parseDocString() *DocString {
	p.advance() // opening """
	var raw strings.Builder
	for {
		t := p.peek()
		if t.Kind == lexer.GTripleQuote {
			p.advance()
			break
		}
		if t.Kind == lexer.ERROR || t.Kind == lexer.EOF {
			p.fail(ErrUnterminatedDocStr, "unterminated doc-string")
			break
		}
		if t.Kind == lexer.GExpr {
			raw.WriteString(t.Text)
		}
		p.advance()
	}
	return &DocString{Raw: stripCommonIndent(raw.String())}
}

func stripCommonIndent(s string) string {
	lines := strings.Split(s, "\n")
	minIndent := -1
	for _, l := range lines {
		trimmed := strings.TrimLeft(l, " \t")
		if trimmed == "" {
			continue
		}
		indent := len(l) - len(trimmed)
		if minIndent == -1 || indent < minIndent {
			minIndent = indent
		}
	}
	if minIndent <= 0 {
		return strings.Trim(s, "\n")
	}
	for i, l := range lines {
		if len(l) >= minIndent {
			lines[i] = l[minIndent:]
		}
	}
	return strings.Trim(strings.Join(lines, "\n"), "\n")
}

func (p *Parser) parseTable() Table {
	var rows [][]string
	for p.peek().Kind == lexer.GPipe {
		row := p.parseTableRow()
		if row != nil {
			rows = append(rows, row)
		}
		p.skipBlankLinesOnly()
	}
	if len(rows) == 0 {
		p.fail(ErrMalformedTable, "empty table")
		return Table{}
	}
	return Table{Header: rows[0], Rows: rows[1:]}
}

func (p *Parser) parseTableRow() []string {
	var cells []string
	for {
		t := p.peek()
		if t.Kind != lexer.GPipe {
			break
		}
		p.advance()
		if p.peek().Kind == lexer.GTableCell {
			cells = append(cells, p.advance().Text)
		}
	}
	return cells
}
