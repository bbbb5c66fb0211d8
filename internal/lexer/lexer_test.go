package lexer_test

import (
	"testing"

	"github.com/go-bdd/assert"

	"github.com/halvard/gobdd/internal/lexer"
)

func TestTokenizeBasicScenario(t *testing.T) {
	src := lexer.NewSource("hello.feature", "Feature: F\nScenario: hello\n* def a = 1\n* match a == 1\n")
	toks := lexer.New(src).Tokenize()

	var kinds []lexer.Kind
	for _, tok := range toks {
		if tok.Kind == lexer.WS {
			continue
		}
		kinds = append(kinds, tok.Kind)
	}

	assert.True(t, len(kinds) > 0, "expected at least one non-whitespace token")
	assert.Equal(t, lexer.GFeature, kinds[0])
	assert.Equal(t, kinds[len(kinds)-1], lexer.EOF)
}

func TestTokenizeScenarioOutlineBeatsScenario(t *testing.T) {
	src := lexer.NewSource("o.feature", "Feature: F\nScenario Outline: hi\n* match n == <n>\nExamples:\n| n |\n| 1 |\n")
	toks := lexer.New(src).Tokenize()

	found := false
	for _, tok := range toks {
		if tok.Kind == lexer.GScenarioOutline {
			found = true
		}
		if tok.Kind == lexer.GScenario {
			t.Fatalf("matched bare Scenario: inside an Outline header")
		}
	}
	if !found {
		t.Fatalf("expected a G_SCENARIO_OUTLINE token")
	}
}

func TestTokenizeTagsWithValues(t *testing.T) {
	src := lexer.NewSource("t.feature", "@lock=shared @smoke\nFeature: F\n")
	toks := lexer.New(src).Tokenize()

	var tags []string
	for _, tok := range toks {
		if tok.Kind == lexer.GTag {
			tags = append(tags, tok.Text)
		}
	}
	if len(tags) != 2 || tags[0] != "@lock=shared" || tags[1] != "@smoke" {
		t.Fatalf("unexpected tags: %v", tags)
	}
}

func TestTokenizeDocString(t *testing.T) {
	src := lexer.NewSource("d.feature", "Feature: F\nScenario: s\n* def a =\n\"\"\"\nhello\nworld\n\"\"\"\n")
	toks := lexer.New(src).Tokenize()

	openCount, exprCount := 0, 0
	for _, tok := range toks {
		if tok.Kind == lexer.GTripleQuote {
			openCount++
		}
		if tok.Kind == lexer.GExpr {
			exprCount++
		}
	}
	if openCount != 2 {
		t.Fatalf("expected 2 triple-quote tokens, got %d", openCount)
	}
	if exprCount == 0 {
		t.Fatalf("expected at least one doc-string body token")
	}
}

func TestTokenizeTableRows(t *testing.T) {
	src := lexer.NewSource("ex.feature", "Examples:\n| n | v |\n| 1 | a |\n")
	toks := lexer.New(src).Tokenize()

	var cells []string
	for _, tok := range toks {
		if tok.Kind == lexer.GTableCell {
			cells = append(cells, tok.Text)
		}
	}
	if len(cells) != 4 {
		t.Fatalf("expected 4 table cells, got %d (%v)", len(cells), cells)
	}
}

func TestTokenizeUnterminatedDocStringIsError(t *testing.T) {
	src := lexer.NewSource("bad.feature", "Feature: F\nScenario: s\n* def a =\n\"\"\"\nhello\n")
	toks := lexer.New(src).Tokenize()
	last := toks[len(toks)-1]
	if last.Kind != lexer.ERROR {
		t.Fatalf("expected ERROR token for unterminated doc-string, got %v", last.Kind)
	}
}

func TestTokenizeMatchOperatorsAndModifiers(t *testing.T) {
	src := lexer.NewSource("m.feature", "Feature: F\nScenario: s\n* match response contains only deep { a: 1 }\n")
	toks := lexer.New(src).Tokenize()

	var ops, mods []string
	for _, tok := range toks {
		if tok.Kind == lexer.EOp {
			ops = append(ops, tok.Text)
		}
		if tok.Kind == lexer.EIdent && (tok.Text == "only" || tok.Text == "deep") {
			mods = append(mods, tok.Text)
		}
	}
	if len(ops) != 1 || ops[0] != "contains" {
		t.Fatalf("expected single contains operator, got %v", ops)
	}
	if len(mods) != 2 {
		t.Fatalf("expected only+deep modifiers, got %v", mods)
	}
}

func TestTokenizeBareBracketIsExpressionNotKeyword(t *testing.T) {
	src := lexer.NewSource("e.feature", "Feature: F\nScenario: s\n* eval(1 + 1)\n")
	toks := lexer.New(src).Tokenize()

	for _, tok := range toks {
		if tok.Kind == lexer.GKeyword && tok.Text == "eval" {
			t.Fatalf("eval( should have been treated as an expression, not a keyword")
		}
	}
}
