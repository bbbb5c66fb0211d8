package runner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/halvard/gobdd/internal/eval"
	"github.com/halvard/gobdd/internal/parser"
	"github.com/halvard/gobdd/internal/values"
)

var placeholderPattern = regexp.MustCompile(`<([^<>]+)>`)

// ExpandOutline implements spec Testable Property 2: a ScenarioOutline
// with N example rows expands into N Scenarios, with <token>
// substitutions from row i applied to name/steps/tables/doc-strings.
// A DynamicExpression outline instead evaluates its expression against
// featureScope with evaluator and expands one Scenario per element of
// the resulting array (spec §4.G); evaluation failure yields a single
// synthetic scenario reported with kind=parse_or_setup_error, matching
// the resolved Open Question on that behavior.
func ExpandOutline(out *parser.ScenarioOutline, evaluator *eval.Evaluator, featureScope *eval.Scope) []*parser.Scenario {
	var scenarios []*parser.Scenario
	exampleIndex := 0
	for _, ex := range out.Examples {
		for _, row := range ex.Table.RowsAsMaps() {
			sc := &parser.Scenario{
				SectionIndex: out.SectionIndex,
				ExampleIndex: exampleIndex,
				Line:         out.Line,
				Tags:         append(append([]parser.Tag{}, out.Tags...), ex.Tags...),
				Name:         substitute(out.Name, row),
				Description:  substitute(out.Description, row),
				Steps:        substituteSteps(out.Steps, row),
				ExampleData:  row,
			}
			scenarios = append(scenarios, sc)
			exampleIndex++
		}
	}

	if out.DynamicExpression == "" {
		return scenarios
	}

	dynamic, err := expandDynamic(out, evaluator, featureScope, exampleIndex)
	if err != nil {
		return append(scenarios, dynamicExpansionError(out, err))
	}
	return append(scenarios, dynamic...)
}

func expandDynamic(out *parser.ScenarioOutline, evaluator *eval.Evaluator, featureScope *eval.Scope, startIndex int) ([]*parser.Scenario, error) {
	if evaluator == nil || featureScope == nil {
		return nil, fmt.Errorf("dynamic Examples expression requires an evaluator bound to the feature scope")
	}
	v, err := evaluator.Eval(featureScope, out.DynamicExpression)
	if err != nil {
		return nil, err
	}
	if v.Kind != values.KList {
		return nil, fmt.Errorf("dynamic Examples expression must evaluate to an array of row objects, got %s", v.TypeName())
	}

	scenarios := make([]*parser.Scenario, 0, len(*v.L))
	exampleIndex := startIndex
	for _, item := range *v.L {
		row := rowFromValue(item)
		sc := &parser.Scenario{
			SectionIndex: out.SectionIndex,
			ExampleIndex: exampleIndex,
			Line:         out.Line,
			Tags:         append([]parser.Tag{}, out.Tags...),
			Name:         substitute(out.Name, row),
			Description:  substitute(out.Description, row),
			Steps:        substituteSteps(out.Steps, row),
			ExampleData:  row,
		}
		scenarios = append(scenarios, sc)
		exampleIndex++
	}
	return scenarios, nil
}

// rowFromValue flattens an evaluated array element into the same
// string-keyed row shape a literal Examples table row produces, so
// <token> substitution works identically for both sources.
func rowFromValue(v values.Value) map[string]string {
	row := map[string]string{}
	if v.Kind != values.KMap {
		return row
	}
	for k, val := range *v.M {
		row[k] = val.String()
	}
	return row
}

func dynamicExpansionError(out *parser.ScenarioOutline, err error) *parser.Scenario {
	return &parser.Scenario{
		SectionIndex:      out.SectionIndex,
		ExampleIndex:      0,
		Line:              out.Line,
		Tags:              out.Tags,
		Name:              out.Name,
		DynamicExpression: out.DynamicExpression,
		DynamicError:      err.Error(),
	}
}

func substitute(text string, row map[string]string) string {
	if text == "" || !strings.Contains(text, "<") {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(tok string) string {
		key := strings.TrimSuffix(strings.TrimPrefix(tok, "<"), ">")
		if v, ok := row[key]; ok {
			return v
		}
		return tok
	})
}

func substituteSteps(steps []parser.Step, row map[string]string) []parser.Step {
	out := make([]parser.Step, len(steps))
	for i, s := range steps {
		cp := s
		cp.Text = substitute(s.Text, row)
		if s.DocString != nil {
			doc := *s.DocString
			doc.Raw = substitute(doc.Raw, row)
			cp.DocString = &doc
		}
		if s.Table != nil {
			tbl := substituteTable(*s.Table, row)
			cp.Table = &tbl
		}
		out[i] = cp
	}
	return out
}

func substituteTable(t parser.Table, row map[string]string) parser.Table {
	newRows := make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		newRow := make([]string, len(r))
		for j, cell := range r {
			newRow[j] = substitute(cell, row)
		}
		newRows[i] = newRow
	}
	return parser.Table{Header: t.Header, Rows: newRows}
}
