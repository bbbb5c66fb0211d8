package match_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvard/gobdd/internal/match"
	"github.com/halvard/gobdd/internal/values"
)

func TestMatchEqualsDeepStructures(t *testing.T) {
	eng := match.NewEngine(nil)
	actual := values.Map(map[string]values.Value{
		"id":   values.Number(1),
		"tags": values.List([]values.Value{values.String("a"), values.String("b")}),
	})
	expected := values.Map(map[string]values.Value{
		"id":   values.Number(1),
		"tags": values.List([]values.Value{values.String("a"), values.String("b")}),
	})
	r := eng.Match(match.Equals, actual, expected)
	assert.True(t, r.Pass, r.Message)
}

func TestMatchEqualsReportsMissingKey(t *testing.T) {
	eng := match.NewEngine(nil)
	actual := values.Map(map[string]values.Value{"id": values.Number(1)})
	expected := values.Map(map[string]values.Value{"id": values.Number(1), "name": values.String("x")})
	r := eng.Match(match.Equals, actual, expected)
	require.False(t, r.Pass)
	assert.Contains(t, r.Message, "missing")
}

func TestMatchContainsObjectSubset(t *testing.T) {
	eng := match.NewEngine(nil)
	actual := values.Map(map[string]values.Value{"id": values.Number(1), "extra": values.Bool(true)})
	expected := values.Map(map[string]values.Value{"id": values.Number(1)})
	r := eng.Match(match.Contains, actual, expected)
	assert.True(t, r.Pass, r.Message)
}

func TestMatchContainsOnlyRejectsExtraElements(t *testing.T) {
	eng := match.NewEngine(nil)
	actual := values.List([]values.Value{values.Number(1), values.Number(2), values.Number(3)})
	expected := values.List([]values.Value{values.Number(1), values.Number(2)})
	r := eng.Match(match.ContainsOnly, actual, expected)
	assert.False(t, r.Pass)
}

func TestMatchEachAppliesPatternToEveryElement(t *testing.T) {
	eng := match.NewEngine(nil)
	actual := values.List([]values.Value{values.String("x"), values.String("y")})
	r := eng.Match(match.Each, actual, values.String("#string"))
	assert.True(t, r.Pass, r.Message)
}

func TestMatchSchemaTokens(t *testing.T) {
	eng := match.NewEngine(nil)

	cases := []struct {
		name     string
		actual   values.Value
		token    string
		wantPass bool
	}{
		{"string ok", values.String("x"), "#string", true},
		{"string fail", values.Number(1), "#string", false},
		{"uuid ok", values.String("550e8400-e29b-41d4-a716-446655440000"), "#uuid", true},
		{"uuid fail", values.String("not-a-uuid"), "#uuid", false},
		{"notnull ok", values.Number(0), "#notnull", true},
		{"notnull fail", values.Null(), "#notnull", false},
		{"regex ok", values.String("abc123"), "#regex [a-z]+[0-9]+", true},
	}
	for _, c := range cases {
		r := eng.Match(match.Equals, c.actual, values.String(c.token))
		assert.Equal(t, c.wantPass, r.Pass, "%s: %s", c.name, r.Message)
	}
}

func TestMatchArrayLengthToken(t *testing.T) {
	eng := match.NewEngine(nil)
	actual := values.List([]values.Value{values.Number(1), values.Number(2)})
	r := eng.Match(match.Equals, actual, values.String("#[2]"))
	assert.True(t, r.Pass, r.Message)
}

func TestMatchNamedSchemaViaRegistry(t *testing.T) {
	reg := match.NewSchemaRegistry()
	err := reg.RegisterJSON("user", []byte(`{
		"type": "object",
		"required": ["id"],
		"properties": { "id": { "type": "number" } }
	}`))
	require.NoError(t, err)

	eng := match.NewEngine(reg)
	actual := values.Map(map[string]values.Value{"id": values.Number(1)})
	r := eng.Match(match.Equals, actual, values.String("#schema user"))
	assert.True(t, r.Pass, r.Message)

	bad := values.Map(map[string]values.Value{"id": values.String("nope")})
	r = eng.Match(match.Equals, bad, values.String("#schema user"))
	assert.False(t, r.Pass)
}
