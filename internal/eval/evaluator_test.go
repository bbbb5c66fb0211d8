package eval_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvard/gobdd/internal/eval"
	"github.com/halvard/gobdd/internal/values"
)

func TestEvalArithmeticAndComparison(t *testing.T) {
	e := eval.NewEvaluator(nil)
	scope := eval.NewScope(nil)

	v, err := e.Eval(scope, "1 + 2 * 3")
	require.NoError(t, err)
	assert.Equal(t, values.Number(7), v)

	v, err = e.Eval(scope, "(1 + 2) >= 3 && 'a' == 'a'")
	require.NoError(t, err)
	assert.True(t, v.Truthy())
}

func TestEvalStringConcatenation(t *testing.T) {
	e := eval.NewEvaluator(nil)
	scope := eval.NewScope(nil)
	v, err := e.Eval(scope, `'hello ' + 'world'`)
	require.NoError(t, err)
	assert.Equal(t, "hello world", v.S)
}

func TestEvalDefAndScopeIsolation(t *testing.T) {
	e := eval.NewEvaluator(nil)
	parent := eval.NewScope(nil)
	parent.Define("a", values.Number(1))

	child := parent.Fork()
	v, err := e.Eval(child, "a")
	require.NoError(t, err)
	assert.Equal(t, float64(1), v.N)

	_, err = e.Exec(child, "a = 99")
	require.NoError(t, err)

	pv, _ := parent.Get("a")
	assert.Equal(t, float64(1), pv.N, "writing through a forked scope must not mutate the parent")
}

func TestEvalArrayAndObjectLiterals(t *testing.T) {
	e := eval.NewEvaluator(nil)
	scope := eval.NewScope(nil)
	v, err := e.Eval(scope, `{ name: 'bob', tags: ['a', 'b'] }`)
	require.NoError(t, err)
	require.Equal(t, values.KMap, v.Kind)
	assert.Equal(t, "bob", (*v.M)["name"].S)
	assert.Len(t, *(*v.M)["tags"].L, 2)
}

func TestEvalMemberAndIndexAccess(t *testing.T) {
	e := eval.NewEvaluator(nil)
	scope := eval.NewScope(nil)
	scope.Define("x", values.Map(map[string]values.Value{"list": values.List([]values.Value{values.Number(10), values.Number(20)})}))
	v, err := e.Eval(scope, "x.list[1]")
	require.NoError(t, err)
	assert.Equal(t, float64(20), v.N)
}

func TestEvalFunctionLiteralAndCall(t *testing.T) {
	e := eval.NewEvaluator(nil)
	scope := eval.NewScope(nil)
	fn, err := e.DefineFunction(scope, "function(a, b) { return a + b }")
	require.NoError(t, err)
	scope.Define("add", fn)

	result, err := e.Eval(scope, "add(2, 3)")
	require.NoError(t, err)
	assert.Equal(t, float64(5), result.N)
}

func TestEvalArrowFunctionClosesOverScope(t *testing.T) {
	e := eval.NewEvaluator(nil)
	scope := eval.NewScope(nil)
	scope.Define("base", values.Number(100))
	fn, err := e.DefineFunction(scope, "(n) => base + n")
	require.NoError(t, err)

	v, err := e.Call(fn, []values.Value{values.Number(5)})
	require.NoError(t, err)
	assert.Equal(t, float64(105), v.N)
}

func TestEvalTernaryAndLogical(t *testing.T) {
	e := eval.NewEvaluator(nil)
	scope := eval.NewScope(nil)
	v, err := e.Eval(scope, "1 == 1 ? 'yes' : 'no'")
	require.NoError(t, err)
	assert.Equal(t, "yes", v.S)
}

func TestKarateAPIProvidesEnvAndConfig(t *testing.T) {
	scope := eval.NewScope(nil)
	eval.BindKarateAPI(scope, eval.KarateAPIOptions{
		Env:    "dev",
		Config: map[string]values.Value{"baseUrl": values.String("http://x")},
	})
	e := eval.NewEvaluator(nil)
	v, err := e.Eval(scope, "karate.env")
	require.NoError(t, err)
	assert.Equal(t, "dev", v.S)

	v, err = e.Eval(scope, "karate.config.baseUrl")
	require.NoError(t, err)
	assert.Equal(t, "http://x", v.S)
}
