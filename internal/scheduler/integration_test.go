package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvard/gobdd/internal/dispatch"
	"github.com/halvard/gobdd/internal/eval"
	"github.com/halvard/gobdd/internal/lexer"
	"github.com/halvard/gobdd/internal/match"
	"github.com/halvard/gobdd/internal/parser"
	"github.com/halvard/gobdd/internal/result"
	"github.com/halvard/gobdd/internal/runner"
	"github.com/halvard/gobdd/internal/scheduler"
	"github.com/halvard/gobdd/internal/values"
)

type nopExecutor struct{}

func (nopExecutor) StageURL(string)                                     {}
func (nopExecutor) StagePath(...string)                                 {}
func (nopExecutor) StageMethod(string)                                  {}
func (nopExecutor) StageHeader(string, string)                          {}
func (nopExecutor) StageParam(string, string)                           {}
func (nopExecutor) StageCookie(string, string, map[string]string)       {}
func (nopExecutor) StageBody(values.Value)                              {}
func (nopExecutor) StageFormField(string, string)                       {}
func (nopExecutor) StageMultipartFile(string, string, string)           {}
func (nopExecutor) Execute(context.Context) (*dispatch.Response, error) { return &dispatch.Response{}, nil }

func mustParseFeature(t *testing.T, text string) *parser.Feature {
	t.Helper()
	src := lexer.NewSource("t.feature", text)
	f, err := parser.Parse(src)
	require.Nil(t, err)
	return f
}

// TestCallOnceMemoizedPerFeatureNotPerSuite implements S4: two features
// each call a helper via callonce; the helper increments a shared
// counter once per feature regardless of how many scenarios call it.
func TestCallOnceMemoizedPerFeatureNotPerSuite(t *testing.T) {
	var counter int32
	helperLoader := func(path string, arg values.Value) (values.Value, error) {
		n := atomic.AddInt32(&counter, 1)
		return values.Map(map[string]values.Value{"count": values.Number(float64(n))}), nil
	}

	featureText := "Feature: F\nBackground:\n* callonce 'helper'\nScenario: a\n* assert count == 1 || count == 2\nScenario: b\n* assert count == 1 || count == 2\n"

	evaluator := eval.NewEvaluator(nil)
	matcher := match.NewEngine(nil)

	var runners []*runner.FeatureRunner
	for i := 0; i < 2; i++ {
		feat := mustParseFeature(t, featureText)
		suiteScope := eval.NewScope(nil)
		fr := runner.NewFeatureRunner(evaluator, matcher, func() dispatch.RequestExecutor { return nopExecutor{} },
			nil, helperLoader, eval.KarateAPIOptions{}, suiteScope, feat, "pkg")
		runners = append(runners, fr)
	}

	jobs, err := scheduler.BuildJobs(runners, nil)
	require.NoError(t, err)
	require.Len(t, jobs, 4)

	sched := scheduler.New(4, nil)
	results, err := sched.Run(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, fres := range results {
		for _, sc := range fres.Scenarios {
			assert.Equal(t, result.StatusPassed, sc.Status, sc.FailMessage)
		}
	}
	assert.EqualValues(t, 2, counter, "helper must run exactly once per feature across both features")
}

// TestScenarioVariableIsolationAcrossParallelRun implements S8: four
// scenarios each def their own value from the same name and must each
// observe their own write, never a sibling's.
func TestScenarioVariableIsolationAcrossParallelRun(t *testing.T) {
	featureText := `Feature: F
Scenario: s1
* def myVar = 's1'
* match myVar == 's1'
Scenario: s2
* def myVar = 's2'
* match myVar == 's2'
Scenario: s3
* def myVar = 's3'
* match myVar == 's3'
Scenario: s4
* def myVar = 's4'
* match myVar == 's4'
`
	feat := mustParseFeature(t, featureText)
	evaluator := eval.NewEvaluator(nil)
	matcher := match.NewEngine(nil)
	suiteScope := eval.NewScope(nil)
	fr := runner.NewFeatureRunner(evaluator, matcher, func() dispatch.RequestExecutor { return nopExecutor{} },
		nil, nil, eval.KarateAPIOptions{}, suiteScope, feat, "pkg")

	jobs, err := scheduler.BuildJobs([]*runner.FeatureRunner{fr}, nil)
	require.NoError(t, err)

	sched := scheduler.New(4, nil)
	results, err := sched.Run(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Scenarios, 4)
	for _, sc := range results[0].Scenarios {
		assert.Equal(t, result.StatusPassed, sc.Status, sc.FailMessage)
	}
}
