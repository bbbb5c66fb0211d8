package runner

import (
	"context"
	"sync"
	"time"

	"github.com/halvard/gobdd/internal/dispatch"
	"github.com/halvard/gobdd/internal/eval"
	"github.com/halvard/gobdd/internal/match"
	"github.com/halvard/gobdd/internal/parser"
	"github.com/halvard/gobdd/internal/result"
	"github.com/halvard/gobdd/internal/values"
)

// onceCell memoizes one callonce(path) invocation for the lifetime of a
// single feature run (spec §4.G: "Each feature has its own cache — this
// is an explicit feature-scoped, NOT suite-scoped, contract").
type onceCell struct {
	once  sync.Once
	value values.Value
	err   error
}

// FeatureRunner expands a Feature's sections into concrete Scenarios and
// prepares everything a scenario needs to run, including a feature-
// scoped `callonce` cache (spec component G). Its RunScenario method is
// safe to call concurrently from multiple Scheduler worker goroutines
// for scenarios belonging to the SAME feature: the feature scope is
// read-only after construction (scenarios only ever Fork it), and the
// callonce cache is itself a mutex + sync.Once per path.
type FeatureRunner struct {
	Evaluator   *eval.Evaluator
	Matcher     *match.Engine
	NewExecutor func() dispatch.RequestExecutor // factory: fresh staging state per scenario
	Call        dispatch.CallFunc               // resolves `call path arg` (not memoized)
	CallFeature dispatch.CallFunc               // underlying loader backing callonce's memo cache

	feature      *parser.Feature
	pkg          string
	featureScope *eval.Scope
	background   []parser.Step
	hooks        *Hooks
	onHookError  func(error)

	cacheMu sync.Mutex
	cache   map[string]*onceCell
}

// NewFeatureRunner binds karate.* into a fresh child of suiteScope and
// returns a runner ready to expand and execute feature's scenarios.
func NewFeatureRunner(evaluator *eval.Evaluator, matcher *match.Engine, newExecutor func() dispatch.RequestExecutor, call, callFeature dispatch.CallFunc, karateOpts eval.KarateAPIOptions, suiteScope *eval.Scope, feature *parser.Feature, pkg string) *FeatureRunner {
	featureScope := suiteScope.Fork()
	eval.BindKarateAPI(featureScope, karateOpts)
	// Sealed once built: no scenario scope forked from it may write back
	// into it, only read-and-copy (spec §5 "Background freezing").
	featureScope.Seal()

	var background []parser.Step
	if feature.Background != nil {
		background = feature.Background.Steps
	}

	return &FeatureRunner{
		Evaluator:    evaluator,
		Matcher:      matcher,
		NewExecutor:  newExecutor,
		Call:         call,
		CallFeature:  callFeature,
		feature:      feature,
		pkg:          pkg,
		featureScope: featureScope,
		background:   background,
		cache:        make(map[string]*onceCell),
	}
}

// Path returns the owning feature's source path, used by the Scheduler
// for result grouping and by the Result Store for history keys.
func (fr *FeatureRunner) Path() string { return fr.feature.Source.Path }
func (fr *FeatureRunner) Name() string { return fr.feature.Name }

// WithHooks installs the suite's beforeScenario/afterScenario/beforeStep/
// afterStep callbacks, invoked on the scenario's own goroutine (spec
// §4.H: "beforeScenario and afterScenario run on the scenario thread").
func (fr *FeatureRunner) WithHooks(hooks *Hooks, onHookError func(error)) *FeatureRunner {
	fr.hooks = hooks
	fr.onHookError = onHookError
	return fr
}

// ExpandScenarios flattens every section (including ScenarioOutline
// expansion) into concrete Scenarios the Scheduler can distribute across
// worker goroutines, each tagged with its effective (feature ∪ scenario)
// tags for lock-key/tag-filter decisions.
func (fr *FeatureRunner) ExpandScenarios() []*parser.Scenario {
	var out []*parser.Scenario
	for _, sec := range fr.feature.Sections {
		if sec.Scenario != nil {
			out = append(out, sec.Scenario)
			continue
		}
		out = append(out, ExpandOutline(sec.Outline, fr.Evaluator, fr.featureScope)...)
	}
	return out
}

// EffectiveTags exposes spec Testable Property 3 for a given scenario.
func (fr *FeatureRunner) EffectiveTags(sc *parser.Scenario) []parser.Tag {
	return parser.EffectiveTags(fr.feature, sc.Tags)
}

// RunScenario executes one scenario's background+steps against a scope
// forked from the feature scope. Safe for concurrent invocation across
// scenarios of the same feature.
func (fr *FeatureRunner) RunScenario(ctx context.Context, sc *parser.Scenario, skip bool) result.ScenarioResult {
	scr := &ScenarioRunner{
		Evaluator: fr.Evaluator,
		NewDispatcher: func() *dispatch.Dispatcher {
			d := dispatch.New(fr.Evaluator, fr.Matcher, fr.NewExecutor())
			d.Call = fr.Call
			d.CallOnce = fr.memoizedCallOnce()
			return d
		},
		Hooks:       fr.hooks,
		OnHookError: fr.onHookError,
	}
	return scr.Run(ctx, fr.featureScope, fr.pkg, fr.background, sc, skip)
}

// memoizedCallOnce wraps fr.CallFeature with the feature-scoped
// double-checked cache: the first caller for a given path executes the
// callee and every later caller (any scenario in this feature) shares
// that result (spec Testable Property 7).
func (fr *FeatureRunner) memoizedCallOnce() dispatch.CallFunc {
	return func(path string, arg values.Value) (values.Value, error) {
		fr.cacheMu.Lock()
		cell, ok := fr.cache[path]
		if !ok {
			cell = &onceCell{}
			fr.cache[path] = cell
		}
		fr.cacheMu.Unlock()

		cell.once.Do(func() {
			cell.value, cell.err = fr.CallFeature(path, arg)
		})
		return cell.value.DeepCopy(), cell.err
	}
}

// Collect assembles a FeatureResult from already-produced
// ScenarioResults, for callers (the Scheduler) that run scenarios
// out-of-order across goroutines and reassemble afterward.
func Collect(path, name string, started time.Time, scenarios []result.ScenarioResult) result.FeatureResult {
	fres := result.FeatureResult{Path: path, Name: name, StartedAt: started, Status: result.StatusPassed, Scenarios: scenarios}
	fres.Duration = time.Since(started)
	for _, s := range scenarios {
		if s.Status == result.StatusFailed {
			fres.Status = result.StatusFailed
			break
		}
	}
	return fres
}
