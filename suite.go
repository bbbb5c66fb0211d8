// Package gobdd wires the lexer, parser, expression/match engine, step
// dispatcher, feature/scenario runtime and scenario scheduler into a
// single Suite that a Go test can Run, the way the teacher's own Suite
// wraps *testing.T around a Gherkin document. Where the teacher resolves
// a feature file through gherkin-go and a step through a regexp-matched
// Go function, this Suite resolves it through the hand-written
// lexer/parser and the embedded scripting language: there are no Go step
// functions to register.
package gobdd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/halvard/gobdd/internal/config"
	"github.com/halvard/gobdd/internal/dispatch"
	"github.com/halvard/gobdd/internal/eval"
	"github.com/halvard/gobdd/internal/loader"
	"github.com/halvard/gobdd/internal/match"
	"github.com/halvard/gobdd/internal/parser"
	"github.com/halvard/gobdd/internal/result"
	"github.com/halvard/gobdd/internal/runner"
	"github.com/halvard/gobdd/internal/scheduler"
	"github.com/halvard/gobdd/internal/store"
	"github.com/halvard/gobdd/internal/values"
)

// TestingT is the slice of *testing.T a Suite needs to report outcomes,
// the same seam the teacher's Suite uses so a Suite can be driven from a
// real test binary or a fake in its own tests.
type TestingT interface {
	Log(...interface{})
	Logf(string, ...interface{})
	Fatal(...interface{})
	Fatalf(string, ...interface{})
	Error(...interface{})
	Errorf(string, ...interface{})
	Fail()
	FailNow()
}

// Suite owns everything a run needs: the parsed feature set, the shared
// suite scope, the scheduler, and the optional result sinks.
type Suite struct {
	t       TestingT
	options SuiteOptions
	log     *logrus.Logger

	matcher   *match.Engine
	evaluator *eval.Evaluator
	schemas   *match.SchemaRegistry

	suiteScope *eval.Scope
	singles    *scheduler.CallSingleCache
}

// NewSuite builds a Suite from its functional options and installs the
// teacher's conventional parameter-free defaults (features under
// "features/", no tag filtering, runtime.GOMAXPROCS(0) workers).
func NewSuite(t TestingT, optionClosures ...func(*SuiteOptions)) *Suite {
	options := NewSuiteOptions()
	for _, apply := range optionClosures {
		apply(&options)
	}

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(os.Getenv("GOBDD_LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}

	return &Suite{
		t:       t,
		options: options,
		log:     log,
		schemas: match.NewSchemaRegistry(),
	}
}

// Run discovers, schedules and executes every feature matching the
// suite's FeaturesPath, honoring tag filters and lifecycle hooks, and
// returns the aggregated SuiteResult (spec §4.H/§4.I).
func (s *Suite) Run(ctx context.Context) result.SuiteResult {
	started := time.Now()

	cfg, err := config.Load(s.options.configPath, s.options.env)
	if err != nil {
		s.t.Fatalf("loading config: %v", err)
		return result.SuiteResult{}
	}

	for name, raw := range s.options.schemas {
		if err := s.schemas.RegisterJSON(name, raw); err != nil {
			s.t.Fatalf("registering schema %s: %v", name, err)
			return result.SuiteResult{}
		}
	}

	s.matcher = match.NewEngine(s.schemas)
	s.evaluator = eval.NewEvaluator(eval.NewOSHostResolver())
	s.singles = scheduler.NewCallSingleCache(s.callFeature)

	s.suiteScope = eval.NewScope(nil)
	eval.BindKarateAPI(s.suiteScope, eval.KarateAPIOptions{
		Env:        s.options.env,
		Properties: s.options.properties,
		Config:     cfg,
		Embed:      s.embed,
		CallSingle: s.singles.Get,
		Log:        s.log,
		Evaluator:  s.evaluator,
	})
	// The suite scope is shared by every feature in the run (each
	// FeatureRunner forks its own featureScope from it). Sealing it here
	// is defense in depth on top of FeatureRunner's own Seal of the
	// feature scope: even a scenario that somehow walked past its
	// (sealed) feature scope could never reach back into suite state.
	s.suiteScope.Seal()

	loaded, err := loader.Glob(s.options.featuresPath)
	if err != nil {
		s.t.Fatalf("discovering features at %s: %v", s.options.featuresPath, err)
		return result.SuiteResult{}
	}

	var runners []*runner.FeatureRunner
	var brokenFeatures []result.FeatureResult
	for _, lf := range loaded {
		if lf.Err != nil {
			brokenFeatures = append(brokenFeatures, malformedFeatureResult(lf))
			continue
		}
		fr := runner.NewFeatureRunner(
			s.evaluator, s.matcher, s.newExecutor,
			s.callFeature, s.callFeature,
			eval.KarateAPIOptions{
				Env:        s.options.env,
				Properties: s.options.properties,
				Config:     cfg,
				Embed:      s.embed,
				CallSingle: s.singles.Get,
				Log:        s.log,
				Evaluator:  s.evaluator,
			},
			s.suiteScope, lf.Feature, lf.Path,
		)
		hooks := &runner.Hooks{
			BeforeScenario: s.options.beforeScenario,
			AfterScenario:  s.options.afterScenario,
			BeforeStep:     s.options.beforeStep,
			AfterStep:      s.options.afterStep,
		}
		runners = append(runners, fr.WithHooks(hooks, s.onHookError))
	}

	shouldRun := tagFilter(s.options.tags, s.options.ignoreTags)
	jobs, err := scheduler.BuildJobs(runners, shouldRun)
	if err != nil {
		s.t.Fatalf("building schedule: %v", err)
		return result.SuiteResult{}
	}

	listener, closeListener := s.buildListener()
	defer closeListener()

	sch := scheduler.New(s.options.parallelism, listener)
	sch.BeforeFeature = s.options.beforeFeature
	sch.AfterFeature = s.options.afterFeature
	sch.OnHookError = s.onHookError
	sch.ScenarioTimeout = s.options.scenarioTimeout

	listener.OnSuiteStart(started)
	s.runVoidHooks(s.options.beforeAll)

	fresults, err := sch.Run(ctx, jobs)
	if err != nil {
		s.t.Fatalf("running suite: %v", err)
		return result.SuiteResult{}
	}
	fresults = append(fresults, brokenFeatures...)

	s.runVoidHooks(s.options.afterAll)

	sr := result.SuiteResult{StartedAt: started, Duration: time.Since(started), Features: fresults}
	for _, f := range fresults {
		sr.FailedCount += f.FailedCount()
	}
	listener.OnSuiteEnd(sr)

	if sr.FailedCount > 0 {
		s.t.Errorf("%d scenario(s) failed", sr.FailedCount)
		s.t.Fail()
	}
	return sr
}

// Watch runs the suite once, then re-runs it on every .feature file
// change under the FeaturesPath's directory until stop is closed — the
// development-convenience watch mode named in SPEC_FULL.md's domain
// stack. CI runs should call Run directly instead; a watcher that fails
// to start only logs, it never fails the initial run.
func (s *Suite) Watch(ctx context.Context, stop <-chan struct{}) {
	s.Run(ctx)

	dir := filepath.Dir(strings.SplitN(s.options.featuresPath, "**", 2)[0])
	if dir == "" {
		dir = "."
	}
	w, err := loader.NewWatcher([]string{dir}, s.log)
	if err != nil {
		s.log.WithError(err).Error("watch: cannot start watcher")
		return
	}
	defer w.Close()

	w.Run(stop, func(loader.LoadedFeature) {
		s.log.Info("watch: feature file changed, re-running suite")
		s.Run(ctx)
	})
}

// buildListener assembles the Broadcaster the scheduler streams results
// through, fanning out to an optional Result Store (spec §6.1). The
// returned closer flushes and releases the store's connection.
func (s *Suite) buildListener() (result.Listener, func()) {
	var listeners []result.Listener
	var st *store.Store
	if s.options.storePath != "" {
		opened, err := store.Open(s.options.storePath)
		if err != nil {
			s.log.WithError(err).Error("opening result store; continuing without history")
		} else {
			st = opened
			listeners = append(listeners, st)
		}
	}

	queueSize := s.options.resultQueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	b := result.NewBroadcaster(queueSize, s.log, listeners...)
	return b, func() {
		b.Close()
		if st != nil {
			if err := st.Close(); err != nil {
				s.log.WithError(err).Error("closing result store")
			}
		}
	}
}

func (s *Suite) runVoidHooks(hooks []func()) {
	var errs error
	for _, h := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					errs = multierr.Append(errs, fmt.Errorf("suite hook panic: %v", r))
				}
			}()
			h()
		}()
	}
	if errs != nil {
		s.onHookError(errs)
	}
}

func (s *Suite) onHookError(err error) {
	s.log.WithError(err).Error("lifecycle hook error")
}

func (s *Suite) newExecutor() dispatch.RequestExecutor { return noHTTPExecutor{} }

// embed wraps an artifact as a plain value a script can carry around and
// assign (e.g. `* def shot = karate.embed(bytes, 'image/png')`); this
// runner has no report renderer to auto-attach it to (spec §1 "report
// renderers ... are out of scope"), so unlike the JVM original it returns
// the descriptor instead of mutating scenario state behind the script's
// back.
func (s *Suite) embed(mimeType string, data []byte) (values.Value, error) {
	return values.Map(map[string]values.Value{
		"id":       values.String(uuid.NewString()),
		"mimeType": values.String(mimeType),
		"data":     values.Bytes(data),
	}), nil
}

// callFeature implements the `call`/`callonce path arg` core contract
// (spec §6): load the referenced feature, run its background plus first
// scenario against a scope seeded from arg, and return the final scope as
// a map. It is suite-scoped infrastructure shared by every FeatureRunner
// (as their non-memoized `call`) and by karate.callSingle (wrapped in a
// scheduler.CallSingleCache for suite-wide memoization).
func (s *Suite) callFeature(path string, arg values.Value) (values.Value, error) {
	lf, err := loader.LoadFile(path)
	if err != nil {
		return values.Undefined(), &result.StepError{Kind: result.ErrCall, Message: err.Error()}
	}
	if lf.Err != nil {
		return values.Undefined(), &result.StepError{Kind: result.ErrCall, Message: "parsing called feature: " + lf.Err.Error()}
	}

	scope := s.suiteScope.Fork()
	if arg.Kind == values.KMap {
		for k, v := range *arg.M {
			scope.Define(k, v)
		}
	}

	d := dispatch.New(s.evaluator, s.matcher, s.newExecutor())
	d.Call = s.callFeature
	d.CallOnce = s.callFeature

	var steps []parser.Step
	if lf.Feature.Background != nil {
		steps = append(steps, lf.Feature.Background.Steps...)
	}
	for _, sec := range lf.Feature.Sections {
		if sec.Scenario != nil {
			steps = append(steps, sec.Scenario.Steps...)
			break
		}
	}

	for _, step := range steps {
		res := d.Execute(context.Background(), scope, step)
		if res.Status == result.StatusFailed {
			msg := ""
			if res.Err != nil {
				msg = res.Err.Message
			}
			return values.Undefined(), &result.StepError{Kind: result.ErrCall, Message: fmt.Sprintf("called feature %s failed at %q: %s", path, step.Text, msg)}
		}
	}
	return values.Map(scope.Snapshot()), nil
}

// tagFilter implements the teacher's WithTags/WithIgnoredTags semantics:
// a scenario runs if none of its effective tags are in ignore, and either
// include is empty or at least one effective tag is in include.
func tagFilter(include, ignore []string) func(tags []parser.Tag) bool {
	return func(tags []parser.Tag) bool {
		for _, name := range ignore {
			if parser.HasTag(tags, strings.TrimPrefix(name, "@")) {
				return false
			}
		}
		if len(include) == 0 {
			return true
		}
		for _, name := range include {
			if parser.HasTag(tags, strings.TrimPrefix(name, "@")) {
				return true
			}
		}
		return false
	}
}

// malformedFeatureResult turns a parse failure into the synthetic failed
// FeatureResult/ScenarioResult spec §4.B mandates, so one bad file never
// aborts the suite.
func malformedFeatureResult(lf loader.LoadedFeature) result.FeatureResult {
	now := time.Now()
	sr := result.ScenarioResult{
		UniqueID:    lf.Path,
		Name:        "(unparsable feature)",
		Status:      result.StatusFailed,
		StartedAt:   now,
		FailMessage: fmt.Sprintf("%s:%d:%d %s: %s", lf.Path, lf.Err.Line, lf.Err.Col, lf.Err.Kind, lf.Err.Message),
	}
	return result.FeatureResult{
		Path:      lf.Path,
		Name:      lf.Path,
		Status:    result.StatusFailed,
		StartedAt: now,
		Scenarios: []result.ScenarioResult{sr},
	}
}

// noHTTPExecutor satisfies dispatch.RequestExecutor by staging request
// parts into memory but refusing to dispatch them: the HTTP client is a
// deliberately out-of-scope external collaborator (spec §1), so `request`/
// `method`/`status` steps fail clearly with HttpError rather than
// silently no-opping or reaching the network.
type noHTTPExecutor struct{}

func (noHTTPExecutor) StageURL(string)                              {}
func (noHTTPExecutor) StagePath(...string)                          {}
func (noHTTPExecutor) StageMethod(string)                           {}
func (noHTTPExecutor) StageHeader(string, string)                   {}
func (noHTTPExecutor) StageParam(string, string)                    {}
func (noHTTPExecutor) StageCookie(string, string, map[string]string) {}
func (noHTTPExecutor) StageBody(values.Value)                       {}
func (noHTTPExecutor) StageFormField(string, string)                {}
func (noHTTPExecutor) StageMultipartFile(string, string, string)    {}
func (noHTTPExecutor) Execute(context.Context) (*dispatch.Response, error) {
	return nil, &result.StepError{Kind: result.ErrHTTP, Message: "HTTP execution is not wired into this runner; the request/method/status vocabulary stages but does not dispatch"}
}
