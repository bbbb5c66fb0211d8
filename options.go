package gobdd

import (
	"runtime"
	"time"

	"github.com/halvard/gobdd/internal/runner"
)

// SuiteOptions configures a Suite, built with the teacher's functional-
// options pattern (NewSuiteOptions + With* closures) and extended with
// WithConfigFile/WithEnv/WithResultStore/WithJSONSchema for this module's
// domain stack.
type SuiteOptions struct {
	featuresPath string
	configPath   string
	env          string
	tags         []string
	ignoreTags   []string
	parallelism  int
	properties   map[string]string
	storePath    string
	resultQueueSize int
	scenarioTimeout time.Duration
	schemas      map[string][]byte

	beforeAll []func()
	afterAll  []func()

	beforeFeature []func(path string)
	afterFeature  []func(path string)

	beforeScenario []func(runner.HookInfo)
	afterScenario  []func(runner.HookInfo)
	beforeStep     []func(runner.HookInfo)
	afterStep      []func(runner.HookInfo)
}

// NewSuiteOptions creates a new suite configuration with the teacher's
// conventional defaults: a single-glob features path, no tag filtering,
// no config file, runtime.GOMAXPROCS(0) scheduler workers.
func NewSuiteOptions() SuiteOptions {
	parallelism := runtime.GOMAXPROCS(0)
	if parallelism < 1 {
		parallelism = 1
	}
	return SuiteOptions{
		featuresPath: "features/*.feature",
		properties:   map[string]string{},
		schemas:      map[string][]byte{},
		parallelism:  parallelism,
	}
}

// WithFeaturesPath configures the glob pattern (supporting a "**"
// recursive segment) where feature files are discovered. The default is
// "features/*.feature".
func WithFeaturesPath(path string) func(*SuiteOptions) {
	return func(o *SuiteOptions) { o.featuresPath = path }
}

// WithConfigFile loads a karate-config.yml-equivalent document, merging
// its "default" section with the section named by WithEnv.
func WithConfigFile(path string) func(*SuiteOptions) {
	return func(o *SuiteOptions) { o.configPath = path }
}

// WithEnv selects the environment-specific config section and is exposed
// to scripts as karate.env.
func WithEnv(env string) func(*SuiteOptions) {
	return func(o *SuiteOptions) { o.env = env }
}

// WithProperty sets one entry exposed through karate.properties.
func WithProperty(key, value string) func(*SuiteOptions) {
	return func(o *SuiteOptions) { o.properties[key] = value }
}

// WithParallelism bounds the scheduler's worker pool size (spec §4.H).
// Values below 1 are clamped to 1 by the scheduler itself.
func WithParallelism(n int) func(*SuiteOptions) {
	return func(o *SuiteOptions) { o.parallelism = n }
}

// WithTags restricts the run to scenarios carrying at least one of the
// given tags (each starting with "@"). An empty set runs everything not
// otherwise excluded by WithIgnoredTags.
func WithTags(tags []string) func(*SuiteOptions) {
	return func(o *SuiteOptions) { o.tags = tags }
}

// WithIgnoredTags excludes scenarios carrying any of the given tags, and
// takes precedence over WithTags.
func WithIgnoredTags(tags []string) func(*SuiteOptions) {
	return func(o *SuiteOptions) { o.ignoreTags = tags }
}

// WithResultStore persists suite run history to a local SQLite database
// at path via the GORM-backed Result Store (SPEC_FULL.md §6.1). A Suite
// with no store configured behaves identically, minus the history.
func WithResultStore(path string) func(*SuiteOptions) {
	return func(o *SuiteOptions) { o.storePath = path }
}

// WithResultQueueSize bounds the Broadcaster's event channel; the
// scheduler blocks (applying back-pressure) once it fills.
func WithResultQueueSize(n int) func(*SuiteOptions) {
	return func(o *SuiteOptions) { o.resultQueueSize = n }
}

// WithScenarioTimeout bounds each scenario's execution (spec §4.H); a
// scenario that exceeds it fails with TimeoutError instead of running to
// completion. Zero (the default) disables the deadline.
func WithScenarioTimeout(d time.Duration) func(*SuiteOptions) {
	return func(o *SuiteOptions) { o.scenarioTimeout = d }
}

// WithJSONSchema registers a named JSON Schema document consulted by the
// Match Engine's `#schema NAME` token (SPEC_FULL.md §4.D supplement).
func WithJSONSchema(name string, schemaJSON []byte) func(*SuiteOptions) {
	return func(o *SuiteOptions) { o.schemas[name] = schemaJSON }
}

// WithBeforeAll registers a function run once before any feature starts.
func WithBeforeAll(f func()) func(*SuiteOptions) {
	return func(o *SuiteOptions) { o.beforeAll = append(o.beforeAll, f) }
}

// WithAfterAll registers a function run once after every feature ends,
// even if some scenarios failed.
func WithAfterAll(f func()) func(*SuiteOptions) {
	return func(o *SuiteOptions) { o.afterAll = append(o.afterAll, f) }
}

// WithBeforeFeature registers a function run once per feature, before any
// of its scenarios are scheduled.
func WithBeforeFeature(f func(path string)) func(*SuiteOptions) {
	return func(o *SuiteOptions) { o.beforeFeature = append(o.beforeFeature, f) }
}

// WithAfterFeature registers a function run once per feature, after all
// of its scenarios have completed.
func WithAfterFeature(f func(path string)) func(*SuiteOptions) {
	return func(o *SuiteOptions) { o.afterFeature = append(o.afterFeature, f) }
}

// WithBeforeScenario configures functions run before every scenario, on
// that scenario's own goroutine.
func WithBeforeScenario(f func(runner.HookInfo)) func(*SuiteOptions) {
	return func(o *SuiteOptions) { o.beforeScenario = append(o.beforeScenario, f) }
}

// WithAfterScenario configures functions run after every scenario,
// regardless of its outcome.
func WithAfterScenario(f func(runner.HookInfo)) func(*SuiteOptions) {
	return func(o *SuiteOptions) { o.afterScenario = append(o.afterScenario, f) }
}

// WithBeforeStep configures functions run before every executed step
// (skipped steps, after a prior failure, do not trigger it).
func WithBeforeStep(f func(runner.HookInfo)) func(*SuiteOptions) {
	return func(o *SuiteOptions) { o.beforeStep = append(o.beforeStep, f) }
}

// WithAfterStep configures functions run after every executed step.
func WithAfterStep(f func(runner.HookInfo)) func(*SuiteOptions) {
	return func(o *SuiteOptions) { o.afterStep = append(o.afterStep, f) }
}
