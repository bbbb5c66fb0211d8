// Package scheduler implements the Scenario Scheduler (spec component
// H): parallel feature/scenario execution bounded by a worker pool,
// tag-based locking (@lock=shared / @lock=*), suite-scoped callSingle
// memoization, and result streaming to listeners.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/halvard/gobdd/internal/parser"
	"github.com/halvard/gobdd/internal/result"
	"github.com/halvard/gobdd/internal/runner"
)

// Job is one schedulable unit: a concrete scenario belonging to a
// prepared FeatureRunner, plus its lock key for the tag-lock gate.
type Job struct {
	Feature    *runner.FeatureRunner
	Scenario   *parser.Scenario
	LockKey    string
	Exclusive  bool
	Shared     bool
	Skip       bool
}

// BuildJobs expands every FeatureRunner's scenarios into Jobs, resolving
// each scenario's lock tag and applying shouldRun (the suite tag
// expression) to decide Skip up front. A scenario tagged both `@lock=*`
// and `@lock=shared` is rejected as a scheduling error (spec resolved
// Open Question).
func BuildJobs(frs []*runner.FeatureRunner, shouldRun func(tags []parser.Tag) bool) ([]Job, error) {
	var jobs []Job
	for _, fr := range frs {
		for _, sc := range fr.ExpandScenarios() {
			tags := fr.EffectiveTags(sc)
			key, exclusive, shared := parser.LockKey(tags)
			if hasConflictingLockTags(tags) {
				return nil, fmt.Errorf("scenario %s declares both @lock=* and @lock=shared, which is unsupported", sc.UniqueID(fr.Path()))
			}
			skip := shouldRun != nil && !shouldRun(tags)
			jobs = append(jobs, Job{Feature: fr, Scenario: sc, LockKey: key, Exclusive: exclusive, Shared: shared, Skip: skip})
		}
	}
	return jobs, nil
}

func hasConflictingLockTags(tags []parser.Tag) bool {
	hasStar, hasShared := false, false
	for _, t := range tags {
		if t.Name != "lock" {
			continue
		}
		if len(t.Values) > 0 && t.Values[0] == "*" {
			hasStar = true
		} else {
			hasShared = true
		}
	}
	return hasStar && hasShared
}

// Scheduler runs Jobs with bounded parallelism, honoring tag locks and
// streaming ScenarioResults to a Listener.
type Scheduler struct {
	Parallelism int
	Listener    result.Listener

	// BeforeFeature/AfterFeature run exactly once per feature, around all
	// of its scenarios (spec §4.H: "beforeFeature and afterFeature run
	// once per feature around all of its scenarios"). Invoked on the
	// goroutine that calls Run, synchronously, before/after that
	// feature's scenario jobs are in flight.
	BeforeFeature []func(path string)
	AfterFeature  []func(path string)
	OnHookError   func(error)

	// ScenarioTimeout, if positive, bounds a single scenario's execution
	// (spec §4.H: "each scenario runs under a scenario-level deadline
	// (configurable, default disabled)"). On expiry the scenario's
	// remaining steps are abandoned and it terminates FAILED with
	// TimeoutError. Zero disables the deadline.
	ScenarioTimeout time.Duration

	sharedLocks   sync.Map // lock key -> *semaphore.Weighted
	exclusiveLock sync.RWMutex
}

func New(parallelism int, listener result.Listener) *Scheduler {
	if parallelism < 1 {
		parallelism = 1
	}
	if listener == nil {
		listener = result.NopListener{}
	}
	return &Scheduler{Parallelism: parallelism, Listener: listener}
}

// Run executes all jobs, returns the per-feature results grouped back
// together (spec §5: the worker pool is an errgroup.Group with
// SetLimit(N); @lock=shared is a semaphore.NewWeighted(1) per key;
// @lock=* is an exclusive gate implemented as a RWMutex write-lock so it
// excludes every other scenario, shared or not, while held).
func (s *Scheduler) Run(ctx context.Context, jobs []Job) ([]result.FeatureResult, error) {
	type scenarioOutcome struct {
		featureIdx int
		res        result.ScenarioResult
	}

	featureOrder := map[string]int{}
	var featureNames, featurePaths []string
	var featureStarts []time.Time
	for _, j := range jobs {
		path := j.Feature.Path()
		if _, ok := featureOrder[path]; !ok {
			featureOrder[path] = len(featureNames)
			featureNames = append(featureNames, j.Feature.Name())
			featurePaths = append(featurePaths, path)
			featureStarts = append(featureStarts, time.Now())
		}
	}

	// onFeatureStart/beforeFeature fire before any of that feature's
	// scenario jobs are handed to the worker pool (spec §4.H: "onFeature-
	// Start fires before any of that feature's scenarios start").
	for _, path := range featurePaths {
		s.Listener.OnFeatureStart(path)
		s.runHooks(s.BeforeFeature, path)
	}

	outcomes := make([][]result.ScenarioResult, len(featureNames))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Parallelism)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			res := s.runOne(gctx, job)
			mu.Lock()
			idx := featureOrder[job.Feature.Path()]
			outcomes[idx] = append(outcomes[idx], res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fresults := make([]result.FeatureResult, len(featureNames))
	for i := range featureNames {
		fresults[i] = runner.Collect(featurePaths[i], featureNames[i], featureStarts[i], outcomes[i])
		s.Listener.OnFeatureEnd(fresults[i])
		s.runHooks(s.AfterFeature, featurePaths[i])
	}
	return fresults, nil
}

func (s *Scheduler) runHooks(hooks []func(string), path string) {
	for _, h := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil && s.OnHookError != nil {
					s.OnHookError(fmt.Errorf("feature hook panic for %s: %v", path, r))
				}
			}()
			h(path)
		}()
	}
}

func (s *Scheduler) runOne(ctx context.Context, job Job) result.ScenarioResult {
	if job.Skip {
		return job.Feature.RunScenario(ctx, job.Scenario, true)
	}

	if s.ScenarioTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ScenarioTimeout)
		defer cancel()
	}

	release := s.acquireLock(ctx, job)
	defer release()

	s.Listener.OnScenarioStart(result.ScenarioResult{UniqueID: job.Scenario.UniqueID(job.Feature.Path()), Name: job.Scenario.Name})
	res := job.Feature.RunScenario(ctx, job.Scenario, false)
	s.Listener.OnScenarioEnd(res)
	return res
}

// acquireLock blocks until job's lock requirement is satisfied and
// returns a release func. Unlocked scenarios still take the exclusive
// gate's read-lock, so an in-flight @lock=* scenario excludes them too
// (spec Testable Property 5: no two scenarios overlap while one holds
// `@lock=*`).
func (s *Scheduler) acquireLock(ctx context.Context, job Job) func() {
	if job.Exclusive {
		s.exclusiveLock.Lock()
		return s.exclusiveLock.Unlock
	}

	s.exclusiveLock.RLock()
	releaseRead := s.exclusiveLock.RUnlock

	if !job.Shared {
		return releaseRead
	}

	semIface, _ := s.sharedLocks.LoadOrStore(job.LockKey, semaphore.NewWeighted(1))
	sem := semIface.(*semaphore.Weighted)
	_ = sem.Acquire(ctx, 1)
	return func() {
		sem.Release(1)
		releaseRead()
	}
}
