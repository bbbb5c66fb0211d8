// Package runner implements the Scenario and Feature Runtime (spec
// components F/G): background composition, the scenario state machine,
// and feature-scoped callonce memoization. The Scheduler (internal/
// scheduler) is the only caller that invokes these entry points
// concurrently; this package itself is single-scenario-at-a-time.
package runner

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/halvard/gobdd/internal/dispatch"
	"github.com/halvard/gobdd/internal/eval"
	"github.com/halvard/gobdd/internal/parser"
	"github.com/halvard/gobdd/internal/result"
)

// ScenarioRunner executes one concrete Scenario's steps (preceded by the
// background steps passed to Run) against a scope forked from its owning
// feature scope.
type ScenarioRunner struct {
	Evaluator     *eval.Evaluator
	NewDispatcher func() *dispatch.Dispatcher
	Hooks         *Hooks
	OnHookError   func(error)
}

// Run implements the NEW -> RUNNING -> PASSED|FAILED|SKIPPED state
// machine (spec §4.F). A SKIPPED scenario still emits a ScenarioResult
// with no step results, per Testable Property 10 ("every scenario emits
// exactly one ScenarioResult").
func (r *ScenarioRunner) Run(ctx context.Context, featureScope *eval.Scope, pkg string, background []parser.Step, sc *parser.Scenario, skip bool) result.ScenarioResult {
	started := time.Now()
	sr := result.ScenarioResult{
		UniqueID:  sc.UniqueID(pkg),
		Name:      sc.Name,
		Line:      sc.Line,
		StartedAt: started,
	}
	for _, t := range sc.Tags {
		sr.Tags = append(sr.Tags, t.Raw)
	}

	if skip || hasIgnoreTag(sc.Tags) {
		sr.Status = result.StatusSkipped
		sr.Duration = time.Since(started)
		return sr
	}

	if sc.IsDynamic() {
		// Only reached when outline expansion itself could not evaluate
		// the Examples expression (spec resolved Open Question: dynamic
		// outline expansion errors surface as a dedicated error kind
		// rather than crashing the suite); a successfully expanded
		// dynamic scenario never carries DynamicExpression.
		msg := sc.DynamicError
		if msg == "" {
			msg = "dynamic Examples expression did not evaluate successfully"
		}
		sr.Status = result.StatusFailed
		sr.FailMessage = pkg + ":" + itoa(sc.Line) + " " + sc.Name + " — parse_or_setup_error: " + msg
		sr.Duration = time.Since(started)
		return sr
	}

	info := HookInfo{FeaturePath: pkg, ScenarioName: sc.Name}
	if r.Hooks != nil {
		runHooks(r.Hooks.BeforeScenario, info, r.OnHookError)
		defer runHooks(r.Hooks.AfterScenario, info, r.OnHookError)
	}

	scope := featureScope.Fork()
	d := r.NewDispatcher()

	allSteps := make([]parser.Step, 0, len(background)+len(sc.Steps))
	allSteps = append(allSteps, background...)
	allSteps = append(allSteps, sc.Steps...)

	sr.Status = result.StatusPassed
	failed := false
	for _, step := range allSteps {
		if failed {
			sr.Steps = append(sr.Steps, result.StepResult{
				Index: step.Index, Prefix: step.Prefix, Keyword: step.Keyword,
				Text: step.Text, Status: result.StatusSkipped,
			})
			continue
		}
		// A scenario-level deadline (spec §4.H) is an ordinary
		// ctx.Done() the Scheduler may have attached; abandon the
		// remaining steps rather than start one we can't finish.
		if ctxErr := ctx.Err(); ctxErr != nil {
			failed = true
			sr.Status = result.StatusFailed
			timeoutResult := result.StepResult{
				Index: step.Index, Prefix: step.Prefix, Keyword: step.Keyword, Text: step.Text,
				Status: result.StatusFailed,
				Err:    &result.StepError{Kind: result.ErrTimeout, Message: ctxErr.Error()},
			}
			sr.Steps = append(sr.Steps, timeoutResult)
			sr.FailMessage = formatFailure(pkg, sc, timeoutResult)
			continue
		}
		stepInfo := HookInfo{FeaturePath: pkg, ScenarioName: sc.Name, StepText: step.Text}
		if r.Hooks != nil {
			runHooks(r.Hooks.BeforeStep, stepInfo, r.OnHookError)
		}
		stepResult := d.Execute(ctx, scope, step)
		if r.Hooks != nil {
			runHooks(r.Hooks.AfterStep, stepInfo, r.OnHookError)
		}
		sr.Steps = append(sr.Steps, stepResult)
		if stepResult.Status == result.StatusFailed {
			failed = true
			sr.Status = result.StatusFailed
			sr.FailMessage = formatFailure(pkg, sc, stepResult)
		}
	}

	sr.Duration = time.Since(started)
	return sr
}

func hasIgnoreTag(tags []parser.Tag) bool {
	return parser.HasTag(tags, "ignore")
}

func formatFailure(featurePath string, sc *parser.Scenario, step result.StepResult) string {
	class := "EvalError"
	msg := ""
	path := ""
	if step.Err != nil {
		class = string(step.Err.Kind)
		msg = step.Err.Message
		path = step.Err.Path
	}
	out := featurePath + ":" + itoa(sc.Line) + " " + sc.Name + " — " + class + ": " + msg
	if path != "" {
		out += " at " + path
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		digits = append([]byte{'-'}, digits...)
	}
	return string(digits)
}

// newEmbedID names an artifact attached via karate.embed.
func newEmbedID() string { return uuid.NewString() }
