package dispatch

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/halvard/gobdd/internal/eval"
	"github.com/halvard/gobdd/internal/match"
	"github.com/halvard/gobdd/internal/parser"
	"github.com/halvard/gobdd/internal/result"
	"github.com/halvard/gobdd/internal/values"
)

// CallFunc resolves `call`/`callonce path arg`: load the referenced
// feature, run it, and return its final feature-scope as a map value
// (spec §6 "the core loads the referenced feature, executes it...").
// callonce additionally memoizes per the caller's own feature-scope
// cache; the Dispatcher does not know which variant it is invoking.
type CallFunc func(path string, arg values.Value) (values.Value, error)

// Dispatcher owns the mapping from Step.Keyword to a Scope mutation or
// RequestExecutor action (spec component E). One Dispatcher instance is
// created per scenario so retry/request staging state never leaks
// across scenario boundaries.
type Dispatcher struct {
	Eval        *eval.Evaluator
	Match       *match.Engine
	Executor    RequestExecutor
	Call        CallFunc
	CallOnce    CallFunc
	ConfigStore map[string]values.Value // configure KEY = EXPR sink, read by karate.config

	lastRequest func(context.Context) (*Response, error)
	lastLog     string

	// Staged request metadata snapshotted into scope (requestHeaders,
	// requestCookies, pathParams) alongside the response once a request
	// actually executes (spec §6 post-execute() bindings).
	stagedHeaders map[string]string
	stagedCookies map[string]string
	stagedPath    []string
}

func New(evaluator *eval.Evaluator, matcher *match.Engine, executor RequestExecutor) *Dispatcher {
	return &Dispatcher{
		Eval:          evaluator,
		Match:         matcher,
		Executor:      executor,
		ConfigStore:   make(map[string]values.Value),
		stagedHeaders: make(map[string]string),
		stagedCookies: make(map[string]string),
	}
}

// Execute classifies step.Keyword and performs its action against scope,
// never letting an evaluation panic or error escape as anything but a
// StepResult (spec §7 "errors never propagate out of the Step Dispatcher
// unhandled").
func (d *Dispatcher) Execute(ctx context.Context, scope *eval.Scope, step parser.Step) result.StepResult {
	started := time.Now()
	sr := result.StepResult{
		Index: step.Index, Prefix: step.Prefix, Keyword: step.Keyword,
		Text: step.Text, StartedAt: started, Status: result.StatusPassed,
	}

	d.lastLog = ""
	err := d.dispatch(ctx, scope, step)
	sr.Duration = time.Since(started)
	sr.Log = d.lastLog
	if err != nil {
		sr.Status = result.StatusFailed
		sr.Err = toStepError(err)
	}
	return sr
}

func toStepError(err error) *result.StepError {
	if se, ok := err.(*result.StepError); ok {
		return se
	}
	if ee, ok := err.(*eval.EvalError); ok {
		return &result.StepError{Kind: result.ErrEval, Message: ee.Error()}
	}
	return &result.StepError{Kind: result.ErrEval, Message: err.Error()}
}

func (d *Dispatcher) dispatch(ctx context.Context, scope *eval.Scope, step parser.Step) error {
	text := step.Text
	if step.Keyword == "" {
		// Bare expression step, e.g. `* eval(1+1)` or `* someFunc()`.
		_, err := d.Eval.Exec(scope, text)
		return err
	}

	switch step.Keyword {
	case "def":
		return d.doDef(scope, text)
	case "match":
		return d.doMatch(scope, step)
	case "assert":
		return d.doAssert(scope, text)
	case "print":
		return d.doPrint(scope, text)
	case "eval":
		_, err := d.Eval.Exec(scope, text)
		return err
	case "configure":
		return d.doConfigure(scope, text)
	case "url":
		return d.stageString(scope, text, d.Executor.StageURL)
	case "path":
		return d.doPath(scope, text)
	case "method":
		// The HTTP verb is a bare word (`method get`), not an expression
		// to evaluate against scope. Staging the verb executes the
		// request; `retry until` re-runs it through lastRequest.
		d.Executor.StageMethod(strings.ToUpper(strings.TrimSpace(text)))
		d.lastRequest = d.Executor.Execute
		resp, err := d.lastRequest(ctx)
		if err != nil {
			return &result.StepError{Kind: result.ErrHTTP, Message: err.Error()}
		}
		if resp != nil {
			d.bindResponse(scope, resp)
		}
		return nil
	case "header":
		return d.stageNameValue(scope, text, func(n, v string) {
			d.Executor.StageHeader(n, v)
			d.stagedHeaders[n] = v
		})
	case "param":
		return d.stageNameValue(scope, text, d.Executor.StageParam)
	case "cookie":
		return d.stageNameValue(scope, text, func(n, v string) {
			d.Executor.StageCookie(n, v, nil)
			d.stagedCookies[n] = v
		})
	case "form field":
		return d.stageNameValue(scope, text, d.Executor.StageFormField)
	case "request":
		v, err := d.Eval.Eval(scope, text)
		if err != nil {
			return err
		}
		d.Executor.StageBody(v)
		return nil
	case "status":
		return d.doStatus(scope, text)
	case "retry until":
		return d.doRetryUntil(ctx, scope, text)
	case "call":
		return d.doCall(scope, text, d.Call)
	case "callonce":
		return d.doCall(scope, text, d.CallOnce)
	default:
		// Unrecognized-but-parse-legal keyword (soap action, multipart
		// entity, ...): evaluate the RHS for side effects and move on,
		// matching the dispatcher's "never throws across boundary"
		// contract for keywords this runner does not specialize.
		_, err := d.Eval.Exec(scope, text)
		return err
	}
}

func (d *Dispatcher) doDef(scope *eval.Scope, text string) error {
	name, expr, ok := splitAssignment(text)
	if !ok {
		return &result.StepError{Kind: result.ErrEval, Message: "malformed def, expected NAME = EXPR"}
	}
	v, err := d.Eval.Eval(scope, expr)
	if err != nil {
		return err
	}
	scope.Define(name, v)
	return nil
}

func (d *Dispatcher) doConfigure(scope *eval.Scope, text string) error {
	name, expr, ok := splitAssignment(text)
	if !ok {
		return &result.StepError{Kind: result.ErrEval, Message: "malformed configure, expected KEY = EXPR"}
	}
	v, err := d.Eval.Eval(scope, expr)
	if err != nil {
		return err
	}
	d.ConfigStore[name] = v
	return nil
}

func (d *Dispatcher) doAssert(scope *eval.Scope, text string) error {
	v, err := d.Eval.Eval(scope, text)
	if err != nil {
		return err
	}
	if !v.Truthy() {
		return &result.StepError{Kind: result.ErrEval, Message: "assertion failed: " + text}
	}
	return nil
}

func (d *Dispatcher) doPrint(scope *eval.Scope, text string) error {
	v, err := d.Eval.Eval(scope, "["+text+"]")
	if err != nil {
		// Not every print argument list is a valid array literal
		// (e.g. a single already-bracketed expression); fall back to
		// evaluating the raw text directly.
		v, err = d.Eval.Eval(scope, text)
		if err != nil {
			return err
		}
	}
	d.lastLog = v.String()
	return nil
}

func (d *Dispatcher) doPath(scope *eval.Scope, text string) error {
	parts := splitTopLevelCommas(text)
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		v, err := d.Eval.Eval(scope, strings.TrimSpace(p))
		if err != nil {
			return err
		}
		segs = append(segs, v.String())
	}
	d.Executor.StagePath(segs...)
	d.stagedPath = append(d.stagedPath, segs...)
	return nil
}

func (d *Dispatcher) doStatus(scope *eval.Scope, text string) error {
	want, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return &result.StepError{Kind: result.ErrEval, Message: "malformed status assertion: " + text}
	}
	respVal, ok := scope.Get("responseStatus")
	if !ok {
		return &result.StepError{Kind: result.ErrHTTP, Message: "status asserted but no response is staged"}
	}
	got := int(respVal.N)
	if got != want {
		return &result.StepError{Kind: result.ErrMatch, Path: "$", Message: "expected status " + strconv.Itoa(want) + " but got " + strconv.Itoa(got)}
	}
	return nil
}

func (d *Dispatcher) doRetryUntil(ctx context.Context, scope *eval.Scope, text string) error {
	const maxAttempts = 3
	const interval = 200 * time.Millisecond

	if d.lastRequest == nil {
		return &result.StepError{Kind: result.ErrEval, Message: "retry until has no preceding HTTP call to retry"}
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := d.lastRequest(ctx)
		if err != nil {
			return &result.StepError{Kind: result.ErrHTTP, Message: err.Error()}
		}
		d.bindResponse(scope, resp)

		cond, err := d.Eval.Eval(scope, text)
		if err != nil {
			return err
		}
		if cond.Truthy() {
			return nil
		}
		if attempt < maxAttempts-1 {
			time.Sleep(interval)
		}
	}
	return &result.StepError{Kind: result.ErrEval, Message: "retry until exceeded attempts without condition becoming true: " + text}
}

func (d *Dispatcher) doCall(scope *eval.Scope, text string, fn CallFunc) error {
	if fn == nil {
		return &result.StepError{Kind: result.ErrCall, Message: "no call resolver configured"}
	}
	path, argExpr := splitCallArgs(text)
	pathVal, err := d.Eval.Eval(scope, path)
	if err != nil {
		return err
	}
	var arg values.Value = values.Undefined()
	if argExpr != "" {
		arg, err = d.Eval.Eval(scope, argExpr)
		if err != nil {
			return err
		}
	}
	callResult, err := fn(pathVal.String(), arg)
	if err != nil {
		return &result.StepError{Kind: result.ErrCall, Message: err.Error()}
	}
	scope.Define("__call_result__", callResult)
	mergeCallResult(scope, callResult)
	return nil
}

func mergeCallResult(scope *eval.Scope, v values.Value) {
	if v.Kind != values.KMap {
		return
	}
	for k, val := range *v.M {
		scope.Define(k, val)
	}
}

func (d *Dispatcher) stageString(scope *eval.Scope, text string, stage func(string)) error {
	v, err := d.Eval.Eval(scope, text)
	if err != nil {
		return err
	}
	stage(v.String())
	return nil
}

func (d *Dispatcher) stageNameValue(scope *eval.Scope, text string, stage func(name, value string)) error {
	name, expr, ok := splitAssignment(text)
	if !ok {
		return &result.StepError{Kind: result.ErrEval, Message: "expected NAME = EXPR, got: " + text}
	}
	v, err := d.Eval.Eval(scope, expr)
	if err != nil {
		return err
	}
	stage(strings.Trim(name, "'\""), v.String())
	return nil
}

// bindResponse installs the conventional post-call variables into scope
// (spec §6): response, responseStatus, responseHeaders, responseCookies,
// responseTime, plus the request-side snapshot (requestHeaders,
// requestCookies, pathParams) staged on this Dispatcher before Execute.
func (d *Dispatcher) bindResponse(scope *eval.Scope, resp *Response) {
	scope.Set("response", resp.Body)
	scope.Set("responseStatus", values.Number(float64(resp.Status)))

	headers := map[string]values.Value{}
	for k, vs := range resp.Headers {
		items := make([]values.Value, len(vs))
		for i, v := range vs {
			items[i] = values.String(v)
		}
		headers[k] = values.List(items)
	}
	scope.Set("responseHeaders", values.Map(headers))

	cookies := map[string]values.Value{}
	for k, v := range resp.Cookies {
		cookies[k] = values.String(v)
	}
	scope.Set("responseCookies", values.Map(cookies))
	scope.Set("responseTime", values.Number(float64(resp.Took.Milliseconds())))

	reqHeaders := map[string]values.Value{}
	for k, v := range d.stagedHeaders {
		reqHeaders[k] = values.String(v)
	}
	scope.Set("requestHeaders", values.Map(reqHeaders))

	reqCookies := map[string]values.Value{}
	for k, v := range d.stagedCookies {
		reqCookies[k] = values.String(v)
	}
	scope.Set("requestCookies", values.Map(reqCookies))

	pathItems := make([]values.Value, len(d.stagedPath))
	for i, s := range d.stagedPath {
		pathItems[i] = values.String(s)
	}
	scope.Set("pathParams", values.List(pathItems))
}

// splitAssignment splits "NAME = EXPR" on the first top-level '=' that is
// not part of ==, !=, <=, >=.
func splitAssignment(text string) (name, expr string, ok bool) {
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '=' {
			continue
		}
		if i+1 < len(runes) && runes[i+1] == '=' {
			i++
			continue
		}
		if i > 0 && (runes[i-1] == '!' || runes[i-1] == '<' || runes[i-1] == '>' || runes[i-1] == '=') {
			continue
		}
		return strings.TrimSpace(string(runes[:i])), strings.TrimSpace(string(runes[i+1:])), true
	}
	return "", "", false
}

// matchOperatorsByLength lists every recognized `match` operator keyword,
// longest-phrase-first so e.g. "contains only deep" is not mis-split on
// its "contains" prefix. `within`/`!within` are lexer-level aliases for
// `contains`/`!contains` (spec §4.A STEP_MATCH operator sequence); they
// carry identical match semantics, just a different step vocabulary.
var matchOperatorsByLength = []string{
	"contains only deep", "contains any deep",
	"each contains deep", "each contains only", "each contains any",
	"contains only", "contains deep", "contains any",
	"each contains", "each !=", "each",
	"!contains", "!within", "contains", "within", "!=", "==",
}

var matchOperatorAliases = map[match.Operator]match.Operator{
	"within":  match.Contains,
	"!within": match.NotContains,
}

// splitMatchOperator finds the first recognized match operator keyword
// and splits the step text into its actual/expected halves.
func splitMatchOperator(text string) (actual string, op match.Operator, expected string, ok bool) {
	for _, candidate := range matchOperatorsByLength {
		if idx := indexWholeWord(text, candidate); idx >= 0 {
			actual = strings.TrimSpace(text[:idx])
			expected = strings.TrimSpace(text[idx+len(candidate):])
			op := match.Operator(candidate)
			if alias, isAlias := matchOperatorAliases[op]; isAlias {
				op = alias
			}
			return actual, op, expected, true
		}
	}
	return "", "", "", false
}

func indexWholeWord(text, word string) int {
	idx := strings.Index(text, word)
	for idx >= 0 {
		before := idx == 0 || text[idx-1] == ' '
		afterPos := idx + len(word)
		after := afterPos >= len(text) || text[afterPos] == ' '
		if before && after {
			return idx
		}
		next := strings.Index(text[idx+1:], word)
		if next < 0 {
			return -1
		}
		idx = idx + 1 + next
	}
	return -1
}

func (d *Dispatcher) doMatch(scope *eval.Scope, step parser.Step) error {
	actualExpr, op, expectedExpr, ok := splitMatchOperator(step.Text)
	if !ok {
		// Bare `match EXPR` form: treated as an assert on a boolean.
		return d.doAssert(scope, step.Text)
	}
	actual, err := d.Eval.Eval(scope, actualExpr)
	if err != nil {
		return err
	}

	var expected values.Value
	if strings.HasPrefix(strings.TrimSpace(expectedExpr), "#(") || strings.HasPrefix(strings.TrimSpace(expectedExpr), "##(") {
		// #(expr) tokens are evaluated here (the dispatcher owns the
		// Evaluator) and then matched by value, rather than reaching
		// match.Engine's inert placeholder for that token shape.
		inner := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(expectedExpr), "##("), ")")
		inner = strings.TrimSuffix(strings.TrimPrefix(inner, "#("), ")")
		expected, err = d.Eval.Eval(scope, inner)
		if err != nil {
			return err
		}
	} else if step.DocString != nil {
		expected, err = d.Eval.Eval(scope, step.DocString.Raw)
		if err != nil {
			return err
		}
	} else if step.Table != nil {
		expected = tableToValue(*step.Table)
	} else {
		expected, err = d.Eval.Eval(scope, expectedExpr)
		if err != nil {
			return err
		}
	}

	expected, err = d.resolveSchemaExprs(scope, expected)
	if err != nil {
		return err
	}

	r := d.Match.Match(op, actual, expected)
	if !r.Pass {
		return &result.StepError{Kind: result.ErrMatch, Path: r.Path, Message: r.Message}
	}
	return nil
}

// resolveSchemaExprs walks expected's map/list leaves and pre-evaluates
// any "#(...)"/"##(...)" embed-evaluation string against scope, the way
// doMatch already does for a whole-RHS "#(...)" token, so the same
// tokens also work nested inside a larger object/array literal (match.Engine
// itself has no Evaluator and cannot do this resolution).
func (d *Dispatcher) resolveSchemaExprs(scope *eval.Scope, v values.Value) (values.Value, error) {
	switch v.Kind {
	case values.KString:
		s := strings.TrimSpace(v.S)
		if !strings.HasPrefix(s, "#(") && !strings.HasPrefix(s, "##(") {
			return v, nil
		}
		inner := strings.TrimSuffix(strings.TrimPrefix(s, "##("), ")")
		inner = strings.TrimSuffix(strings.TrimPrefix(inner, "#("), ")")
		return d.Eval.Eval(scope, inner)
	case values.KMap:
		out := make(map[string]values.Value, len(*v.M))
		for k, item := range *v.M {
			rv, err := d.resolveSchemaExprs(scope, item)
			if err != nil {
				return values.Undefined(), err
			}
			out[k] = rv
		}
		return values.Map(out), nil
	case values.KList:
		out := make([]values.Value, len(*v.L))
		for i, item := range *v.L {
			rv, err := d.resolveSchemaExprs(scope, item)
			if err != nil {
				return values.Undefined(), err
			}
			out[i] = rv
		}
		return values.List(out), nil
	default:
		return v, nil
	}
}

func tableToValue(t parser.Table) values.Value {
	rows := t.RowsAsMaps()
	items := make([]values.Value, len(rows))
	for i, row := range rows {
		m := make(map[string]values.Value, len(row))
		for k, v := range row {
			m[k] = values.String(v)
		}
		items[i] = values.Map(m)
	}
	return values.List(items)
}

func splitTopLevelCommas(text string) []string {
	var parts []string
	depth := 0
	last := 0
	for i, ch := range text {
		switch ch {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, text[last:i])
				last = i + 1
			}
		}
	}
	parts = append(parts, text[last:])
	return parts
}

// splitCallArgs splits "path" or "path arg" / "'path' { a: 1 }" into the
// path expression and an optional argument expression: the first
// whitespace-separated token is the path, everything after is the arg.
func splitCallArgs(text string) (path, arg string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	if text[0] == '\'' || text[0] == '"' {
		quote := text[0]
		for i := 1; i < len(text); i++ {
			if text[i] == quote {
				return text[:i+1], strings.TrimSpace(text[i+1:])
			}
		}
		return text, ""
	}
	idx := strings.IndexByte(text, ' ')
	if idx < 0 {
		return text, ""
	}
	return text[:idx], strings.TrimSpace(text[idx+1:])
}
