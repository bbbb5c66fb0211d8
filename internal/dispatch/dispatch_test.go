package dispatch_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvard/gobdd/internal/dispatch"
	"github.com/halvard/gobdd/internal/eval"
	"github.com/halvard/gobdd/internal/match"
	"github.com/halvard/gobdd/internal/parser"
	"github.com/halvard/gobdd/internal/result"
	"github.com/halvard/gobdd/internal/values"
)

type fakeExecutor struct {
	url, method string
	path        []string
	headers     map[string]string
	resp        *dispatch.Response
}

func (f *fakeExecutor) StageURL(u string)                                 { f.url = u }
func (f *fakeExecutor) StagePath(segments ...string)                      { f.path = segments }
func (f *fakeExecutor) StageMethod(m string)                              { f.method = m }
func (f *fakeExecutor) StageHeader(name, value string) {
	if f.headers == nil {
		f.headers = map[string]string{}
	}
	f.headers[name] = value
}
func (f *fakeExecutor) StageParam(name, value string)                    {}
func (f *fakeExecutor) StageCookie(name, value string, attrs map[string]string) {}
func (f *fakeExecutor) StageBody(body values.Value)                       {}
func (f *fakeExecutor) StageFormField(name, value string)                 {}
func (f *fakeExecutor) StageMultipartFile(name, filePath, contentType string) {}
func (f *fakeExecutor) Execute(ctx context.Context) (*dispatch.Response, error) {
	return f.resp, nil
}

func newDispatcher() (*dispatch.Dispatcher, *fakeExecutor) {
	fe := &fakeExecutor{}
	d := dispatch.New(eval.NewEvaluator(nil), match.NewEngine(nil), fe)
	return d, fe
}

func step(keyword, text string) parser.Step {
	return parser.Step{Prefix: "*", Keyword: keyword, Text: text}
}

func TestDispatchDefBindsScope(t *testing.T) {
	d, _ := newDispatcher()
	scope := eval.NewScope(nil)
	sr := d.Execute(context.Background(), scope, step("def", "a = 1 + 2"))
	require.Equal(t, result.StatusPassed, sr.Status)
	v, ok := scope.Get("a")
	require.True(t, ok)
	assert.Equal(t, float64(3), v.N)
}

func TestDispatchMatchEqualsPassAndFail(t *testing.T) {
	d, _ := newDispatcher()
	scope := eval.NewScope(nil)
	scope.Define("a", values.Number(1))

	sr := d.Execute(context.Background(), scope, step("match", "a == 1"))
	assert.Equal(t, result.StatusPassed, sr.Status)

	sr = d.Execute(context.Background(), scope, step("match", "a == 2"))
	require.Equal(t, result.StatusFailed, sr.Status)
	assert.Equal(t, result.ErrMatch, sr.Err.Kind)
}

func TestDispatchAssertFailure(t *testing.T) {
	d, _ := newDispatcher()
	scope := eval.NewScope(nil)
	sr := d.Execute(context.Background(), scope, step("assert", "1 == 2"))
	require.Equal(t, result.StatusFailed, sr.Status)
}

func TestDispatchUrlAndMethodStaging(t *testing.T) {
	d, fe := newDispatcher()
	scope := eval.NewScope(nil)
	d.Execute(context.Background(), scope, step("url", "'http://x.test'"))
	d.Execute(context.Background(), scope, step("method", "get"))
	assert.Equal(t, "http://x.test", fe.url)
	assert.Equal(t, "GET", fe.method)
}

func TestDispatchHeaderStaging(t *testing.T) {
	d, fe := newDispatcher()
	scope := eval.NewScope(nil)
	d.Execute(context.Background(), scope, step("header", "Authorization = 'Bearer x'"))
	assert.Equal(t, "Bearer x", fe.headers["Authorization"])
}

func TestDispatchConfigureStoresValue(t *testing.T) {
	d, _ := newDispatcher()
	scope := eval.NewScope(nil)
	d.Execute(context.Background(), scope, step("configure", "connectTimeout = 5000"))
	v, ok := d.ConfigStore["connectTimeout"]
	require.True(t, ok)
	assert.Equal(t, float64(5000), v.N)
}

func TestDispatchStatusAssertion(t *testing.T) {
	d, _ := newDispatcher()
	scope := eval.NewScope(nil)
	scope.Define("responseStatus", values.Number(200))
	sr := d.Execute(context.Background(), scope, step("status", "200"))
	assert.Equal(t, result.StatusPassed, sr.Status)

	sr = d.Execute(context.Background(), scope, step("status", "404"))
	assert.Equal(t, result.StatusFailed, sr.Status)
}

func TestDispatchCallMergesResultIntoScope(t *testing.T) {
	d, _ := newDispatcher()
	d.Call = func(path string, arg values.Value) (values.Value, error) {
		return values.Map(map[string]values.Value{"greeting": values.String("hi " + path)}), nil
	}
	scope := eval.NewScope(nil)
	sr := d.Execute(context.Background(), scope, step("call", "'classpath:helper.feature'"))
	require.Equal(t, result.StatusPassed, sr.Status)
	v, ok := scope.Get("greeting")
	require.True(t, ok)
	assert.Equal(t, "hi classpath:helper.feature", v.S)
}
