// Package dispatch implements the Step Dispatcher (spec component E): it
// classifies a parsed Step's keyword and applies the corresponding
// action to the scenario's Scope, delegating HTTP verbs to an externally
// supplied RequestExecutor and match/assert verbs to the Match Engine.
package dispatch

import (
	"context"
	"time"

	"github.com/halvard/gobdd/internal/values"
)

// RequestExecutor is the seam to the (out-of-scope) HTTP client: the
// dispatcher only ever stages request parts and asks for one execution,
// never touches a socket itself (spec §6 "Deliberately out of scope").
type RequestExecutor interface {
	StageURL(url string)
	StagePath(segments ...string)
	StageMethod(method string)
	StageHeader(name, value string)
	StageParam(name, value string)
	StageCookie(name, value string, attrs map[string]string)
	StageBody(body values.Value)
	StageFormField(name, value string)
	StageMultipartFile(name, filePath, contentType string)
	Execute(ctx context.Context) (*Response, error)
}

// Response is what a RequestExecutor hands back after Execute; the
// dispatcher unpacks it into the conventional post-call scope variables
// (response, responseStatus, responseHeaders, responseCookies,
// responseTime, requestHeaders, requestCookies, pathParams).
type Response struct {
	Status  int
	Headers map[string][]string
	Cookies map[string]string
	Body    values.Value
	Took    time.Duration
}
