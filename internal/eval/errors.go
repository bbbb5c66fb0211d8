package eval

import "fmt"

// EvalError is returned by every evaluator entry point. It never panics
// across a step boundary: the Step Dispatcher always gets a Go error it
// can attach to a StepResult (spec §6 "never throws across boundary").
type EvalError struct {
	Message string
	Cause   error
}

func (e *EvalError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *EvalError) Unwrap() error { return e.Cause }

func wrapf(cause error, format string, args ...interface{}) *EvalError {
	return &EvalError{Message: fmt.Sprintf(format, args...), Cause: cause}
}
