package eval

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/halvard/gobdd/internal/values"
)

// EmbedFunc records an artifact (screenshot, payload, etc.) against the
// running scenario; the runner supplies the real implementation so this
// package stays decoupled from the result model.
type EmbedFunc func(mimeType string, data []byte) (values.Value, error)

// CallSingleFunc resolves a suite-scoped memoized `call` (spec §7
// "callSingle"); the scheduler owns the memoization table.
type CallSingleFunc func(path string, arg values.Value) (values.Value, error)

// KarateAPIOptions wires the runtime-supplied hooks a feature script can
// reach through the `karate` object.
type KarateAPIOptions struct {
	Env        string
	Properties map[string]string
	Config     map[string]values.Value
	Embed      EmbedFunc
	CallSingle CallSingleFunc
	Log        *logrus.Logger

	// Evaluator runs karate.setup's function argument (spec §6 "the
	// setup scenario's scope bindings"); nil disables karate.setup.
	Evaluator *Evaluator
}

// BindKarateAPI installs the `karate` object into scope, the way the
// scripting host exposes its utility namespace to every feature (spec
// GLOSSARY "karate object"). karate.config is a frozen snapshot: writes
// to it do not propagate back to the scope that produced it (resolves
// Open Question "does karate.config reflect live scope mutation?" as no).
func BindKarateAPI(scope *Scope, opts KarateAPIOptions) {
	log := opts.Log
	if log == nil {
		log = logrus.New()
	}

	m := map[string]values.Value{
		"env": values.String(opts.Env),
	}

	props := map[string]values.Value{}
	for k, v := range opts.Properties {
		props[k] = values.String(v)
	}
	m["properties"] = values.Map(props)

	// Shallow snapshot: a fresh top-level map, nested values shared.
	cfg := map[string]values.Value{}
	for k, v := range opts.Config {
		cfg[k] = v
	}
	m["config"] = values.Map(cfg)

	m["log"] = values.FuncValue(&values.Func{Native: func(args []values.Value) (values.Value, error) {
		parts := make([]interface{}, len(args))
		for i, a := range args {
			parts[i] = a.String()
		}
		log.Info(fmt.Sprintln(parts...))
		return values.Undefined(), nil
	}})

	m["setup"] = values.FuncValue(&values.Func{Native: func(args []values.Value) (values.Value, error) {
		// Runs fn immediately and returns whatever it returns (spec §6
		// "karate.setup ... returns the setup scenario's scope
		// bindings"); the caller is expected to `def` the result under a
		// name and merge it into scope itself, since the setup function's
		// own local scope is not otherwise visible to the caller.
		if len(args) == 0 || args[0].Kind != values.KFunc {
			return values.Undefined(), &EvalError{Message: "karate.setup requires a function argument"}
		}
		if opts.Evaluator == nil {
			return values.Undefined(), &EvalError{Message: "karate.setup is not available: no evaluator wired"}
		}
		return opts.Evaluator.Call(args[0], nil)
	}})

	if opts.Embed != nil {
		embed := opts.Embed
		m["embed"] = values.FuncValue(&values.Func{Native: func(args []values.Value) (values.Value, error) {
			if len(args) < 2 {
				return values.Undefined(), &EvalError{Message: "karate.embed requires (bytes, mimeType)"}
			}
			return embed(args[1].String(), args[0].Byt)
		}})
	}

	if opts.CallSingle != nil {
		single := opts.CallSingle
		m["callSingle"] = values.FuncValue(&values.Func{Native: func(args []values.Value) (values.Value, error) {
			if len(args) == 0 {
				return values.Undefined(), &EvalError{Message: "karate.callSingle requires a path argument"}
			}
			var arg values.Value = values.Undefined()
			if len(args) > 1 {
				arg = args[1]
			}
			return single(args[0].String(), arg)
		}})
	}

	m["toString"] = values.FuncValue(&values.Func{Native: func(args []values.Value) (values.Value, error) {
		if len(args) == 0 {
			return values.String(""), nil
		}
		return values.String(args[0].String()), nil
	}})

	m["exit"] = values.FuncValue(&values.Func{Native: func(args []values.Value) (values.Value, error) {
		// Host process exit is intentionally NOT wired: a scripted
		// feature must never be able to kill the test runner. Logged
		// and ignored, matching a sandboxed scripting host.
		log.Warn("karate.exit() called from script; ignored in this runner")
		return values.Undefined(), nil
	}})

	scope.Define("karate", values.Map(m))
}

// osHostResolver implements HostResolver over a conservative allow-list
// of process-level lookups (env vars, working directory) via reflection
// on well-known accessor functions, standing in for the Java.type/
// Host.lookup bridge a JVM-hosted DSL gets natively (spec §9).
type osHostResolver struct{}

func NewOSHostResolver() HostResolver { return osHostResolver{} }

func (osHostResolver) Lookup(name string) (interface{}, error) {
	switch name {
	case "env":
		return os.Environ(), nil
	case "wd":
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		return wd, nil
	default:
		return nil, &EvalError{Message: "no host binding for " + name}
	}
}
