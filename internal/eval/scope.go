// Package eval implements the Expression & Match Engine's evaluator half:
// a small JS-like interpreter over internal/values.Value plus the
// hierarchical Scope (suite -> feature -> scenario) that gives each level
// copy-on-write isolation from its ancestors (spec component C).
package eval

import "github.com/halvard/gobdd/internal/values"

// Scope is a chained variable environment. Lookups walk up the parent
// chain; Set mutates the nearest scope that already defines the name,
// falling back to Define in the current scope (JS "var" semantics).
type Scope struct {
	parent *Scope
	vars   map[string]values.Value
	sealed bool
	forked bool
}

// NewScope creates a root scope with no parent, used once per suite.
func NewScope(parent *Scope) *Scope {
	return &Scope{parent: parent, vars: make(map[string]values.Value)}
}

// Fork creates a child scope. Composite values inherited from the parent
// are not copied eagerly; Define/Set in the child always install a fresh
// binding in the child's own map, so writes never alias the parent's
// storage (spec §5 "copy-on-write").
func (s *Scope) Fork() *Scope {
	child := NewScope(s)
	child.forked = true
	return child
}

// Seal freezes this scope: no descendant's Set call is allowed to reach
// through it to mutate a binding it owns (spec §5 "the feature scope is
// sealed ... after background evaluation completes"; §9 "Background
// freezing"). Composite values are still readable (and copy-on-read via
// Get), just not writable in place from a child.
func (s *Scope) Seal() { s.sealed = true }

// Define installs name in THIS scope, shadowing any ancestor binding.
func (s *Scope) Define(name string, v values.Value) { s.vars[name] = v }

// Get walks the chain and returns the value plus whether it was found.
// The returned value is deep-copied so the caller cannot mutate shared
// composite storage through an alias (spec §5 "copy-on-read").
func (s *Scope) Get(name string) (values.Value, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v.DeepCopy(), true
		}
	}
	return values.Undefined(), false
}

// Set mutates the nearest existing binding, or defines a new one in the
// current scope if none is reachable. The walk stops at a sealed ancestor
// and never crosses from a Fork child into its parent, so a name whose
// only binding lives beyond either boundary is copy-on-write: falling
// through to `s.vars[name] = v` installs the new value in the current
// scope, which is what gives scenario scopes isolation from their
// feature scope (spec §5 isolation invariant). Function-call scopes are
// plain NewScope children of the captured scope, so a closure still
// mutates a captured outer variable in place, as JS "var" reassignment
// expects.
func (s *Scope) Set(name string, v values.Value) {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.sealed {
			break
		}
		if _, ok := cur.vars[name]; ok {
			cur.vars[name] = v
			return
		}
		if cur.forked {
			break
		}
	}
	s.vars[name] = v
}

// Has reports whether name is visible from this scope.
func (s *Scope) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Snapshot flattens the visible chain into one deep-copied map, root
// first so descendant bindings win. Used for karate.config-style
// read-only exposure of accumulated state.
func (s *Scope) Snapshot() map[string]values.Value {
	var chain []*Scope
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	out := make(map[string]values.Value)
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].vars {
			out[k] = v.DeepCopy()
		}
	}
	return out
}
