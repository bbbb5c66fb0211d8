package eval

import (
	"fmt"
	"math"

	"github.com/halvard/gobdd/internal/values"
)

// Evaluator walks the expression AST against a Scope. One Evaluator is
// shared by an entire suite; all per-run state lives in the Scope chain
// passed into each call, so the Evaluator itself has no mutable fields
// and is safe to share across concurrently scheduled scenarios.
type Evaluator struct {
	// Host resolves Java.type/Host.lookup-style interop names to native
	// Go values via reflection (spec §9 "host interop"). Nil disables
	// host interop entirely, which is the default for a pure-script run.
	Host HostResolver
}

// HostResolver is the seam between scripted expressions and the Go host
// process, mirroring the bridge a JVM-hosted DSL gets for free. Kept as
// an interface (rather than requiring a specific reflection helper) so a
// caller can sandbox it or back it with a real plugin registry.
type HostResolver interface {
	Lookup(name string) (interface{}, error)
}

func NewEvaluator(host HostResolver) *Evaluator {
	return &Evaluator{Host: host}
}

// Eval evaluates a single expression string (the RHS of def/match/assert)
// against scope and returns its value.
func (e *Evaluator) Eval(scope *Scope, src string) (values.Value, error) {
	node, err := parseExprOnly(src)
	if err != nil {
		return values.Undefined(), err
	}
	return e.evalNode(scope, node)
}

// Exec runs a statement sequence (a function body, or a multi-statement
// `eval` step) against scope and returns the value of an explicit return,
// or the last expression statement's value if none was reached.
func (e *Evaluator) Exec(scope *Scope, src string) (values.Value, error) {
	prog, err := parseExprProgram(src)
	if err != nil {
		return values.Undefined(), err
	}
	return e.execStmts(scope, prog.stmts)
}

// execStmts runs stmts in order, honoring an explicit return. Ordinary
// expression statements are evaluated for side effects; the final one's
// value becomes the fallback result, matching the teacher's convention
// that a bare expression ending a block is its value (as in Ruby/ JS arrow
// bodies).
func (e *Evaluator) execStmts(scope *Scope, stmts []Node) (values.Value, error) {
	var last values.Value = values.Undefined()
	for _, s := range stmts {
		switch st := s.(type) {
		case returnStmt:
			return e.evalNode(scope, st.value)
		case varDecl:
			v, err := e.evalNode(scope, st.value)
			if err != nil {
				return values.Undefined(), err
			}
			scope.Define(st.name, v)
			last = v
		default:
			v, err := e.evalNode(scope, s)
			if err != nil {
				return values.Undefined(), err
			}
			last = v
		}
	}
	return last, nil
}

// DefineFunction builds a closure Value from a function-literal source
// string, capturing scope by reference (spec §9: closures are
// (ast_fragment, captured_scope) pairs).
func (e *Evaluator) DefineFunction(scope *Scope, src string) (values.Value, error) {
	node, err := parseExprOnly(src)
	if err != nil {
		return values.Undefined(), err
	}
	fn, ok := node.(funcLit)
	if !ok {
		return values.Undefined(), &EvalError{Message: "expression is not a function literal"}
	}
	return values.FuncValue(&values.Func{
		Params: fn.params,
		Body:   fn.body,
		Scope:  scope,
	}), nil
}

// Call invokes a function Value with already-evaluated arguments. Native
// functions (karate.* builtins) run directly; scripted closures get a
// fresh scope forked from their captured scope with params bound.
func (e *Evaluator) Call(fn values.Value, args []values.Value) (values.Value, error) {
	if fn.Kind != values.KFunc {
		return values.Undefined(), &EvalError{Message: "value is not callable: " + fn.TypeName()}
	}
	f := fn.F
	if f.Native != nil {
		return f.Native(args)
	}
	captured, _ := f.Scope.(*Scope)
	callScope := NewScope(captured)
	for i, p := range f.Params {
		if i < len(args) {
			callScope.Define(p, args[i])
		} else {
			callScope.Define(p, values.Undefined())
		}
	}
	body, _ := f.Body.([]Node)
	return e.execStmts(callScope, body)
}

func (e *Evaluator) evalNode(scope *Scope, n Node) (values.Value, error) {
	switch node := n.(type) {
	case numberLit:
		return values.Number(node.v), nil
	case stringLit:
		return values.String(node.v), nil
	case boolLit:
		return values.Bool(node.v), nil
	case nullLit:
		return values.Null(), nil
	case undefinedLit:
		return values.Undefined(), nil
	case identExpr:
		return e.evalIdent(scope, node)
	case arrayLit:
		return e.evalArray(scope, node)
	case objectLit:
		return e.evalObject(scope, node)
	case unaryExpr:
		return e.evalUnary(scope, node)
	case binaryExpr:
		return e.evalBinary(scope, node)
	case logicalExpr:
		return e.evalLogical(scope, node)
	case ternaryExpr:
		return e.evalTernary(scope, node)
	case memberExpr:
		v, _, _, err := e.resolveMember(scope, node)
		return v, err
	case callExpr:
		return e.evalCall(scope, node)
	case assignExpr:
		return e.evalAssign(scope, node)
	case funcLit:
		return values.FuncValue(&values.Func{Params: node.params, Body: node.body, Scope: scope}), nil
	case valueHolder:
		return node.v, nil
	default:
		return values.Undefined(), &EvalError{Message: fmt.Sprintf("cannot evaluate node %T", n)}
	}
}

func (e *Evaluator) evalIdent(scope *Scope, node identExpr) (values.Value, error) {
	if v, ok := scope.Get(node.name); ok {
		return v, nil
	}
	if node.name == "karate" {
		return values.Undefined(), &EvalError{Message: "the 'karate' object is not bound in this scope"}
	}
	return values.Undefined(), &EvalError{Message: "undefined variable: " + node.name}
}

func (e *Evaluator) evalArray(scope *Scope, node arrayLit) (values.Value, error) {
	items := make([]values.Value, len(node.items))
	for i, it := range node.items {
		v, err := e.evalNode(scope, it)
		if err != nil {
			return values.Undefined(), err
		}
		items[i] = v
	}
	return values.List(items), nil
}

func (e *Evaluator) evalObject(scope *Scope, node objectLit) (values.Value, error) {
	m := make(map[string]values.Value, len(node.keys))
	for i, k := range node.keys {
		v, err := e.evalNode(scope, node.vals[i])
		if err != nil {
			return values.Undefined(), err
		}
		m[k] = v
	}
	return values.Map(m), nil
}

func (e *Evaluator) evalUnary(scope *Scope, node unaryExpr) (values.Value, error) {
	v, err := e.evalNode(scope, node.expr)
	if err != nil {
		return values.Undefined(), err
	}
	switch node.op {
	case "!":
		return values.Bool(!v.Truthy()), nil
	case "-":
		return values.Number(-toNumber(v)), nil
	case "+":
		return values.Number(toNumber(v)), nil
	default:
		return values.Undefined(), &EvalError{Message: "unsupported unary operator " + node.op}
	}
}

func (e *Evaluator) evalLogical(scope *Scope, node logicalExpr) (values.Value, error) {
	left, err := e.evalNode(scope, node.left)
	if err != nil {
		return values.Undefined(), err
	}
	if node.op == "&&" {
		if !left.Truthy() {
			return left, nil
		}
		return e.evalNode(scope, node.right)
	}
	if left.Truthy() {
		return left, nil
	}
	return e.evalNode(scope, node.right)
}

func (e *Evaluator) evalTernary(scope *Scope, node ternaryExpr) (values.Value, error) {
	cond, err := e.evalNode(scope, node.cond)
	if err != nil {
		return values.Undefined(), err
	}
	if cond.Truthy() {
		return e.evalNode(scope, node.then)
	}
	return e.evalNode(scope, node.els)
}

func (e *Evaluator) evalBinary(scope *Scope, node binaryExpr) (values.Value, error) {
	left, err := e.evalNode(scope, node.left)
	if err != nil {
		return values.Undefined(), err
	}
	right, err := e.evalNode(scope, node.right)
	if err != nil {
		return values.Undefined(), err
	}
	switch node.op {
	case "+":
		if left.Kind == values.KString || right.Kind == values.KString {
			return values.String(left.String() + right.String()), nil
		}
		return values.Number(toNumber(left) + toNumber(right)), nil
	case "-":
		return values.Number(toNumber(left) - toNumber(right)), nil
	case "*":
		return values.Number(toNumber(left) * toNumber(right)), nil
	case "/":
		return values.Number(toNumber(left) / toNumber(right)), nil
	case "%":
		return values.Number(math.Mod(toNumber(left), toNumber(right))), nil
	case "==", "===":
		return values.Bool(values.Equal(left, right)), nil
	case "!=", "!==":
		return values.Bool(!values.Equal(left, right)), nil
	case "<":
		return compareOrdered(left, right, func(c int) bool { return c < 0 })
	case "<=":
		return compareOrdered(left, right, func(c int) bool { return c <= 0 })
	case ">":
		return compareOrdered(left, right, func(c int) bool { return c > 0 })
	case ">=":
		return compareOrdered(left, right, func(c int) bool { return c >= 0 })
	default:
		return values.Undefined(), &EvalError{Message: "unsupported binary operator " + node.op}
	}
}

func compareOrdered(left, right values.Value, pred func(int) bool) (values.Value, error) {
	if left.Kind == values.KString && right.Kind == values.KString {
		c := 0
		if left.S < right.S {
			c = -1
		} else if left.S > right.S {
			c = 1
		}
		return values.Bool(pred(c)), nil
	}
	l, r := toNumber(left), toNumber(right)
	c := 0
	if l < r {
		c = -1
	} else if l > r {
		c = 1
	}
	return values.Bool(pred(c)), nil
}

func toNumber(v values.Value) float64 {
	switch v.Kind {
	case values.KNumber:
		return v.N
	case values.KBool:
		if v.B {
			return 1
		}
		return 0
	case values.KString:
		var f float64
		if _, err := fmt.Sscanf(v.S, "%g", &f); err == nil {
			return f
		}
		return math.NaN()
	default:
		return math.NaN()
	}
}

// resolveMember evaluates a member/index expression and also returns the
// container plus the resolved key, so evalAssign can write back into it.
func (e *Evaluator) resolveMember(scope *Scope, node memberExpr) (val values.Value, container values.Value, key string, err error) {
	obj, err := e.evalNode(scope, node.obj)
	if err != nil {
		return values.Undefined(), values.Undefined(), "", err
	}
	if node.optional && (obj.Kind == values.KNull || obj.Kind == values.KUndefined) {
		return values.Undefined(), obj, "", nil
	}
	k := node.prop
	if node.computed != nil {
		kv, err := e.evalNode(scope, node.computed)
		if err != nil {
			return values.Undefined(), values.Undefined(), "", err
		}
		k = kv.String()
	}
	switch obj.Kind {
	case values.KMap:
		v, ok := (*obj.M)[k]
		if !ok {
			return values.Undefined(), obj, k, nil
		}
		return v, obj, k, nil
	case values.KList:
		idx := int(toNumber(values.String(k)))
		if k == "length" {
			return values.Number(float64(len(*obj.L))), obj, k, nil
		}
		if idx < 0 || idx >= len(*obj.L) {
			return values.Undefined(), obj, k, nil
		}
		return (*obj.L)[idx], obj, k, nil
	case values.KHost:
		if e.Host != nil {
			hv, herr := e.Host.Lookup(k)
			if herr == nil {
				return values.FromGo(hv), obj, k, nil
			}
		}
		return values.Undefined(), obj, k, nil
	default:
		return values.Undefined(), obj, k, nil
	}
}

// hostInteropForms maps the well-known Java.type/Host.lookup call shapes
// (spec §9 "host interop") to the HostResolver method they bridge to.
// Neither "Java" nor "Host" is ever bound in scope: these are recognized
// directly in evalCall so a feature script can use them without a prior
// def, the same way the scripting host's built-in namespaces work.
var hostInteropForms = map[string]string{"Java": "type", "Host": "lookup"}

func (e *Evaluator) evalHostCall(scope *Scope, node callExpr) (val values.Value, handled bool, err error) {
	member, ok := node.callee.(memberExpr)
	if !ok || member.computed != nil {
		return values.Undefined(), false, nil
	}
	ident, ok := member.obj.(identExpr)
	if !ok {
		return values.Undefined(), false, nil
	}
	want, known := hostInteropForms[ident.name]
	if !known || member.prop != want || scope.Has(ident.name) {
		// Either not one of the two recognized forms, or the script
		// itself defined a variable named Java/Host, which takes
		// precedence over the built-in interop sentinel.
		return values.Undefined(), false, nil
	}
	if e.Host == nil {
		return values.Undefined(), true, &EvalError{Message: ident.name + "." + want + " requires host interop to be configured"}
	}
	if len(node.args) == 0 {
		return values.Undefined(), true, &EvalError{Message: ident.name + "." + want + " requires a name argument"}
	}
	arg, err := e.evalNode(scope, node.args[0])
	if err != nil {
		return values.Undefined(), true, err
	}
	hv, err := e.Host.Lookup(arg.String())
	if err != nil {
		return values.Undefined(), true, err
	}
	return values.FromGo(hv), true, nil
}

func (e *Evaluator) evalCall(scope *Scope, node callExpr) (values.Value, error) {
	if v, handled, err := e.evalHostCall(scope, node); handled {
		return v, err
	}
	args := make([]values.Value, len(node.args))
	for i, a := range node.args {
		v, err := e.evalNode(scope, a)
		if err != nil {
			return values.Undefined(), err
		}
		args[i] = v
	}
	fn, err := e.evalNode(scope, node.callee)
	if err != nil {
		return values.Undefined(), err
	}
	if fn.Kind != values.KFunc {
		return values.Undefined(), &EvalError{Message: "value is not callable"}
	}
	return e.Call(fn, args)
}

func (e *Evaluator) evalAssign(scope *Scope, node assignExpr) (values.Value, error) {
	newVal, err := e.evalNode(scope, node.value)
	if err != nil {
		return values.Undefined(), err
	}
	if node.op != "=" {
		cur, err := e.evalNode(scope, node.target)
		if err != nil {
			return values.Undefined(), err
		}
		switch node.op {
		case "+=":
			newVal, err = e.evalBinary(scope, binaryExpr{op: "+", left: valueNode(cur), right: valueNode(newVal)})
		case "-=":
			newVal, err = e.evalBinary(scope, binaryExpr{op: "-", left: valueNode(cur), right: valueNode(newVal)})
		case "*=":
			newVal, err = e.evalBinary(scope, binaryExpr{op: "*", left: valueNode(cur), right: valueNode(newVal)})
		case "/=":
			newVal, err = e.evalBinary(scope, binaryExpr{op: "/", left: valueNode(cur), right: valueNode(newVal)})
		}
		if err != nil {
			return values.Undefined(), err
		}
	}

	switch target := node.target.(type) {
	case identExpr:
		scope.Set(target.name, newVal)
		return newVal, nil
	case memberExpr:
		return e.assignMember(scope, target, newVal)
	default:
		return values.Undefined(), &EvalError{Message: "invalid assignment target"}
	}
}

// assignMember makes foo.bar = v / arr[0] = v observable through later
// reads of foo/arr. Scope.Get always DeepCopy()s (spec §5 copy-on-read),
// so the container resolveMember hands back is already detached from
// whatever scope.vars holds; for an identifier-rooted target this walks
// the accessor chain from a single root fetch (so every intermediate
// container shares storage with that one root copy) and writes the
// mutated root back with scope.Set. A non-identifier-rooted target
// (e.g. the result of a call expression) has nowhere to persist to, so
// it falls back to the old mutate-a-detached-copy behavior.
func (e *Evaluator) assignMember(scope *Scope, target memberExpr, newVal values.Value) (values.Value, error) {
	rootName, chain, ok := memberRoot(target)
	if !ok {
		_, container, key, err := e.resolveMember(scope, target)
		if err != nil {
			return values.Undefined(), err
		}
		if err := assignInto(container, key, newVal); err != nil {
			return values.Undefined(), err
		}
		return newVal, nil
	}

	root, ok := scope.Get(rootName)
	if !ok {
		return values.Undefined(), &EvalError{Message: "undefined variable: " + rootName}
	}

	container := root
	for _, step := range chain[:len(chain)-1] {
		key, err := e.memberKey(scope, step)
		if err != nil {
			return values.Undefined(), err
		}
		container, err = navigateInto(container, key)
		if err != nil {
			return values.Undefined(), err
		}
	}

	lastKey, err := e.memberKey(scope, chain[len(chain)-1])
	if err != nil {
		return values.Undefined(), err
	}
	if err := assignInto(container, lastKey, newVal); err != nil {
		return values.Undefined(), err
	}
	scope.Set(rootName, root)
	return newVal, nil
}

func (e *Evaluator) memberKey(scope *Scope, m memberExpr) (string, error) {
	if m.computed == nil {
		return m.prop, nil
	}
	kv, err := e.evalNode(scope, m.computed)
	if err != nil {
		return "", err
	}
	return kv.String(), nil
}

// memberRoot walks a member-expression target down through its .obj
// chain to the identifier it is ultimately rooted on, returning the
// accessors in root-to-leaf order. ok is false when the base is not a
// plain identifier (e.g. a call result), which nothing can persist to.
func memberRoot(node Node) (name string, chain []memberExpr, ok bool) {
	cur := Node(node)
	for {
		m, isMember := cur.(memberExpr)
		if !isMember {
			break
		}
		chain = append([]memberExpr{m}, chain...)
		cur = m.obj
	}
	ident, isIdent := cur.(identExpr)
	if !isIdent {
		return "", nil, false
	}
	return ident.name, chain, true
}

// navigateInto reads container[key] for an intermediate step of an
// assignment chain; it errors rather than silently producing undefined
// because an undefined intermediate can't be written through.
func navigateInto(container values.Value, key string) (values.Value, error) {
	switch container.Kind {
	case values.KMap:
		v, ok := (*container.M)[key]
		if !ok {
			return values.Undefined(), &EvalError{Message: "cannot assign through undefined property " + key}
		}
		return v, nil
	case values.KList:
		idx := int(toNumber(values.String(key)))
		if idx < 0 || idx >= len(*container.L) {
			return values.Undefined(), &EvalError{Message: "index out of range: " + key}
		}
		return (*container.L)[idx], nil
	default:
		return values.Undefined(), &EvalError{Message: "cannot navigate into a " + container.TypeName()}
	}
}

// assignInto writes val at container[key], the leaf step of an
// assignment chain.
func assignInto(container values.Value, key string, val values.Value) error {
	switch container.Kind {
	case values.KMap:
		(*container.M)[key] = val
		return nil
	case values.KList:
		idx := int(toNumber(values.String(key)))
		if idx < 0 || idx >= len(*container.L) {
			return &EvalError{Message: "index out of range: " + key}
		}
		(*container.L)[idx] = val
		return nil
	default:
		return &EvalError{Message: "cannot assign into a " + container.TypeName()}
	}
}

// valueNode lets an already-evaluated Value re-enter evalNode/evalBinary
// without a second pass through the AST.
type valueHolder struct{ v values.Value }

func valueNode(v values.Value) Node { return valueHolder{v} }

func (valueHolder) exprNode() {}
