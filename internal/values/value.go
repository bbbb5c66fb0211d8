// Package values implements the dynamically typed value representation
// shared by the Expression Evaluator, Match Engine and Scope: a tagged
// sum of Null | Bool | Num | Str | Bytes | List | Map | Func | Host.
package values

import (
	"fmt"
	"math"
	"sort"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KNull Kind = iota
	KBool
	KNumber
	KString
	KBytes
	KList
	KMap
	KFunc
	KHost
	KUndefined
)

// Func is a first-class function value: an AST fragment paired with the
// scope it closed over (spec §9 "Closures in the expression language").
// Body is opaque to this package; the Evaluator supplies and interprets
// it. Scope is declared as interface{} to avoid an import cycle with the
// eval package, which defines the concrete scope type.
type Func struct {
	Params []string
	Body   interface{}
	Scope  interface{}
	Native func(args []Value) (Value, error)
}

// Value is an immutable, copyable variant. Composite payloads (List, Map)
// are stored as pointers so identity/sharing semantics used by the
// isolation model (spec §5) are explicit at the call site.
type Value struct {
	Kind Kind
	B    bool
	N    float64
	S    string
	Byt  []byte
	L    *[]Value
	M    *map[string]Value
	F    *Func
	Host interface{}
}

func Null() Value      { return Value{Kind: KNull} }
func Undefined() Value { return Value{Kind: KUndefined} }
func Bool(b bool) Value { return Value{Kind: KBool, B: b} }
func Number(n float64) Value { return Value{Kind: KNumber, N: n} }
func String(s string) Value  { return Value{Kind: KString, S: s} }
func Bytes(b []byte) Value   { return Value{Kind: KBytes, Byt: b} }

func List(items []Value) Value {
	l := append([]Value(nil), items...)
	return Value{Kind: KList, L: &l}
}

func Map(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{Kind: KMap, M: &cp}
}

func FuncValue(f *Func) Value { return Value{Kind: KFunc, F: f} }
func Host(v interface{}) Value { return Value{Kind: KHost, Host: v} }

// Truthy implements JS-style truthiness: 0, '', null, undefined, NaN are
// false; everything else (including empty arrays/objects) is true.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KNull, KUndefined:
		return false
	case KBool:
		return v.B
	case KNumber:
		return v.N != 0 && !math.IsNaN(v.N)
	case KString:
		return v.S != ""
	default:
		return true
	}
}

// DeepCopy produces a value with no shared mutable storage, used when a
// composite value crosses a scope boundary and is about to be mutated
// (spec §5 "copy-on-read"/"copy-on-write").
func (v Value) DeepCopy() Value {
	switch v.Kind {
	case KList:
		items := make([]Value, len(*v.L))
		for i, item := range *v.L {
			items[i] = item.DeepCopy()
		}
		return List(items)
	case KMap:
		m := make(map[string]Value, len(*v.M))
		for k, val := range *v.M {
			m[k] = val.DeepCopy()
		}
		return Map(m)
	default:
		return v
	}
}

// Equal implements structural deep equality (spec §4.D EQUALS): maps
// compared key-set-equal then value-equal, lists length-equal then
// index-wise, numbers by mathematical value.
func Equal(a, b Value) bool {
	if a.Kind == KUndefined || b.Kind == KUndefined {
		return a.Kind == b.Kind
	}
	if a.Kind != b.Kind {
		// Allow cross-kind numeric comparisons to fail cleanly rather
		// than panic; they are simply not equal.
		return false
	}
	switch a.Kind {
	case KNull:
		return true
	case KBool:
		return a.B == b.B
	case KNumber:
		return a.N == b.N
	case KString:
		return a.S == b.S
	case KBytes:
		if len(a.Byt) != len(b.Byt) {
			return false
		}
		for i := range a.Byt {
			if a.Byt[i] != b.Byt[i] {
				return false
			}
		}
		return true
	case KList:
		if len(*a.L) != len(*b.L) {
			return false
		}
		for i := range *a.L {
			if !Equal((*a.L)[i], (*b.L)[i]) {
				return false
			}
		}
		return true
	case KMap:
		if len(*a.M) != len(*b.M) {
			return false
		}
		for k, av := range *a.M {
			bv, ok := (*b.M)[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// SortedKeys returns a Map's keys in stable lexical order, used anywhere
// deterministic iteration matters (error messages, table row-maps).
func SortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TypeName returns the schema-token name for a Value's kind (§4.D).
func (v Value) TypeName() string {
	switch v.Kind {
	case KNull:
		return "null"
	case KBool:
		return "boolean"
	case KNumber:
		return "number"
	case KString:
		return "string"
	case KBytes:
		return "bytes"
	case KList:
		return "array"
	case KMap:
		return "object"
	case KFunc:
		return "function"
	case KHost:
		return "host"
	default:
		return "undefined"
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KNull:
		return "null"
	case KUndefined:
		return "undefined"
	case KBool:
		return fmt.Sprintf("%v", v.B)
	case KNumber:
		if v.N == math.Trunc(v.N) && !math.IsInf(v.N, 0) {
			return fmt.Sprintf("%d", int64(v.N))
		}
		return fmt.Sprintf("%v", v.N)
	case KString:
		return v.S
	case KBytes:
		return fmt.Sprintf("bytes(%d)", len(v.Byt))
	case KList:
		out := "["
		for i, item := range *v.L {
			if i > 0 {
				out += ", "
			}
			out += item.String()
		}
		return out + "]"
	case KMap:
		out := "{"
		keys := SortedKeys(*v.M)
		for i, k := range keys {
			if i > 0 {
				out += ", "
			}
			out += k + ": " + (*v.M)[k].String()
		}
		return out + "}"
	case KFunc:
		return "function"
	default:
		return "host"
	}
}

// FromGo converts common Go native types into a Value, used at the
// boundary where host interop (Java.type/Host.lookup results) or JSON
// decoding hands data back into scripted scope.
func FromGo(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case []byte:
		return Bytes(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromGo(item)
		}
		return List(items)
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			m[k] = FromGo(item)
		}
		return Map(m)
	default:
		return Host(v)
	}
}

// ToGo converts a Value back into plain Go data (map[string]interface{},
// []interface{}, string, float64, bool, nil), the shape JSON encoders and
// gojsonschema expect.
func (v Value) ToGo() interface{} {
	switch v.Kind {
	case KNull, KUndefined:
		return nil
	case KBool:
		return v.B
	case KNumber:
		return v.N
	case KString:
		return v.S
	case KBytes:
		return v.Byt
	case KList:
		out := make([]interface{}, len(*v.L))
		for i, item := range *v.L {
			out[i] = item.ToGo()
		}
		return out
	case KMap:
		out := make(map[string]interface{}, len(*v.M))
		for k, item := range *v.M {
			out[k] = item.ToGo()
		}
		return out
	default:
		return v.Host
	}
}
