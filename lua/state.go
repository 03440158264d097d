// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"fmt"
	"strings"

	"lunar.256lights.llc/internal/luacode"
	"lunar.256lights.llc/internal/luasyntax"
)

const (
	// maxMetaDepth bounds metamethod chains (__index loops and the like).
	maxMetaDepth = 200
	// maxCallDepth bounds the call stack of a single thread.
	maxCallDepth = 200_000
)

// A State is a Lua execution environment:
// a global environment, a registry,
// and a main thread with any number of coroutines.
// A State must not be shared between host goroutines
// without external synchronization.
type State struct {
	registry *Table
	globals  *Table
	// typeMetatables holds the shared metatables
	// of non-table, non-userdata types
	// (strings and numbers share one per subtype-free type).
	typeMetatables [numTypes]*Table

	main    *Coroutine
	current *Coroutine

	// debugSink receives internal tracing when set.
	debugSink func(string)
	// handledError is the error being examined by an xpcall handler,
	// so debug.traceback can reach the throw-time stack.
	handledError *RuntimeError
}

// NewState returns a fresh execution environment
// with an empty global table.
func NewState() *State {
	l := &State{
		registry: NewTable(),
		globals:  NewTable(),
	}
	l.main = newMainCoroutine(l)
	l.current = l.main
	return l
}

// Close always returns nil and releases nothing.
// Suspended coroutines are not killed:
// their goroutines stay blocked.
func (l *State) Close() error {
	return nil
}

// Globals returns the global environment table (_ENV of loaded chunks).
func (l *State) Globals() *Table { return l.globals }

// Registry returns the state-wide registry table,
// a place for host code to store Lua values.
func (l *State) Registry() *Table { return l.registry }

// SetDebugSink installs a tracing sink for the VM's internal events.
// A nil sink disables tracing (the default).
func (l *State) SetDebugSink(sink func(string)) {
	l.debugSink = sink
}

func (l *State) debugf(format string, args ...any) {
	if l.debugSink != nil {
		l.debugSink(fmt.Sprintf(format, args...))
	}
}

// SetTypeMetatable sets the shared metatable
// for all values of a non-table, non-userdata type.
func (l *State) SetTypeMetatable(tp Type, meta *Table) {
	if tp <= TypeNil || tp >= numTypes || tp == TypeTable || tp == TypeUserdata {
		panic("SetTypeMetatable on per-value type")
	}
	l.typeMetatables[tp] = meta
}

// Metatable returns the metatable governing a value.
func (l *State) Metatable(v Value) *Table {
	switch v := v.(type) {
	case *Table:
		return v.meta
	case *Userdata:
		return v.meta
	default:
		tp := TypeOf(v)
		if tp <= TypeNil {
			return nil
		}
		return l.typeMetatables[tp]
	}
}

// metamethod returns a metamethod of v, or nil.
func (l *State) metamethod(v Value, tm luacode.TagMethod) Value {
	return l.Metatable(v).GetField(tm.String())
}

// binaryMetamethod returns the metamethod for a binary event,
// trying the left operand first.
func (l *State) binaryMetamethod(v1, v2 Value, tm luacode.TagMethod) Value {
	if mm := l.metamethod(v1, tm); mm != nil {
		return mm
	}
	return l.metamethod(v2, tm)
}

// typeName returns the display name of a value's type,
// honoring the __name metafield.
func (l *State) typeName(v Value) string {
	if s, ok := l.metamethod(v, luacode.TagMethodName).(String); ok {
		return string(s)
	}
	return TypeOf(v).String()
}

// Index returns t[k], following __index metamethods.
func (l *State) Index(t, k Value) (Value, error) {
	for range maxMetaDepth {
		if tab, ok := t.(*Table); ok {
			if v := tab.Get(k); v != nil {
				return v, nil
			}
		}
		tm := l.metamethod(t, luacode.TagMethodIndex)
		switch tm := tm.(type) {
		case nil:
			if _, isTable := t.(*Table); !isTable {
				return nil, &RuntimeError{value: String(fmt.Sprintf("attempt to index a %s value", l.typeName(t)))}
			}
			return nil, nil
		case *Table:
			t = tm
		case *Function:
			return l.call1(tm, t, k)
		default:
			t = tm
		}
	}
	return nil, fmt.Errorf("'%v' chain too long; possible loop", luacode.TagMethodIndex)
}

// SetIndex performs t[k] = v, following __newindex metamethods.
func (l *State) SetIndex(t, k, v Value) error {
	// An existing entry short-circuits the metamethod search.
	if tab, _ := t.(*Table); tab.setExisting(k, v) {
		return nil
	}
	for range maxMetaDepth {
		tm := l.metamethod(t, luacode.TagMethodNewIndex)
		switch tm := tm.(type) {
		case nil:
			tab, _ := t.(*Table)
			if tab == nil {
				return &RuntimeError{value: String(fmt.Sprintf("attempt to index a %s value", l.typeName(t)))}
			}
			return tab.Set(k, v)
		case *Function:
			_, err := l.Call(tm, t, k, v)
			return err
		case *Table:
			if tm.setExisting(k, v) {
				return nil
			}
			t = tm
		default:
			t = tm
		}
	}
	return fmt.Errorf("'%v' chain too long; possible loop", luacode.TagMethodNewIndex)
}

// Equal reports v1 == v2 with full Lua semantics:
// __eq fires only when both operands are tables (or both userdata)
// that are not primitively equal.
func (l *State) Equal(v1, v2 Value) (bool, error) {
	if TypeOf(v1) != TypeOf(v2) {
		return false, nil
	}
	if rawEqual(v1, v2) {
		return true, nil
	}
	t := TypeOf(v1)
	if t != TypeTable && t != TypeUserdata {
		return false, nil
	}
	mm := l.eqMetamethod(v1, v2)
	if mm == nil {
		return false, nil
	}
	result, err := l.call1(mm, v1, v2)
	if err != nil {
		return false, err
	}
	return Truthy(result), nil
}

// eqMetamethod returns the __eq handler for two values:
// it fires only when both operands share the same handler.
func (l *State) eqMetamethod(v1, v2 Value) Value {
	mm1 := l.metamethod(v1, luacode.TagMethodEQ)
	if mm1 == nil {
		return nil
	}
	mm2 := l.metamethod(v2, luacode.TagMethodEQ)
	if mm2 == nil || !rawEqual(mm1, mm2) {
		return nil
	}
	return mm1
}

// Less reports v1 < v2 (or v1 <= v2 when orEqual is set),
// following __lt/__le metamethods.
// When __le is absent, "not (v2 < v1)" is used.
func (l *State) Less(v1, v2 Value, orEqual bool) (bool, error) {
	t1, t2 := TypeOf(v1), TypeOf(v2)
	if t1 == TypeNumber && t2 == TypeNumber {
		c := compareNumbers(v1, v2)
		return c < 0 || orEqual && c == 0, nil
	}
	if s1, ok := v1.(String); ok {
		if s2, ok := v2.(String); ok {
			if orEqual {
				return s1 <= s2, nil
			}
			return s1 < s2, nil
		}
	}

	event := luacode.TagMethodLT
	if orEqual {
		event = luacode.TagMethodLE
	}
	if mm := l.binaryMetamethod(v1, v2, event); mm != nil {
		result, err := l.call1(mm, v1, v2)
		if err != nil {
			return false, err
		}
		return Truthy(result), nil
	}
	if orEqual {
		// Fall back to not (v2 < v1).
		if mm := l.binaryMetamethod(v1, v2, luacode.TagMethodLT); mm != nil {
			result, err := l.call1(mm, v2, v1)
			if err != nil {
				return false, err
			}
			return !Truthy(result), nil
		}
	}

	tn1, tn2 := l.typeName(v1), l.typeName(v2)
	if tn1 == tn2 {
		return false, l.current.rtErrorf("attempt to compare two %s values", tn1)
	}
	return false, l.current.rtErrorf("attempt to compare %s with %s", tn1, tn2)
}

// Arithmetic applies an arithmetic or bitwise operator
// with Lua's coercions and metamethod fallbacks.
func (l *State) Arithmetic(op luacode.ArithmeticOperator, v1, v2 Value) (Value, error) {
	return l.arithmeticHint(op, v1, v2, "")
}

func (l *State) arithmeticHint(op luacode.ArithmeticOperator, v1, v2 Value, hint string) (Value, error) {
	k1, ok1 := numericValue(v1)
	k2, ok2 := numericValue(v2)
	if op.IsUnary() {
		k2, ok2 = luacode.IntegerValue(0), true
		v2 = v1
	}
	if ok1 && ok2 {
		result, err := luacode.Arithmetic(op, k1, k2)
		if err != nil {
			return nil, l.current.rtErrorf("%v", err)
		}
		return importConstant(result), nil
	}

	if mm := l.binaryMetamethod(v1, v2, op.TagMethod()); mm != nil {
		return l.call1(mm, v1, v2)
	}

	kind := "perform arithmetic on"
	if op.IsIntegral() {
		if TypeOf(v1) == TypeNumber && TypeOf(v2) == TypeNumber {
			return nil, l.current.rtErrorf("%v", luacode.ErrNotInteger)
		}
		kind = "perform bitwise operation on"
	}
	bad := v1
	if ok1 {
		bad = v2
	}
	return nil, l.typeErrorf(bad, kind, hint)
}

// typeErrorf raises the canonical "attempt to <verb> a <type> value" error
// with an optional operand hint.
func (l *State) typeErrorf(v Value, verb, hint string) error {
	if hint != "" {
		return l.current.rtErrorf("attempt to %s a %s value (%s)", verb, l.typeName(v), hint)
	}
	return l.current.rtErrorf("attempt to %s a %s value", verb, l.typeName(v))
}

// Concat concatenates values with Lua's rules:
// strings and numbers concatenate textually,
// anything else consults __concat (right to left).
func (l *State) Concat(values ...Value) (Value, error) {
	if len(values) == 0 {
		return String(""), nil
	}
	acc := values[len(values)-1]
	for i := len(values) - 2; i >= 0; i-- {
		v := values[i]
		vs, vok := concatString(v)
		as, aok := concatString(acc)
		if vok && aok {
			acc = String(vs + as)
			continue
		}
		mm := l.binaryMetamethod(v, acc, luacode.TagMethodConcat)
		if mm == nil {
			bad := v
			if vok {
				bad = acc
			}
			return nil, l.typeErrorf(bad, "concatenate", "")
		}
		result, err := l.call1(mm, v, acc)
		if err != nil {
			return nil, err
		}
		acc = result
	}
	return acc, nil
}

func concatString(v Value) (string, bool) {
	switch v := v.(type) {
	case String:
		return string(v), true
	case Integer, Float:
		s, _ := ToString(v)
		return s, true
	default:
		return "", false
	}
}

// Length applies the "#" operator, honoring __len.
// A __len result must be convertible to an integer.
func (l *State) Length(v Value) (Value, error) {
	if s, ok := v.(String); ok {
		return Integer(len(s)), nil
	}
	if mm := l.metamethod(v, luacode.TagMethodLen); mm != nil {
		result, err := l.call1(mm, v)
		if err != nil {
			return nil, err
		}
		n, ok := ToInteger(result)
		if !ok {
			return nil, l.current.rtErrorf("object length is not an integer")
		}
		return n, nil
	}
	if tab, ok := v.(*Table); ok {
		return tab.Len(), nil
	}
	return nil, l.typeErrorf(v, "get length of", "")
}

// Call invokes a callable value on the current thread
// and returns all of its results.
func (l *State) Call(fn Value, args ...Value) ([]Value, error) {
	return l.current.call(fn, args)
}

// call1 invokes a callable and keeps a single result.
func (l *State) call1(fn Value, args ...Value) (Value, error) {
	results, err := l.current.call(fn, args)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// Load compiles or loads a chunk and returns it as a function
// whose first upvalue (_ENV) is bound to the globals table.
//
// chunkName names the chunk in messages:
// "@path" for files, "=text" for abstract descriptions,
// anything else for literal chunks.
// mode controls accepted forms:
// "b" (binary only), "t" (text only), or "bt".
func (l *State) Load(chunk []byte, chunkName string, mode string) (*Function, error) {
	isBinary := strings.HasPrefix(string(chunk), luacode.Signature)
	var proto *luacode.Prototype
	switch {
	case isBinary && strings.Contains(mode, "b"):
		proto = new(luacode.Prototype)
		if err := proto.UnmarshalBinary(chunk); err != nil {
			return nil, err
		}
	case !isBinary && strings.Contains(mode, "t"):
		var err error
		proto, err = luacode.Parse(sourceForName(chunkName), string(chunk))
		if err != nil {
			return nil, err
		}
	case isBinary:
		return nil, fmt.Errorf("attempt to load a binary chunk (mode is '%s')", mode)
	default:
		return nil, fmt.Errorf("attempt to load a text chunk (mode is '%s')", mode)
	}
	l.debugf("loaded chunk %s (%d instructions)", chunkName, len(proto.Code))
	return l.newClosure(proto), nil
}

// LoadString compiles a text chunk.
func (l *State) LoadString(chunk, chunkName string) (*Function, error) {
	return l.Load([]byte(chunk), chunkName, "t")
}

// DoString compiles and runs a chunk, returning its results.
func (l *State) DoString(chunk, chunkName string) ([]Value, error) {
	fn, err := l.LoadString(chunk, chunkName)
	if err != nil {
		return nil, err
	}
	return l.Call(fn)
}

func sourceForName(chunkName string) luacode.Source {
	switch {
	case strings.HasPrefix(chunkName, "@"):
		return luacode.FilenameSource(chunkName[1:])
	case strings.HasPrefix(chunkName, "="):
		return luacode.AbstractSource(chunkName[1:])
	default:
		return luacode.LiteralSource(chunkName)
	}
}

// newClosure instantiates a loaded prototype,
// binding an _ENV-shaped first upvalue to the globals table
// and fresh nil cells to any others.
func (l *State) newClosure(proto *luacode.Prototype) *Function {
	upvalues := make([]*Upvalue, len(proto.Upvalues))
	for i := range upvalues {
		if i == 0 {
			upvalues[i] = closedUpvalue(l.globals)
		} else {
			upvalues[i] = closedUpvalue(nil)
		}
	}
	return &Function{id: nextID(), proto: proto, upvalues: upvalues}
}

// CompileChunk parses and compiles text without creating a closure.
// It is the hook for ahead-of-time tooling.
func CompileChunk(chunk, chunkName string) (*luacode.Prototype, error) {
	block, err := luasyntax.Parse(sourceForName(chunkName).String(), chunk)
	if err != nil {
		return nil, err
	}
	return luacode.Compile(sourceForName(chunkName), block)
}
