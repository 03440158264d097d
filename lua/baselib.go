// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"io"
	"os"
	"strconv"
	"strings"

	"lunar.256lights.llc/internal/luacode"
)

// GName is the name of the global table.
const GName = "_G"

// Version is the Lua language version this VM implements.
const Version = "Lua 5.4"

// BaseOptions configures [OpenBase].
type BaseOptions struct {
	// Output receives "print" output (os.Stdout if nil).
	Output io.Writer
}

// OpenBase installs the basic library into the global table
// and returns it.
func OpenBase(l *State, opts *BaseOptions) (*Table, error) {
	if opts == nil {
		opts = new(BaseOptions)
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	g := l.Globals()
	funcs := map[string]GoFunc{
		"assert":       baseAssert,
		"error":        baseError,
		"getmetatable": baseGetMetatable,
		"setmetatable": baseSetMetatable,
		"ipairs":       baseIPairs,
		"pairs":        basePairs,
		"next":         baseNext,
		"load":         baseLoad,
		"print":        newBasePrint(out),
		"rawequal":     baseRawEqual,
		"rawget":       baseRawGet,
		"rawset":       baseRawSet,
		"rawlen":       baseRawLen,
		"select":       baseSelect,
		"tonumber":     baseToNumber,
		"tostring":     baseToString,
		"type":         baseType,
	}
	for name, f := range funcs {
		g.SetField(name, NewGoFunction(name, f))
	}

	// pcall and xpcall are yield-transparent:
	// a coroutine may yield from inside a protected call.
	pcall := NewGoFunction("pcall", basePCall)
	pcall.yieldTransparent = true
	g.SetField("pcall", pcall)
	xpcall := NewGoFunction("xpcall", baseXPCall)
	xpcall.yieldTransparent = true
	g.SetField("xpcall", xpcall)

	g.SetField(GName, g)
	g.SetField("_VERSION", String(Version))
	return g, nil
}

func baseAssert(l *State, args []Value) ([]Value, error) {
	if len(args) == 0 {
		return nil, NewArgError(l, "assert", 1, "value expected")
	}
	if Truthy(args[0]) {
		return args, nil
	}
	if len(args) >= 2 {
		return nil, &RuntimeError{value: args[1], traceback: l.current.captureStack()}
	}
	return nil, l.current.rtErrorf("assertion failed!")
}

func baseError(l *State, args []Value) ([]Value, error) {
	level, err := OptInteger(l, "error", args, 2, 1)
	if err != nil {
		return nil, err
	}
	msg := Arg(args, 0)
	if s, ok := msg.(String); ok && level > 0 {
		msg = String(Where(l, int(level)-1) + string(s))
	}
	return nil, &RuntimeError{value: msg, traceback: l.current.captureStack()}
}

func baseGetMetatable(l *State, args []Value) ([]Value, error) {
	if len(args) == 0 {
		return nil, NewArgError(l, "getmetatable", 1, "value expected")
	}
	mt := l.Metatable(args[0])
	if mt == nil {
		return []Value{nil}, nil
	}
	if protected := mt.GetField("__metatable"); protected != nil {
		return []Value{protected}, nil
	}
	return []Value{mt}, nil
}

func baseSetMetatable(l *State, args []Value) ([]Value, error) {
	tab, err := CheckTable(l, "setmetatable", args, 1)
	if err != nil {
		return nil, err
	}
	var meta *Table
	switch m := Arg(args, 1).(type) {
	case nil:
	case *Table:
		meta = m
	default:
		return nil, NewTypeArgError(l, "setmetatable", 2, "nil or table", m)
	}
	if old := tab.Metatable(); old != nil && old.GetField("__metatable") != nil {
		return nil, l.current.rtErrorf("cannot change a protected metatable")
	}
	tab.SetMetatable(meta)
	return []Value{tab}, nil
}

func baseIPairs(l *State, args []Value) ([]Value, error) {
	if len(args) == 0 {
		return nil, NewArgError(l, "ipairs", 1, "value expected")
	}
	t := args[0]
	iterator := NewGoFunction("ipairs_iterator", func(l *State, args []Value) ([]Value, error) {
		i, err := CheckInteger(l, "ipairs", args, 2)
		if err != nil {
			return nil, err
		}
		i++
		v, err := l.Index(t, Integer(i))
		if err != nil {
			return nil, err
		}
		if v == nil {
			return []Value{nil}, nil
		}
		return []Value{Integer(i), v}, nil
	})
	return []Value{iterator, t, Integer(0)}, nil
}

func basePairs(l *State, args []Value) ([]Value, error) {
	if len(args) == 0 {
		return nil, NewArgError(l, "pairs", 1, "value expected")
	}
	if mm := l.metamethod(args[0], luacode.TagMethodPairs); mm != nil {
		results, err := l.Call(mm, args[0])
		if err != nil {
			return nil, err
		}
		for len(results) < 3 {
			results = append(results, nil)
		}
		return results[:3], nil
	}
	return []Value{NewGoFunction("next", baseNext), args[0], nil}, nil
}

func baseNext(l *State, args []Value) ([]Value, error) {
	tab, err := CheckTable(l, "next", args, 1)
	if err != nil {
		return nil, err
	}
	key, value, ok := tab.Next(Arg(args, 1))
	if !ok {
		return nil, NewArgError(l, "next", 2, "invalid key to 'next'")
	}
	if key == nil {
		return []Value{nil}, nil
	}
	return []Value{key, value}, nil
}

func baseLoad(l *State, args []Value) ([]Value, error) {
	var chunk string
	switch src := Arg(args, 0).(type) {
	case String:
		chunk = string(src)
	case *Function:
		// A reader function returns successive pieces of the chunk.
		sb := new(strings.Builder)
		for {
			piece, err := l.call1(src)
			if err != nil {
				return nil, err
			}
			if piece == nil {
				break
			}
			s, ok := piece.(String)
			if !ok {
				return []Value{nil, String("reader function must return a string")}, nil
			}
			if len(s) == 0 {
				break
			}
			sb.WriteString(string(s))
		}
		chunk = sb.String()
	default:
		return nil, NewTypeArgError(l, "load", 1, "string or function", src)
	}

	chunkName, err := OptString(l, "load", args, 2, "=(load)")
	if err != nil {
		return nil, err
	}
	if _, isString := Arg(args, 0).(String); isString && Arg(args, 1) == nil {
		chunkName = chunk
	}
	mode, err := OptString(l, "load", args, 3, "bt")
	if err != nil {
		return nil, err
	}

	fn, err := l.Load([]byte(chunk), chunkName, mode)
	if err != nil {
		return []Value{nil, String(err.Error())}, nil
	}
	if env := Arg(args, 3); env != nil && len(fn.upvalues) > 0 {
		fn.upvalues[0] = closedUpvalue(env)
	}
	return []Value{fn}, nil
}

func basePCall(l *State, args []Value) ([]Value, error) {
	if len(args) == 0 {
		return nil, NewArgError(l, "pcall", 1, "value expected")
	}
	results, err := l.Call(args[0], args[1:]...)
	if err != nil {
		return []Value{Boolean(false), errorValue(err)}, nil
	}
	return append([]Value{Boolean(true)}, results...), nil
}

func baseXPCall(l *State, args []Value) ([]Value, error) {
	if len(args) < 2 {
		return nil, NewArgError(l, "xpcall", 2, "value expected")
	}
	handler := args[1]
	results, err := l.Call(args[0], args[2:]...)
	if err == nil {
		return append([]Value{Boolean(true)}, results...), nil
	}

	// The handler observes the failed call's captured stack
	// through debug.traceback while it runs.
	rtErr := l.current.asRuntimeError(err)
	prev := l.handledError
	l.handledError = rtErr
	handled, herr := l.call1(handler, rtErr.value)
	l.handledError = prev
	if herr != nil {
		return []Value{Boolean(false), errorValue(herr)}, nil
	}
	return []Value{Boolean(false), handled}, nil
}

func newBasePrint(out io.Writer) GoFunc {
	return func(l *State, args []Value) ([]Value, error) {
		for i, arg := range args {
			s, err := ToStringMeta(l, arg)
			if err != nil {
				return nil, err
			}
			if i > 0 {
				io.WriteString(out, "\t")
			}
			io.WriteString(out, s)
		}
		io.WriteString(out, "\n")
		return nil, nil
	}
}

func baseRawEqual(l *State, args []Value) ([]Value, error) {
	if len(args) < 2 {
		return nil, NewArgError(l, "rawequal", 2, "value expected")
	}
	return []Value{Boolean(rawEqual(args[0], args[1]))}, nil
}

func baseRawGet(l *State, args []Value) ([]Value, error) {
	tab, err := CheckTable(l, "rawget", args, 1)
	if err != nil {
		return nil, err
	}
	if len(args) < 2 {
		return nil, NewArgError(l, "rawget", 2, "value expected")
	}
	return []Value{tab.Get(args[1])}, nil
}

func baseRawSet(l *State, args []Value) ([]Value, error) {
	tab, err := CheckTable(l, "rawset", args, 1)
	if err != nil {
		return nil, err
	}
	if len(args) < 3 {
		return nil, NewArgError(l, "rawset", 3, "value expected")
	}
	if err := tab.Set(args[1], args[2]); err != nil {
		return nil, l.current.rtErrorf("%v", err)
	}
	return []Value{tab}, nil
}

func baseRawLen(l *State, args []Value) ([]Value, error) {
	switch v := Arg(args, 0).(type) {
	case String:
		return []Value{Integer(len(v))}, nil
	case *Table:
		return []Value{v.Len()}, nil
	default:
		return nil, NewTypeArgError(l, "rawlen", 1, "table or string", v)
	}
}

func baseSelect(l *State, args []Value) ([]Value, error) {
	if s, ok := Arg(args, 0).(String); ok && s == "#" {
		return []Value{Integer(len(args) - 1)}, nil
	}
	n, err := CheckInteger(l, "select", args, 1)
	if err != nil {
		return nil, err
	}
	rest := int64(len(args) - 1)
	switch {
	case n < 0:
		n = rest + n + 1
		if n < 1 {
			return nil, NewArgError(l, "select", 1, "index out of range")
		}
	case n == 0:
		return nil, NewArgError(l, "select", 1, "index out of range")
	case n > rest:
		return nil, nil
	}
	return args[n:], nil
}

func baseToNumber(l *State, args []Value) ([]Value, error) {
	if Arg(args, 1) == nil {
		v, ok := ToNumber(Arg(args, 0))
		if !ok {
			return []Value{nil}, nil
		}
		return []Value{v}, nil
	}

	base, err := CheckInteger(l, "tonumber", args, 2)
	if err != nil {
		return nil, err
	}
	if base < 2 || base > 36 {
		return nil, NewArgError(l, "tonumber", 2, "base out of range")
	}
	s, err := CheckString(l, "tonumber", args, 1)
	if err != nil {
		return nil, err
	}
	n, perr := strconv.ParseInt(strings.ToLower(strings.TrimSpace(s)), int(base), 64)
	if perr != nil {
		return []Value{nil}, nil
	}
	return []Value{Integer(n)}, nil
}

func baseToString(l *State, args []Value) ([]Value, error) {
	if len(args) == 0 {
		return nil, NewArgError(l, "tostring", 1, "value expected")
	}
	s, err := ToStringMeta(l, args[0])
	if err != nil {
		return nil, err
	}
	return []Value{String(s)}, nil
}

func baseType(l *State, args []Value) ([]Value, error) {
	if len(args) == 0 {
		return nil, NewArgError(l, "type", 1, "value expected")
	}
	return []Value{String(TypeOf(args[0]).String())}, nil
}
