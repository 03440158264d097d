// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"fmt"

	"lunar.256lights.llc/internal/luacode"
)

// Arg returns the n'th (0-based) argument, or nil if absent.
func Arg(args []Value, n int) Value {
	if n >= len(args) {
		return nil
	}
	return args[n]
}

// NewArgError reports a problem with the n'th (1-based) argument
// of the named function, using the standard message shape.
func NewArgError(l *State, fname string, n int, msg string) error {
	return l.current.rtErrorf("bad argument #%d to '%s' (%s)", n, fname, msg)
}

// NewTypeArgError reports an argument of the wrong type.
func NewTypeArgError(l *State, fname string, n int, want string, got Value) error {
	return NewArgError(l, fname, n, fmt.Sprintf("%s expected, got %s", want, l.typeName(got)))
}

// CheckValue requires the n'th (1-based) argument to be present.
func CheckValue(l *State, fname string, args []Value, n int) (Value, error) {
	if n > len(args) {
		return nil, NewArgError(l, fname, n, "value expected")
	}
	return args[n-1], nil
}

// CheckInteger requires an integer (or convertible) argument.
func CheckInteger(l *State, fname string, args []Value, n int) (int64, error) {
	v := Arg(args, n-1)
	i, ok := ToInteger(v)
	if !ok {
		if TypeOf(v) == TypeNumber {
			return 0, NewArgError(l, fname, n, "number has no integer representation")
		}
		return 0, NewTypeArgError(l, fname, n, "number", v)
	}
	return int64(i), nil
}

// CheckNumber requires a number (or numeric string) argument.
func CheckNumber(l *State, fname string, args []Value, n int) (float64, error) {
	v, ok := ToNumber(Arg(args, n-1))
	if !ok {
		return 0, NewTypeArgError(l, fname, n, "number", Arg(args, n-1))
	}
	f, _ := toFloat(v)
	return f, nil
}

// CheckString requires a string (or number) argument.
func CheckString(l *State, fname string, args []Value, n int) (string, error) {
	switch v := Arg(args, n-1).(type) {
	case String:
		return string(v), nil
	case Integer, Float:
		s, _ := ToString(v)
		return s, nil
	default:
		return "", NewTypeArgError(l, fname, n, "string", v)
	}
}

// CheckTable requires a table argument.
func CheckTable(l *State, fname string, args []Value, n int) (*Table, error) {
	tab, ok := Arg(args, n-1).(*Table)
	if !ok {
		return nil, NewTypeArgError(l, fname, n, "table", Arg(args, n-1))
	}
	return tab, nil
}

// CheckFunction requires a function argument.
func CheckFunction(l *State, fname string, args []Value, n int) (*Function, error) {
	f, ok := Arg(args, n-1).(*Function)
	if !ok {
		return nil, NewTypeArgError(l, fname, n, "function", Arg(args, n-1))
	}
	return f, nil
}

// CheckCoroutine requires a thread argument.
func CheckCoroutine(l *State, fname string, args []Value, n int) (*Coroutine, error) {
	co, ok := Arg(args, n-1).(*Coroutine)
	if !ok {
		return nil, NewTypeArgError(l, fname, n, "coroutine", Arg(args, n-1))
	}
	return co, nil
}

// OptInteger returns an integer argument or a default when absent.
func OptInteger(l *State, fname string, args []Value, n int, def int64) (int64, error) {
	if Arg(args, n-1) == nil {
		return def, nil
	}
	return CheckInteger(l, fname, args, n)
}

// OptString returns a string argument or a default when absent.
func OptString(l *State, fname string, args []Value, n int, def string) (string, error) {
	if Arg(args, n-1) == nil {
		return def, nil
	}
	return CheckString(l, fname, args, n)
}

// Where formats the "source:line: " prefix for the given stack level
// of the current thread (0 = innermost Lua frame).
func Where(l *State, level int) string {
	return l.current.where(level)
}

// Metafield returns the named metatable field of v, or nil.
func Metafield(l *State, v Value, event string) Value {
	return l.Metatable(v).GetField(event)
}

// ToStringMeta converts a value to a string for display,
// honoring the __tostring and __name metafields.
func ToStringMeta(l *State, v Value) (string, error) {
	if mm := l.metamethod(v, luacode.TagMethodToString); mm != nil {
		result, err := l.call1(mm, v)
		if err != nil {
			return "", err
		}
		s, ok := result.(String)
		if !ok {
			return "", l.current.rtErrorf("'__tostring' must return a string")
		}
		return string(s), nil
	}
	if name, ok := Metafield(l, v, "__name").(String); ok {
		switch v.(type) {
		case *Table, *Userdata:
			return fmt.Sprintf("%s: %p", name, v), nil
		}
	}
	s, _ := ToString(v)
	return s, nil
}
