// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"math"

	"lunar.256lights.llc/internal/luacode"
)

// OpenMath returns the math library table
// (the subset the core's conformance programs rely on).
func OpenMath(l *State) (*Table, error) {
	lib := NewTable()
	funcs := map[string]GoFunc{
		"type":      mathType,
		"floor":     mathFloor,
		"ceil":      mathCeil,
		"abs":       mathAbs,
		"max":       mathMax,
		"min":       mathMin,
		"tointeger": mathToInteger,
	}
	for name, f := range funcs {
		lib.SetField(name, NewGoFunction(name, f))
	}
	lib.SetField("huge", Float(math.Inf(1)))
	lib.SetField("pi", Float(math.Pi))
	lib.SetField("maxinteger", Integer(math.MaxInt64))
	lib.SetField("mininteger", Integer(math.MinInt64))
	return lib, nil
}

func mathType(l *State, args []Value) ([]Value, error) {
	if len(args) == 0 {
		return nil, NewArgError(l, "type", 1, "value expected")
	}
	switch args[0].(type) {
	case Integer:
		return []Value{String("integer")}, nil
	case Float:
		return []Value{String("float")}, nil
	default:
		return []Value{nil}, nil
	}
}

func mathFloor(l *State, args []Value) ([]Value, error) {
	return mathRound(l, "floor", args, luacode.Floor, math.Floor)
}

func mathCeil(l *State, args []Value) ([]Value, error) {
	return mathRound(l, "ceil", args, luacode.Ceil, math.Ceil)
}

func mathRound(l *State, fname string, args []Value, mode luacode.FloatToIntegerMode, round func(float64) float64) ([]Value, error) {
	if i, ok := Arg(args, 0).(Integer); ok {
		return []Value{i}, nil
	}
	f, err := CheckNumber(l, fname, args, 1)
	if err != nil {
		return nil, err
	}
	if i, ok := luacode.FloatToInteger(f, mode); ok {
		return []Value{Integer(i)}, nil
	}
	return []Value{Float(round(f))}, nil
}

func mathAbs(l *State, args []Value) ([]Value, error) {
	switch v := Arg(args, 0).(type) {
	case Integer:
		if v < 0 {
			return []Value{-v}, nil
		}
		return []Value{v}, nil
	default:
		f, err := CheckNumber(l, "abs", args, 1)
		if err != nil {
			return nil, err
		}
		return []Value{Float(math.Abs(f))}, nil
	}
}

func mathMax(l *State, args []Value) ([]Value, error) {
	return mathExtreme(l, "max", args, false)
}

func mathMin(l *State, args []Value) ([]Value, error) {
	return mathExtreme(l, "min", args, true)
}

func mathExtreme(l *State, fname string, args []Value, wantMin bool) ([]Value, error) {
	if len(args) == 0 {
		return nil, NewArgError(l, fname, 1, "value expected")
	}
	best := args[0]
	if _, ok := ToNumber(best); !ok {
		return nil, NewTypeArgError(l, fname, 1, "number", best)
	}
	for i, v := range args[1:] {
		if _, ok := ToNumber(v); !ok {
			return nil, NewTypeArgError(l, fname, i+2, "number", v)
		}
		less, err := l.Less(v, best, false)
		if err != nil {
			return nil, err
		}
		if less == wantMin {
			best = v
		}
	}
	return []Value{best}, nil
}

func mathToInteger(l *State, args []Value) ([]Value, error) {
	if i, ok := ToInteger(Arg(args, 0)); ok {
		return []Value{i}, nil
	}
	return []Value{nil}, nil
}
