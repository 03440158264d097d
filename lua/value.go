// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"lunar.256lights.llc/internal/luacode"
	"lunar.256lights.llc/internal/lualex"
)

// Type is an enumeration of Lua data types.
type Type int

// TypeNone describes the absence of a value (an invalid slot).
const TypeNone Type = -1

// Value types.
const (
	TypeNil      Type = 0
	TypeBoolean  Type = 1
	TypeNumber   Type = 2
	TypeString   Type = 3
	TypeTable    Type = 4
	TypeFunction Type = 5
	TypeUserdata Type = 6
	TypeThread   Type = 7

	numTypes = 8
)

// String returns the name of the type as the Lua "type" function reports it.
func (tp Type) String() string {
	switch tp {
	case TypeNone:
		return "no value"
	case TypeNil:
		return "nil"
	case TypeBoolean:
		return "boolean"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeTable:
		return "table"
	case TypeFunction:
		return "function"
	case TypeUserdata:
		return "userdata"
	case TypeThread:
		return "thread"
	default:
		return fmt.Sprintf("lua.Type(%d)", int(tp))
	}
}

// A Value is any Lua value.
// A nil Value is Lua nil.
type Value interface {
	valueType() Type
}

// TypeOf returns the [Type] of a value.
func TypeOf(v Value) Type {
	if v == nil {
		return TypeNil
	}
	return v.valueType()
}

// Boolean is a Lua boolean.
type Boolean bool

func (Boolean) valueType() Type { return TypeBoolean }

// Integer is the integer subtype of a Lua number.
type Integer int64

func (Integer) valueType() Type { return TypeNumber }

// Float is the float subtype of a Lua number.
type Float float64

func (Float) valueType() Type { return TypeNumber }

// String is a Lua string (an immutable byte sequence).
type String string

func (String) valueType() Type { return TypeString }

// A Userdata wraps an arbitrary Go value for Lua code.
type Userdata struct {
	id   uint64
	Data any
	meta *Table
}

// NewUserdata returns a fresh userdata wrapping data.
func NewUserdata(data any) *Userdata {
	return &Userdata{id: nextID(), Data: data}
}

func (*Userdata) valueType() Type { return TypeUserdata }

// SetMetatable sets the userdata's metatable.
func (u *Userdata) SetMetatable(meta *Table) { u.meta = meta }

// Metatable returns the userdata's metatable, or nil.
func (u *Userdata) Metatable() *Table { return u.meta }

var globalIDs atomic.Uint64

func nextID() uint64 {
	return globalIDs.Add(1)
}

// Truthy reports whether the value tests true in Lua:
// anything except nil and false.
func Truthy(v Value) bool {
	b, isBool := v.(Boolean)
	return v != nil && (!isBool || bool(b))
}

// numericValue converts a number or numeric string
// to a compile-time constant value for shared arithmetic.
func numericValue(v Value) (_ luacode.Value, ok bool) {
	switch v := v.(type) {
	case Integer:
		return luacode.IntegerValue(int64(v)), true
	case Float:
		return luacode.FloatValue(float64(v)), true
	case String:
		// Strings coerce to numbers in arithmetic contexts.
		if i, err := lualex.ParseInt(string(v)); err == nil {
			return luacode.IntegerValue(i), true
		}
		if f, err := lualex.ParseNumber(string(v)); err == nil {
			return luacode.FloatValue(f), true
		}
		return luacode.Value{}, false
	default:
		return luacode.Value{}, false
	}
}

// importConstant converts a compile-time constant to a runtime [Value].
func importConstant(v luacode.Value) Value {
	switch {
	case v.IsNil():
		return nil
	case v.IsBoolean():
		b, _ := v.Bool()
		return Boolean(b)
	case v.IsInteger():
		i, _ := v.Int64()
		return Integer(i)
	case v.IsNumber():
		f, _ := v.Float64()
		return Float(f)
	case v.IsString():
		s, _ := v.Unquoted()
		return String(s)
	default:
		panic("unreachable")
	}
}

// ToNumber converts a value to a number following Lua's coercion rules,
// preferring the integer subtype.
// ok is false if the value is not a number or numeric string.
func ToNumber(v Value) (_ Value, ok bool) {
	switch v := v.(type) {
	case Integer, Float:
		return v, true
	case String:
		k, ok := numericValue(v)
		if !ok {
			return nil, false
		}
		return importConstant(k), true
	default:
		return nil, false
	}
}

// ToInteger converts a value to an integer
// following Lua's coercion rules:
// floats convert only when integral.
func ToInteger(v Value) (_ Integer, ok bool) {
	switch v := v.(type) {
	case Integer:
		return v, true
	case Float:
		i, ok := luacode.FloatToInteger(float64(v), luacode.OnlyIntegral)
		return Integer(i), ok
	case String:
		n, ok := ToNumber(v)
		if !ok {
			return 0, false
		}
		return ToInteger(n)
	default:
		return 0, false
	}
}

// ToString formats a value the way the Lua "tostring" function does,
// without consulting metamethods.
func ToString(v Value) (_ string, ok bool) {
	switch v := v.(type) {
	case nil:
		return "nil", false
	case Boolean:
		if v {
			return "true", false
		}
		return "false", false
	case Integer:
		return strconv.FormatInt(int64(v), 10), true
	case Float:
		return formatFloat(float64(v)), true
	case String:
		return string(v), true
	case *Table:
		return fmt.Sprintf("table: 0x%012x", v.id), false
	case *Function:
		return fmt.Sprintf("function: 0x%012x", v.id), false
	case *Userdata:
		return fmt.Sprintf("userdata: 0x%012x", v.id), false
	case *Coroutine:
		return fmt.Sprintf("thread: 0x%012x", v.id), false
	default:
		return fmt.Sprintf("%v", v), false
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'g', 14, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// rawEqual reports primitive equality:
// no metamethods are consulted.
// An integer equals a float with the same mathematical value.
func rawEqual(v1, v2 Value) bool {
	switch a := v1.(type) {
	case nil:
		return v2 == nil
	case Boolean:
		b, ok := v2.(Boolean)
		return ok && a == b
	case Integer:
		switch b := v2.(type) {
		case Integer:
			return a == b
		case Float:
			return float64(a) == float64(b) && float64(Integer(b)) == float64(b)
		default:
			return false
		}
	case Float:
		switch b := v2.(type) {
		case Float:
			return a == b
		case Integer:
			return float64(a) == float64(b) && float64(Integer(a)) == float64(a)
		default:
			return false
		}
	case String:
		b, ok := v2.(String)
		return ok && a == b
	default:
		return v1 == v2
	}
}

// sortValues establishes the total order used by table storage.
// Values of differing types order by type;
// reference types order by identity.
// NaN sorts below every other float and equal to itself,
// so it can be stored (the table layer rejects NaN keys separately).
func sortValues(v1, v2 Value) int {
	t1, t2 := sortType(v1), sortType(v2)
	if t1 != t2 {
		return cmp.Compare(t1, t2)
	}
	switch a := v1.(type) {
	case nil:
		return 0
	case Boolean:
		b := v2.(Boolean)
		switch {
		case bool(a) == bool(b):
			return 0
		case bool(b):
			return -1
		default:
			return 1
		}
	case Integer:
		switch b := v2.(type) {
		case Integer:
			return cmp.Compare(a, b)
		case Float:
			return cmp.Compare(float64(a), float64(b))
		}
	case Float:
		switch b := v2.(type) {
		case Integer:
			return cmp.Compare(float64(a), float64(b))
		case Float:
			return cmp.Compare(a, b)
		}
	case String:
		return cmp.Compare(a, v2.(String))
	case *Table:
		return cmp.Compare(a.id, v2.(*Table).id)
	case *Function:
		return cmp.Compare(a.id, v2.(*Function).id)
	case *Userdata:
		return cmp.Compare(a.id, v2.(*Userdata).id)
	case *Coroutine:
		return cmp.Compare(a.id, v2.(*Coroutine).id)
	}
	panic("unhandled type in sortValues")
}

// sortType collapses the number subtypes for ordering.
func sortType(v Value) Type {
	return TypeOf(v)
}

// compareNumbers compares two numeric values exactly.
func compareNumbers(v1, v2 Value) int {
	if a, ok := v1.(Integer); ok {
		if b, ok := v2.(Integer); ok {
			return cmp.Compare(a, b)
		}
	}
	f1, _ := toFloat(v1)
	f2, _ := toFloat(v2)
	return cmp.Compare(f1, f2)
}

func toFloat(v Value) (float64, bool) {
	switch v := v.(type) {
	case Integer:
		return float64(v), true
	case Float:
		return float64(v), true
	default:
		return 0, false
	}
}
