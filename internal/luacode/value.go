// Copyright (C) 1994-2025 Lua.org, PUC-Rio.
// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"math"
	"strconv"
	"strings"

	"lunar.256lights.llc/internal/lualex"
)

type valueKind uint8

const (
	valueKindNil valueKind = iota
	valueKindFalse
	valueKindTrue
	valueKindInteger
	valueKindFloat
	valueKindString
)

// Value is the subset of Lua values that can appear as constants:
// nil, booleans, integers, floats, and strings.
// The zero value is nil.
type Value struct {
	_    [0]func() // Prevent comparing with "==".
	bits uint64
	s    string
	kind valueKind
}

// BoolValue converts a boolean to a [Value].
func BoolValue(b bool) Value {
	if b {
		return Value{kind: valueKindTrue}
	}
	return Value{kind: valueKindFalse}
}

// IntegerValue converts an integer to a [Value].
func IntegerValue(i int64) Value {
	return Value{kind: valueKindInteger, bits: uint64(i)}
}

// FloatValue converts a floating-point number to a [Value].
func FloatValue(f float64) Value {
	return Value{kind: valueKindFloat, bits: math.Float64bits(f)}
}

// StringValue converts a string to a [Value].
func StringValue(s string) Value {
	return Value{kind: valueKindString, s: s}
}

// IsNil reports whether v is the zero value.
func (v Value) IsNil() bool { return v.kind == valueKindNil }

// IsBoolean reports whether the value is a boolean.
func (v Value) IsBoolean() bool {
	return v.kind == valueKindFalse || v.kind == valueKindTrue
}

// IsNumber reports whether the value is an integer or a float.
func (v Value) IsNumber() bool {
	return v.kind == valueKindInteger || v.kind == valueKindFloat
}

// IsInteger reports whether the value is an integer.
func (v Value) IsInteger() bool { return v.kind == valueKindInteger }

// IsString reports whether the value is a string.
func (v Value) IsString() bool { return v.kind == valueKindString }

// Bool reports whether the value tests true in Lua
// and whether the value is a boolean.
func (v Value) Bool() (_ bool, isBool bool) {
	return v.kind != valueKindNil && v.kind != valueKindFalse, v.IsBoolean()
}

// Float64 returns the value as a floating-point number
// and reports whether the value is a number.
// No coercion occurs.
func (v Value) Float64() (_ float64, isNumber bool) {
	switch v.kind {
	case valueKindInteger:
		return float64(int64(v.bits)), true
	case valueKindFloat:
		return math.Float64frombits(v.bits), true
	default:
		return 0, false
	}
}

// Int64 returns the value as an integer
// and reports whether the conversion was exact.
// Floats convert only when integral; no other coercion occurs.
func (v Value) Int64() (_ int64, ok bool) {
	switch v.kind {
	case valueKindInteger:
		return int64(v.bits), true
	case valueKindFloat:
		return FloatToInteger(math.Float64frombits(v.bits), OnlyIntegral)
	default:
		return 0, false
	}
}

// Unquoted returns the value as a string
// and reports whether the value is a string.
// Numbers are coerced to a string, but isString will be false.
func (v Value) Unquoted() (s string, isString bool) {
	switch v.kind {
	case valueKindString:
		return v.s, true
	case valueKindInteger:
		return strconv.FormatInt(int64(v.bits), 10), false
	case valueKindFloat:
		switch f := math.Float64frombits(v.bits); {
		case math.IsNaN(f):
			return "nan", false
		case math.IsInf(f, 1):
			return "inf", false
		case math.IsInf(f, -1):
			return "-inf", false
		default:
			s := strconv.FormatFloat(f, 'g', 14, 64)
			if !strings.ContainsAny(s, ".einf") {
				s += ".0"
			}
			return s, false
		}
	default:
		return "", false
	}
}

// String returns the value formatted as a Lua constant.
func (v Value) String() string {
	switch v.kind {
	case valueKindNil:
		return "nil"
	case valueKindFalse:
		return "false"
	case valueKindTrue:
		return "true"
	case valueKindString:
		return lualex.Quote(v.s)
	case valueKindInteger:
		if int64(v.bits) == math.MinInt64 {
			// The absolute value of the most negative integer
			// overflows and would read back as a float.
			return "0x8000000000000000"
		}
		s, _ := v.Unquoted()
		return s
	default:
		switch f := math.Float64frombits(v.bits); {
		case math.IsNaN(f):
			return "(0/0)"
		case math.IsInf(f, 1):
			return "1e9999"
		case math.IsInf(f, -1):
			return "-1e9999"
		default:
			s, _ := v.Unquoted()
			return s
		}
	}
}

// IdenticalTo reports whether two values represent the same constant.
// Unlike Lua equality, an integer is never identical to a float,
// and two NaNs are identical.
// The constant pool deduplicates on this relation.
func (v Value) IdenticalTo(v2 Value) bool {
	if v.kind != v2.kind {
		return false
	}
	switch v.kind {
	case valueKindString:
		return v.s == v2.s
	case valueKindInteger, valueKindFloat:
		return v.bits == v2.bits
	default:
		return true
	}
}

// FloatToIntegerMode is an enumeration of rounding modes
// for [FloatToInteger].
type FloatToIntegerMode int

// Rounding modes.
const (
	// OnlyIntegral performs no rounding and accepts only integral values.
	OnlyIntegral FloatToIntegerMode = iota
	// Floor rounds toward negative infinity.
	Floor
	// Ceil rounds toward positive infinity.
	Ceil
)

// FloatToInteger attempts to convert a floating-point number
// to a 64-bit integer, rounding according to the given mode.
func FloatToInteger(n float64, mode FloatToIntegerMode) (_ int64, ok bool) {
	f := math.Floor(n)
	if f != n {
		switch mode {
		case OnlyIntegral:
			return 0, false
		case Ceil:
			f++
		}
	}
	// math.MinInt64 has an exact float64 representation;
	// math.MaxInt64 does not.
	if !(math.MinInt64 <= f && f < -math.MinInt64) {
		return 0, false
	}
	return int64(f), true
}
