// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lualex

import (
	"errors"
	"strconv"
	"strings"
)

// ParseInt converts s to a 64-bit signed integer
// according to the [lexical rules of Lua].
// Surrounding whitespace is permitted.
// Any error returned is of type [*strconv.NumError].
//
// [lexical rules of Lua]: https://lua.org/manual/5.4/manual.html#3.1
func ParseInt(s string) (int64, error) {
	trimmed := trimSpace(s)
	neg, digits := splitSign(trimmed)
	if strings.Contains(digits, "_") {
		return 0, syntaxError("ParseInt", s)
	}

	if hasHexPrefix(digits) {
		hex := digits[2:]
		// Hexadecimal numerals without a radix point or exponent
		// always denote an integer value.
		// On overflow the value wraps to fit,
		// which is the same as keeping the 16 least-significant digits.
		const maxHexDigits = 64 / 4
		if len(hex) > maxHexDigits {
			for i := 0; i < len(hex)-maxHexDigits; i++ {
				if !isHexDigit(hex[i]) {
					return 0, syntaxError("ParseInt", s)
				}
			}
			hex = hex[len(hex)-maxHexDigits:]
		}
		x, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			err.(*strconv.NumError).Num = s
		}
		if neg {
			return -int64(x), err
		}
		return int64(x), err
	}

	return strconv.ParseInt(trimmed, 10, 64)
}

// ParseNumber converts s to a 64-bit floating-point number
// according to the [lexical rules of Lua].
// Surrounding whitespace is permitted.
// Any error returned is of type [*strconv.NumError].
//
// [lexical rules of Lua]: https://lua.org/manual/5.4/manual.html#3.1
func ParseNumber(s string) (float64, error) {
	trimmed := trimSpace(s)
	_, digits := splitSign(trimmed)
	if strings.EqualFold(digits, "inf") ||
		strings.EqualFold(digits, "infinity") ||
		strings.EqualFold(digits, "nan") ||
		strings.Contains(digits, "_") {
		// Go accepts these; Lua does not.
		return 0, syntaxError("ParseNumber", s)
	}

	toParse := trimmed
	if hasHexPrefix(digits) && !strings.ContainsAny(trimmed, "pP") {
		if !strings.Contains(trimmed, ".") {
			i, err := ParseInt(trimmed)
			if err != nil {
				err.(*strconv.NumError).Func = "ParseNumber"
			}
			return float64(i), err
		}
		// Go hex float literals require an exponent.
		toParse = trimmed + "p0"
	}

	f, err := strconv.ParseFloat(toParse, 64)
	switch {
	case errors.Is(err, strconv.ErrRange):
		// Out-of-range values saturate to ±Inf, as in Lua.
		err = nil
	case err != nil:
		err.(*strconv.NumError).Num = s
	}
	return f, err
}

func hasHexPrefix(s string) bool {
	return strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")
}

func splitSign(s string) (neg bool, rest string) {
	switch {
	case strings.HasPrefix(s, "-"):
		return true, s[1:]
	case strings.HasPrefix(s, "+"):
		return false, s[1:]
	default:
		return false, s
	}
}

func trimSpace(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return r < 0x80 && isSpace(byte(r))
	})
}

func syntaxError(fn, num string) *strconv.NumError {
	return &strconv.NumError{Func: fn, Num: num, Err: strconv.ErrSyntax}
}
