// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"lunar.256lights.llc/internal/luacode"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	l := NewState()
	t.Cleanup(func() {
		if err := l.Close(); err != nil {
			t.Error("Close:", err)
		}
	})
	if err := OpenLibraries(l, nil); err != nil {
		t.Fatal(err)
	}
	return l
}

func runChunk(t *testing.T, l *State, source string) []Value {
	t.Helper()
	results, err := l.DoString(source, source)
	if err != nil {
		t.Fatalf("run %q: %v", source, err)
	}
	return results
}

func TestVM(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []Value
	}{
		{
			name:   "IntegerArithmetic",
			source: "return 1 + 2, 7 // 2, 7 % 3, 2^10",
			want:   []Value{Integer(3), Integer(3), Integer(1), Float(1024)},
		},
		{
			name:   "DivisionAlwaysFloat",
			source: "return 6 / 3",
			want:   []Value{Float(2)},
		},
		{
			name:   "StringCoercion",
			source: "return '10' + 5, '3' * '4'",
			want:   []Value{Integer(15), Integer(12)},
		},
		{
			name:   "FloorModNegative",
			source: "local a = -5 return a % 3",
			want:   []Value{Integer(1)},
		},
		{
			name:   "Concat",
			source: "return 'a' .. 1 .. 'b' .. 2.5",
			want:   []Value{String("a1b2.5")},
		},
		{
			name:   "ShortCircuit",
			source: "return nil and error('never'), false or 'fallback'",
			want:   []Value{nil, String("fallback")},
		},
		{
			name:   "Comparisons",
			source: "return 1 < 2, 2 <= 2, 'a' < 'b', 3 > 4, 1 == 1.0, 1 ~= 2",
			want:   []Value{Boolean(true), Boolean(true), Boolean(true), Boolean(false), Boolean(true), Boolean(true)},
		},
		{
			name:   "WhileLoop",
			source: "local n = 0 while n < 5 do n = n + 1 end return n",
			want:   []Value{Integer(5)},
		},
		{
			name:   "RepeatLoop",
			source: "local n = 0 repeat n = n + 1 until n >= 3 return n",
			want:   []Value{Integer(3)},
		},
		{
			name:   "NumericForSum",
			source: "local sum = 0 for i = 1, 10 do sum = sum + i end return sum",
			want:   []Value{Integer(55)},
		},
		{
			name:   "NumericForStep",
			source: "local acc = {} for i = 10, 1, -3 do acc[#acc+1] = i end return acc[1], acc[2], acc[3], acc[4]",
			want:   []Value{Integer(10), Integer(7), Integer(4), Integer(1)},
		},
		{
			name:   "NumericForFloat",
			source: "local n = 0 for i = 1, 2, 0.5 do n = n + 1 end return n",
			want:   []Value{Integer(3)},
		},
		{
			name:   "GenericForPairs",
			source: "local total = 0 for _, v in ipairs({5, 6, 7}) do total = total + v end return total",
			want:   []Value{Integer(18)},
		},
		{
			name:   "MultipleAssignment",
			source: "local a, b = 1, 2 a, b = b, a return a, b",
			want:   []Value{Integer(2), Integer(1)},
		},
		{
			name:   "NonLastCallTruncated",
			source: "local function g() return 1, 2, 3 end local a,b,c,d = g(), 10 return a,b,c,d",
			want:   []Value{Integer(1), Integer(10), nil, nil},
		},
		{
			name:   "LastCallExpands",
			source: "local function g() return 1, 2, 3 end return g()",
			want:   []Value{Integer(1), Integer(2), Integer(3)},
		},
		{
			name:   "ParensTruncate",
			source: "local function g() return 1, 2, 3 end return (g())",
			want:   []Value{Integer(1)},
		},
		{
			name:   "VarargPassing",
			source: "local function f(...) return select('#', ...), ... end return f(7, nil, 9)",
			want:   []Value{Integer(3), Integer(7), nil, Integer(9)},
		},
		{
			name:   "TableConstructorExpansion",
			source: "local function g() return 2, 3, 4 end local t = {1, g()} return #t, t[4]",
			want:   []Value{Integer(4), Integer(4)},
		},
		{
			name:   "MethodCall",
			source: "local obj = {n = 41} function obj:bump() self.n = self.n + 1 return self.n end return obj:bump()",
			want:   []Value{Integer(42)},
		},
		{
			name:   "TailCallDeepRecursion",
			source: "local function loop(n) if n == 0 then return 'done' end return loop(n - 1) end return loop(100000)",
			want:   []Value{String("done")},
		},
		{
			name:   "ClosureCounter",
			source: "local function counter() local n = 0 return function() n = n + 1 return n end end local c = counter() c() c() return c()",
			want:   []Value{Integer(3)},
		},
		{
			name:   "SharedUpvalue",
			source: "local x = 0 local function inc() x = x + 1 end local function get() return x end inc() inc() return get()",
			want:   []Value{Integer(2)},
		},
		{
			name:   "GotoBackward",
			source: "local n = 0 ::again:: n = n + 1 if n < 4 then goto again end return n",
			want:   []Value{Integer(4)},
		},
		{
			name:   "GotoForwardOutOfBlock",
			source: "do goto out end\nerror('unreachable')\n::out:: return 'ok'",
			want:   []Value{String("ok")},
		},
		{
			name:   "BreakClosesScope",
			source: "local r while true do local x = 'inner' r = x break end return r",
			want:   []Value{String("inner")},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			l := newTestState(t)
			got := runChunk(t, l, test.source)
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("results (-want +got):\n%s", diff)
			}
		})
	}
}

// TestLoopClosureCapture is the per-iteration upvalue scenario:
// each closure created in a loop body captures a distinct variable.
func TestLoopClosureCapture(t *testing.T) {
	l := newTestState(t)
	got := runChunk(t, l, `
local t = {}
for i = 1, 3 do
	t[i] = function() return i end
end
return t[1]() + t[2]() + t[3]()
`)
	want := []Value{Integer(6)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestIntegerSubtypePreserved(t *testing.T) {
	l := newTestState(t)
	got := runChunk(t, l, `
local sum = 0
for i = 1, 10 do
	assert(math.type(i) == "integer")
	sum = sum + i
end
return sum, math.type(sum)
`)
	want := []Value{Integer(55), String("integer")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestBoundaryBehaviors(t *testing.T) {
	l := newTestState(t)

	t.Run("IntegerWraparound", func(t *testing.T) {
		got := runChunk(t, l, "return math.mininteger + math.mininteger")
		if diff := cmp.Diff([]Value{Integer(0)}, got); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("ZeroDivZeroIsNaN", func(t *testing.T) {
		got := runChunk(t, l, "local z = 0 return z / 0")
		f, ok := got[0].(Float)
		if !ok || !math.IsNaN(float64(f)) {
			t.Errorf("0/0 = %#v; want NaN float", got[0])
		}
	})

	t.Run("IntegerDivideByZeroErrors", func(t *testing.T) {
		_, err := l.DoString("local z = 0 return 1 // z", "=test")
		if err == nil || !strings.Contains(err.Error(), "attempt to divide by zero") {
			t.Errorf("1 // 0 error = %v; want divide by zero", err)
		}
		_, err = l.DoString("local z = 0 return 1 % z", "=test")
		if err == nil || !strings.Contains(err.Error(), "attempt to perform 'n%0'") {
			t.Errorf("1 %% 0 error = %v; want n%%0 message", err)
		}
	})

	t.Run("SparseBorder", func(t *testing.T) {
		got := runChunk(t, l, "return #{1, 2, nil, 4}")
		n, ok := got[0].(Integer)
		if !ok || (n != 2 && n != 4) {
			t.Errorf("#{1,2,nil,4} = %#v; want 2 or 4", got[0])
		}
	})

	t.Run("LargeIntegerForLoop", func(t *testing.T) {
		got := runChunk(t, l, `
local n = 0
for i = math.maxinteger - 2, math.maxinteger do
	n = n + 1
end
return n
`)
		if diff := cmp.Diff([]Value{Integer(3)}, got); diff != "" {
			t.Error(diff)
		}
	})
}

// TestRKReinterpretation pins the operand quirk:
// a constant-flagged RK operand whose index exceeds the pool
// falls back to the register named by its low 8 bits.
func TestRKReinterpretation(t *testing.T) {
	l := newTestState(t)
	proto := &luacode.Prototype{
		MaxStackSize: 3,
		IsVararg:     true,
		Code: []luacode.Instruction{
			luacode.ASBxInstruction(luacode.OpLoadI, 0, 40),
			luacode.ASBxInstruction(luacode.OpLoadI, 1, 2),
			// C flags a constant, but the pool is empty:
			// the operand decodes as register 1.
			luacode.ABCInstruction(luacode.OpAdd, 2, luacode.RegisterOperand(0), 1<<8|1),
			luacode.ABCInstruction(luacode.OpReturn, 2, 2, 0),
		},
	}
	fn := l.newClosure(proto)
	got, err := l.Call(fn)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Value{Integer(42)}, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestMetamethods(t *testing.T) {
	l := newTestState(t)

	t.Run("Arithmetic", func(t *testing.T) {
		got := runChunk(t, l, `
local v = setmetatable({n = 2}, {
	__add = function(a, b) return a.n + b end,
	__mul = function(a, b) return a.n * b end,
})
return v + 5, v * 3
`)
		want := []Value{Integer(7), Integer(6)}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("IndexChain", func(t *testing.T) {
		got := runChunk(t, l, `
local base = {greeting = 'hello'}
local mid = setmetatable({}, {__index = base})
local leaf = setmetatable({}, {__index = mid})
return leaf.greeting
`)
		if diff := cmp.Diff([]Value{String("hello")}, got); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("IndexFunction", func(t *testing.T) {
		got := runChunk(t, l, `
local t = setmetatable({}, {__index = function(_, k) return k .. '!' end})
return t.boom
`)
		if diff := cmp.Diff([]Value{String("boom!")}, got); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("NewIndex", func(t *testing.T) {
		got := runChunk(t, l, `
local log = {}
local t = setmetatable({}, {__newindex = function(t, k, v) rawset(t, k, v * 2) end})
t.x = 21
return t.x
`)
		if diff := cmp.Diff([]Value{Integer(42)}, got); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("EqOnlyForSameHandler", func(t *testing.T) {
		got := runChunk(t, l, `
local mt = {__eq = function() return true end}
local a = setmetatable({}, mt)
local b = setmetatable({}, mt)
local c = setmetatable({}, {__eq = function() return true end})
return a == b, a == c
`)
		// A shared handler fires; different handlers do not.
		if diff := cmp.Diff([]Value{Boolean(true), Boolean(false)}, got); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("LeFallsBackToLt", func(t *testing.T) {
		got := runChunk(t, l, `
local mt = {__lt = function(a, b) return a.n < b.n end}
local a = setmetatable({n = 1}, mt)
local b = setmetatable({n = 2}, mt)
return a <= b, b <= a
`)
		if diff := cmp.Diff([]Value{Boolean(true), Boolean(false)}, got); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("Call", func(t *testing.T) {
		got := runChunk(t, l, `
local callable = setmetatable({}, {__call = function(self, x) return x + 1 end})
return callable(41)
`)
		if diff := cmp.Diff([]Value{Integer(42)}, got); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("LenMetamethod", func(t *testing.T) {
		got := runChunk(t, l, `
local t = setmetatable({}, {__len = function() return 99 end})
return #t
`)
		if diff := cmp.Diff([]Value{Integer(99)}, got); diff != "" {
			t.Error(diff)
		}
	})
}

func TestTypeErrors(t *testing.T) {
	l := newTestState(t)
	tests := []struct {
		source string
		want   string
	}{
		{"local x return x + 1", "attempt to perform arithmetic on a nil value (local 'x')"},
		{"local x return x.field", "attempt to index a nil value (local 'x')"},
		{"local x return x()", "attempt to call a nil value"},
		{"return {} .. 'x'", "attempt to concatenate a table value"},
		{"return {} < {}", "attempt to compare two table values"},
		{"return 1 < 'x'", "attempt to compare number with string"},
	}
	for _, test := range tests {
		_, err := l.DoString(test.source, "=test")
		if err == nil {
			t.Errorf("%q succeeded; want error %q", test.source, test.want)
			continue
		}
		if !strings.Contains(err.Error(), test.want) {
			t.Errorf("%q error = %q; want substring %q", test.source, err.Error(), test.want)
		}
	}
}

func TestChunkRoundTripExecution(t *testing.T) {
	// parse → compile → serialize → deserialize → execute
	// must match parse → compile → execute.
	const source = `
local function fib(n)
	if n < 2 then return n end
	return fib(n - 1) + fib(n - 2)
end
local acc = {}
for i = 1, 8 do acc[i] = fib(i) end
return acc[8], #acc
`
	direct := runChunk(t, newTestState(t), source)

	proto, err := CompileChunk(source, "=test")
	if err != nil {
		t.Fatal(err)
	}
	data, err := proto.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	l := newTestState(t)
	fn, err := l.Load(data, "=test", "b")
	if err != nil {
		t.Fatal(err)
	}
	viaChunk, err := l.Call(fn)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(direct, viaChunk); diff != "" {
		t.Errorf("binary chunk execution differs (-direct +chunk):\n%s", diff)
	}
}
