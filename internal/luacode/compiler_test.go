// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"strings"
	"testing"
)

func compileString(t *testing.T, source string) *Prototype {
	t.Helper()
	proto, err := Parse(LiteralSource(source), source)
	if err != nil {
		t.Fatalf("Parse(%q): %v", source, err)
	}
	return proto
}

func TestCompile(t *testing.T) {
	programs := []string{
		"return",
		"return 1 + 2",
		"local x = 1\nreturn x + 1",
		"local a, b, c = 1\nreturn c",
		"x = 42\nreturn x",
		"local t = {1, 2, x = 3, [4] = 5}\nreturn t",
		"local function f(a, ...) return a, ... end\nreturn f(1, 2, 3)",
		"if x then return 1 elseif y then return 2 else return 3 end",
		"while true do break end",
		"repeat local x = 1 until x",
		"for i = 1, 10 do end",
		"for k, v in pairs({}) do end",
		"local t = {}\nfunction t.a.b() end",
		"local s = ('x'):rep(3)\nreturn s",
		"return (function() return 1, 2 end)()",
		"goto done\n::done::",
		"do goto done\n::done:: end",
		"local x <const> = 5\nreturn x",
		"local x <close> = nil\nreturn 1",
	}
	for _, source := range programs {
		proto := compileString(t, source)
		if err := proto.Validate(); err != nil {
			t.Errorf("Validate(%q): %v", source, err)
		}
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"goto l1\nlocal x = 1\n::l1::\n::l2:: print(x)", "jump over local 'x'"},
		{"goto nowhere", "no visible label 'nowhere'"},
		{"::l:: ::l::", "label 'l' already defined"},
		{"local x <const> = 1\nx = 2", "attempt to assign to const variable 'x'"},
		{"local x <close> = nil\nx = 2", "attempt to assign to const variable 'x'"},
		{"local x <const> = 1\nlocal function f() x = 2 end", "attempt to assign to const variable 'x'"},
		{"break", "break outside a loop"},
		{"local a <close>, b <close> = nil, nil", "multiple to-be-closed variables in local list"},
		{"repeat goto out\nlocal x = 1\n::out:: until x", "jump over local 'x'"},
	}
	for _, test := range tests {
		_, err := Parse(LiteralSource(test.source), test.source)
		if err == nil {
			t.Errorf("Parse(%q) succeeded; want error containing %q", test.source, test.want)
			continue
		}
		if !strings.Contains(err.Error(), test.want) {
			t.Errorf("Parse(%q) error = %q; want substring %q", test.source, err.Error(), test.want)
		}
	}
}

func TestGotoLastStatementException(t *testing.T) {
	// A jump to a label at the very end of a block
	// does not cross the scope of locals declared before it.
	const source = "do goto done\nlocal x = 1\n::done:: end\nreturn 1"
	if _, err := Parse(LiteralSource(source), source); err != nil {
		t.Errorf("Parse(%q): %v", source, err)
	}
}

func TestUpvalueTextualOrder(t *testing.T) {
	// Upvalues number in first-reference order, never re-sorted.
	const source = `
local a, b, c = 1, 2, 3
return function()
	return c + a + b
end
`
	proto := compileString(t, source)
	if len(proto.Functions) != 1 {
		t.Fatalf("len(Functions) = %d; want 1", len(proto.Functions))
	}
	inner := proto.Functions[0]
	want := []string{"c", "a", "b"}
	if len(inner.Upvalues) != len(want) {
		t.Fatalf("len(Upvalues) = %d; want %d", len(inner.Upvalues), len(want))
	}
	for i, name := range want {
		if inner.Upvalues[i].Name != name {
			t.Errorf("Upvalues[%d].Name = %q; want %q", i, inner.Upvalues[i].Name, name)
		}
		if !inner.Upvalues[i].InStack {
			t.Errorf("Upvalues[%d] not marked in-stack", i)
		}
	}
}

func TestUpvalueChainThroughIntermediate(t *testing.T) {
	// The middle function captures transitively;
	// the innermost refers to the middle function's upvalue.
	const source = `
local x = 1
return function()
	return function()
		return x
	end
end
`
	proto := compileString(t, source)
	middle := proto.Functions[0]
	inner := middle.Functions[0]
	if len(middle.Upvalues) != 1 || middle.Upvalues[0].Name != "x" || !middle.Upvalues[0].InStack {
		t.Errorf("middle upvalues = %+v; want in-stack x", middle.Upvalues)
	}
	if len(inner.Upvalues) != 1 || inner.Upvalues[0].Name != "x" || inner.Upvalues[0].InStack {
		t.Errorf("inner upvalues = %+v; want parent-upvalue x", inner.Upvalues)
	}
}

func TestTailCallCompilation(t *testing.T) {
	find := func(proto *Prototype, op OpCode) bool {
		for _, inst := range proto.Code {
			if inst.OpCode() == op {
				return true
			}
		}
		return false
	}

	t.Run("Plain", func(t *testing.T) {
		proto := compileString(t, "local function f() return f() end\nreturn f")
		if !find(proto.Functions[0], OpTailCall) {
			t.Error("return f() did not compile to TAILCALL")
		}
	})
	t.Run("Parenthesized", func(t *testing.T) {
		proto := compileString(t, "local function f() return (f()) end\nreturn f")
		if find(proto.Functions[0], OpTailCall) {
			t.Error("return (f()) must not compile to TAILCALL")
		}
	})
	t.Run("ActiveTBC", func(t *testing.T) {
		proto := compileString(t, "local function f() local x <close> = nil\nreturn f() end\nreturn f")
		if find(proto.Functions[0], OpTailCall) {
			t.Error("return with active <close> must not compile to TAILCALL")
		}
	})
}

func TestConstantPoolDeduplication(t *testing.T) {
	proto := compileString(t, `return "a" .. "b" .. "a" .. "b" .. "a"`)
	counts := make(map[string]int)
	for _, k := range proto.Constants {
		if s, isString := k.Unquoted(); isString {
			counts[s]++
		}
	}
	for s, n := range counts {
		if n > 1 {
			t.Errorf("constant %q appears %d times in pool", s, n)
		}
	}
}

func TestMaxStackSizeBoundsRegisters(t *testing.T) {
	proto := compileString(t, `
local a, b, c = 1, 2, 3
local function f(x) return x end
return f(a + b * c)
`)
	for pc, inst := range proto.Code {
		if inst.OpCode().SetsA() && int(inst.ArgA()) >= int(proto.MaxStackSize) {
			t.Errorf("instruction %d writes register %d beyond MaxStackSize %d", pc, inst.ArgA(), proto.MaxStackSize)
		}
	}
}

func TestLineEventsPresent(t *testing.T) {
	proto := compileString(t, "local x = 1\nwhile x < 3 do\nx = x + 1\nend\nreturn x")
	hasIteration := false
	for _, ev := range proto.LineEvents {
		if ev.Kind == IterationEvent {
			hasIteration = true
		}
	}
	if !hasIteration {
		t.Error("while loop emitted no iteration event")
	}
	if proto.LineAt(0) != 1 {
		t.Errorf("LineAt(0) = %d; want 1", proto.LineAt(0))
	}
}
