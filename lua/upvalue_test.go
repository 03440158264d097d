// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"testing"
)

// upvalueID fetches debug.upvalueid(fn, n) through the Lua API.
func upvalueID(t *testing.T, l *State, fn Value, n int) Value {
	t.Helper()
	debugTable, _ := l.Globals().GetField("debug").(*Table)
	if debugTable == nil {
		t.Fatal("debug library not loaded")
	}
	id, err := l.call1(debugTable.GetField("upvalueid"), fn, Integer(n))
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestUpvalueIdentityShared(t *testing.T) {
	l := newTestState(t)
	got := runChunk(t, l, `
local x = 0
local function a() return x end
local function b() x = x + 1 end
return a, b
`)
	fa, fb := got[0], got[1]
	if upvalueID(t, l, fa, 1) != upvalueID(t, l, fb, 1) {
		t.Error("closures over the same local report different upvalue identities")
	}
}

func TestUpvalueIdentityDistinct(t *testing.T) {
	l := newTestState(t)
	got := runChunk(t, l, `
local function make()
	local n = 0
	return function() return n end
end
return make(), make()
`)
	if upvalueID(t, l, got[0], 1) == upvalueID(t, l, got[1], 1) {
		t.Error("closures over distinct locals share an upvalue identity")
	}
}

// TestBackwardGotoFreshUpvalues is the goto-closes-upvalues property:
// looping back across a captured declaration
// gives every iteration a fresh upvalue identity.
func TestBackwardGotoFreshUpvalues(t *testing.T) {
	l := newTestState(t)
	got := runChunk(t, l, `
local fns = {}
local i = 1
::top::
local x = i * 10
fns[i] = function() return x end
i = i + 1
if i <= 3 then goto top end
return fns[1], fns[2], fns[3]
`)

	// Each closure sees the value from its own iteration...
	for i, want := range []Integer{10, 20, 30} {
		result, err := l.call1(got[i])
		if err != nil {
			t.Fatal(err)
		}
		if result != want {
			t.Errorf("fns[%d]() = %#v; want %d", i+1, result, want)
		}
	}
	// ...backed by a distinct upvalue cell.
	ids := make(map[Value]bool)
	for i := range got {
		ids[upvalueID(t, l, got[i], 1)] = true
	}
	if len(ids) != 3 {
		t.Errorf("%d distinct upvalue identities; want 3", len(ids))
	}
}

func TestLoopIterationFreshUpvalues(t *testing.T) {
	l := newTestState(t)
	got := runChunk(t, l, `
local fns = {}
for i = 1, 3 do
	fns[i] = function() return i end
end
return fns[1], fns[2], fns[3]
`)
	ids := make(map[Value]bool)
	for i := range got {
		ids[upvalueID(t, l, got[i], 1)] = true
	}
	if len(ids) != 3 {
		t.Errorf("%d distinct upvalue identities across loop iterations; want 3", len(ids))
	}
}

func TestRepeatLoopFreshUpvalues(t *testing.T) {
	l := newTestState(t)
	got := runChunk(t, l, `
local fns = {}
local n = 0
repeat
	n = n + 1
	local captured = n
	fns[n] = function() return captured end
until n >= 2
return fns[1], fns[2]
`)
	if upvalueID(t, l, got[0], 1) == upvalueID(t, l, got[1], 1) {
		t.Error("repeat iterations share an upvalue identity; want fresh per iteration")
	}
}

func TestUpvalueWriteVisibility(t *testing.T) {
	l := newTestState(t)
	got := runChunk(t, l, `
local x = 'initial'
local function write(v) x = v end
local function read() return x end
write('updated')
return read(), x
`)
	if got[0] != String("updated") || got[1] != String("updated") {
		t.Errorf("results = %#v; upvalue writes must be immediately visible", got)
	}
}

func TestGetSetUpvalue(t *testing.T) {
	l := newTestState(t)
	got := runChunk(t, l, `
local x = 1
local function probe() return x end
local name, value = debug.getupvalue(probe, 1)
debug.setupvalue(probe, 1, 99)
return name, value, probe(), x
`)
	want := []Value{String("x"), Integer(1), Integer(99), Integer(99)}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("result[%d] = %#v; want %#v", i, got[i], want[i])
		}
	}
}
