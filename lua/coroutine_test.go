// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCoroutineBasics(t *testing.T) {
	l := newTestState(t)
	got := runChunk(t, l, `
local co = coroutine.create(function()
	coroutine.yield(10)
	coroutine.yield(20)
	return 30
end)
local r = {}
for i = 1, 3 do
	local ok, v = coroutine.resume(co)
	assert(ok)
	r[i] = v
end
return r[1], r[2], r[3], coroutine.status(co)
`)
	want := []Value{Integer(10), Integer(20), Integer(30), String("dead")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestCoroutineResumeArguments(t *testing.T) {
	l := newTestState(t)
	got := runChunk(t, l, `
local co = coroutine.create(function(a, b)
	local c, d = coroutine.yield(a + b)
	return c * d
end)
local _, sum = coroutine.resume(co, 3, 4)
local _, product = coroutine.resume(co, 5, 6)
return sum, product
`)
	want := []Value{Integer(7), Integer(30)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestCoroutineStatusTransitions(t *testing.T) {
	l := newTestState(t)
	got := runChunk(t, l, `
local outer, inner
inner = coroutine.create(function()
	-- While a child runs, its resumer is "normal".
	local status = coroutine.status(outer)
	coroutine.yield(status)
end)
outer = coroutine.create(function()
	local ok, status = coroutine.resume(inner)
	coroutine.yield(status)
end)
local _, status = coroutine.resume(outer)
return status, coroutine.status(outer), coroutine.status(inner)
`)
	want := []Value{String("normal"), String("suspended"), String("suspended")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestResumeNonSuspended(t *testing.T) {
	l := newTestState(t)
	got := runChunk(t, l, `
local co
co = coroutine.create(function()
	-- Resuming the running coroutine fails.
	local ok, err = coroutine.resume(co)
	return ok, err
end)
local _, ok, err = coroutine.resume(co)
return ok, err
`)
	if got[0] != Boolean(false) {
		t.Errorf("resume of running coroutine = %#v; want false", got[0])
	}
	if msg, _ := got[1].(String); !strings.Contains(string(msg), "cannot resume non-suspended coroutine") {
		t.Errorf("error = %q; want non-suspended message", msg)
	}
}

func TestYieldOutsideCoroutine(t *testing.T) {
	l := newTestState(t)
	_, err := l.DoString("coroutine.yield()", "=test")
	if err == nil || !strings.Contains(err.Error(), "attempt to yield from outside a coroutine") {
		t.Errorf("yield on main thread = %v; want outside-coroutine error", err)
	}
}

func TestYieldAcrossNativeBoundary(t *testing.T) {
	l := newTestState(t)
	// A native function that re-enters the VM
	// is a boundary no yield may cross.
	l.Globals().SetField("reenter", NewGoFunction("reenter", func(l *State, args []Value) ([]Value, error) {
		return l.Call(args[0])
	}))
	got := runChunk(t, l, `
local co = coroutine.create(function()
	reenter(function() coroutine.yield() end)
end)
local ok, err = coroutine.resume(co)
return ok, err
`)
	if got[0] != Boolean(false) {
		t.Fatalf("resume = %#v; want false", got[0])
	}
	if msg, _ := got[1].(String); !strings.Contains(string(msg), "attempt to yield across a metamethod/C-call boundary") {
		t.Errorf("error = %q; want boundary message", msg)
	}
}

func TestYieldInsidePCall(t *testing.T) {
	// pcall is yield-transparent.
	l := newTestState(t)
	got := runChunk(t, l, `
local co = coroutine.create(function()
	local ok, v = pcall(function()
		return coroutine.yield('from-pcall')
	end)
	return ok, v
end)
local _, first = coroutine.resume(co)
local _, ok, v = coroutine.resume(co, 'resumed')
return first, ok, v
`)
	want := []Value{String("from-pcall"), Boolean(true), String("resumed")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestCoroutineWrap(t *testing.T) {
	l := newTestState(t)
	got := runChunk(t, l, `
local gen = coroutine.wrap(function()
	for i = 1, 3 do coroutine.yield(i) end
end)
return gen(), gen(), gen()
`)
	want := []Value{Integer(1), Integer(2), Integer(3)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestYieldInsideClose(t *testing.T) {
	l := newTestState(t)
	got := runChunk(t, l, `
local order = {}
local co = coroutine.create(function()
	local function f()
		local x <close> = setmetatable({}, {__close = function()
			order[#order+1] = 'close-start'
			coroutine.yield('suspended-in-close')
			order[#order+1] = 'close-end'
		end})
		order[#order+1] = 'body'
		return 'result'
	end
	return f()
end)
local _, y = coroutine.resume(co)
local _, r = coroutine.resume(co)
return y, r, order[1], order[2], order[3], coroutine.status(co)
`)
	want := []Value{
		String("suspended-in-close"), String("result"),
		String("body"), String("close-start"), String("close-end"),
		String("dead"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

// TestYieldInsideCloseResumeEquivalence checks that suspending inside
// __close and resuming produces the same observable trace
// as never suspending, modulo the yielded values.
func TestYieldInsideCloseResumeEquivalence(t *testing.T) {
	const withYield = `
local trace = {}
local co = coroutine.create(function()
	do
		local a <close> = setmetatable({}, {__close = function()
			trace[#trace+1] = 'a'
			coroutine.yield()
		end})
		local b <close> = setmetatable({}, {__close = function()
			trace[#trace+1] = 'b'
			coroutine.yield()
		end})
		trace[#trace+1] = 'body'
	end
	trace[#trace+1] = 'after'
	return 'done'
end)
repeat local ok, v = coroutine.resume(co) until v == 'done' or not ok
return table_concat(trace)
`
	const withoutYield = `
local trace = {}
local co = coroutine.create(function()
	do
		local a <close> = setmetatable({}, {__close = function()
			trace[#trace+1] = 'a'
		end})
		local b <close> = setmetatable({}, {__close = function()
			trace[#trace+1] = 'b'
		end})
		trace[#trace+1] = 'body'
	end
	trace[#trace+1] = 'after'
	return 'done'
end)
repeat local ok, v = coroutine.resume(co) until v == 'done' or not ok
return table_concat(trace)
`
	run := func(source string) Value {
		l := newTestState(t)
		l.Globals().SetField("table_concat", NewGoFunction("table_concat", func(l *State, args []Value) ([]Value, error) {
			tab, err := CheckTable(l, "table_concat", args, 1)
			if err != nil {
				return nil, err
			}
			var sb strings.Builder
			for i := Integer(1); ; i++ {
				v := tab.Get(i)
				if v == nil {
					break
				}
				s, _ := ToString(v)
				sb.WriteString(s)
				sb.WriteString(",")
			}
			return []Value{String(sb.String())}, nil
		}))
		results := runChunk(t, l, source)
		return results[0]
	}

	yielded := run(withYield)
	plain := run(withoutYield)
	if yielded != plain {
		t.Errorf("trace with yield = %v; without = %v", yielded, plain)
	}
	if want := String("body,b,a,after,"); plain != want {
		t.Errorf("trace = %v; want %v (LIFO close order)", plain, want)
	}
}

func TestCoroutineClose(t *testing.T) {
	l := newTestState(t)
	got := runChunk(t, l, `
local closed = false
local co = coroutine.create(function()
	local x <close> = setmetatable({}, {__close = function() closed = true end})
	coroutine.yield()
	return 'unreachable'
end)
coroutine.resume(co)
local ok = coroutine.close(co)
return ok, closed, coroutine.status(co)
`)
	want := []Value{Boolean(true), Boolean(true), String("dead")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("results (-want +got):\n%s", diff)
	}
}

func TestCoroutineGoAPI(t *testing.T) {
	l := newTestState(t)
	fn, err := l.LoadString("local a = ... local b = coroutine.yield(a + 1) return b * 2", "=co")
	if err != nil {
		t.Fatal(err)
	}
	co := l.NewCoroutine(fn)
	if got := co.Status(); got != StatusSuspended {
		t.Fatalf("initial status = %v; want suspended", got)
	}
	out, err := co.Resume(Integer(1))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Value{Integer(2)}, out); diff != "" {
		t.Error(diff)
	}
	out, err = co.Resume(Integer(21))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Value{Integer(42)}, out); diff != "" {
		t.Error(diff)
	}
	if got := co.Status(); got != StatusDead {
		t.Errorf("final status = %v; want dead", got)
	}
}
