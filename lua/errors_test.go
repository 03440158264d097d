// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPCall(t *testing.T) {
	l := newTestState(t)

	t.Run("CatchesError", func(t *testing.T) {
		got := runChunk(t, l, `
local ok, err = pcall(function() error('kaboom') end)
return ok, err
`)
		if got[0] != Boolean(false) {
			t.Errorf("ok = %#v; want false", got[0])
		}
		msg, _ := got[1].(String)
		if !strings.Contains(string(msg), "kaboom") {
			t.Errorf("err = %q; want substring 'kaboom'", msg)
		}
		// error() prefixes the raise position.
		if !strings.Contains(string(msg), ":") {
			t.Errorf("err = %q; want position prefix", msg)
		}
	})

	t.Run("PassesResults", func(t *testing.T) {
		got := runChunk(t, l, "return pcall(function() return 1, 2 end)")
		want := []Value{Boolean(true), Integer(1), Integer(2)}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("NonStringErrorObject", func(t *testing.T) {
		got := runChunk(t, l, `
local ok, err = pcall(function() error({code = 42}) end)
return ok, type(err), err.code
`)
		want := []Value{Boolean(false), String("table"), Integer(42)}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("ErrorLevelZero", func(t *testing.T) {
		got := runChunk(t, l, `
local ok, err = pcall(function() error('raw', 0) end)
return err
`)
		if diff := cmp.Diff([]Value{String("raw")}, got); diff != "" {
			t.Error(diff)
		}
	})
}

func TestXPCall(t *testing.T) {
	l := newTestState(t)
	got := runChunk(t, l, `
local ok, handled = xpcall(function()
	error('original')
end, function(msg)
	return 'handled: ' .. msg
end)
return ok, handled
`)
	if got[0] != Boolean(false) {
		t.Errorf("ok = %#v; want false", got[0])
	}
	msg, _ := got[1].(String)
	if !strings.HasPrefix(string(msg), "handled: ") || !strings.Contains(string(msg), "original") {
		t.Errorf("handled = %q", msg)
	}
}

// TestCloseErrorChaining is the return-value preservation scenario:
// a failing __close surfaces through pcall,
// and the frame's evaluated returns survive on the error.
func TestCloseErrorChaining(t *testing.T) {
	l := newTestState(t)

	t.Run("PCallObservesCloseError", func(t *testing.T) {
		got := runChunk(t, l, `
local function f()
	local x <close> = setmetatable({}, {__close = function() error('boom') end})
	return 1, 2
end
local ok, e = pcall(f)
return ok, e
`)
		if got[0] != Boolean(false) {
			t.Errorf("ok = %#v; want false", got[0])
		}
		msg, _ := got[1].(String)
		if !strings.Contains(string(msg), "boom") {
			t.Errorf("e = %q; want substring 'boom'", msg)
		}
	})

	t.Run("CapturedReturns", func(t *testing.T) {
		fn, err := l.LoadString(`
local x <close> = setmetatable({}, {__close = function() error('boom') end})
return 1, 2
`, "=test")
		if err != nil {
			t.Fatal(err)
		}
		_, callErr := l.Call(fn)
		if callErr == nil {
			t.Fatal("call succeeded; want __close error")
		}
		var rtErr *RuntimeError
		if !errors.As(callErr, &rtErr) {
			t.Fatalf("error is %T; want *RuntimeError", callErr)
		}
		want := []Value{Integer(1), Integer(2)}
		if diff := cmp.Diff(want, rtErr.CapturedReturns()); diff != "" {
			t.Errorf("CapturedReturns (-want +got):\n%s", diff)
		}
	})

	t.Run("LaterCloseErrorOverrides", func(t *testing.T) {
		got := runChunk(t, l, `
local seen
local function f()
	-- Closes run in LIFO order: b first, then a.
	-- a's close sees b's error and its own error wins.
	local a <close> = setmetatable({}, {__close = function(_, err)
		seen = err
		error('from-a', 0)
	end})
	local b <close> = setmetatable({}, {__close = function() error('from-b', 0) end})
end
local ok, e = pcall(f)
return e, seen
`)
		msg, _ := got[0].(String)
		if !strings.Contains(string(msg), "from-a") {
			t.Errorf("final error = %q; want from-a (later close overrides)", msg)
		}
		seen, _ := got[1].(String)
		if !strings.Contains(string(seen), "from-b") {
			t.Errorf("a's close received %q; want b's error", seen)
		}
	})

	t.Run("CloseRunsOnScopeExit", func(t *testing.T) {
		got := runChunk(t, l, `
local log = {}
do
	local x <close> = setmetatable({}, {__close = function() log[#log+1] = 'closed' end})
	log[#log+1] = 'inside'
end
log[#log+1] = 'after'
return log[1], log[2], log[3]
`)
		want := []Value{String("inside"), String("closed"), String("after")}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("CloseRunsOnBreak", func(t *testing.T) {
		got := runChunk(t, l, `
local closed = false
for i = 1, 10 do
	local x <close> = setmetatable({}, {__close = function() closed = true end})
	break
end
return closed
`)
		if diff := cmp.Diff([]Value{Boolean(true)}, got); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("CloseRunsOnError", func(t *testing.T) {
		got := runChunk(t, l, `
local closed = false
local ok = pcall(function()
	local x <close> = setmetatable({}, {__close = function(_, err) closed = err end})
	error('unwind', 0)
end)
return ok, closed
`)
		want := []Value{Boolean(false), String("unwind")}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Error(diff)
		}
	})

	t.Run("NonClosableValue", func(t *testing.T) {
		_, err := l.DoString("local x <close> = {}", "=test")
		if err == nil || !strings.Contains(err.Error(), "variable 'x' got a non-closable value") {
			t.Errorf("error = %v; want non-closable message", err)
		}
	})

	t.Run("FalseAndNilAreClosable", func(t *testing.T) {
		got := runChunk(t, l, `
do
	local a <close> = nil
	local b <close> = false
end
return 'ok'
`)
		if diff := cmp.Diff([]Value{String("ok")}, got); diff != "" {
			t.Error(diff)
		}
	})
}

func TestTraceback(t *testing.T) {
	l := newTestState(t)
	fn, err := l.LoadString(`
local function inner()
	error('deep failure')
end
local function outer()
	inner()
end
outer()
`, "=trace")
	if err != nil {
		t.Fatal(err)
	}
	_, callErr := l.Call(fn)
	if callErr == nil {
		t.Fatal("call succeeded")
	}
	var rtErr *RuntimeError
	if !errors.As(callErr, &rtErr) {
		t.Fatalf("error is %T; want *RuntimeError", callErr)
	}

	tb := rtErr.Traceback()
	if !strings.HasPrefix(tb, "stack traceback:") {
		t.Errorf("traceback missing header:\n%s", tb)
	}
	if !strings.Contains(tb, "in function 'inner'") {
		t.Errorf("traceback missing inner frame:\n%s", tb)
	}
	if !strings.Contains(tb, "in function 'outer'") {
		t.Errorf("traceback missing outer frame:\n%s", tb)
	}
	// The main chunk frame has no function name and no trailing colon.
	if !strings.Contains(tb, "trace:8") {
		t.Errorf("traceback missing main chunk line:\n%s", tb)
	}

	frames := rtErr.StackFrames()
	if len(frames) < 3 {
		t.Fatalf("len(StackFrames()) = %d; want >= 3", len(frames))
	}
	if frames[len(frames)-1].IsMain != true {
		t.Error("outermost captured frame is not the main chunk")
	}
	if frames[0].FunctionName == "outer" {
		t.Error("frames are oldest-first; want newest-first")
	}
}

func TestErrorWhereLevels(t *testing.T) {
	l := newTestState(t)
	got := runChunk(t, l, `
local function thrower()
	error('blame-caller', 2)
end
local function caller()
	thrower() -- line 6
end
local ok, err = pcall(caller)
return err
`)
	msg, _ := got[0].(String)
	if !strings.Contains(string(msg), ":6:") {
		t.Errorf("error = %q; want caller's line 6 in position", msg)
	}
}

func TestDebugTracebackInsideXPCall(t *testing.T) {
	l := newTestState(t)
	got := runChunk(t, l, `
local function fails() error('x') end
local _, tb = xpcall(fails, function(msg)
	return debug.traceback(msg)
end)
return tb
`)
	tb, _ := got[0].(String)
	if !strings.Contains(string(tb), "stack traceback:") {
		t.Errorf("traceback = %q; want stack traceback", tb)
	}
	if !strings.Contains(string(tb), "]:2: in function") {
		t.Errorf("traceback = %q; want throw-time frame of fails (line 2)", tb)
	}
}
