// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"strings"
	"testing"
)

// collectHookEvents runs source with a hook installed from Lua
// and returns the recorded (event, line) pairs.
func collectHookEvents(t *testing.T, mask string, count int, source string) []string {
	t.Helper()
	l := newTestState(t)
	var events []string
	l.Globals().SetField("record", NewGoFunction("record", func(l *State, args []Value) ([]Value, error) {
		event, _ := ToString(Arg(args, 0))
		line, _ := ToString(Arg(args, 1))
		events = append(events, event+":"+line)
		return nil, nil
	}))
	hook, err := l.LoadString("local e, l = ... record(e, l)", "=hook")
	if err != nil {
		t.Fatal(err)
	}
	l.SetHook(hook, mask, count)
	defer l.SetHook(nil, "", 0)
	if _, err := l.DoString(source, "=test"); err != nil {
		t.Fatalf("run: %v", err)
	}
	return events
}

func TestLineHook(t *testing.T) {
	events := collectHookEvents(t, "l", 0, "local a = 1\nlocal b = 2\nreturn a + b")
	var lines []string
	for _, e := range events {
		if strings.HasPrefix(e, "line:") {
			lines = append(lines, strings.TrimPrefix(e, "line:"))
		}
	}
	for _, want := range []string{"1", "2", "3"} {
		found := false
		for _, line := range lines {
			if line == want {
				found = true
			}
		}
		if !found {
			t.Errorf("line %s never fired (got %v)", want, lines)
		}
	}
}

func TestLineHookFiresEveryIteration(t *testing.T) {
	// The loop head carries an iteration event,
	// so a line hook observes every pass
	// even though the line does not change.
	events := collectHookEvents(t, "l", 0, "local n = 0\nwhile n < 3 do n = n + 1 end\nreturn n")
	loopHead := 0
	for _, e := range events {
		if e == "line:2" {
			loopHead++
		}
	}
	if loopHead < 3 {
		t.Errorf("loop head line fired %d times; want at least one per iteration (3)", loopHead)
	}
}

func TestCallReturnHooks(t *testing.T) {
	events := collectHookEvents(t, "cr", 0, "local function f() return 1 end\nreturn f() + f()")
	calls, returns := 0, 0
	for _, e := range events {
		switch {
		case strings.HasPrefix(e, "call:"), strings.HasPrefix(e, "tail call:"):
			calls++
		case strings.HasPrefix(e, "return:"):
			returns++
		}
	}
	if calls < 2 {
		t.Errorf("call hook fired %d times; want >= 2", calls)
	}
	if returns < 2 {
		t.Errorf("return hook fired %d times; want >= 2", returns)
	}
}

func TestCountHook(t *testing.T) {
	events := collectHookEvents(t, "", 5, "local n = 0\nfor i = 1, 50 do n = n + 1 end\nreturn n")
	counts := 0
	for _, e := range events {
		if strings.HasPrefix(e, "count:") {
			counts++
		}
	}
	if counts < 10 {
		t.Errorf("count hook fired %d times over about 100 instructions; want >= 10", counts)
	}
}

// TestCountHookAbort is the cooperative-cancellation pattern:
// a host bounds runaway code by raising from the count hook.
func TestCountHookAbort(t *testing.T) {
	l := newTestState(t)
	budget := NewGoFunction("budget", func(l *State, args []Value) ([]Value, error) {
		return nil, NewRuntimeError(String("instruction budget exhausted"))
	})
	l.SetHook(budget, "", 100)
	defer l.SetHook(nil, "", 0)

	_, err := l.DoString("while true do end", "=spin")
	if err == nil || !strings.Contains(err.Error(), "instruction budget exhausted") {
		t.Errorf("error = %v; want budget abort", err)
	}
}

func TestHookStatePerCoroutine(t *testing.T) {
	l := newTestState(t)
	// A hook set on the main thread fires there,
	// and a hook set inside a coroutine fires in that coroutine.
	fired := 0
	l.SetHook(NewGoFunction("hook", func(l *State, args []Value) ([]Value, error) {
		fired++
		return nil, nil
	}), "l", 0)
	defer l.SetHook(nil, "", 0)

	before := fired
	if _, err := l.DoString(`
local co = coroutine.create(function() local x = 1 return x end)
coroutine.resume(co)
return 1
`, "=test"); err != nil {
		t.Fatal(err)
	}
	if fired == before {
		t.Error("hook never fired on the main thread")
	}

	l2 := newTestState(t)
	var coLines int
	l2.Globals().SetField("arm", NewGoFunction("arm", func(l *State, args []Value) ([]Value, error) {
		l.SetHook(NewGoFunction("cohook", func(l *State, args []Value) ([]Value, error) {
			coLines++
			return nil, nil
		}), "l", 0)
		return nil, nil
	}))
	if _, err := l2.DoString(`
local co = coroutine.create(function()
	arm()
	local a = 1
	local b = 2
	return a + b
end)
coroutine.resume(co)
return 1
`, "=test"); err != nil {
		t.Fatal(err)
	}
	if coLines == 0 {
		t.Error("hook installed inside coroutine never fired there")
	}
}
