// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"strings"

	"lunar.256lights.llc/internal/luacode"
)

// Hook event names passed to the hook function.
const (
	hookEventCall     = "call"
	hookEventTailCall = "tail call"
	hookEventReturn   = "return"
	hookEventLine     = "line"
	hookEventCount    = "count"
)

// hookState is a thread's debug-hook configuration.
type hookState struct {
	fn       Value
	onCall   bool
	onReturn bool
	onLine   bool
	count    int
	counter  int
	// active suppresses hooks raised while a hook runs.
	active bool
}

// SetHook installs a debug hook on the current thread.
// mask is any combination of "c" (calls), "r" (returns), "l" (lines);
// count > 0 additionally fires every count instructions.
// A nil fn removes the hook.
func (l *State) SetHook(fn Value, mask string, count int) {
	h := &l.current.hook
	if fn == nil {
		*h = hookState{}
		return
	}
	*h = hookState{
		fn:       fn,
		onCall:   strings.Contains(mask, "c"),
		onReturn: strings.Contains(mask, "r"),
		onLine:   strings.Contains(mask, "l"),
		count:    count,
	}
}

// Hook returns the current thread's hook configuration.
func (l *State) Hook() (fn Value, mask string, count int) {
	h := &l.current.hook
	if h.fn == nil {
		return nil, "", 0
	}
	sb := new(strings.Builder)
	if h.onCall {
		sb.WriteByte('c')
	}
	if h.onReturn {
		sb.WriteByte('r')
	}
	if h.onLine {
		sb.WriteByte('l')
	}
	return h.fn, sb.String(), h.count
}

// beforeInstruction fires the count hook and any line events
// attached to the instruction the frame is about to execute.
//
// Event kinds fire per their contract:
// execution and control-flow events only when the line
// differs from the frame's last observed line;
// marker and iteration events unconditionally.
// Multiple events on one address are delivered in order.
func (th *Coroutine) beforeInstruction(fr *frame, proto *luacode.Prototype) error {
	h := &th.hook
	if h.fn == nil || h.active {
		return nil
	}

	if h.count > 0 {
		h.counter++
		if h.counter >= h.count {
			h.counter = 0
			if err := th.callHook(hookEventCount, -1); err != nil {
				return err
			}
		}
	}

	if !h.onLine {
		return nil
	}
	for _, ev := range proto.EventsAt(fr.pc) {
		fire := false
		switch ev.Kind {
		case luacode.ExecutionEvent, luacode.ControlFlowEvent:
			fire = ev.Line != fr.lastLine
		case luacode.MarkerEvent, luacode.IterationEvent:
			fire = true
		}
		if ev.Kind == luacode.ExecutionEvent || ev.Kind == luacode.ControlFlowEvent {
			fr.lastLine = ev.Line
		}
		if fire {
			if err := th.callHook(hookEventLine, ev.Line); err != nil {
				return err
			}
		}
	}
	return nil
}

func (th *Coroutine) fireCallHook(fr *frame) error {
	h := &th.hook
	if h.fn == nil || h.active || !h.onCall {
		return nil
	}
	event := hookEventCall
	if fr.isTailCall {
		event = hookEventTailCall
	}
	return th.callHook(event, fr.currentLine())
}

func (th *Coroutine) fireReturnHook(fr *frame) error {
	h := &th.hook
	if h.fn == nil || h.active || !h.onReturn {
		return nil
	}
	return th.callHook(hookEventReturn, fr.currentLine())
}

// callHook invokes the hook function.
// Hooks cannot trigger hooks, and cannot yield.
func (th *Coroutine) callHook(event string, line int) error {
	h := &th.hook
	h.active = true
	th.nativeDepth++
	var lineArg Value
	if line >= 0 {
		lineArg = Integer(line)
	}
	_, err := th.call(h.fn, []Value{String(event), lineArg})
	th.nativeDepth--
	h.active = false
	return err
}
