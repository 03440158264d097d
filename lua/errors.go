// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"errors"
	"fmt"
	"strings"
)

// A StackFrame is one level of a captured call stack.
type StackFrame struct {
	// Source describes the chunk (already in display form).
	Source string
	// Line is the current line, or -1 if unknown.
	Line int
	// FunctionName is the name the function was called by,
	// or empty if it could not be inferred.
	FunctionName string
	IsMain       bool
	IsGo         bool
	IsTailCall   bool
}

// A RuntimeError is a raised Lua error:
// an error object plus the call stack captured at the throw point
// (capturing must happen then, because __close unwinding
// mutates the stack afterward).
type RuntimeError struct {
	value     Value
	traceback []StackFrame
	// capturedReturns holds a returning frame's evaluated results
	// when a __close metamethod raised after they were computed.
	capturedReturns []Value
	// cause is the Go error this error was converted from, if any.
	cause error
}

// Unwrap exposes the Go error a runtime error was converted from.
func (e *RuntimeError) Unwrap() error {
	return e.cause
}

// NewRuntimeError returns an error wrapping a Lua error object
// with no traceback.
func NewRuntimeError(value Value) *RuntimeError {
	return &RuntimeError{value: value}
}

func (e *RuntimeError) Error() string {
	s, ok := ToString(e.value)
	if !ok {
		switch e.value.(type) {
		case nil, Boolean:
			return s
		default:
			return "(error object is a " + TypeOf(e.value).String() + " value)"
		}
	}
	return s
}

// Value returns the Lua error object.
func (e *RuntimeError) Value() Value {
	return e.value
}

// StackFrames returns the call stack captured when the error was raised,
// newest first.
func (e *RuntimeError) StackFrames() []StackFrame {
	return e.traceback
}

// CapturedReturns returns the return values a frame had evaluated
// before one of its __close metamethods raised this error,
// or nil.
func (e *RuntimeError) CapturedReturns() []Value {
	return e.capturedReturns
}

// Traceback formats the captured stack newest-first.
// The main chunk's entry shows only "source:line";
// other entries name the function when a name was inferred,
// falling back to "?".
func (e *RuntimeError) Traceback() string {
	sb := new(strings.Builder)
	sb.WriteString("stack traceback:")
	for _, fr := range e.traceback {
		sb.WriteString("\n\t")
		writeFrame(sb, fr)
	}
	return sb.String()
}

func writeFrame(sb *strings.Builder, fr StackFrame) {
	switch {
	case fr.IsMain:
		fmt.Fprintf(sb, "%s:%d", fr.Source, fr.Line)
	case fr.IsGo:
		name := fr.FunctionName
		if name == "" {
			name = "?"
		}
		fmt.Fprintf(sb, "[Go]: in function '%s'", name)
	default:
		name := fr.FunctionName
		if name == "" {
			name = "?"
		}
		fmt.Fprintf(sb, "%s:%d: in function '%s'", fr.Source, fr.Line, name)
		if fr.IsTailCall {
			sb.WriteString("\n\t(...tail calls...)")
		}
	}
}

// errorValue extracts the Lua error object from a Go error.
func errorValue(err error) Value {
	if err == nil {
		return nil
	}
	var rtErr *RuntimeError
	if errors.As(err, &rtErr) {
		return rtErr.value
	}
	return String(err.Error())
}

// asRuntimeError converts any error into a [*RuntimeError],
// capturing the current thread's stack if the error has none.
func (th *Coroutine) asRuntimeError(err error) *RuntimeError {
	var rtErr *RuntimeError
	if errors.As(err, &rtErr) {
		if rtErr.traceback == nil {
			rtErr.traceback = th.captureStack()
		}
		return rtErr
	}
	return &RuntimeError{
		value:     String(err.Error()),
		traceback: th.captureStack(),
		cause:     err,
	}
}

// captureStack snapshots the thread's call stack, newest first.
func (th *Coroutine) captureStack() []StackFrame {
	frames := make([]StackFrame, 0, len(th.callStack))
	for i := len(th.callStack) - 1; i >= 0; i-- {
		fr := th.callStack[i]
		sf := StackFrame{
			FunctionName: fr.functionName(),
			IsGo:         fr.fn.IsGo(),
			IsTailCall:   fr.isTailCall,
			Line:         -1,
		}
		if !sf.IsGo {
			sf.Source = fr.fn.proto.Source.String()
			sf.Line = fr.currentLine()
			sf.IsMain = fr.fn.proto.IsMainChunk()
		}
		frames = append(frames, sf)
	}
	return frames
}

// rtErrorf raises a positioned runtime error:
// the message is prefixed with "source:line:"
// from the thread's innermost Lua frame.
func (th *Coroutine) rtErrorf(format string, args ...any) *RuntimeError {
	msg := fmt.Sprintf(format, args...)
	if where := th.where(0); where != "" {
		msg = where + msg
	}
	return &RuntimeError{
		value:     String(msg),
		traceback: th.captureStack(),
	}
}

// where formats the "source:line: " position prefix
// for the level'th Lua frame from the top (0 = innermost).
func (th *Coroutine) where(level int) string {
	seen := 0
	for i := len(th.callStack) - 1; i >= 0; i-- {
		fr := th.callStack[i]
		if fr.fn.IsGo() {
			continue
		}
		if seen == level {
			return fmt.Sprintf("%v:%d: ", fr.fn.proto.Source, fr.currentLine())
		}
		seen++
	}
	return ""
}
