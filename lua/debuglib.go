// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"strings"
)

// OpenDebug returns the debug library table.
func OpenDebug(l *State) (*Table, error) {
	lib := NewTable()
	funcs := map[string]GoFunc{
		"traceback":  debugTraceback,
		"getinfo":    debugGetInfo,
		"sethook":    debugSetHook,
		"gethook":    debugGetHook,
		"upvalueid":  debugUpvalueID,
		"getupvalue": debugGetUpvalue,
		"setupvalue": debugSetUpvalue,
		"getlocal":   debugGetLocal,
	}
	for name, f := range funcs {
		lib.SetField(name, NewGoFunction(name, f))
	}
	return lib, nil
}

func debugTraceback(l *State, args []Value) ([]Value, error) {
	var msg string
	if m := Arg(args, 0); m != nil {
		s, ok := m.(String)
		if !ok {
			// A non-string message is returned unchanged.
			return []Value{m}, nil
		}
		msg = string(s)
	}

	// Inside an xpcall handler the interesting stack
	// is the one captured when the handled error was raised.
	var frames []StackFrame
	if l.handledError != nil {
		frames = l.handledError.StackFrames()
	} else {
		frames = l.current.captureStack()
	}

	sb := new(strings.Builder)
	if msg != "" {
		sb.WriteString(msg)
		sb.WriteString("\n")
	}
	sb.WriteString("stack traceback:")
	for _, fr := range frames {
		sb.WriteString("\n\t")
		writeFrame(sb, fr)
	}
	return []Value{String(sb.String())}, nil
}

func debugGetInfo(l *State, args []Value) ([]Value, error) {
	info := NewTable()
	switch v := Arg(args, 0).(type) {
	case *Function:
		if v.IsGo() {
			info.SetField("source", String("=[Go]"))
			info.SetField("short_src", String("[Go]"))
			info.SetField("what", String("Go"))
			info.SetField("currentline", Integer(-1))
			info.SetField("linedefined", Integer(-1))
			info.SetField("lastlinedefined", Integer(-1))
		} else {
			p := v.proto
			info.SetField("source", String(p.Source))
			info.SetField("short_src", String(p.Source.String()))
			info.SetField("linedefined", Integer(p.LineDefined))
			info.SetField("lastlinedefined", Integer(p.LastLineDefined))
			info.SetField("currentline", Integer(-1))
			info.SetField("nparams", Integer(p.NumParams))
			info.SetField("nups", Integer(len(p.Upvalues)))
			if p.IsMainChunk() {
				info.SetField("what", String("main"))
			} else {
				info.SetField("what", String("Lua"))
			}
		}
		info.SetField("func", v)
		return []Value{info}, nil
	case Integer, Float:
		level, err := CheckInteger(l, "getinfo", args, 1)
		if err != nil {
			return nil, err
		}
		fr, ok := l.current.frameAtLevel(int(level))
		if !ok {
			return []Value{nil}, nil
		}
		if fr.fn.IsGo() {
			info.SetField("source", String("=[Go]"))
			info.SetField("short_src", String("[Go]"))
			info.SetField("what", String("Go"))
			info.SetField("currentline", Integer(-1))
		} else {
			p := fr.fn.proto
			info.SetField("source", String(p.Source))
			info.SetField("short_src", String(p.Source.String()))
			info.SetField("linedefined", Integer(p.LineDefined))
			info.SetField("lastlinedefined", Integer(p.LastLineDefined))
			info.SetField("currentline", Integer(fr.currentLine()))
			if p.IsMainChunk() {
				info.SetField("what", String("main"))
			} else {
				info.SetField("what", String("Lua"))
			}
		}
		if name := fr.functionName(); name != "" {
			info.SetField("name", String(name))
		}
		info.SetField("istailcall", Boolean(fr.isTailCall))
		info.SetField("func", fr.fn)
		return []Value{info}, nil
	default:
		return nil, NewTypeArgError(l, "getinfo", 1, "function or level", v)
	}
}

// frameAtLevel returns the frame at the given level:
// 0 is the getinfo caller's own function, 1 its caller, and so on.
func (th *Coroutine) frameAtLevel(level int) (*frame, bool) {
	// Skip the debug-library Go frame itself.
	i := len(th.callStack) - 2 - level
	if i < 0 || i >= len(th.callStack) {
		return nil, false
	}
	return th.callStack[i], true
}

func debugSetHook(l *State, args []Value) ([]Value, error) {
	if Arg(args, 0) == nil {
		l.SetHook(nil, "", 0)
		return nil, nil
	}
	fn, err := CheckFunction(l, "sethook", args, 1)
	if err != nil {
		return nil, err
	}
	mask, err := OptString(l, "sethook", args, 2, "")
	if err != nil {
		return nil, err
	}
	count, err := OptInteger(l, "sethook", args, 3, 0)
	if err != nil {
		return nil, err
	}
	l.SetHook(fn, mask, int(count))
	return nil, nil
}

func debugGetHook(l *State, args []Value) ([]Value, error) {
	fn, mask, count := l.Hook()
	if fn == nil {
		return []Value{nil}, nil
	}
	return []Value{fn, String(mask), Integer(count)}, nil
}

func debugUpvalueID(l *State, args []Value) ([]Value, error) {
	fn, err := CheckFunction(l, "upvalueid", args, 1)
	if err != nil {
		return nil, err
	}
	n, err := CheckInteger(l, "upvalueid", args, 2)
	if err != nil {
		return nil, err
	}
	if n < 1 || int(n) > len(fn.upvalues) {
		return nil, NewArgError(l, "upvalueid", 2, "index out of range")
	}
	return []Value{fn.upvalues[n-1].identity()}, nil
}

func debugGetUpvalue(l *State, args []Value) ([]Value, error) {
	fn, err := CheckFunction(l, "getupvalue", args, 1)
	if err != nil {
		return nil, err
	}
	n, err := CheckInteger(l, "getupvalue", args, 2)
	if err != nil {
		return nil, err
	}
	if n < 1 || int(n) > len(fn.upvalues) {
		return []Value{nil}, nil
	}
	name := ""
	if fn.proto != nil {
		name = fn.proto.Upvalues[n-1].Name
	}
	return []Value{String(name), fn.upvalues[n-1].get()}, nil
}

func debugSetUpvalue(l *State, args []Value) ([]Value, error) {
	fn, err := CheckFunction(l, "setupvalue", args, 1)
	if err != nil {
		return nil, err
	}
	n, err := CheckInteger(l, "setupvalue", args, 2)
	if err != nil {
		return nil, err
	}
	if n < 1 || int(n) > len(fn.upvalues) {
		return []Value{nil}, nil
	}
	fn.upvalues[n-1].set(Arg(args, 2))
	name := ""
	if fn.proto != nil {
		name = fn.proto.Upvalues[n-1].Name
	}
	return []Value{String(name)}, nil
}

func debugGetLocal(l *State, args []Value) ([]Value, error) {
	level, err := CheckInteger(l, "getlocal", args, 1)
	if err != nil {
		return nil, err
	}
	n, err := CheckInteger(l, "getlocal", args, 2)
	if err != nil {
		return nil, err
	}
	fr, ok := l.current.frameAtLevel(int(level))
	if !ok {
		return nil, NewArgError(l, "getlocal", 1, "level out of range")
	}
	if fr.fn.IsGo() || n < 1 {
		return []Value{nil}, nil
	}
	// Only named locals are exposed; temporaries have no name.
	seen := 0
	for _, v := range fr.fn.proto.LocalVariables {
		if v.StartPC <= fr.pc && fr.pc < v.EndPC {
			seen++
			if seen == int(n) {
				return []Value{String(v.Name), fr.registers[v.Register]}, nil
			}
		}
	}
	return []Value{nil}, nil
}
