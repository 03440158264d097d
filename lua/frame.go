// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"lunar.256lights.llc/internal/luacode"
)

// A frame is a single activation of a Lua function.
// Each frame owns its register window;
// open upvalues of nested closures alias registers in it.
type frame struct {
	fn *Function
	pc int
	// registers holds MaxStackSize slots
	// plus a variable "open" region for multi-value sequences.
	registers []Value
	// top is the extent of the open region
	// set by instructions that produce "all results".
	top     int
	varargs []Value
	// openUpvalues is keyed by register index.
	// Reusing a register after a close produces a fresh cell.
	openUpvalues map[int]*Upvalue
	// tbc lists to-be-closed registers in declaration order.
	// The value is captured when CLOSE marks the register,
	// so later writes to the register
	// do not change what __close receives.
	tbc []tbcEntry

	// resultRegister and numResults describe
	// where the caller wants this frame's results.
	resultRegister int
	numResults     int

	isTailCall bool
	// inferredName is how the callee was named at the call site,
	// for tracebacks.
	inferredName string
	// lastLine is the last line observed by the line hook.
	lastLine int
	// capturedReturns preserves evaluated return values
	// while __close metamethods run during a return.
	capturedReturns []Value
}

type tbcEntry struct {
	register int
	value    Value
}

func newFrame(fn *Function) *frame {
	size := int(fn.proto.MaxStackSize)
	return &frame{
		fn:         fn,
		registers:  make([]Value, size),
		top:        -1,
		numResults: luacode.MultiReturn,
	}
}

// setTop extends the open register region to n slots
// (indices 0..n-1), growing storage as needed.
func (fr *frame) setTop(n int) {
	if n > len(fr.registers) {
		fr.registers = append(fr.registers, make([]Value, n-len(fr.registers))...)
	} else {
		clear(fr.registers[n:])
	}
	fr.top = n
}

// clearTop closes the open region, restoring the fixed window.
func (fr *frame) clearTop() {
	size := int(fr.fn.proto.MaxStackSize)
	if len(fr.registers) > size {
		fr.registers = fr.registers[:size]
	}
	fr.top = -1
}

// openUpvalue returns the open upvalue for a register,
// creating it on first capture.
func (fr *frame) openUpvalue(register int) *Upvalue {
	if fr.openUpvalues == nil {
		fr.openUpvalues = make(map[int]*Upvalue)
	}
	if uv, ok := fr.openUpvalues[register]; ok {
		return uv
	}
	uv := &Upvalue{frame: fr, index: register}
	fr.openUpvalues[register] = uv
	return uv
}

// closeUpvalues closes every open upvalue
// whose register is at or above bottom.
func (fr *frame) closeUpvalues(bottom int) {
	for register, uv := range fr.openUpvalues {
		if register >= bottom {
			uv.close()
			delete(fr.openUpvalues, register)
		}
	}
}

// markTBC records a register as to-be-closed,
// capturing its current value.
// A false or nil value is not recorded.
// At most one entry exists per register.
func (fr *frame) markTBC(register int) (Value, bool) {
	v := fr.registers[register]
	if !Truthy(v) {
		return nil, false
	}
	for i := range fr.tbc {
		if fr.tbc[i].register == register {
			fr.tbc[i].value = v
			return v, true
		}
	}
	fr.tbc = append(fr.tbc, tbcEntry{register: register, value: v})
	return v, true
}

// takeTBC removes and returns the pending to-be-closed entries
// with register >= bottom, in reverse declaration (LIFO) order.
func (fr *frame) takeTBC(bottom int) []tbcEntry {
	var taken []tbcEntry
	kept := fr.tbc[:0]
	for _, e := range fr.tbc {
		if e.register >= bottom {
			taken = append(taken, e)
		} else {
			kept = append(kept, e)
		}
	}
	fr.tbc = kept
	// Reverse so callers close most recent first.
	for i, j := 0, len(taken)-1; i < j; i, j = i+1, j-1 {
		taken[i], taken[j] = taken[j], taken[i]
	}
	return taken
}

// functionName describes the frame's function for tracebacks.
func (fr *frame) functionName() string {
	if fr.fn.IsGo() && fr.fn.name != "" {
		return fr.fn.name
	}
	return fr.inferredName
}

// currentLine returns the source line of the frame's
// current instruction.
func (fr *frame) currentLine() int {
	if fr.fn == nil || fr.fn.proto == nil {
		return -1
	}
	pc := fr.pc - 1
	if pc < 0 {
		pc = 0
	}
	return fr.fn.proto.LineAt(pc)
}
