// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"fmt"
	"math"
	"slices"

	"lunar.256lights.llc/internal/luacode"
)

// call invokes any callable value on this thread,
// resolving __call chains,
// and returns all results once the callee finishes.
// Lua callees run on the trampoline loop;
// native callees are invoked directly.
func (th *Coroutine) call(fn Value, args []Value) ([]Value, error) {
	f, args, err := th.resolveCallable(fn, args, "")
	if err != nil {
		return nil, err
	}
	if f.IsGo() {
		return th.callGo(f, args, "")
	}
	fr := th.newLuaFrame(f, args)
	if err := th.pushFrame(fr); err != nil {
		return nil, err
	}
	if err := th.fireCallHook(fr); err != nil {
		return nil, th.unwindTo(len(th.callStack)-1, err)
	}
	return th.runLoop(len(th.callStack) - 1)
}

// resolveCallable walks __call metamethods,
// accumulating each receiver as a leading argument.
func (th *Coroutine) resolveCallable(fn Value, args []Value, hint string) (*Function, []Value, error) {
	for range maxMetaDepth {
		if f, ok := fn.(*Function); ok {
			return f, args, nil
		}
		mm := th.state.metamethod(fn, luacode.TagMethodCall)
		if mm == nil {
			return nil, nil, th.state.typeErrorf(fn, "call", hint)
		}
		args = append([]Value{fn}, args...)
		fn = mm
	}
	return nil, nil, th.rtErrorf("'%v' chain too long; possible loop", luacode.TagMethodCall)
}

// callGo invokes a native function.
// Unless the function is yield-transparent,
// a yield while it is on the stack
// is a yield across a native boundary.
func (th *Coroutine) callGo(f *Function, args []Value, name string) ([]Value, error) {
	if len(th.callStack) >= maxCallDepth {
		return nil, th.rtErrorf("stack overflow")
	}
	fr := &frame{fn: f, inferredName: name}
	th.callStack = append(th.callStack, fr)
	if !f.yieldTransparent {
		th.nativeDepth++
	}
	results, err := f.gofn(th.state, args)
	if !f.yieldTransparent {
		th.nativeDepth--
	}
	if err != nil {
		err = th.asRuntimeError(err)
	}
	th.callStack = th.callStack[:len(th.callStack)-1]
	return results, err
}

func (th *Coroutine) newLuaFrame(f *Function, args []Value) *frame {
	fr := newFrame(f)
	numParams := int(f.proto.NumParams)
	copy(fr.registers[:min(numParams, len(args))], args)
	if f.proto.IsVararg && len(args) > numParams {
		fr.varargs = slices.Clone(args[numParams:])
	}
	return fr
}

func (th *Coroutine) pushFrame(fr *frame) error {
	if len(th.callStack) >= maxCallDepth {
		return th.rtErrorf("stack overflow")
	}
	th.callStack = append(th.callStack, fr)
	return nil
}

// runLoop drives the dispatch loop for the frame at entryDepth,
// unwinding with __close error chaining on failure.
func (th *Coroutine) runLoop(entryDepth int) ([]Value, error) {
	results, err := th.loop(entryDepth)
	if err != nil {
		err = th.unwindTo(entryDepth, err)
		return nil, err
	}
	return results, nil
}

// unwindTo pops frames until the stack shrinks to entryDepth,
// running each frame's pending __close metamethods with error chaining:
// later close errors override earlier ones,
// and each close call receives the error in flight.
func (th *Coroutine) unwindTo(entryDepth int, cause error) error {
	for len(th.callStack) > entryDepth {
		fr := th.callStack[len(th.callStack)-1]
		cause = th.closeTBC(fr, 0, cause)
		fr.closeUpvalues(0)
		th.callStack = th.callStack[:len(th.callStack)-1]
	}
	return cause
}

// closeTBC runs __close for pending to-be-closed entries
// with register >= bottom, in LIFO order.
// The returned error is the last error raised,
// or the original cause if every close succeeded.
func (th *Coroutine) closeTBC(fr *frame, bottom int, cause error) error {
	for _, entry := range fr.takeTBC(bottom) {
		mm := th.state.metamethod(entry.value, luacode.TagMethodClose)
		if mm == nil {
			cause = th.rtErrorf("attempt to close non-closable variable")
			continue
		}
		if _, err := th.call(mm, []Value{entry.value, errorValue(cause)}); err != nil {
			cause = err
		}
	}
	return cause
}

// loop is the instruction dispatch loop.
// It returns the entry frame's results once that frame returns.
func (th *Coroutine) loop(entryDepth int) ([]Value, error) {
	l := th.state
	for {
		fr := th.callStack[len(th.callStack)-1]
		proto := fr.fn.proto
		if fr.pc < 0 || fr.pc >= len(proto.Code) {
			return nil, th.rtErrorf("internal error: jumped out of bounds")
		}
		if err := th.beforeInstruction(fr, proto); err != nil {
			return nil, err
		}
		inst := proto.Code[fr.pc]
		fr.pc++
		r := fr.registers

		switch op := inst.OpCode(); op {
		case luacode.OpMove:
			r[inst.ArgA()] = r[inst.ArgB()]

		case luacode.OpLoadK:
			k, err := constantArg(proto, inst.ArgBx())
			if err != nil {
				return nil, th.rtErrorf("%v", err)
			}
			r[inst.ArgA()] = importConstant(k)

		case luacode.OpLoadI:
			r[inst.ArgA()] = Integer(inst.ArgSBx())

		case luacode.OpLoadBool:
			r[inst.ArgA()] = Boolean(inst.ArgB() != 0)
			if inst.ArgC() != 0 {
				fr.pc++
			}

		case luacode.OpLoadNil:
			a, b := int(inst.ArgA()), int(inst.ArgB())
			for i := a; i <= b && i < len(r); i++ {
				r[i] = nil
			}

		case luacode.OpGetGlobal:
			k, err := constantArg(proto, inst.ArgBx())
			if err != nil {
				return nil, th.rtErrorf("%v", err)
			}
			v, err := l.Index(l.globals, importConstant(k))
			if err != nil {
				return nil, th.asRuntimeError(err)
			}
			fr.registers[inst.ArgA()] = v

		case luacode.OpSetGlobal:
			k, err := constantArg(proto, inst.ArgBx())
			if err != nil {
				return nil, th.rtErrorf("%v", err)
			}
			if err := l.SetIndex(l.globals, importConstant(k), r[inst.ArgA()]); err != nil {
				return nil, th.asRuntimeError(err)
			}

		case luacode.OpGetUpval:
			r[inst.ArgA()] = fr.fn.upvalues[inst.ArgB()].get()

		case luacode.OpSetUpval:
			fr.fn.upvalues[inst.ArgB()].set(r[inst.ArgA()])

		case luacode.OpGetTable:
			t := r[inst.ArgB()]
			key := th.rkValue(fr, proto, inst.ArgC())
			v, err := th.index(fr, proto, t, key, inst.ArgB())
			if err != nil {
				return nil, err
			}
			fr.registers[inst.ArgA()] = v

		case luacode.OpSetTable:
			t := r[inst.ArgA()]
			key := th.rkValue(fr, proto, inst.ArgB())
			v := th.rkValue(fr, proto, inst.ArgC())
			if err := th.setIndex(fr, proto, t, key, v, uint16(inst.ArgA())); err != nil {
				return nil, err
			}

		case luacode.OpSelf:
			a := int(inst.ArgA())
			obj := r[inst.ArgB()]
			key := th.rkValue(fr, proto, inst.ArgC())
			r[a+1] = obj
			v, err := th.index(fr, proto, obj, key, inst.ArgB())
			if err != nil {
				return nil, err
			}
			fr.registers[a] = v

		case luacode.OpAdd, luacode.OpSub, luacode.OpMul, luacode.OpDiv,
			luacode.OpMod, luacode.OpPow, luacode.OpIDiv,
			luacode.OpBAnd, luacode.OpBOr, luacode.OpBXor,
			luacode.OpShl, luacode.OpShr:
			arith, _ := op.ArithmeticOperator()
			v1 := th.rkValue(fr, proto, inst.ArgB())
			v2 := th.rkValue(fr, proto, inst.ArgC())
			result, err := th.arith(fr, proto, arith, v1, v2, inst)
			if err != nil {
				return nil, err
			}
			fr.registers[inst.ArgA()] = result

		case luacode.OpUnm:
			v := r[inst.ArgB()]
			result, err := th.arith(fr, proto, luacode.UnaryMinus, v, v, inst)
			if err != nil {
				return nil, err
			}
			fr.registers[inst.ArgA()] = result

		case luacode.OpBNot:
			v := r[inst.ArgB()]
			result, err := th.arith(fr, proto, luacode.BitwiseNot, v, v, inst)
			if err != nil {
				return nil, err
			}
			fr.registers[inst.ArgA()] = result

		case luacode.OpNot:
			r[inst.ArgA()] = Boolean(!Truthy(r[inst.ArgB()]))

		case luacode.OpLen:
			result, err := l.Length(r[inst.ArgB()])
			if err != nil {
				return nil, th.asRuntimeError(err)
			}
			fr.registers[inst.ArgA()] = result

		case luacode.OpConcat:
			b, c := int(inst.ArgB()), int(inst.ArgC())
			result, err := l.Concat(slices.Clone(r[b : c+1])...)
			if err != nil {
				return nil, th.asRuntimeError(err)
			}
			fr.registers[inst.ArgA()] = result

		case luacode.OpEq:
			v1 := th.rkValue(fr, proto, inst.ArgB())
			v2 := th.rkValue(fr, proto, inst.ArgC())
			result, err := l.Equal(v1, v2)
			if err != nil {
				return nil, th.asRuntimeError(err)
			}
			if result != (inst.ArgA() != 0) {
				fr.pc++
			}

		case luacode.OpLT, luacode.OpLE:
			v1 := th.rkValue(fr, proto, inst.ArgB())
			v2 := th.rkValue(fr, proto, inst.ArgC())
			result, err := l.Less(v1, v2, op == luacode.OpLE)
			if err != nil {
				return nil, th.asRuntimeError(err)
			}
			if result != (inst.ArgA() != 0) {
				fr.pc++
			}

		case luacode.OpTest:
			if Truthy(r[inst.ArgA()]) != (inst.ArgC() != 0) {
				fr.pc++
			}

		case luacode.OpTestSet:
			if Truthy(r[inst.ArgB()]) != (inst.ArgC() != 0) {
				fr.pc++
			} else {
				r[inst.ArgA()] = r[inst.ArgB()]
			}

		case luacode.OpJmp:
			fr.pc += int(inst.ArgSBx())

		case luacode.OpCall:
			if err := th.opCall(fr, proto, inst); err != nil {
				return nil, err
			}

		case luacode.OpTailCall:
			done, results, err := th.opTailCall(fr, proto, inst, entryDepth)
			if err != nil {
				return nil, err
			}
			if done {
				return results, nil
			}

		case luacode.OpReturn:
			done, results, err := th.opReturn(fr, inst, entryDepth)
			if err != nil {
				return nil, err
			}
			if done {
				return results, nil
			}

		case luacode.OpForPrep:
			skip, err := th.forPrep(fr, int(inst.ArgA()))
			if err != nil {
				return nil, err
			}
			if skip {
				fr.pc += int(inst.ArgSBx()) + 1
			}

		case luacode.OpForLoop:
			again, err := th.forLoop(fr, int(inst.ArgA()))
			if err != nil {
				return nil, err
			}
			if again {
				fr.pc -= int(inst.ArgSBx())
			}

		case luacode.OpTForCall:
			a := int(inst.ArgA())
			c := int(inst.ArgC())
			if c < 1 {
				return nil, th.rtErrorf("internal error: generic 'for' loop call must return at least 1 value")
			}
			results, err := th.call(r[a], []Value{r[a+1], r[a+2]})
			if err != nil {
				return nil, err
			}
			dest := fr.registers[a+3 : a+3+c]
			n := copy(dest, results)
			clear(dest[n:])

		case luacode.OpTForLoop:
			a := int(inst.ArgA())
			if r[a+1] != nil {
				r[a] = r[a+1]
				fr.pc -= int(inst.ArgB())
			}

		case luacode.OpClosure:
			p := proto.Functions[inst.ArgBx()]
			upvalues := make([]*Upvalue, len(p.Upvalues))
			for i, desc := range p.Upvalues {
				if desc.InStack {
					upvalues[i] = fr.openUpvalue(int(desc.Index))
				} else {
					upvalues[i] = fr.fn.upvalues[desc.Index]
				}
			}
			r[inst.ArgA()] = &Function{id: nextID(), proto: p, upvalues: upvalues}

		case luacode.OpClose:
			a := int(inst.ArgA())
			switch inst.ArgB() {
			case luacode.CloseUpvalues:
				fr.closeUpvalues(a)
			case luacode.CloseMarkTBC:
				v := r[a]
				if Truthy(v) && th.state.metamethod(v, luacode.TagMethodClose) == nil {
					name := proto.LocalName(uint8(a), fr.pc-1)
					if name == "" {
						name = "?"
					}
					return nil, th.rtErrorf("variable '%s' got a non-closable value", name)
				}
				fr.markTBC(a)
			case luacode.CloseTBC:
				if err := th.closeTBC(fr, a, nil); err != nil {
					return nil, err
				}
				fr.closeUpvalues(a)
			default:
				return nil, th.rtErrorf("internal error: invalid CLOSE mode %d", inst.ArgB())
			}

		case luacode.OpVararg:
			a := int(inst.ArgA())
			numWanted := int(inst.ArgC()) - 1
			if numWanted == luacode.MultiReturn {
				fr.setTop(a + len(fr.varargs))
				copy(fr.registers[a:], fr.varargs)
			} else {
				dest := fr.registers[a : a+numWanted]
				n := copy(dest, fr.varargs)
				clear(dest[n:])
			}

		case luacode.OpNewTable:
			r[inst.ArgA()] = newTableCapacity(int(inst.ArgB()) + int(inst.ArgC()))

		case luacode.OpSetList:
			a := int(inst.ArgA())
			t, isTable := r[a].(*Table)
			if !isTable {
				return nil, th.rtErrorf("internal error: SETLIST on a %s value", l.typeName(r[a]))
			}
			n := int(inst.ArgB())
			if n == 0 {
				n = fr.top - (a + 1)
			}
			base := (int(inst.ArgC()) - 1) * luacode.SetListBatchSize
			for i := 0; i < n; i++ {
				if err := t.Set(Integer(base+i+1), fr.registers[a+1+i]); err != nil {
					return nil, th.rtErrorf("%v", err)
				}
			}
			fr.clearTop()

		default:
			return nil, th.rtErrorf("internal error: unhandled instruction %v", op)
		}
	}
}

// constantArg fetches a constant by wide index.
func constantArg(proto *luacode.Prototype, i int32) (luacode.Value, error) {
	if int(i) >= len(proto.Constants) {
		return luacode.Value{}, fmt.Errorf("internal error: constant %d out of range", i)
	}
	return proto.Constants[i], nil
}

// rkValue decodes a 9-bit RK operand.
// A constant reference whose index exceeds the pool
// is re-interpreted as the register named by its low 8 bits.
func (th *Coroutine) rkValue(fr *frame, proto *luacode.Prototype, arg uint16) Value {
	idx := luacode.OperandValue(arg)
	if luacode.IsConstantOperand(arg) && int(idx) < len(proto.Constants) {
		return importConstant(proto.Constants[idx])
	}
	return fr.registers[idx]
}

// index performs a table read with an operand hint for error messages.
func (th *Coroutine) index(fr *frame, proto *luacode.Prototype, t, key Value, operandReg uint16) (Value, error) {
	if _, isTable := t.(*Table); !isTable && th.state.metamethod(t, luacode.TagMethodIndex) == nil {
		return nil, th.state.typeErrorf(t, "index", th.operandHint(fr, proto, operandReg, key))
	}
	v, err := th.state.Index(t, key)
	if err != nil {
		return nil, th.asRuntimeError(err)
	}
	return v, nil
}

func (th *Coroutine) setIndex(fr *frame, proto *luacode.Prototype, t, key, v Value, operandReg uint16) error {
	if _, isTable := t.(*Table); !isTable && th.state.metamethod(t, luacode.TagMethodNewIndex) == nil {
		return th.state.typeErrorf(t, "index", th.operandHint(fr, proto, operandReg, key))
	}
	if err := th.state.SetIndex(t, key, v); err != nil {
		return th.asRuntimeError(err)
	}
	return nil
}

// operandHint names the failing operand for a type error:
// the local holding it, or the field being read.
func (th *Coroutine) operandHint(fr *frame, proto *luacode.Prototype, operandReg uint16, key Value) string {
	if !luacode.IsConstantOperand(operandReg) {
		if name := proto.LocalName(luacode.OperandValue(operandReg), fr.pc-1); name != "" {
			return fmt.Sprintf("local '%s'", name)
		}
	}
	if s, ok := key.(String); ok {
		return fmt.Sprintf("field '%s'", s)
	}
	return ""
}

// arith applies an arithmetic instruction with metamethod fallback
// and operand naming.
func (th *Coroutine) arith(fr *frame, proto *luacode.Prototype, op luacode.ArithmeticOperator, v1, v2 Value, inst luacode.Instruction) (Value, error) {
	k1, ok1 := numericValue(v1)
	k2, ok2 := numericValue(v2)
	if op.IsUnary() {
		k2, ok2 = luacode.IntegerValue(0), true
	}
	if ok1 && ok2 {
		result, err := luacode.Arithmetic(op, k1, k2)
		if err != nil {
			return nil, th.rtErrorf("%v", err)
		}
		return importConstant(result), nil
	}

	if mm := th.state.binaryMetamethod(v1, v2, op.TagMethod()); mm != nil {
		results, err := th.call(mm, []Value{v1, v2})
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return nil, nil
		}
		return results[0], nil
	}

	verb := "perform arithmetic on"
	if op.IsIntegral() {
		if TypeOf(v1) == TypeNumber && TypeOf(v2) == TypeNumber {
			return nil, th.rtErrorf("%v", luacode.ErrNotInteger)
		}
		verb = "perform bitwise operation on"
	}
	bad, badOperand := v1, inst.ArgB()
	if ok1 && !op.IsUnary() {
		bad, badOperand = v2, inst.ArgC()
	}
	var hint string
	if !luacode.IsConstantOperand(badOperand) {
		if name := proto.LocalName(luacode.OperandValue(badOperand), fr.pc-1); name != "" {
			hint = fmt.Sprintf("local '%s'", name)
		}
	}
	return nil, th.state.typeErrorf(bad, verb, hint)
}

// opCall implements the CALL instruction.
func (th *Coroutine) opCall(fr *frame, proto *luacode.Prototype, inst luacode.Instruction) error {
	a := int(inst.ArgA())
	args, err := th.collectArgs(fr, a, inst.ArgB())
	if err != nil {
		return err
	}
	callee := fr.registers[a]
	numResults := int(inst.ArgC()) - 1
	name := inferCallName(proto, fr, fr.pc-1, uint8(a))
	fr.clearTop()

	f, args, err := th.resolveCallable(callee, args, name)
	if err != nil {
		return err
	}
	if f.IsGo() {
		results, err := th.callGo(f, args, name)
		if err != nil {
			return err
		}
		th.storeResults(fr, a, numResults, results)
		return nil
	}

	callee2 := th.newLuaFrame(f, args)
	callee2.resultRegister = a
	callee2.numResults = numResults
	callee2.inferredName = name
	if err := th.pushFrame(callee2); err != nil {
		return err
	}
	return th.fireCallHook(callee2)
}

// opTailCall implements TAILCALL:
// the current frame is replaced in place,
// closing its upvalues first because its registers are about to vanish.
func (th *Coroutine) opTailCall(fr *frame, proto *luacode.Prototype, inst luacode.Instruction, entryDepth int) (done bool, results []Value, err error) {
	if len(fr.tbc) > 0 {
		return false, nil, th.rtErrorf("internal error: tail call with to-be-closed variables in scope")
	}
	a := int(inst.ArgA())
	args, err := th.collectArgs(fr, a, inst.ArgB())
	if err != nil {
		return false, nil, err
	}
	callee := fr.registers[a]
	name := inferCallName(proto, fr, fr.pc-1, uint8(a))
	fr.clearTop()
	fr.closeUpvalues(0)

	f, args, err := th.resolveCallable(callee, args, name)
	if err != nil {
		return false, nil, err
	}
	if f.IsGo() {
		rs, err := th.callGo(f, args, name)
		if err != nil {
			return false, nil, err
		}
		return th.deliverReturn(fr, rs, entryDepth)
	}

	replacement := th.newLuaFrame(f, args)
	replacement.resultRegister = fr.resultRegister
	replacement.numResults = fr.numResults
	replacement.isTailCall = true
	replacement.inferredName = name
	th.callStack[len(th.callStack)-1] = replacement
	return false, nil, th.fireCallHook(replacement)
}

// opReturn implements RETURN:
// return values are collected first,
// then every pending to-be-closed entry runs (the frame is still live),
// then the frame's upvalues close and the frame pops.
func (th *Coroutine) opReturn(fr *frame, inst luacode.Instruction, entryDepth int) (done bool, results []Value, err error) {
	a := int(inst.ArgA())
	b := int(inst.ArgB())
	if b == 0 {
		results = slices.Clone(fr.registers[a:fr.top])
	} else {
		results = slices.Clone(fr.registers[a : a+b-1])
	}
	fr.clearTop()
	fr.capturedReturns = results

	if closeErr := th.closeTBC(fr, 0, nil); closeErr != nil {
		rtErr := th.asRuntimeError(closeErr)
		if rtErr.capturedReturns == nil {
			rtErr.capturedReturns = results
		}
		return false, nil, rtErr
	}
	fr.closeUpvalues(0)
	return th.deliverReturn(fr, results, entryDepth)
}

// deliverReturn pops the finished frame
// and routes its results to the caller
// (or out of the loop for the entry frame).
func (th *Coroutine) deliverReturn(fr *frame, results []Value, entryDepth int) (done bool, _ []Value, err error) {
	if err := th.fireReturnHook(fr); err != nil {
		return false, nil, err
	}
	depth := len(th.callStack) - 1
	th.callStack = th.callStack[:depth]
	if depth == entryDepth {
		return true, results, nil
	}
	caller := th.callStack[len(th.callStack)-1]
	th.storeResults(caller, fr.resultRegister, fr.numResults, results)
	return false, nil, nil
}

// collectArgs gathers call arguments:
// b == 0 means "up to the open top".
func (th *Coroutine) collectArgs(fr *frame, funcReg int, b uint16) ([]Value, error) {
	if b == 0 {
		if fr.top < 0 {
			return nil, th.rtErrorf("internal error: open call without top")
		}
		return slices.Clone(fr.registers[funcReg+1 : fr.top]), nil
	}
	return slices.Clone(fr.registers[funcReg+1 : funcReg+int(b)]), nil
}

// storeResults places a callee's results
// according to the caller's result count:
// a fixed count stores and nil-pads,
// [luacode.MultiReturn] keeps everything and sets the open top.
func (th *Coroutine) storeResults(fr *frame, base, numResults int, results []Value) {
	if numResults == luacode.MultiReturn {
		fr.setTop(base + len(results))
		copy(fr.registers[base:], results)
		return
	}
	dest := fr.registers[base : base+numResults]
	n := copy(dest, results)
	clear(dest[n:])
}

// inferCallName scans recent instructions
// for how the callee register was loaded,
// producing the function name used in errors and tracebacks.
func inferCallName(proto *luacode.Prototype, fr *frame, callPC int, a uint8) string {
	const window = 16
	for pc := callPC - 1; pc >= 0 && pc >= callPC-window; pc-- {
		inst := proto.Code[pc]
		op := inst.OpCode()
		if !op.SetsA() || inst.ArgA() != a {
			continue
		}
		switch op {
		case luacode.OpGetGlobal:
			if k, err := constantArg(proto, inst.ArgBx()); err == nil {
				if s, isString := k.Unquoted(); isString {
					return s
				}
			}
		case luacode.OpGetTable, luacode.OpSelf:
			arg := inst.ArgC()
			if luacode.IsConstantOperand(arg) {
				if idx := luacode.OperandValue(arg); int(idx) < len(proto.Constants) {
					if s, isString := proto.Constants[idx].Unquoted(); isString {
						return s
					}
				}
			}
		case luacode.OpGetUpval:
			return proto.Upvalues[inst.ArgB()].Name
		case luacode.OpMove:
			return proto.LocalName(uint8(inst.ArgB()), pc)
		}
		return ""
	}
	return ""
}

// Numeric for loops.
//
// FORPREP validates the three control values and rewrites the limit:
// for integer loops the limit register holds the remaining
// iteration count (as an unsigned value),
// which keeps the loop exact beyond 2^53 and immune to wraparound.

func (th *Coroutine) forPrep(fr *frame, base int) (skip bool, err error) {
	init := fr.registers[base]
	limit := fr.registers[base+1]
	step := fr.registers[base+2]

	if initInt, ok := init.(Integer); ok {
		if stepInt, ok := step.(Integer); ok {
			if stepInt == 0 {
				return false, th.rtErrorf("'for' step is zero")
			}
			limitInt, skip, err := th.forLimitToInteger(initInt, limit, stepInt)
			if err != nil || skip {
				return skip, err
			}
			var count uint64
			if stepInt > 0 {
				count = uint64(limitInt) - uint64(initInt)
				if stepInt != 1 {
					count /= uint64(stepInt)
				}
			} else {
				// stepInt+1 avoids negating math.MinInt64.
				positiveStep := uint64(-(stepInt + 1)) + 1
				count = (uint64(initInt) - uint64(limitInt)) / positiveStep
			}
			fr.registers[base+1] = Integer(count)
			fr.registers[base+3] = initInt
			return false, nil
		}
	}

	limitFloat, ok := forNumber(limit)
	if !ok {
		return false, th.rtErrorf("'for' limit must be a number")
	}
	stepFloat, ok := forNumber(step)
	if !ok {
		return false, th.rtErrorf("'for' step must be a number")
	}
	initFloat, ok := forNumber(init)
	if !ok {
		return false, th.rtErrorf("'for' initial value must be a number")
	}
	if stepFloat == 0 {
		return false, th.rtErrorf("'for' step is zero")
	}
	if !continueForLoop(initFloat, limitFloat, stepFloat) {
		return true, nil
	}
	fr.registers[base] = Float(initFloat)
	fr.registers[base+1] = Float(limitFloat)
	fr.registers[base+2] = Float(stepFloat)
	fr.registers[base+3] = Float(initFloat)
	return false, nil
}

// forLimitToInteger clips a numeric limit to the integer range.
// skip is true when no initial value could satisfy the limit.
func (th *Coroutine) forLimitToInteger(init Integer, limit Value, step Integer) (_ Integer, skip bool, err error) {
	var limitInt Integer
	switch lv := limit.(type) {
	case Integer:
		limitInt = lv
	case Float:
		var ok bool
		limitInt, ok = floatForLoopLimit(float64(lv), step)
		if !ok {
			return 0, true, nil
		}
	default:
		return 0, false, th.rtErrorf("'for' limit must be a number")
	}
	if !continueForLoop(init, limitInt, step) {
		return limitInt, true, nil
	}
	return limitInt, false, nil
}

func floatForLoopLimit(limit float64, step Integer) (_ Integer, ok bool) {
	if math.IsNaN(limit) {
		return 0, false
	}
	mode := luacode.Floor
	if step < 0 {
		mode = luacode.Ceil
	}
	i, ok := luacode.FloatToInteger(limit, mode)
	switch {
	case !ok && limit > 0:
		return math.MaxInt64, step > 0
	case !ok && limit < 0:
		return math.MinInt64, step < 0
	default:
		return Integer(i), true
	}
}

func forNumber(v Value) (float64, bool) {
	switch v := v.(type) {
	case Integer:
		return float64(v), true
	case Float:
		return float64(v), true
	default:
		return 0, false
	}
}

func continueForLoop[T Integer | float64](idx, limit, step T) bool {
	if step > 0 {
		return idx <= limit
	}
	return limit <= idx
}

// forLoop advances the loop state
// and reports whether another iteration runs.
func (th *Coroutine) forLoop(fr *frame, base int) (again bool, err error) {
	switch step := fr.registers[base+2].(type) {
	case Integer:
		count, ok := fr.registers[base+1].(Integer)
		if !ok {
			return false, th.rtErrorf("internal error: bad 'for' counter")
		}
		idx, ok := fr.registers[base].(Integer)
		if !ok {
			return false, th.rtErrorf("internal error: bad 'for' index")
		}
		if uint64(count) == 0 {
			return false, nil
		}
		fr.registers[base+1] = Integer(uint64(count) - 1)
		next := Integer(uint64(idx) + uint64(step))
		fr.registers[base] = next
		fr.registers[base+3] = next
		return true, nil
	case Float:
		idx, ok := fr.registers[base].(Float)
		if !ok {
			return false, th.rtErrorf("internal error: bad 'for' index")
		}
		limit, ok := fr.registers[base+1].(Float)
		if !ok {
			return false, th.rtErrorf("internal error: bad 'for' limit")
		}
		next := float64(idx) + float64(step)
		if !continueForLoop(next, float64(limit), float64(step)) {
			return false, nil
		}
		fr.registers[base] = Float(next)
		fr.registers[base+3] = Float(next)
		return true, nil
	default:
		return false, th.rtErrorf("internal error: bad 'for' step")
	}
}
