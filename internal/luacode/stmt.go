// Copyright (C) 1994-2025 Lua.org, PUC-Rio.
// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"lunar.256lights.llc/internal/luasyntax"
)

func (fs *funcState) compileBlock(b *luasyntax.Block) error {
	for _, stmt := range b.Stmts {
		if err := fs.compileStatement(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (fs *funcState) compileStatement(stmt luasyntax.Stmt) error {
	switch x := stmt.(type) {
	case *luasyntax.LocalStmt:
		return fs.compileLocal(x)
	case *luasyntax.LocalFunctionStmt:
		return fs.compileLocalFunction(x)
	case *luasyntax.FunctionStmt:
		return fs.compileFunctionStmt(x)
	case *luasyntax.AssignStmt:
		return fs.compileAssign(x)
	case *luasyntax.ExprStmt:
		base, err := fs.compileCall(x.Call, 0)
		if err != nil {
			return err
		}
		fs.regs.FreeTo(base)
		return nil
	case *luasyntax.ReturnStmt:
		return fs.compileReturn(x)
	case *luasyntax.DoStmt:
		snap := fs.enterBlock(false)
		if err := fs.compileBlock(x.Body); err != nil {
			return err
		}
		return fs.leaveBlock(snap, false)
	case *luasyntax.IfStmt:
		return fs.compileIf(x)
	case *luasyntax.WhileStmt:
		return fs.compileWhile(x)
	case *luasyntax.RepeatStmt:
		return fs.compileRepeat(x)
	case *luasyntax.NumericForStmt:
		return fs.compileNumericFor(x)
	case *luasyntax.GenericForStmt:
		return fs.compileGenericFor(x)
	case *luasyntax.BreakStmt:
		return fs.compileBreak(x)
	case *luasyntax.GotoStmt:
		return fs.compileGoto(x)
	case *luasyntax.LabelStmt:
		if !fs.sm.registerLabel(x.Name, fs.here(), x.Line()) {
			return fs.errorf(x.Line(), "label '%s' already defined", x.Name)
		}
		fs.queueEvent(ControlFlowEvent, x.Line())
		return nil
	default:
		return fs.errorf(stmt.Line(), "internal error: unhandled statement %T", stmt)
	}
}

func (fs *funcState) compileLocal(x *luasyntax.LocalStmt) error {
	numClose := 0
	for _, name := range x.Names {
		if name.Attrib == luasyntax.CloseAttrib {
			numClose++
		}
	}
	if numClose > 1 {
		return fs.errorf(x.Line(), "multiple to-be-closed variables in local list")
	}

	n := len(x.Names)
	base, err := fs.compileExprList(x.Values, n)
	if err != nil {
		return err
	}
	startPC := len(fs.proto.Code)
	for i, name := range x.Names {
		reg := base + uint8(i)
		isConst := name.Attrib == luasyntax.ConstAttrib
		isClose := name.Attrib == luasyntax.CloseAttrib
		fs.sm.declareLocal(name.Name, reg, startPC, isConst, isClose)
		if isClose {
			fs.emit(ABCInstruction(OpClose, reg, CloseMarkTBC, 0), name.Line())
		}
	}
	return nil
}

func (fs *funcState) compileLocalFunction(x *luasyntax.LocalFunctionStmt) error {
	// The name enters scope before the body compiles,
	// so the function can call itself.
	reg, err := fs.regs.AllocateTemp()
	if err != nil {
		return fs.errorf(x.Line(), "%v", err)
	}
	fs.sm.declareLocal(x.Name, reg, len(fs.proto.Code), false, false)
	return fs.compileClosureTo(x.Func, reg)
}

func (fs *funcState) compileFunctionStmt(x *luasyntax.FunctionStmt) error {
	if len(x.NamePath) == 1 {
		// Plain "function f() end" is sugar for "f = function() end".
		return fs.compileAssignFromFunc(x, x.NamePath[0])
	}

	// "function a.b.c() end" stores into a dotted path.
	return fs.regs.WithTemp(func(obj uint8) error {
		if err := fs.compileNameTo(x.NamePath[0], x.Line(), obj); err != nil {
			return err
		}
		for _, part := range x.NamePath[1 : len(x.NamePath)-1] {
			k, err := fs.constantIndex(StringValue(part), x.Line())
			if err != nil {
				return err
			}
			keyOp, ok := ConstantOperand(k)
			if !ok {
				return fs.errorf(x.Line(), "too many constants")
			}
			fs.emit(ABCInstruction(OpGetTable, obj, uint16(obj), keyOp), x.Line())
		}
		k, err := fs.constantIndex(StringValue(x.NamePath[len(x.NamePath)-1]), x.Line())
		if err != nil {
			return err
		}
		keyOp, ok := ConstantOperand(k)
		if !ok {
			return fs.errorf(x.Line(), "too many constants")
		}
		return fs.regs.WithTemp(func(fn uint8) error {
			if err := fs.compileClosureTo(x.Func, fn); err != nil {
				return err
			}
			fs.emit(ABCInstruction(OpSetTable, obj, keyOp, RegisterOperand(fn)), x.Line())
			return nil
		})
	})
}

func (fs *funcState) compileAssignFromFunc(x *luasyntax.FunctionStmt, name string) error {
	v, err := fs.resolveVariable(name, x.Line())
	if err != nil {
		return err
	}
	switch v.place {
	case varLocal:
		if v.isConst || v.isClose {
			return fs.errorf(x.Line(), "attempt to assign to const variable '%s'", name)
		}
		return fs.compileClosureTo(x.Func, v.index)
	case varUpvalue:
		if v.isConst || v.isClose {
			return fs.errorf(x.Line(), "attempt to assign to const variable '%s'", name)
		}
		return fs.regs.WithTemp(func(r uint8) error {
			if err := fs.compileClosureTo(x.Func, r); err != nil {
				return err
			}
			fs.emit(ABCInstruction(OpSetUpval, r, uint16(v.index), 0), x.Line())
			return nil
		})
	default:
		return fs.regs.WithTemp(func(r uint8) error {
			if err := fs.compileClosureTo(x.Func, r); err != nil {
				return err
			}
			return fs.storeGlobal(name, r, x.Line())
		})
	}
}

// storeGlobal assigns the value in register src to a global name,
// resolving the assignment through _ENV like reads do.
func (fs *funcState) storeGlobal(name string, src uint8, line int) error {
	k, err := fs.constantIndex(StringValue(name), line)
	if err != nil {
		return err
	}
	env, err := fs.resolveVariable("_ENV", line)
	if err != nil {
		return err
	}
	keyOp, keyOK := ConstantOperand(k)
	switch env.place {
	case varLocal:
		if !keyOK {
			return fs.withKeyRegister(k, line, func(key uint16) error {
				fs.emit(ABCInstruction(OpSetTable, env.index, key, RegisterOperand(src)), line)
				return nil
			})
		}
		fs.emit(ABCInstruction(OpSetTable, env.index, keyOp, RegisterOperand(src)), line)
		return nil
	case varUpvalue:
		return fs.regs.WithTemp(func(envReg uint8) error {
			fs.emit(ABCInstruction(OpGetUpval, envReg, uint16(env.index), 0), line)
			if !keyOK {
				return fs.withKeyRegister(k, line, func(key uint16) error {
					fs.emit(ABCInstruction(OpSetTable, envReg, key, RegisterOperand(src)), line)
					return nil
				})
			}
			fs.emit(ABCInstruction(OpSetTable, envReg, keyOp, RegisterOperand(src)), line)
			return nil
		})
	default:
		fs.emit(ABxInstruction(OpSetGlobal, src, int32(k)), line)
		return nil
	}
}

// assignTarget is the pre-evaluated address of one assignment target.
type assignTarget struct {
	expr luasyntax.Expr
	// For index targets: the receiver register and key operand.
	objReg  uint8
	keyOp   uint16
	keyTemp bool
	objTemp bool
}

// compileAssign implements Lua's assignment ordering:
// right-hand sides evaluate first, then target addresses
// (left to right), then the stores in order.
func (fs *funcState) compileAssign(x *luasyntax.AssignStmt) error {
	// Fix upvalue creation order by resolving
	// the names on the left before compiling the right.
	for _, target := range x.Targets {
		if err := fs.preResolveTarget(target); err != nil {
			return err
		}
	}

	base, err := fs.compileExprList(x.Values, len(x.Targets))
	if err != nil {
		return err
	}

	storeLine := x.Line()
	if len(x.Values) > 0 {
		storeLine = rightmostLine(x.Values[len(x.Values)-1])
	}

	targets := make([]assignTarget, len(x.Targets))
	for i, target := range x.Targets {
		targets[i].expr = target
		idx, isIndex := target.(*luasyntax.IndexExpr)
		if !isIndex {
			continue
		}
		obj, err := fs.regs.AllocateTemp()
		if err != nil {
			return fs.errorf(idx.Line(), "%v", err)
		}
		if err := fs.compileExprTo(idx.Object, obj); err != nil {
			return err
		}
		key, keyTemp, err := fs.compileRK(idx.Key)
		if err != nil {
			return err
		}
		targets[i].objReg = obj
		targets[i].objTemp = true
		targets[i].keyOp = key
		targets[i].keyTemp = keyTemp
	}

	for i := range targets {
		src := base + uint8(i)
		switch target := targets[i].expr.(type) {
		case *luasyntax.NameExpr:
			if err := fs.storeToName(target, src, storeLine); err != nil {
				return err
			}
		case *luasyntax.IndexExpr:
			fs.emit(ABCInstruction(OpSetTable, targets[i].objReg, targets[i].keyOp, RegisterOperand(src)), storeLine)
		default:
			return fs.errorf(targets[i].expr.Line(), "cannot assign to this expression")
		}
	}

	// Release address temporaries in reverse allocation order.
	for i := len(targets) - 1; i >= 0; i-- {
		fs.freeRKTemp(targets[i].keyOp, targets[i].keyTemp)
		if targets[i].objTemp {
			fs.regs.FreeTemp(targets[i].objReg)
		}
	}
	fs.regs.FreeTo(base)
	return nil
}

// preResolveTarget resolves the variable names of an assignment target
// so upvalues are created in textual order.
func (fs *funcState) preResolveTarget(e luasyntax.Expr) error {
	switch x := e.(type) {
	case *luasyntax.NameExpr:
		v, err := fs.resolveVariable(x.Name, x.Line())
		if err != nil {
			return err
		}
		if v.place == varGlobal {
			_, err = fs.resolveVariable("_ENV", x.Line())
		}
		return err
	case *luasyntax.IndexExpr:
		return fs.preResolveTarget(x.Object)
	default:
		return nil
	}
}

func (fs *funcState) storeToName(x *luasyntax.NameExpr, src uint8, line int) error {
	v, err := fs.resolveVariable(x.Name, x.Line())
	if err != nil {
		return err
	}
	switch v.place {
	case varLocal:
		if v.isConst || v.isClose {
			return fs.errorf(line, "attempt to assign to const variable '%s'", x.Name)
		}
		if v.index != src {
			fs.emit(ABCInstruction(OpMove, v.index, uint16(src), 0), line)
		}
		return nil
	case varUpvalue:
		if v.isConst || v.isClose {
			return fs.errorf(line, "attempt to assign to const variable '%s'", x.Name)
		}
		fs.emit(ABCInstruction(OpSetUpval, src, uint16(v.index), 0), line)
		return nil
	default:
		return fs.storeGlobal(x.Name, src, line)
	}
}

func (fs *funcState) compileReturn(x *luasyntax.ReturnStmt) error {
	// A bare tail call returns through TAILCALL,
	// unless parentheses force a single result
	// or a to-be-closed variable is still active
	// (its __close must run before control leaves the frame,
	// which a frame-replacing tail call cannot honor).
	if len(x.Exprs) == 1 && isMultiValue(x.Exprs[0]) && !fs.hasActiveTBC() {
		call := x.Exprs[0]
		base, err := fs.compileTailCall(call)
		if err != nil {
			return err
		}
		fs.regs.FreeTo(base)
		return nil
	}

	count := MultiReturn
	base, err := fs.compileExprList(x.Exprs, count)
	if err != nil {
		return err
	}
	lastIsMulti := len(x.Exprs) > 0 && isMultiValue(x.Exprs[len(x.Exprs)-1])
	b := uint16(len(x.Exprs) + 1)
	if lastIsMulti {
		b = 0
	}
	fs.emit(ABCInstruction(OpReturn, base, b, 0), x.Line())
	fs.regs.FreeTo(base)
	return nil
}

// compileTailCall compiles "return f(...)" as a frame-replacing call.
func (fs *funcState) compileTailCall(e luasyntax.Expr) (base uint8, err error) {
	if _, isVararg := e.(*luasyntax.VarargExpr); isVararg {
		// "return ..." is a plain multi-value return, not a call.
		base, err := fs.compileExprList([]luasyntax.Expr{e}, MultiReturn)
		if err != nil {
			return 0, err
		}
		fs.emit(ABCInstruction(OpReturn, base, 0, 0), e.Line())
		return base, nil
	}

	// Build the call frame exactly like a regular call,
	// then replace the CALL with TAILCALL.
	base, err = fs.compileCall(e, MultiReturn)
	if err != nil {
		return 0, err
	}
	pc := len(fs.proto.Code) - 1
	callInst := fs.proto.Code[pc]
	fs.proto.Code[pc] = ABCInstruction(OpTailCall, callInst.ArgA(), callInst.ArgB(), 0)
	// Unreachable in practice; keeps the frame well-formed
	// if a tail-callee is replaced by a debugger.
	fs.emit(ABCInstruction(OpReturn, base, 1, 0), e.Line())
	return base, nil
}

func (fs *funcState) compileIf(x *luasyntax.IfStmt) error {
	falseJumps, err := fs.compileCondition(x.Cond)
	if err != nil {
		return err
	}

	snap := fs.enterBlock(false)
	if err := fs.compileBlock(x.Then); err != nil {
		return err
	}
	if err := fs.leaveBlock(snap, false); err != nil {
		return err
	}

	if x.Else != nil {
		endJump := fs.emitJump(x.Then.LastLine)
		if err := fs.patchJumpsToHere(falseJumps); err != nil {
			return err
		}
		elseSnap := fs.enterBlock(false)
		if err := fs.compileBlock(x.Else); err != nil {
			return err
		}
		if err := fs.leaveBlock(elseSnap, false); err != nil {
			return err
		}
		if err := fs.patchJumpsToHere([]int{endJump}); err != nil {
			return err
		}
	} else {
		if err := fs.patchJumpsToHere(falseJumps); err != nil {
			return err
		}
	}

	// Leaving the statement is observable to line hooks.
	fs.queueEvent(MarkerEvent, x.EndLine)
	return nil
}

func (fs *funcState) compileWhile(x *luasyntax.WhileStmt) error {
	start := fs.here()
	// The condition is the back-edge target: every iteration fires.
	fs.queueEvent(IterationEvent, x.Cond.Line())
	falseJumps, err := fs.compileCondition(x.Cond)
	if err != nil {
		return err
	}

	fs.sm.pushLoop()
	snap := fs.enterBlock(false)
	if err := fs.compileBlock(x.Body); err != nil {
		return err
	}
	if err := fs.leaveBlock(snap, false); err != nil {
		return err
	}
	back := fs.emitJump(x.Body.LastLine)
	if err := fs.patchJump(back, start); err != nil {
		return err
	}

	breaks := fs.sm.popLoop()
	if err := fs.patchJumpsToHere(append(falseJumps, breaks...)); err != nil {
		return err
	}
	return nil
}

func (fs *funcState) compileRepeat(x *luasyntax.RepeatStmt) error {
	start := fs.here()
	fs.queueEvent(IterationEvent, x.Line())

	fs.sm.pushLoop()
	snap := fs.enterBlock(true)
	if err := fs.compileBlock(x.Body); err != nil {
		return err
	}

	// The until condition still sees the body's locals.
	falseJumps, err := fs.compileCondition(x.Cond)
	if err != nil {
		return err
	}
	exitJump := fs.emitJump(x.Cond.Line())

	// Condition false: close the iteration's captured variables
	// so the next pass creates fresh upvalues, then loop.
	if err := fs.patchJumpsToHere(falseJumps); err != nil {
		return err
	}
	fs.emitBackEdgeCloses(snap)
	back := fs.emitJump(x.Cond.Line())
	if err := fs.patchJump(back, start); err != nil {
		return err
	}

	if err := fs.patchJumpsToHere([]int{exitJump}); err != nil {
		return err
	}
	if err := fs.leaveBlock(snap, false); err != nil {
		return err
	}
	breaks := fs.sm.popLoop()
	return fs.patchJumpsToHere(breaks)
}

// emitBackEdgeCloses closes the current block's captured and
// to-be-closed locals without ending the scope,
// for loop back edges.
func (fs *funcState) emitBackEdgeCloses(snap scopeSnapshot) {
	exit := scanScopeCloses(fs.sm.locals[snap.numLocals:])
	if exit.hasClose || exit.hasCaptured {
		reg, mode := closeArgs(exit)
		fs.emit(ABCInstruction(OpClose, reg, mode, 0), fs.currentLine())
	}
}

// scanScopeCloses summarizes close requirements
// over a run of still-active locals.
func scanScopeCloses(symbols []localSymbol) exitInfo {
	var info exitInfo
	for i := range symbols {
		sym := &symbols[i]
		switch {
		case sym.isClose:
			if !info.hasClose || sym.register < info.minCloseRegister {
				info.minCloseRegister = sym.register
				info.hasClose = true
			}
		case sym.isCaptured:
			if !info.hasCaptured || sym.register < info.minCapturedRegister {
				info.minCapturedRegister = sym.register
				info.hasCaptured = true
			}
		}
	}
	return info
}

func (fs *funcState) compileNumericFor(x *luasyntax.NumericForStmt) error {
	snap := fs.enterBlock(false)
	base, err := fs.regs.AllocateContiguous(4)
	if err != nil {
		return fs.errorf(x.Line(), "%v", err)
	}
	if err := fs.compileExprTo(x.Init, base); err != nil {
		return err
	}
	if err := fs.compileExprTo(x.Limit, base+1); err != nil {
		return err
	}
	if x.Step != nil {
		if err := fs.compileExprTo(x.Step, base+2); err != nil {
			return err
		}
	} else {
		fs.emit(ASBxInstruction(OpLoadI, base+2, 1), x.Line())
	}

	fs.sm.pushLoop()
	startPC := len(fs.proto.Code)
	fs.sm.declareLocal("(for state)", base, startPC, false, false)
	fs.sm.declareLocal("(for state)", base+1, startPC, false, false)
	fs.sm.declareLocal("(for state)", base+2, startPC, false, false)

	prep := fs.emit(ASBxInstruction(OpForPrep, base, 0), x.Line())

	bodySnap := fs.enterBlock(false)
	bodyStart := fs.here()
	fs.sm.declareLocal(x.Name, base+3, bodyStart, false, false)
	fs.queueEvent(IterationEvent, x.Line())
	if err := fs.compileBlock(x.Body); err != nil {
		return err
	}
	if err := fs.leaveBlock(bodySnap, false); err != nil {
		return err
	}

	loopPC := fs.emit(ASBxInstruction(OpForLoop, base, 0), x.Line())
	fs.proto.Code[loopPC] = fs.proto.Code[loopPC].WithArgSBx(int32(loopPC + 1 - bodyStart))
	fs.proto.Code[prep] = fs.proto.Code[prep].WithArgSBx(int32(loopPC - (prep + 1)))

	breaks := fs.sm.popLoop()
	if err := fs.patchJumpsToHere(breaks); err != nil {
		return err
	}
	if err := fs.leaveBlock(snap, false); err != nil {
		return err
	}
	if x.Body.LastStmtLine() > x.Line() {
		fs.queueEvent(MarkerEvent, x.EndLine)
	}
	return nil
}

func (fs *funcState) compileGenericFor(x *luasyntax.GenericForStmt) error {
	snap := fs.enterBlock(false)
	n := len(x.Names)

	// Register layout: [f, s, control][loop variables...][tbc].
	base, err := fs.compileExprList(x.Exprs, 4)
	if err != nil {
		return err
	}
	if _, err := fs.regs.AllocateContiguous(n); err != nil {
		return fs.errorf(x.Line(), "%v", err)
	}
	tbcReg := base + 3 + uint8(n)
	// The optional closing value arrives in the fourth slot;
	// move it past the loop variables and mark it to-be-closed.
	fs.emit(ABCInstruction(OpMove, tbcReg, uint16(base+3), 0), x.Line())
	fs.emit(ABCInstruction(OpClose, tbcReg, CloseMarkTBC, 0), x.Line())

	fs.sm.pushLoop()
	startPC := len(fs.proto.Code)
	fs.sm.declareLocal("(for state)", base, startPC, false, false)
	fs.sm.declareLocal("(for state)", base+1, startPC, false, false)
	fs.sm.declareLocal("(for state)", base+2, startPC, false, false)
	fs.sm.declareLocal("(for state)", tbcReg, startPC, false, true)

	entry := fs.emitJump(x.Line())

	bodySnap := fs.enterBlock(false)
	bodyStart := fs.here()
	for i, name := range x.Names {
		fs.sm.declareLocal(name, base+3+uint8(i), bodyStart, false, false)
	}
	if err := fs.compileBlock(x.Body); err != nil {
		return err
	}
	if err := fs.leaveBlock(bodySnap, false); err != nil {
		return err
	}

	callPC := fs.here()
	if err := fs.patchJump(entry, callPC); err != nil {
		return err
	}
	fs.queueEvent(IterationEvent, x.Line())
	fs.emit(ABCInstruction(OpTForCall, base, 0, uint16(n)), x.Line())
	loopPC := len(fs.proto.Code)
	backOffset := loopPC + 1 - bodyStart
	if backOffset > maxArgB {
		return fs.errorf(x.Line(), "control structure too long")
	}
	fs.emit(ABCInstruction(OpTForLoop, base+2, uint16(backOffset), uint16(n)), x.Line())

	// Falling out of TFORLOOP ends the loop;
	// leaveBlock emits the CLOSE that runs the closing value.
	if err := fs.leaveBlock(snap, false); err != nil {
		return err
	}
	breaks := fs.sm.popLoop()
	if err := fs.patchJumpsToHere(breaks); err != nil {
		return err
	}
	if x.Body.LastStmtLine() > x.Line() {
		fs.queueEvent(MarkerEvent, x.EndLine)
	}
	return nil
}

func (fs *funcState) compileBreak(x *luasyntax.BreakStmt) error {
	loop, ok := fs.sm.currentLoop()
	if !ok {
		return fs.errorf(x.Line(), "break outside a loop")
	}
	// Close upvalues and to-be-closed locals
	// of every scope at or inside the loop.
	exit := scanScopeCloses(fs.sm.locals[loop.numActiveAtEntry:])
	if exit.hasClose || exit.hasCaptured {
		reg, mode := closeArgs(exit)
		fs.emit(ABCInstruction(OpClose, reg, mode, 0), x.Line())
	}
	jmp := fs.emitJump(x.Line())
	loop.breaks = append(loop.breaks, jmp)
	return nil
}

func (fs *funcState) compileGoto(x *luasyntax.GotoStmt) error {
	if label, found := fs.sm.findVisibleLabel(x.Label); found {
		// Backward jump: always permitted.
		// Close the <close> locals it crosses,
		// then the captured upvalues declared after the label,
		// so the next pass creates fresh identities.
		exit := scanScopeCloses(fs.sm.locals[label.numActive:])
		if exit.hasClose {
			fs.emit(ABCInstruction(OpClose, exit.minCloseRegister, CloseTBC, 0), x.Line())
		}
		if exit.hasCaptured {
			fs.emit(ABCInstruction(OpClose, exit.minCapturedRegister, CloseUpvalues, 0), x.Line())
		}
		jmp := fs.emitJump(x.Line())
		return fs.patchJump(jmp, label.pc)
	}

	jmp := fs.emitJump(x.Line())
	fs.sm.addPendingGoto(x.Label, jmp, x.Line())
	return nil
}
