// Copyright (C) 1994-2025 Lua.org, PUC-Rio.
// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"lunar.256lights.llc/internal/luasyntax"
)

// Expressions compile into a caller-specified target register.
// Multi-value expressions (calls, vararg) build their register blocks
// at the top of the stack and move the first result when needed.

// rightmostLine returns the line used to tag an assignment's store:
// for operator chains it is the line of the rightmost sub-expression.
func rightmostLine(e luasyntax.Expr) int {
	for {
		switch x := e.(type) {
		case *luasyntax.BinaryExpr:
			e = x.Right
		case *luasyntax.UnaryExpr:
			e = x.Operand
		default:
			return e.Line()
		}
	}
}

// foldExpr evaluates a constant expression at compile time.
func (fs *funcState) foldExpr(e luasyntax.Expr) (Value, bool) {
	switch x := e.(type) {
	case *luasyntax.NilExpr:
		return Value{}, true
	case *luasyntax.TrueExpr:
		return BoolValue(true), true
	case *luasyntax.FalseExpr:
		return BoolValue(false), true
	case *luasyntax.NumberExpr:
		if x.IsInt {
			return IntegerValue(x.Int), true
		}
		return FloatValue(x.Float), true
	case *luasyntax.StringExpr:
		return StringValue(x.Value), true
	case *luasyntax.ParenExpr:
		return fs.foldExpr(x.X)
	case *luasyntax.UnaryExpr:
		op, ok := unaryArithmetic(x.Op)
		if !ok {
			return Value{}, false
		}
		v, ok := fs.foldExpr(x.Operand)
		if !ok {
			return Value{}, false
		}
		result, err := Arithmetic(op, v, Value{})
		if err != nil {
			return Value{}, false
		}
		return result, true
	case *luasyntax.BinaryExpr:
		op, ok := binaryArithmetic(x.Op)
		if !ok {
			return Value{}, false
		}
		left, ok := fs.foldExpr(x.Left)
		if !ok {
			return Value{}, false
		}
		right, ok := fs.foldExpr(x.Right)
		if !ok {
			return Value{}, false
		}
		result, err := Arithmetic(op, left, right)
		if err != nil {
			// Errors (like division by zero) surface at runtime.
			return Value{}, false
		}
		return result, true
	default:
		return Value{}, false
	}
}

func unaryArithmetic(op luasyntax.UnaryOp) (ArithmeticOperator, bool) {
	switch op {
	case luasyntax.OpUnm:
		return UnaryMinus, true
	case luasyntax.OpBNot:
		return BitwiseNot, true
	default:
		return 0, false
	}
}

func binaryArithmetic(op luasyntax.BinaryOp) (ArithmeticOperator, bool) {
	switch op {
	case luasyntax.OpAdd:
		return Add, true
	case luasyntax.OpSub:
		return Subtract, true
	case luasyntax.OpMul:
		return Multiply, true
	case luasyntax.OpDiv:
		return Divide, true
	case luasyntax.OpMod:
		return Modulo, true
	case luasyntax.OpPow:
		return Power, true
	case luasyntax.OpIDiv:
		return IntegerDivide, true
	case luasyntax.OpBAnd:
		return BitwiseAnd, true
	case luasyntax.OpBOr:
		return BitwiseOr, true
	case luasyntax.OpBXor:
		return BitwiseXOR, true
	case luasyntax.OpShiftL:
		return ShiftLeft, true
	case luasyntax.OpShiftR:
		return ShiftRight, true
	default:
		return 0, false
	}
}

// arithmeticOpCode maps a syntax operator to its register opcode.
func arithmeticOpCode(op luasyntax.BinaryOp) (OpCode, bool) {
	switch op {
	case luasyntax.OpAdd:
		return OpAdd, true
	case luasyntax.OpSub:
		return OpSub, true
	case luasyntax.OpMul:
		return OpMul, true
	case luasyntax.OpDiv:
		return OpDiv, true
	case luasyntax.OpMod:
		return OpMod, true
	case luasyntax.OpPow:
		return OpPow, true
	case luasyntax.OpIDiv:
		return OpIDiv, true
	case luasyntax.OpBAnd:
		return OpBAnd, true
	case luasyntax.OpBOr:
		return OpBOr, true
	case luasyntax.OpBXor:
		return OpBXor, true
	case luasyntax.OpShiftL:
		return OpShl, true
	case luasyntax.OpShiftR:
		return OpShr, true
	default:
		return 0, false
	}
}

// loadConstant emits the cheapest instruction
// that places the constant in the target register.
func (fs *funcState) loadConstant(v Value, target uint8, line int) error {
	switch {
	case v.IsNil():
		fs.emit(ABCInstruction(OpLoadNil, target, uint16(target), 0), line)
		return nil
	case v.IsBoolean():
		b, _ := v.Bool()
		var arg uint16
		if b {
			arg = 1
		}
		fs.emit(ABCInstruction(OpLoadBool, target, arg, 0), line)
		return nil
	case v.IsInteger():
		if i, _ := v.Int64(); fitsSBx(i) {
			fs.emit(ASBxInstruction(OpLoadI, target, int32(i)), line)
			return nil
		}
	}
	k, err := fs.constantIndex(v, line)
	if err != nil {
		return err
	}
	fs.emit(ABxInstruction(OpLoadK, target, int32(k)), line)
	return nil
}

// compileExprTo compiles e, leaving its single value in target.
func (fs *funcState) compileExprTo(e luasyntax.Expr, target uint8) error {
	if v, ok := fs.foldExpr(e); ok {
		return fs.loadConstant(v, target, e.Line())
	}

	switch x := e.(type) {
	case *luasyntax.NameExpr:
		return fs.compileNameTo(x.Name, x.Line(), target)
	case *luasyntax.VarargExpr:
		fs.emit(ABCInstruction(OpVararg, target, 0, 2), x.Line())
		return nil
	case *luasyntax.ParenExpr:
		return fs.compileExprTo(x.X, target)
	case *luasyntax.IndexExpr:
		obj, isLocal := target, false
		if name, ok := x.Object.(*luasyntax.NameExpr); ok {
			v, err := fs.resolveVariable(name.Name, name.Line())
			if err != nil {
				return err
			}
			if v.place == varLocal {
				obj, isLocal = v.index, true
			}
		}
		if !isLocal {
			if err := fs.compileExprTo(x.Object, target); err != nil {
				return err
			}
		}
		key, keyTemp, err := fs.compileRK(x.Key)
		if err != nil {
			return err
		}
		fs.emit(ABCInstruction(OpGetTable, target, uint16(obj), key), x.Line())
		fs.freeRKTemp(key, keyTemp)
		return nil
	case *luasyntax.UnaryExpr:
		return fs.compileUnaryTo(x, target)
	case *luasyntax.BinaryExpr:
		return fs.compileBinaryTo(x, target)
	case *luasyntax.FuncExpr:
		return fs.compileClosureTo(x, target)
	case *luasyntax.TableExpr:
		return fs.compileTableTo(x, target)
	case *luasyntax.CallExpr, *luasyntax.MethodCallExpr:
		base, err := fs.compileCall(e, 1)
		if err != nil {
			return err
		}
		if base != target {
			fs.emit(ABCInstruction(OpMove, target, uint16(base), 0), e.Line())
		}
		fs.regs.FreeTo(base)
		return nil
	default:
		return fs.errorf(e.Line(), "internal error: unhandled expression %T", e)
	}
}

// compileNameTo resolves a variable reference into target.
// Globals resolve through _ENV:
// through GETTABLE when _ENV is a local,
// through GETUPVAL+GETTABLE when it is an upvalue,
// and through the GETGLOBAL shorthand when no _ENV is bound.
func (fs *funcState) compileNameTo(name string, line int, target uint8) error {
	v, err := fs.resolveVariable(name, line)
	if err != nil {
		return err
	}
	switch v.place {
	case varLocal:
		if v.index != target {
			fs.emit(ABCInstruction(OpMove, target, uint16(v.index), 0), line)
		}
		return nil
	case varUpvalue:
		fs.emit(ABCInstruction(OpGetUpval, target, uint16(v.index), 0), line)
		return nil
	default:
		k, err := fs.constantIndex(StringValue(name), line)
		if err != nil {
			return err
		}
		env, err := fs.resolveVariable("_ENV", line)
		if err != nil {
			return err
		}
		switch env.place {
		case varLocal:
			keyOp, ok := ConstantOperand(k)
			if !ok {
				return fs.withKeyRegister(k, line, func(key uint16) error {
					fs.emit(ABCInstruction(OpGetTable, target, uint16(env.index), key), line)
					return nil
				})
			}
			fs.emit(ABCInstruction(OpGetTable, target, uint16(env.index), keyOp), line)
			return nil
		case varUpvalue:
			fs.emit(ABCInstruction(OpGetUpval, target, uint16(env.index), 0), line)
			keyOp, ok := ConstantOperand(k)
			if !ok {
				return fs.withKeyRegister(k, line, func(key uint16) error {
					fs.emit(ABCInstruction(OpGetTable, target, uint16(target), key), line)
					return nil
				})
			}
			fs.emit(ABCInstruction(OpGetTable, target, uint16(target), keyOp), line)
			return nil
		default:
			fs.emit(ABxInstruction(OpGetGlobal, target, int32(k)), line)
			return nil
		}
	}
}

// withKeyRegister loads an overflowing constant into a temporary
// register for use as a table key.
func (fs *funcState) withKeyRegister(k int, line int, f func(key uint16) error) error {
	return fs.regs.WithTemp(func(r uint8) error {
		fs.emit(ABxInstruction(OpLoadK, r, int32(k)), line)
		return f(RegisterOperand(r))
	})
}

func (fs *funcState) compileUnaryTo(x *luasyntax.UnaryExpr, target uint8) error {
	var op OpCode
	switch x.Op {
	case luasyntax.OpUnm:
		op = OpUnm
	case luasyntax.OpNot:
		op = OpNot
	case luasyntax.OpLen:
		op = OpLen
	case luasyntax.OpBNot:
		op = OpBNot
	default:
		return fs.errorf(x.Line(), "internal error: unhandled unary operator %v", x.Op)
	}
	if err := fs.compileExprTo(x.Operand, target); err != nil {
		return err
	}
	fs.emit(ABCInstruction(op, target, uint16(target), 0), x.Line())
	return nil
}

func (fs *funcState) compileBinaryTo(x *luasyntax.BinaryExpr, target uint8) error {
	switch x.Op {
	case luasyntax.OpAnd, luasyntax.OpOr:
		return fs.compileShortCircuit(x, target)
	case luasyntax.OpConcat:
		return fs.compileConcat(x, target)
	case luasyntax.OpEq, luasyntax.OpNE, luasyntax.OpLT, luasyntax.OpLE, luasyntax.OpGT, luasyntax.OpGE:
		return fs.compileComparisonTo(x, target)
	}

	op, ok := arithmeticOpCode(x.Op)
	if !ok {
		return fs.errorf(x.Line(), "internal error: unhandled binary operator %v", x.Op)
	}
	b, bTemp, err := fs.compileRK(x.Left)
	if err != nil {
		return err
	}
	c, cTemp, err := fs.compileRK(x.Right)
	if err != nil {
		return err
	}
	fs.emit(ABCInstruction(op, target, b, c), x.Line())
	fs.freeRKTemp(c, cTemp)
	fs.freeRKTemp(b, bTemp)
	return nil
}

// compileShortCircuit compiles "and"/"or" with the left value
// already in the target register.
// The test carries the operator's line so hooks observe it
// before the branch.
func (fs *funcState) compileShortCircuit(x *luasyntax.BinaryExpr, target uint8) error {
	if err := fs.compileExprTo(x.Left, target); err != nil {
		return err
	}
	var keep uint16
	if x.Op == luasyntax.OpOr {
		keep = 1
	}
	fs.emit(ABCInstruction(OpTest, target, 0, keep), x.Line())
	end := fs.emitJump(x.Line())
	if err := fs.compileExprTo(x.Right, target); err != nil {
		return err
	}
	return fs.patchJumpsToHere([]int{end})
}

// compileConcat flattens a right-associative concat chain
// into one CONCAT over a contiguous register run.
func (fs *funcState) compileConcat(x *luasyntax.BinaryExpr, target uint8) error {
	var operands []luasyntax.Expr
	var flatten func(e luasyntax.Expr)
	flatten = func(e luasyntax.Expr) {
		if b, ok := e.(*luasyntax.BinaryExpr); ok && b.Op == luasyntax.OpConcat {
			flatten(b.Left)
			flatten(b.Right)
			return
		}
		operands = append(operands, e)
	}
	flatten(x)

	n := len(operands)
	return fs.regs.WithContiguous(n, func(first uint8) error {
		for i, operand := range operands {
			if err := fs.compileExprTo(operand, first+uint8(i)); err != nil {
				return err
			}
		}
		fs.emit(ABCInstruction(OpConcat, target, uint16(first), uint16(first)+uint16(n-1)), x.Line())
		return nil
	})
}

// comparisonArgs normalizes a comparison to EQ/LT/LE form:
// "a > b" becomes "b < a", "a ~= b" negates EQ.
func comparisonArgs(op luasyntax.BinaryOp) (code OpCode, expect uint16, swap bool) {
	switch op {
	case luasyntax.OpEq:
		return OpEq, 1, false
	case luasyntax.OpNE:
		return OpEq, 0, false
	case luasyntax.OpLT:
		return OpLT, 1, false
	case luasyntax.OpLE:
		return OpLE, 1, false
	case luasyntax.OpGT:
		return OpLT, 1, true
	case luasyntax.OpGE:
		return OpLE, 1, true
	default:
		panic("not a comparison")
	}
}

// compileComparisonTo materializes a comparison as a boolean.
func (fs *funcState) compileComparisonTo(x *luasyntax.BinaryExpr, target uint8) error {
	jmp, err := fs.compileComparisonJump(x)
	if err != nil {
		return err
	}
	// Fall-through means the comparison held.
	fs.emit(ABCInstruction(OpLoadBool, target, 1, 1), x.Line())
	if err := fs.patchJumpsToHere([]int{jmp}); err != nil {
		return err
	}
	fs.emit(ABCInstruction(OpLoadBool, target, 0, 0), x.Line())
	return nil
}

// compileComparisonJump emits a comparison test
// followed by a jump taken when the comparison FAILS.
// The returned address is the jump to patch.
func (fs *funcState) compileComparisonJump(x *luasyntax.BinaryExpr) (int, error) {
	code, expect, swap := comparisonArgs(x.Op)
	left, right := x.Left, x.Right
	if swap {
		left, right = right, left
	}
	b, bTemp, err := fs.compileRK(left)
	if err != nil {
		return 0, err
	}
	c, cTemp, err := fs.compileRK(right)
	if err != nil {
		return 0, err
	}
	// The test skips the jump when (cmp == expect).
	fs.emit(ABCInstruction(code, uint8(expect^1), b, c), x.Line())
	jmp := fs.emitJump(x.Line())
	fs.freeRKTemp(c, cTemp)
	fs.freeRKTemp(b, bTemp)
	return jmp, nil
}

// compileCondition compiles e as a branch condition.
// Fall-through means the condition is true;
// the returned jumps are taken when it is false.
func (fs *funcState) compileCondition(e luasyntax.Expr) ([]int, error) {
	switch x := e.(type) {
	case *luasyntax.BinaryExpr:
		switch x.Op {
		case luasyntax.OpEq, luasyntax.OpNE, luasyntax.OpLT, luasyntax.OpLE, luasyntax.OpGT, luasyntax.OpGE:
			jmp, err := fs.compileComparisonJump(x)
			if err != nil {
				return nil, err
			}
			return []int{jmp}, nil
		case luasyntax.OpAnd:
			leftFalse, err := fs.compileCondition(x.Left)
			if err != nil {
				return nil, err
			}
			rightFalse, err := fs.compileCondition(x.Right)
			if err != nil {
				return nil, err
			}
			return append(leftFalse, rightFalse...), nil
		}
	}

	var falseJumps []int
	err := fs.regs.WithTemp(func(r uint8) error {
		if err := fs.compileExprTo(e, r); err != nil {
			return err
		}
		fs.emit(ABCInstruction(OpTest, r, 0, 0), e.Line())
		falseJumps = append(falseJumps, fs.emitJump(e.Line()))
		return nil
	})
	return falseJumps, err
}

func (fs *funcState) compileClosureTo(x *luasyntax.FuncExpr, target uint8) error {
	idx, err := fs.compileFunction(x)
	if err != nil {
		return err
	}
	fs.emit(ABxInstruction(OpClosure, target, int32(idx)), x.Line())
	return nil
}

// compileFunction compiles a nested function literal
// and returns its index in the prototype list.
func (fs *funcState) compileFunction(x *luasyntax.FuncExpr) (int, error) {
	sub := newFuncState(fs, fs.source)
	sub.proto.LineDefined = x.Line()
	sub.proto.LastLineDefined = x.EndLine
	sub.proto.NumParams = uint8(len(x.Params))
	sub.proto.IsVararg = x.IsVararg
	sub.proto.Parameters = append(sub.proto.Parameters, x.Params...)
	if err := sub.compileFunctionBody(x.Body, x.EndLine); err != nil {
		return 0, err
	}
	if len(fs.proto.Functions) > maxArgBx {
		return 0, fs.errorf(x.Line(), "too many nested functions")
	}
	fs.proto.Functions = append(fs.proto.Functions, sub.proto)
	return len(fs.proto.Functions) - 1, nil
}

func (fs *funcState) compileTableTo(x *luasyntax.TableExpr, target uint8) error {
	numArray, numHash := 0, 0
	for _, f := range x.Fields {
		if f.Key == nil {
			numArray++
		} else {
			numHash++
		}
	}

	return fs.regs.WithTemp(func(treg uint8) error {
		fs.emit(ABCInstruction(OpNewTable, treg, uint16(min(numArray, maxArgB)), uint16(min(numHash, maxArgC))), x.Line())

		arrayIndex := 0 // count of array items already flushed
		var pending []uint8
		flush := func(lastIsMulti bool, line int) {
			if len(pending) == 0 && !lastIsMulti {
				return
			}
			count := uint16(len(pending))
			if lastIsMulti {
				count = 0
			}
			batch := uint16(arrayIndex/SetListBatchSize) + 1
			fs.emit(ABCInstruction(OpSetList, treg, count, batch), line)
			for i := len(pending) - 1; i >= 0; i-- {
				fs.regs.FreeTemp(pending[i])
			}
			arrayIndex += len(pending)
			pending = pending[:0]
		}

		for i, field := range x.Fields {
			switch {
			case field.Key == nil:
				isLast := i == len(x.Fields)-1
				if isLast && isMultiValue(field.Value) {
					// The trailing item expands to all of its values.
					if _, err := fs.compileMulti(field.Value, MultiReturn); err != nil {
						return err
					}
					flush(true, field.Value.Line())
					continue
				}
				r, err := fs.regs.AllocateTemp()
				if err != nil {
					return fs.errorf(field.Value.Line(), "%v", err)
				}
				if err := fs.compileExprTo(field.Value, r); err != nil {
					return err
				}
				pending = append(pending, r)
				if len(pending) == SetListBatchSize {
					flush(false, field.Value.Line())
				}
			default:
				key, keyTemp, err := fs.compileRK(field.Key)
				if err != nil {
					return err
				}
				value, valueTemp, err := fs.compileRK(field.Value)
				if err != nil {
					return err
				}
				fs.emit(ABCInstruction(OpSetTable, treg, key, value), field.Value.Line())
				fs.freeRKTemp(value, valueTemp)
				fs.freeRKTemp(key, keyTemp)
			}
		}
		flush(false, x.Line())

		if treg != target {
			fs.emit(ABCInstruction(OpMove, target, uint16(treg), 0), x.Line())
		}
		return nil
	})
}

// isMultiValue reports whether an expression can produce
// a variable number of values.
func isMultiValue(e luasyntax.Expr) bool {
	switch e.(type) {
	case *luasyntax.CallExpr, *luasyntax.MethodCallExpr, *luasyntax.VarargExpr:
		return true
	default:
		return false
	}
}

// compileRK compiles e into a 9-bit RK operand:
// a constant-pool reference when e folds to a constant that fits,
// the local's register when e names a local,
// and a fresh temporary otherwise.
// The caller must release temporaries with freeRKTemp
// in reverse order of acquisition.
func (fs *funcState) compileRK(e luasyntax.Expr) (arg uint16, isTemp bool, err error) {
	if v, ok := fs.foldExpr(e); ok {
		k := fs.proto.addConstant(v)
		if op, ok := ConstantOperand(k); ok {
			return op, false, nil
		}
	}
	if name, ok := e.(*luasyntax.NameExpr); ok {
		v, err := fs.resolveVariable(name.Name, name.Line())
		if err != nil {
			return 0, false, err
		}
		if v.place == varLocal {
			return RegisterOperand(v.index), false, nil
		}
	}
	r, err := fs.regs.AllocateTemp()
	if err != nil {
		return 0, false, fs.errorf(e.Line(), "%v", err)
	}
	if err := fs.compileExprTo(e, r); err != nil {
		return 0, false, err
	}
	return RegisterOperand(r), true, nil
}

func (fs *funcState) freeRKTemp(arg uint16, isTemp bool) {
	if isTemp {
		fs.regs.FreeTemp(OperandValue(arg))
	}
}

// compileMulti compiles a multi-value expression
// with its results starting at the current register top.
// want is the number of requested results, or [MultiReturn] for all.
// The result registers remain allocated
// (exactly want of them; none for MultiReturn,
// whose extent is only known at run time).
func (fs *funcState) compileMulti(e luasyntax.Expr, want int) (base uint8, err error) {
	switch x := e.(type) {
	case *luasyntax.CallExpr, *luasyntax.MethodCallExpr:
		base, err := fs.compileCall(e, want)
		if err != nil {
			return 0, err
		}
		if want == MultiReturn {
			fs.regs.FreeTo(base)
		}
		return base, nil
	case *luasyntax.VarargExpr:
		n := want
		if n == MultiReturn {
			base := fs.regs.Top()
			if err := fs.regs.checkStack(1); err != nil {
				return 0, fs.errorf(x.Line(), "%v", err)
			}
			fs.emit(ABCInstruction(OpVararg, base, 0, 0), x.Line())
			return base, nil
		}
		base, err := fs.regs.AllocateContiguous(n)
		if err != nil {
			return 0, fs.errorf(x.Line(), "%v", err)
		}
		fs.emit(ABCInstruction(OpVararg, base, 0, uint16(n+1)), x.Line())
		return base, nil
	default:
		return 0, fs.errorf(e.Line(), "internal error: compileMulti on single-value expression %T", e)
	}
}

// compileCall compiles a function or method call
// whose frame starts at the register top.
// numResults is the requested result count, or [MultiReturn].
// On return, registers base..base+numResults-1 stay allocated
// (none, for MultiReturn and zero-result calls).
func (fs *funcState) compileCall(e luasyntax.Expr, numResults int) (base uint8, err error) {
	var args []luasyntax.Expr
	var line int

	switch x := e.(type) {
	case *luasyntax.CallExpr:
		base, err = fs.regs.AllocateTemp()
		if err != nil {
			return 0, fs.errorf(x.Line(), "%v", err)
		}
		if err := fs.compileExprTo(x.Fn, base); err != nil {
			return 0, err
		}
		args = x.Args
		line = x.Line()
	case *luasyntax.MethodCallExpr:
		// SELF needs two adjacent registers: method then receiver.
		base, err = fs.regs.AllocateTemp()
		if err != nil {
			return 0, fs.errorf(x.Line(), "%v", err)
		}
		selfReg, err := fs.regs.AllocateTemp()
		if err != nil {
			return 0, fs.errorf(x.Line(), "%v", err)
		}
		if err := fs.compileExprTo(x.Object, selfReg); err != nil {
			return 0, err
		}
		k, err := fs.constantIndex(StringValue(x.Method), x.Line())
		if err != nil {
			return 0, err
		}
		keyOp, ok := ConstantOperand(k)
		if !ok {
			return 0, fs.errorf(x.Line(), "too many constants for method name")
		}
		fs.emit(ABCInstruction(OpSelf, base, uint16(selfReg), keyOp), x.Line())
		args = x.Args
		line = x.Line()
	default:
		return 0, fs.errorf(e.Line(), "internal error: compileCall on %T", e)
	}

	_, isMethod := e.(*luasyntax.MethodCallExpr)
	numFixedArgs := len(args)
	lastIsMulti := numFixedArgs > 0 && isMultiValue(args[numFixedArgs-1])
	if lastIsMulti {
		numFixedArgs--
	}
	for _, arg := range args[:numFixedArgs] {
		r, err := fs.regs.AllocateTemp()
		if err != nil {
			return 0, fs.errorf(arg.Line(), "%v", err)
		}
		if err := fs.compileExprTo(arg, r); err != nil {
			return 0, err
		}
	}
	if lastIsMulti {
		if _, err := fs.compileMulti(args[len(args)-1], MultiReturn); err != nil {
			return 0, err
		}
	}

	b := uint16(len(args) + 1) // arguments + function slot
	if isMethod {
		b++ // receiver travels as a leading argument
	}
	if lastIsMulti {
		b = 0
	}
	c := uint16(numResults + 1)
	if numResults == MultiReturn {
		c = 0
	}
	fs.emit(ABCInstruction(OpCall, base, b, c), line)

	fs.regs.FreeTo(base)
	if numResults > 0 {
		if _, err := fs.regs.AllocateContiguous(numResults); err != nil {
			return 0, fs.errorf(line, "%v", err)
		}
	}
	return base, nil
}

// compileExprList places count values from exprs
// into contiguous registers starting at the returned base,
// padding with nil or truncating as Lua's assignment rules require.
// If count is [MultiReturn], all values of a trailing
// multi-value expression are kept and the block is left "open".
func (fs *funcState) compileExprList(exprs []luasyntax.Expr, count int) (base uint8, err error) {
	base = fs.regs.Top()
	if len(exprs) == 0 {
		if count > 0 {
			first, err := fs.regs.AllocateContiguous(count)
			if err != nil {
				return 0, err
			}
			fs.emit(ABCInstruction(OpLoadNil, first, uint16(first)+uint16(count-1), 0), fs.currentLine())
		}
		return base, nil
	}

	last := len(exprs) - 1
	for i, e := range exprs[:last] {
		if count != MultiReturn && i >= count {
			// Extra values are still evaluated, into scratch space.
			if err := fs.compileDiscard(e); err != nil {
				return 0, err
			}
			continue
		}
		r, err := fs.regs.AllocateTemp()
		if err != nil {
			return 0, fs.errorf(e.Line(), "%v", err)
		}
		if err := fs.compileExprTo(e, r); err != nil {
			return 0, err
		}
	}

	produced := min(last, max(count, 0))
	if count == MultiReturn {
		produced = last
	}
	remaining := MultiReturn
	if count != MultiReturn {
		remaining = count - produced
	}

	lastExpr := exprs[last]
	switch {
	case remaining == MultiReturn:
		if isMultiValue(lastExpr) {
			if _, err := fs.compileMulti(lastExpr, MultiReturn); err != nil {
				return 0, err
			}
		} else {
			r, err := fs.regs.AllocateTemp()
			if err != nil {
				return 0, fs.errorf(lastExpr.Line(), "%v", err)
			}
			if err := fs.compileExprTo(lastExpr, r); err != nil {
				return 0, err
			}
		}
	case remaining <= 0:
		if err := fs.compileDiscard(lastExpr); err != nil {
			return 0, err
		}
	case isMultiValue(lastExpr):
		if _, err := fs.compileMulti(lastExpr, remaining); err != nil {
			return 0, err
		}
	default:
		r, err := fs.regs.AllocateTemp()
		if err != nil {
			return 0, fs.errorf(lastExpr.Line(), "%v", err)
		}
		if err := fs.compileExprTo(lastExpr, r); err != nil {
			return 0, err
		}
		if remaining > 1 {
			first, err := fs.regs.AllocateContiguous(remaining - 1)
			if err != nil {
				return 0, fs.errorf(lastExpr.Line(), "%v", err)
			}
			fs.emit(ABCInstruction(OpLoadNil, first, uint16(first)+uint16(remaining-2), 0), lastExpr.Line())
		}
	}
	return base, nil
}

// compileDiscard evaluates an expression for its side effects only.
func (fs *funcState) compileDiscard(e luasyntax.Expr) error {
	switch e.(type) {
	case *luasyntax.CallExpr, *luasyntax.MethodCallExpr:
		base, err := fs.compileCall(e, 0)
		if err != nil {
			return err
		}
		fs.regs.FreeTo(base)
		return nil
	default:
		return fs.regs.WithTemp(func(r uint8) error {
			return fs.compileExprTo(e, r)
		})
	}
}
