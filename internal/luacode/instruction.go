// Copyright (C) 1994-2025 Lua.org, PUC-Rio.
// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package luacode

import "fmt"

// Instruction is a single 32-bit virtual machine instruction,
// packed as opcode(6) | A(8) | B(9) | C(9).
// The signed displacement of jump-family instructions (sBx)
// and the constant index of load-family instructions (Bx)
// occupy the contiguous B and C fields.
type Instruction uint32

const (
	sizeOpCode = 6
	sizeA      = 8
	sizeB      = 9
	sizeC      = 9
	sizeBx     = sizeB + sizeC

	posA  = sizeOpCode
	posB  = posA + sizeA
	posC  = posB + sizeB
	posBx = posB

	maxArgA  = 1<<sizeA - 1
	maxArgB  = 1<<sizeB - 1
	maxArgC  = 1<<sizeC - 1
	maxArgBx = 1<<sizeBx - 1

	// offsetSBx biases the signed displacement stored in the Bx field.
	offsetSBx = maxArgBx >> 1
)

// rkMask is the bit that marks a 9-bit operand as a constant index.
const rkMask = 1 << 8

// MaxRKIndex is the largest constant-pool index
// that can be referenced by an RK operand.
const MaxRKIndex = rkMask - 1

// noJump is the sentinel for an empty jump list.
const noJump = -1

// ABCInstruction returns a new three-operand instruction.
// ABCInstruction panics if the opcode's [OpMode] is not [OpModeABC].
func ABCInstruction(op OpCode, a uint8, b, c uint16) Instruction {
	if op.OpMode() != OpModeABC {
		panic("ABCInstruction with invalid OpCode")
	}
	if b > maxArgB || c > maxArgC {
		panic("ABCInstruction argument out of range")
	}
	return Instruction(op) |
		Instruction(a)<<posA |
		Instruction(b)<<posB |
		Instruction(c)<<posC
}

// ABxInstruction returns a new instruction
// with an unsigned 18-bit second operand.
// ABxInstruction panics if the opcode's [OpMode] is not [OpModeABx]
// or the operand is out of range.
func ABxInstruction(op OpCode, a uint8, bx int32) Instruction {
	if op.OpMode() != OpModeABx {
		panic("ABxInstruction with invalid OpCode")
	}
	if bx < 0 || bx > maxArgBx {
		panic("Bx argument out of range")
	}
	return Instruction(op) |
		Instruction(a)<<posA |
		Instruction(bx)<<posBx
}

// ASBxInstruction returns a new instruction
// with a signed displacement operand.
// ASBxInstruction panics if the opcode's [OpMode] is not [OpModeAsBx]
// or the displacement is out of range.
func ASBxInstruction(op OpCode, a uint8, sbx int32) Instruction {
	if op.OpMode() != OpModeAsBx {
		panic("ASBxInstruction with invalid OpCode")
	}
	if !fitsSBx(int64(sbx)) {
		panic("sBx argument out of range")
	}
	return Instruction(op) |
		Instruction(a)<<posA |
		Instruction(sbx+offsetSBx)<<posBx
}

// OpCode returns the instruction's type.
func (i Instruction) OpCode() OpCode {
	return OpCode(i & (1<<sizeOpCode - 1))
}

// ArgA returns the first (A) operand.
func (i Instruction) ArgA() uint8 {
	return uint8(i >> posA)
}

// ArgB returns the second (B) operand of an [OpModeABC] instruction.
func (i Instruction) ArgB() uint16 {
	if i.OpCode().OpMode() != OpModeABC {
		return 0
	}
	return uint16(i>>posB) & maxArgB
}

// ArgC returns the third (C) operand of an [OpModeABC] instruction.
func (i Instruction) ArgC() uint16 {
	if i.OpCode().OpMode() != OpModeABC {
		return 0
	}
	return uint16(i>>posC) & maxArgC
}

// ArgBx returns the unsigned wide operand of an [OpModeABx] instruction.
func (i Instruction) ArgBx() int32 {
	if i.OpCode().OpMode() != OpModeABx {
		return 0
	}
	return int32(i>>posBx) & maxArgBx
}

// ArgSBx returns the signed displacement of an [OpModeAsBx] instruction,
// or [noJump]'s offset semantics for other modes.
func (i Instruction) ArgSBx() int32 {
	if i.OpCode().OpMode() != OpModeAsBx {
		return noJump
	}
	return (int32(i>>posBx) & maxArgBx) - offsetSBx
}

// WithArgA returns a copy of i with its A operand replaced.
func (i Instruction) WithArgA(a uint8) Instruction {
	const mask = Instruction(maxArgA) << posA
	return i&^mask | Instruction(a)<<posA
}

// WithArgC returns a copy of i with its C operand replaced,
// or i unchanged if the instruction is not [OpModeABC].
func (i Instruction) WithArgC(c uint16) Instruction {
	if i.OpCode().OpMode() != OpModeABC || c > maxArgC {
		return i
	}
	const mask = Instruction(maxArgC) << posC
	return i&^mask | Instruction(c)<<posC
}

// WithArgSBx returns a copy of i with its displacement replaced.
func (i Instruction) WithArgSBx(sbx int32) Instruction {
	const mask = Instruction(maxArgBx) << posBx
	return i&^mask | Instruction(sbx+offsetSBx)<<posBx
}

func fitsSBx(i int64) bool {
	return -offsetSBx <= i && i <= maxArgBx-offsetSBx
}

// IsConstantOperand reports whether a 9-bit RK operand
// references the constant pool.
func IsConstantOperand(arg uint16) bool {
	return arg&rkMask != 0
}

// RegisterOperand returns an RK operand for a register index.
func RegisterOperand(r uint8) uint16 {
	return uint16(r)
}

// ConstantOperand returns an RK operand for a constant-pool index.
// ok is false if the index does not fit.
func ConstantOperand(k int) (_ uint16, ok bool) {
	if k < 0 || k > MaxRKIndex {
		return 0, false
	}
	return uint16(k) | rkMask, true
}

// OperandValue returns the register or constant index
// encoded in a 9-bit RK operand.
func OperandValue(arg uint16) uint8 {
	return uint8(arg &^ rkMask)
}

// String decodes the instruction
// and formats it in a manner similar to luac -l.
func (i Instruction) String() string {
	op := i.OpCode()
	switch op.OpMode() {
	case OpModeABC:
		return fmt.Sprintf("%-9s %d %d %d", op, i.ArgA(), i.ArgB(), i.ArgC())
	case OpModeABx:
		return fmt.Sprintf("%-9s %d %d", op, i.ArgA(), i.ArgBx())
	case OpModeAsBx:
		return fmt.Sprintf("%-9s %d %+d", op, i.ArgA(), i.ArgSBx())
	default:
		return fmt.Sprintf("Instruction(%#08x)", uint32(i))
	}
}

// OpCode is an enumeration of [Instruction] types.
type OpCode uint8

// Defined [OpCode] values.
const (
	// A B: R[A] := R[B]
	OpMove OpCode = iota // MOVE
	// A Bx: R[A] := K[Bx]
	OpLoadK // LOADK
	// A sBx: R[A] := Integer(sBx)
	OpLoadI // LOADI
	// A B C: R[A] := Bool(B); if C != 0 then pc++
	OpLoadBool // LOADBOOL
	// A B: R[A..B] := nil
	OpLoadNil // LOADNIL
	// A Bx: R[A] := _ENV[K[Bx]]
	OpGetGlobal // GETGLOBAL
	// A Bx: _ENV[K[Bx]] := R[A]
	OpSetGlobal // SETGLOBAL
	// A B: R[A] := Upvalue[B]
	OpGetUpval // GETUPVAL
	// A B: Upvalue[B] := R[A]
	OpSetUpval // SETUPVAL
	// A B C: R[A] := R[B][RK(C)]
	OpGetTable // GETTABLE
	// A B C: R[A][RK(B)] := RK(C)
	OpSetTable // SETTABLE
	// A B C: R[A+1] := R[B]; R[A] := R[B][RK(C)]
	OpSelf // SELF

	// A B C: R[A] := RK(B) op RK(C)
	OpAdd  // ADD
	OpSub  // SUB
	OpMul  // MUL
	OpDiv  // DIV
	OpMod  // MOD
	OpPow  // POW
	OpIDiv // IDIV
	OpBAnd // BAND
	OpBOr  // BOR
	OpBXor // BXOR
	OpShl  // SHL
	OpShr  // SHR

	// A B: R[A] := op R[B]
	OpUnm  // UNM
	OpBNot // BNOT
	OpNot  // NOT
	OpLen  // LEN

	// A B C: R[A] := R[B] .. ... .. R[C]
	OpConcat // CONCAT

	// A B C: if (RK(B) op RK(C)) != Bool(A) then pc++
	OpEq // EQ
	OpLT // LT
	OpLE // LE

	// A C: if truthy(R[A]) != Bool(C) then pc++
	OpTest // TEST
	// A B C: if truthy(R[B]) != Bool(C) then pc++ else R[A] := R[B]
	OpTestSet // TESTSET
	// sBx: pc += sBx
	OpJmp // JMP

	// A B C: R[A..A+C-2] := R[A](R[A+1..A+B-1]); 0 encodes "to top"
	OpCall // CALL
	// A B: return R[A](R[A+1..A+B-1])
	OpTailCall // TAILCALL
	// A B: return R[A..A+B-2]; B=0 returns to top
	OpReturn // RETURN

	// A sBx: init numeric loop; if loop does not run then pc += sBx+1
	OpForPrep // FORPREP
	// A sBx: advance numeric loop; if it continues then pc -= sBx
	OpForLoop // FORLOOP
	// A C: R[A+3..A+2+C] := R[A](R[A+1], R[A+2])
	OpTForCall // TFORCALL
	// A B C: if R[A+1] != nil then { R[A] := R[A+1]; pc -= B }
	// (C holds the loop's variable count for the debug interface)
	OpTForLoop // TFORLOOP

	// A Bx: R[A] := closure(Protos[Bx])
	OpClosure // CLOSURE
	// A B: close variables >= R[A] according to mode B (see below)
	OpClose // CLOSE
	// A C: R[A..] := varargs; C=0 expands all and sets top
	OpVararg // VARARG
	// A B C: R[A] := {} with array hint B and hash hint C
	OpNewTable // NEWTABLE
	// A B C: R[A][(C-1)*50+i] := R[A+i] for 1 <= i <= B; B=0 uses top
	OpSetList // SETLIST

	numOpCodes = int(iota)
)

// CLOSE instruction modes (the B operand of [OpClose]).
const (
	// CloseUpvalues closes all open upvalues with register >= A.
	CloseUpvalues uint16 = 0
	// CloseMarkTBC marks register A as to-be-closed,
	// capturing its current value.
	CloseMarkTBC uint16 = 1
	// CloseTBC invokes __close for every to-be-closed entry
	// with register >= A in LIFO order, then closes upvalues >= A.
	CloseTBC uint16 = 2
)

// SetListBatchSize is the number of elements
// covered by one [OpSetList] batch.
const SetListBatchSize = 50

// MultiReturn is the sentinel for "as many results as available"
// in call and return counts.
const MultiReturn = -1

// IsValid reports whether the opcode is one of the known instructions.
func (op OpCode) IsValid() bool {
	return int(op) < numOpCodes
}

// OpMode is an enumeration of [Instruction] formats.
type OpMode uint8

// Instruction formats.
const (
	OpModeABC OpMode = 1 + iota
	OpModeABx
	OpModeAsBx
)

// opProps packs an opcode's mode (low 2 bits),
// whether it writes register A (bit 2),
// and whether it is a test whose successor must be a jump (bit 3).
var opProps = [numOpCodes]uint8{
	OpMove:      1<<2 | uint8(OpModeABC),
	OpLoadK:     1<<2 | uint8(OpModeABx),
	OpLoadI:     1<<2 | uint8(OpModeAsBx),
	OpLoadBool:  1<<2 | uint8(OpModeABC),
	OpLoadNil:   1<<2 | uint8(OpModeABC),
	OpGetGlobal: 1<<2 | uint8(OpModeABx),
	OpSetGlobal: uint8(OpModeABx),
	OpGetUpval:  1<<2 | uint8(OpModeABC),
	OpSetUpval:  uint8(OpModeABC),
	OpGetTable:  1<<2 | uint8(OpModeABC),
	OpSetTable:  uint8(OpModeABC),
	OpSelf:      1<<2 | uint8(OpModeABC),
	OpAdd:       1<<2 | uint8(OpModeABC),
	OpSub:       1<<2 | uint8(OpModeABC),
	OpMul:       1<<2 | uint8(OpModeABC),
	OpDiv:       1<<2 | uint8(OpModeABC),
	OpMod:       1<<2 | uint8(OpModeABC),
	OpPow:       1<<2 | uint8(OpModeABC),
	OpIDiv:      1<<2 | uint8(OpModeABC),
	OpBAnd:      1<<2 | uint8(OpModeABC),
	OpBOr:       1<<2 | uint8(OpModeABC),
	OpBXor:      1<<2 | uint8(OpModeABC),
	OpShl:       1<<2 | uint8(OpModeABC),
	OpShr:       1<<2 | uint8(OpModeABC),
	OpUnm:       1<<2 | uint8(OpModeABC),
	OpBNot:      1<<2 | uint8(OpModeABC),
	OpNot:       1<<2 | uint8(OpModeABC),
	OpLen:       1<<2 | uint8(OpModeABC),
	OpConcat:    1<<2 | uint8(OpModeABC),
	OpEq:        1<<3 | uint8(OpModeABC),
	OpLT:        1<<3 | uint8(OpModeABC),
	OpLE:        1<<3 | uint8(OpModeABC),
	OpTest:      1<<3 | uint8(OpModeABC),
	OpTestSet:   1<<3 | 1<<2 | uint8(OpModeABC),
	OpJmp:       uint8(OpModeAsBx),
	OpCall:      1<<2 | uint8(OpModeABC),
	OpTailCall:  uint8(OpModeABC),
	OpReturn:    uint8(OpModeABC),
	OpForPrep:   1<<2 | uint8(OpModeAsBx),
	OpForLoop:   1<<2 | uint8(OpModeAsBx),
	OpTForCall: uint8(OpModeABC),
	OpTForLoop: 1<<2 | uint8(OpModeABC),
	OpClosure:   1<<2 | uint8(OpModeABx),
	OpClose:     uint8(OpModeABC),
	OpVararg:    1<<2 | uint8(OpModeABC),
	OpNewTable:  1<<2 | uint8(OpModeABC),
	OpSetList:   uint8(OpModeABC),
}

func (op OpCode) props() uint8 {
	if !op.IsValid() {
		return 0
	}
	return opProps[op]
}

// OpMode returns the format of an [Instruction] that uses the opcode.
func (op OpCode) OpMode() OpMode {
	return OpMode(op.props() & 3)
}

// SetsA reports whether an instruction using the opcode
// writes the register named by its A operand.
func (op OpCode) SetsA() bool {
	return op.props()&(1<<2) != 0
}

// IsTest reports whether the instruction is a test;
// in a valid program a test's successor is a jump
// (or, for comparisons materializing booleans, a LOADBOOL pair).
func (op OpCode) IsTest() bool {
	return op.props()&(1<<3) != 0
}

var opNames = [numOpCodes]string{
	OpMove: "MOVE", OpLoadK: "LOADK", OpLoadI: "LOADI",
	OpLoadBool: "LOADBOOL", OpLoadNil: "LOADNIL",
	OpGetGlobal: "GETGLOBAL", OpSetGlobal: "SETGLOBAL",
	OpGetUpval: "GETUPVAL", OpSetUpval: "SETUPVAL",
	OpGetTable: "GETTABLE", OpSetTable: "SETTABLE", OpSelf: "SELF",
	OpAdd: "ADD", OpSub: "SUB", OpMul: "MUL", OpDiv: "DIV",
	OpMod: "MOD", OpPow: "POW", OpIDiv: "IDIV",
	OpBAnd: "BAND", OpBOr: "BOR", OpBXor: "BXOR",
	OpShl: "SHL", OpShr: "SHR",
	OpUnm: "UNM", OpBNot: "BNOT", OpNot: "NOT", OpLen: "LEN",
	OpConcat: "CONCAT",
	OpEq:     "EQ", OpLT: "LT", OpLE: "LE",
	OpTest: "TEST", OpTestSet: "TESTSET", OpJmp: "JMP",
	OpCall: "CALL", OpTailCall: "TAILCALL", OpReturn: "RETURN",
	OpForPrep: "FORPREP", OpForLoop: "FORLOOP",
	OpTForCall: "TFORCALL", OpTForLoop: "TFORLOOP",
	OpClosure: "CLOSURE", OpClose: "CLOSE", OpVararg: "VARARG",
	OpNewTable: "NEWTABLE", OpSetList: "SETLIST",
}

func (op OpCode) String() string {
	if !op.IsValid() {
		return fmt.Sprintf("OpCode(%d)", uint8(op))
	}
	return opNames[op]
}

// ArithmeticOperator returns the [ArithmeticOperator]
// that the instruction represents.
func (op OpCode) ArithmeticOperator() (_ ArithmeticOperator, ok bool) {
	switch {
	case OpAdd <= op && op <= OpShr:
		return Add + ArithmeticOperator(op-OpAdd), true
	case op == OpUnm:
		return UnaryMinus, true
	case op == OpBNot:
		return BitwiseNot, true
	default:
		return 0, false
	}
}
