// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package luacode

import "testing"

func TestInstructionRoundTrip(t *testing.T) {
	t.Run("ABC", func(t *testing.T) {
		inst := ABCInstruction(OpGetTable, 7, 255, 256|31)
		if got := inst.OpCode(); got != OpGetTable {
			t.Errorf("OpCode() = %v; want GETTABLE", got)
		}
		if got := inst.ArgA(); got != 7 {
			t.Errorf("ArgA() = %d; want 7", got)
		}
		if got := inst.ArgB(); got != 255 {
			t.Errorf("ArgB() = %d; want 255", got)
		}
		if got := inst.ArgC(); got != 256|31 {
			t.Errorf("ArgC() = %d; want %d", got, 256|31)
		}
	})

	t.Run("ABx", func(t *testing.T) {
		inst := ABxInstruction(OpLoadK, 3, maxArgBx)
		if got := inst.ArgBx(); got != maxArgBx {
			t.Errorf("ArgBx() = %d; want %d", got, maxArgBx)
		}
	})

	t.Run("AsBx", func(t *testing.T) {
		for _, sbx := range []int32{0, 1, -1, offsetSBx, -offsetSBx} {
			inst := ASBxInstruction(OpJmp, 0, sbx)
			if got := inst.ArgSBx(); got != sbx {
				t.Errorf("ArgSBx() = %d; want %d", got, sbx)
			}
		}
	})
}

func TestRKOperands(t *testing.T) {
	reg := RegisterOperand(41)
	if IsConstantOperand(reg) {
		t.Error("RegisterOperand(41) reads as constant")
	}
	if got := OperandValue(reg); got != 41 {
		t.Errorf("OperandValue = %d; want 41", got)
	}

	k, ok := ConstantOperand(200)
	if !ok {
		t.Fatal("ConstantOperand(200) rejected")
	}
	if !IsConstantOperand(k) {
		t.Error("ConstantOperand(200) reads as register")
	}
	if got := OperandValue(k); got != 200 {
		t.Errorf("OperandValue = %d; want 200", got)
	}

	if _, ok := ConstantOperand(MaxRKIndex + 1); ok {
		t.Error("ConstantOperand accepted out-of-range index")
	}
}

func TestOpCodeProperties(t *testing.T) {
	if !OpMove.SetsA() {
		t.Error("MOVE should set A")
	}
	if OpSetTable.SetsA() {
		t.Error("SETTABLE should not set A")
	}
	if !OpEq.IsTest() || !OpTest.IsTest() {
		t.Error("EQ and TEST are tests")
	}
	if got := OpJmp.OpMode(); got != OpModeAsBx {
		t.Errorf("JMP mode = %v; want AsBx", got)
	}
	for op := OpCode(0); op.IsValid(); op++ {
		if op.OpMode() == 0 {
			t.Errorf("%v has no mode", op)
		}
	}
}
