// Copyright (C) 1994-2025 Lua.org, PUC-Rio.
// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"cmp"
	"fmt"
	"slices"

	"lunar.256lights.llc/internal/luasyntax"
)

// An Error is a compile-time failure with source position information.
type Error struct {
	Source Source
	Line   int
	Msg    string
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%v:%d: %s", e.Source, e.Line, e.Msg)
	}
	return fmt.Sprintf("%v: %s", e.Source, e.Msg)
}

// Compile lowers a parsed chunk into a [Prototype].
// The resulting main function is variadic
// and has a single upvalue, "_ENV", bound by the loader.
func Compile(source Source, block *luasyntax.Block) (*Prototype, error) {
	fs := newFuncState(nil, source)
	fs.proto.IsVararg = true
	fs.proto.LineDefined = 0
	fs.proto.LastLineDefined = 0
	fs.proto.Upvalues = []UpvalueDescriptor{{
		Name:    "_ENV",
		InStack: false,
		Index:   0,
		Kind:    RegularVariable,
	}}
	if err := fs.compileFunctionBody(block, block.LastLine); err != nil {
		return nil, err
	}
	return fs.proto, nil
}

// funcState is the mutable state associated with a [Prototype]
// while it is being constructed.
type funcState struct {
	proto *Prototype
	// prev is the enclosing function.
	prev   *funcState
	source Source

	regs registerAllocator
	sm   *scopeManager

	// pendingEvents are line events to attach
	// to the next emitted instruction.
	pendingEvents []LineEvent
	// lastTarget is the address most recently marked as a jump target.
	lastTarget int
}

func newFuncState(prev *funcState, source Source) *funcState {
	return &funcState{
		proto: &Prototype{
			Source:       source,
			MaxStackSize: 2, // registers always available for internal use
		},
		prev:   prev,
		source: source,
		sm:     newScopeManager(),
	}
}

func (fs *funcState) errorf(line int, format string, args ...any) error {
	return &Error{
		Source: fs.source,
		Line:   line,
		Msg:    fmt.Sprintf(format, args...),
	}
}

// here returns the address of the next instruction to be emitted
// and marks it as a jump target.
func (fs *funcState) here() int {
	fs.lastTarget = len(fs.proto.Code)
	return fs.lastTarget
}

// emit appends an instruction tagged with the given source line.
func (fs *funcState) emit(inst Instruction, line int) int {
	pc := len(fs.proto.Code)
	fs.proto.Code = append(fs.proto.Code, inst)
	for _, ev := range fs.pendingEvents {
		ev.PC = pc
		fs.proto.LineEvents = append(fs.proto.LineEvents, ev)
	}
	fs.pendingEvents = fs.pendingEvents[:0]
	fs.proto.LineEvents = append(fs.proto.LineEvents, LineEvent{
		PC:   pc,
		Line: line,
		Kind: ExecutionEvent,
	})
	if int(fs.regs.MaxStackSize()) > int(fs.proto.MaxStackSize) {
		fs.proto.MaxStackSize = fs.regs.MaxStackSize()
	}
	return pc
}

// queueEvent attaches an extra line event
// to the next emitted instruction.
// Queued events are delivered before the instruction's own event.
func (fs *funcState) queueEvent(kind LineEventKind, line int) {
	fs.pendingEvents = append(fs.pendingEvents, LineEvent{Line: line, Kind: kind})
}

// emitJump appends a JMP placeholder and returns its address
// for later patching.
func (fs *funcState) emitJump(line int) int {
	return fs.emit(ASBxInstruction(OpJmp, 0, 0), line)
}

// patchJump retargets the jump at pc to dest.
func (fs *funcState) patchJump(pc, dest int) error {
	offset := dest - (pc + 1)
	if !fitsSBx(int64(offset)) {
		return fs.errorf(fs.proto.LineAt(pc), "control structure too long")
	}
	fs.proto.Code[pc] = fs.proto.Code[pc].WithArgSBx(int32(offset))
	return nil
}

// patchJumpsToHere retargets every jump in the list
// to the next instruction.
func (fs *funcState) patchJumpsToHere(pcs []int) error {
	dest := fs.here()
	for _, pc := range pcs {
		if err := fs.patchJump(pc, dest); err != nil {
			return err
		}
	}
	return nil
}

// constantIndex interns a constant and returns its pool index.
func (fs *funcState) constantIndex(v Value, line int) (int, error) {
	i := fs.proto.addConstant(v)
	if i > maxArgBx {
		return 0, fs.errorf(line, "too many constants")
	}
	return i, nil
}

// enterBlock opens a lexical scope.
func (fs *funcState) enterBlock(isRepeat bool) scopeSnapshot {
	return fs.sm.beginScope(fs.regs.Top(), isRepeat)
}

// leaveBlock closes a lexical scope:
// it resolves gotos that target this block's labels,
// emits the scope's CLOSE instructions,
// routes escaping jumps through a close stub when needed,
// and releases the block's registers.
// suppressCloses is used by compileRepeat,
// which sequences its own closes around the back edge.
func (fs *funcState) leaveBlock(snap scopeSnapshot, suppressCloses bool) error {
	endPC := len(fs.proto.Code)
	fs.sm.adjustEndLabels(snap, endPC)

	matched, err := fs.matchBlockGotos(snap)
	if err != nil {
		return err
	}
	for _, m := range matched {
		if err := fs.patchJump(m.gotoPC, m.labelPC); err != nil {
			return err
		}
	}

	escaped := fs.sm.escapedGotos(snap)
	exit := fs.sm.endScope(snap, endPC)
	fs.proto.LocalVariables = append(fs.proto.LocalVariables, localDebugInfo(exit.removedLocals)...)

	needsClose := exit.hasClose || exit.hasCaptured
	if needsClose && !suppressCloses {
		fs.emitScopeCloses(exit, fs.currentLine())
	}

	// Jumps escaping a block with upvalues or to-be-closed variables
	// detour through a stub that performs the closes.
	if needsClose && len(escaped) > 0 {
		skip := fs.emitJump(fs.currentLine())
		stub := fs.here()
		reg, mode := closeArgs(exit)
		fs.emit(ABCInstruction(OpClose, reg, mode, 0), fs.currentLine())
		redirect := fs.emitJump(fs.currentLine())
		for _, g := range escaped {
			if err := fs.patchJump(g.pc, stub); err != nil {
				return err
			}
			g.pc = redirect
		}
		if err := fs.patchJumpsToHere([]int{skip}); err != nil {
			return err
		}
	}

	fs.regs.FreeTo(snap.firstFreeAt)
	return nil
}

// emitScopeCloses emits the CLOSE instruction for a scope exit.
func (fs *funcState) emitScopeCloses(exit exitInfo, line int) {
	if !exit.hasClose && !exit.hasCaptured {
		return
	}
	reg, mode := closeArgs(exit)
	fs.emit(ABCInstruction(OpClose, reg, mode, 0), line)
}

// closeArgs picks the register floor and mode
// for a scope's CLOSE instruction.
// A scope with <close> locals uses mode 2,
// which also closes the scope's upvalues.
func closeArgs(exit exitInfo) (uint8, uint16) {
	switch {
	case exit.hasClose && exit.hasCaptured:
		return min(exit.minCloseRegister, exit.minCapturedRegister), CloseTBC
	case exit.hasClose:
		return exit.minCloseRegister, CloseTBC
	default:
		return exit.minCapturedRegister, CloseUpvalues
	}
}

// currentLine returns the line of the most recent instruction,
// for instructions synthesized at block boundaries.
func (fs *funcState) currentLine() int {
	if pc := len(fs.proto.Code) - 1; pc >= 0 {
		if line := fs.proto.LineAt(pc); line > 0 {
			return line
		}
	}
	return fs.proto.LineDefined
}

type gotoMatch struct {
	gotoPC  int
	labelPC int
}

// matchBlockGotos resolves pending gotos against the closing block's
// labels, applying the jump-over-local validation.
func (fs *funcState) matchBlockGotos(snap scopeSnapshot) ([]gotoMatch, error) {
	var matches []gotoMatch
	gotos := fs.sm.pendingGotos
	kept := gotos[:snap.numGotos]
	for i := snap.numGotos; i < len(gotos); i++ {
		g := gotos[i]
		label, found := fs.sm.findBlockLabel(snap, g.name)
		if !found {
			kept = append(kept, g)
			continue
		}
		if label.numActive > g.numActive {
			crossed := fs.sm.locals[g.numActive]
			return nil, fs.errorf(g.line, "jump over local '%s'", crossed.name)
		}
		matches = append(matches, gotoMatch{gotoPC: g.pc, labelPC: label.pc})
	}
	fs.sm.pendingGotos = kept
	return matches, nil
}

// localDebugInfo converts dead local symbols into prototype debug records.
func localDebugInfo(symbols []localSymbol) []LocalVariable {
	if len(symbols) == 0 {
		return nil
	}
	out := make([]LocalVariable, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, LocalVariable{
			Name:     sym.name,
			Register: sym.register,
			StartPC:  sym.startPC,
			EndPC:    sym.endPC,
			IsConst:  sym.isConst,
			IsClose:  sym.isClose,
		})
	}
	return out
}

// compileFunctionBody compiles a function's block
// and seals the prototype.
func (fs *funcState) compileFunctionBody(block *luasyntax.Block, endLine int) error {
	snap := fs.enterBlock(false)
	for i := range fs.proto.Parameters {
		fs.sm.declareLocal(fs.proto.Parameters[i], uint8(i), 0, false, false)
	}
	if _, err := fs.regs.AllocateContiguous(int(fs.proto.NumParams)); err != nil {
		return fs.errorf(fs.proto.LineDefined, "%v", err)
	}

	if err := fs.compileBlock(block); err != nil {
		return err
	}
	if err := fs.leaveBlock(snap, true); err != nil {
		return err
	}
	if len(fs.sm.pendingGotos) > 0 {
		g := fs.sm.pendingGotos[0]
		return fs.errorf(g.line, "no visible label '%s' for goto", g.name)
	}

	// Implicit final return. The executor's RETURN runs the frame's
	// remaining closes, so no explicit CLOSE is needed here.
	fs.emit(ABCInstruction(OpReturn, 0, 1, 0), endLine)
	fs.proto.MaxStackSize = max(fs.proto.MaxStackSize, fs.regs.MaxStackSize())

	// Scopes close innermost-first, so re-establish declaration order.
	slices.SortStableFunc(fs.proto.LocalVariables, func(a, b LocalVariable) int {
		return cmp.Compare(a.StartPC, b.StartPC)
	})
	return fs.proto.Validate()
}

// hasActiveTBC reports whether any to-be-closed local
// is currently in scope (which suppresses tail calls).
func (fs *funcState) hasActiveTBC() bool {
	for i := range fs.sm.locals {
		if fs.sm.locals[i].isClose {
			return true
		}
	}
	return false
}
