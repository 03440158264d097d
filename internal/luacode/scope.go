// Copyright (C) 1994-2025 Lua.org, PUC-Rio.
// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package luacode

// A localSymbol is the compile-time record of a local variable.
type localSymbol struct {
	name     string
	register uint8
	scopeID  int
	startPC  int
	// endPC is -1 while the variable is in scope;
	// it is filled exactly once, when the scope ends.
	endPC      int
	isConst    bool
	isClose    bool
	isCaptured bool
}

// A loopContext tracks the innermost enclosing loop
// for "break" resolution.
type loopContext struct {
	scopeID int
	// numActiveAtEntry is the local count when the loop began.
	numActiveAtEntry int
	// breaks collects the JMP addresses of break statements.
	breaks []int
}

// A labelInfo records a "::name::" declaration.
// Labels are function-scoped but their visibility
// is gated by scope ancestry.
type labelInfo struct {
	name    string
	pc      int
	scopeID int
	// numActive is the local count at the label's position.
	// A label that turns out to be the last statement of its block
	// is adjusted down to the block-entry count when the block ends,
	// since nothing after it can use the block's locals —
	// except in repeat blocks, whose scope extends through
	// the "until" condition.
	numActive int
	line      int
}

// A pendingGoto is a forward "goto" awaiting its label.
type pendingGoto struct {
	name    string
	pc      int // address of the placeholder JMP
	scopeID int
	// numActive is the local count at the goto,
	// lowered to each block-entry count as the jump
	// escapes enclosing blocks.
	numActive int
	line      int
}

// A scopeManager tracks a function's lexical scopes:
// active locals in declaration order, the loop stack,
// labels, and unresolved gotos.
type scopeManager struct {
	locals       []localSymbol
	loops        []loopContext
	labels       []labelInfo
	pendingGotos []pendingGoto

	// scopeChain holds the IDs of the active scopes, outermost first.
	scopeChain []int
	// parents maps every scope ID to its parent's ID
	// (-1 for the function scope), for label visibility checks.
	parents map[int]int
	// repeatScopes flags scopes whose condition is still part
	// of the block ("repeat ... until").
	repeatScopes map[int]bool
	nextScopeID  int
}

// scopeSnapshot captures the state restored by endScope.
type scopeSnapshot struct {
	scopeID     int
	numLocals   int
	numGotos    int
	numLabels   int
	firstFreeAt uint8
	isRepeat    bool
}

// exitInfo summarizes a closed scope for the compiler,
// which uses it to emit CLOSE instructions and free registers.
type exitInfo struct {
	// removedLocals are the symbols that went out of scope.
	removedLocals []localSymbol
	// minCloseRegister is the lowest register
	// holding a <close> local, if hasClose.
	minCloseRegister uint8
	hasClose         bool
	// minCapturedRegister is the lowest register
	// holding a captured (non-close) local, if hasCaptured.
	minCapturedRegister uint8
	hasCaptured         bool
}

func newScopeManager() *scopeManager {
	return &scopeManager{
		parents:      map[int]int{0: -1},
		repeatScopes: make(map[int]bool),
		scopeChain:   []int{0},
		nextScopeID:  1,
	}
}

// currentScope returns the innermost active scope ID.
func (sm *scopeManager) currentScope() int {
	return sm.scopeChain[len(sm.scopeChain)-1]
}

// beginScope opens a nested scope and returns its snapshot.
func (sm *scopeManager) beginScope(firstFreeRegister uint8, isRepeat bool) scopeSnapshot {
	id := sm.nextScopeID
	sm.nextScopeID++
	sm.parents[id] = sm.currentScope()
	sm.scopeChain = append(sm.scopeChain, id)
	if isRepeat {
		sm.repeatScopes[id] = true
	}
	return scopeSnapshot{
		scopeID:     id,
		numLocals:   len(sm.locals),
		numGotos:    len(sm.pendingGotos),
		numLabels:   len(sm.labels),
		firstFreeAt: firstFreeRegister,
		isRepeat:    isRepeat,
	}
}

// endScope closes the scope opened by the matching beginScope,
// filling the endPC of every local that dies.
func (sm *scopeManager) endScope(snap scopeSnapshot, endPC int) exitInfo {
	var info exitInfo
	removed := sm.locals[snap.numLocals:]
	for i := range removed {
		sym := &removed[i]
		sym.endPC = endPC
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
	info.removedLocals = append(info.removedLocals, removed...)
	sm.locals = sm.locals[:snap.numLocals]

	// This block's labels die with it.
	sm.labels = sm.labels[:snap.numLabels]

	delete(sm.repeatScopes, snap.scopeID)
	sm.scopeChain = sm.scopeChain[:len(sm.scopeChain)-1]
	return info
}

// declareLocal appends a local symbol.
// Shadowing is allowed: a same-named declaration
// simply appends a new entry found first by lookups.
func (sm *scopeManager) declareLocal(name string, register uint8, startPC int, isConst, isClose bool) *localSymbol {
	sm.locals = append(sm.locals, localSymbol{
		name:     name,
		register: register,
		scopeID:  sm.currentScope(),
		startPC:  startPC,
		endPC:    -1,
		isConst:  isConst,
		isClose:  isClose,
	})
	return &sm.locals[len(sm.locals)-1]
}

// findLocal returns the index of the most recent local named name,
// or -1 if no such local is active.
func (sm *scopeManager) findLocal(name string) int {
	for i := len(sm.locals) - 1; i >= 0; i-- {
		if sm.locals[i].name == name {
			return i
		}
	}
	return -1
}

// numActive returns the number of active locals.
func (sm *scopeManager) numActive() int {
	return len(sm.locals)
}

// isAncestor reports whether scope a is an ancestor of
// (or the same as) scope b.
func (sm *scopeManager) isAncestor(a, b int) bool {
	for ; b >= 0; b = sm.parents[b] {
		if a == b {
			return true
		}
	}
	return false
}

// registerLabel records a label declaration.
// ok is false if a label of the same name
// already exists at the same scope.
func (sm *scopeManager) registerLabel(name string, pc, line int) (ok bool) {
	current := sm.currentScope()
	for _, l := range sm.labels {
		if l.name == name && l.scopeID == current {
			return false
		}
	}
	sm.labels = append(sm.labels, labelInfo{
		name:      name,
		pc:        pc,
		scopeID:   current,
		numActive: len(sm.locals),
		line:      line,
	})
	return true
}

// findVisibleLabel returns the already-declared label
// that a goto in the current scope may target (backward case).
func (sm *scopeManager) findVisibleLabel(name string) (labelInfo, bool) {
	current := sm.currentScope()
	for i := len(sm.labels) - 1; i >= 0; i-- {
		l := sm.labels[i]
		if l.name == name && sm.isAncestor(l.scopeID, current) {
			return l, true
		}
	}
	return labelInfo{}, false
}

// addPendingGoto queues a forward goto for later resolution.
func (sm *scopeManager) addPendingGoto(name string, pc, line int) {
	sm.pendingGotos = append(sm.pendingGotos, pendingGoto{
		name:      name,
		pc:        pc,
		scopeID:   sm.currentScope(),
		numActive: len(sm.locals),
		line:      line,
	})
}

// adjustEndLabels lowers the active-local count of labels
// positioned exactly at the closing block's end:
// nothing follows them, so a jump to them
// does not cross the block's declarations.
// Repeat blocks get no such adjustment,
// because the "until" condition still sees the locals.
func (sm *scopeManager) adjustEndLabels(snap scopeSnapshot, endPC int) {
	if snap.isRepeat {
		return
	}
	for i := snap.numLabels; i < len(sm.labels); i++ {
		if sm.labels[i].pc == endPC {
			sm.labels[i].numActive = snap.numLocals
		}
	}
}

// findBlockLabel finds a label declared directly in the closing block.
func (sm *scopeManager) findBlockLabel(snap scopeSnapshot, name string) (labelInfo, bool) {
	for i := snap.numLabels; i < len(sm.labels); i++ {
		if sm.labels[i].name == name && sm.labels[i].scopeID == snap.scopeID {
			return sm.labels[i], true
		}
	}
	return labelInfo{}, false
}

// escapedGotos returns the still-pending gotos
// that were emitted inside the closing block,
// lowering their active-local counts to the block entry's.
// The returned pointers stay valid until the queue next grows.
func (sm *scopeManager) escapedGotos(snap scopeSnapshot) []*pendingGoto {
	var escaped []*pendingGoto
	for i := snap.numGotos; i < len(sm.pendingGotos); i++ {
		g := &sm.pendingGotos[i]
		if g.numActive > snap.numLocals {
			g.numActive = snap.numLocals
		}
		escaped = append(escaped, g)
	}
	return escaped
}

// pushLoop opens a loop context for break resolution.
func (sm *scopeManager) pushLoop() {
	sm.loops = append(sm.loops, loopContext{
		scopeID:          sm.currentScope(),
		numActiveAtEntry: len(sm.locals),
	})
}

// currentLoop returns the innermost loop context, if any.
func (sm *scopeManager) currentLoop() (*loopContext, bool) {
	if len(sm.loops) == 0 {
		return nil, false
	}
	return &sm.loops[len(sm.loops)-1], true
}

// popLoop closes the innermost loop context
// and returns its pending break jumps.
func (sm *scopeManager) popLoop() []int {
	loop := sm.loops[len(sm.loops)-1]
	sm.loops = sm.loops[:len(sm.loops)-1]
	return loop.breaks
}
