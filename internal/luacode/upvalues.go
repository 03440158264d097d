// Copyright (C) 1994-2025 Lua.org, PUC-Rio.
// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package luacode

// This file resolves variable references across nested functions.
// Upvalues are recorded in the order their names are first referenced
// ("textual order") and never re-sorted afterward:
// runtime upvalue identity depends on the indices assigned here.

// variablePlace classifies how a name resolves.
type variablePlace int

const (
	// varGlobal means the name is not a local or upvalue anywhere
	// up the function chain; access goes through _ENV.
	varGlobal variablePlace = iota
	varLocal
	varUpvalue
)

// resolvedVariable is the result of resolving a name.
type resolvedVariable struct {
	place variablePlace
	// index is a register (varLocal) or upvalue index (varUpvalue).
	index uint8
	// isConst and isClose carry the declaration attributes
	// for assignment checking.
	isConst bool
	isClose bool
}

// resolveVariable resolves a name in the current function,
// capturing it as an upvalue from enclosing functions if needed.
func (fs *funcState) resolveVariable(name string, line int) (resolvedVariable, error) {
	if i := fs.sm.findLocal(name); i >= 0 {
		sym := &fs.sm.locals[i]
		return resolvedVariable{
			place:   varLocal,
			index:   sym.register,
			isConst: sym.isConst,
			isClose: sym.isClose,
		}, nil
	}
	idx, found, err := fs.resolveUpvalue(name, line)
	if err != nil {
		return resolvedVariable{}, err
	}
	if !found {
		return resolvedVariable{place: varGlobal}, nil
	}
	desc := fs.proto.Upvalues[idx]
	return resolvedVariable{
		place:   varUpvalue,
		index:   idx,
		isConst: desc.Kind == LocalConst,
		isClose: desc.Kind == ToClose,
	}, nil
}

// searchUpvalue returns the index of an already-recorded upvalue.
func (fs *funcState) searchUpvalue(name string) (uint8, bool) {
	for i := range fs.proto.Upvalues {
		if fs.proto.Upvalues[i].Name == name {
			return uint8(i), true
		}
	}
	return 0, false
}

// resolveUpvalue returns the upvalue index for name,
// creating it (and any intermediate captures up the chain)
// on first reference.
// found is false if the name is not a local or upvalue
// of any enclosing function.
func (fs *funcState) resolveUpvalue(name string, line int) (_ uint8, found bool, _ error) {
	if idx, ok := fs.searchUpvalue(name); ok {
		return idx, true, nil
	}
	if fs.prev == nil {
		return 0, false, nil
	}

	if i := fs.prev.sm.findLocal(name); i >= 0 {
		parent := &fs.prev.sm.locals[i]
		parent.isCaptured = true
		idx, err := fs.addUpvalue(UpvalueDescriptor{
			Name:    name,
			InStack: true,
			Index:   parent.register,
			Kind:    symbolKind(parent),
		}, line)
		return idx, true, err
	}

	parentIdx, found, err := fs.prev.resolveUpvalue(name, line)
	if err != nil || !found {
		return 0, found, err
	}
	idx, err := fs.addUpvalue(UpvalueDescriptor{
		Name:    name,
		InStack: false,
		Index:   parentIdx,
		Kind:    fs.prev.proto.Upvalues[parentIdx].Kind,
	}, line)
	return idx, true, err
}

func (fs *funcState) addUpvalue(desc UpvalueDescriptor, line int) (uint8, error) {
	if len(fs.proto.Upvalues) >= maxUpvalues {
		return 0, fs.errorf(line, "too many upvalues")
	}
	fs.proto.Upvalues = append(fs.proto.Upvalues, desc)
	return uint8(len(fs.proto.Upvalues) - 1), nil
}

func symbolKind(sym *localSymbol) VariableKind {
	switch {
	case sym.isConst:
		return LocalConst
	case sym.isClose:
		return ToClose
	default:
		return RegularVariable
	}
}
