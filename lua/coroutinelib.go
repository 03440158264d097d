// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lua

// OpenCoroutine returns the coroutine library table.
func OpenCoroutine(l *State) (*Table, error) {
	lib := NewTable()
	funcs := map[string]GoFunc{
		"create":      coroutineCreate,
		"resume":      coroutineResume,
		"status":      coroutineStatus,
		"wrap":        coroutineWrap,
		"isyieldable": coroutineIsYieldable,
		"running":     coroutineRunning,
		"close":       coroutineClose,
	}
	for name, f := range funcs {
		lib.SetField(name, NewGoFunction(name, f))
	}

	// yield suspends the running coroutine itself,
	// so it must not count as a native boundary.
	yield := NewGoFunction("yield", coroutineYield)
	yield.yieldTransparent = true
	lib.SetField("yield", yield)
	return lib, nil
}

func coroutineCreate(l *State, args []Value) ([]Value, error) {
	fn, err := CheckFunction(l, "create", args, 1)
	if err != nil {
		return nil, err
	}
	return []Value{l.NewCoroutine(fn)}, nil
}

func coroutineResume(l *State, args []Value) ([]Value, error) {
	co, err := CheckCoroutine(l, "resume", args, 1)
	if err != nil {
		return nil, err
	}
	results, rerr := co.Resume(args[1:]...)
	if rerr != nil {
		return []Value{Boolean(false), errorValue(rerr)}, nil
	}
	return append([]Value{Boolean(true)}, results...), nil
}

func coroutineYield(l *State, args []Value) ([]Value, error) {
	return l.current.Yield(args...)
}

func coroutineStatus(l *State, args []Value) ([]Value, error) {
	co, err := CheckCoroutine(l, "status", args, 1)
	if err != nil {
		return nil, err
	}
	return []Value{String(co.Status().String())}, nil
}

func coroutineWrap(l *State, args []Value) ([]Value, error) {
	fn, err := CheckFunction(l, "wrap", args, 1)
	if err != nil {
		return nil, err
	}
	co := l.NewCoroutine(fn)
	wrapper := NewGoFunction("wrap", func(l *State, args []Value) ([]Value, error) {
		results, err := co.Resume(args...)
		if err != nil {
			return nil, err
		}
		return results, nil
	})
	return []Value{wrapper}, nil
}

func coroutineIsYieldable(l *State, args []Value) ([]Value, error) {
	return []Value{Boolean(l.IsYieldable())}, nil
}

func coroutineRunning(l *State, args []Value) ([]Value, error) {
	co, isMain := l.CurrentCoroutine()
	return []Value{co, Boolean(isMain)}, nil
}

func coroutineClose(l *State, args []Value) ([]Value, error) {
	co, err := CheckCoroutine(l, "close", args, 1)
	if err != nil {
		return nil, err
	}
	if cerr := co.Close(); cerr != nil {
		return []Value{Boolean(false), errorValue(cerr)}, nil
	}
	return []Value{Boolean(true)}, nil
}
