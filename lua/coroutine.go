// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"errors"
)

// CoroutineStatus describes a coroutine's lifecycle state.
type CoroutineStatus int

// Coroutine statuses.
const (
	StatusSuspended CoroutineStatus = iota
	StatusRunning
	StatusNormal
	StatusDead
)

func (s CoroutineStatus) String() string {
	switch s {
	case StatusSuspended:
		return "suspended"
	case StatusRunning:
		return "running"
	case StatusNormal:
		return "normal"
	case StatusDead:
		return "dead"
	default:
		return "?"
	}
}

// A Coroutine is a first-class suspendable computation
// with its own call stack.
// The engine is stackful: each coroutine runs on its own goroutine,
// handing control back and forth over channels,
// so a yield may occur anywhere a Lua frame is active —
// including inside a __close metamethod running during a return,
// whose pending state simply stays on the suspended stack.
//
// Exactly one coroutine of a [State] runs at a time;
// the channel handoff serializes all execution.
type Coroutine struct {
	id     uint64
	state  *State
	status CoroutineStatus
	body   *Function

	callStack []*frame
	// nativeDepth counts native frames that are not yield-transparent;
	// yielding across one is an error.
	nativeDepth int
	resumer     *Coroutine
	started     bool
	resumeCh    chan resumeMsg
	yieldCh     chan yieldMsg

	hook hookState
}

type resumeMsg struct {
	values []Value
	// kill unwinds the coroutine instead of resuming it.
	kill bool
}

type yieldMsg struct {
	values []Value
	err    error
	done   bool
}

// errCoroutineClosed unwinds a killed coroutine's stack
// so that pending to-be-closed variables still run.
var errCoroutineClosed = errors.New("coroutine closed")

func newMainCoroutine(l *State) *Coroutine {
	return &Coroutine{
		id:     nextID(),
		state:  l,
		status: StatusRunning,
	}
}

// NewCoroutine creates a suspended coroutine that will run body.
func (l *State) NewCoroutine(body *Function) *Coroutine {
	return &Coroutine{
		id:       nextID(),
		state:    l,
		status:   StatusSuspended,
		body:     body,
		resumeCh: make(chan resumeMsg),
		yieldCh:  make(chan yieldMsg),
	}
}

func (co *Coroutine) valueType() Type { return TypeThread }

// Status returns the coroutine's current status.
func (co *Coroutine) Status() CoroutineStatus { return co.status }

// IsMain reports whether this is the state's main thread.
func (co *Coroutine) IsMain() bool { return co == co.state.main }

// CurrentCoroutine returns the running coroutine
// and whether it is the main thread.
func (l *State) CurrentCoroutine() (*Coroutine, bool) {
	return l.current, l.current == l.main
}

// Resume transfers control to a suspended coroutine.
// It returns the values passed to the coroutine's next yield,
// or its final results, or the error that killed it.
func (co *Coroutine) Resume(args ...Value) ([]Value, error) {
	l := co.state
	switch co.status {
	case StatusDead:
		return nil, errors.New("cannot resume dead coroutine")
	case StatusRunning, StatusNormal:
		return nil, errors.New("cannot resume non-suspended coroutine")
	}

	caller := l.current
	caller.status = StatusNormal
	co.resumer = caller
	co.status = StatusRunning
	l.current = co

	if !co.started {
		co.started = true
		go co.run(args)
	} else {
		co.resumeCh <- resumeMsg{values: args}
	}
	msg := <-co.yieldCh

	l.current = caller
	caller.status = StatusRunning
	if msg.done {
		co.status = StatusDead
		return msg.values, msg.err
	}
	co.status = StatusSuspended
	return msg.values, nil
}

// run is the coroutine goroutine's body.
func (co *Coroutine) run(args []Value) {
	results, err := co.call(co.body, args)
	co.yieldCh <- yieldMsg{values: results, err: err, done: true}
}

// Yield suspends the running coroutine,
// handing values to its resumer,
// and returns the arguments of the next resume.
func (co *Coroutine) Yield(values ...Value) ([]Value, error) {
	if co.IsMain() || !co.started {
		return nil, errors.New("attempt to yield from outside a coroutine")
	}
	if co.nativeDepth > 0 {
		return nil, errors.New("attempt to yield across a metamethod/C-call boundary")
	}
	co.yieldCh <- yieldMsg{values: values}
	msg := <-co.resumeCh
	if msg.kill {
		return nil, errCoroutineClosed
	}
	return msg.values, nil
}

// IsYieldable reports whether a yield at this point would succeed.
func (l *State) IsYieldable() bool {
	return l.current != l.main && l.current.nativeDepth == 0
}

// Close kills a suspended coroutine,
// unwinding its stack so pending to-be-closed variables run.
// It returns the error of a failing __close, if any.
func (co *Coroutine) Close() error {
	switch co.status {
	case StatusDead:
		return nil
	case StatusRunning, StatusNormal:
		return errors.New("cannot close a running coroutine")
	}
	if !co.started {
		co.status = StatusDead
		return nil
	}

	l := co.state
	caller := l.current
	caller.status = StatusNormal
	l.current = co
	co.status = StatusRunning
	co.resumeCh <- resumeMsg{kill: true}
	msg := <-co.yieldCh
	l.current = caller
	caller.status = StatusRunning
	co.status = StatusDead

	if msg.err != nil && !errors.Is(msg.err, errCoroutineClosed) {
		return msg.err
	}
	return nil
}
