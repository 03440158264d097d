// Copyright (C) 1994-2025 Lua.org, PUC-Rio.
// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package luacode

import "sort"

// LineEventKind classifies a (pc, line) pair
// and controls when the line hook must fire.
type LineEventKind uint8

// Line event kinds.
const (
	// ExecutionEvent fires when the line differs
	// from the frame's last observed line.
	ExecutionEvent LineEventKind = iota
	// ControlFlowEvent marks a jump target;
	// it fires when the line differs from the last observed line.
	ControlFlowEvent
	// MarkerEvent fires unconditionally
	// (used for statement-leave points such as an "end" keyword).
	MarkerEvent
	// IterationEvent fires unconditionally;
	// loops emit it at their back-edge target
	// so hooks observe every iteration.
	IterationEvent
)

func (k LineEventKind) String() string {
	switch k {
	case ExecutionEvent:
		return "execution"
	case ControlFlowEvent:
		return "control-flow"
	case MarkerEvent:
		return "marker"
	case IterationEvent:
		return "iteration"
	default:
		return "?"
	}
}

// A LineEvent associates an instruction address with a source line.
// Multiple events may share a PC; they are delivered in order.
type LineEvent struct {
	PC   int
	Line int
	Kind LineEventKind
}

// LineAt returns the source line of the instruction at pc,
// or -1 if the prototype has no line information covering pc.
func (f *Prototype) LineAt(pc int) int {
	events := f.LineEvents
	// Find the first event past pc, then walk back
	// to the nearest execution-kind event.
	i := sort.Search(len(events), func(i int) bool {
		return events[i].PC > pc
	})
	for i--; i >= 0; i-- {
		if events[i].Kind == ExecutionEvent {
			return events[i].Line
		}
	}
	return -1
}

// EventsAt returns the events attached to the instruction at pc.
// The returned slice aliases the prototype's event table.
func (f *Prototype) EventsAt(pc int) []LineEvent {
	events := f.LineEvents
	lo := sort.Search(len(events), func(i int) bool {
		return events[i].PC >= pc
	})
	hi := lo
	for hi < len(events) && events[hi].PC == pc {
		hi++
	}
	return events[lo:hi]
}

const (
	// lineDeltaLimit is the largest line delta
	// representable in the packed chunk form.
	lineDeltaLimit = 1<<7 - 1

	// absLineMarker flags packed entries
	// whose line lives in the absolute-line index.
	absLineMarker int8 = -lineDeltaLimit - 1
)

// packedLineInfo is the serialized form of the per-PC line column:
// one signed delta byte per instruction,
// with out-of-range deltas spilled to an absolute index.
type packedLineInfo struct {
	rel []int8
	abs []absLineEntry
}

type absLineEntry struct {
	pc   int
	line int
}

// packLineInfo converts the prototype's execution events
// into the delta + absolute-index form used by binary chunks.
// base is the line the first delta is relative to
// (the function's LineDefined).
func packLineInfo(f *Prototype, base int) packedLineInfo {
	var packed packedLineInfo
	if len(f.LineEvents) == 0 {
		return packed
	}
	prev := base
	sinceAbs := 0
	for pc := range f.Code {
		line := f.LineAt(pc)
		if line < 0 {
			line = prev
		}
		delta := line - prev
		const maxInstructionsWithoutAbs = 128
		if delta > lineDeltaLimit || delta < -lineDeltaLimit || sinceAbs >= maxInstructionsWithoutAbs {
			packed.rel = append(packed.rel, absLineMarker)
			packed.abs = append(packed.abs, absLineEntry{pc: pc, line: line})
			sinceAbs = 1
		} else {
			packed.rel = append(packed.rel, int8(delta))
			sinceAbs++
		}
		prev = line
	}
	return packed
}

// unpackLineInfo reconstructs execution events
// from the packed chunk form.
func unpackLineInfo(packed packedLineInfo, base int) []LineEvent {
	events := make([]LineEvent, 0, len(packed.rel))
	line := base
	absIndex := 0
	for pc, delta := range packed.rel {
		if delta == absLineMarker {
			if absIndex < len(packed.abs) {
				line = packed.abs[absIndex].line
				absIndex++
			}
		} else {
			line += int(delta)
		}
		events = append(events, LineEvent{PC: pc, Line: line, Kind: ExecutionEvent})
	}
	return events
}
