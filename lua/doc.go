// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

// Package lua implements a Lua 5.4 virtual machine.
//
// A [State] holds a global environment and a main thread.
// Chunks compile through [State.Load] (or the internal/luacode package)
// into register-based bytecode executed by a trampolined dispatch loop.
// Coroutines are stackful: each runs on its own goroutine,
// serialized by channel handoff, so at most one runs at a time
// and a yield can suspend any point of the computation —
// including a __close metamethod running during a return.
//
// The package also provides the basic, coroutine, math,
// and debug libraries; see [OpenLibraries].
package lua
