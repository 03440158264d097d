// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

// Package luacode compiles Lua 5.4 source into prototypes
// for a register-based virtual machine.
//
// The compiler lowers the syntax tree from [luasyntax] in a single pass,
// tracking lexical scopes, upvalue capture in textual order,
// and to-be-closed variables.
// Prototypes serialize to and from a binary chunk format.
package luacode

import (
	"lunar.256lights.llc/internal/luasyntax"
)

// Parse compiles a chunk of Lua source text into a [Prototype].
func Parse(source Source, chunk string) (*Prototype, error) {
	block, err := luasyntax.Parse(source.String(), chunk)
	if err != nil {
		return nil, err
	}
	return Compile(source, block)
}
