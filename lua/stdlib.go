// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lua

// LoadedTable is the registry key for the table of loaded modules.
const LoadedTable = "_LOADED"

// An Opener builds a library table for [Require].
type Opener func(l *State) (*Table, error)

// Require loads a library once per state:
// the opener runs on first use,
// its table is memoized in the registry's loaded-modules table,
// and (when global is set) bound to a global of the same name.
func Require(l *State, name string, global bool, opener Opener) (*Table, error) {
	loaded, _ := l.Registry().GetField(LoadedTable).(*Table)
	if loaded == nil {
		loaded = NewTable()
		l.Registry().SetField(LoadedTable, loaded)
	}
	if lib, ok := loaded.GetField(name).(*Table); ok {
		return lib, nil
	}

	lib, err := opener(l)
	if err != nil {
		return nil, err
	}
	loaded.SetField(name, lib)
	if global {
		l.Globals().SetField(name, lib)
	}
	return lib, nil
}

// StandardLibraryOptions configures [OpenLibraries].
type StandardLibraryOptions struct {
	Base BaseOptions
	// Filesystem is reserved for io-style libraries layered on top;
	// the core itself does not touch the host filesystem.
	Filesystem Filesystem
}

// A Filesystem is the capability handed to filesystem-facing libraries.
// Paths are opaque to the core.
type Filesystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Exists(path string) bool
}

// OpenLibraries installs the core's standard libraries:
// the basic functions plus coroutine, math, and debug.
func OpenLibraries(l *State, opts *StandardLibraryOptions) error {
	if opts == nil {
		opts = new(StandardLibraryOptions)
	}
	if _, err := Require(l, GName, false, func(l *State) (*Table, error) {
		return OpenBase(l, &opts.Base)
	}); err != nil {
		return err
	}
	libs := map[string]Opener{
		"coroutine": OpenCoroutine,
		"math":      OpenMath,
		"debug":     OpenDebug,
	}
	for name, opener := range libs {
		if _, err := Require(l, name, true, opener); err != nil {
			return err
		}
	}
	return nil
}
