// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"errors"
	"math"
	"slices"
	"sort"

	"lunar.256lights.llc/internal/luacode"
)

// A Table is a Lua table:
// a mapping from non-nil, non-NaN keys to values.
// Entries are kept sorted by key,
// which gives "next" a stable iteration order.
type Table struct {
	id      uint64
	entries []tableEntry
	meta    *Table
}

type tableEntry struct {
	key, value Value
}

// NewTable returns a new empty table.
func NewTable() *Table {
	return &Table{id: nextID()}
}

func newTableCapacity(capacity int) *Table {
	tab := NewTable()
	if capacity > 0 {
		tab.entries = make([]tableEntry, 0, capacity)
	}
	return tab
}

func (tab *Table) valueType() Type { return TypeTable }

// Metatable returns the table's metatable, or nil.
func (tab *Table) Metatable() *Table {
	if tab == nil {
		return nil
	}
	return tab.meta
}

// SetMetatable sets the table's metatable.
func (tab *Table) SetMetatable(meta *Table) {
	tab.meta = meta
}

// normalizeKey folds float keys with integral values
// into the integer subtype,
// so t[1] and t[1.0] address the same slot.
func normalizeKey(key Value) Value {
	if f, ok := key.(Float); ok {
		if i, ok := luacode.FloatToInteger(float64(f), luacode.OnlyIntegral); ok {
			return Integer(i)
		}
	}
	return key
}

func findEntry(entries []tableEntry, key Value) (int, bool) {
	return slices.BinarySearchFunc(entries, key, func(e tableEntry, key Value) int {
		return sortValues(e.key, key)
	})
}

// Get returns the value for a key, or nil. No metamethods fire.
func (tab *Table) Get(key Value) Value {
	if tab == nil {
		return nil
	}
	key = normalizeKey(key)
	i, found := findEntry(tab.entries, key)
	if !found {
		return nil
	}
	return tab.entries[i].value
}

// GetField returns the value for a string key. No metamethods fire.
func (tab *Table) GetField(name string) Value {
	return tab.Get(String(name))
}

// GetIndex returns the value for an integer key. No metamethods fire.
func (tab *Table) GetIndex(i int64) Value {
	return tab.Get(Integer(i))
}

// Set assigns a value to a key. Setting nil removes the entry.
// Nil and NaN keys are errors.
func (tab *Table) Set(key, value Value) error {
	switch k := key.(type) {
	case nil:
		return errors.New("table index is nil")
	case Float:
		if math.IsNaN(float64(k)) {
			return errors.New("table index is NaN")
		}
	}
	key = normalizeKey(key)

	i, found := findEntry(tab.entries, key)
	switch {
	case found && value != nil:
		tab.entries[i].value = value
	case found && value == nil:
		tab.entries = slices.Delete(tab.entries, i, i+1)
	case !found && value != nil:
		tab.entries = slices.Insert(tab.entries, i, tableEntry{key: key, value: value})
	}
	return nil
}

// SetField assigns a value to a string key.
func (tab *Table) SetField(name string, value Value) {
	if err := tab.Set(String(name), value); err != nil {
		panic(err)
	}
}

// setExisting updates or removes the value for an existing key
// and reports whether the key was present.
func (tab *Table) setExisting(key, value Value) bool {
	if tab == nil {
		return false
	}
	key = normalizeKey(key)
	i, found := findEntry(tab.entries, key)
	if !found {
		return false
	}
	if value == nil {
		tab.entries = slices.Delete(tab.entries, i, i+1)
	} else {
		tab.entries[i].value = value
	}
	return true
}

// Len returns a border of the table:
// an n such that t[n] is non-nil and t[n+1] is nil.
// This is the raw "#" operator.
func (tab *Table) Len() Integer {
	if tab == nil {
		return 0
	}
	start, ok := findEntry(tab.entries, Integer(1))
	if !ok {
		return 0
	}

	// Keys beyond len(entries)-start cannot matter:
	// there must be a border before them.
	maxKey := len(tab.entries) - start
	searchSpace := tab.entries[start+1:]
	n := sort.Search(len(searchSpace), func(i int) bool {
		switch k := searchSpace[i].key.(type) {
		case Integer:
			return k > Integer(maxKey)
		case Float:
			return k > Float(maxKey)
		default:
			return true
		}
	})
	searchSpace = searchSpace[:n]
	maxKey = n + 1

	// Binary search the key space for the first i with t[i+1] == nil.
	i := sort.Search(maxKey, func(i int) bool {
		_, found := findEntry(searchSpace, Integer(i)+2)
		return !found
	})
	return Integer(i) + 1
}

// Next returns the key-value pair following key in iteration order.
// A nil key starts the traversal; a nil returned key ends it.
// A key absent from the table continues the traversal
// from the position it would sort into.
// ok is false only when the table is nil and key is not nil.
func (tab *Table) Next(key Value) (nextKey, value Value, ok bool) {
	if tab == nil {
		return nil, nil, key == nil
	}
	if key == nil {
		if len(tab.entries) == 0 {
			return nil, nil, true
		}
		e := tab.entries[0]
		return e.key, e.value, true
	}
	i, found := findEntry(tab.entries, normalizeKey(key))
	if found {
		i++
	} else if i >= len(tab.entries) {
		// The key was removed during traversal;
		// its sort position still tells us where to continue.
		return nil, nil, true
	}
	if i >= len(tab.entries) {
		return nil, nil, true
	}
	e := tab.entries[i]
	return e.key, e.value, true
}
