// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"math/rand"
	"testing"
)

func TestRegisterAllocatorLIFO(t *testing.T) {
	var ra registerAllocator
	r0, err := ra.AllocateTemp()
	if err != nil {
		t.Fatal(err)
	}
	r1, err := ra.AllocateTemp()
	if err != nil {
		t.Fatal(err)
	}
	if r0 != 0 || r1 != 1 {
		t.Errorf("AllocateTemp() = %d, %d; want 0, 1", r0, r1)
	}
	ra.FreeTemp(r1)
	ra.FreeTemp(r0)
	if got := ra.Top(); got != 0 {
		t.Errorf("Top() = %d after frees; want 0", got)
	}
	if got := ra.MaxStackSize(); got != 2 {
		t.Errorf("MaxStackSize() = %d; want 2", got)
	}
}

func TestRegisterAllocatorOutOfOrderFree(t *testing.T) {
	var ra registerAllocator
	r0, _ := ra.AllocateTemp()
	if _, err := ra.AllocateTemp(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Error("FreeTemp out of order did not panic")
		}
	}()
	ra.FreeTemp(r0)
}

func TestRegisterAllocatorLimit(t *testing.T) {
	var ra registerAllocator
	if _, err := ra.AllocateContiguous(maxRegisters); err != nil {
		t.Fatalf("AllocateContiguous(%d): %v", maxRegisters, err)
	}
	if _, err := ra.AllocateTemp(); err == nil {
		t.Error("AllocateTemp beyond limit did not fail")
	}
}

// TestRegisterAllocatorProperty checks the LIFO invariant:
// for any valid sequence of allocations and frees,
// the high-water mark equals the historical maximum of the top,
// and a fully unwound allocator returns to zero.
func TestRegisterAllocatorProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(0x1dea))
	for trial := 0; trial < 100; trial++ {
		var ra registerAllocator
		type allocation struct {
			first uint8
			n     int
		}
		var stack []allocation
		historicalMax := 0

		for step := 0; step < 200; step++ {
			if len(stack) == 0 || rng.Intn(2) == 0 {
				n := 1 + rng.Intn(4)
				if int(ra.Top())+n > maxRegisters {
					continue
				}
				first, err := ra.AllocateContiguous(n)
				if err != nil {
					t.Fatalf("trial %d: %v", trial, err)
				}
				stack = append(stack, allocation{first: first, n: n})
				if top := int(ra.Top()); top > historicalMax {
					historicalMax = top
				}
			} else {
				a := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				ra.FreeContiguous(a.first, a.n)
			}
		}
		for len(stack) > 0 {
			a := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			ra.FreeContiguous(a.first, a.n)
		}

		if got := int(ra.MaxStackSize()); got != historicalMax {
			t.Errorf("trial %d: MaxStackSize() = %d; want %d", trial, got, historicalMax)
		}
		if got := ra.Top(); got != 0 {
			t.Errorf("trial %d: Top() = %d after unwind; want 0", trial, got)
		}
	}
}

func TestWithTempReleasesOnError(t *testing.T) {
	var ra registerAllocator
	errExpected := ra.WithTemp(func(r uint8) error {
		return errTooManyRegisters
	})
	if errExpected == nil {
		t.Fatal("WithTemp swallowed error")
	}
	if got := ra.Top(); got != 0 {
		t.Errorf("Top() = %d after failed WithTemp; want 0", got)
	}
}
